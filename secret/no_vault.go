// +build novault

/*
 * Copyright (c) 2013-2019, Jeremy Bingham (<jeremy@goiardi.gl>)
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package secret

import (
	"errors"

	"github.com/kumc-bmi/heronadmin/config"
)

// This file exists solely for the case where packaging vault and all its
// dependencies is enough of an ordeal that it's better left out. To do this,
// add "-tags 'novault'" to the build command.

var errNoVault = errors.New("Tried to use secrets, but this version of heronadmin was compiled without vault support.")

func configureVault(vc config.VaultConf) (Source, error) {
	return nil, errNoVault
}
