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

// Package secret fetches passwords and API tokens kept outside of the
// heronadmin config file.
package secret

import (
	"errors"
	"fmt"

	"github.com/kumc-bmi/heronadmin/config"
	"github.com/tideland/golib/logger"
)

// DefaultPathPrefix is where secrets live when vault path_prefix isn't set.
const DefaultPathPrefix = "secret/heronadmin"

// ErrNotFound means there's no such secret.
var ErrNotFound = errors.New("secret not found")

// Source gets the value stored under key in the named secret, like the
// "password" of "eav".
type Source interface {
	Get(name, key string) (string, error)
}

// Configure sets up the secret store described by vc.
func Configure(vc config.VaultConf) (Source, error) {
	// will be a switch here for the type of secret backend
	return configureVault(vc)
}

type target struct {
	name, key string
	dst       *string
}

func targets(conf *config.Conf) []target {
	return []target{
		{"directory", "password", &conf.Directory.Password},
		{"eav", "password", &conf.EAV.Password},
		{"pm", "password", &conf.PM.Password},
		{"mail", "password", &conf.Mail.Password},
		{"oversight", "token", &conf.Oversight.Token},
		{"saa", "token", &conf.SAA.Token},
		{"disclaimers", "token", &conf.Disclaimers.Token},
		{"acknowledgements", "token", &conf.Acknowledgements.Token},
	}
}

// Apply fills in conf's passwords and tokens from s. A secret s doesn't
// have leaves whatever the config file said in place.
func Apply(conf *config.Conf, s Source) error {
	for _, t := range targets(conf) {
		v, err := s.Get(t.name, t.key)
		if err == ErrNotFound {
			logger.Debugf("no %s secret for %s, using the config file", t.key, t.name)
			continue
		}
		if err != nil {
			return fmt.Errorf("fetching %s for %s: %s", t.key, t.name, err.Error())
		}
		*t.dst = v
	}
	return nil
}
