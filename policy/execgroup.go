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

package policy

import (
	"context"

	"github.com/kumc-bmi/heronadmin/datastore"
)

// ExecGroup reads the exec_group table.
type ExecGroup struct {
	db      datastore.Dbhandle
	dialect datastore.Dialect
}

// NewExecGroup reads executives from db.
func NewExecGroup(db datastore.Dbhandle, d datastore.Dialect) *ExecGroup {
	return &ExecGroup{db: db, dialect: d}
}

// Active reports whether cn is in the executive group with status A.
func (x *ExecGroup) Active(ctx context.Context, cn string) (bool, error) {
	var n int
	row := x.db.QueryRowContext(ctx, x.dialect.Rebind("SELECT COUNT(*) FROM exec_group WHERE user_id = ? AND status = 'A'"), cn)
	if err := row.Scan(&n); err != nil {
		return false, datastore.Operational(err)
	}
	return n > 0, nil
}

// Add puts cn in the executive group with the given status.
func (x *ExecGroup) Add(ctx context.Context, cn, status string) error {
	_, err := x.db.ExecContext(ctx, x.dialect.Rebind("INSERT INTO exec_group (user_id, status) VALUES (?, ?)"), cn, status)
	return datastore.Operational(err)
}
