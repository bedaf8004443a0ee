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

package i2b2pm

import (
	"context"

	"github.com/kumc-bmi/heronadmin/datastore"
)

// Schema returns the DDL for the parts of the i2b2 PM cell used here.
func Schema(d datastore.Dialect) []string {
	ts := "TIMESTAMP NULL"
	if d != datastore.MySQL {
		ts = "TIMESTAMP"
	}
	return []string{
		`CREATE TABLE pm_user_data (
	user_id VARCHAR(50) NOT NULL PRIMARY KEY,
	full_name VARCHAR(255),
	password VARCHAR(255),
	email VARCHAR(255),
	entry_date ` + ts + `,
	change_date ` + ts + `,
	changeby_char VARCHAR(50),
	status_cd CHAR(1)
)`,
		`CREATE TABLE pm_project_user_roles (
	project_id VARCHAR(50) NOT NULL,
	user_id VARCHAR(50) NOT NULL,
	user_role_cd VARCHAR(255) NOT NULL,
	entry_date ` + ts + `,
	change_date ` + ts + `,
	changeby_char VARCHAR(50),
	status_cd CHAR(1),
	PRIMARY KEY (project_id, user_id, user_role_cd)
)`,
		`CREATE TABLE pm_user_session (
	user_id VARCHAR(50) NOT NULL,
	session_id VARCHAR(50) NOT NULL,
	expired_date ` + ts + `,
	entry_date ` + ts + `,
	change_date ` + ts + `,
	changeby_char VARCHAR(50),
	PRIMARY KEY (session_id, user_id)
)`,
	}
}

// CreateSchema runs the DDL from Schema against db.
func CreateSchema(ctx context.Context, db datastore.Dbhandle, d datastore.Dialect) error {
	for _, stmt := range Schema(d) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return datastore.Operational(err)
		}
	}
	return nil
}
