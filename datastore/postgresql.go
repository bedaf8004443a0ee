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

// Postgres specific functions for heronadmin database work.

package datastore

import (
	"errors"
	"fmt"
	"strings"

	"github.com/kumc-bmi/heronadmin/config"
	"github.com/lib/pq"
)

func formatPostgresqlConStr(params config.DBConf) string {
	var conParams []string

	if params.User != "" {
		cu := fmt.Sprintf("user=%s", params.User)
		conParams = append(conParams, cu)
	}
	if params.Password != "" {
		cp := fmt.Sprintf("password=%s", params.Password)
		conParams = append(conParams, cp)
	}
	if params.Host != "" {
		cp := fmt.Sprintf("host=%s", params.Host)
		conParams = append(conParams, cp)
	}
	if params.Port != "" {
		cp := fmt.Sprintf("port=%s", params.Port)
		conParams = append(conParams, cp)
	}
	if params.Database != "" {
		cp := fmt.Sprintf("dbname=%s", params.Database)
		conParams = append(conParams, cp)
	}
	if params.SSLMode != "" {
		cp := fmt.Sprintf("sslmode=%s", params.SSLMode)
		conParams = append(conParams, cp)
	}

	constr := strings.Join(conParams, " ")

	return constr
}

func postgresUniqueViolation(err error) bool {
	var perr *pq.Error
	if errors.As(err, &perr) {
		return perr.Code == "23505"
	}
	return false
}

func postgresOperational(err error) bool {
	var perr *pq.Error
	if errors.As(err, &perr) {
		// class 08 is connection exceptions, 40001/40P01 are
		// serialization failures and deadlocks, 57P01 is admin shutdown
		c := string(perr.Code)
		return strings.HasPrefix(c, "08") || c == "40001" || c == "40P01" || c == "57P01"
	}
	return false
}
