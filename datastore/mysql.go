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

// MySQL specific functions for heronadmin database work.

package datastore

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"sort"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/kumc-bmi/heronadmin/config"
)

// MySQL error numbers we care about.
const (
	mysqlDupEntry        = 1062
	mysqlLockWaitTimeout = 1205
	mysqlDeadlock        = 1213
	mysqlServerGone      = 2006
	mysqlServerLost      = 2013
)

func formatMysqlConStr(params config.DBConf) (string, error) {
	var (
		userpass      string
		protocol      string
		address       string
		dbname        string
		extraParamStr string
	)
	var extraParams []string
	if params.Database == "" {
		err := fmt.Errorf("no database name specified")
		return "", err
	}
	dbname = params.Database
	if params.User != "" {
		if params.Password != "" {
			userpass = fmt.Sprintf("%s:%s@", params.User, params.Password)
		} else {
			userpass = fmt.Sprintf("%s@", params.User)
		}
	}
	protocol = params.Protocol
	if params.Host != "" {
		if protocol == "" {
			protocol = "tcp"
		}
		var addr string
		if !strings.HasPrefix(protocol, "unix") {
			port := params.Port
			if port == "" {
				port = "3306"
			}
			addr = net.JoinHostPort(params.Host, port)
		} else {
			addr = params.Host
		}
		address = fmt.Sprintf("(%s)", addr)
	}
	// scan timestamps into time.Time
	extra := map[string]string{"parseTime": "true"}
	for k, v := range params.Extra {
		extra[k] = v
	}
	for k, v := range extra {
		escVal := url.QueryEscape(v)
		extraParams = append(extraParams, fmt.Sprintf("%s=%s", k, escVal))
	}
	sort.Strings(extraParams)
	if len(extraParams) != 0 {
		extraParamStr = fmt.Sprintf("?%s", strings.Join(extraParams, "&"))
	}
	connStr := fmt.Sprintf("%s%s%s/%s%s", userpass, protocol, address, dbname, extraParamStr)
	return connStr, nil
}

func mysqlUniqueViolation(err error) bool {
	var merr *mysql.MySQLError
	if errors.As(err, &merr) {
		return merr.Number == mysqlDupEntry
	}
	return false
}

func mysqlOperational(err error) bool {
	if errors.Is(err, mysql.ErrInvalidConn) {
		return true
	}
	var merr *mysql.MySQLError
	if errors.As(err, &merr) {
		switch merr.Number {
		case mysqlLockWaitTimeout, mysqlDeadlock, mysqlServerGone, mysqlServerLost:
			return true
		}
	}
	return false
}
