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

// General functions for heronadmin database connections. Database engine
// specific functions are in their respective source files.

package datastore

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/kumc-bmi/heronadmin/config"
	"github.com/kumc-bmi/heronadmin/gerror"
)

// Format to use for dates and times for MySQL.
const MySQLTimeFormat = "2006-01-02 15:04:05"

// Dbhandle is an interface for db handle types that can execute queries.
// Both *sql.DB and *sql.Tx satisfy it.
type Dbhandle interface {
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// Beginner is a Dbhandle that can start transactions.
type Beginner interface {
	Dbhandle
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// ResRow is an interface for rows returned by Query, or a single row returned by
// QueryRow. Used for passing in a db handle or a transaction to a function.
type ResRow interface {
	Scan(dest ...interface{}) error
}

// Dialect is the flavor of SQL a database speaks.
type Dialect int

// The supported dialects.
const (
	MySQL Dialect = iota
	PostgreSQL
	SQLite
)

func (d Dialect) String() string {
	switch d {
	case MySQL:
		return "mysql"
	case PostgreSQL:
		return "postgres"
	case SQLite:
		return "sqlite"
	}
	return "unknown"
}

// DB is an open database together with its dialect.
type DB struct {
	*sql.DB
	Dialect Dialect
}

// ConnectDB connects to a database described by a DBConf. Currently supports
// MySQL, PostgreSQL, and SQLite.
func ConnectDB(c config.DBConf) (*DB, error) {
	driver, dsn, err := DataSource(c)
	if err != nil {
		return nil, err
	}
	dialect, err := ParseDialect(driver)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(dialect.driverName(), dsn)
	if err != nil {
		return nil, err
	}
	if err = db.Ping(); err != nil {
		db.Close()
		return nil, gerror.Wrap(gerror.OperationalError, err)
	}
	if c.PoolSize != 0 {
		db.SetMaxIdleConns(c.PoolSize)
	}
	if c.MaxConn != 0 {
		db.SetMaxOpenConns(c.MaxConn)
	}
	if dialect == SQLite {
		// one connection, or each :memory: connection gets its own db
		db.SetMaxOpenConns(1)
	}
	return &DB{DB: db, Dialect: dialect}, nil
}

// ParseDialect maps a driver or URL scheme name to a Dialect.
func ParseDialect(name string) (Dialect, error) {
	switch strings.ToLower(name) {
	case "mysql", "mysql+mysqldb":
		return MySQL, nil
	case "postgres", "postgresql":
		return PostgreSQL, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	}
	return 0, gerror.Errorf(gerror.Configuration, "cannot connect to database: unsupported database type %s", name)
}

func (d Dialect) driverName() string {
	return d.String()
}

// DataSource works out the driver name and data source string for a
// DBConf. An engine URL wins over the discrete options.
func DataSource(c config.DBConf) (string, string, error) {
	if c.Engine != "" {
		return parseEngineURL(c.Engine)
	}
	driver := c.Driver
	if driver == "" {
		if c.File != "" {
			driver = "sqlite"
		} else {
			driver = "mysql"
		}
	}
	d, err := ParseDialect(driver)
	if err != nil {
		return "", "", err
	}
	switch d {
	case MySQL:
		s, err := formatMysqlConStr(c)
		return d.String(), s, err
	case PostgreSQL:
		return d.String(), formatPostgresqlConStr(c), nil
	default:
		return d.String(), formatSqliteConStr(c), nil
	}
}

// parseEngineURL takes URLs like mysql://u:p@host:3306/redcap,
// postgres://host/db?sslmode=disable, sqlite:///var/lib/heron.db or
// sqlite://:memory:.
func parseEngineURL(engine string) (string, string, error) {
	if strings.HasPrefix(engine, "sqlite:") {
		f := strings.TrimPrefix(strings.TrimPrefix(engine, "sqlite:"), "//")
		return SQLite.String(), formatSqliteConStr(config.DBConf{File: f}), nil
	}
	u, err := url.Parse(engine)
	if err != nil {
		return "", "", gerror.Errorf(gerror.Configuration, "bad database engine URL: %s", err.Error())
	}
	d, err := ParseDialect(u.Scheme)
	if err != nil {
		return "", "", err
	}
	c := config.DBConf{
		Host:     u.Hostname(),
		Port:     u.Port(),
		Database: strings.TrimPrefix(u.Path, "/"),
		Extra:    make(map[string]string),
	}
	if u.User != nil {
		c.User = u.User.Username()
		c.Password, _ = u.User.Password()
	}
	for k, v := range u.Query() {
		if k == "sslmode" {
			c.SSLMode = v[0]
			continue
		}
		c.Extra[k] = v[0]
	}
	switch d {
	case MySQL:
		if c.Host != "" {
			c.Protocol = "tcp"
		}
		s, err := formatMysqlConStr(c)
		return d.String(), s, err
	case PostgreSQL:
		return d.String(), formatPostgresqlConStr(c), nil
	default:
		return d.String(), formatSqliteConStr(c), nil
	}
}

// Rebind rewrites the ? placeholders in a query for the dialect. Only
// PostgreSQL needs it.
func (d Dialect) Rebind(query string) string {
	if d != PostgreSQL {
		return query
	}
	var b strings.Builder
	n := 0
	inQuote := false
	for _, r := range query {
		switch {
		case r == '\'':
			inQuote = !inQuote
			b.WriteRune(r)
		case r == '?' && !inQuote:
			n++
			b.WriteString("$")
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Placeholders returns n comma separated ? placeholders.
func Placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// Now is the SQL expression for the current timestamp.
func (d Dialect) Now() string {
	if d == SQLite {
		return "CURRENT_TIMESTAMP"
	}
	return "NOW()"
}

// IsUniqueViolation reports whether err came from a unique or primary key
// constraint.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	return mysqlUniqueViolation(err) || postgresUniqueViolation(err) || sqliteUniqueViolation(err)
}

// Operational wraps err as an OperationalError if it looks like the
// database is unavailable rather than the query being wrong.
func Operational(err error) error {
	if err == nil {
		return nil
	}
	if gerror.KindOf(err) == gerror.OperationalError {
		return err
	}
	if err == sql.ErrConnDone || isBadConn(err) || mysqlOperational(err) || postgresOperational(err) || sqliteOperational(err) {
		return gerror.Wrap(gerror.OperationalError, err)
	}
	return err
}

// InTx runs f in a transaction, committing if it returns nil and rolling
// back otherwise.
func InTx(ctx context.Context, db Beginner, f func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return Operational(err)
	}
	if err = f(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err = tx.Commit(); err != nil {
		return Operational(err)
	}
	return nil
}

func formatSqliteConStr(c config.DBConf) string {
	f := c.File
	if f == "" {
		f = c.Database
	}
	if f == "" || f == ":memory:" {
		return ":memory:"
	}
	return fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)", f)
}

func isBadConn(err error) bool {
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}
	var nerr net.Error
	return errors.As(err, &nerr)
}
