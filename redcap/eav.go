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

// Package redcap reads and writes REDCap's entity-attribute-value table,
// redcap_data, and the survey tables around it.
//
// REDCap keeps each project's records "long and skinny": one row per
// (project_id, event_id, record, field_name). An Unpivot turns a list of
// field names back into one row per record by joining redcap_data to itself
// once per field.
package redcap

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/kumc-bmi/heronadmin/datastore"
	"github.com/kumc-bmi/heronadmin/gerror"
)

// RecordKey names the record column in Conds.
const RecordKey = "record"

// Unpivot describes a row-modeled view of an EAV project. Rows lacking
// any of the fields are left out.
type Unpivot struct {
	ProjectID  int
	Fields     []string
	WithRecord bool
}

// Cond restricts an unpivot. Field is one of the unpivot's fields, or
// RecordKey. Op defaults to "=".
type Cond struct {
	Field string
	Op    string
	Value interface{}
}

// Eq is shorthand for an equality Cond.
func Eq(field string, value interface{}) Cond {
	return Cond{Field: field, Op: "=", Value: value}
}

// Row is one record's values.
type Row struct {
	Record string
	Values map[string]string
}

// Get returns a field's value.
func (r Row) Get(field string) string {
	return r.Values[field]
}

var allowedOps = map[string]bool{"=": true, "<>": true, "<": true, ">": true, "<=": true, ">=": true, "LIKE": true}

// SQL builds the query and its arguments, with ? placeholders. Selected
// columns are the record (if WithRecord) and then the fields, in order.
func (u Unpivot) SQL(conds ...Cond) (string, []interface{}, error) {
	if len(u.Fields) == 0 {
		return "", nil, gerror.New(gerror.Other, "unpivot needs at least one field")
	}
	if u.ProjectID <= 0 {
		return "", nil, gerror.Errorf(gerror.Other, "unpivot needs a project id, got %d", u.ProjectID)
	}
	alias := make(map[string]string, len(u.Fields))
	for i, f := range u.Fields {
		if _, dup := alias[f]; dup {
			return "", nil, gerror.Errorf(gerror.Other, "field %s listed twice", f)
		}
		alias[f] = fmt.Sprintf("j%d", i)
	}

	var cols []string
	if u.WithRecord {
		cols = append(cols, "j0.record")
	}
	for i := range u.Fields {
		cols = append(cols, fmt.Sprintf("j%d.value", i))
	}

	var b strings.Builder
	var args []interface{}
	fmt.Fprintf(&b, "SELECT DISTINCT %s FROM redcap_data j0", strings.Join(cols, ", "))
	for i := 1; i < len(u.Fields); i++ {
		a := fmt.Sprintf("j%d", i)
		prev := fmt.Sprintf("j%d", i-1)
		fmt.Fprintf(&b, " JOIN redcap_data %s ON %s.project_id = %s.project_id AND %s.record = %s.record AND %s.field_name = ?",
			a, a, prev, a, prev, a)
		args = append(args, u.Fields[i])
	}
	b.WriteString(" WHERE j0.project_id = ? AND j0.field_name = ?")
	args = append(args, u.ProjectID, u.Fields[0])
	for _, c := range conds {
		op := strings.ToUpper(c.Op)
		if op == "" {
			op = "="
		}
		if !allowedOps[op] {
			return "", nil, gerror.Errorf(gerror.Other, "unsupported operator %s", c.Op)
		}
		var col string
		if c.Field == RecordKey {
			col = "j0.record"
		} else if a, ok := alias[c.Field]; ok {
			col = a + ".value"
		} else {
			return "", nil, gerror.Errorf(gerror.Other, "condition on %s, which isn't in the unpivot", c.Field)
		}
		fmt.Fprintf(&b, " AND %s %s ?", col, op)
		args = append(args, c.Value)
	}
	b.WriteString(" ORDER BY j0.record")
	for i := range u.Fields {
		fmt.Fprintf(&b, ", j%d.value", i)
	}
	return b.String(), args, nil
}

// Store reads and writes the EAV tables.
type Store struct {
	db      datastore.Beginner
	dialect datastore.Dialect
}

// NewStore wraps an open database.
func NewStore(db *datastore.DB) *Store {
	return &Store{db: db, dialect: db.Dialect}
}

// NewStoreWith makes a store over any handle that can begin transactions.
func NewStoreWith(db datastore.Beginner, d datastore.Dialect) *Store {
	return &Store{db: db, dialect: d}
}

// DB returns the store's handle.
func (s *Store) DB() datastore.Beginner {
	return s.db
}

// Dialect returns the store's SQL dialect.
func (s *Store) Dialect() datastore.Dialect {
	return s.dialect
}

// Rows runs an unpivot and returns its rows.
func (s *Store) Rows(ctx context.Context, u Unpivot, conds ...Cond) ([]Row, error) {
	return s.RowsIn(ctx, s.db, u, conds...)
}

// RowsIn runs an unpivot with the given handle, which may be a
// transaction.
func (s *Store) RowsIn(ctx context.Context, q datastore.Dbhandle, u Unpivot, conds ...Cond) ([]Row, error) {
	query, args, err := u.SQL(conds...)
	if err != nil {
		return nil, err
	}
	rows, err := q.QueryContext(ctx, s.dialect.Rebind(query), args...)
	if err != nil {
		return nil, datastore.Operational(err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		vals := make([]sql.NullString, len(u.Fields))
		dest := make([]interface{}, 0, len(u.Fields)+1)
		var rec string
		if u.WithRecord {
			dest = append(dest, &rec)
		}
		for i := range vals {
			dest = append(dest, &vals[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		r := Row{Record: rec, Values: make(map[string]string, len(u.Fields))}
		for i, f := range u.Fields {
			r.Values[f] = vals[i].String
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, datastore.Operational(err)
	}
	return out, nil
}

// PutRecord stores fields for a record, one redcap_data row per non-empty
// value, in a single transaction.
func (s *Store) PutRecord(ctx context.Context, projectID, eventID int, record string, fields map[string]string) error {
	return datastore.InTx(ctx, s.db, func(tx *sql.Tx) error {
		return s.PutRecordIn(ctx, tx, projectID, eventID, record, fields)
	})
}

// PutRecordIn is PutRecord using an existing handle or transaction.
func (s *Store) PutRecordIn(ctx context.Context, q datastore.Dbhandle, projectID, eventID int, record string, fields map[string]string) error {
	names := make([]string, 0, len(fields))
	for f := range fields {
		names = append(names, f)
	}
	sort.Strings(names)
	stmt, err := q.PrepareContext(ctx, s.dialect.Rebind("INSERT INTO redcap_data (project_id, event_id, record, field_name, value) VALUES (?, ?, ?, ?, ?)"))
	if err != nil {
		return datastore.Operational(err)
	}
	defer stmt.Close()
	for _, f := range names {
		v := fields[f]
		if v == "" {
			continue
		}
		if _, err := stmt.ExecContext(ctx, projectID, eventID, record, f, v); err != nil {
			return datastore.Operational(err)
		}
	}
	return nil
}

// Fields returns all non-null fields of a record.
func (s *Store) Fields(ctx context.Context, projectID int, record string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.Rebind("SELECT field_name, value FROM redcap_data WHERE project_id = ? AND record = ? AND value IS NOT NULL ORDER BY field_name"), projectID, record)
	if err != nil {
		return nil, datastore.Operational(err)
	}
	defer rows.Close()
	fields := make(map[string]string)
	for rows.Next() {
		var f, v string
		if err := rows.Scan(&f, &v); err != nil {
			return nil, err
		}
		fields[f] = v
	}
	if err := rows.Err(); err != nil {
		return nil, datastore.Operational(err)
	}
	return fields, nil
}

// Values reads the given fields of every record that has at least one of
// them, optionally limited to some records. Unlike an Unpivot, records
// missing some of the fields are kept; missing fields are left out of
// their maps.
func (s *Store) Values(ctx context.Context, projectID int, fields []string, records ...string) (map[string]map[string]string, error) {
	if len(fields) == 0 {
		return nil, gerror.New(gerror.Other, "no fields to read")
	}
	query := fmt.Sprintf("SELECT record, field_name, value FROM redcap_data WHERE project_id = ? AND field_name IN (%s)", datastore.Placeholders(len(fields)))
	args := make([]interface{}, 0, 1+len(fields)+len(records))
	args = append(args, projectID)
	for _, f := range fields {
		args = append(args, f)
	}
	if len(records) > 0 {
		query += fmt.Sprintf(" AND record IN (%s)", datastore.Placeholders(len(records)))
		for _, r := range records {
			args = append(args, r)
		}
	}
	query += " ORDER BY record, event_id"
	rows, err := s.db.QueryContext(ctx, s.dialect.Rebind(query), args...)
	if err != nil {
		return nil, datastore.Operational(err)
	}
	defer rows.Close()
	out := make(map[string]map[string]string)
	for rows.Next() {
		var rec, f string
		var v sql.NullString
		if err := rows.Scan(&rec, &f, &v); err != nil {
			return nil, err
		}
		if !v.Valid {
			continue
		}
		m, ok := out[rec]
		if !ok {
			m = make(map[string]string)
			out[rec] = m
		}
		m[f] = v.String
	}
	if err := rows.Err(); err != nil {
		return nil, datastore.Operational(err)
	}
	return out, nil
}

// Records lists the distinct records in a project.
func (s *Store) Records(ctx context.Context, projectID int) ([]string, error) {
	return s.RecordsIn(ctx, s.db, projectID)
}

// RecordsIn is Records using the given handle.
func (s *Store) RecordsIn(ctx context.Context, q datastore.Dbhandle, projectID int) ([]string, error) {
	rows, err := q.QueryContext(ctx, s.dialect.Rebind("SELECT DISTINCT record FROM redcap_data WHERE project_id = ? ORDER BY record"), projectID)
	if err != nil {
		return nil, datastore.Operational(err)
	}
	defer rows.Close()
	var recs []string
	for rows.Next() {
		var r string
		if err := rows.Scan(&r); err != nil {
			return nil, err
		}
		recs = append(recs, r)
	}
	return recs, rows.Err()
}

// NextRecord returns one more than the largest numeric record id in the
// project, as REDCap numbers new records.
func (s *Store) NextRecord(ctx context.Context, q datastore.Dbhandle, projectID int) (string, error) {
	recs, err := s.RecordsIn(ctx, q, projectID)
	if err != nil {
		return "", err
	}
	max := 0
	for _, r := range recs {
		if n, err := strconv.Atoi(r); err == nil && n > max {
			max = n
		}
	}
	return strconv.Itoa(max + 1), nil
}
