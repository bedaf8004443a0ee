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

package notice

import (
	"context"
	"errors"
	"time"

	"github.com/kumc-bmi/heronadmin/datastore"
	"github.com/kumc-bmi/heronadmin/redcap"
)

// ErrAlreadySent is returned by Log.Record when the record already has a
// notice logged.
var ErrAlreadySent = errors.New("notice already sent")

// Entry is one row of the notice log.
type Entry struct {
	ID        int64
	Record    string
	Timestamp time.Time
}

// Log is the notice_log table.
type Log struct {
	db      datastore.Beginner
	dialect datastore.Dialect
}

// NewLog makes a notice log over db.
func NewLog(db *datastore.DB) *Log {
	return &Log{db: db, dialect: db.Dialect}
}

// Already reports whether a notice for record has been logged.
func (l *Log) Already(ctx context.Context, record string) (bool, error) {
	var n int
	row := l.db.QueryRowContext(ctx, l.dialect.Rebind("SELECT COUNT(*) FROM notice_log WHERE record = ?"), record)
	if err := row.Scan(&n); err != nil {
		return false, datastore.Operational(err)
	}
	return n > 0, nil
}

// Record logs a notice for record, sent at ts, using q, which may be a
// transaction. A second notice for the same record is refused with
// ErrAlreadySent.
func (l *Log) Record(ctx context.Context, q datastore.Dbhandle, record string, ts time.Time) error {
	if q == nil {
		q = l.db
	}
	_, err := q.ExecContext(ctx, l.dialect.Rebind("INSERT INTO notice_log (record, timestamp) VALUES (?, ?)"), record, ts.UTC().Format(datastore.MySQLTimeFormat))
	if err != nil {
		if datastore.IsUniqueViolation(err) {
			return ErrAlreadySent
		}
		return datastore.Operational(err)
	}
	return nil
}

// Entries lists the notice log, oldest first.
func (l *Log) Entries(ctx context.Context) ([]Entry, error) {
	rows, err := l.db.QueryContext(ctx, "SELECT id, record, timestamp FROM notice_log ORDER BY id")
	if err != nil {
		return nil, datastore.Operational(err)
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		var e Entry
		var ts interface{}
		if err := rows.Scan(&e.ID, &e.Record, &ts); err != nil {
			return nil, err
		}
		e.Timestamp = logTime(ts)
		out = append(out, e)
	}
	return out, rows.Err()
}

func logTime(v interface{}) time.Time {
	switch v := v.(type) {
	case time.Time:
		return v
	case []byte:
		t, _ := redcap.ParseTime(string(v))
		return t
	case string:
		t, _ := redcap.ParseTime(v)
		return t
	}
	return time.Time{}
}
