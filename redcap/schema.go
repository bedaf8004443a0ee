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

package redcap

import (
	"context"
	"fmt"

	"github.com/kumc-bmi/heronadmin/datastore"
	"github.com/tideland/golib/logger"
)

// Schema returns the DDL for the tables the access-governance core reads
// and writes, for the given dialect. It covers the REDCap tables used here
// plus the executive group and the notice log.
func Schema(d datastore.Dialect) []string {
	serial := serialKey(d)
	text := "TEXT"
	if d == datastore.MySQL {
		text = "LONGTEXT"
	}
	ts := "TIMESTAMP NULL"
	if d != datastore.MySQL {
		ts = "TIMESTAMP"
	}
	noticeFK := ""
	if d == datastore.MySQL {
		// InnoDB accepts a foreign key to an indexed non-unique column;
		// the others want a unique one.
		noticeFK = ",\n\tFOREIGN KEY (record) REFERENCES redcap_data (record)"
	}
	return []string{
		fmt.Sprintf(`CREATE TABLE redcap_data (
	project_id INTEGER NOT NULL,
	event_id INTEGER NOT NULL,
	record VARCHAR(100) NOT NULL,
	field_name VARCHAR(100) NOT NULL,
	value %s,
	PRIMARY KEY (project_id, event_id, record, field_name)
)`, text),
		"CREATE INDEX redcap_data_record ON redcap_data (record)",
		`CREATE TABLE redcap_surveys (
	survey_id INTEGER PRIMARY KEY,
	project_id INTEGER NOT NULL,
	title VARCHAR(255)
)`,
		`CREATE TABLE redcap_events_arms (
	arm_id INTEGER PRIMARY KEY,
	project_id INTEGER NOT NULL,
	arm_num INTEGER NOT NULL DEFAULT 1,
	arm_name VARCHAR(50)
)`,
		`CREATE TABLE redcap_events_metadata (
	event_id INTEGER PRIMARY KEY,
	arm_id INTEGER NOT NULL,
	descrip VARCHAR(64)
)`,
		fmt.Sprintf(`CREATE TABLE redcap_surveys_participants (
	participant_id %s,
	survey_id INTEGER NOT NULL,
	event_id INTEGER NOT NULL,
	participant_email VARCHAR(255),
	participant_identifier VARCHAR(255),
	hash VARCHAR(6) NOT NULL,
	UNIQUE (hash)
)`, serial),
		fmt.Sprintf(`CREATE TABLE redcap_surveys_response (
	response_id %s,
	participant_id INTEGER NOT NULL,
	record VARCHAR(100),
	first_submit_time %s,
	completion_time %s
)`, serial, ts, ts),
		`CREATE TABLE exec_group (
	user_id VARCHAR(100) NOT NULL,
	status CHAR(1) NOT NULL DEFAULT 'A'
)`,
		fmt.Sprintf(`CREATE TABLE notice_log (
	id %s,
	record VARCHAR(100) NOT NULL,
	timestamp %s,
	UNIQUE (record)%s
)`, serial, ts, noticeFK),
	}
}

func serialKey(d datastore.Dialect) string {
	switch d {
	case datastore.MySQL:
		return "INTEGER AUTO_INCREMENT PRIMARY KEY"
	case datastore.PostgreSQL:
		return "SERIAL PRIMARY KEY"
	}
	return "INTEGER PRIMARY KEY AUTOINCREMENT"
}

// CreateSchema runs the DDL from Schema against db.
func CreateSchema(ctx context.Context, db datastore.Dbhandle, d datastore.Dialect) error {
	for _, stmt := range Schema(d) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			logger.Errorf("creating schema: %s", err.Error())
			return datastore.Operational(err)
		}
	}
	return nil
}

// SurveyFixture describes a survey with its project, arm, and event, for
// setting up a database by hand.
type SurveyFixture struct {
	SurveyID  int
	ProjectID int
	ArmID     int
	EventID   int
	Title     string
}

// AddSurvey inserts the survey metadata rows for f.
func (s *Store) AddSurvey(ctx context.Context, f SurveyFixture) error {
	stmts := []struct {
		q    string
		args []interface{}
	}{
		{"INSERT INTO redcap_surveys (survey_id, project_id, title) VALUES (?, ?, ?)", []interface{}{f.SurveyID, f.ProjectID, f.Title}},
		{"INSERT INTO redcap_events_arms (arm_id, project_id, arm_num, arm_name) VALUES (?, ?, 1, 'Arm 1')", []interface{}{f.ArmID, f.ProjectID}},
		{"INSERT INTO redcap_events_metadata (event_id, arm_id, descrip) VALUES (?, ?, 'Event 1')", []interface{}{f.EventID, f.ArmID}},
	}
	for _, st := range stmts {
		if _, err := s.db.ExecContext(ctx, s.dialect.Rebind(st.q), st.args...); err != nil {
			return datastore.Operational(err)
		}
	}
	return nil
}
