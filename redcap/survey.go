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
	"database/sql"
	"time"

	"github.com/kumc-bmi/heronadmin/datastore"
	"github.com/kumc-bmi/heronadmin/gerror"
)

// Participant is a survey invitation row.
type Participant struct {
	ID         int64
	SurveyID   int
	EventID    int
	Email      string
	Identifier string
	Hash       string
}

// Response is a survey response: the record it made and when it was
// completed. CompletionTime is zero for unfinished responses.
type Response struct {
	Record         string
	CompletionTime time.Time
}

// EventID finds the event for a survey, following redcap_surveys to the
// project's arm and the arm's first event.
func (s *Store) EventID(ctx context.Context, surveyID int) (int, error) {
	return s.EventIDIn(ctx, s.db, surveyID)
}

// EventIDIn is EventID with the given handle.
func (s *Store) EventIDIn(ctx context.Context, q datastore.Dbhandle, surveyID int) (int, error) {
	sqlStatement := `SELECT em.event_id
		FROM redcap_surveys s
		JOIN redcap_events_arms ea ON ea.project_id = s.project_id
		JOIN redcap_events_metadata em ON em.arm_id = ea.arm_id
		WHERE s.survey_id = ?
		ORDER BY ea.arm_num, em.event_id`
	rows, err := q.QueryContext(ctx, s.dialect.Rebind(sqlStatement), surveyID)
	if err != nil {
		return 0, datastore.Operational(err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return 0, datastore.Operational(err)
		}
		return 0, gerror.Errorf(gerror.Configuration, "no event found for survey %d", surveyID)
	}
	var ev int
	if err := rows.Scan(&ev); err != nil {
		return 0, err
	}
	return ev, nil
}

// ParticipantByEmail returns the invitation for an email, if there is one.
func (s *Store) ParticipantByEmail(ctx context.Context, q datastore.Dbhandle, surveyID, eventID int, email string) (*Participant, error) {
	p := &Participant{SurveyID: surveyID, EventID: eventID, Email: email}
	var ident sql.NullString
	row := q.QueryRowContext(ctx, s.dialect.Rebind(`SELECT participant_id, participant_identifier, hash
		FROM redcap_surveys_participants
		WHERE survey_id = ? AND event_id = ? AND participant_email = ?
		ORDER BY participant_id`), surveyID, eventID, email)
	if err := row.Scan(&p.ID, &ident, &p.Hash); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, datastore.Operational(err)
	}
	p.Identifier = ident.String
	return p, nil
}

// HashTaken reports whether any invitation for the survey event already
// uses hash.
func (s *Store) HashTaken(ctx context.Context, q datastore.Dbhandle, surveyID, eventID int, hash string) (bool, error) {
	var n int
	row := q.QueryRowContext(ctx, s.dialect.Rebind("SELECT COUNT(*) FROM redcap_surveys_participants WHERE survey_id = ? AND event_id = ? AND hash = ?"), surveyID, eventID, hash)
	if err := row.Scan(&n); err != nil {
		return false, datastore.Operational(err)
	}
	return n > 0, nil
}

// InsertParticipant adds an invitation row.
func (s *Store) InsertParticipant(ctx context.Context, q datastore.Dbhandle, p Participant) error {
	_, err := q.ExecContext(ctx, s.dialect.Rebind(`INSERT INTO redcap_surveys_participants
		(survey_id, event_id, participant_email, participant_identifier, hash)
		VALUES (?, ?, ?, ?, ?)`), p.SurveyID, p.EventID, p.Email, p.Identifier, p.Hash)
	return err
}

// CountParticipants counts invitations for an email.
func (s *Store) CountParticipants(ctx context.Context, surveyID int, email string) (int, error) {
	var n int
	row := s.db.QueryRowContext(ctx, s.dialect.Rebind("SELECT COUNT(*) FROM redcap_surveys_participants WHERE survey_id = ? AND participant_email = ?"), surveyID, email)
	if err := row.Scan(&n); err != nil {
		return 0, datastore.Operational(err)
	}
	return n, nil
}

// ResponsesByEmail returns the responses made through invitations to an
// email address, oldest first.
func (s *Store) ResponsesByEmail(ctx context.Context, surveyID, eventID int, email string) ([]Response, error) {
	return s.responses(ctx, `SELECT r.record, r.completion_time
		FROM redcap_surveys_response r
		JOIN redcap_surveys_participants p ON p.participant_id = r.participant_id
		WHERE p.survey_id = ? AND p.event_id = ? AND p.participant_email = ?
		ORDER BY r.completion_time, r.record`, surveyID, eventID, email)
}

// ResponsesByRecord returns the responses to a survey that made or
// updated a record.
func (s *Store) ResponsesByRecord(ctx context.Context, surveyID int, record string) ([]Response, error) {
	return s.responses(ctx, `SELECT r.record, r.completion_time
		FROM redcap_surveys_response r
		JOIN redcap_surveys_participants p ON p.participant_id = r.participant_id
		WHERE p.survey_id = ? AND r.record = ?
		ORDER BY r.completion_time`, surveyID, record)
}

// CompletionTimes maps each record of a survey to its latest response
// completion time.
func (s *Store) CompletionTimes(ctx context.Context, surveyID int) (map[string]time.Time, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.Rebind(`SELECT r.record, r.completion_time
		FROM redcap_surveys_response r
		JOIN redcap_surveys_participants p ON p.participant_id = r.participant_id
		WHERE p.survey_id = ?`), surveyID)
	if err != nil {
		return nil, datastore.Operational(err)
	}
	defer rows.Close()
	times := make(map[string]time.Time)
	for rows.Next() {
		var rec string
		var ct nullTime
		if err := rows.Scan(&rec, &ct); err != nil {
			return nil, err
		}
		if ct.Time.After(times[rec]) {
			times[rec] = ct.Time
		}
	}
	if err := rows.Err(); err != nil {
		return nil, datastore.Operational(err)
	}
	return times, nil
}

// InsertResponse records a survey response, as the survey backend does
// when a participant submits.
func (s *Store) InsertResponse(ctx context.Context, participantID int64, record string, completed time.Time) error {
	var ct interface{}
	if !completed.IsZero() {
		ct = completed.UTC().Format(datastore.MySQLTimeFormat)
	}
	_, err := s.db.ExecContext(ctx, s.dialect.Rebind("INSERT INTO redcap_surveys_response (participant_id, record, completion_time) VALUES (?, ?, ?)"), participantID, record, ct)
	return datastore.Operational(err)
}

func (s *Store) responses(ctx context.Context, query string, args ...interface{}) ([]Response, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.Rebind(query), args...)
	if err != nil {
		return nil, datastore.Operational(err)
	}
	defer rows.Close()
	var out []Response
	for rows.Next() {
		var r Response
		var ct nullTime
		if err := rows.Scan(&r.Record, &ct); err != nil {
			return nil, err
		}
		r.CompletionTime = ct.Time
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, datastore.Operational(err)
	}
	return out, nil
}

// nullTime scans timestamps the way each driver hands them back: as
// time.Time (mysql with parseTime, pq), or as text (sqlite).
type nullTime struct {
	Time  time.Time
	Valid bool
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	datastore.MySQLTimeFormat,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

func (n *nullTime) Scan(value interface{}) error {
	n.Time, n.Valid = time.Time{}, false
	switch v := value.(type) {
	case nil:
		return nil
	case time.Time:
		n.Time, n.Valid = v, true
		return nil
	case []byte:
		return n.parse(string(v))
	case string:
		return n.parse(v)
	}
	return gerror.Errorf(gerror.Other, "cannot scan %T into a time", value)
}

func (n *nullTime) parse(s string) error {
	if s == "" {
		return nil
	}
	for _, l := range timeLayouts {
		if t, err := time.Parse(l, s); err == nil {
			n.Time, n.Valid = t, true
			return nil
		}
	}
	return gerror.Errorf(gerror.Other, "unrecognized time %q", s)
}

// ParseTime parses a timestamp in any of the forms the databases return.
func ParseTime(s string) (time.Time, error) {
	var n nullTime
	err := n.parse(s)
	return n.Time, err
}
