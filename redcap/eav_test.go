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
	"math/rand"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/kumc-bmi/heronadmin/config"
	"github.com/kumc-bmi/heronadmin/datastore"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	db, err := datastore.ConnectDB(config.DBConf{Driver: "sqlite", File: ":memory:"})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	if err = CreateSchema(context.Background(), db, db.Dialect); err != nil {
		t.Fatal(err)
	}
	return NewStore(db)
}

func TestUnpivotSQL(t *testing.T) {
	u := Unpivot{ProjectID: 34, Fields: []string{"user_id", "approve_kuh"}, WithRecord: true}
	q, args, err := u.SQL(Eq("user_id", "john.smith"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(q, "SELECT DISTINCT j0.record, j0.value, j1.value FROM redcap_data j0 JOIN redcap_data j1") {
		t.Errorf("unexpected query %s", q)
	}
	want := []interface{}{"approve_kuh", 34, "user_id", "john.smith"}
	if !reflect.DeepEqual(args, want) {
		t.Errorf("args were %v, expected %v", args, want)
	}
	pq := datastore.PostgreSQL.Rebind(q)
	if !strings.Contains(pq, "j1.field_name = $1") || !strings.Contains(pq, "j0.value = $4") {
		t.Errorf("postgres placeholders not rebound: %s", pq)
	}
}

func TestUnpivotSQLErrors(t *testing.T) {
	if _, _, err := (Unpivot{ProjectID: 1}).SQL(); err == nil {
		t.Error("an unpivot with no fields should fail")
	}
	for _, pid := range []int{0, -3} {
		if _, _, err := (Unpivot{ProjectID: pid, Fields: []string{"a"}}).SQL(); err == nil {
			t.Errorf("an unpivot with project id %d should fail", pid)
		}
	}
	if _, _, err := (Unpivot{ProjectID: 1, Fields: []string{"a", "a"}}).SQL(); err == nil {
		t.Error("a repeated field should fail")
	}
	if _, _, err := (Unpivot{ProjectID: 1, Fields: []string{"a"}}).SQL(Eq("b", "x")); err == nil {
		t.Error("a condition on a field outside the unpivot should fail")
	}
	if _, _, err := (Unpivot{ProjectID: 1, Fields: []string{"a"}}).SQL(Cond{Field: "a", Op: "; DROP", Value: 1}); err == nil {
		t.Error("a bogus operator should fail")
	}
}

func TestRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)
	fields := map[string]string{
		"user_id":            "john.smith",
		"project_title":      "Cure Warts",
		"date_of_expiration": "2050-02-27",
		"approve_kuh":        "1",
		"approve_kupi":       "1",
		"approve_kumc":       "1",
		"what_for":           "1",
	}
	if err := s.PutRecord(ctx, 34, 1, "6", fields); err != nil {
		t.Fatal(err)
	}
	if err := s.PutRecord(ctx, 34, 1, "7", map[string]string{"user_id": "bill.student", "project_title": "Partial"}); err != nil {
		t.Fatal(err)
	}
	// another project's data must not leak in
	if err := s.PutRecord(ctx, 35, 1, "6", fields); err != nil {
		t.Fatal(err)
	}

	names := make([]string, 0, len(fields))
	for f := range fields {
		names = append(names, f)
	}
	r := rand.New(rand.NewSource(1))
	for i := 0; i < 10; i++ {
		r.Shuffle(len(names), func(a, b int) { names[a], names[b] = names[b], names[a] })
		u := Unpivot{ProjectID: 34, Fields: append([]string(nil), names...), WithRecord: true}
		rows, err := s.Rows(ctx, u)
		if err != nil {
			t.Fatal(err)
		}
		if len(rows) != 1 {
			t.Fatalf("field order %v: got %d rows, expected exactly 1", names, len(rows))
		}
		if rows[0].Record != "6" {
			t.Errorf("record was %s, expected 6", rows[0].Record)
		}
		if !reflect.DeepEqual(rows[0].Values, fields) {
			t.Errorf("field order %v: values were %v, expected %v", names, rows[0].Values, fields)
		}
	}
}

func TestUnpivotDistinctAcrossEvents(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)
	for _, ev := range []int{1, 2} {
		if err := s.PutRecord(ctx, 10, ev, "1", map[string]string{"a": "x", "b": "y"}); err != nil {
			t.Fatal(err)
		}
	}
	rows, err := s.Rows(ctx, Unpivot{ProjectID: 10, Fields: []string{"a", "b"}, WithRecord: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 {
		t.Errorf("the same record in two events should unpivot to one row, got %d", len(rows))
	}
}

func TestUnpivotConds(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)
	s.PutRecord(ctx, 10, 1, "1", map[string]string{"current": "0", "url": "http://example/d1"})
	s.PutRecord(ctx, 10, 1, "2", map[string]string{"current": "1", "url": "http://example/d2"})
	rows, err := s.Rows(ctx, Unpivot{ProjectID: 10, Fields: []string{"url", "current"}, WithRecord: true}, Eq("current", "1"))
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].Get("url") != "http://example/d2" {
		t.Errorf("current disclaimer query returned %v", rows)
	}
	rows, err = s.Rows(ctx, Unpivot{ProjectID: 10, Fields: []string{"url"}}, Eq(RecordKey, "1"))
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].Record != "" || rows[0].Get("url") != "http://example/d1" {
		t.Errorf("record condition returned %v", rows)
	}
}

func TestValuesKeepsPartialRecords(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)
	s.PutRecord(ctx, 10, 1, "1", map[string]string{"approve_kuh": "2", "user_id": "x"})
	s.PutRecord(ctx, 10, 1, "2", map[string]string{"approve_kuh": "1", "approve_kupi": "1"})
	s.PutRecord(ctx, 10, 1, "3", map[string]string{"user_id": "y"})
	vals, err := s.Values(ctx, 10, []string{"approve_kuh", "approve_kupi"})
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]map[string]string{
		"1": {"approve_kuh": "2"},
		"2": {"approve_kuh": "1", "approve_kupi": "1"},
	}
	if !reflect.DeepEqual(vals, want) {
		t.Errorf("values were %v, expected %v", vals, want)
	}
	vals, _ = s.Values(ctx, 10, []string{"user_id"}, "3")
	if len(vals) != 1 || vals["3"]["user_id"] != "y" {
		t.Errorf("values for record 3 were %v", vals)
	}
}

func TestFieldsAndNextRecord(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)
	next, err := s.NextRecord(ctx, s.DB(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if next != "1" {
		t.Errorf("next record in an empty project was %s, expected 1", next)
	}
	s.PutRecord(ctx, 10, 1, "9", map[string]string{"a": "x", "b": "", "c": "z"})
	s.PutRecord(ctx, 10, 1, "10", map[string]string{"a": "w"})
	f, err := s.Fields(ctx, 10, "9")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(f, map[string]string{"a": "x", "c": "z"}) {
		t.Errorf("fields were %v", f)
	}
	next, _ = s.NextRecord(ctx, s.DB(), 10)
	if next != "11" {
		t.Errorf("next record was %s, expected 11", next)
	}
}

func TestPutRecordRollsBack(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)
	s.PutRecord(ctx, 10, 1, "1", map[string]string{"b": "old"})
	// "a" sorts first and goes in; "b" then clashes on the primary key
	err := s.PutRecord(ctx, 10, 1, "1", map[string]string{"a": "new", "b": "dup"})
	if err == nil {
		t.Fatal("inserting a duplicate field should fail")
	}
	if !datastore.IsUniqueViolation(err) {
		t.Errorf("expected a unique violation, got %v", err)
	}
	f, _ := s.Fields(ctx, 10, "1")
	if _, ok := f["a"]; ok {
		t.Error("a failed insert left a partial record behind")
	}
}

func TestSurveyTables(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)
	if _, err := s.EventID(ctx, 11); err == nil {
		t.Error("an unknown survey should have no event")
	}
	if err := s.AddSurvey(ctx, SurveyFixture{SurveyID: 11, ProjectID: 2, ArmID: 3, EventID: 4}); err != nil {
		t.Fatal(err)
	}
	ev, err := s.EventID(ctx, 11)
	if err != nil {
		t.Fatal(err)
	}
	if ev != 4 {
		t.Errorf("event was %d, expected 4", ev)
	}
	p := Participant{SurveyID: 11, EventID: 4, Email: "john.smith@js.example", Hash: "abc234"}
	if err = s.InsertParticipant(ctx, s.DB(), p); err != nil {
		t.Fatal(err)
	}
	taken, _ := s.HashTaken(ctx, s.DB(), 11, 4, "abc234")
	if !taken {
		t.Error("hash should be taken")
	}
	got, err := s.ParticipantByEmail(ctx, s.DB(), 11, 4, p.Email)
	if err != nil || got == nil {
		t.Fatalf("participant lookup failed: %v", err)
	}
	done := time.Date(2011, 8, 26, 0, 0, 0, 0, time.UTC)
	if err = s.InsertResponse(ctx, got.ID, "3253004250825796194", done); err != nil {
		t.Fatal(err)
	}
	resp, err := s.ResponsesByEmail(ctx, 11, 4, p.Email)
	if err != nil {
		t.Fatal(err)
	}
	if len(resp) != 1 || resp[0].Record != "3253004250825796194" || !resp[0].CompletionTime.Equal(done) {
		t.Errorf("responses were %v", resp)
	}
	times, err := s.CompletionTimes(ctx, 11)
	if err != nil {
		t.Fatal(err)
	}
	if !times["3253004250825796194"].Equal(done) {
		t.Errorf("completion times were %v", times)
	}
	none, _ := s.ParticipantByEmail(ctx, s.DB(), 11, 4, "nobody@example")
	if none != nil {
		t.Error("found a participant that was never invited")
	}
}

func TestParseTime(t *testing.T) {
	for _, s := range []string{"2011-08-26 00:00:00", "2011-08-26T00:00:00Z", "2011-08-26"} {
		tm, err := ParseTime(s)
		if err != nil {
			t.Errorf("%s: %s", s, err)
			continue
		}
		if tm.Year() != 2011 || tm.Month() != 8 || tm.Day() != 26 {
			t.Errorf("%s parsed as %v", s, tm)
		}
	}
	if _, err := ParseTime("last tuesday"); err == nil {
		t.Error("nonsense should not parse")
	}
}
