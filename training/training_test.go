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

package training

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kumc-bmi/heronadmin/cache"
	"github.com/kumc-bmi/heronadmin/clock"
	"github.com/kumc-bmi/heronadmin/gerror"
)

func registryServer(t *testing.T) (*httptest.Server, *int) {
	hits := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		switch r.URL.Query().Get("userid") {
		case "john.smith":
			fmt.Fprintln(w, "2099-01-01")
		case "bill.student":
			// no record: empty body
		case "lost.soul":
			http.NotFound(w, r)
		case "garbled":
			fmt.Fprintln(w, "<html>oops</html>")
		default:
			w.WriteHeader(http.StatusForbidden)
		}
	}))
	return ts, &hits
}

func TestClient(t *testing.T) {
	ts, _ := registryServer(t)
	defer ts.Close()
	c := NewClient(ts.URL+"/trainingcheck", "userid", time.Second, nil)

	d, err := c.TrainedThru("john.smith")
	if err != nil || d != "2099-01-01" {
		t.Errorf("expected 2099-01-01, got %q %v", d, err)
	}
	if _, err := c.TrainedThru("bill.student"); gerror.KindOf(err) != gerror.NoRecord {
		t.Errorf("empty body should be NoRecord, got %v", err)
	}
	if _, err := c.TrainedThru("lost.soul"); gerror.KindOf(err) != gerror.NoRecord {
		t.Errorf("404 should be NoRecord, got %v", err)
	}
	if _, err := c.TrainedThru("garbled"); gerror.KindOf(err) != gerror.OperationalError {
		t.Errorf("a body that isn't a date should be an OperationalError, got %v", err)
	}
	if _, err := c.TrainedThru("who.ever"); gerror.KindOf(err) != gerror.OperationalError {
		t.Errorf("other statuses should be OperationalError, got %v", err)
	}
}

func TestCached(t *testing.T) {
	ts, hits := registryServer(t)
	defer ts.Close()
	clk := clock.NewMock(time.Now())
	c := NewCached(NewClient(ts.URL, "userid", time.Second, nil), cache.New("training", clk, nil), time.Hour)

	c.TrainedThru("john.smith")
	c.TrainedThru("john.smith")
	c.TrainedThru("bill.student")
	if _, err := c.TrainedThru("bill.student"); gerror.KindOf(err) != gerror.NoRecord {
		t.Errorf("cached NoRecord should still be NoRecord, got %v", err)
	}
	if *hits != 2 {
		t.Errorf("expected 2 requests to the registry, got %d", *hits)
	}
	clk.Advance(2 * time.Hour)
	c.TrainedThru("john.smith")
	if *hits != 3 {
		t.Errorf("expired entry should be fetched again; %d requests", *hits)
	}
}

func TestCurrent(t *testing.T) {
	today := time.Date(2026, time.October, 16, 0, 0, 0, 0, time.UTC)
	tests := map[string]bool{
		"2099-01-01": true,
		"2026-10-17": true,
		"2026-10-16": false,
		"2012-01-01": false,
	}
	for exp, want := range tests {
		if got := Current(exp, today); got != want {
			t.Errorf("Current(%s) on %s: wanted %v", exp, clock.ISODate(today), want)
		}
	}
}

func TestMockFromRecords(t *testing.T) {
	m := MockFromRecords([]map[string]string{
		{"cn": "john.smith", "trainedThru": "2099-01-01"},
		{"cn": "bill.student", "trainedThru": ""},
	}, "trainedThru")
	if d, _ := m.TrainedThru("john.smith"); d != "2099-01-01" {
		t.Errorf("wrong date %s", d)
	}
	if _, err := m.TrainedThru("bill.student"); gerror.KindOf(err) != gerror.NoRecord {
		t.Errorf("blank training should be NoRecord")
	}
}
