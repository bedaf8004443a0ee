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

// Package policytesting builds a complete, in-memory HERON admin world for
// tests: an SQLite REDCap database with the oversight, agreement,
// disclaimer and acknowledgement projects, a mock directory and training
// registry, and a policy engine over all of it.
package policytesting

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/kumc-bmi/heronadmin/clock"
	"github.com/kumc-bmi/heronadmin/config"
	"github.com/kumc-bmi/heronadmin/datastore"
	"github.com/kumc-bmi/heronadmin/directory"
	"github.com/kumc-bmi/heronadmin/disclaimer"
	"github.com/kumc-bmi/heronadmin/notary"
	"github.com/kumc-bmi/heronadmin/oversight"
	"github.com/kumc-bmi/heronadmin/policy"
	"github.com/kumc-bmi/heronadmin/redcap"
	"github.com/kumc-bmi/heronadmin/saa"
	"github.com/kumc-bmi/heronadmin/training"
)

// Project and survey ids in the test world.
const (
	OversightProject  = 34
	OversightSurvey   = 93
	SAAProject        = 1
	SAASurvey         = 11
	DisclaimerProject = 12
	AckProject        = 13
	DisclaimerURL     = "http://example/blog/item/heron-release-xyz"
)

// Today is the test world's date.
var Today = time.Date(2026, 10, 16, 9, 30, 0, 0, time.UTC)

// Population is the mock directory, with training dates.
var Population = []map[string]string{
	person("john.smith", "Smith", "John", "Neurology", "Chair of Department", "Y", "1234", "2099-01-01"),
	person("bill.student", "Student", "Bill", "", "Student", "N", "", ""),
	person("carol.student", "Student", "Carol", "", "Student", "", "", "2000-01-01"),
	person("some.one", "One", "Some", "", "Research Assistant", "N", "", "2012-01-01"),
	person("big.wig", "Wig", "Big", "Administration", "Big Wig", "N", "", "2099-01-01"),
	person("jill.student", "Student", "Jill", "", "Student", "N", "", "2099-01-01"),
	person("koam.rin", "Rin", "Koam", "", "Student", "N", "", "2099-01-01"),
	person("trouble.maker", "Maker", "Trouble", "Pediatrics", "Adjunct", "Y", "24600", "2099-01-01"),
	person("act.user", "User", "Act", "", "Student", "N", "", "2099-01-01"),
	person("todays.child", "Child", "Todays", "", "Student", "N", "", "2026-10-16"),
}

func person(cn, sn, given, ou, title, fac, job, trained string) map[string]string {
	return map[string]string{
		directory.AttrCN:          cn,
		directory.AttrSN:          sn,
		directory.AttrGivenName:   given,
		directory.AttrMail:        cn + "@js.example",
		directory.AttrOU:          ou,
		directory.AttrTitle:       title,
		directory.AttrFaculty:     fac,
		directory.AttrJobCode:     job,
		directory.AttrTrainedThru: trained,
	}
}

// World is everything a policy decision touches.
type World struct {
	t         testing.TB
	DB        *datastore.DB
	Store     *redcap.Store
	Notary    *notary.Notary
	Clock     *clock.Mock
	MockDir   *directory.Mock
	Directory *directory.Service
	Training  training.Mock
	Oversight *oversight.Records
	SAA       *saa.Agreement
	Guard     *disclaimer.Guard
	Execs     *policy.ExecGroup
	Engine    *policy.Engine
	nextRec   int
}

// New builds a world. big.wig is an active executive and the release
// disclaimer is current; nobody has signed the agreement or had a request
// approved yet.
func New(t testing.TB) *World {
	t.Helper()
	ctx := context.Background()
	db, err := datastore.ConnectDB(config.DBConf{Driver: "sqlite", File: ":memory:"})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	if err = redcap.CreateSchema(ctx, db, db.Dialect); err != nil {
		t.Fatal(err)
	}
	n, err := notary.New()
	if err != nil {
		t.Fatal(err)
	}
	w := &World{
		t:       t,
		DB:      db,
		Store:   redcap.NewStore(db),
		Notary:  n,
		Clock:   clock.NewMock(Today),
		MockDir: directory.NewMockFromRecords(Population),
		nextRec: 1,
	}
	w.Directory = directory.New(w.MockDir, n, nil, 0)
	w.Training = training.MockFromRecords(Population, directory.AttrTrainedThru)
	w.Oversight = oversight.New(w.Store, w.Directory, w.Clock, OversightProject, OversightSurvey)
	w.SAA = saa.New(w.Store, SAASurvey, saa.Options{Sleep: func(time.Duration) {}})
	w.Guard = disclaimer.New(w.Store, DisclaimerProject, AckProject, n.Inspector(), w.Clock)
	w.Execs = policy.NewExecGroup(db, db.Dialect)

	w.must(w.Store.AddSurvey(ctx, redcap.SurveyFixture{SurveyID: SAASurvey, ProjectID: SAAProject, ArmID: 1, EventID: 1, Title: "System Access Agreement"}))
	w.must(w.Store.AddSurvey(ctx, redcap.SurveyFixture{SurveyID: OversightSurvey, ProjectID: OversightProject, ArmID: 2, EventID: 2, Title: "Oversight Request"}))
	w.must(w.Execs.Add(ctx, "big.wig", "A"))
	w.must(w.Execs.Add(ctx, "koam.rin", "D"))
	w.must(w.Store.PutRecord(ctx, DisclaimerProject, 1, "1", map[string]string{
		disclaimer.FieldDisclaimerID: "1",
		disclaimer.FieldName:         "HERON release",
		disclaimer.FieldURL:          DisclaimerURL,
		disclaimer.FieldCurrent:      "1",
	}))
	w.Engine = w.NewEngine(config.PolicyConf{})
	return w
}

// NewEngine makes another engine over the world, with different policy
// settings.
func (w *World) NewEngine(pc config.PolicyConf) *policy.Engine {
	return policy.New(policy.Deps{
		Directory:   w.Directory,
		Training:    w.Training,
		Sponsors:    w.Oversight,
		Agreements:  w.SAA,
		Disclaimers: w.Guard,
		Executives:  w.Execs,
		Inspector:   w.Notary.Inspector(),
		Clock:       w.Clock,
	}, pc)
}

func (w *World) must(err error) {
	w.t.Helper()
	if err != nil {
		w.t.Fatal(err)
	}
}

// Badge looks cn up in the directory.
func (w *World) Badge(cn string) *notary.Badge {
	w.t.Helper()
	b, err := w.Directory.Affiliate(cn)
	if err != nil {
		w.t.Fatal(err)
	}
	return b
}

// Sign has cn sign the system access agreement.
func (w *World) Sign(cn string) {
	w.t.Helper()
	ctx := context.Background()
	mail := cn + "@js.example"
	if _, err := w.SAA.Invite(ctx, mail, false); err != nil {
		w.t.Fatal(err)
	}
	p, err := w.Store.ParticipantByEmail(ctx, w.DB, SAASurvey, 1, mail)
	if err != nil || p == nil {
		w.t.Fatalf("no invitation for %s: %v", mail, err)
	}
	w.must(w.Store.InsertResponse(ctx, p.ID, fmt.Sprintf("saa-%s", cn), w.Clock.Now()))
}

// Ack has cn acknowledge the current disclaimer.
func (w *World) Ack(cn string) {
	w.t.Helper()
	if _, err := w.Guard.Ack(context.Background(), w.Badge(cn)); err != nil {
		w.t.Fatal(err)
	}
}

// Request files an oversight request and returns its record id. decision
// gives the three approvers' answers.
func (w *World) Request(investigator, whatFor, expiration string, decision [3]string, team ...string) string {
	w.t.Helper()
	ctx := context.Background()
	rec := fmt.Sprintf("%d", w.nextRec)
	w.nextRec++
	f := map[string]string{
		oversight.FieldUserID:       investigator,
		oversight.FieldProjectTitle: "Cure warts " + rec,
		oversight.FieldWhatFor:      whatFor,
		oversight.FieldExpiration:   expiration,
		oversight.FieldApproveKUH:   decision[0],
		oversight.FieldApproveKUPI:  decision[1],
		oversight.FieldApproveKUMC:  decision[2],
	}
	for i, m := range team {
		f[oversight.TeamField(oversight.FieldUserID, i+1)] = m
	}
	w.must(w.Store.PutRecord(ctx, OversightProject, 2, rec, f))
	return rec
}

// Approved is the answers for an approved request.
var Approved = [3]string{oversight.Yes, oversight.Yes, oversight.Yes}

// Rejected is the answers for a rejected request.
var Rejected = [3]string{oversight.Yes, oversight.No, oversight.Defer}

// Deferred is the answers for a deferred request.
var Deferred = [3]string{oversight.Yes, oversight.Defer, ""}
