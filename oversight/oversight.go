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

// Package oversight reads HERON oversight requests: sponsorship and data
// use applications, each a record in a REDCap project, decided by three
// approvers.
package oversight

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/kumc-bmi/heronadmin/clock"
	"github.com/kumc-bmi/heronadmin/datastore"
	"github.com/kumc-bmi/heronadmin/gerror"
	"github.com/kumc-bmi/heronadmin/notary"
	"github.com/kumc-bmi/heronadmin/redcap"
	"github.com/tideland/golib/logger"
)

// Approver answers, as REDCap codes them.
const (
	Yes   = "1"
	No    = "2"
	Defer = "3"
)

// Purposes of a request, as stored in what_for.
const (
	Sponsorship    = "1"
	DataUse        = "2"
	ActSponsorship = "3"
)

// TeamSlots is how many team members a request can name.
const TeamSlots = 12

// Oversight project fields.
const (
	FieldUserID       = "user_id"
	FieldFullName     = "full_name"
	FieldProjectTitle = "project_title"
	FieldExpiration   = "date_of_expiration"
	FieldWhatFor      = "what_for"
	FieldApproveKUH   = "approve_kuh"
	FieldApproveKUPI  = "approve_kupi"
	FieldApproveKUMC  = "approve_kumc"
)

// ApproverFields are the decision fields, one per institution.
var ApproverFields = []string{FieldApproveKUH, FieldApproveKUPI, FieldApproveKUMC}

// TeamField gives the name of a team slot field, like user_id_3.
func TeamField(base string, i int) string {
	return fmt.Sprintf("%s_%d", base, i)
}

// Decision is the outcome of a request.
type Decision string

// The decisions. Pending requests are never reported.
const (
	Pending  Decision = ""
	Approved Decision = "YES"
	Rejected Decision = "NO"
	Deferred Decision = "DEFER"
)

// Final reports whether d is a decision investigators get told about.
func (d Decision) Final() bool {
	return d == Approved || d == Rejected
}

// Decide combines the approvers' answers. Any no rejects; otherwise any
// defer defers; all three yes approves; anything else is pending.
func Decide(kuh, kupi, kumc string) Decision {
	answers := []string{kuh, kupi, kumc}
	for _, a := range answers {
		if a == No {
			return Rejected
		}
	}
	for _, a := range answers {
		if a == Defer {
			return Deferred
		}
	}
	for _, a := range answers {
		if a != Yes {
			return Pending
		}
	}
	return Approved
}

// DecisionRow is one decided request.
type DecisionRow struct {
	Record    string
	Decision  Decision
	Timestamp time.Time
}

// Detail is a request with its people looked up.
type Detail struct {
	Record       string
	Investigator *notary.Badge
	Team         []*notary.Badge
	Fields       map[string]string
}

// Sponsorship is a request naming a user, as investigator or team member.
type Sponsorship struct {
	Record       string
	UserID       string
	Investigator string
	ProjectTitle string
	Expiration   string
	WhatFor      string
	Decision     Decision
	Team         []string
}

// Current reports whether the sponsorship hasn't expired as of today. An
// empty expiration never expires.
func (s Sponsorship) Current(today time.Time) bool {
	return s.Expiration == "" || clock.ISODate(today) < s.Expiration
}

// Directory issues badges for user ids.
type Directory interface {
	Affiliate(cn string) (*notary.Badge, error)
}

// Records reads the oversight project.
type Records struct {
	store     *redcap.Store
	dir       Directory
	clk       clock.Clock
	projectID int
	surveyID  int
}

// New makes an oversight reader. surveyID is the oversight survey, used
// to time decisions; 0 leaves decisions untimed.
func New(store *redcap.Store, dir Directory, clk clock.Clock, projectID, surveyID int) *Records {
	return &Records{store: store, dir: dir, clk: clk, projectID: projectID, surveyID: surveyID}
}

// ProjectID is the oversight project's id.
func (r *Records) ProjectID() int {
	return r.projectID
}

// OversightDecisions lists the decided requests that haven't had a notice
// sent yet, by record.
func (r *Records) OversightDecisions(ctx context.Context) ([]DecisionRow, error) {
	vals, err := r.store.Values(ctx, r.projectID, ApproverFields)
	if err != nil {
		return nil, err
	}
	noticed, err := r.Noticed(ctx)
	if err != nil {
		return nil, err
	}
	var times map[string]time.Time
	if r.surveyID != 0 {
		if times, err = r.store.CompletionTimes(ctx, r.surveyID); err != nil {
			return nil, err
		}
	}
	var out []DecisionRow
	for rec, f := range vals {
		if noticed[rec] {
			continue
		}
		d := Decide(f[FieldApproveKUH], f[FieldApproveKUPI], f[FieldApproveKUMC])
		if d == Pending {
			continue
		}
		out = append(out, DecisionRow{Record: rec, Decision: d, Timestamp: times[rec]})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Record < out[j].Record })
	return out, nil
}

// Noticed returns the records already in the notice log.
func (r *Records) Noticed(ctx context.Context) (map[string]bool, error) {
	rows, err := r.store.DB().QueryContext(ctx, "SELECT record FROM notice_log")
	if err != nil {
		return nil, datastore.Operational(err)
	}
	defer rows.Close()
	seen := make(map[string]bool)
	for rows.Next() {
		var rec string
		if err := rows.Scan(&rec); err != nil {
			return nil, err
		}
		seen[rec] = true
	}
	return seen, rows.Err()
}

// DecisionDetail looks up a request's investigator and team. Team member
// ids the directory doesn't know get a "?" badge; any other failure,
// including an unknown investigator, is returned.
func (r *Records) DecisionDetail(ctx context.Context, record string) (Detail, error) {
	fields, err := r.store.Fields(ctx, r.projectID, record)
	if err != nil {
		return Detail{}, err
	}
	if len(fields) == 0 {
		return Detail{}, gerror.Errorf(gerror.NoRecord, "no oversight request %s", record)
	}
	inv, err := r.dir.Affiliate(fields[FieldUserID])
	if err != nil {
		return Detail{}, err
	}
	if fields[FieldFullName] == "" {
		fields[FieldFullName] = inv.FullName()
	}
	d := Detail{Record: record, Investigator: inv, Fields: fields}
	for _, cn := range teamIDs(fields) {
		b, err := r.dir.Affiliate(cn)
		if err != nil {
			if gerror.KindOf(err) != gerror.UnknownUser {
				return Detail{}, err
			}
			logger.Debugf("team member %s of request %s not in directory", cn, record)
			b = notary.Unknown(cn)
		}
		d.Team = append(d.Team, b)
	}
	return d, nil
}

func teamIDs(fields map[string]string) []string {
	var ids []string
	for i := 1; i <= TeamSlots; i++ {
		if cn := fields[TeamField(FieldUserID, i)]; cn != "" {
			ids = append(ids, cn)
		}
	}
	return ids
}

func requestFields() []string {
	fs := []string{FieldUserID, FieldProjectTitle, FieldExpiration, FieldWhatFor}
	fs = append(fs, ApproverFields...)
	for i := 1; i <= TeamSlots; i++ {
		fs = append(fs, TeamField(FieldUserID, i))
	}
	return fs
}

// Sponsorships lists the requests naming cn, as investigator if
// asInvestigator is set and as a team member otherwise, whatever their
// decision or purpose.
func (r *Records) Sponsorships(ctx context.Context, cn string, asInvestigator bool) ([]Sponsorship, error) {
	vals, err := r.store.Values(ctx, r.projectID, requestFields())
	if err != nil {
		return nil, err
	}
	var out []Sponsorship
	for rec, f := range vals {
		team := teamIDs(f)
		named := false
		if asInvestigator {
			named = f[FieldUserID] == cn
		} else {
			for _, m := range team {
				if m == cn {
					named = true
					break
				}
			}
		}
		if !named {
			continue
		}
		out = append(out, Sponsorship{
			Record:       rec,
			UserID:       cn,
			Investigator: f[FieldUserID],
			ProjectTitle: f[FieldProjectTitle],
			Expiration:   f[FieldExpiration],
			WhatFor:      f[FieldWhatFor],
			Decision:     Decide(f[FieldApproveKUH], f[FieldApproveKUPI], f[FieldApproveKUMC]),
			Team:         team,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Record < out[j].Record })
	return out, nil
}

// Sponsored reports whether cn is on the team of an approved, unexpired
// request to query HERON. Data use and ACT requests don't count.
func (r *Records) Sponsored(ctx context.Context, cn string) (bool, error) {
	sps, err := r.Sponsorships(ctx, cn, false)
	if err != nil {
		return false, err
	}
	today := r.clk.Today()
	for _, s := range sps {
		if s.Decision == Approved && s.WhatFor == Sponsorship && s.Current(today) {
			return true, nil
		}
	}
	return false, nil
}

// TeamEmail gets the mail addresses of an investigator and team members.
// Anyone without an address is an UnknownUser.
func (r *Records) TeamEmail(ctx context.Context, investigator string, members []string) (string, []string, error) {
	mail := func(cn string) (string, error) {
		b, err := r.dir.Affiliate(cn)
		if err != nil {
			return "", err
		}
		if b.Mail() == "" {
			return "", gerror.Errorf(gerror.UnknownUser, "no mail address for %s", cn)
		}
		return b.Mail(), nil
	}
	inv, err := mail(investigator)
	if err != nil {
		return "", nil, err
	}
	team := make([]string, 0, len(members))
	for _, m := range members {
		addr, err := mail(m)
		if err != nil {
			return "", nil, err
		}
		team = append(team, addr)
	}
	return inv, team, nil
}
