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

package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/kumc-bmi/heronadmin/checklist"
	"github.com/kumc-bmi/heronadmin/config"
	"github.com/kumc-bmi/heronadmin/datastore"
	"github.com/kumc-bmi/heronadmin/gerror"
	"github.com/kumc-bmi/heronadmin/i2b2pm"
	"github.com/kumc-bmi/heronadmin/notary"
	"github.com/kumc-bmi/heronadmin/redcap"
	"github.com/tideland/golib/logger"
)

// DefaultSearchMax caps the number of people search shows.
const DefaultSearchMax = 20

func usageErr(format string, a ...interface{}) error {
	return gerror.Errorf(gerror.Configuration, "usage: "+format, a...)
}

func (a *app) run(cmd string, args []string) error {
	ctx := context.Background()
	logger.Debugf("running %s %v", cmd, args)
	switch cmd {
	case "checklist":
		if len(args) != 1 {
			return usageErr("checklist CN")
		}
		return a.checklist(ctx, args[0])
	case "search":
		if len(args) < 1 || len(args) > 3 {
			return usageErr("search CN-PREFIX [SN-PREFIX [GIVEN-PREFIX]]")
		}
		return a.search(args)
	case "decisions":
		return a.decisions(ctx)
	case "send-notices":
		return a.sendNotices(ctx)
	case "invite":
		if len(args) < 1 || len(args) > 2 || (len(args) == 2 && args[1] != "multi") {
			return usageErr("invite EMAIL [multi]")
		}
		return a.invite(ctx, args[0], len(args) == 2)
	case "responses":
		if len(args) != 1 {
			return usageErr("responses EMAIL")
		}
		return a.responses(ctx, args[0])
	case "ack":
		if len(args) != 1 {
			return usageErr("ack CN")
		}
		return a.ack(ctx, args[0])
	case "provision":
		if len(args) != 1 {
			return usageErr("provision CN")
		}
		return a.provision(ctx, args[0])
	}
	return usageErr("unknown command %q; try checklist|search|decisions|send-notices|invite|responses|ack|provision|schema", cmd)
}

func (a *app) checklist(ctx context.Context, cn string) error {
	c, err := checklist.For(ctx, a.engine, a.guard, cn)
	if err != nil {
		return err
	}
	fmt.Fprint(a.out, c)
	return nil
}

func (a *app) search(args []string) error {
	terms := make([]string, 3)
	copy(terms, args)
	found, err := a.dir.AffiliateSearch(DefaultSearchMax, terms[0], terms[1], terms[2])
	if err != nil {
		return err
	}
	for _, b := range found {
		fmt.Fprintf(a.out, "%s\t%s\t%s\t%s\n", b.CN(), b.SortName(), b.Title(), b.OU())
	}
	return nil
}

func (a *app) decisions(ctx context.Context) error {
	rows, err := a.oversight.OversightDecisions(ctx)
	if err != nil {
		return err
	}
	for _, r := range rows {
		ts := "-"
		if !r.Timestamp.IsZero() {
			ts = r.Timestamp.Format(datastore.MySQLTimeFormat)
		}
		fmt.Fprintf(a.out, "%s\t%s\t%s\n", r.Record, r.Decision, ts)
	}
	return nil
}

func (a *app) sendNotices(ctx context.Context) error {
	n, err := a.notifier()
	if err != nil {
		return err
	}
	sent, err := n.SendNotices(ctx)
	for _, s := range sent {
		fmt.Fprintf(a.out, "%s\t%s\t%s\t%s\n", s.Record, s.Decision, s.To, strings.Join(s.Cc, ","))
	}
	return err
}

func (a *app) invite(ctx context.Context, email string, multi bool) error {
	hash, err := a.saa.Invite(ctx, email, multi)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, hash)
	return nil
}

func (a *app) responses(ctx context.Context, email string) error {
	resp, err := a.saa.Responses(ctx, email)
	if err != nil {
		return err
	}
	printResponses(a.out, resp)
	return nil
}

func printResponses(w io.Writer, resp []redcap.Response) {
	for _, r := range resp {
		ct := "incomplete"
		if !r.CompletionTime.IsZero() {
			ct = r.CompletionTime.Format(datastore.MySQLTimeFormat)
		}
		fmt.Fprintf(w, "%s\t%s\n", r.Record, ct)
	}
}

func (a *app) ack(ctx context.Context, cn string) error {
	b, err := a.dir.Affiliate(cn)
	if err != nil {
		return err
	}
	ack, err := a.guard.Ack(ctx, b)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, ack.Ack)
	return nil
}

// provision walks cn through the whole access decision and, if they get
// through, makes their i2b2 account and prints a one-time password.
func (a *app) provision(ctx context.Context, cn string) error {
	if a.pm == nil {
		return gerror.Errorf(gerror.Configuration, "missing required option pm.engine")
	}
	if _, err := a.pm.RevokeExpired(ctx); err != nil {
		logger.Warningf("revoking expired i2b2 passwords: %s", err.Error())
	}
	r := a.engine.NewRequest()
	b, err := r.Affiliate(cn)
	if err != nil {
		return err
	}
	q, err := r.QAny(ctx, b)
	if err != nil {
		return err
	}
	access, err := r.RepositoryAccess(ctx, q)
	if err != nil {
		return err
	}
	redeem := a.guard.MakeRedeem(func(ctx context.Context, b *notary.Badge) (interface{}, error) {
		return a.pm.EnsureAccount(ctx, b, i2b2pm.DefaultRoles...)
	})
	auth, err := redeem(ctx, access.Badge)
	if err != nil {
		return err
	}
	logger.Infof("provisioned %s as %s", cn, q.Kind)
	fmt.Fprintf(a.out, "%s\t%s\n", cn, auth)
	return nil
}

// printSchema prints the DDL for the eav database, or the pm one.
func printSchema(w io.Writer, conf *config.Conf, args []string) error {
	which := "eav"
	if len(args) > 0 {
		which = args[0]
	}
	dbc := conf.EAV
	if which == "pm" {
		dbc = conf.PM.DBConf
	} else if which != "eav" {
		return usageErr("schema [eav|pm]")
	}
	driver, _, err := datastore.DataSource(dbc)
	if err != nil {
		return err
	}
	d, err := datastore.ParseDialect(driver)
	if err != nil {
		return err
	}
	stmts := redcap.Schema(d)
	if which == "pm" {
		stmts = i2b2pm.Schema(d)
	}
	fmt.Fprintf(w, "-- %s schema for %s, heronadmin %s\n", which, d, config.Version)
	for i, s := range stmts {
		fmt.Fprintf(w, "%s;\n", s)
		if i < len(stmts)-1 {
			fmt.Fprintln(w)
		}
	}
	return nil
}
