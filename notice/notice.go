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

// Package notice tells investigators about oversight decisions, sending
// each decided request's notice at most once.
package notice

import (
	"context"
	"time"

	"github.com/kumc-bmi/heronadmin/clock"
	"github.com/kumc-bmi/heronadmin/config"
	"github.com/kumc-bmi/heronadmin/oversight"
	"github.com/raintank/met"
	"github.com/tideland/golib/logger"
)

// EventName is the cluster event sent for each notice.
const EventName = "heron-notice"

// Decisions is what the notifier needs from the oversight records.
type Decisions interface {
	OversightDecisions(ctx context.Context) ([]oversight.DecisionRow, error)
	DecisionDetail(ctx context.Context, record string) (oversight.Detail, error)
	TeamEmail(ctx context.Context, investigator string, members []string) (string, []string, error)
}

// Announcer tells other nodes about a sent notice.
type Announcer interface {
	SendEvent(eventName string, payload interface{})
}

// Sent summarizes one notice that went out.
type Sent struct {
	Record   string
	Decision oversight.Decision
	To       string
	Cc       []string
	Subject  string
	SentAt   time.Time
}

// Notifier sends decision notices. Archive and Announcer are optional.
type Notifier struct {
	Records   Decisions
	Log       *Log
	Mailer    Mailer
	Archive   Archive
	Announcer Announcer

	clk       clock.Clock
	from      string
	heronHome string
	sentCt    met.Count
	skippedCt met.Count
}

// New makes a notifier. mb may be nil.
func New(records Decisions, log *Log, mailer Mailer, clk clock.Clock, mc config.MailConf, mb met.Backend) *Notifier {
	n := &Notifier{Records: records, Log: log, Mailer: mailer, clk: clk, from: mc.From, heronHome: mc.HeronHome}
	if mb != nil {
		n.sentCt = mb.NewCount("notice.sent")
		n.skippedCt = mb.NewCount("notice.skipped")
	}
	return n
}

// SendNotices mails a notice for each approved or rejected request that
// hasn't had one yet and logs it. A record whose people can't be looked
// up, or whose mail can't be sent, is skipped and left for the next run.
// Only a failure to read the decisions or write the log stops the run.
func (n *Notifier) SendNotices(ctx context.Context) ([]Sent, error) {
	rows, err := n.Records.OversightDecisions(ctx)
	if err != nil {
		return nil, err
	}
	var sent []Sent
	for _, row := range rows {
		if !row.Decision.Final() {
			continue
		}
		msg, body, err := n.compose(ctx, row)
		if err != nil {
			n.skip(row.Record, err)
			continue
		}
		// another notifier may have got here first
		already, err := n.Log.Already(ctx, row.Record)
		if err != nil {
			return sent, err
		}
		if already {
			logger.Debugf("notice for record %s already sent", row.Record)
			continue
		}
		if err = n.Mailer.Send(msg); err != nil {
			n.skip(row.Record, err)
			continue
		}
		now := n.clk.Now()
		if err = n.Log.Record(ctx, nil, row.Record, now); err != nil {
			if err == ErrAlreadySent {
				logger.Warningf("notice for record %s was logged by someone else while we sent ours", row.Record)
				continue
			}
			return sent, err
		}
		logger.Infof("notice sent for record %s: %s", row.Record, msg.Subject)
		if n.sentCt != nil {
			n.sentCt.Inc(1)
		}
		s := Sent{Record: row.Record, Decision: row.Decision, To: msg.To[0], Cc: msg.Cc, Subject: msg.Subject, SentAt: now}
		n.afterSend(ctx, s, msg, body)
		sent = append(sent, s)
	}
	return sent, nil
}

func (n *Notifier) compose(ctx context.Context, row oversight.DecisionRow) (Message, Body, error) {
	d, err := n.Records.DecisionDetail(ctx, row.Record)
	if err != nil {
		return Message{}, Body{}, err
	}
	var members []string
	if row.Decision == oversight.Approved {
		for _, b := range d.Team {
			members = append(members, b.CN())
		}
	}
	to, cc, err := n.Records.TeamEmail(ctx, d.Investigator.CN(), members)
	if err != nil {
		return Message{}, Body{}, err
	}
	body := NewBody(d, row.Decision, n.heronHome)
	text, err := body.Markdown()
	if err != nil {
		return Message{}, Body{}, err
	}
	html, err := body.HTML()
	if err != nil {
		return Message{}, Body{}, err
	}
	msg := Message{
		From:    n.from,
		To:      []string{to},
		Cc:      cc,
		Subject: body.Subject(),
		Text:    text,
		HTML:    html,
	}
	return msg, body, nil
}

func (n *Notifier) skip(record string, err error) {
	logger.Warningf("skipping notice for record %s: %s", record, err.Error())
	if n.skippedCt != nil {
		n.skippedCt.Inc(1)
	}
}

// afterSend archives and announces a sent notice. The notice is already
// logged, so failures here are only logged.
func (n *Notifier) afterSend(ctx context.Context, s Sent, msg Message, body Body) {
	if n.Archive != nil {
		c := Copy{
			Record:   s.Record,
			Decision: string(s.Decision),
			SentAt:   s.SentAt,
			From:     msg.From,
			To:       msg.To,
			Cc:       msg.Cc,
			Subject:  msg.Subject,
			Text:     msg.Text,
			HTML:     msg.HTML,
		}
		if err := n.Archive.Put(ctx, c); err != nil {
			logger.Errorf("archiving notice for record %s: %s", s.Record, err.Error())
		}
	}
	if n.Announcer != nil {
		n.Announcer.SendEvent(EventName, map[string]interface{}{
			"record":   s.Record,
			"decision": string(s.Decision),
			"approved": body.Approved,
			"sent_at":  s.SentAt.UTC().Format(time.RFC3339),
		})
	}
}
