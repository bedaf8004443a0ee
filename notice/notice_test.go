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

package notice_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/kumc-bmi/heronadmin/config"
	"github.com/kumc-bmi/heronadmin/notice"
	"github.com/kumc-bmi/heronadmin/oversight"
	"github.com/kumc-bmi/heronadmin/policytesting"
	"github.com/tideland/golib/logger"
)

var mailConf = config.MailConf{From: "heron@js.example", HeronHome: "https://heron.example/"}

type recordingArchive struct {
	copies []notice.Copy
}

func (a *recordingArchive) Put(ctx context.Context, c notice.Copy) error {
	a.copies = append(a.copies, c)
	return nil
}

type recordingAnnouncer struct {
	events []string
}

func (a *recordingAnnouncer) SendEvent(name string, payload interface{}) {
	a.events = append(a.events, name)
}

func newNotifier(w *policytesting.World, m notice.Mailer) *notice.Notifier {
	return notice.New(w.Oversight, notice.NewLog(w.DB), m, w.Clock, mailConf, nil)
}

func TestSendNotices(t *testing.T) {
	ctx := context.Background()
	w := policytesting.New(t)
	yes := w.Request("john.smith", oversight.Sponsorship, "2050-02-27", policytesting.Approved, "jill.student", "act.user")
	no := w.Request("john.smith", oversight.Sponsorship, "2050-02-27", policytesting.Rejected, "bill.student")
	w.Request("john.smith", oversight.Sponsorship, "2050-02-27", policytesting.Deferred, "carol.student")
	w.Request("john.smith", oversight.Sponsorship, "2050-02-27", policytesting.Approved, "nobody.here")

	rec := &notice.Recorder{}
	arch := &recordingArchive{}
	ann := &recordingAnnouncer{}
	n := newNotifier(w, rec)
	n.Archive = arch
	n.Announcer = ann

	sent, err := n.SendNotices(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(sent) != 2 || sent[0].Record != yes || sent[1].Record != no {
		t.Fatalf("sent %+v", sent)
	}
	msgs := rec.Messages()
	if len(msgs) != 2 {
		t.Fatalf("mailed %d messages", len(msgs))
	}

	approved := msgs[0]
	if approved.Subject != notice.SubjectApproved || approved.From != "heron@js.example" {
		t.Errorf("approval notice was %+v", approved)
	}
	if len(approved.To) != 1 || approved.To[0] != "john.smith@js.example" {
		t.Errorf("approval went to %v", approved.To)
	}
	if len(approved.Cc) != 2 || approved.Cc[0] != "jill.student@js.example" || approved.Cc[1] != "act.user@js.example" {
		t.Errorf("approval was copied to %v", approved.Cc)
	}
	for _, want := range []string{"Dear John Smith", "<strong>approved</strong>", "<li>Jill Student</li>", "<li>Act User</li>", `href="https://heron.example/"`} {
		if !strings.Contains(approved.HTML, want) {
			t.Errorf("approval body lacks %q:\n%s", want, approved.HTML)
		}
	}

	rejected := msgs[1]
	if rejected.Subject != notice.SubjectRejected || len(rejected.Cc) != 0 {
		t.Errorf("rejection notice was %+v", rejected)
	}
	if strings.Contains(rejected.Text, "Bill Student") {
		t.Errorf("rejections don't list the team:\n%s", rejected.Text)
	}

	if len(arch.copies) != 2 || arch.copies[0].Record != yes || arch.copies[0].Decision != "YES" {
		t.Errorf("archived %+v", arch.copies)
	}
	if len(ann.events) != 2 || ann.events[0] != notice.EventName {
		t.Errorf("announced %v", ann.events)
	}

	entries, err := n.Log.Entries(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 || !entries[0].Timestamp.Equal(policytesting.Today) {
		t.Errorf("log entries were %+v", entries)
	}
}

func TestAtMostOneNotice(t *testing.T) {
	ctx := context.Background()
	w := policytesting.New(t)
	w.Request("john.smith", oversight.Sponsorship, "", policytesting.Approved, "jill.student")
	w.Request("big.wig", oversight.DataUse, "", policytesting.Rejected)
	rec := &notice.Recorder{}
	n := newNotifier(w, rec)
	for i := 0; i < 3; i++ {
		if _, err := n.SendNotices(ctx); err != nil {
			t.Fatal(err)
		}
		w.Clock.Advance(time.Hour)
	}
	if len(rec.Messages()) != 2 {
		t.Errorf("mailed %d messages over three runs", len(rec.Messages()))
	}
	entries, _ := n.Log.Entries(ctx)
	count := make(map[string]int)
	for _, e := range entries {
		count[e.Record]++
	}
	for r, c := range count {
		if c > 1 {
			t.Errorf("record %s logged %d times", r, c)
		}
	}
}

func TestDuplicateNoticeAttempt(t *testing.T) {
	ctx := context.Background()
	w := policytesting.New(t)
	r := w.Request("john.smith", oversight.Sponsorship, "", policytesting.Approved, "jill.student")
	log := notice.NewLog(w.DB)
	if err := log.Record(ctx, nil, r, w.Clock.Now()); err != nil {
		t.Fatal(err)
	}
	rec := &notice.Recorder{}
	sent, err := newNotifier(w, rec).SendNotices(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(sent) != 0 || len(rec.Messages()) != 0 {
		t.Errorf("record %s was noticed twice: %v", r, sent)
	}
	entries, _ := log.Entries(ctx)
	if len(entries) != 1 {
		t.Errorf("%d log entries", len(entries))
	}
	if err = log.Record(ctx, nil, r, w.Clock.Now()); err != notice.ErrAlreadySent {
		t.Errorf("logging a second notice should be refused, got %v", err)
	}
}

// racingMailer logs the notice itself, as a second notifier would between
// our check and our insert.
type racingMailer struct {
	log    *notice.Log
	record string
	w      *policytesting.World
}

func (m *racingMailer) Send(notice.Message) error {
	return m.log.Record(context.Background(), nil, m.record, m.w.Clock.Now())
}

func TestConcurrentNotifierLosesRace(t *testing.T) {
	ctx := context.Background()
	w := policytesting.New(t)
	r := w.Request("john.smith", oversight.Sponsorship, "", policytesting.Approved)
	log := notice.NewLog(w.DB)
	n := notice.New(w.Oversight, log, &racingMailer{log: log, record: r, w: w}, w.Clock, mailConf, nil)
	sent, err := n.SendNotices(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(sent) != 0 {
		t.Errorf("the losing notifier reported %v", sent)
	}
	entries, _ := log.Entries(ctx)
	if len(entries) != 1 {
		t.Errorf("%d log entries", len(entries))
	}
}

func TestMailFailureIsRetriedNextRun(t *testing.T) {
	ctx := context.Background()
	w := policytesting.New(t)
	tl := logger.NewTestLogger()
	old := logger.SetLogger(tl)
	defer logger.SetLogger(old)

	r := w.Request("john.smith", oversight.Sponsorship, "", policytesting.Approved, "jill.student")
	rec := &notice.Recorder{Fail: errors.New("relay down")}
	n := newNotifier(w, rec)
	sent, err := n.SendNotices(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(sent) != 0 {
		t.Errorf("sent %v with the relay down", sent)
	}
	warned := false
	for _, e := range tl.Entries() {
		if strings.Contains(e, "[WARNING]") && strings.Contains(e, "relay down") {
			warned = true
		}
	}
	if !warned {
		t.Errorf("skipped record wasn't logged: %v", tl.Entries())
	}

	rec.Fail = nil
	sent, err = n.SendNotices(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(sent) != 1 || sent[0].Record != r {
		t.Errorf("sent %v once the relay was back", sent)
	}
}

func TestArchiveEncoding(t *testing.T) {
	c := notice.Copy{
		Record:   "12",
		Decision: "YES",
		SentAt:   time.Date(2026, 10, 16, 9, 30, 0, 0, time.UTC),
		From:     "heron@js.example",
		To:       []string{"john.smith@js.example"},
		Subject:  notice.SubjectApproved,
		Text:     strings.Repeat("approved ", 100),
	}
	b, err := notice.Encode(c)
	if err != nil {
		t.Fatal(err)
	}
	if len(b) >= len(c.Text) {
		t.Errorf("encoded copy is %d bytes; expected compression", len(b))
	}
	got, err := notice.Decode(b)
	if err != nil {
		t.Fatal(err)
	}
	if got.Record != c.Record || !got.SentAt.Equal(c.SentAt) || got.Text != c.Text || got.To[0] != c.To[0] {
		t.Errorf("decoded %+v", got)
	}
	if k := notice.CopyKey(c); k != "notices/2026/10/16/12.cbor.zst" {
		t.Errorf("key was %s", k)
	}
}
