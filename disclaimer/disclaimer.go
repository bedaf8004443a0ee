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

// Package disclaimer keeps track of the current HERON disclaimer and who
// has acknowledged it, and guards powers so they can only be used by
// people who have.
package disclaimer

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/kumc-bmi/heronadmin/clock"
	"github.com/kumc-bmi/heronadmin/datastore"
	"github.com/kumc-bmi/heronadmin/gerror"
	"github.com/kumc-bmi/heronadmin/notary"
	"github.com/kumc-bmi/heronadmin/redcap"
	"github.com/tideland/golib/logger"
)

// Disclaimer project fields.
const (
	FieldDisclaimerID = "disclaimer_id"
	FieldName         = "name"
	FieldURL          = "url"
	FieldCurrent      = "current"
)

// Acknowledgement project fields.
const (
	FieldAck       = "ack"
	FieldTimestamp = "timestamp"
	FieldUserID    = "user_id"
	FieldAddress   = "disclaimer_address"
)

// TimestampFormat is how acknowledgement times are stored.
const TimestampFormat = "2006-01-02 15:04:05"

// Disclaimer is a row of the disclaimer project.
type Disclaimer struct {
	Record       string
	DisclaimerID string
	Name         string
	URL          string
	Current      bool
}

// Acknowledgement is a row of the acknowledgement project.
type Acknowledgement struct {
	Ack               string
	Timestamp         time.Time
	UserID            string
	DisclaimerAddress string
}

// Power is something a badge holder can do.
type Power func(ctx context.Context, b *notary.Badge) (interface{}, error)

// Redeem is a Power that first checks the holder has acknowledged the
// current disclaimer.
type Redeem func(ctx context.Context, b *notary.Badge) (interface{}, error)

// Guard reads disclaimers and records acknowledgements.
type Guard struct {
	store        *redcap.Store
	projectID    int
	ackProjectID int
	ackEventID   int
	inspector    *notary.Inspector
	clk          clock.Clock
}

// New makes a disclaimer guard. Acknowledgements are written to event 1
// of the acknowledgement project; use SetAckEvent to change that.
func New(store *redcap.Store, projectID, ackProjectID int, insp *notary.Inspector, clk clock.Clock) *Guard {
	return &Guard{store: store, projectID: projectID, ackProjectID: ackProjectID, ackEventID: 1, inspector: insp, clk: clk}
}

// SetAckEvent sets the event acknowledgements are recorded under.
func (g *Guard) SetAckEvent(ev int) {
	g.ackEventID = ev
}

// Current returns the current disclaimer. It fails with NoDisclaimer if
// none is marked current, and with a Configuration error if more than one
// is.
func (g *Guard) Current(ctx context.Context) (Disclaimer, error) {
	return g.current(ctx, g.store.DB())
}

func (g *Guard) current(ctx context.Context, q datastore.Dbhandle) (Disclaimer, error) {
	u := redcap.Unpivot{ProjectID: g.projectID, Fields: []string{FieldDisclaimerID, FieldURL, FieldCurrent}, WithRecord: true}
	rows, err := g.store.RowsIn(ctx, q, u, redcap.Eq(FieldCurrent, "1"))
	if err != nil {
		return Disclaimer{}, err
	}
	switch len(rows) {
	case 0:
		return Disclaimer{}, gerror.New(gerror.NoDisclaimer, "")
	case 1:
	default:
		return Disclaimer{}, gerror.Errorf(gerror.Configuration, "multiple current disclaimers in project %d", g.projectID)
	}
	r := rows[0]
	d := Disclaimer{Record: r.Record, DisclaimerID: r.Get(FieldDisclaimerID), URL: r.Get(FieldURL), Current: true}
	names, err := g.store.RowsIn(ctx, q, redcap.Unpivot{ProjectID: g.projectID, Fields: []string{FieldName}}, redcap.Eq(redcap.RecordKey, r.Record))
	if err != nil {
		return Disclaimer{}, err
	}
	if len(names) > 0 {
		d.Name = names[0].Get(FieldName)
	}
	return d, nil
}

// AckString makes the human readable acknowledgement key:
// "YYYY-MM-DD <uid> <last segment of the disclaimer address>".
func AckString(when time.Time, uid, address string) string {
	seg := address
	if i := strings.LastIndex(address, "/"); i >= 0 {
		seg = address[i+1:]
	}
	return fmt.Sprintf("%s %s %s", clock.ISODate(when), uid, seg)
}

// Ack records that the badge holder acknowledged the current disclaimer.
// If they already have, the existing acknowledgement is returned.
func (g *Guard) Ack(ctx context.Context, b *notary.Badge) (Acknowledgement, error) {
	b, err := g.inspector.Vouch(b)
	if err != nil {
		return Acknowledgement{}, err
	}
	var ack Acknowledgement
	err = datastore.InTx(ctx, g.store.DB(), func(tx *sql.Tx) error {
		d, err := g.current(ctx, tx)
		if err != nil {
			return err
		}
		existing, err := g.lookup(ctx, tx, b.CN(), d.URL)
		if err != nil {
			return err
		}
		if existing != nil {
			ack = *existing
			return nil
		}
		now := g.clk.Now()
		ack = Acknowledgement{
			Ack:               AckString(now, b.CN(), d.URL),
			Timestamp:         now,
			UserID:            b.CN(),
			DisclaimerAddress: d.URL,
		}
		return g.store.PutRecordIn(ctx, tx, g.ackProjectID, g.ackEventID, ack.Ack, map[string]string{
			FieldAck:       ack.Ack,
			FieldTimestamp: now.Format(TimestampFormat),
			FieldUserID:    ack.UserID,
			FieldAddress:   ack.DisclaimerAddress,
		})
	})
	if err != nil {
		return Acknowledgement{}, err
	}
	logger.Infof("%s acknowledged %s", ack.UserID, ack.DisclaimerAddress)
	return ack, nil
}

// Acknowledgement returns cn's acknowledgement of the current disclaimer,
// failing with NoAcknowledgement if there isn't one.
func (g *Guard) Acknowledgement(ctx context.Context, cn string) (Acknowledgement, error) {
	d, err := g.Current(ctx)
	if err != nil {
		return Acknowledgement{}, err
	}
	a, err := g.lookup(ctx, g.store.DB(), cn, d.URL)
	if err != nil {
		return Acknowledgement{}, err
	}
	if a == nil {
		return Acknowledgement{}, gerror.Errorf(gerror.NoAcknowledgement, "%s has not acknowledged %s", cn, d.URL)
	}
	return *a, nil
}

// Acknowledged reports whether cn has acknowledged the current disclaimer.
func (g *Guard) Acknowledged(ctx context.Context, cn string) (bool, error) {
	_, err := g.Acknowledgement(ctx, cn)
	if err == nil {
		return true, nil
	}
	if gerror.KindOf(err) == gerror.NoAcknowledgement {
		return false, nil
	}
	return false, err
}

func (g *Guard) lookup(ctx context.Context, q datastore.Dbhandle, cn, address string) (*Acknowledgement, error) {
	u := redcap.Unpivot{ProjectID: g.ackProjectID, Fields: []string{FieldAck, FieldTimestamp, FieldUserID, FieldAddress}}
	rows, err := g.store.RowsIn(ctx, q, u, redcap.Eq(FieldAddress, address), redcap.Eq(FieldUserID, cn))
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	r := rows[0]
	a := &Acknowledgement{Ack: r.Get(FieldAck), UserID: r.Get(FieldUserID), DisclaimerAddress: r.Get(FieldAddress)}
	if ts, err := redcap.ParseTime(r.Get(FieldTimestamp)); err == nil {
		a.Timestamp = ts
	} else {
		logger.Warningf("acknowledgement %s has a bad timestamp: %s", a.Ack, err.Error())
	}
	return a, nil
}

// MakeRedeem wraps power so that it can only be exercised with a vouched
// badge whose holder has acknowledged the current disclaimer. Errors from
// power come back unchanged.
func (g *Guard) MakeRedeem(power Power) Redeem {
	return func(ctx context.Context, b *notary.Badge) (interface{}, error) {
		b, err := g.inspector.Vouch(b)
		if err != nil {
			return nil, err
		}
		if _, err = g.Acknowledgement(ctx, b.CN()); err != nil {
			return nil, err
		}
		return power(ctx, b)
	}
}
