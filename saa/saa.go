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

// Package saa issues invitations to the HERON System Access Agreement
// survey and checks who has signed it.
//
// Invitations are REDCap survey participant rows whose hash is the secret
// part of the survey link, so a participant can't sign for somebody else.
package saa

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"math/big"
	"time"

	"github.com/kumc-bmi/heronadmin/datastore"
	"github.com/kumc-bmi/heronadmin/gerror"
	"github.com/kumc-bmi/heronadmin/redcap"
	"github.com/raintank/met"
	"github.com/tideland/golib/logger"
)

// HashAlphabet leaves out characters that are easy to mistake for one
// another (l, O, 0, 1).
const HashAlphabet = "abcdefghijkmnopqrstuvwxyzABCDEFGHIJKLMNPQRSTUVWXYZ23456789"

// HashLen is the length of an invitation hash.
const HashLen = 6

// Defaults.
const (
	DefaultTries   = 5
	DefaultRetries = 10
)

// Response is a survey response.
type Response = redcap.Response

// Fallback is what Responses reports while the survey database is down,
// if Enabled: a known signature, so the agreement check stays available.
type Fallback struct {
	Enabled bool
	Record  string
	SigTime time.Time
}

// Options tune an Agreement. Zero values get defaults.
type Options struct {
	// Tries is how many hashes Invite tries before giving up.
	Tries int
	// Retries is how many times Responses asks the database before
	// falling back.
	Retries  int
	Fallback Fallback
	// HashSource makes invitation hashes; RandomHash by default.
	HashSource func() (string, error)
	// Sleep waits between Responses retries.
	Sleep   func(time.Duration)
	Metrics met.Backend
}

// Agreement is the system access agreement survey.
type Agreement struct {
	store      *redcap.Store
	surveyID   int
	tries      int
	retries    int
	fallback   Fallback
	hash       func() (string, error)
	sleep      func(time.Duration)
	fallbackCt met.Count
}

// New sets up the agreement survey.
func New(store *redcap.Store, surveyID int, opts Options) *Agreement {
	a := &Agreement{
		store:    store,
		surveyID: surveyID,
		tries:    opts.Tries,
		retries:  opts.Retries,
		fallback: opts.Fallback,
		hash:     opts.HashSource,
		sleep:    opts.Sleep,
	}
	if a.tries <= 0 {
		a.tries = DefaultTries
	}
	if a.retries <= 0 {
		a.retries = DefaultRetries
	}
	if a.hash == nil {
		a.hash = RandomHash
	}
	if a.sleep == nil {
		a.sleep = time.Sleep
	}
	if opts.Metrics != nil {
		a.fallbackCt = opts.Metrics.NewCount("saa.fallback")
	}
	return a
}

// SurveyID is the agreement survey's id.
func (a *Agreement) SurveyID() int {
	return a.surveyID
}

// RandomHash makes an invitation hash: HashLen different characters from
// HashAlphabet.
func RandomHash() (string, error) {
	cs := []byte(HashAlphabet)
	for i := 0; i < HashLen; i++ {
		j, err := rand.Int(rand.Reader, big.NewInt(int64(len(cs)-i)))
		if err != nil {
			return "", err
		}
		k := i + int(j.Int64())
		cs[i], cs[k] = cs[k], cs[i]
	}
	return string(cs[:HashLen]), nil
}

var errClash = errors.New("hash clash")

// Invite returns the invitation hash for email, making an invitation if
// there isn't one yet. With multi set a new invitation is always made, so
// the same address can respond more than once. After too many hash
// clashes or failed inserts it gives up with CannotInvite.
func (a *Agreement) Invite(ctx context.Context, email string, multi bool) (string, error) {
	db := a.store.DB()
	eventID, err := a.store.EventID(ctx, a.surveyID)
	if err != nil {
		return "", err
	}
	if !multi {
		p, err := a.store.ParticipantByEmail(ctx, db, a.surveyID, eventID, email)
		if err != nil {
			return "", err
		}
		if p != nil {
			return p.Hash, nil
		}
	}
	var failure error
	for attempt := 0; attempt < a.tries; attempt++ {
		nonce, err := a.hash()
		if err != nil {
			return "", err
		}
		err = datastore.InTx(ctx, db, func(tx *sql.Tx) error {
			taken, err := a.store.HashTaken(ctx, tx, a.surveyID, eventID, nonce)
			if err != nil {
				return err
			}
			if taken {
				return errClash
			}
			return a.store.InsertParticipant(ctx, tx, redcap.Participant{
				SurveyID: a.surveyID,
				EventID:  eventID,
				Email:    email,
				Hash:     nonce,
			})
		})
		if err == nil {
			logger.Debugf("invited %s to survey %d", email, a.surveyID)
			return nonce, nil
		}
		if err == errClash {
			logger.Debugf("invitation hash clash for %s, attempt %d", email, attempt+1)
		} else {
			logger.Warningf("inviting %s to survey %d: %s", email, a.surveyID, err.Error())
		}
		failure = err
	}
	return "", gerror.Errorf(gerror.CannotInvite, "cannot invite %s after %d tries: %s", email, a.tries, failure.Error())
}

// Responses lists email's responses to the agreement survey. If the
// database stays unavailable through all the retries and a fallback is
// configured, the fallback response is reported instead of the error.
func (a *Agreement) Responses(ctx context.Context, email string) ([]Response, error) {
	var err error
	for i := 0; i < a.retries; i++ {
		var resp []Response
		resp, err = a.responses(ctx, email)
		if err == nil {
			return resp, nil
		}
		if gerror.KindOf(err) != gerror.OperationalError {
			return nil, err
		}
		logger.Debugf("agreement responses for %s, attempt %d: %s", email, i+1, err.Error())
		if i+1 < a.retries {
			a.sleep(backoff(i))
		}
	}
	if !a.fallback.Enabled {
		return nil, err
	}
	logger.Warningf("survey database unavailable looking up agreement for %s (%s); using fallback record %s", email, err.Error(), a.fallback.Record)
	if a.fallbackCt != nil {
		a.fallbackCt.Inc(1)
	}
	return []Response{{Record: a.fallback.Record, CompletionTime: a.fallback.SigTime}}, nil
}

func (a *Agreement) responses(ctx context.Context, email string) ([]Response, error) {
	eventID, err := a.store.EventID(ctx, a.surveyID)
	if err != nil {
		return nil, err
	}
	return a.store.ResponsesByEmail(ctx, a.surveyID, eventID, email)
}

// Signed reports whether email has responded to the agreement survey.
func (a *Agreement) Signed(ctx context.Context, email string) (bool, error) {
	resp, err := a.Responses(ctx, email)
	if err != nil {
		return false, err
	}
	return len(resp) > 0, nil
}

func backoff(attempt int) time.Duration {
	d := 100 * time.Millisecond << uint(attempt)
	if d > 5*time.Second {
		d = 5 * time.Second
	}
	return d
}
