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

// Package policy decides who may use HERON. A person qualifies as faculty,
// as an executive, or by sponsorship; a qualified person gets repository
// access once their training is current and they have signed the system
// access agreement.
package policy

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/kumc-bmi/heronadmin/clock"
	"github.com/kumc-bmi/heronadmin/config"
	"github.com/kumc-bmi/heronadmin/disclaimer"
	"github.com/kumc-bmi/heronadmin/gerror"
	"github.com/kumc-bmi/heronadmin/notary"
	"github.com/kumc-bmi/heronadmin/training"
	"github.com/raintank/met"
	"github.com/tideland/golib/logger"
)

// Qualifier is the way someone qualified.
type Qualifier int

// Qualifiers, in the order QAny tries them.
const (
	Faculty Qualifier = iota
	Executive
	Sponsored
)

func (q Qualifier) String() string {
	switch q {
	case Faculty:
		return "faculty"
	case Executive:
		return "executive"
	case Sponsored:
		return "sponsored"
	}
	return fmt.Sprintf("Qualifier(%d)", int(q))
}

// Qualification is a successful qualifying probe.
type Qualification struct {
	Kind  Qualifier
	Badge *notary.Badge
}

func (q Qualification) String() string {
	return fmt.Sprintf("OK(%s as %s)", q.Badge.CN(), q.Kind)
}

// Access is what a qualified, trained, signed-up person gets.
type Access struct {
	Badge              *notary.Badge
	TrainingExpiration string
	Disclaimer         disclaimer.Disclaimer
}

func (a Access) String() string {
	return fmt.Sprintf("Access(%s)", a.Badge.CN())
}

// Directory issues badges.
type Directory interface {
	Affiliate(cn string) (*notary.Badge, error)
}

// Sponsors knows who is sponsored to query HERON.
type Sponsors interface {
	Sponsored(ctx context.Context, cn string) (bool, error)
}

// Agreements knows who has signed the system access agreement, by mail
// address.
type Agreements interface {
	Signed(ctx context.Context, email string) (bool, error)
}

// Disclaimers gives the current disclaimer.
type Disclaimers interface {
	Current(ctx context.Context) (disclaimer.Disclaimer, error)
}

// Executives knows who is in the executive group.
type Executives interface {
	Active(ctx context.Context, cn string) (bool, error)
}

// Deps are the engine's collaborators.
type Deps struct {
	Directory   Directory
	Training    training.Registry
	Sponsors    Sponsors
	Agreements  Agreements
	Disclaimers Disclaimers
	Executives  Executives
	Inspector   *notary.Inspector
	Clock       clock.Clock
	Metrics     met.Backend
}

// Engine evaluates policy. Make a Request from it for each thing being
// decided.
type Engine struct {
	Deps
	excluded   string
	executives map[string]bool
	timer      met.Timer
}

// New makes a policy engine. The excluded job code and the executives
// named in the configuration come from pc.
func New(d Deps, pc config.PolicyConf) *Engine {
	e := &Engine{Deps: d, excluded: pc.ExcludedJobCode, executives: make(map[string]bool)}
	if e.excluded == "" {
		e.excluded = config.DefaultExcludedJobCode
	}
	for _, x := range pc.Executives {
		e.executives[x] = true
	}
	if e.Clock == nil {
		e.Clock = clock.System{}
	}
	if d.Metrics != nil {
		e.timer = d.Metrics.NewTimer("policy.eval", 0)
	}
	return e
}

// Request evaluates policy for one request, remembering every lookup so
// each backend is asked at most once per person.
type Request struct {
	e    *Engine
	m    sync.Mutex
	memo map[string]memoized
}

type memoized struct {
	v   interface{}
	err error
}

// NewRequest starts a request.
func (e *Engine) NewRequest() *Request {
	return &Request{e: e, memo: make(map[string]memoized)}
}

func (r *Request) remember(key string, f func() (interface{}, error)) (interface{}, error) {
	r.m.Lock()
	if m, ok := r.memo[key]; ok {
		r.m.Unlock()
		return m.v, m.err
	}
	r.m.Unlock()
	v, err := f()
	r.m.Lock()
	r.memo[key] = memoized{v, err}
	r.m.Unlock()
	return v, err
}

func (r *Request) timed(start time.Time) {
	if r.e.timer != nil {
		r.e.timer.Value(time.Since(start))
	}
}

// Affiliate looks up cn in the directory.
func (r *Request) Affiliate(cn string) (*notary.Badge, error) {
	v, err := r.remember("affiliate:"+cn, func() (interface{}, error) {
		return r.e.Directory.Affiliate(cn)
	})
	if err != nil {
		return nil, err
	}
	return v.(*notary.Badge), nil
}

// QFaculty qualifies faculty: the faculty flag is Y and the job code isn't
// the excluded one.
func (r *Request) QFaculty(ctx context.Context, b *notary.Badge) (Qualification, error) {
	b, err := r.e.Inspector.Vouch(b)
	if err != nil {
		return Qualification{}, err
	}
	if b.FacultyFlag() != "Y" {
		return Qualification{}, gerror.Errorf(gerror.NotFaculty, "%s is not faculty", b.CN())
	}
	if b.JobCode() == r.e.excluded {
		return Qualification{}, gerror.Errorf(gerror.NotFaculty, "%s has excluded job code %s", b.CN(), b.JobCode())
	}
	return Qualification{Kind: Faculty, Badge: b}, nil
}

// QExecutive qualifies members of the executive group and executives
// named in the configuration.
func (r *Request) QExecutive(ctx context.Context, b *notary.Badge) (Qualification, error) {
	b, err := r.e.Inspector.Vouch(b)
	if err != nil {
		return Qualification{}, err
	}
	ok := r.e.executives[b.CN()]
	if !ok && r.e.Executives != nil {
		v, err := r.remember("executive:"+b.CN(), func() (interface{}, error) {
			return r.e.Executives.Active(ctx, b.CN())
		})
		if err != nil {
			return Qualification{}, err
		}
		ok = v.(bool)
	}
	if !ok {
		return Qualification{}, gerror.Errorf(gerror.NotExecutive, "%s is not an executive", b.CN())
	}
	return Qualification{Kind: Executive, Badge: b}, nil
}

// QSponsored qualifies people sponsored to query HERON by an approved,
// current oversight request.
func (r *Request) QSponsored(ctx context.Context, b *notary.Badge) (Qualification, error) {
	b, err := r.e.Inspector.Vouch(b)
	if err != nil {
		return Qualification{}, err
	}
	v, err := r.remember("sponsored:"+b.CN(), func() (interface{}, error) {
		return r.e.Sponsors.Sponsored(ctx, b.CN())
	})
	if err != nil {
		return Qualification{}, err
	}
	if !v.(bool) {
		return Qualification{}, gerror.Errorf(gerror.NotSponsored, "%s is not sponsored", b.CN())
	}
	return Qualification{Kind: Sponsored, Badge: b}, nil
}

type probe struct {
	kind Qualifier
	q    func(context.Context, *notary.Badge) (Qualification, error)
}

func (r *Request) probes() []probe {
	return []probe{
		{Faculty, r.QFaculty},
		{Executive, r.QExecutive},
		{Sponsored, r.QSponsored},
	}
}

// QAny tries faculty, then executive, then sponsored, and returns the
// first qualification. A denial moves on to the next probe; any other
// error stops the search and is returned. If every probe denies, the
// result is NoPermission.
func (r *Request) QAny(ctx context.Context, b *notary.Badge) (Qualification, error) {
	defer r.timed(time.Now())
	var reasons []string
	for _, p := range r.probes() {
		q, err := p.q(ctx, b)
		if err == nil {
			return q, nil
		}
		if !gerror.IsDenial(err) {
			return Qualification{}, err
		}
		reasons = append(reasons, gerror.Reason(err))
	}
	return Qualification{}, gerror.Errorf(gerror.NoPermission, "no permission: %s", strings.Join(reasons, "; "))
}

// TrainingExpiration gives the date b's training is good thru, current or
// not. No record is NoTraining.
func (r *Request) TrainingExpiration(ctx context.Context, b *notary.Badge) (string, error) {
	b, err := r.e.Inspector.Vouch(b)
	if err != nil {
		return "", err
	}
	v, err := r.remember("training:"+b.CN(), func() (interface{}, error) {
		return r.e.Training.TrainedThru(b.CN())
	})
	if err != nil {
		if gerror.KindOf(err) == gerror.NoRecord {
			return "", gerror.New(gerror.NoTraining, "no training on file")
		}
		return "", err
	}
	return v.(string), nil
}

// Training gives the date b's training is good thru if it's current, and
// NoTraining otherwise.
func (r *Request) Training(ctx context.Context, b *notary.Badge) (string, error) {
	exp, err := r.TrainingExpiration(ctx, b)
	if err != nil {
		return "", err
	}
	if !training.Current(exp, r.e.Clock.Today()) {
		return exp, gerror.New(gerror.NoTraining, "training out of date")
	}
	return exp, nil
}

// Signature checks that b has signed the system access agreement.
func (r *Request) Signature(ctx context.Context, b *notary.Badge) error {
	b, err := r.e.Inspector.Vouch(b)
	if err != nil {
		return err
	}
	v, err := r.remember("signature:"+b.CN(), func() (interface{}, error) {
		if b.Mail() == "" {
			return false, nil
		}
		return r.e.Agreements.Signed(ctx, b.Mail())
	})
	if err != nil {
		return err
	}
	if !v.(bool) {
		return gerror.New(gerror.NoAgreement, "no agreement on file")
	}
	return nil
}

// RepositoryAccess turns a qualification into access, provided training
// is current and the agreement is signed.
func (r *Request) RepositoryAccess(ctx context.Context, q Qualification) (Access, error) {
	defer r.timed(time.Now())
	b, err := r.e.Inspector.Vouch(q.Badge)
	if err != nil {
		return Access{}, err
	}
	exp, err := r.Training(ctx, b)
	if err != nil {
		logger.Debugf("%s denied access: %s", b.CN(), err.Error())
		return Access{}, err
	}
	if err = r.Signature(ctx, b); err != nil {
		logger.Debugf("%s denied access: %s", b.CN(), err.Error())
		return Access{}, err
	}
	v, err := r.remember("disclaimer", func() (interface{}, error) {
		return r.e.Disclaimers.Current(ctx)
	})
	if err != nil {
		return Access{}, err
	}
	return Access{Badge: b, TrainingExpiration: exp, Disclaimer: v.(disclaimer.Disclaimer)}, nil
}
