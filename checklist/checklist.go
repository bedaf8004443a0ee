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

// Package checklist shows a person where they stand on each HERON access
// requirement.
package checklist

import (
	"context"
	"fmt"
	"strings"

	"github.com/kumc-bmi/heronadmin/gerror"
	"github.com/kumc-bmi/heronadmin/notary"
	"github.com/kumc-bmi/heronadmin/policy"
	"github.com/tideland/golib/logger"
)

// Checklist keys, as used in Reasons.
const (
	KeyTraining       = "training"
	KeyExecutive      = "executive"
	KeyFaculty        = "faculty"
	KeySignature      = "signatureOnFile"
	KeySponsored      = "sponsored"
	KeyAcknowledgment = "acknowledgement"
	KeyRepository     = "repositoryUser"
)

// Checklist is one person's standing.
type Checklist struct {
	Affiliate          *notary.Badge
	TrainingExpired    bool
	TrainingExpiration string
	Executive          bool
	Faculty            bool
	SignatureOnFile    bool
	Sponsored          bool
	Acknowledged       bool
	RepositoryUser     *policy.Access
	// Reasons says why each unchecked item is unchecked.
	Reasons map[string]string
}

// Acknowledgements tells whether someone has acknowledged the current
// disclaimer.
type Acknowledgements interface {
	Acknowledged(ctx context.Context, cn string) (bool, error)
}

// For works out the checklist for cn. Denials just leave items unchecked;
// a backend failure on one item is logged and noted in Reasons. Directory
// failures and unvouchable badges are returned. acks may be nil.
func For(ctx context.Context, e *policy.Engine, acks Acknowledgements, cn string) (Checklist, error) {
	r := e.NewRequest()
	b, err := r.Affiliate(cn)
	if err != nil {
		return Checklist{}, err
	}
	c := Checklist{Affiliate: b, Reasons: make(map[string]string)}

	check := func(key string, err error) (bool, error) {
		switch {
		case err == nil:
			return true, nil
		case gerror.IsDenial(err):
			c.Reasons[key] = gerror.Reason(err)
			return false, nil
		case gerror.KindOf(err) == gerror.NotVouchable:
			return false, err
		}
		logger.Warningf("checklist for %s: %s unavailable: %s", cn, key, err.Error())
		c.Reasons[key] = fmt.Sprintf("unavailable: %s", err.Error())
		return false, nil
	}

	exp, terr := r.Training(ctx, b)
	c.TrainingExpiration = exp
	current, err := check(KeyTraining, terr)
	if err != nil {
		return Checklist{}, err
	}
	c.TrainingExpired = !current

	probes := []struct {
		key string
		dst *bool
		err func() error
	}{
		{KeyExecutive, &c.Executive, func() error { _, err := r.QExecutive(ctx, b); return err }},
		{KeyFaculty, &c.Faculty, func() error { _, err := r.QFaculty(ctx, b); return err }},
		{KeySignature, &c.SignatureOnFile, func() error { return r.Signature(ctx, b) }},
		{KeySponsored, &c.Sponsored, func() error { _, err := r.QSponsored(ctx, b); return err }},
	}
	for _, p := range probes {
		if *p.dst, err = check(p.key, p.err()); err != nil {
			return Checklist{}, err
		}
	}

	if acks != nil {
		ok, aerr := acks.Acknowledged(ctx, cn)
		if aerr == nil && !ok {
			aerr = gerror.New(gerror.NoAcknowledgement, "")
		}
		if c.Acknowledged, err = check(KeyAcknowledgment, aerr); err != nil {
			return Checklist{}, err
		}
	}

	q, qerr := r.QAny(ctx, b)
	if qerr == nil {
		a, aerr := r.RepositoryAccess(ctx, q)
		if aerr == nil {
			c.RepositoryUser = &a
		}
		qerr = aerr
	}
	if _, err = check(KeyRepository, qerr); err != nil {
		return Checklist{}, err
	}
	return c, nil
}

func mark(ok bool) string {
	if ok {
		return "[x]"
	}
	return "[ ]"
}

// String lays the checklist out for a terminal.
func (c Checklist) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "affiliate: %s\n", c.Affiliate)
	line := func(ok bool, label, key string) {
		fmt.Fprintf(&b, "%s %s", mark(ok), label)
		if r, found := c.Reasons[key]; found && !ok {
			fmt.Fprintf(&b, " (%s)", r)
		}
		b.WriteString("\n")
	}
	exp := c.TrainingExpiration
	if exp == "" {
		exp = "none"
	}
	line(!c.TrainingExpired, fmt.Sprintf("training current (expires %s)", exp), KeyTraining)
	line(c.Executive, "executive", KeyExecutive)
	line(c.Faculty, "faculty", KeyFaculty)
	line(c.SignatureOnFile, "system access agreement on file", KeySignature)
	line(c.Sponsored, "sponsored", KeySponsored)
	line(c.Acknowledged, "disclaimer acknowledged", KeyAcknowledgment)
	line(c.RepositoryUser != nil, "repository access", KeyRepository)
	return b.String()
}
