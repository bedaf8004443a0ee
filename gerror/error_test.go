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

package gerror

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestDenialsAreNoPermission(t *testing.T) {
	denials := []Kind{NotFaculty, NotExecutive, NotSponsored, NoTraining, NoAgreement, NoAcknowledgement}
	for _, k := range denials {
		err := New(k, "")
		if !errors.Is(err, ErrNoPermission) {
			t.Errorf("%s error should match ErrNoPermission", k)
		}
		if !IsDenial(err) {
			t.Errorf("%s should be a denial", k)
		}
		if err.Status() != http.StatusForbidden {
			t.Errorf("%s status should be 403, got %d", k, err.Status())
		}
	}
	others := []Kind{UnknownUser, Ambiguous, NotVouchable, OperationalError, CannotInvite, Configuration, Other}
	for _, k := range others {
		err := New(k, "")
		if errors.Is(err, ErrNoPermission) {
			t.Errorf("%s error should not match ErrNoPermission", k)
		}
		if IsDenial(err) {
			t.Errorf("%s should not be a denial", k)
		}
	}
}

func TestIsMatchesKindOnly(t *testing.T) {
	err := New(NoTraining, "training out of date")
	if !errors.Is(err, ErrNoTraining) {
		t.Errorf("NoTraining should match ErrNoTraining")
	}
	if errors.Is(err, ErrNoAgreement) {
		t.Errorf("NoTraining should not match ErrNoAgreement")
	}
	if errors.Is(ErrNoPermission, ErrNoTraining) {
		t.Errorf("the abstract NoPermission error should not match a subkind")
	}
}

func TestReason(t *testing.T) {
	if r := Reason(New(NoTraining, "training out of date")); r != "training out of date" {
		t.Errorf("wrong reason %q", r)
	}
	if r := Reason(New(NoAgreement, "")); r != "no agreement on file" {
		t.Errorf("empty message should use the default reason, got %q", r)
	}
	wrapped := fmt.Errorf("checking: %w", New(NoTraining, "no training on file"))
	if r := Reason(wrapped); r != "no training on file" {
		t.Errorf("reason should come from the wrapped Error, got %q", r)
	}
	if Reason(nil) != "" {
		t.Errorf("nil error should have an empty reason")
	}
}

func TestWrapAndKindOf(t *testing.T) {
	base := errors.New("connection refused")
	err := Wrap(OperationalError, base)
	if !errors.Is(err, base) {
		t.Errorf("wrapped error should still be reachable")
	}
	if KindOf(err) != OperationalError {
		t.Errorf("wrong kind %s", KindOf(err))
	}
	if KindOf(base) != Other {
		t.Errorf("plain errors should be Other")
	}
	if Wrap(OperationalError, nil) != nil {
		t.Errorf("wrapping nil should give nil")
	}
	c := CastErr(err)
	if c.Kind() != OperationalError {
		t.Errorf("CastErr should not change an Error's kind")
	}
	if err.Status() != http.StatusServiceUnavailable {
		t.Errorf("wrong status %d", err.Status())
	}
	err.SetStatus(http.StatusTeapot)
	if err.Status() != http.StatusTeapot {
		t.Errorf("SetStatus didn't take")
	}
}
