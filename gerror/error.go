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

// Package gerror defines the error type used throughout heronadmin. Each
// error carries a Kind from the access-governance taxonomy (denials like
// NoTraining, directory failures like UnknownUser, backend trouble like
// OperationalError) along with an HTTP-ish status code for callers that
// surface errors over the web.
//
// Denials nest under NoPermission: errors.Is(err, ErrNoPermission) is true
// for NotFaculty, NotExecutive, NotSponsored, NoTraining, NoAgreement and
// NoAcknowledgement errors.
package gerror

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an Error.
type Kind int

// The kinds of errors.
const (
	Other Kind = iota
	NoPermission
	NotFaculty
	NotExecutive
	NotSponsored
	NoTraining
	NoAgreement
	NoAcknowledgement
	UnknownUser
	Ambiguous
	NotVouchable
	OperationalError
	CannotInvite
	Configuration
	NoRecord
	NoDisclaimer
)

var kindNames = map[Kind]string{
	Other:             "Other",
	NoPermission:      "NoPermission",
	NotFaculty:        "NotFaculty",
	NotExecutive:      "NotExecutive",
	NotSponsored:      "NotSponsored",
	NoTraining:        "NoTraining",
	NoAgreement:       "NoAgreement",
	NoAcknowledgement: "NoAcknowledgement",
	UnknownUser:       "UnknownUser",
	Ambiguous:         "Ambiguous",
	NotVouchable:      "NotVouchable",
	OperationalError:  "OperationalError",
	CannotInvite:      "CannotInvite",
	Configuration:     "Configuration",
	NoRecord:          "NoRecord",
	NoDisclaimer:      "NoDisclaimer",
}

// default human readable reasons, mostly for denials.
var kindReasons = map[Kind]string{
	NoPermission:      "no permission",
	NotFaculty:        "not faculty",
	NotExecutive:      "not an executive",
	NotSponsored:      "not sponsored",
	NoTraining:        "no training on file",
	NoAgreement:       "no agreement on file",
	NoAcknowledgement: "no acknowledgement of current disclaimer",
	UnknownUser:       "unknown user",
	Ambiguous:         "ambiguous user id",
	NotVouchable:      "badge not vouchable",
	OperationalError:  "backend unavailable",
	CannotInvite:      "cannot invite",
	Configuration:     "configuration error",
	NoRecord:          "no record",
	NoDisclaimer:      "no current disclaimer",
}

var kindStatus = map[Kind]int{
	NoPermission:      http.StatusForbidden,
	NotFaculty:        http.StatusForbidden,
	NotExecutive:      http.StatusForbidden,
	NotSponsored:      http.StatusForbidden,
	NoTraining:        http.StatusForbidden,
	NoAgreement:       http.StatusForbidden,
	NoAcknowledgement: http.StatusForbidden,
	UnknownUser:       http.StatusNotFound,
	NoRecord:          http.StatusNotFound,
	NoDisclaimer:      http.StatusNotFound,
	Ambiguous:         http.StatusConflict,
	NotVouchable:      http.StatusInternalServerError,
	OperationalError:  http.StatusServiceUnavailable,
	CannotInvite:      http.StatusInternalServerError,
	Configuration:     http.StatusInternalServerError,
}

// String returns the name of the kind.
func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// IsDenial is true for NoPermission and everything under it.
func (k Kind) IsDenial() bool {
	return k >= NoPermission && k <= NoAcknowledgement
}

// Sentinel errors for use with errors.Is.
var (
	ErrNoPermission      = &gerror{kind: NoPermission, msg: kindReasons[NoPermission]}
	ErrNotFaculty        = &gerror{kind: NotFaculty, msg: kindReasons[NotFaculty]}
	ErrNotExecutive      = &gerror{kind: NotExecutive, msg: kindReasons[NotExecutive]}
	ErrNotSponsored      = &gerror{kind: NotSponsored, msg: kindReasons[NotSponsored]}
	ErrNoTraining        = &gerror{kind: NoTraining, msg: kindReasons[NoTraining]}
	ErrNoAgreement       = &gerror{kind: NoAgreement, msg: kindReasons[NoAgreement]}
	ErrNoAcknowledgement = &gerror{kind: NoAcknowledgement, msg: kindReasons[NoAcknowledgement]}
	ErrUnknownUser       = &gerror{kind: UnknownUser, msg: kindReasons[UnknownUser]}
	ErrAmbiguous         = &gerror{kind: Ambiguous, msg: kindReasons[Ambiguous]}
	ErrNotVouchable      = &gerror{kind: NotVouchable, msg: kindReasons[NotVouchable]}
	ErrOperational       = &gerror{kind: OperationalError, msg: kindReasons[OperationalError]}
	ErrCannotInvite      = &gerror{kind: CannotInvite, msg: kindReasons[CannotInvite]}
	ErrConfiguration     = &gerror{kind: Configuration, msg: kindReasons[Configuration]}
	ErrNoRecord          = &gerror{kind: NoRecord, msg: kindReasons[NoRecord]}
	ErrNoDisclaimer      = &gerror{kind: NoDisclaimer, msg: kindReasons[NoDisclaimer]}
)

// the private error struct
type gerror struct {
	kind   Kind
	msg    string
	status int
	err    error
}

// Error is an error type that includes a Kind and an http status code.
type Error interface {
	String() string
	Error() string
	Status() int
	SetStatus(int)
	Kind() Kind
}

// New makes a new Error of the given kind. An empty message is replaced by
// the kind's default reason.
func New(kind Kind, text string) Error {
	if text == "" {
		text = kindReasons[kind]
	}
	return &gerror{kind: kind, msg: text}
}

// Errorf creates a new Error, with a formatted error string.
func Errorf(kind Kind, format string, a ...interface{}) Error {
	return New(kind, fmt.Sprintf(format, a...))
}

// Wrap makes an Error of the given kind around another error. The wrapped
// error stays reachable with errors.Unwrap. A nil err returns nil.
func Wrap(kind Kind, err error) Error {
	if err == nil {
		return nil
	}
	return &gerror{kind: kind, msg: err.Error(), err: err}
}

// CastErr will easily cast a different kind of error to an Error. Errors
// that already are one are returned unchanged.
func CastErr(err error) Error {
	if err == nil {
		return nil
	}
	var g Error
	if errors.As(err, &g) {
		return g
	}
	return Wrap(Other, err)
}

// StatusError makes an error with a string and a HTTP status code.
func StatusError(msg string, status int) Error {
	return &gerror{kind: Other, msg: msg, status: status}
}

// Error returns the error message.
func (e *gerror) Error() string {
	return e.msg
}

// String returns the kind and msg as a string.
func (e *gerror) String() string {
	return fmt.Sprintf("%s: %s", e.kind, e.msg)
}

// Set the Error HTTP status code.
func (e *gerror) SetStatus(s int) {
	e.status = s
}

// Status returns the Error's HTTP status code.
func (e *gerror) Status() int {
	if e.status != 0 {
		return e.status
	}
	if s, ok := kindStatus[e.kind]; ok {
		return s
	}
	return http.StatusBadRequest
}

func (e *gerror) Kind() Kind {
	return e.kind
}

func (e *gerror) Unwrap() error {
	return e.err
}

// Is matches on kind, so any NoTraining error "is" ErrNoTraining. Every
// denial also matches ErrNoPermission.
func (e *gerror) Is(target error) bool {
	t, ok := target.(*gerror)
	if !ok {
		return false
	}
	if t.kind == e.kind {
		return true
	}
	return t.kind == NoPermission && e.kind.IsDenial()
}

// KindOf returns the Kind of err, or Other if err isn't an Error.
func KindOf(err error) Kind {
	var g Error
	if errors.As(err, &g) {
		return g.Kind()
	}
	return Other
}

// IsDenial reports whether err is a NoPermission error or one of its
// subkinds.
func IsDenial(err error) bool {
	return err != nil && KindOf(err).IsDenial()
}

// Reason gives the human readable reason for err, like "training out of
// date". Errors that aren't Errors give their message.
func Reason(err error) string {
	if err == nil {
		return ""
	}
	var g Error
	if errors.As(err, &g) {
		return g.Error()
	}
	return err.Error()
}
