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

// Package clock provides the time source used by the policy engine and the
// caches, so tests can pin "today".
package clock

import (
	"sync"
	"time"
)

// Clock tells the time.
type Clock interface {
	Now() time.Time
	// Today is Now truncated to midnight in Now's location.
	Today() time.Time
}

// System is the real clock.
type System struct{}

// Now returns time.Now().
func (System) Now() time.Time {
	return time.Now()
}

// Today returns the current date.
func (s System) Today() time.Time {
	return Date(s.Now())
}

// Mock is a settable clock for tests.
type Mock struct {
	m   sync.Mutex
	now time.Time
}

// NewMock makes a mock clock set to t.
func NewMock(t time.Time) *Mock {
	return &Mock{now: t}
}

// Now returns the mock's current time.
func (c *Mock) Now() time.Time {
	c.m.Lock()
	defer c.m.Unlock()
	return c.now
}

// Today returns the mock's current date.
func (c *Mock) Today() time.Time {
	return Date(c.Now())
}

// Set the mock's time.
func (c *Mock) Set(t time.Time) {
	c.m.Lock()
	defer c.m.Unlock()
	c.now = t
}

// Advance moves the mock's time forward by d.
func (c *Mock) Advance(d time.Duration) {
	c.m.Lock()
	defer c.m.Unlock()
	c.now = c.now.Add(d)
}

// Date truncates t to midnight.
func Date(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// ISODate formats t as YYYY-MM-DD.
func ISODate(t time.Time) string {
	return t.Format("2006-01-02")
}
