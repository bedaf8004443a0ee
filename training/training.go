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

// Package training looks up how long a person's human subjects training is
// good for.
package training

import (
	"bufio"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/kumc-bmi/heronadmin/cache"
	"github.com/kumc-bmi/heronadmin/gerror"
	"github.com/raintank/met"
	"github.com/tideland/golib/logger"
)

// Registry gives the ISO date someone's training expires, or a NoRecord
// error if there's none on file.
type Registry interface {
	TrainedThru(cn string) (string, error)
}

// Client asks the training registry web service: GET {url}?{param}={cn}.
// The body is empty when there's no record, or the expiration date.
type Client struct {
	url    string
	param  string
	http   *retryablehttp.Client
	timing met.Timer
}

// NewClient makes a registry client. mb may be nil.
func NewClient(baseURL, param string, timeout time.Duration, mb met.Backend) *Client {
	hc := retryablehttp.NewClient()
	hc.RetryMax = 3
	hc.RetryWaitMin = 200 * time.Millisecond
	hc.RetryWaitMax = 2 * time.Second
	hc.Logger = nil
	if timeout != 0 {
		hc.HTTPClient.Timeout = timeout
	}
	c := &Client{url: baseURL, param: param, http: hc}
	if mb != nil {
		c.timing = mb.NewTimer("training.lookup", 0)
	}
	return c
}

// TrainedThru implements Registry.
func (c *Client) TrainedThru(cn string) (string, error) {
	start := time.Now()
	defer func() {
		if c.timing != nil {
			c.timing.Value(time.Since(start))
		}
	}()

	u, err := url.Parse(c.url)
	if err != nil {
		return "", gerror.Wrap(gerror.Configuration, err)
	}
	q := u.Query()
	q.Set(c.param, cn)
	u.RawQuery = q.Encode()

	resp, err := c.http.Get(u.String())
	if err != nil {
		return "", gerror.Wrap(gerror.OperationalError, err)
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return "", noRecord(cn)
	case resp.StatusCode != http.StatusOK:
		return "", gerror.Errorf(gerror.OperationalError, "training registry said %s for %s", resp.Status, cn)
	}
	return parseBody(cn, resp.Body)
}

func parseBody(cn string, body io.Reader) (string, error) {
	s := bufio.NewScanner(io.LimitReader(body, 4096))
	if !s.Scan() {
		if err := s.Err(); err != nil {
			return "", gerror.Wrap(gerror.OperationalError, err)
		}
		return "", noRecord(cn)
	}
	line := strings.TrimSpace(s.Text())
	if line == "" {
		return "", noRecord(cn)
	}
	if _, err := time.Parse("2006-01-02", line); err != nil {
		return "", gerror.Errorf(gerror.OperationalError, "training registry gave %q for %s, not a date", line, cn)
	}
	logger.Debugf("training for %s good thru %s", cn, line)
	return line, nil
}

func noRecord(cn string) error {
	return gerror.Errorf(gerror.NoRecord, "no training record for %s", cn)
}

// Cached fronts a registry with a cache. Only successful lookups and "no
// record" answers are kept.
type Cached struct {
	r   Registry
	c   *cache.Cache
	ttl time.Duration
}

type cachedAnswer struct {
	date string
	err  error
}

// NewCached wraps r with c.
func NewCached(r Registry, c *cache.Cache, ttl time.Duration) *Cached {
	return &Cached{r: r, c: c, ttl: ttl}
}

// TrainedThru implements Registry.
func (t *Cached) TrainedThru(cn string) (string, error) {
	v, err := t.c.Query(cn, "training", func() (time.Duration, interface{}, error) {
		d, err := t.r.TrainedThru(cn)
		if err != nil && gerror.KindOf(err) != gerror.NoRecord {
			return 0, nil, err
		}
		return t.ttl, cachedAnswer{date: d, err: err}, nil
	})
	if err != nil {
		return "", err
	}
	a := v.(cachedAnswer)
	return a.date, a.err
}

// Current reports whether training good thru expiration is current on
// today. The expiration has to be in the future: training that expires
// today is out of date.
func Current(expiration string, today time.Time) bool {
	return fmt.Sprintf("%04d-%02d-%02d", today.Year(), today.Month(), today.Day()) < expiration
}

// Mock is a registry backed by a map of cn to expiration date.
type Mock map[string]string

// TrainedThru implements Registry.
func (m Mock) TrainedThru(cn string) (string, error) {
	if d, ok := m[cn]; ok && d != "" {
		return d, nil
	}
	return "", noRecord(cn)
}

// MockFromRecords builds a mock registry from directory records with a
// trainedThru attribute.
func MockFromRecords(recs []map[string]string, attr string) Mock {
	m := make(Mock)
	for _, r := range recs {
		if d := r[attr]; d != "" {
			m[r["cn"]] = d
		}
	}
	return m
}
