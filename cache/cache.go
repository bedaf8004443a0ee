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

// Package cache memoizes slow, idempotent remote lookups (directory
// entries, training dates) for a limited time.
package cache

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kumc-bmi/heronadmin/clock"
	gocache "github.com/pmylund/go-cache"
	"github.com/raintank/met"
	"github.com/tideland/golib/logger"
)

// Thunk fetches a value along with how long it may be kept.
type Thunk func() (time.Duration, interface{}, error)

var instances int64

// Cache is a keyed TTL cache. Expiry is judged by the cache's clock, not
// wall time, so tests can step it.
type Cache struct {
	id     string
	clk    clock.Clock
	store  *gocache.Cache
	m      sync.Mutex
	hits   int64
	misses int64
	hitCt  met.Count
	missCt met.Count
}

// entry is what goes in the store. go-cache's own expiry runs on wall
// time, so entries carry their expiry by the cache's clock.
type entry struct {
	value   interface{}
	expires time.Time
}

func (e entry) live(now time.Time) bool {
	return e.expires.After(now)
}

// Stats is a snapshot of a cache's counters.
type Stats struct {
	Hits   int64
	Misses int64
	Size   int
}

// New makes a cache. The name only shows up in logs; every cache also gets
// a unique number. mb may be nil.
func New(name string, clk clock.Clock, mb met.Backend) *Cache {
	n := atomic.AddInt64(&instances, 1)
	c := &Cache{
		id:    fmt.Sprintf("%s#%d", name, n),
		clk:   clk,
		store: gocache.New(gocache.NoExpiration, 0),
	}
	if mb != nil {
		c.hitCt = mb.NewCount("cache.hit")
		c.missCt = mb.NewCount("cache.miss")
	}
	return c
}

// ID returns the cache's identifier.
func (c *Cache) ID() string {
	return c.id
}

// Query returns the value for key, calling thunk for it when it's absent
// or expired. Errors from thunk are returned and not cached. Each miss
// prunes every expired entry first.
func (c *Cache) Query(key string, label string, thunk Thunk) (interface{}, error) {
	c.m.Lock()
	defer c.m.Unlock()

	now := c.clk.Now()
	if v, found := c.store.Get(key); found {
		if e, ok := v.(entry); ok && e.live(now) {
			c.hits++
			if c.hitCt != nil {
				c.hitCt.Inc(1)
			}
			logger.Debugf("cache %s hit %s: %s", c.id, label, key)
			return e.value, nil
		}
	}

	c.misses++
	if c.missCt != nil {
		c.missCt.Inc(1)
	}
	c.prune(now)
	logger.Debugf("cache %s miss %s: %s", c.id, label, key)

	ttl, v, err := thunk()
	if err != nil {
		return nil, err
	}
	c.store.Set(key, entry{value: v, expires: now.Add(ttl)}, gocache.NoExpiration)
	return v, nil
}

// prune drops entries whose time is up. Caller holds c.m.
func (c *Cache) prune(now time.Time) {
	for k, it := range c.store.Items() {
		if e, ok := it.Object.(entry); !ok || !e.live(now) {
			c.store.Delete(k)
		}
	}
}

// Forget drops key from the cache.
func (c *Cache) Forget(key string) {
	c.m.Lock()
	defer c.m.Unlock()
	c.store.Delete(key)
}

// Stats returns the cache's hit and miss counts and current size.
func (c *Cache) Stats() Stats {
	c.m.Lock()
	defer c.m.Unlock()
	return Stats{Hits: c.hits, Misses: c.misses, Size: c.store.ItemCount()}
}
