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

// Package directory looks people up in the medical center directory, by
// login id or by name prefix, and hands back notarized badges.
package directory

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-ldap/ldap/v3"
	"github.com/kumc-bmi/heronadmin/cache"
	"github.com/kumc-bmi/heronadmin/gerror"
	"github.com/kumc-bmi/heronadmin/notary"
	"github.com/tideland/golib/logger"
)

// Directory attribute names.
const (
	AttrCN        = "cn"
	AttrSN        = "sn"
	AttrGivenName = "givenname"
	AttrMail      = "mail"
	AttrOU        = "ou"
	AttrTitle     = "title"
	AttrFaculty   = "kumcPersonFaculty"
	AttrJobCode   = "kumcPersonJobcode"
)

// BadgeAttrs are the attributes fetched for a badge.
var BadgeAttrs = []string{AttrCN, AttrOU, AttrSN, AttrGivenName, AttrTitle, AttrMail, AttrFaculty, AttrJobCode}

// Entry is one search result: a distinguished name and its attributes.
type Entry struct {
	DN    string
	Attrs map[string][]string
}

// Get returns the first value of an attribute, or "". Attribute names are
// matched without regard to case.
func (e Entry) Get(attr string) string {
	if v, ok := e.Attrs[attr]; ok && len(v) > 0 {
		return v[0]
	}
	for k, v := range e.Attrs {
		if strings.EqualFold(k, attr) && len(v) > 0 {
			return v[0]
		}
	}
	return ""
}

// Searcher runs directory queries. Filters are limited to (cn=<id>) and
// conjunctions of prefix wildcards like (&(sn=Sm*)(givenname=J*)).
type Searcher interface {
	Search(filter string, attrs []string) ([]Entry, error)
}

// Service issues badges for directory entries.
type Service struct {
	s     Searcher
	n     *notary.Notary
	c     *cache.Cache
	ttl   time.Duration
	limit int
}

// New makes a directory service. Affiliate lookups are cached in c for ttl;
// c may be nil.
func New(s Searcher, n *notary.Notary, c *cache.Cache, ttl time.Duration) *Service {
	return &Service{s: s, n: n, c: c, ttl: ttl, limit: 100}
}

// Affiliate looks up the person with login id cn and issues them a badge.
// It fails with UnknownUser if there's no such person and Ambiguous if
// there's more than one.
func (d *Service) Affiliate(cn string) (*notary.Badge, error) {
	if d.c == nil {
		return d.affiliate(cn)
	}
	v, err := d.c.Query(cn, "affiliate", func() (time.Duration, interface{}, error) {
		b, err := d.affiliate(cn)
		return d.ttl, b, err
	})
	if err != nil {
		return nil, err
	}
	return v.(*notary.Badge), nil
}

func (d *Service) affiliate(cn string) (*notary.Badge, error) {
	if cn == "" {
		return nil, gerror.New(gerror.UnknownUser, "unknown user: empty id")
	}
	filter := fmt.Sprintf("(%s=%s)", AttrCN, ldap.EscapeFilter(cn))
	entries, err := d.s.Search(filter, BadgeAttrs)
	if err != nil {
		return nil, err
	}
	switch len(entries) {
	case 0:
		return nil, gerror.Errorf(gerror.UnknownUser, "unknown user: %s", cn)
	case 1:
		return d.badge(entries[0]), nil
	default:
		logger.Warningf("%d directory entries for %s", len(entries), cn)
		return nil, gerror.Errorf(gerror.Ambiguous, "ambiguous user id: %s", cn)
	}
}

// Lookup is Affiliate by another name, for browsing the directory.
func (d *Service) Lookup(cn string) (*notary.Badge, error) {
	return d.Affiliate(cn)
}

// AffiliateSearch finds up to max people whose cn, family name, and given
// name start with the given prefixes. Empty prefixes are ignored; if all of
// them are empty the result is empty rather than the whole directory.
func (d *Service) AffiliateSearch(max int, cn, sn, givenname string) ([]*notary.Badge, error) {
	filter := PrefixFilter(map[string]string{AttrCN: cn, AttrSN: sn, AttrGivenName: givenname})
	if filter == "" || max <= 0 {
		return nil, nil
	}
	if max > d.limit {
		max = d.limit
	}
	entries, err := d.s.Search(filter, BadgeAttrs)
	if err != nil {
		return nil, err
	}
	if len(entries) > max {
		entries = entries[:max]
	}
	badges := make([]*notary.Badge, len(entries))
	for i, e := range entries {
		badges[i] = d.badge(e)
	}
	return badges, nil
}

// PrefixFilter builds an LDAP filter requiring each non-empty prefix, in
// cn, sn, givenname order. It returns "" if every prefix is empty.
func PrefixFilter(prefixes map[string]string) string {
	var clauses []string
	for _, attr := range []string{AttrCN, AttrSN, AttrGivenName} {
		p := prefixes[attr]
		if p == "" {
			continue
		}
		clauses = append(clauses, fmt.Sprintf("(%s=%s*)", attr, ldap.EscapeFilter(p)))
	}
	switch len(clauses) {
	case 0:
		return ""
	case 1:
		return clauses[0]
	}
	return fmt.Sprintf("(&%s)", strings.Join(clauses, ""))
}

func (d *Service) badge(e Entry) *notary.Badge {
	return d.n.Issue(notary.Attrs{
		CN:          e.Get(AttrCN),
		SN:          e.Get(AttrSN),
		GivenName:   e.Get(AttrGivenName),
		Mail:        e.Get(AttrMail),
		OU:          e.Get(AttrOU),
		Title:       e.Get(AttrTitle),
		FacultyFlag: e.Get(AttrFaculty),
		JobCode:     e.Get(AttrJobCode),
	})
}
