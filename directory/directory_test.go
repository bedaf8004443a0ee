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

package directory

import (
	"testing"
	"time"

	"github.com/kumc-bmi/heronadmin/cache"
	"github.com/kumc-bmi/heronadmin/clock"
	"github.com/kumc-bmi/heronadmin/gerror"
	"github.com/kumc-bmi/heronadmin/notary"
)

type countingSearcher struct {
	Searcher
	calls int
}

func (c *countingSearcher) Search(filter string, attrs []string) ([]Entry, error) {
	c.calls++
	return c.Searcher.Search(filter, attrs)
}

func mockService(t *testing.T) (*Service, *notary.Notary, *countingSearcher) {
	m, err := NewMock("testdata/mockDirectory.csv")
	if err != nil {
		t.Fatal(err)
	}
	n, err := notary.New()
	if err != nil {
		t.Fatal(err)
	}
	cs := &countingSearcher{Searcher: m}
	c := cache.New("directory", clock.NewMock(time.Now()), nil)
	return New(cs, n, c, time.Hour), n, cs
}

func TestAffiliate(t *testing.T) {
	d, n, _ := mockService(t)
	b, err := d.Affiliate("john.smith")
	if err != nil {
		t.Fatal(err)
	}
	if b.Mail() != "john.smith@js.example" || b.FacultyFlag() != "Y" || b.JobCode() != "1234" {
		t.Errorf("wrong badge attributes: %+v", b.Attrs())
	}
	if _, err := n.Inspector().Vouch(b); err != nil {
		t.Errorf("directory badges should be vouchable: %s", err)
	}
}

func TestAffiliateFailures(t *testing.T) {
	d, _, _ := mockService(t)
	if _, err := d.Affiliate("no.body"); gerror.KindOf(err) != gerror.UnknownUser {
		t.Errorf("expected UnknownUser, got %v", err)
	}
	if _, err := d.Affiliate("dup.user"); gerror.KindOf(err) != gerror.Ambiguous {
		t.Errorf("expected Ambiguous, got %v", err)
	}
	if _, err := d.Affiliate(""); gerror.KindOf(err) != gerror.UnknownUser {
		t.Errorf("empty id should be UnknownUser, got %v", err)
	}
}

func TestAffiliateCached(t *testing.T) {
	d, _, cs := mockService(t)
	d.Affiliate("some.one")
	d.Affiliate("some.one")
	d.Lookup("some.one")
	if cs.calls != 1 {
		t.Errorf("repeat lookups should hit the cache; searched %d times", cs.calls)
	}
}

func TestAffiliateSearch(t *testing.T) {
	d, _, _ := mockService(t)
	tests := []struct {
		cn, sn, given string
		max           int
		want          []string
	}{
		{"john.smith", "", "", 5, []string{"john.smith"}},
		{"", "Student", "", 10, []string{"bill.student", "carol.student", "jill.student"}},
		{"", "stud", "j", 10, []string{"jill.student"}},
		{"", "Student", "", 2, []string{"bill.student", "carol.student"}},
		{"", "", "", 10, nil},
		{"zz", "", "", 10, nil},
	}
	for _, tc := range tests {
		got, err := d.AffiliateSearch(tc.max, tc.cn, tc.sn, tc.given)
		if err != nil {
			t.Errorf("search %+v: %s", tc, err)
			continue
		}
		if len(got) != len(tc.want) {
			t.Errorf("search %q %q %q: wanted %v, got %d badges", tc.cn, tc.sn, tc.given, tc.want, len(got))
			continue
		}
		for i, b := range got {
			if b.CN() != tc.want[i] {
				t.Errorf("search %q %q %q: result %d should be %s, got %s", tc.cn, tc.sn, tc.given, i, tc.want[i], b.CN())
			}
		}
	}
}

func TestPrefixFilter(t *testing.T) {
	if f := PrefixFilter(map[string]string{}); f != "" {
		t.Errorf("all empty prefixes should give no filter, got %s", f)
	}
	if f := PrefixFilter(map[string]string{AttrSN: "Sm"}); f != "(sn=Sm*)" {
		t.Errorf("wrong single filter %s", f)
	}
	f := PrefixFilter(map[string]string{AttrSN: "Sm", AttrGivenName: "J", AttrCN: "j"})
	if f != "(&(cn=j*)(sn=Sm*)(givenname=J*))" {
		t.Errorf("wrong conjunction %s", f)
	}
	if f := PrefixFilter(map[string]string{AttrCN: "a*b"}); f != `(cn=a\2ab*)` {
		t.Errorf("wildcards in prefixes should be escaped, got %s", f)
	}
}

func TestMockFilters(t *testing.T) {
	m, err := NewMock("testdata/mockDirectory.csv")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.Search("cn=john.smith", BadgeAttrs); err == nil {
		t.Errorf("filters need parentheses")
	}
	es, err := m.Search(`(cn=a\2ab*)`, BadgeAttrs)
	if err != nil || len(es) != 0 {
		t.Errorf("escaped wildcard should match literally: %v %v", es, err)
	}
	if r, ok := m.Get("act.user"); !ok || r[AttrTrainedThru] != "2099-01-01" {
		t.Errorf("mock records should carry trainedThru, got %v", r)
	}
}

func TestMockYAML(t *testing.T) {
	m, err := NewMock("testdata/mockDirectory.yaml")
	if err != nil {
		t.Fatal(err)
	}
	es, err := m.Search("(givenname=j*)", BadgeAttrs)
	if err != nil {
		t.Fatal(err)
	}
	if len(es) != 2 {
		t.Errorf("expected both yaml records, got %d", len(es))
	}
	if es[0].Get("kumcpersonfaculty") != "Y" {
		t.Errorf("attribute lookup should ignore case")
	}
}
