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
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/ctdk/go-trie/gtrie"
	"github.com/kumc-bmi/heronadmin/gerror"
	"github.com/tideland/golib/logger"
	"gopkg.in/yaml.v3"
)

// AttrTrainedThru is the extra mock directory column the mock training
// registry reads.
const AttrTrainedThru = "trainedThru"

// Mock is a directory held in memory, loaded from a CSV or YAML file. Each
// searchable attribute has a trie of its lowercased values for prefix
// lookups.
type Mock struct {
	records []map[string]string
	tries   map[string]*gtrie.Node
	byValue map[string]map[string][]int
}

// NewMock loads a mock directory from a .csv (with a header row) or a
// .yaml/.yml file (a list of attribute maps).
func NewMock(path string) (*Mock, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, gerror.Wrap(gerror.Configuration, err)
	}
	defer f.Close()
	var recs []map[string]string
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		recs, err = readYAML(f)
	default:
		recs, err = readCSV(f)
	}
	if err != nil {
		return nil, gerror.Errorf(gerror.Configuration, "reading mock directory %s: %s", path, err.Error())
	}
	return NewMockFromRecords(recs), nil
}

// NewMockFromRecords makes a mock directory from attribute maps.
func NewMockFromRecords(recs []map[string]string) *Mock {
	m := &Mock{
		records: recs,
		tries:   make(map[string]*gtrie.Node),
		byValue: make(map[string]map[string][]int),
	}
	for _, attr := range []string{AttrCN, AttrSN, AttrGivenName} {
		m.index(attr)
	}
	return m
}

func readCSV(r io.Reader) ([]map[string]string, error) {
	rows, err := csv.NewReader(r).ReadAll()
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	header := rows[0]
	recs := make([]map[string]string, 0, len(rows)-1)
	for _, row := range rows[1:] {
		rec := make(map[string]string, len(header))
		for i, h := range header {
			if i < len(row) {
				rec[h] = row[i]
			}
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

func readYAML(r io.Reader) ([]map[string]string, error) {
	var recs []map[string]string
	if err := yaml.NewDecoder(r).Decode(&recs); err != nil {
		return nil, err
	}
	return recs, nil
}

func (m *Mock) index(attr string) {
	vals := make(map[string][]int)
	for i, r := range m.records {
		v := strings.ToLower(r[attr])
		if v == "" {
			continue
		}
		vals[v] = append(vals[v], i)
	}
	m.byValue[attr] = vals
	if len(vals) == 0 {
		return
	}
	words := make([]string, 0, len(vals))
	for v := range vals {
		words = append(words, v)
	}
	sort.Strings(words)
	defer func() {
		if e := recover(); e != nil {
			logger.Errorf("There was a problem creating the trie for %s: %s", attr, fmt.Sprintln(e))
		}
	}()
	t, err := gtrie.Create(words)
	if err != nil {
		logger.Errorf(err.Error())
		return
	}
	m.tries[attr] = t
}

// Records returns the raw records.
func (m *Mock) Records() []map[string]string {
	return m.records
}

// Get returns the first record with the given cn.
func (m *Mock) Get(cn string) (map[string]string, bool) {
	if idx := m.byValue[AttrCN][strings.ToLower(cn)]; len(idx) > 0 {
		return m.records[idx[0]], true
	}
	return nil, false
}

type clause struct {
	attr   string
	value  string
	prefix bool
}

// Search implements Searcher.
func (m *Mock) Search(filter string, attrs []string) ([]Entry, error) {
	clauses, err := parseFilter(filter)
	if err != nil {
		return nil, err
	}
	var hits []int
	for n, c := range clauses {
		found := m.match(c)
		if n == 0 {
			hits = found
			continue
		}
		hits = intersect(hits, found)
	}
	sort.Ints(hits)
	entries := make([]Entry, len(hits))
	for i, h := range hits {
		r := m.records[h]
		e := Entry{DN: fmt.Sprintf("cn=%s,ou=mock", r[AttrCN]), Attrs: make(map[string][]string)}
		for _, a := range attrs {
			if v, ok := r[a]; ok && v != "" {
				e.Attrs[a] = []string{v}
			}
		}
		entries[i] = e
	}
	return entries, nil
}

func (m *Mock) match(c clause) []int {
	v := strings.ToLower(c.value)
	if !c.prefix {
		return m.lookupExact(c.attr, v)
	}
	t, ok := m.tries[c.attr]
	if !ok {
		return m.scan(c.attr, v)
	}
	var hits []int
	if n, _ := t.HasPrefix(v); n != nil {
		if n.Terminal {
			hits = append(hits, m.byValue[c.attr][v]...)
		}
		for _, suffix := range n.ChildKeys() {
			hits = append(hits, m.byValue[c.attr][v+suffix]...)
		}
	}
	return dedupe(hits)
}

func (m *Mock) lookupExact(attr, v string) []int {
	if idx, ok := m.byValue[attr]; ok {
		return append([]int(nil), idx[v]...)
	}
	var hits []int
	for i, r := range m.records {
		if strings.ToLower(r[attr]) == v {
			hits = append(hits, i)
		}
	}
	return hits
}

func (m *Mock) scan(attr, pfx string) []int {
	var hits []int
	for i, r := range m.records {
		if strings.HasPrefix(strings.ToLower(r[attr]), pfx) {
			hits = append(hits, i)
		}
	}
	return hits
}

// parseFilter understands (attr=value), (attr=prefix*) and (&...) of
// those.
func parseFilter(f string) ([]clause, error) {
	bad := func() error {
		return gerror.Errorf(gerror.Other, "unsupported filter: %s", f)
	}
	if !strings.HasPrefix(f, "(") || !strings.HasSuffix(f, ")") {
		return nil, bad()
	}
	inner := f[1 : len(f)-1]
	var parts []string
	if strings.HasPrefix(inner, "&") {
		rest := inner[1:]
		for rest != "" {
			if rest[0] != '(' {
				return nil, bad()
			}
			end := strings.IndexByte(rest, ')')
			if end < 0 {
				return nil, bad()
			}
			parts = append(parts, rest[1:end])
			rest = rest[end+1:]
		}
	} else {
		parts = []string{inner}
	}
	if len(parts) == 0 {
		return nil, bad()
	}
	clauses := make([]clause, len(parts))
	for i, p := range parts {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 || kv[0] == "" {
			return nil, bad()
		}
		c := clause{attr: kv[0], value: kv[1]}
		if strings.HasSuffix(c.value, "*") {
			c.prefix = true
			c.value = strings.TrimSuffix(c.value, "*")
		}
		c.value = unescapeFilter(c.value)
		clauses[i] = c
	}
	return clauses, nil
}

// unescapeFilter undoes ldap.EscapeFilter's \XX escapes.
func unescapeFilter(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+2 < len(s) {
			if c, err := strconv.ParseUint(s[i+1:i+3], 16, 8); err == nil {
				b.WriteByte(byte(c))
				i += 2
				continue
			}
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

func intersect(a, b []int) []int {
	in := make(map[int]bool, len(b))
	for _, x := range b {
		in[x] = true
	}
	var out []int
	for _, x := range a {
		if in[x] {
			out = append(out, x)
		}
	}
	return out
}

func dedupe(xs []int) []int {
	seen := make(map[int]bool, len(xs))
	var out []int
	for _, x := range xs {
		if !seen[x] {
			seen[x] = true
			out = append(out, x)
		}
	}
	return out
}
