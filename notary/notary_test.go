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

package notary

import (
	"testing"

	"github.com/kumc-bmi/heronadmin/gerror"
)

var johnSmith = Attrs{
	CN: "john.smith", SN: "Smith", GivenName: "John", Mail: "john.smith@js.example",
	OU: "Neurology", Title: "Chair of Department", FacultyFlag: "Y", JobCode: "1234",
}

func TestVouchIssued(t *testing.T) {
	n, err := New()
	if err != nil {
		t.Fatal(err)
	}
	b := n.Issue(johnSmith)
	got, err := n.Inspector().Vouch(b)
	if err != nil {
		t.Fatalf("issued badge should be vouchable: %s", err)
	}
	if got.CN() != "john.smith" {
		t.Errorf("wrong cn %s", got.CN())
	}
	if b.String() != "John Smith <john.smith@js.example>" {
		t.Errorf("wrong string %q", b.String())
	}
	if b.SortName() != "Smith, John" {
		t.Errorf("wrong sort name %q", b.SortName())
	}
}

func TestVouchRejectsStrangers(t *testing.T) {
	n, _ := New()
	other, _ := New()
	insp := n.Inspector()

	forged := &Badge{attrs: johnSmith}
	cases := map[string]*Badge{
		"nil":          nil,
		"zero":         &Badge{},
		"unsealed":     forged,
		"other notary": other.Issue(johnSmith),
		"unknown":      Unknown("who.ever"),
	}
	for name, b := range cases {
		if _, err := insp.Vouch(b); gerror.KindOf(err) != gerror.NotVouchable {
			t.Errorf("%s: expected NotVouchable, got %v", name, err)
		}
	}
}

func TestVouchRejectsTampering(t *testing.T) {
	n, _ := New()
	b := n.Issue(johnSmith)
	b.attrs.FacultyFlag = "N"
	if _, err := n.Inspector().Vouch(b); gerror.KindOf(err) != gerror.NotVouchable {
		t.Errorf("tampered badge should not be vouchable, got %v", err)
	}
}

func TestUnknownBadge(t *testing.T) {
	b := Unknown("some.body")
	if b.CN() != "some.body" || b.SN() != "?" {
		t.Errorf("unknown badge should keep the cn and mark names with ?, got %+v", b.Attrs())
	}
}
