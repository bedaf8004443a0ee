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

package notice

import (
	"bytes"
	"text/template"

	"github.com/kumc-bmi/heronadmin/oversight"
	"github.com/yuin/goldmark"
)

// Subject lines for each final decision.
const (
	SubjectApproved = "HERON access request approved"
	SubjectRejected = "HERON access request rejected"
)

var bodyTemplate = template.Must(template.New("notice").Parse(`Dear {{.SponsorFullName}},

Your request for HERON access for *{{.ProjectTitle}}* (request {{.Record}}) has been
{{if .Approved}}**approved**{{else}}**rejected**{{end}} by the HERON oversight committee.
{{if .Approved}}
The following people on your team may now use HERON, once their
training and system access agreement are current:
{{range .Team}}
- {{.}}
{{- end}}

Log in at <{{.HeronHome}}>.
{{else}}
Please contact the HERON team if you have questions about this decision.
{{end}}
`))

// Body holds the values filled in to a notice.
type Body struct {
	Record          string
	Approved        bool
	SponsorFullName string
	ProjectTitle    string
	Team            []string
	HeronHome       string
}

// NewBody fills in a notice body for a decided request.
func NewBody(d oversight.Detail, decision oversight.Decision, heronHome string) Body {
	b := Body{
		Record:          d.Record,
		Approved:        decision == oversight.Approved,
		SponsorFullName: d.Fields[oversight.FieldFullName],
		ProjectTitle:    d.Fields[oversight.FieldProjectTitle],
		HeronHome:       heronHome,
	}
	for _, m := range d.Team {
		name := m.FullName()
		if name == "" {
			name = m.CN()
		}
		b.Team = append(b.Team, name)
	}
	return b
}

// Subject is the subject line for the notice.
func (b Body) Subject() string {
	if b.Approved {
		return SubjectApproved
	}
	return SubjectRejected
}

// Markdown renders the body as Markdown text, which doubles as the plain
// text part of the message.
func (b Body) Markdown() (string, error) {
	var buf bytes.Buffer
	if err := bodyTemplate.Execute(&buf, b); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// HTML renders the Markdown body as HTML.
func (b Body) HTML() (string, error) {
	md, err := b.Markdown()
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(md), &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}
