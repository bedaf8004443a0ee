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

// Package notary issues badges: identity tokens that only a Notary can
// make. Anything handed a badge checks it with the notary's Inspector
// before acting on it, so a badge made up outside the directory lookup
// can't be used to exercise a capability.
package notary

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/kumc-bmi/heronadmin/gerror"
	"github.com/zeebo/blake3"
)

// Attrs are the directory attributes a badge carries.
type Attrs struct {
	CN          string
	SN          string
	GivenName   string
	Mail        string
	OU          string
	Title       string
	FacultyFlag string
	JobCode     string
}

// Badge is an immutable identity token. The zero value is not vouchable.
type Badge struct {
	attrs Attrs
	seal  []byte
}

// Notary issues badges and vouches for them.
type Notary struct {
	key []byte
}

// Inspector checks badges for a Notary.
type Inspector struct {
	n *Notary
}

// New makes a notary with a fresh random key.
func New() (*Notary, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	return &Notary{key: key}, nil
}

// Issue makes a badge sealed by this notary.
func (n *Notary) Issue(a Attrs) *Badge {
	return &Badge{attrs: a, seal: n.sign(a)}
}

// Inspector returns the notary's badge inspector.
func (n *Notary) Inspector() *Inspector {
	return &Inspector{n: n}
}

func (n *Notary) sign(a Attrs) []byte {
	h, err := blake3.NewKeyed(n.key)
	if err != nil {
		// only happens with a key that isn't 32 bytes
		panic(err)
	}
	for _, f := range []string{a.CN, a.SN, a.GivenName, a.Mail, a.OU, a.Title, a.FacultyFlag, a.JobCode} {
		var l [8]byte
		binary.BigEndian.PutUint64(l[:], uint64(len(f)))
		h.Write(l[:])
		h.Write([]byte(f))
	}
	return h.Sum(nil)
}

// Vouch returns b if it was issued by the inspector's notary and hasn't
// been tampered with. Otherwise it fails with NotVouchable.
func (i *Inspector) Vouch(b *Badge) (*Badge, error) {
	if b == nil || len(b.seal) == 0 {
		return nil, gerror.New(gerror.NotVouchable, "badge not vouchable: no seal")
	}
	if subtle.ConstantTimeCompare(b.seal, i.n.sign(b.attrs)) != 1 {
		return nil, gerror.Errorf(gerror.NotVouchable, "badge for %s not vouchable", b.attrs.CN)
	}
	return b, nil
}

// Unknown makes a placeholder badge for a user id the directory doesn't
// know. It has no seal, so it can be displayed but never vouched for.
func Unknown(cn string) *Badge {
	return &Badge{attrs: Attrs{CN: cn, SN: "?", GivenName: "?"}}
}

// CN is the login id.
func (b *Badge) CN() string { return b.attrs.CN }

// SN is the family name.
func (b *Badge) SN() string { return b.attrs.SN }

// GivenName is the given name.
func (b *Badge) GivenName() string { return b.attrs.GivenName }

// Mail is the email address.
func (b *Badge) Mail() string { return b.attrs.Mail }

// OU is the organizational unit.
func (b *Badge) OU() string { return b.attrs.OU }

// Title is the job title.
func (b *Badge) Title() string { return b.attrs.Title }

// FacultyFlag is "Y" for faculty.
func (b *Badge) FacultyFlag() string { return b.attrs.FacultyFlag }

// JobCode is the HR job code.
func (b *Badge) JobCode() string { return b.attrs.JobCode }

// Attrs returns a copy of the badge's attributes.
func (b *Badge) Attrs() Attrs { return b.attrs }

// FullName is "Given Family".
func (b *Badge) FullName() string {
	return strings.TrimSpace(fmt.Sprintf("%s %s", b.attrs.GivenName, b.attrs.SN))
}

// SortName is "Family, Given".
func (b *Badge) SortName() string {
	return fmt.Sprintf("%s, %s", b.attrs.SN, b.attrs.GivenName)
}

func (b *Badge) String() string {
	return fmt.Sprintf("%s <%s>", b.FullName(), b.attrs.Mail)
}
