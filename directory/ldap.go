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
	"sync"

	"github.com/go-ldap/ldap/v3"
	"github.com/kumc-bmi/heronadmin/config"
	"github.com/kumc-bmi/heronadmin/gerror"
	"github.com/tideland/golib/logger"
)

// LDAP searches a directory server. The connection is made on first use
// and remade if it drops.
type LDAP struct {
	m      sync.Mutex
	url    string
	userdn string
	passwd string
	base   string
	conn   *ldap.Conn
}

// NewLDAP makes an LDAP searcher from the directory config.
func NewLDAP(c config.DirectoryConf) *LDAP {
	return &LDAP{url: c.URL, userdn: c.UserDN, passwd: c.Password, base: c.Base}
}

func (l *LDAP) connect() (*ldap.Conn, error) {
	if l.conn != nil && !l.conn.IsClosing() {
		return l.conn, nil
	}
	logger.Debugf("connecting to %s as %s", l.url, l.userdn)
	conn, err := ldap.DialURL(l.url)
	if err != nil {
		return nil, gerror.Wrap(gerror.OperationalError, err)
	}
	if l.userdn != "" {
		if err = conn.Bind(l.userdn, l.passwd); err != nil {
			conn.Close()
			return nil, gerror.Wrap(gerror.OperationalError, err)
		}
	}
	l.conn = conn
	return conn, nil
}

// Search runs a subtree search under the configured base.
func (l *LDAP) Search(filter string, attrs []string) ([]Entry, error) {
	l.m.Lock()
	defer l.m.Unlock()
	conn, err := l.connect()
	if err != nil {
		return nil, err
	}
	req := ldap.NewSearchRequest(l.base, ldap.ScopeWholeSubtree, ldap.NeverDerefAliases,
		0, 0, false, filter, attrs, nil)
	res, err := conn.Search(req)
	if err != nil {
		if ldap.IsErrorWithCode(err, ldap.ErrorNetwork) {
			conn.Close()
			l.conn = nil
			return nil, gerror.Wrap(gerror.OperationalError, err)
		}
		return nil, err
	}
	entries := make([]Entry, len(res.Entries))
	for i, e := range res.Entries {
		ent := Entry{DN: e.DN, Attrs: make(map[string][]string, len(e.Attributes))}
		for _, a := range e.Attributes {
			ent.Attrs[a.Name] = a.Values
		}
		entries[i] = ent
	}
	logger.Debugf("ldap search %s: %d entries", filter, len(entries))
	return entries, nil
}

// Close closes the connection, if there is one.
func (l *LDAP) Close() {
	l.m.Lock()
	defer l.m.Unlock()
	if l.conn != nil {
		l.conn.Close()
		l.conn = nil
	}
}
