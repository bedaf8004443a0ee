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

// Package i2b2pm sets up accounts and roles in the i2b2 project management
// cell for people who have qualified for HERON access.
package i2b2pm

import (
	"context"
	"crypto/md5"
	"database/sql"
	"fmt"
	"strings"

	"github.com/kumc-bmi/heronadmin/clock"
	"github.com/kumc-bmi/heronadmin/config"
	"github.com/kumc-bmi/heronadmin/datastore"
	"github.com/kumc-bmi/heronadmin/notary"
	"github.com/pborman/uuid"
	"github.com/tideland/golib/logger"
)

// Role is an i2b2 project role.
type Role string

// The roles HERON users get.
const (
	RoleUser      Role = "USER"
	RoleDataLDS   Role = "DATA_LDS"
	RoleDataObfsc Role = "DATA_OBFSC"
	RoleDataAgg   Role = "DATA_AGG"
)

// DefaultRoles are granted when EnsureAccount isn't given any.
var DefaultRoles = []Role{RoleUser, RoleDataLDS, RoleDataObfsc, RoleDataAgg}

// Account status codes.
const (
	StatusActive   = "A"
	StatusDisabled = "D"
)

// PM is the i2b2 project management database.
type PM struct {
	db      datastore.Beginner
	dialect datastore.Dialect
	insp    *notary.Inspector
	clk     clock.Clock
	project string
	// UUIDGen makes the one-time passwords.
	UUIDGen func() string
}

// New makes a PM granting roles in project as well as the default project.
func New(db *datastore.DB, insp *notary.Inspector, clk clock.Clock, project string) *PM {
	if project == "" {
		project = config.DefaultPMProject
	}
	return &PM{db: db, dialect: db.Dialect, insp: insp, clk: clk, project: project, UUIDGen: uuid.New}
}

// HexDigest is i2b2's md5 hex digest, which drops the leading zero of each
// byte.
func HexDigest(txt string) string {
	var b strings.Builder
	for _, c := range md5.Sum([]byte(txt)) {
		fmt.Fprintf(&b, "%x", c)
	}
	return b.String()
}

// EnsureAccount makes sure the badge holder has an active account with the
// given roles, and issues a new one-time password for it. Running it again
// for the same person just issues another password.
func (p *PM) EnsureAccount(ctx context.Context, b *notary.Badge, roles ...Role) (string, error) {
	b, err := p.insp.Vouch(b)
	if err != nil {
		return "", err
	}
	if len(roles) == 0 {
		roles = DefaultRoles
	}
	uid := b.CN()
	auth := p.UUIDGen()
	pwHash := HexDigest(auth)
	now := p.clk.Now().UTC().Format(datastore.MySQLTimeFormat)

	err = datastore.InTx(ctx, p.db, func(tx *sql.Tx) error {
		var status string
		row := tx.QueryRowContext(ctx, p.dialect.Rebind("SELECT status_cd FROM pm_user_data WHERE user_id = ?"), uid)
		switch err := row.Scan(&status); err {
		case sql.ErrNoRows:
			logger.Infof("adding i2b2 user %s", uid)
			_, err = tx.ExecContext(ctx, p.dialect.Rebind("INSERT INTO pm_user_data (user_id, full_name, password, email, entry_date, change_date, status_cd) VALUES (?, ?, ?, ?, ?, ?, ?)"), uid, b.FullName(), pwHash, b.Mail(), now, now, StatusActive)
			if err != nil {
				return datastore.Operational(err)
			}
		case nil:
			if status != StatusActive {
				logger.Infof("reactivating i2b2 user %s (was %s)", uid, status)
			}
			_, err = tx.ExecContext(ctx, p.dialect.Rebind("UPDATE pm_user_data SET password = ?, status_cd = ?, change_date = ? WHERE user_id = ?"), pwHash, StatusActive, now, uid)
			if err != nil {
				return datastore.Operational(err)
			}
		default:
			return datastore.Operational(err)
		}

		codes := make([]interface{}, 0, len(roles)+1)
		codes = append(codes, uid)
		for _, r := range roles {
			codes = append(codes, string(r))
		}
		del := fmt.Sprintf("DELETE FROM pm_project_user_roles WHERE user_id = ? AND user_role_cd IN (%s)", datastore.Placeholders(len(roles)))
		if _, err := tx.ExecContext(ctx, p.dialect.Rebind(del), codes...); err != nil {
			return datastore.Operational(err)
		}

		ins, err := tx.PrepareContext(ctx, p.dialect.Rebind("INSERT INTO pm_project_user_roles (project_id, user_id, user_role_cd, entry_date, change_date, status_cd) VALUES (?, ?, ?, ?, ?, ?)"))
		if err != nil {
			return datastore.Operational(err)
		}
		defer ins.Close()
		for _, project := range p.projects() {
			for _, r := range roles {
				logger.Debugf("granting %s to %s in %s", r, uid, project)
				if _, err := ins.ExecContext(ctx, project, uid, string(r), now, now, StatusActive); err != nil {
					return datastore.Operational(err)
				}
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return auth, nil
}

func (p *PM) projects() []string {
	if p.project == config.DefaultPMProject {
		return []string{p.project}
	}
	return []string{p.project, config.DefaultPMProject}
}

// RevokeExpired clears the one-time passwords of everyone whose sessions
// have all expired. Service accounts are left alone.
func (p *PM) RevokeExpired(ctx context.Context) (int64, error) {
	now := p.clk.Now().UTC().Format(datastore.MySQLTimeFormat)
	res, err := p.db.ExecContext(ctx, p.dialect.Rebind(`UPDATE pm_user_data SET password = NULL
WHERE user_id NOT LIKE '%SERVICE_ACCOUNT'
AND password IS NOT NULL
AND (SELECT MAX(s.expired_date) FROM pm_user_session s WHERE s.user_id = pm_user_data.user_id) < ?`), now)
	if err != nil {
		return 0, datastore.Operational(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n > 0 {
		logger.Infof("revoked %d expired i2b2 passwords", n)
	}
	return n, nil
}
