// +build !novault

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

package secret

// Functions for using hashicorp vault (https://www.vaultproject.io/) to store
// secrets for heronadmin.

import (
	"fmt"
	"strings"
	"sync"
	"time"

	vault "github.com/hashicorp/vault/api"
	"github.com/kumc-bmi/heronadmin/clock"
	"github.com/kumc-bmi/heronadmin/config"
	"github.com/tideland/golib/logger"
)

// Vault is a secret Source backed by vault. Values are cached for their
// lease duration.
type Vault struct {
	m       sync.Mutex
	secrets map[string]*secretVal
	prefix  string
	clk     clock.Clock
	*vault.Client
}

// MaxStaleAge is how long a secret that can't be renewed keeps being used.
const MaxStaleAge = time.Hour

// StaleTryAgain is how often renewing a stale secret is retried.
const StaleTryAgain = time.Minute

type secretVal struct {
	path          string
	key           string
	created       time.Time
	renewable     bool
	ttl           time.Duration
	expires       time.Time
	stale         bool
	staleTryAgain time.Time
	staleTime     time.Time
	value         string
}

func configureVault(vc config.VaultConf) (Source, error) {
	conf := vault.DefaultConfig()
	if err := conf.ReadEnvironment(); err != nil {
		return nil, err
	}
	if vc.VaultAddr != "" {
		conf.Address = vc.VaultAddr
	}
	c, err := vault.NewClient(conf)
	if err != nil {
		return nil, err
	}
	return NewVault(c, vc.PathPrefix, clock.System{}), nil
}

// NewVault makes a Source reading secrets under prefix with c.
func NewVault(c *vault.Client, prefix string, clk clock.Clock) *Vault {
	if prefix == "" {
		prefix = DefaultPathPrefix
	}
	return &Vault{secrets: make(map[string]*secretVal), prefix: strings.TrimSuffix(prefix, "/"), clk: clk, Client: c}
}

func (v *Vault) makePath(name string) string {
	return fmt.Sprintf("%s/%s", v.prefix, name)
}

// Get fetches key from the secret at <prefix>/<name>.
func (v *Vault) Get(name, key string) (string, error) {
	v.m.Lock()
	defer v.m.Unlock()
	path := v.makePath(name)
	id := path + "#" + key
	if v.secrets[id] == nil {
		logger.Debugf("secret (%s) for %s is nil, fetching from vault", key, path)
		s, err := v.getSecretPath(path, key)
		if err != nil {
			return "", err
		}
		v.secrets[id] = s
	} else {
		logger.Debugf("using cached secret for %s", path)
	}
	s, err := v.secretValue(v.secrets[id])
	if err != nil {
		return "", err
	}
	v.secrets[id] = s
	return s.value, nil
}

func (v *Vault) getSecretPath(path string, key string) (*secretVal, error) {
	t := v.clk.Now()
	s, err := v.Logical().Read(path)
	if err != nil {
		return nil, fmt.Errorf("Failed to read %s (%s) from vault: %s", path, key, err.Error())
	}
	if s == nil {
		return nil, ErrNotFound
	}
	p, ok := s.Data[key]
	if !ok || p == nil {
		return nil, ErrNotFound
	}
	var val string
	switch p := p.(type) {
	case string:
		val = p
	case []byte:
		val = string(p)
	default:
		return nil, fmt.Errorf("The type was wrong fetching %s for %s from vault: %T", key, path, p)
	}
	sVal := &secretVal{
		path:      path,
		key:       key,
		created:   t,
		renewable: s.Renewable,
		ttl:       time.Duration(s.LeaseDuration) * time.Second,
		value:     val,
	}
	sVal.expires = t.Add(sVal.ttl)
	return sVal, nil
}

func (v *Vault) isExpired(s *secretVal) bool {
	if s.ttl == 0 {
		return false
	}
	return v.clk.Now().After(s.expires)
}

// secretValue renews s if it's expired. A secret that can't be renewed is
// marked stale and used for up to MaxStaleAge, trying again every
// StaleTryAgain.
func (v *Vault) secretValue(s *secretVal) (*secretVal, error) {
	if !v.isExpired(s) {
		return s, nil
	}
	now := v.clk.Now()
	if s.stale && now.Before(s.staleTryAgain) {
		return s, nil
	}
	logger.Debugf("trying to renew secret for %s", s.path)
	s2, err := v.getSecretPath(s.path, s.key)
	if err == nil {
		logger.Debugf("successfully renewed secret for %s", s.path)
		return s2, nil
	}
	if !s.stale {
		logger.Debugf("error trying to renew the secret for %s: %s -- marking as stale", s.path, err.Error())
		s.stale = true
		s.staleTime = now.Add(MaxStaleAge)
		s.staleTryAgain = now.Add(StaleTryAgain)
		return s, nil
	}
	if now.After(s.staleTime) {
		return nil, fmt.Errorf("Couldn't renew the secret for %s before %s ran out, giving up", s.path, MaxStaleAge)
	}
	logger.Debugf("error trying to renew the secret for %s: %s -- will renew again in %s", s.path, err.Error(), StaleTryAgain)
	s.staleTryAgain = now.Add(StaleTryAgain)
	return s, nil
}
