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

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	vault "github.com/hashicorp/vault/api"
	"github.com/kumc-bmi/heronadmin/clock"
	"github.com/kumc-bmi/heronadmin/config"
)

const token = "f1d77d43-0a27-f05a-5426-08bd20a6311d"

// fakeVault answers logical reads the way a vault server does.
type fakeVault struct {
	mu       sync.Mutex
	data     map[string]map[string]string
	reads    int
	down     bool
	leaseSec int
}

func (f *fakeVault) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	if r.Header.Get("X-Vault-Token") != token {
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `{"errors":["permission denied"]}`)
		return
	}
	if f.down {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"errors":["sealed"]}`)
		return
	}
	d, ok := f.data[strings.TrimPrefix(r.URL.Path, "/v1/")]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"errors":[]}`)
		return
	}
	var kv []string
	for k, v := range d {
		kv = append(kv, fmt.Sprintf("%q:%q", k, v))
	}
	fmt.Fprintf(w, `{"lease_duration":%d,"renewable":false,"data":{%s}}`, f.leaseSec, strings.Join(kv, ","))
}

func testVault(t *testing.T, f *fakeVault, clk clock.Clock) *Vault {
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	conf := vault.DefaultConfig()
	conf.Address = srv.URL
	conf.MaxRetries = 0
	c, err := vault.NewClient(conf)
	if err != nil {
		t.Fatal(err)
	}
	c.SetToken(token)
	return NewVault(c, "", clk)
}

func TestApply(t *testing.T) {
	f := &fakeVault{data: map[string]map[string]string{
		"secret/heronadmin/eav":       {"password": "eav-pw"},
		"secret/heronadmin/directory": {"password": "ldap-pw"},
		"secret/heronadmin/saa":       {"token": "ABC123"},
		"secret/heronadmin/mail":      {"username": "relay"},
	}}
	v := testVault(t, f, clock.NewMock(time.Date(2026, 10, 16, 0, 0, 0, 0, time.UTC)))
	conf := &config.Conf{}
	conf.Mail.Password = "from-file"
	if err := Apply(conf, v); err != nil {
		t.Fatal(err)
	}
	if conf.EAV.Password != "eav-pw" || conf.Directory.Password != "ldap-pw" || conf.SAA.Token != "ABC123" {
		t.Errorf("secrets weren't applied: %+v", conf)
	}
	if conf.Mail.Password != "from-file" {
		t.Errorf("mail password without a secret should stay as configured, got %q", conf.Mail.Password)
	}
	if conf.PM.Password != "" {
		t.Errorf("pm password came from nowhere: %q", conf.PM.Password)
	}
}

func TestGetCachesForLease(t *testing.T) {
	clk := clock.NewMock(time.Date(2026, 10, 16, 0, 0, 0, 0, time.UTC))
	f := &fakeVault{leaseSec: 60, data: map[string]map[string]string{
		"secret/heronadmin/eav": {"password": "one"},
	}}
	v := testVault(t, f, clk)
	for i := 0; i < 3; i++ {
		if pw, err := v.Get("eav", "password"); err != nil || pw != "one" {
			t.Fatalf("got %q, %v", pw, err)
		}
	}
	if f.reads != 1 {
		t.Errorf("read vault %d times within the lease", f.reads)
	}

	f.mu.Lock()
	f.data["secret/heronadmin/eav"]["password"] = "two"
	f.mu.Unlock()
	clk.Advance(2 * time.Minute)
	if pw, _ := v.Get("eav", "password"); pw != "two" {
		t.Errorf("expired secret wasn't renewed: %q", pw)
	}
}

func TestStaleSecrets(t *testing.T) {
	clk := clock.NewMock(time.Date(2026, 10, 16, 0, 0, 0, 0, time.UTC))
	f := &fakeVault{leaseSec: 60, data: map[string]map[string]string{
		"secret/heronadmin/pm": {"password": "pm-pw"},
	}}
	v := testVault(t, f, clk)
	if _, err := v.Get("pm", "password"); err != nil {
		t.Fatal(err)
	}
	f.mu.Lock()
	f.down = true
	f.mu.Unlock()
	clk.Advance(2 * time.Minute)
	if pw, err := v.Get("pm", "password"); err != nil || pw != "pm-pw" {
		t.Errorf("a stale secret should still be used: %q %v", pw, err)
	}
	reads := f.reads
	v.Get("pm", "password")
	if f.reads != reads {
		t.Errorf("stale secret retried before %s", StaleTryAgain)
	}
	clk.Advance(MaxStaleAge + time.Minute)
	if _, err := v.Get("pm", "password"); err == nil {
		t.Error("a secret stale for too long should be given up on")
	}
}

func TestNotFound(t *testing.T) {
	v := testVault(t, &fakeVault{}, clock.System{})
	if _, err := v.Get("nothing", "token"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
