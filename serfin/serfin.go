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

// Package serfin tells the serf cluster about things heronadmin has done,
// like sending a decision notice.
package serfin

import (
	"encoding/json"
	"fmt"

	serfclient "github.com/hashicorp/serf/client"
	"github.com/kumc-bmi/heronadmin/config"
	"github.com/tideland/golib/logger"
)

// MaxPayload is the largest user event payload serf will carry.
const MaxPayload = 512

// Serfer sends user events through a serf agent.
type Serfer struct {
	client *serfclient.RPCClient
}

// Start connects to the serf agent and announces this host.
func Start(sc config.SerfConf, hostname string) (*Serfer, error) {
	addr := sc.SerfAddr
	if addr == "" {
		addr = config.DefaultSerfAddr
	}
	c, err := serfclient.NewRPCClient(addr)
	if err != nil {
		return nil, err
	}
	if err = c.UserEvent("heronadmin-join", []byte(hostname), true); err != nil {
		c.Close()
		return nil, err
	}
	return &Serfer{client: c}, nil
}

func encodePayload(payload interface{}) ([]byte, error) {
	jsonPayload, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	if len(jsonPayload) > MaxPayload {
		return nil, fmt.Errorf("payload is %d bytes, more than serf's limit of %d", len(jsonPayload), MaxPayload)
	}
	return jsonPayload, nil
}

// SendEvent sends payload, as JSON, in a user event. Failures are only
// logged.
func (s *Serfer) SendEvent(eventName string, payload interface{}) {
	jsonPayload, err := encodePayload(payload)
	if err != nil {
		logger.Errorf("%s event: %s", eventName, err.Error())
		return
	}
	err = s.client.UserEvent(eventName, jsonPayload, true)
	if err != nil {
		logger.Debugf(err.Error())
	}
}

// Close disconnects from the agent.
func (s *Serfer) Close() error {
	return s.client.Close()
}
