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
	"sync"

	"github.com/kumc-bmi/heronadmin/config"
	"github.com/tideland/golib/logger"
	gomail "gopkg.in/mail.v2"
)

// Message is an outgoing notice.
type Message struct {
	From    string
	To      []string
	Cc      []string
	Subject string
	HTML    string
	Text    string
}

// Mailer sends messages.
type Mailer interface {
	Send(m Message) error
}

// SMTPMailer sends mail through an SMTP relay.
type SMTPMailer struct {
	dialer *gomail.Dialer
}

// NewSMTPMailer makes a mailer for the relay in mc.
func NewSMTPMailer(mc config.MailConf) *SMTPMailer {
	port := mc.Port
	if port == 0 {
		port = 25
	}
	return &SMTPMailer{dialer: gomail.NewDialer(mc.Host, port, mc.Username, mc.Password)}
}

// Send sends m.
func (s *SMTPMailer) Send(m Message) error {
	msg := gomail.NewMessage()
	msg.SetHeader("From", m.From)
	msg.SetHeader("To", m.To...)
	if len(m.Cc) > 0 {
		msg.SetHeader("Cc", m.Cc...)
	}
	msg.SetHeader("Subject", m.Subject)
	msg.SetBody("text/plain", m.Text)
	if m.HTML != "" {
		msg.AddAlternative("text/html", m.HTML)
	}
	logger.Debugf("sending '%s' to %v cc %v", m.Subject, m.To, m.Cc)
	return s.dialer.DialAndSend(msg)
}

// Recorder is a Mailer that keeps what it's given instead of sending it.
// If Fail is set, Send returns it for every message.
type Recorder struct {
	mu   sync.Mutex
	Sent []Message
	Fail error
}

// Send records m.
func (r *Recorder) Send(m Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Fail != nil {
		return r.Fail
	}
	r.Sent = append(r.Sent, m)
	return nil
}

// Messages returns a copy of what's been sent so far.
func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.Sent...)
}
