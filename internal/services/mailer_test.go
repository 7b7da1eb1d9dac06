package services

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSMTPServer 最小 SMTP 服务端，拒绝 rejected 中的收件人
type fakeSMTPServer struct {
	listener net.Listener
	rejected map[string]bool

	mu    sync.Mutex
	rcpts []string
	data  string
}

func startFakeSMTP(t *testing.T, rejected ...string) *fakeSMTPServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := &fakeSMTPServer{listener: ln, rejected: map[string]bool{}}
	for _, r := range rejected {
		srv.rejected[r] = true
	}
	go srv.serve()
	t.Cleanup(func() { _ = ln.Close() })
	return srv
}

func (s *fakeSMTPServer) port() int {
	return s.listener.Addr().(*net.TCPAddr).Port
}

func (s *fakeSMTPServer) serve() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		go s.handle(conn)
	}
}

func (s *fakeSMTPServer) handle(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	reply := func(line string) { _, _ = conn.Write([]byte(line + "\r\n")) }

	reply("220 localhost ESMTP")
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimRight(line, "\r\n")
		upper := strings.ToUpper(line)
		switch {
		case strings.HasPrefix(upper, "EHLO"), strings.HasPrefix(upper, "HELO"):
			reply("250-localhost")
			reply("250 HELP")
		case strings.HasPrefix(upper, "MAIL FROM"):
			reply("250 OK")
		case strings.HasPrefix(upper, "RCPT TO"):
			addr := strings.Trim(line[len("RCPT TO:"):], "<> ")
			if s.rejected[addr] {
				reply("550 no such user")
				continue
			}
			s.mu.Lock()
			s.rcpts = append(s.rcpts, addr)
			s.mu.Unlock()
			reply("250 OK")
		case upper == "DATA":
			reply("354 end with <CRLF>.<CRLF>")
			var body strings.Builder
			for {
				l, err := r.ReadString('\n')
				if err != nil {
					return
				}
				if l == ".\r\n" {
					break
				}
				body.WriteString(l)
			}
			s.mu.Lock()
			s.data = body.String()
			s.mu.Unlock()
			reply("250 queued")
		case upper == "QUIT":
			reply("221 bye")
			return
		default:
			reply("250 OK")
		}
	}
}

func (s *fakeSMTPServer) snapshot() ([]string, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.rcpts...), s.data
}

func fakeSettings(port int) SMTPSettings {
	return SMTPSettings{Host: "127.0.0.1", Port: port, Timeout: 5 * time.Second}
}

func TestSMTPMailer_SendMail(t *testing.T) {
	srv := startFakeSMTP(t)
	mailer := NewSMTPMailer()

	err := mailer.SendMail(context.Background(), fakeSettings(srv.port()), Email{
		From:    "desk@example.com",
		To:      []string{"ops@example.com"},
		Cc:      []string{"lead@example.com"},
		Bcc:     []string{"audit@example.com"},
		Subject: "Ticket TD-1001 resolved",
		Body:    "Resolved by automation",
		Headers: map[string]string{"X-TacticalDesk-Ticket": "TD-1001"},
	})
	require.NoError(t, err)

	rcpts, data := srv.snapshot()
	assert.Equal(t, []string{"ops@example.com", "lead@example.com", "audit@example.com"}, rcpts)
	assert.Contains(t, data, "Subject: Ticket TD-1001 resolved\r\n")
	assert.Contains(t, data, "Cc: <lead@example.com>\r\n")
	assert.Contains(t, data, "X-TacticalDesk-Ticket: TD-1001\r\n")
	assert.NotContains(t, data, "audit@example.com", "bcc never appears in headers")
	assert.Contains(t, data, "Resolved by automation")
}

func TestSMTPMailer_PartialDelivery(t *testing.T) {
	srv := startFakeSMTP(t, "gone@example.com")

	err := NewSMTPMailer().SendMail(context.Background(), fakeSettings(srv.port()), Email{
		From: "desk@example.com",
		To:   []string{"ops@example.com", "gone@example.com"},
		Body: "x",
	})
	var partial *PartialDeliveryError
	require.ErrorAs(t, err, &partial)
	assert.Contains(t, partial.Refused, "gone@example.com")

	rcpts, data := srv.snapshot()
	assert.Equal(t, []string{"ops@example.com"}, rcpts)
	assert.NotEmpty(t, data)
}

func TestSMTPMailer_AllRefused(t *testing.T) {
	srv := startFakeSMTP(t, "gone@example.com")

	err := NewSMTPMailer().SendMail(context.Background(), fakeSettings(srv.port()), Email{
		From: "desk@example.com",
		To:   []string{"gone@example.com"},
		Body: "x",
	})
	require.Error(t, err)
	var partial *PartialDeliveryError
	assert.False(t, errors.As(err, &partial))
	assert.Contains(t, err.Error(), "all recipients refused")
}

func TestSMTPMailer_Errors(t *testing.T) {
	mailer := NewSMTPMailer()
	err := mailer.SendMail(context.Background(), fakeSettings(25), Email{From: "a@b.c"})
	assert.EqualError(t, err, "no recipients")

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	err = mailer.SendMail(context.Background(), fakeSettings(port), Email{From: "a@b.c", To: []string{"x@y.z"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dial 127.0.0.1:"+strconv.Itoa(port))
}

func renderEmail(t *testing.T, m *SMTPMailer, email Email) string {
	t.Helper()
	msg, err := m.buildMessage(email)
	require.NoError(t, err)
	var buf bytes.Buffer
	_, err = msg.WriteTo(&buf)
	require.NoError(t, err)
	return buf.String()
}

func TestSMTPMailer_BuildMessage(t *testing.T) {
	m := &SMTPMailer{now: func() time.Time { return time.Date(2025, 1, 1, 9, 30, 0, 0, time.UTC) }}
	msg := renderEmail(t, m, Email{
		From:    "desk@example.com",
		To:      []string{"a@example.com", "b@example.com"},
		Bcc:     []string{"audit@example.com"},
		Subject: "Größe",
		Body:    "line=1",
		Headers: map[string]string{"X-Empty": "  ", "X-TacticalDesk-Event": "Ticket\nCreated"},
	})

	assert.Contains(t, msg, "To: <a@example.com>, <b@example.com>\r\n")
	assert.Contains(t, msg, "Subject: =?UTF-8?q?Gr=C3=B6=C3=9Fe?=\r\n")
	assert.Contains(t, msg, "Date: Wed, 01 Jan 2025 09:30:00 +0000\r\n")
	assert.Contains(t, msg, "X-TacticalDesk-Event: Ticket Created\r\n")
	assert.Contains(t, msg, "@tacticaldesk>")
	assert.NotContains(t, msg, "X-Empty")
	assert.NotContains(t, msg, "Cc:")
	assert.NotContains(t, msg, "audit@example.com")
	assert.Contains(t, msg, "line=3D1")
}

func TestSMTPMailer_HeaderInjection(t *testing.T) {
	m := NewSMTPMailer()

	msg := renderEmail(t, m, Email{
		From:    "desk@example.com",
		To:      []string{"ops@example.com"},
		Subject: "Ticket TD-7\r\nBcc: attacker@evil.test",
		Body:    "x",
		Headers: map[string]string{"X-TacticalDesk-Ticket": "TD-7\r\nX-Spoof: yes"},
	})
	assert.NotContains(t, msg, "\r\nBcc:")
	assert.NotContains(t, msg, "\r\nX-Spoof:")
	assert.Contains(t, msg, "Subject: Ticket TD-7 Bcc: attacker@evil.test\r\n")

	_, err := m.buildMessage(Email{
		From: "desk@example.com",
		To:   []string{"victim@example.com\r\nBcc: attacker@evil.test", "ops@example.com"},
	})
	assert.ErrorContains(t, err, "invalid recipient")

	srv := startFakeSMTP(t)
	err = m.SendMail(context.Background(), fakeSettings(srv.port()), Email{
		From: "desk@example.com",
		Cc:   []string{"lead@example.com\nX-Spoof: yes"},
		To:   []string{"ops@example.com"},
		Body: "x",
	})
	assert.ErrorContains(t, err, "invalid cc recipient")
	rcpts, data := srv.snapshot()
	assert.Empty(t, rcpts, "nothing is sent when an address is malformed")
	assert.Empty(t, data)
}
