// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

// Package mailer composes and submits the daily report digest, per
// §4.7: an RFC-5322 message with a plain-text body and an optional
// HTML alternative, piped to a configured sendmail-style subprocess.
//
// No SMTP client library is used: spec.md scopes the mail agent as an
// external subprocess consuming a finished message on stdin, not an
// SMTP conversation, so net/smtp would be the wrong tool even though
// it is the standard library's nearest fit.
package mailer

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"net/textproto"
	"os/exec"
	"time"
)

// Config names the fixed parts of one mailer instance, mirroring
// email.py's Mail._mailConf class-level defaults.
type Config struct {
	Subject  string   // default "Pyruse Report"
	From     string   // default "pyruse"
	To       []string // default ["hostmaster"]
	Sendmail []string // default ["/usr/bin/sendmail", "-t"]
	Now      func() time.Time
}

// Mailer submits composed digests through a sendmail-style argv.
type Mailer struct {
	cfg Config
	run func(ctx context.Context, argv []string, stdin []byte) error
}

// New returns a Mailer, filling in the same defaults email.py applies
// when a key is absent from the "email" config section.
func New(cfg Config) *Mailer {
	if cfg.Subject == "" {
		cfg.Subject = "Pyruse Report"
	}
	if cfg.From == "" {
		cfg.From = "pyruse"
	}
	if len(cfg.To) == 0 {
		cfg.To = []string{"hostmaster"}
	}
	if len(cfg.Sendmail) == 0 {
		cfg.Sendmail = []string{"/usr/bin/sendmail", "-t"}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Mailer{
		cfg: cfg,
		run: func(ctx context.Context, argv []string, stdin []byte) error {
			cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
			cmd.Stdin = bytes.NewReader(stdin)
			out, err := cmd.CombinedOutput()
			if err != nil {
				return fmt.Errorf("mailer: %v: %w: %s", argv, err, out)
			}
			return nil
		},
	}
}

// Send composes text (required) and html (optional, as a
// multipart/alternative second body) and submits the result to the
// configured sendmail argv, overriding the default subject when
// subject is non-empty.
func (m *Mailer) Send(ctx context.Context, subject, text, html string) error {
	if subject == "" {
		subject = m.cfg.Subject
	}
	msg, err := m.compose(subject, text, html)
	if err != nil {
		return err
	}
	return m.run(ctx, m.cfg.Sendmail, msg)
}

func (m *Mailer) compose(subject, text, html string) ([]byte, error) {
	var buf bytes.Buffer

	from := (&mail.Address{Address: m.cfg.From}).String()
	tos := make([]string, len(m.cfg.To))
	for i, t := range m.cfg.To {
		tos[i] = (&mail.Address{Address: t}).String()
	}

	header := textproto.MIMEHeader{}
	header.Set("Subject", mime.QEncoding.Encode("utf-8", subject))
	header.Set("From", from)
	header.Set("To", joinAddrs(tos))
	header.Set("MIME-Version", "1.0")
	header.Set("Date", m.cfg.Now().Format(time.RFC1123Z))

	if html == "" {
		header.Set("Content-Type", "text/plain; charset=utf-8")
		header.Set("Content-Transfer-Encoding", "quoted-printable")
		writeHeader(&buf, header)
		qpw := quotedprintable.NewWriter(&buf)
		if _, err := qpw.Write([]byte(text)); err != nil {
			return nil, err
		}
		if err := qpw.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}

	mw := multipart.NewWriter(&buf)
	header.Set("Content-Type", fmt.Sprintf("multipart/alternative; boundary=%q", mw.Boundary()))
	writeHeader(&buf, header)

	plainHeader := textproto.MIMEHeader{}
	plainHeader.Set("Content-Type", "text/plain; charset=utf-8")
	plainHeader.Set("Content-Transfer-Encoding", "quoted-printable")
	pw, err := mw.CreatePart(plainHeader)
	if err != nil {
		return nil, err
	}
	qpw := quotedprintable.NewWriter(pw)
	if _, err := qpw.Write([]byte(text)); err != nil {
		return nil, err
	}
	if err := qpw.Close(); err != nil {
		return nil, err
	}

	htmlHeader := textproto.MIMEHeader{}
	htmlHeader.Set("Content-Type", "text/html; charset=utf-8")
	htmlHeader.Set("Content-Transfer-Encoding", "quoted-printable")
	hw, err := mw.CreatePart(htmlHeader)
	if err != nil {
		return nil, err
	}
	qpw = quotedprintable.NewWriter(hw)
	if _, err := qpw.Write([]byte(html)); err != nil {
		return nil, err
	}
	if err := qpw.Close(); err != nil {
		return nil, err
	}

	if err := mw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeHeader(buf *bytes.Buffer, h textproto.MIMEHeader) {
	for _, k := range []string{"Subject", "From", "To", "Date", "MIME-Version", "Content-Type", "Content-Transfer-Encoding"} {
		if v := h.Get(k); v != "" {
			fmt.Fprintf(buf, "%s: %s\r\n", k, v)
		}
	}
	buf.WriteString("\r\n")
}

func joinAddrs(addrs []string) string {
	out := ""
	for i, a := range addrs {
		if i > 0 {
			out += ", "
		}
		out += a
	}
	return out
}
