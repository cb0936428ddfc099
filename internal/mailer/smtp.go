package mailer

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net"
	"net/smtp"
	"net/textproto"
	"strconv"
	"time"
)

const implicitTLSPort = 465

// SMTP delivers mail over net/smtp. Port 465 uses implicit TLS; any other port
// upgrades with STARTTLS when the server offers it.
type SMTP struct {
	cfg    Config
	dialer net.Dialer
}

func NewSMTP(cfg Config) (*SMTP, error) {
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.Port < 0 || cfg.Port > 65535 {
		return nil, ErrInvalidSMTPPort
	}
	if cfg.From == "" {
		cfg.From = cfg.User
	}
	return &SMTP{cfg: cfg, dialer: net.Dialer{Timeout: 10 * time.Second}}, nil
}

func (s *SMTP) Send(ctx context.Context, msg Message) (bool, error) {
	if msg.To == "" {
		return false, ErrNoRecipient
	}
	if err := ctx.Err(); err != nil {
		return false, errors.Join(ErrFailedToSend, err)
	}
	body, err := buildMessage(s.cfg.From, msg, time.Now())
	if err != nil {
		return false, errors.Join(ErrFailedToSend, err)
	}
	if err := s.deliver(ctx, msg.To, body); err != nil {
		return false, errors.Join(ErrFailedToSend, err)
	}
	return true, nil
}

func (s *SMTP) deliver(ctx context.Context, to string, body []byte) error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	tlsConfig := &tls.Config{ServerName: s.cfg.Host}

	conn, err := s.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("connect to smtp server: %w", err)
	}
	if s.cfg.Port == implicitTLSPort {
		conn = tls.Client(conn, tlsConfig)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, s.cfg.Host)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("create smtp client: %w", err)
	}
	defer func() { _ = client.Close() }()

	if s.cfg.Port != implicitTLSPort {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(tlsConfig); err != nil {
				return fmt.Errorf("start tls: %w", err)
			}
		}
	}
	if s.cfg.User != "" {
		if ok, _ := client.Extension("AUTH"); ok {
			if err := client.Auth(smtp.PlainAuth("", s.cfg.User, s.cfg.Password, s.cfg.Host)); err != nil {
				return fmt.Errorf("authentication failed: %w", err)
			}
		}
	}
	if err := client.Mail(s.cfg.From); err != nil {
		return fmt.Errorf("set sender: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("set recipient: %w", err)
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("open data writer: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		_ = w.Close()
		return fmt.Errorf("write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close data writer: %w", err)
	}
	// Some servers drop the connection right after DATA.
	_ = client.Quit()
	return nil
}

// buildMessage renders a text/plain message, or multipart/alternative when an
// HTML body is present.
func buildMessage(from string, msg Message, now time.Time) ([]byte, error) {
	var buf bytes.Buffer
	header := func(k, v string) { fmt.Fprintf(&buf, "%s: %s\r\n", k, v) }

	header("From", from)
	header("To", msg.To)
	header("Subject", mime.QEncoding.Encode("utf-8", msg.Subject))
	header("Date", now.Format(time.RFC1123Z))
	header("MIME-Version", "1.0")

	if msg.HTMLBody == "" {
		header("Content-Type", `text/plain; charset="utf-8"`)
		header("Content-Transfer-Encoding", "quoted-printable")
		buf.WriteString("\r\n")
		if err := writeQP(&buf, msg.Body); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}

	mw := multipart.NewWriter(&buf)
	header("Content-Type", "multipart/alternative; boundary="+mw.Boundary())
	buf.WriteString("\r\n")
	for _, part := range []struct{ ctype, body string }{
		{`text/plain; charset="utf-8"`, msg.Body},
		{`text/html; charset="utf-8"`, msg.HTMLBody},
	} {
		pw, err := mw.CreatePart(textproto.MIMEHeader{
			"Content-Type":              {part.ctype},
			"Content-Transfer-Encoding": {"quoted-printable"},
		})
		if err != nil {
			return nil, err
		}
		if err := writeQP(pw, part.body); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeQP(w io.Writer, s string) error {
	qp := quotedprintable.NewWriter(w)
	if _, err := qp.Write([]byte(s)); err != nil {
		return err
	}
	return qp.Close()
}
