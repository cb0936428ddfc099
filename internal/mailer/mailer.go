// Package mailer sends transactional email. When SMTP is not configured a
// console mailer logs messages instead of delivering them.
package mailer

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"
)

var (
	ErrNoRecipient     = errors.New("recipient is required")
	ErrFailedToSend    = errors.New("failed to send email")
	ErrInvalidSMTPPort = errors.New("smtp port must be between 1 and 65535")
)

type Message struct {
	To       string
	Subject  string
	Body     string
	HTMLBody string
}

// Mailer reports whether the message was actually delivered.
type Mailer interface {
	Send(ctx context.Context, msg Message) (bool, error)
}

type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string
}

func (c Config) Configured() bool { return c.Host != "" && c.User != "" && c.Password != "" }

// New returns an SMTP mailer when cfg is complete and a Console otherwise.
func New(cfg Config) (Mailer, error) {
	if !cfg.Configured() {
		log.Warn().Msg("smtp not configured, emails will be logged only")
		return Console{}, nil
	}
	return NewSMTP(cfg)
}

// Console logs messages. Nothing is delivered.
type Console struct{}

func (Console) Send(_ context.Context, msg Message) (bool, error) {
	if msg.To == "" {
		return false, ErrNoRecipient
	}
	log.Info().
		Str("to", msg.To).
		Str("subject", msg.Subject).
		Int("body_bytes", len(msg.Body)).
		Bool("html", msg.HTMLBody != "").
		Msg("email not sent, smtp unconfigured")
	return false, nil
}
