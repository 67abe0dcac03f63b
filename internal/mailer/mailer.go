// Package mailer delivers transactional mail (verification reports and test
// sends) through SES, SMTP or the log.
package mailer

import (
	"context"
	"errors"
	"strings"

	"github.com/ignite/campaign-engine/internal/pkg/logger"
)

// Message is a single outbound email.
type Message struct {
	From    string
	To      string
	Subject string
	Text    string
	HTML    string
}

// Transport sends one message. Callers log failures and never retry.
type Transport interface {
	Send(ctx context.Context, msg Message) error
}

var (
	ErrNoRecipient = errors.New("mailer: message has no recipient")
	ErrNoBody      = errors.New("mailer: message has no body")
)

func (m Message) validate() error {
	if strings.TrimSpace(m.To) == "" {
		return ErrNoRecipient
	}
	if m.Text == "" && m.HTML == "" {
		return ErrNoBody
	}
	return nil
}

// LogTransport writes messages to the structured log instead of sending them.
// It is the default when no provider is configured.
type LogTransport struct{}

func (LogTransport) Send(_ context.Context, msg Message) error {
	if err := msg.validate(); err != nil {
		return err
	}
	logger.Info("mail not sent (log transport)",
		"to", msg.To,
		"from", msg.From,
		"subject", msg.Subject,
		"text_bytes", len(msg.Text),
		"html_bytes", len(msg.HTML),
	)
	return nil
}

// WithDefaultFrom fills msg.From when it is empty.
func WithDefaultFrom(t Transport, from string) Transport {
	return defaultFrom{next: t, from: from}
}

type defaultFrom struct {
	next Transport
	from string
}

func (d defaultFrom) Send(ctx context.Context, msg Message) error {
	if msg.From == "" {
		msg.From = d.from
	}
	return d.next.Send(ctx, msg)
}
