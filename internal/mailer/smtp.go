package mailer

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"

	"github.com/ignite/campaign-engine/internal/pkg/logger"
)

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPTransport sends through an authenticated SMTP relay.
type SMTPTransport struct {
	host string
	port int
	user string
	pass string
	send sendFunc
}

func NewSMTPTransport(host string, port int, user, pass string) *SMTPTransport {
	if port == 0 {
		port = 587
	}
	return &SMTPTransport{host: host, port: port, user: user, pass: pass, send: smtp.SendMail}
}

// Send ignores ctx once the relay conversation has started; net/smtp has no
// context support.
func (c *SMTPTransport) Send(ctx context.Context, msg Message) error {
	if err := msg.validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var auth smtp.Auth
	if c.user != "" {
		auth = smtp.PlainAuth("", c.user, c.pass, c.host)
	}
	addr := net.JoinHostPort(c.host, strconv.Itoa(c.port))
	if err := c.send(addr, auth, envelopeAddress(msg.From), []string{msg.To}, buildMIME(msg)); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	logger.Info("mail sent", "provider", "smtp", "to", msg.To)
	return nil
}

// envelopeAddress strips a display name: "Ops <ops@x.io>" -> "ops@x.io".
func envelopeAddress(from string) string {
	if i := strings.LastIndex(from, "<"); i >= 0 {
		return strings.TrimSuffix(from[i+1:], ">")
	}
	return from
}

func buildMIME(msg Message) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\n", msg.From, msg.To, msg.Subject)

	switch {
	case msg.HTML != "" && msg.Text != "":
		boundary := newBoundary()
		fmt.Fprintf(&b, "Content-Type: multipart/alternative; boundary=%q\r\n\r\n", boundary)
		fmt.Fprintf(&b, "--%s\r\nContent-Type: text/plain; charset=\"UTF-8\"\r\n\r\n%s\r\n", boundary, msg.Text)
		fmt.Fprintf(&b, "--%s\r\nContent-Type: text/html; charset=\"UTF-8\"\r\n\r\n%s\r\n", boundary, msg.HTML)
		fmt.Fprintf(&b, "--%s--\r\n", boundary)
	case msg.HTML != "":
		b.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n\r\n")
		b.WriteString(msg.HTML)
	default:
		b.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n\r\n")
		b.WriteString(msg.Text)
	}
	return []byte(b.String())
}

func newBoundary() string {
	buf := make([]byte, 12)
	_, _ = rand.Read(buf)
	return "ce-" + hex.EncodeToString(buf)
}
