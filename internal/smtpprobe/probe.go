// Package smtpprobe checks whether a mailbox accepts mail without sending
// anything. Direct talks SMTP to the domain's MX host and stops after RCPT TO;
// HTTPProber delegates to an external probe service.
package smtpprobe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/mail"
	"net/smtp"
	"net/textproto"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ignite/campaign-engine/internal/domain"
)

// Prober verifies one address. Implementations should honour ctx's deadline.
type Prober interface {
	Verify(ctx context.Context, email string) (domain.ProbeResult, error)
}

// MXResolver is the DNS lookup used by Direct. *net.Resolver satisfies it.
type MXResolver interface {
	LookupMX(ctx context.Context, name string) ([]*net.MX, error)
}

// Direct probes the recipient's MX host over SMTP.
type Direct struct {
	resolver MXResolver
	helo     string
	mailFrom string
	port     int
}

// NewDirect creates a probe that greets with helo and uses mailFrom as the
// envelope sender. A nil resolver uses the system resolver.
func NewDirect(resolver MXResolver, helo, mailFrom string) *Direct {
	if resolver == nil {
		resolver = &net.Resolver{}
	}
	if mailFrom == "" {
		mailFrom = "verify@" + helo
	}
	return &Direct{resolver: resolver, helo: helo, mailFrom: mailFrom, port: 25}
}

// Verify returns Valid when the MX host accepts RCPT TO for email. Permanent
// rejections are Valid=false with no error; transport failures return an
// error, which callers treat as invalid.
func (d *Direct) Verify(ctx context.Context, email string) (domain.ProbeResult, error) {
	addr, err := mail.ParseAddress(email)
	if err != nil {
		return domain.ProbeResult{Valid: false, Reason: "malformed address"}, nil
	}
	_, host, ok := strings.Cut(addr.Address, "@")
	if !ok || host == "" {
		return domain.ProbeResult{Valid: false, Reason: "malformed address"}, nil
	}

	records, err := d.resolver.LookupMX(ctx, host)
	if err != nil || len(records) == 0 {
		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) && !dnsErr.IsNotFound {
			return domain.ProbeResult{}, fmt.Errorf("mx lookup %s: %w", host, err)
		}
		return domain.ProbeResult{Valid: false, Reason: "no mx records"}, nil
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Pref < records[j].Pref })
	mx := strings.TrimSuffix(records[0].Host, ".")

	return d.rcpt(ctx, mx, addr.Address)
}

func (d *Direct) rcpt(ctx context.Context, mx, email string) (domain.ProbeResult, error) {
	dialer := &net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(mx, strconv.Itoa(d.port)))
	if err != nil {
		return domain.ProbeResult{}, fmt.Errorf("dial %s: %w", mx, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	} else {
		conn.SetDeadline(time.Now().Add(30 * time.Second))
	}

	c, err := smtp.NewClient(conn, mx)
	if err != nil {
		conn.Close()
		return domain.ProbeResult{}, fmt.Errorf("smtp greeting %s: %w", mx, err)
	}
	defer c.Close()

	if err := c.Hello(d.helo); err != nil {
		return domain.ProbeResult{}, fmt.Errorf("helo: %w", err)
	}
	if err := c.Mail(d.mailFrom); err != nil {
		return domain.ProbeResult{}, fmt.Errorf("mail from: %w", err)
	}
	err = c.Rcpt(email)
	_ = c.Quit()
	if err == nil {
		return domain.ProbeResult{Valid: true}, nil
	}

	var tpErr *textproto.Error
	if errors.As(err, &tpErr) {
		if tpErr.Code >= 500 {
			return domain.ProbeResult{Valid: false, Reason: fmt.Sprintf("rejected: %d %s", tpErr.Code, tpErr.Msg)}, nil
		}
		return domain.ProbeResult{Valid: false, Reason: fmt.Sprintf("deferred: %d %s", tpErr.Code, tpErr.Msg)}, nil
	}
	return domain.ProbeResult{}, fmt.Errorf("rcpt to: %w", err)
}
