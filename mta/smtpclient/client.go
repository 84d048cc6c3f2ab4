// Package smtpclient relays outbound mail to an upstream SMTP smarthost.
package smtpclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"github.com/virtmail/mailstore/mta"
)

// Config configures the relay connection.
type Config struct {
	// Addr is the smarthost address, host:port.
	Addr string
	// Username and Password enable PLAIN auth when both are set.
	Username string
	Password string
	// HELODomain is the domain announced in the HELO, defaulting to the
	// sender's domain.
	HELODomain string
}

// Client submits envelopes over SMTP. It dials per submission; connection
// pooling belongs in the smarthost.
type Client struct {
	cfg Config
	log *slog.Logger
}

var _ mta.Submitter = (*Client)(nil)

// New returns a Client for the given smarthost.
func New(cfg Config, log *slog.Logger) (*Client, error) {
	if cfg.Addr == "" {
		return nil, errors.New("smtpclient: missing smarthost address")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Client{cfg: cfg, log: log}, nil
}

// Submit relays the envelope. SMTP 5xx replies are reported as permanent
// failures so the caller stops retrying; everything else is transient.
func (c *Client) Submit(ctx context.Context, env mta.Envelope) error {
	if len(env.To) == 0 {
		return mta.Permanent(errors.New("smtpclient: empty recipient list"))
	}

	var auth sasl.Client
	if c.cfg.Username != "" {
		auth = sasl.NewPlainClient("", c.cfg.Username, c.cfg.Password)
	}

	r := strings.NewReader(formatMessage(env))

	done := make(chan error, 1)
	go func() {
		done <- smtp.SendMail(c.cfg.Addr, auth, env.From, env.To, r)
	}()

	var err error
	select {
	case <-ctx.Done():
		return mta.Transient(ctx.Err())
	case err = <-done:
	}
	if err == nil {
		c.log.Debug("relayed message", "smarthost", c.cfg.Addr, "recipients", len(env.To))
		return nil
	}

	var smtpErr *smtp.SMTPError
	if errors.As(err, &smtpErr) && smtpErr.Code >= 500 {
		return mta.Permanent(fmt.Errorf("smtpclient: rejected by smarthost: %w", err))
	}
	return mta.Transient(fmt.Errorf("smtpclient: submit: %w", err))
}

// formatMessage renders the envelope as an RFC 5322 message.
func formatMessage(env mta.Envelope) string {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", env.From)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(env.To, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", env.Subject)
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().UTC().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(env.Body)
	b.WriteString("\r\n")
	return b.String()
}
