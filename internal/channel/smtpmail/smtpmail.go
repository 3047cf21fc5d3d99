// Package smtpmail delivers email notifications straight to a mailbox over
// SMTP, for contacts whose email destination is an address rather than an
// SNS topic.
package smtpmail

import (
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"fmt"
	"net/mail"

	"gopkg.in/gomail.v2"

	"github.com/linnemanlabs/pager/internal/alert"
	"github.com/linnemanlabs/pager/internal/routing"
)

// Config holds SMTP settings.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	// NoVerify skips TLS certificate verification.
	NoVerify bool
}

// RegisterFlags binds Config fields to fs.
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.Host, "smtp-host", "", "SMTP host for direct email delivery (empty = disabled)")
	fs.IntVar(&c.Port, "smtp-port", 587, "SMTP port")
	fs.StringVar(&c.Username, "smtp-username", "", "SMTP username")
	fs.StringVar(&c.Password, "smtp-password", "", "SMTP password")
	fs.StringVar(&c.From, "smtp-from", "", "sender address for direct email")
	fs.BoolVar(&c.NoVerify, "smtp-no-verify", false, "skip SMTP TLS certificate verification")
}

// Enabled reports whether direct SMTP delivery is configured.
func (c *Config) Enabled() bool {
	return c.Host != ""
}

// Validate checks the settings when SMTP is enabled.
func (c *Config) Validate() error {
	if !c.Enabled() {
		return nil
	}
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid SMTP_PORT %d (must be 1..65535)", c.Port))
	}
	if _, err := mail.ParseAddress(c.From); err != nil {
		errs = append(errs, fmt.Errorf("invalid SMTP_FROM %q: %w", c.From, err))
	}
	return errors.Join(errs...)
}

// DialFunc opens an SMTP connection.
type DialFunc func() (gomail.SendCloser, error)

// Dialer returns a DialFunc for c.
func (c *Config) Dialer() DialFunc {
	var d *gomail.Dialer
	if c.Username == "" {
		d = &gomail.Dialer{Host: c.Host, Port: c.Port}
	} else {
		d = gomail.NewDialer(c.Host, c.Port, c.Username, c.Password)
	}
	if c.NoVerify {
		d.TLSConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in for internal relays
	}
	return d.Dial
}

// Dispatcher sends one message per Send over a fresh connection.
type Dispatcher struct {
	from string
	dial DialFunc
}

// New returns a Dispatcher.
func New(from string, dial DialFunc) *Dispatcher {
	return &Dispatcher{from: from, dial: dial}
}

// Send implements routing.Dispatcher. gomail has no context support, so the
// SMTP exchange runs in its own goroutine and Send returns when ctx ends.
func (d *Dispatcher) Send(ctx context.Context, dest routing.Destination, msg routing.Message) error {
	if dest.Channel != alert.ChannelEmail {
		return fmt.Errorf("smtp: unsupported channel %q", dest.Channel)
	}
	to, err := mail.ParseAddress(dest.Address)
	if err != nil {
		return fmt.Errorf("smtp: invalid recipient %s: %w", routing.MaskAddress(dest.Address), err)
	}

	m := gomail.NewMessage()
	m.SetHeader("From", d.from)
	m.SetHeader("To", to.Address)
	m.SetHeader("Subject", msg.Subject)
	if msg.MessageID != "" {
		m.SetHeader("X-Pager-Message-Id", msg.MessageID)
	}
	m.SetBody("text/plain", msg.Body)

	done := make(chan error, 1)
	go func() {
		done <- d.deliver(m)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("smtp: %w", ctx.Err())
	}
}

func (d *Dispatcher) deliver(m *gomail.Message) error {
	conn, err := d.dial()
	if err != nil {
		return fmt.Errorf("smtp dial: %w", err)
	}
	if err := gomail.Send(conn, m); err != nil {
		_ = conn.Close()
		return fmt.Errorf("smtp send: %w", err)
	}
	if err := conn.Close(); err != nil {
		return fmt.Errorf("smtp quit: %w", err)
	}
	return nil
}
