package mailer

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
)

// SMTPSecurity selects how the connection to the relay is protected.
type SMTPSecurity string

const (
	SMTPSecurityStartTLS SMTPSecurity = "starttls"
	SMTPSecurityTLS      SMTPSecurity = "tls"
	SMTPSecurityNone     SMTPSecurity = "none"
)

const defaultSMTPTimeout = 30 * time.Second

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	Security SMTPSecurity
	From     string
	Timeout  time.Duration
	// TLSConfig overrides the client TLS settings; tests use it to trust a
	// self-signed relay.
	TLSConfig *tls.Config
}

// SMTPMailer submits each message over a fresh authenticated SMTP session.
type SMTPMailer struct {
	cfg      SMTPConfig
	addr     string
	envelope string
	now      func() time.Time
}

var _ Mailer = (*SMTPMailer)(nil)

func NewSMTPMailer(cfg SMTPConfig) (*SMTPMailer, error) {
	cfg.Host = strings.TrimSpace(cfg.Host)
	if cfg.Host == "" {
		return nil, fmt.Errorf("smtp host is required")
	}
	if cfg.Port <= 0 {
		cfg.Port = 587
	}
	switch cfg.Security {
	case "":
		cfg.Security = SMTPSecurityStartTLS
	case SMTPSecurityStartTLS, SMTPSecurityTLS, SMTPSecurityNone:
	default:
		return nil, fmt.Errorf("unsupported smtp security %q", cfg.Security)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultSMTPTimeout
	}
	envelope, err := envelopeAddress(cfg.From)
	if err != nil {
		return nil, fmt.Errorf("invalid from address %q: %w", cfg.From, err)
	}

	return &SMTPMailer{
		cfg:      cfg,
		addr:     net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		envelope: envelope,
		now:      time.Now,
	}, nil
}

func (m *SMTPMailer) Send(ctx context.Context, to, subject, htmlBody string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	rcpt, err := envelopeAddress(to)
	if err != nil {
		return &DeliveryError{Message: fmt.Sprintf("invalid recipient %q", to), Cause: err}
	}
	msg, err := buildMessage(m.cfg.From, to, subject, htmlBody, m.now())
	if err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() {
		done <- m.submit(rcpt, msg)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

func (m *SMTPMailer) submit(rcpt string, msg []byte) error {
	client, err := m.dial()
	if err != nil {
		return &DeliveryError{Message: "connect " + m.addr, Temporary: true, Cause: err}
	}
	defer client.Close()

	client.CommandTimeout = m.cfg.Timeout
	client.SubmissionTimeout = m.cfg.Timeout

	if m.cfg.Username != "" {
		if err := client.Auth(sasl.NewPlainClient("", m.cfg.Username, m.cfg.Password)); err != nil {
			return classifySMTPError("AUTH", err)
		}
	}

	if err := client.SendMail(m.envelope, []string{rcpt}, bytes.NewReader(msg)); err != nil {
		return classifySMTPError("SEND", err)
	}

	_ = client.Quit()
	return nil
}

func (m *SMTPMailer) dial() (*smtp.Client, error) {
	tlsConfig := m.cfg.TLSConfig
	if tlsConfig == nil {
		tlsConfig = &tls.Config{ServerName: m.cfg.Host, MinVersion: tls.VersionTLS12}
	}

	switch m.cfg.Security {
	case SMTPSecurityTLS:
		return smtp.DialTLS(m.addr, tlsConfig)
	case SMTPSecurityNone:
		return smtp.Dial(m.addr)
	default:
		return smtp.DialStartTLS(m.addr, tlsConfig)
	}
}

// classifySMTPError maps SMTP reply codes onto DeliveryError: 4xx replies
// are temporary, 5xx permanent. Errors without a reply code are treated as
// temporary transport failures.
func classifySMTPError(stage string, err error) error {
	var smtpErr *smtp.SMTPError
	if errors.As(err, &smtpErr) {
		return &DeliveryError{
			Code:      smtpErr.Code,
			Message:   fmt.Sprintf("%s rejected: %s", stage, smtpErr.Message),
			Temporary: smtpErr.Code >= 400 && smtpErr.Code < 500,
		}
	}
	return &DeliveryError{Message: stage + " failed", Temporary: true, Cause: err}
}
