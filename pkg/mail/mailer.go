package mail

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/mail"
	"net/smtp"
	"strings"
	"time"
)

const defaultTimeout = 10 * time.Second

// ErrDisabled signals that outbound mail is switched off in configuration.
var ErrDisabled = errors.New("mail: delivery disabled")

// Message is a plain-text email.
type Message struct {
	From    string
	To      []string
	Subject string
	Body    string
}

// Mailer sends email messages.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// Settings configure the SMTP relay.
type Settings struct {
	Enabled  bool
	Host     string
	Port     int
	Username string
	Password string
	From     string
	// ImplicitTLS dials with TLS from the first byte (port 465). Otherwise STARTTLS is
	// used whenever the server offers it.
	ImplicitTLS bool
	Timeout     time.Duration
}

// SMTPMailer delivers messages through a single SMTP session per Send.
type SMTPMailer struct {
	cfg  Settings
	dial dialFunc
}

type smtpClient interface {
	Mail(string) error
	Rcpt(string) error
	Data() (io.WriteCloser, error)
	Quit() error
	Close() error
	Auth(smtp.Auth) error
}

type dialFunc func(ctx context.Context, cfg Settings) (smtpClient, error)

// NewSMTPMailer validates the settings and returns a mailer. A disabled mailer is valid and
// answers every Send with ErrDisabled.
func NewSMTPMailer(cfg Settings) (*SMTPMailer, error) {
	cfg.Host = strings.TrimSpace(cfg.Host)
	cfg.From = strings.TrimSpace(cfg.From)
	if cfg.Enabled {
		if cfg.Host == "" {
			return nil, errors.New("mail: smtp host is required when enabled")
		}
		if cfg.Port <= 0 {
			return nil, errors.New("mail: smtp port is required when enabled")
		}
		if _, err := mail.ParseAddress(cfg.From); err != nil {
			return nil, fmt.Errorf("mail: invalid sender address: %w", err)
		}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &SMTPMailer{cfg: cfg, dial: dialSMTP}, nil
}

// Send implements Mailer.
func (m *SMTPMailer) Send(ctx context.Context, msg Message) error {
	if !m.cfg.Enabled {
		return ErrDisabled
	}

	from := strings.TrimSpace(msg.From)
	if from == "" {
		from = m.cfg.From
	}
	if _, err := mail.ParseAddress(from); err != nil {
		return fmt.Errorf("mail: invalid sender address: %w", err)
	}

	recipients := uniqueAddresses(msg.To)
	if len(recipients) == 0 {
		return errors.New("mail: at least one recipient is required")
	}
	for _, rcpt := range recipients {
		if _, err := mail.ParseAddress(rcpt); err != nil {
			return fmt.Errorf("mail: invalid recipient %q: %w", rcpt, err)
		}
	}

	client, err := m.dial(ctx, m.cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	if m.cfg.Username != "" {
		if err := client.Auth(smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)); err != nil {
			return fmt.Errorf("mail: auth: %w", err)
		}
	}

	if err := client.Mail(from); err != nil {
		return fmt.Errorf("mail: MAIL FROM: %w", err)
	}
	for _, rcpt := range recipients {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("mail: RCPT TO %s: %w", rcpt, err)
		}
	}

	wc, err := client.Data()
	if err != nil {
		return fmt.Errorf("mail: DATA: %w", err)
	}
	if _, err := io.WriteString(wc, formatMessage(from, recipients, msg.Subject, msg.Body)); err != nil {
		_ = wc.Close()
		return fmt.Errorf("mail: write body: %w", err)
	}
	if err := wc.Close(); err != nil {
		return fmt.Errorf("mail: finish body: %w", err)
	}
	return client.Quit()
}

func dialSMTP(ctx context.Context, cfg Settings) (smtpClient, error) {
	address := net.JoinHostPort(cfg.Host, fmt.Sprint(cfg.Port))
	dialer := &net.Dialer{Timeout: cfg.Timeout}
	tlsConfig := &tls.Config{ServerName: cfg.Host, MinVersion: tls.VersionTLS12}

	var (
		conn net.Conn
		err  error
	)
	if cfg.ImplicitTLS {
		conn, err = (&tls.Dialer{NetDialer: dialer, Config: tlsConfig}).DialContext(ctx, "tcp", address)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", address)
	}
	if err != nil {
		return nil, fmt.Errorf("mail: dial %s: %w", address, err)
	}

	// The whole SMTP exchange shares one deadline.
	deadline := time.Now().Add(cfg.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetDeadline(deadline)

	client, err := smtp.NewClient(conn, cfg.Host)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("mail: greeting: %w", err)
	}

	if !cfg.ImplicitTLS {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(tlsConfig); err != nil {
				_ = client.Close()
				return nil, fmt.Errorf("mail: STARTTLS: %w", err)
			}
		}
	}
	return client, nil
}

func uniqueAddresses(addresses []string) []string {
	seen := make(map[string]struct{}, len(addresses))
	var result []string
	for _, addr := range addresses {
		addr = strings.TrimSpace(addr)
		if addr == "" {
			continue
		}
		key := strings.ToLower(addr)
		if _, exists := seen[key]; exists {
			continue
		}
		seen[key] = struct{}{}
		result = append(result, addr)
	}
	return result
}

func formatMessage(from string, to []string, subject, body string) string {
	headers := []string{
		"From: " + from,
		"To: " + strings.Join(to, ", "),
		"Subject: " + headerValue(subject),
		"Date: " + time.Now().UTC().Format(time.RFC1123Z),
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=UTF-8",
		"",
	}
	body = strings.ReplaceAll(body, "\r\n", "\n")
	return strings.Join(headers, "\r\n") + strings.ReplaceAll(body, "\n", "\r\n")
}

// headerValue strips line breaks so a value cannot inject extra headers.
func headerValue(value string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(value)
}
