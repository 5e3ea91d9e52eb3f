package mailer

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"time"

	"github.com/emersion/go-message/mail"

	"github.com/nhle/reminders/internal/model"
)

// dialTimeout bounds the TCP connect to the SMTP server.
const dialTimeout = 30 * time.Second

// SMTPTransport sends messages through an authenticated SMTP server, over
// implicit TLS or STARTTLS.
type SMTPTransport struct {
	cfg      model.SMTPConfig
	password string
	now      func() time.Time
}

// NewSMTPTransport creates a transport for cfg authenticating with password.
func NewSMTPTransport(cfg model.SMTPConfig, password string) *SMTPTransport {
	return &SMTPTransport{cfg: cfg, password: password, now: time.Now}
}

// Send composes msg and delivers it.
func (t *SMTPTransport) Send(ctx context.Context, msg Message) error {
	from := t.cfg.From
	if from == "" {
		from = t.cfg.Username
	}

	raw, err := ComposeMessage(from, msg, t.now())
	if err != nil {
		return err
	}

	// Both addresses were validated by ComposeMessage.
	fromAddr, _ := mail.ParseAddress(from)
	toAddr, _ := mail.ParseAddress(msg.To)

	addr := net.JoinHostPort(t.cfg.Host, t.cfg.Port)
	if t.cfg.TLS {
		return t.sendWithTLS(ctx, addr, fromAddr.Address, toAddr.Address, raw)
	}
	return t.sendWithStartTLS(ctx, addr, fromAddr.Address, toAddr.Address, raw)
}

// ComposeMessage renders an RFC 5322 text/plain message with go-message.
func ComposeMessage(from string, msg Message, at time.Time) ([]byte, error) {
	fromAddr, err := mail.ParseAddress(from)
	if err != nil {
		return nil, fmt.Errorf("parsing sender %q: %w", from, err)
	}
	toAddr, err := mail.ParseAddress(msg.To)
	if err != nil {
		return nil, fmt.Errorf("parsing recipient %q: %w", msg.To, err)
	}

	var h mail.Header
	h.SetDate(at)
	h.SetAddressList("From", []*mail.Address{fromAddr})
	h.SetAddressList("To", []*mail.Address{toAddr})
	h.SetSubject(msg.Subject)
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
	if err := h.GenerateMessageID(); err != nil {
		return nil, fmt.Errorf("generating message id: %w", err)
	}

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("creating message writer: %w", err)
	}
	if _, err := w.Write([]byte(msg.Body)); err != nil {
		return nil, fmt.Errorf("writing email body: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("closing email body: %w", err)
	}

	return buf.Bytes(), nil
}

// sendWithTLS sends an email over an implicit TLS connection.
func (t *SMTPTransport) sendWithTLS(
	ctx context.Context, addr, from, to string, body []byte,
) error {
	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{Timeout: dialTimeout},
		Config:    &tls.Config{ServerName: t.cfg.Host},
	}

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("TLS dial to %s: %w", addr, err)
	}

	client, err := smtp.NewClient(conn, t.cfg.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("creating SMTP client: %w", err)
	}
	defer client.Close()

	if err := t.auth(client); err != nil {
		return err
	}

	return sendViaClient(client, from, to, body)
}

// sendWithStartTLS sends an email using STARTTLS.
func (t *SMTPTransport) sendWithStartTLS(
	ctx context.Context, addr, from, to string, body []byte,
) error {
	dialer := &net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial to %s: %w", addr, err)
	}

	client, err := smtp.NewClient(conn, t.cfg.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("creating SMTP client: %w", err)
	}
	defer client.Close()

	tlsConfig := &tls.Config{ServerName: t.cfg.Host}
	if err := client.StartTLS(tlsConfig); err != nil {
		return fmt.Errorf("SMTP STARTTLS: %w", err)
	}

	if err := t.auth(client); err != nil {
		return err
	}

	return sendViaClient(client, from, to, body)
}

func (t *SMTPTransport) auth(client *smtp.Client) error {
	if t.cfg.Username == "" {
		return nil
	}
	auth := smtp.PlainAuth("", t.cfg.Username, t.password, t.cfg.Host)
	if err := client.Auth(auth); err != nil {
		return fmt.Errorf("SMTP auth: %w", err)
	}
	return nil
}

// sendViaClient sends a message using an already-authenticated SMTP client.
func sendViaClient(client *smtp.Client, from, to string, body []byte) error {
	if err := client.Mail(from); err != nil {
		return fmt.Errorf("SMTP MAIL FROM: %w", err)
	}

	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("SMTP RCPT TO: %w", err)
	}

	writer, err := client.Data()
	if err != nil {
		return fmt.Errorf("SMTP DATA: %w", err)
	}

	if _, err := writer.Write(body); err != nil {
		return fmt.Errorf("writing email body: %w", err)
	}

	if err := writer.Close(); err != nil {
		return fmt.Errorf("closing email body: %w", err)
	}

	return client.Quit()
}
