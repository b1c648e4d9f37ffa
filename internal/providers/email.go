package providers

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/mail"
	"net/smtp"
	"strconv"
	"time"

	"device-notifier/internal/config"
	"device-notifier/pkg/email"
)

// Mailer delivers a composed message.
type Mailer interface {
	Send(ctx context.Context, msg *email.Message) error
}

// SMTPError wraps a failed SMTP exchange with the step that failed.
type SMTPError struct {
	Step      string
	Recipient string
	Err       error
}

func (e *SMTPError) Error() string {
	return fmt.Sprintf("smtp %s for %s: %v", e.Step, e.Recipient, e.Err)
}

func (e *SMTPError) Unwrap() error {
	return e.Err
}

// SMTPMailer sends over implicit TLS (SMTPS), opening one session per message.
type SMTPMailer struct {
	host      string
	port      int
	username  string
	password  string
	timeout   time.Duration
	tlsConfig *tls.Config
}

// NewSMTPMailer creates a mailer for the report credentials of rc.
func NewSMTPMailer(rc config.RunConfiguration) *SMTPMailer {
	return &SMTPMailer{
		host:      rc.SMTPServer,
		port:      rc.SMTPPort,
		username:  rc.Report.Username,
		password:  rc.Report.Password,
		timeout:   30 * time.Second,
		tlsConfig: &tls.Config{ServerName: rc.SMTPServer},
	}
}

// Send opens a TLS session, authenticates, and delivers msg to all of msg.To.
func (m *SMTPMailer) Send(ctx context.Context, msg *email.Message) error {
	recipient := fmt.Sprint(msg.To)
	if len(msg.To) == 1 {
		recipient = msg.To[0]
	}
	fail := func(step string, err error) error {
		return &SMTPError{Step: step, Recipient: recipient, Err: err}
	}

	if m.host == "" || m.port == 0 || m.username == "" || m.password == "" {
		return fail("config", fmt.Errorf("missing SMTP host, port, username or password"))
	}
	body, err := msg.Bytes()
	if err != nil {
		return fail("compose", err)
	}

	addr := net.JoinHostPort(m.host, strconv.Itoa(m.port))
	dialer := &tls.Dialer{NetDialer: &net.Dialer{Timeout: m.timeout}, Config: m.tlsConfig}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fail("connect", err)
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(time.Now().Add(2 * m.timeout))
	}

	client, err := smtp.NewClient(conn, m.host)
	if err != nil {
		return fail("handshake", err)
	}
	defer client.Close()

	if err := client.Auth(smtp.PlainAuth("", m.username, m.password, m.host)); err != nil {
		return fail("auth", err)
	}
	from, err := mail.ParseAddress(msg.From)
	if err != nil {
		return fail("mail from", err)
	}
	if err := client.Mail(from.Address); err != nil {
		return fail("mail from", err)
	}
	for _, to := range msg.To {
		if err := client.Rcpt(to); err != nil {
			return fail("rcpt to", err)
		}
	}
	w, err := client.Data()
	if err != nil {
		return fail("data", err)
	}
	if _, err := w.Write(body); err != nil {
		return fail("data", err)
	}
	if err := w.Close(); err != nil {
		return fail("data", err)
	}
	// The message is accepted at this point.
	_ = client.Quit()
	return nil
}
