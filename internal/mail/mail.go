// Package mail sends the account emails: one-time codes and reset links.
package mail

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"html/template"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Mailer delivers one HTML message.
type Mailer interface {
	Send(ctx context.Context, to, subject, html string) error
}

// Message is a rendered email.
type Message struct {
	Subject string
	HTML    string
}

var (
	otpTmpl = template.Must(template.New("otp").Parse(
		`<p>Hello {{.Name}},</p>
<p>Your OTP is: <strong>{{.Code}}</strong></p>
<p>This code will expire in 5 minutes.</p>
`))
	resetTmpl = template.Must(template.New("reset").Parse(
		`<p>Hello {{.Name}},</p>
<p>You requested to reset your password. Click the link below to proceed:</p>
<a href="{{.Link}}">{{.Link}}</a>
<p>If you didn't request this, you can safely ignore this email.</p>
`))
)

// OTPEmail renders the one-time code message.
func OTPEmail(firstName, code string) (Message, error) {
	var buf bytes.Buffer
	if err := otpTmpl.Execute(&buf, struct{ Name, Code string }{firstName, code}); err != nil {
		return Message{}, err
	}
	return Message{Subject: "Your One-Time Password (OTP)", HTML: buf.String()}, nil
}

// ResetEmail renders the password reset message.
func ResetEmail(firstName, link string) (Message, error) {
	var buf bytes.Buffer
	if err := resetTmpl.Execute(&buf, struct{ Name, Link string }{firstName, link}); err != nil {
		return Message{}, err
	}
	return Message{Subject: "Reset Your Password", HTML: buf.String()}, nil
}

// SMTPMailer sends through an authenticated SMTP relay. Port 465 uses
// implicit TLS; other ports negotiate STARTTLS.
type SMTPMailer struct {
	host     string
	port     int
	username string
	password string
	from     string
	timeout  time.Duration
}

// NewSMTPMailer builds a mailer. The sender address defaults to username.
func NewSMTPMailer(host string, port int, username, password string) *SMTPMailer {
	return &SMTPMailer{
		host:     host,
		port:     port,
		username: username,
		password: password,
		from:     username,
		timeout:  10 * time.Second,
	}
}

func (m *SMTPMailer) addr() string {
	return net.JoinHostPort(m.host, strconv.Itoa(m.port))
}

// Send delivers one message. Header injection through the recipient or
// subject is rejected.
func (m *SMTPMailer) Send(ctx context.Context, to, subject, html string) error {
	if strings.ContainsAny(to, "\r\n") || strings.ContainsAny(subject, "\r\n") {
		return errors.New("mail: invalid header value")
	}
	msg := buildMessage(m.from, to, subject, html)
	auth := smtp.PlainAuth("", m.username, m.password, m.host)

	if m.port != 465 {
		return smtp.SendMail(m.addr(), auth, m.from, []string{to}, msg)
	}

	dialer := &net.Dialer{Timeout: m.timeout}
	conn, err := tls.DialWithDialer(dialer, "tcp", m.addr(), &tls.Config{ServerName: m.host})
	if err != nil {
		return fmt.Errorf("mail: dial: %w", err)
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, m.host)
	if err != nil {
		return fmt.Errorf("mail: client: %w", err)
	}
	defer client.Quit()

	if err := client.Auth(auth); err != nil {
		return fmt.Errorf("mail: auth: %w", err)
	}
	if err := client.Mail(m.from); err != nil {
		return err
	}
	if err := client.Rcpt(to); err != nil {
		return err
	}
	w, err := client.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		return err
	}
	return w.Close()
}

func buildMessage(from, to, subject, html string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=\"utf-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(html)
	return []byte(b.String())
}

// LogMailer logs messages instead of sending them. Used when no SMTP
// credentials are configured.
type LogMailer struct {
	log *zap.Logger
}

func NewLogMailer(l *zap.Logger) *LogMailer {
	if l == nil {
		l = zap.NewNop()
	}
	return &LogMailer{log: l}
}

func (m *LogMailer) Send(ctx context.Context, to, subject, html string) error {
	m.log.Info("mail_not_sent", zap.String("to", to), zap.String("subject", subject), zap.String("html", html))
	return nil
}
