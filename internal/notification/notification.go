package notification

import (
	"context"
	"errors"
	"fmt"
	"net/smtp"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var ErrInvalidRecipient = errors.New("invalid email recipient")

// SMTPConfig holds SMTP configuration
type SMTPConfig struct {
	Host      string
	Port      int
	Username  string
	Password  string
	FromName  string
	FromEmail string
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPMailer sends plain-text settlement emails through an SMTP relay
type SMTPMailer struct {
	config SMTPConfig
	send   sendFunc
}

func NewSMTPMailer(config SMTPConfig) *SMTPMailer {
	return &SMTPMailer{config: config, send: smtp.SendMail}
}

func (m *SMTPMailer) Send(ctx context.Context, to, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if to == "" || strings.ContainsAny(to, "\r\n") {
		return fmt.Errorf("%w: %q", ErrInvalidRecipient, to)
	}

	addr := fmt.Sprintf("%s:%d", m.config.Host, m.config.Port)

	var auth smtp.Auth
	if m.config.Username != "" {
		auth = smtp.PlainAuth("", m.config.Username, m.config.Password, m.config.Host)
	}

	if err := m.send(addr, auth, m.config.FromEmail, []string{to}, m.buildMessage(to, subject, body)); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}

// buildMessage builds a plain-text message. Header values are stripped of
// line breaks.
func (m *SMTPMailer) buildMessage(to, subject, body string) []byte {
	clean := strings.NewReplacer("\r", "", "\n", " ")
	headers := fmt.Sprintf(
		"From: %s <%s>\r\n"+
			"To: %s\r\n"+
			"Subject: %s\r\n"+
			"MIME-Version: 1.0\r\n"+
			"Content-Type: text/plain; charset=\"UTF-8\"\r\n"+
			"\r\n",
		clean.Replace(m.config.FromName),
		m.config.FromEmail,
		to,
		clean.Replace(subject),
	)
	body = strings.ReplaceAll(strings.ReplaceAll(body, "\r\n", "\n"), "\n", "\r\n")
	return []byte(headers + body)
}

// Message is an email captured by LogMailer.
type Message struct {
	To      string
	Subject string
	Body    string
}

// DefaultLogMailerCapacity is how many messages a LogMailer keeps.
const DefaultLogMailerCapacity = 100

// LogMailer logs emails instead of sending them and keeps the most recent
// ones in memory. It is used when SMTP is not configured.
type LogMailer struct {
	logger   zerolog.Logger
	capacity int

	mu   sync.Mutex
	sent []Message
}

func NewLogMailer() *LogMailer {
	return NewLogMailerWithCapacity(DefaultLogMailerCapacity)
}

// NewLogMailerWithCapacity keeps at most capacity messages, dropping the
// oldest first. A capacity below one keeps nothing.
func NewLogMailerWithCapacity(capacity int) *LogMailer {
	if capacity < 0 {
		capacity = 0
	}
	return &LogMailer{
		logger:   log.With().Str("component", "log_mailer").Logger(),
		capacity: capacity,
	}
}

func (m *LogMailer) Send(ctx context.Context, to, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if to == "" {
		return fmt.Errorf("%w: empty address", ErrInvalidRecipient)
	}

	m.mu.Lock()
	if m.capacity > 0 {
		if len(m.sent) == m.capacity {
			copy(m.sent, m.sent[1:])
			m.sent = m.sent[:len(m.sent)-1]
		}
		m.sent = append(m.sent, Message{To: to, Subject: subject, Body: body})
	}
	m.mu.Unlock()

	m.logger.Info().
		Str("to", to).
		Str("subject", subject).
		Int("body_bytes", len(body)).
		Msg("settlement email recorded")
	return nil
}

// Sent returns a copy of the recorded messages, oldest first.
func (m *LogMailer) Sent() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Message, len(m.sent))
	copy(out, m.sent)
	return out
}
