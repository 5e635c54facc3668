package messaging

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"nudge/src/internal/config"
)

var ErrNotConfigured = errors.New("messaging is not configured")

// SMSSender delivers a short text to a phone number.
type SMSSender interface {
	SendSMS(ctx context.Context, phone, message string) error
}

// EmailSender delivers a plain-text e-mail.
type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

// Sender is the subset of a channel used for text delivery.
type Sender interface {
	Name() string
	Send(ctx context.Context, target, msg string) error
}

// ChannelSMS hands text messages to a chat channel keyed by phone number.
type ChannelSMS struct {
	ch Sender
}

func NewChannelSMS(ch Sender) *ChannelSMS {
	return &ChannelSMS{ch: ch}
}

func (s *ChannelSMS) SendSMS(ctx context.Context, phone, message string) error {
	if strings.TrimSpace(phone) == "" {
		return errors.New("recipient has no phone number")
	}
	if err := s.ch.Send(ctx, phone, message); err != nil {
		return fmt.Errorf("%s: %w", s.ch.Name(), err)
	}
	return nil
}

// SMTP sends mail through an authenticated SMTP relay.
type SMTP struct {
	cfg  config.EmailConfig
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
	now  func() time.Time
}

func NewSMTP(cfg config.EmailConfig) *SMTP {
	return &SMTP{cfg: cfg, send: smtp.SendMail, now: time.Now}
}

func (s *SMTP) SendEmail(ctx context.Context, to, subject, body string) error {
	if !strings.Contains(to, "@") {
		return fmt.Errorf("invalid e-mail address %q", to)
	}
	addr := net.JoinHostPort(s.cfg.SMTPHost, strconv.Itoa(s.cfg.SMTPPort))
	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.SMTPHost)
	}
	msg := s.compose(to, subject, body)

	errc := make(chan error, 1)
	go func() { errc <- s.send(addr, auth, s.cfg.From, []string{to}, msg) }()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *SMTP) compose(to, subject, body string) []byte {
	var b strings.Builder
	b.WriteString("From: " + s.cfg.From + "\r\n")
	b.WriteString("To: " + to + "\r\n")
	b.WriteString("Subject: " + mime.QEncoding.Encode("utf-8", subject) + "\r\n")
	b.WriteString("Date: " + s.now().Format(time.RFC1123Z) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	return []byte(b.String())
}

// Disabled rejects every delivery.
type Disabled struct{}

func (Disabled) SendSMS(context.Context, string, string) error          { return ErrNotConfigured }
func (Disabled) SendEmail(context.Context, string, string, string) error { return ErrNotConfigured }
