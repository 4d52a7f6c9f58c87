// Package notify sends transactional email to sellers and buyers.
//
// Delivery is best-effort and always happens after the database commit.
// A lost email never unwinds a release; failures are counted and logged.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"net/smtp"
	"strings"
	"time"

	"github.com/sellora/escrowd/internal/metrics"
	"github.com/sellora/escrowd/internal/retry"
)

// Mail is one outbound message.
type Mail struct {
	To      string
	Subject string
	Body    string
}

// Mailer delivers mail.
type Mailer interface {
	Send(ctx context.Context, m Mail) error
}

// SMTPConfig holds SMTP relay settings.
type SMTPConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
}

// SMTPMailer delivers through an SMTP relay with retries.
type SMTPMailer struct {
	cfg    SMTPConfig
	logger *slog.Logger
}

// NewSMTPMailer creates a mailer for the given relay.
func NewSMTPMailer(cfg SMTPConfig, logger *slog.Logger) *SMTPMailer {
	return &SMTPMailer{cfg: cfg, logger: logger}
}

func (s *SMTPMailer) Send(ctx context.Context, m Mail) error {
	if m.To == "" {
		return retry.Permanent(fmt.Errorf("mail has no recipient"))
	}

	msg := buildMessage(s.cfg.From, m)
	addr := s.cfg.Host + ":" + s.cfg.Port

	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}

	err := retry.Do(ctx, 3, 500*time.Millisecond, func() error {
		return smtp.SendMail(addr, auth, s.cfg.From, []string{m.To}, msg)
	})
	if err != nil {
		metrics.NotificationsTotal.WithLabelValues("failed").Inc()
		s.logger.Warn("mail delivery failed", "to", m.To, "subject", m.Subject, "error", err)
		return err
	}
	metrics.NotificationsTotal.WithLabelValues("sent").Inc()
	return nil
}

func buildMessage(from string, m Mail) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", m.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", m.Subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(m.Body)
	return []byte(b.String())
}

// LogMailer writes mail to the log instead of sending it. Used in demo
// mode and whenever no SMTP relay is configured.
type LogMailer struct {
	logger *slog.Logger
}

// NewLogMailer creates a mailer that only logs.
func NewLogMailer(logger *slog.Logger) *LogMailer {
	return &LogMailer{logger: logger}
}

func (l *LogMailer) Send(ctx context.Context, m Mail) error {
	metrics.NotificationsTotal.WithLabelValues("logged").Inc()
	l.logger.Info("mail (not sent, no SMTP configured)",
		"to", m.To,
		"subject", m.Subject,
	)
	return nil
}
