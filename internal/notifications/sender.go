// Package notifications delivers assignment notices over SMTP. Delivery
// is best-effort: callers surface failures as warnings and never roll
// back the state change that triggered the notice.
package notifications

import (
	"context"
	"fmt"
	"log"
	"net/smtp"
	"strings"

	"github.com/flowdesk-io/flowdesk/internal/models"
	"github.com/flowdesk-io/flowdesk/internal/utils"
)

// Config carries the SMTP endpoint and sender identity.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	Enabled  bool
}

// sendFunc matches smtp.SendMail, swapped out in tests.
type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPSender sends assignment notices.
type SMTPSender struct {
	cfg    Config
	send   sendFunc
	retry  utils.RetryPolicy
	logger *log.Logger
}

// SenderOption customizes an SMTPSender.
type SenderOption func(*SMTPSender)

// WithSenderLogger overrides the default logger.
func WithSenderLogger(logger *log.Logger) SenderOption {
	return func(s *SMTPSender) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithRetry overrides the delivery retry policy.
func WithRetry(policy utils.RetryPolicy) SenderOption {
	return func(s *SMTPSender) { s.retry = policy }
}

func withSendFunc(send sendFunc) SenderOption {
	return func(s *SMTPSender) { s.send = send }
}

// NewSMTPSender returns a sender for the given endpoint.
func NewSMTPSender(cfg Config, opts ...SenderOption) *SMTPSender {
	s := &SMTPSender{cfg: cfg, send: smtp.SendMail, retry: utils.DefaultRetry, logger: log.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SendAssignment emails one team member that a ticket landed on them.
func (s *SMTPSender) SendAssignment(ctx context.Context, recipient string, t *models.Ticket) error {
	if !s.cfg.Enabled {
		s.logger.Printf("notifications: disabled, skipping notice to %s for %s", recipient, t.JobID)
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := buildAssignmentMail(s.cfg.From, recipient, t)
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}
	// Transient SMTP failures are the normal case; retry before the
	// caller downgrades this to a warning.
	err := s.retry.Do(ctx, func(context.Context) error {
		return s.send(addr, auth, s.cfg.From, []string{recipient}, msg)
	})
	if err != nil {
		return fmt.Errorf("notifications: send to %s: %w", recipient, err)
	}
	return nil
}

func buildAssignmentMail(from, to string, t *models.Ticket) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: [%s] assigned to you: %s\r\n", t.JobID, t.Subject)
	b.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n")
	fmt.Fprintf(&b, "Ticket %s for %s has been assigned to you.\r\n\r\n", t.JobID, t.ClientName)
	fmt.Fprintf(&b, "Subject: %s\r\n", t.Subject)
	if t.Consultant != "" {
		fmt.Fprintf(&b, "Consultant: %s\r\n", t.Consultant)
	}
	if t.Owner != "" {
		fmt.Fprintf(&b, "Coordinator: %s\r\n", t.Owner)
	}
	if t.Metadata.Deadline != nil {
		fmt.Fprintf(&b, "Deadline: %s\r\n", t.Metadata.Deadline.Format("2006-01-02 15:04 MST"))
	}
	return []byte(b.String())
}
