// Package notify delivers best-effort confirmation text to users after
// a reconciliation. Failures here are the caller's to log and swallow;
// they must never fail the reconciliation itself.
package notify

import (
	"context"
	"fmt"

	"gopkg.in/gomail.v2"

	"github.com/osakana/kintai-bot/internal/line"
)

// Notifier sends a short text to a user, keyed by the chat-platform
// user identifier.
type Notifier interface {
	Notify(ctx context.Context, userID, text string) error
}

// LineNotifier delivers via LINE push messages.
type LineNotifier struct {
	client *line.Client
}

// NewLineNotifier creates a Notifier backed by the LINE push API.
func NewLineNotifier(client *line.Client) *LineNotifier {
	return &LineNotifier{client: client}
}

func (n *LineNotifier) Notify(ctx context.Context, userID, text string) error {
	return n.client.Push(ctx, userID, text)
}

// MailConfig holds SMTP settings for the mail notifier.
type MailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       []string // fixed recipients, e.g. an attendance mailbox
	Subject  string
}

// MailNotifier delivers via SMTP to a fixed recipient list, for
// deployments where the chat platform cannot push.
type MailNotifier struct {
	cfg    MailConfig
	dialer *gomail.Dialer
}

// NewMailNotifier creates a Notifier that sends mail through cfg's
// SMTP server.
func NewMailNotifier(cfg MailConfig) *MailNotifier {
	return &MailNotifier{
		cfg:    cfg,
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
	}
}

func (n *MailNotifier) Notify(_ context.Context, userID, text string) error {
	m := gomail.NewMessage()
	m.SetHeader("From", n.cfg.From)
	m.SetHeader("To", n.cfg.To...)
	m.SetHeader("Subject", n.cfg.Subject)
	m.SetBody("text/plain", fmt.Sprintf("%s\n\nuser: %s\n", text, userID))

	if err := n.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("sending mail: %w", err)
	}
	return nil
}

// Noop discards all notifications.
type Noop struct{}

func (Noop) Notify(context.Context, string, string) error { return nil }
