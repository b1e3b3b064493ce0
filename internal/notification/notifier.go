// Package notification delivers templated e-mail to organization admins and
// users. Delivery is best effort: callers never fail because a send failed.
package notification

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/smallbiznis/siteledger/internal/config"
)

const (
	TemplateOverageInitial      = "overage_initial"
	TemplateOverageFinal        = "overage_final"
	TemplateGraceDaily          = "grace_daily"
	TemplateUserDeactivated     = "user_deactivated"
	TemplateDeactivationSummary = "deactivation_summary"
	TemplateInvoiceIssued       = "invoice_issued"
	TemplatePaymentReceipt      = "payment_receipt"
)

var (
	ErrInvalidMessage  = errors.New("invalid_notification")
	ErrUnknownTemplate = errors.New("unknown_notification_template")
	ErrInvalidProvider = errors.New("invalid_notification_provider")
	ErrSendFailed      = errors.New("notification_send_failed")
)

// Fields are the template variables of a message.
type Fields map[string]any

type Message struct {
	To       string
	Template string
	Fields   Fields
}

func (m Message) Validate() error {
	if strings.TrimSpace(m.To) == "" || !strings.Contains(m.To, "@") {
		return fmt.Errorf("%w: recipient", ErrInvalidMessage)
	}
	if _, ok := subjects[m.Template]; !ok {
		return ErrUnknownTemplate
	}
	return nil
}

type Notifier interface {
	Send(ctx context.Context, msg Message) error
}

// NoOpNotifier drops every message.
type NoOpNotifier struct{}

func (NoOpNotifier) Send(context.Context, Message) error { return nil }

// NewNotifier picks the transport named by the email provider setting.
func NewNotifier(cfg config.Config) (Notifier, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Email.Provider)) {
	case "", "noop":
		return NoOpNotifier{}, nil
	case "smtp":
		return NewSMTPNotifier(SMTPConfig{
			Host:     cfg.Email.SMTPHost,
			Port:     cfg.Email.SMTPPort,
			Username: cfg.Email.SMTPUsername,
			Password: cfg.Email.SMTPPassword,
			From:     cfg.Email.From,
		}), nil
	case "postmark":
		return NewPostmarkNotifier(PostmarkConfig{
			ServerToken:  cfg.Email.PostmarkServerToken,
			AccountToken: cfg.Email.PostmarkAccountToken,
			From:         cfg.Email.From,
			ReplyTo:      cfg.Email.ReplyTo,
		})
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidProvider, cfg.Email.Provider)
	}
}
