package notification

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mrz1836/postmark"
)

type PostmarkConfig struct {
	ServerToken  string
	AccountToken string
	From         string
	ReplyTo      string
}

type PostmarkNotifier struct {
	client *postmark.Client
	cfg    PostmarkConfig
}

func NewPostmarkNotifier(cfg PostmarkConfig) (*PostmarkNotifier, error) {
	if strings.TrimSpace(cfg.ServerToken) == "" {
		return nil, fmt.Errorf("%w: postmark server token is required", ErrInvalidProvider)
	}
	if !strings.Contains(cfg.From, "@") {
		return nil, fmt.Errorf("%w: sender address is required", ErrInvalidProvider)
	}
	return &PostmarkNotifier{
		client: postmark.NewClient(cfg.ServerToken, cfg.AccountToken),
		cfg:    cfg,
	}, nil
}

// Send tags every message with its template name so bounces can be grouped.
func (n *PostmarkNotifier) Send(ctx context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	subject, body, err := Render(msg)
	if err != nil {
		return err
	}

	resp, err := n.client.SendEmail(ctx, postmark.Email{
		From:     n.cfg.From,
		ReplyTo:  n.cfg.ReplyTo,
		To:       msg.To,
		Subject:  subject,
		Tag:      msg.Template,
		HTMLBody: body,
	})
	if err != nil {
		return errors.Join(ErrSendFailed, err)
	}
	if resp.ErrorCode > 0 {
		return errors.Join(ErrSendFailed, fmt.Errorf("postmark error: %d - %s", resp.ErrorCode, resp.Message))
	}
	return nil
}
