package email

import (
	"context"
	"fmt"

	"github.com/eka-ai/billing/internal/config"
	"github.com/resend/resend-go/v2"
)

// Client wraps the Resend API. A client built from a disabled or keyless
// config silently drops sends, so callers never branch on whether email
// is configured.
type Client struct {
	client      *resend.Client
	enabled     bool
	fromAddress string
	replyTo     string
}

func NewClient(cfg config.EmailConfig) *Client {
	if !cfg.Enabled || cfg.APIKey == "" {
		return &Client{enabled: false}
	}

	return &Client{
		client:      resend.NewClient(cfg.APIKey),
		enabled:     true,
		fromAddress: cfg.FromAddress,
		replyTo:     cfg.ReplyTo,
	}
}

func (c *Client) IsEnabled() bool {
	return c.enabled
}

// Send delivers a single email and returns the provider message id.
func (c *Client) Send(ctx context.Context, to, subject, htmlContent, textContent string) (string, error) {
	if !c.enabled {
		return "", fmt.Errorf("email client is disabled")
	}

	params := &resend.SendEmailRequest{
		From:    c.fromAddress,
		To:      []string{to},
		Subject: subject,
		Html:    htmlContent,
		Text:    textContent,
	}
	if c.replyTo != "" {
		params.ReplyTo = c.replyTo
	}

	sent, err := c.client.Emails.SendWithContext(ctx, params)
	if err != nil {
		return "", fmt.Errorf("failed to send email: %w", err)
	}

	return sent.Id, nil
}
