package notify

import (
	"context"
	"fmt"
	"net/http"
)

// DiscordSender delivers alerts through a Discord webhook.
type DiscordSender struct {
	webhookURL string
	client     *http.Client
}

// NewDiscordSender creates a sender for the given webhook URL.
func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: senderTimeout},
	}
}

// Send posts the alert to the webhook, title in bold. Discord answers 204 on
// success.
func (d *DiscordSender) Send(ctx context.Context, title, body string) error {
	payload := map[string]string{
		"content": fmt.Sprintf("**%s**\n%s", title, body),
	}
	if err := postJSON(ctx, d.client, d.webhookURL, payload); err != nil {
		return fmt.Errorf("discord: %w", err)
	}
	return nil
}

// Name returns the sender identifier.
func (d *DiscordSender) Name() string {
	return "discord"
}
