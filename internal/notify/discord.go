package notify

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// DiscordSender pushes solver alerts to an operator channel through a Discord
// webhook. Settlements and failures land in the same channel; filtering by
// event type happens in the Notifier, not here.
type DiscordSender struct {
	webhookURL string
	client     *http.Client
}

// NewDiscordSender builds a sender for the given webhook URL with a 10-second
// request cap, matching the Telegram sender.
func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

// Send delivers one alert to the operator channel, title bold above the
// detail lines. Discord answers 204 No Content on success.
func (d *DiscordSender) Send(ctx context.Context, title, message string) error {
	return postJSON(ctx, d.client, d.Name(), d.webhookURL, map[string]string{
		"content": fmt.Sprintf("**%s**\n%s", title, message),
	})
}

// Name identifies the sender in dispatch logs.
func (d *DiscordSender) Name() string {
	return "discord"
}
