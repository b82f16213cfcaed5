package notify

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// TelegramSender pushes solver alerts to an operator chat through the
// Telegram Bot API. The event title (order settled, order failed, attestation
// timed out) arrives bold above the detail lines the Notifier formatted:
// order id, transaction hashes, realized profit.
type TelegramSender struct {
	token  string
	chatID string
	client *http.Client
}

// NewTelegramSender builds a sender for the given bot token and operator
// chat. Requests are capped at 10 seconds so a slow Telegram API cannot stall
// alert dispatch.
func NewTelegramSender(token, chatID string) *TelegramSender {
	return &TelegramSender{
		token:  token,
		chatID: chatID,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Send delivers one alert to the operator chat.
func (t *TelegramSender) Send(ctx context.Context, title, message string) error {
	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", t.token)
	return postJSON(ctx, t.client, t.Name(), url, map[string]string{
		"chat_id":    t.chatID,
		"text":       fmt.Sprintf("*%s*\n%s", title, message),
		"parse_mode": "Markdown",
	})
}

// Name identifies the sender in dispatch logs.
func (t *TelegramSender) Name() string {
	return "telegram"
}
