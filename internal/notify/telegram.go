package notify

import (
	"net/http"
	"strings"
)

// DefaultTelegramAPI is the Bot API root.
const DefaultTelegramAPI = "https://api.telegram.org"

// telegramMaxRunes is the sendMessage text limit.
const telegramMaxRunes = 4096

// NewTelegramSender delivers alerts to chatID through the bot identified by
// token. An empty apiURL selects DefaultTelegramAPI.
func NewTelegramSender(apiURL, token, chatID string) Sender {
	if apiURL == "" {
		apiURL = DefaultTelegramAPI
	}
	return &webhook{
		name:     "telegram",
		url:      strings.TrimSuffix(apiURL, "/") + "/bot" + token + "/sendMessage",
		bold:     "*",
		maxRunes: telegramMaxRunes,
		encode: func(text string) any {
			return map[string]string{"chat_id": chatID, "text": text, "parse_mode": "Markdown"}
		},
		client: &http.Client{Timeout: webhookTimeout},
	}
}
