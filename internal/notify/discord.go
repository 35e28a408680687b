package notify

import "net/http"

// discordMaxRunes is the webhook content limit.
const discordMaxRunes = 2000

// NewDiscordSender delivers alerts to a channel webhook.
func NewDiscordSender(webhookURL string) Sender {
	return &webhook{
		name:     "discord",
		url:      webhookURL,
		bold:     "**",
		maxRunes: discordMaxRunes,
		encode: func(text string) any {
			return map[string]any{
				"content":          text,
				"allowed_mentions": map[string][]string{"parse": {}},
			}
		},
		client: &http.Client{Timeout: webhookTimeout},
	}
}
