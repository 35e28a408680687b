package notify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/sugawarayuuta/sonnet"
)

const webhookTimeout = 10 * time.Second

// webhook is a Sender that POSTs one JSON document per alert.
type webhook struct {
	name     string
	url      string
	bold     string
	maxRunes int
	encode   func(text string) any
	client   *http.Client
}

func (w *webhook) Name() string { return w.name }

// Send posts the rendered alert. Non-2xx responses are errors carrying the
// start of the response body.
func (w *webhook) Send(ctx context.Context, title, message string) error {
	body, err := sonnet.Marshal(w.encode(w.render(title, message)))
	if err != nil {
		return fmt.Errorf("%s: encode: %w", w.name, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%s: build request: %w", w.name, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: post: %w", w.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s: unexpected status %d: %s", w.name, resp.StatusCode, bytes.TrimSpace(snippet))
	}
	return nil
}

// render formats the alert in the channel's markdown flavour and truncates
// it to the channel's message limit.
func (w *webhook) render(title, message string) string {
	text := w.bold + title + w.bold + "\n" + message
	if w.maxRunes > 0 && utf8.RuneCountInString(text) > w.maxRunes {
		r := []rune(text)
		text = string(r[:w.maxRunes-1]) + "…"
	}
	return text
}
