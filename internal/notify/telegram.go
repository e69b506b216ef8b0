package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"net/http"
	"strings"
	"time"
)

// defaultTelegramAPI is the Bot API base URL.
const defaultTelegramAPI = "https://api.telegram.org"

// TelegramSender delivers notifications via the Telegram Bot API.
type TelegramSender struct {
	apiURL string
	token  string
	chatID string
	client *http.Client
}

// NewTelegramSender creates a TelegramSender for the given bot token and chat.
func NewTelegramSender(token, chatID string) *TelegramSender {
	return &TelegramSender{
		apiURL: defaultTelegramAPI,
		token:  token,
		chatID: chatID,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Send posts n with sendMessage. The title is rendered in bold. Text is sent
// as escaped HTML since event and action names contain underscores, which
// Markdown mode treats as emphasis.
func (t *TelegramSender) Send(ctx context.Context, n Notification) error {
	url := fmt.Sprintf("%s/bot%s/sendMessage", strings.TrimRight(t.apiURL, "/"), t.token)

	payload := map[string]any{
		"chat_id":                  t.chatID,
		"text":                     telegramText(n),
		"parse_mode":               "HTML",
		"disable_web_page_preview": true,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("telegram: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("telegram: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram: send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("telegram: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

func telegramText(n Notification) string {
	var b strings.Builder
	b.WriteString("<b>")
	b.WriteString(html.EscapeString(n.Title))
	b.WriteString("</b>\n")
	b.WriteString(html.EscapeString(n.Message))
	if n.Contract != "" {
		fmt.Fprintf(&b, "\n<code>%s</code>", html.EscapeString(n.Contract))
	}
	return b.String()
}

func (t *TelegramSender) Name() string {
	return "telegram"
}
