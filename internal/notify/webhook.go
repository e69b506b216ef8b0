package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/alanyoungcy/bondledger/internal/crypto"
)

// WebhookSender posts notifications as JSON to an arbitrary URL. When a
// secret is configured the body is signed in the crypto.HeaderWebhookSignature
// header.
type WebhookSender struct {
	url    string
	signer *crypto.WebhookSigner
	client *http.Client
	now    func() time.Time
}

// NewWebhookSender creates a WebhookSender. An empty secret disables signing.
func NewWebhookSender(url, secret string) *WebhookSender {
	w := &WebhookSender{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
		now:    time.Now,
	}
	if secret != "" {
		w.signer = crypto.NewWebhookSigner(secret)
	}
	return w
}

func (w *WebhookSender) Send(ctx context.Context, n Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("webhook: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if w.signer != nil {
		req.Header.Set(crypto.HeaderWebhookSignature, w.signer.Sign(body, w.now()))
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("webhook: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

func (w *WebhookSender) Name() string {
	return "webhook"
}
