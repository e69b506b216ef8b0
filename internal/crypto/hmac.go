package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// HeaderWebhookSignature carries the signature of an outgoing webhook.
const HeaderWebhookSignature = "X-Bondledger-Signature"

// WebhookSigner signs outgoing webhook bodies with a shared secret. The
// header value has the form "t=<unix>,v1=<hex hmac-sha256(secret, t.body)>".
type WebhookSigner struct {
	secret []byte
}

// NewWebhookSigner creates a WebhookSigner for secret.
func NewWebhookSigner(secret string) *WebhookSigner {
	return &WebhookSigner{secret: []byte(secret)}
}

// Sign returns the header value for body sent at now.
func (w *WebhookSigner) Sign(body []byte, now time.Time) string {
	ts := strconv.FormatInt(now.Unix(), 10)
	return "t=" + ts + ",v1=" + w.mac(ts, body)
}

// Verify checks header against body and rejects timestamps older than
// tolerance relative to now.
func (w *WebhookSigner) Verify(header string, body []byte, now time.Time, tolerance time.Duration) error {
	var ts, sig string
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			ts = v
		case "v1":
			sig = v
		}
	}
	if ts == "" || sig == "" {
		return fmt.Errorf("%w: malformed webhook signature header", ErrInvalidSignature)
	}
	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: bad timestamp %q", ErrInvalidSignature, ts)
	}
	if age := now.Sub(time.Unix(unix, 0)); tolerance > 0 && (age > tolerance || age < -tolerance) {
		return fmt.Errorf("%w: timestamp outside tolerance", ErrInvalidSignature)
	}
	if !hmac.Equal([]byte(sig), []byte(w.mac(ts, body))) {
		return ErrInvalidSignature
	}
	return nil
}

func (w *WebhookSigner) mac(ts string, body []byte) string {
	m := hmac.New(sha256.New, w.secret)
	m.Write([]byte(ts))
	m.Write([]byte("."))
	m.Write(body)
	return hex.EncodeToString(m.Sum(nil))
}

// String returns a redacted representation suitable for logging.
func (w *WebhookSigner) String() string {
	if len(w.secret) <= 4 {
		return "WebhookSigner{secret=****}"
	}
	return fmt.Sprintf("WebhookSigner{secret=%s****}", w.secret[:4])
}
