package dispatch

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// SignatureHeader carries hex(HMAC-SHA256(secret, body)) of the exact request body.
const SignatureHeader = "X-OpenFlow-Signature"

const maxErrorBody = 4 << 10

type webhookPayload struct {
	Event     string                 `json:"event"`
	FormID    string                 `json:"formId"`
	FormTitle string                 `json:"formTitle"`
	Data      map[string]interface{} `json:"data"`
	Timestamp string                 `json:"timestamp"`
}

// Webhook posts the submission as JSON to config.url
type Webhook struct {
	client  *http.Client
	timeout time.Duration
}

func NewWebhook(timeout time.Duration) *Webhook {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Webhook{client: &http.Client{}, timeout: timeout}
}

func (w *Webhook) Deliver(ctx context.Context, settings Settings, env Envelope) error {
	url := settings.String("url")
	if url == "" {
		return &ConfigError{Type: "webhook", Message: "Webhook URL is required"}
	}
	method := strings.ToUpper(settings.StringOr("method", http.MethodPost))

	body, err := json.Marshal(webhookPayload{
		Event:     "submission",
		FormID:    env.FormID,
		FormTitle: env.FormTitle,
		Data:      env.Data,
		Timestamp: env.Timestamp.UTC().Format(isoMillis),
	})
	if err != nil {
		return &DeliveryError{Target: "webhook", Message: fmt.Sprintf("failed to encode payload: %v", err), Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return &ConfigError{Type: "webhook", Message: fmt.Sprintf("Invalid webhook request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	if secret := settings.String("secret"); secret != "" {
		req.Header.Set(SignatureHeader, Sign(secret, body))
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return transportError("webhook", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &DeliveryError{
			Target:  "webhook",
			Status:  resp.StatusCode,
			Message: fmt.Sprintf("Webhook returned %d: %s", resp.StatusCode, strings.TrimSpace(string(text))),
		}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// Sign computes the webhook signature of body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature matches body under secret.
func Verify(secret string, body []byte, signature string) bool {
	expected, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), expected)
}
