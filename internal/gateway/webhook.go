package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
)

// SignatureHeader carries the hex HMAC-SHA256 of the webhook body.
const SignatureHeader = "X-Signature"

var (
	// ErrInvalidSignature indicates the webhook body does not match its signature.
	ErrInvalidSignature = errors.New("invalid webhook signature")
	// ErrInvalidPayload indicates an undecodable webhook body.
	ErrInvalidPayload = errors.New("invalid webhook payload")
)

// WebhookEvent is the callback the gateway sends when an order changes.
// Status is informational only; receivers re-query the gateway.
type WebhookEvent struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
}

// VerifySignature checks the body against the shared secret. An empty secret
// rejects every callback.
func VerifySignature(secret string, body []byte, provided string) bool {
	if secret == "" {
		return false
	}
	cleaned := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(provided)), "sha256=")
	if cleaned == "" {
		return false
	}
	got, err := hex.DecodeString(cleaned)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), got)
}

// Sign returns the signature VerifySignature expects.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// ParseWebhook verifies and decodes a callback body.
func ParseWebhook(secret string, body []byte, signature string) (WebhookEvent, error) {
	if !VerifySignature(secret, body, signature) {
		return WebhookEvent{}, ErrInvalidSignature
	}
	var event WebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return WebhookEvent{}, ErrInvalidPayload
	}
	event.OrderID = strings.TrimSpace(event.OrderID)
	if event.OrderID == "" {
		return WebhookEvent{}, ErrInvalidPayload
	}
	return event, nil
}
