package ghl

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"leadignite/api/internal/util"
)

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature compares signature, optionally prefixed "sha256=", with
// the expected HMAC of body.
func VerifySignature(body []byte, signature, secret string) error {
	signature = strings.TrimPrefix(strings.TrimSpace(signature), "sha256=")
	got, err := hex.DecodeString(signature)
	if err != nil {
		return ErrInvalidSignature
	}
	want, _ := hex.DecodeString(Sign(body, secret))
	if !hmac.Equal(got, want) {
		return ErrInvalidSignature
	}
	return nil
}

// ProcessWebhook validates a webhook delivery and returns the event it
// describes. The signature is checked only when both signature and secret
// are present. An empty eventType falls back to the payload's "type".
func ProcessWebhook(eventType string, body []byte, signature, secret string) (WebhookEvent, error) {
	return processWebhook(eventType, body, signature, secret, time.Now().UTC())
}

func processWebhook(eventType string, body []byte, signature, secret string, now time.Time) (WebhookEvent, error) {
	if secret != "" && signature != "" {
		if err := VerifySignature(body, signature, secret); err != nil {
			return WebhookEvent{}, webhookError("Invalid webhook signature", err)
		}
	}

	var payload map[string]any
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&payload); err != nil {
		return WebhookEvent{}, webhookError(fmt.Sprintf("Failed to process webhook: %v", err), err)
	}
	if payload == nil {
		return WebhookEvent{}, webhookError("Failed to process webhook: empty payload", nil)
	}

	if strings.TrimSpace(eventType) == "" {
		eventType, _ = payload["type"].(string)
	}
	typ, ok := ParseEventType(strings.TrimSpace(eventType))
	if !ok {
		return WebhookEvent{}, validationError(fmt.Sprintf("Unknown webhook event type: %s", eventType), map[string]string{"type": "unknown"})
	}

	locationID := scalar(payload["locationId"])
	if locationID == "" {
		return WebhookEvent{}, validationError("Missing required field: locationId", map[string]string{"locationId": "required"})
	}
	resourceID := scalar(payload["resourceId"])
	if resourceID == "" {
		resourceID = scalar(payload["id"])
	}
	if resourceID == "" {
		return WebhookEvent{}, validationError("Missing required field: resourceId or id", map[string]string{"resourceId": "required"})
	}

	return WebhookEvent{
		ID:           util.NewID("ghlevt"),
		EventType:    typ,
		GHLAccountID: scalar(payload["accountId"]),
		LocationID:   locationID,
		ResourceID:   resourceID,
		Payload:      payload,
		CreatedAt:    now,
	}, nil
}

// scalar renders string and numeric payload values; anything else is empty.
func scalar(v any) string {
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x)
	case json.Number:
		return x.String()
	case float64:
		return fmt.Sprint(x)
	default:
		return ""
	}
}
