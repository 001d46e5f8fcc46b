package payments

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/markw53/mt-api/internal/apperr"
)

// Webhook event types the platform acts on. Anything else is acknowledged
// and ignored.
const (
	EventCheckoutSessionCompleted = "checkout.session.completed"
	EventPaymentIntentFailed      = "payment_intent.payment_failed"
)

// WebhookEvent is the signed envelope Stripe posts to the webhook endpoint.
type WebhookEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

// PaymentIntent is the subset of Stripe's payment intent the failure path
// needs.
type PaymentIntent struct {
	ID string `json:"id"`
}

// VerifyWebhookSignature checks the Stripe-Signature header against the
// shared webhook secret. The header carries a timestamp and one or more v1
// signatures; each signature is HMAC-SHA256 over "<timestamp>.<payload>".
// An invalid or missing signature means the payload must not be processed.
func VerifyWebhookSignature(payload []byte, sigHeader, secret string) error {
	sigHeader = strings.TrimSpace(sigHeader)
	if sigHeader == "" || secret == "" {
		return apperr.Validation("Missing webhook signature")
	}

	var timestamp string
	var signatures []string
	for _, part := range strings.Split(sigHeader, ",") {
		k, v, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			continue
		}
		switch k {
		case "t":
			timestamp = v
		case "v1":
			signatures = append(signatures, v)
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return apperr.Validation("Malformed webhook signature")
	}

	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%s.%s", timestamp, payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, signature := range signatures {
		if hmac.Equal([]byte(signature), []byte(expected)) {
			return nil
		}
	}
	return apperr.Validation("Invalid webhook signature")
}

// ParseWebhookEvent decodes the envelope without trusting any of its
// contents beyond structure.
func ParseWebhookEvent(payload []byte) (*WebhookEvent, error) {
	var event WebhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, apperr.Validation("Malformed webhook payload")
	}
	if event.Type == "" {
		return nil, apperr.Validation("Webhook payload has no event type")
	}
	return &event, nil
}
