package events

import (
	"encoding/json"
	"fmt"
	"time"
)

const (
	EventTypePaymentSucceeded = "PaymentSucceeded"
	EventTypePaymentFailed    = "PaymentFailed"
	EventTypePaymentCanceled  = "PaymentCanceled"
)

// PaymentEventPayload is the common shape of the payment collaborator's
// events. Reason is only set on failures.
type PaymentEventPayload struct {
	BookingID string    `json:"bookingId"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type paymentMessage struct {
	Payload  PaymentEventPayload
	Envelope *EventEnvelope
}

// parsePaymentEvent accepts both the enveloped v1 contract and the legacy
// flat payload still emitted by older payment-gateway workers.
func parsePaymentEvent(body []byte, expectedName string) (paymentMessage, error) {
	env, err := parseEnvelope(body)
	if err == nil && env.EventName != "" {
		if err := env.Validate(expectedName, 1); err != nil {
			return paymentMessage{}, fmt.Errorf("invalid %s envelope: %w", expectedName, err)
		}
		var payload PaymentEventPayload
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			return paymentMessage{}, fmt.Errorf("decode %s payload: %w", expectedName, err)
		}
		return paymentMessage{Payload: payload, Envelope: &env}, nil
	}

	var payload PaymentEventPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return paymentMessage{}, fmt.Errorf("decode %s: %w", expectedName, err)
	}
	return paymentMessage{Payload: payload}, nil
}
