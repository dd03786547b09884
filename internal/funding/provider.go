package funding

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v72"
	"github.com/stripe/stripe-go/v72/webhook"
)

const (
	eventPaymentIntentSucceeded  = "payment_intent.succeeded"
	eventCheckoutSessionComplete = "checkout.session.completed"
)

// Provider authenticates and decodes payment-provider webhooks.
type Provider interface {
	Parse(payload []byte, signature string) (PaymentEvent, error)
}

// PaymentEvent is a provider event reduced to what the ledger needs.
// Billable is false for event types that never move money.
type PaymentEvent struct {
	ID          string
	Type        string
	Billable    bool
	OwnerID     string
	AmountMinor int64
	Currency    string
}

// StripeProvider verifies Stripe-Signature headers and maps succeeded
// payment intents and paid checkout sessions to PaymentEvents.
type StripeProvider struct {
	secret    string
	tolerance time.Duration
	ownerKey  string
}

// NewStripeProvider builds a provider for the given endpoint secret. The
// owner is read from metadata[ownerKey].
func NewStripeProvider(secret string, tolerance time.Duration, ownerKey string) *StripeProvider {
	if tolerance <= 0 {
		tolerance = webhook.DefaultTolerance
	}
	if ownerKey == "" {
		ownerKey = "uid"
	}
	return &StripeProvider{secret: secret, tolerance: tolerance, ownerKey: ownerKey}
}

// Parse implements Provider.
func (p *StripeProvider) Parse(payload []byte, signature string) (PaymentEvent, error) {
	event, err := webhook.ConstructEventWithTolerance(payload, signature, p.secret, p.tolerance)
	if err != nil {
		if isSignatureError(err) {
			return PaymentEvent{}, fmt.Errorf("%w: %w", ErrInvalidSignature, err)
		}
		return PaymentEvent{}, &PayloadError{EventID: event.ID, Reason: err.Error()}
	}

	out := PaymentEvent{ID: event.ID, Type: event.Type}
	if event.Data == nil {
		return out, nil
	}

	switch event.Type {
	case eventPaymentIntentSucceeded:
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
			return PaymentEvent{}, &PayloadError{EventID: event.ID, Reason: "decode payment_intent: " + err.Error()}
		}
		out.Billable = true
		out.AmountMinor = pi.AmountReceived
		if out.AmountMinor == 0 {
			out.AmountMinor = pi.Amount
		}
		out.Currency = string(pi.Currency)
		out.OwnerID = strings.TrimSpace(pi.Metadata[p.ownerKey])

	case eventCheckoutSessionComplete:
		var cs stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &cs); err != nil {
			return PaymentEvent{}, &PayloadError{EventID: event.ID, Reason: "decode checkout.session: " + err.Error()}
		}
		if cs.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
			return out, nil
		}
		out.Billable = true
		out.AmountMinor = cs.AmountTotal
		out.Currency = string(cs.Currency)
		out.OwnerID = strings.TrimSpace(cs.Metadata[p.ownerKey])
		if out.OwnerID == "" {
			out.OwnerID = strings.TrimSpace(cs.ClientReferenceID)
		}
	}
	return out, nil
}

func isSignatureError(err error) bool {
	return errors.Is(err, webhook.ErrNotSigned) ||
		errors.Is(err, webhook.ErrInvalidHeader) ||
		errors.Is(err, webhook.ErrNoValidSignature) ||
		errors.Is(err, webhook.ErrTooOld)
}
