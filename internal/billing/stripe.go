package billing

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/DukeRupert/tally/internal/domain"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"
)

// stripeProvider verifies Stripe-Signature headers.
type stripeProvider struct {
	webhookSecret string
}

// NewStripe creates the Stripe provider.
//
// The webhookSecret is used to verify incoming webhook signatures.
func NewStripe(webhookSecret string) Provider {
	return &stripeProvider{webhookSecret: webhookSecret}
}

func (p *stripeProvider) Name() string { return string(domain.PaymentMethodStripe) }
func (p *stripeProvider) Ack() Reply   { return jsonReceived }
func (p *stripeProvider) Nack() Reply  { return jsonRetry }

func (p *stripeProvider) Parse(header http.Header, body []byte) (domain.PaymentEvent, bool, error) {
	if p.webhookSecret == "" {
		return domain.PaymentEvent{}, false, ErrSignature
	}

	event, err := webhook.ConstructEventWithOptions(body, header.Get("Stripe-Signature"), p.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return domain.PaymentEvent{}, false, fmt.Errorf("%w: %v", ErrSignature, err)
	}
	return decodeStripeEvent(event)
}

func (p *stripeProvider) Decode(body []byte) (domain.PaymentEvent, bool, error) {
	var event stripe.Event
	if err := json.Unmarshal(body, &event); err != nil {
		return domain.PaymentEvent{}, false, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if event.Data == nil {
		return domain.PaymentEvent{}, false, fmt.Errorf("%w: event %s has no data", ErrMalformed, event.ID)
	}
	return decodeStripeEvent(event)
}

// decodeStripeEvent extracts the payment outcome from a verified event.
func decodeStripeEvent(event stripe.Event) (domain.PaymentEvent, bool, error) {
	ev := domain.PaymentEvent{
		EventID: event.ID,
		Method:  domain.PaymentMethodStripe,
	}

	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted,
		stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded,
		stripe.EventTypeCheckoutSessionAsyncPaymentFailed:
		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return domain.PaymentEvent{}, false, fmt.Errorf("%w: checkout session: %v", ErrMalformed, err)
		}
		switch {
		case event.Type == stripe.EventTypeCheckoutSessionAsyncPaymentFailed:
			ev.Outcome = domain.OutcomeFailed
		case event.Type == stripe.EventTypeCheckoutSessionCompleted &&
			session.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid:
			// Delayed payment methods complete the session before funds
			// arrive; the async_payment events follow.
			return ev, false, nil
		default:
			ev.Outcome = domain.OutcomePaid
		}
		ev.OrderNo = firstNonEmpty(session.ClientReferenceID, session.Metadata["order_no"])
		ev.ProviderRef = session.ID
		ev.RegionHint, _ = domain.ParseRegion(session.Metadata["region"])

	case stripe.EventTypePaymentIntentSucceeded, stripe.EventTypePaymentIntentPaymentFailed:
		var intent stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
			return domain.PaymentEvent{}, false, fmt.Errorf("%w: payment intent: %v", ErrMalformed, err)
		}
		ev.Outcome = domain.OutcomePaid
		if event.Type == stripe.EventTypePaymentIntentPaymentFailed {
			ev.Outcome = domain.OutcomeFailed
		}
		ev.OrderNo = firstNonEmpty(intent.Metadata["order_no"])
		ev.ProviderRef = intent.ID
		ev.RegionHint, _ = domain.ParseRegion(intent.Metadata["region"])

	default:
		return ev, false, nil
	}

	if ev.OrderNo == "" {
		return ev, false, fmt.Errorf("%w: %s event %s carries no order number", ErrMalformed, event.Type, event.ID)
	}
	return ev, true, nil
}
