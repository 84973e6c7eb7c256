package billing

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/DukeRupert/tally/internal/domain"
)

// PayPal webhook event types that carry a payment outcome.
var paypalOutcomes = map[string]domain.PaymentOutcome{
	"PAYMENT.CAPTURE.COMPLETED": domain.OutcomePaid,
	"CHECKOUT.ORDER.COMPLETED":  domain.OutcomePaid,
	"PAYMENT.CAPTURE.DENIED":    domain.OutcomeFailed,
	"PAYMENT.CAPTURE.DECLINED":  domain.OutcomeFailed,
}

type paypalEvent struct {
	ID        string `json:"id"`
	EventType string `json:"event_type"`
	Resource  struct {
		ID            string `json:"id"`
		CustomID      string `json:"custom_id"`
		InvoiceID     string `json:"invoice_id"`
		PurchaseUnits []struct {
			ReferenceID string `json:"reference_id"`
			CustomID    string `json:"custom_id"`
			InvoiceID   string `json:"invoice_id"`
		} `json:"purchase_units"`
	} `json:"resource"`
}

type paypalProvider struct {
	relay Relay
}

// NewPayPal creates the PayPal provider for relayed webhook events.
func NewPayPal(relay Relay) Provider {
	return &paypalProvider{relay: relay}
}

func (p *paypalProvider) Name() string { return string(domain.PaymentMethodPayPal) }
func (p *paypalProvider) Ack() Reply   { return jsonReceived }
func (p *paypalProvider) Nack() Reply  { return jsonRetry }

func (p *paypalProvider) Parse(header http.Header, body []byte) (domain.PaymentEvent, bool, error) {
	if err := p.relay.Verify(header, body); err != nil {
		return domain.PaymentEvent{}, false, err
	}
	return withHint(header, body, p.Decode)
}

func (p *paypalProvider) Decode(body []byte) (domain.PaymentEvent, bool, error) {
	var e paypalEvent
	if err := json.Unmarshal(body, &e); err != nil {
		return domain.PaymentEvent{}, false, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	ev := domain.PaymentEvent{
		EventID:     e.ID,
		Method:      domain.PaymentMethodPayPal,
		ProviderRef: e.Resource.ID,
	}

	outcome, ok := paypalOutcomes[e.EventType]
	if !ok {
		return ev, false, nil
	}
	ev.Outcome = outcome

	candidates := []string{e.Resource.CustomID, e.Resource.InvoiceID}
	for _, u := range e.Resource.PurchaseUnits {
		candidates = append(candidates, u.CustomID, u.InvoiceID, u.ReferenceID)
	}
	ev.OrderNo = firstNonEmpty(candidates...)
	if ev.OrderNo == "" {
		return ev, false, fmt.Errorf("%w: %s event %s carries no order number", ErrMalformed, e.EventType, e.ID)
	}
	return ev, true, nil
}
