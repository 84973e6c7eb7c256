package domain

// PaymentOutcome is the normalized result a provider reports for an order.
type PaymentOutcome string

const (
	OutcomePaid   PaymentOutcome = "paid"
	OutcomeFailed PaymentOutcome = "failed"
)

// PaymentEvent is a provider callback reduced to what reconciliation needs.
// Webhook ingress produces it; the core never sees raw provider payloads.
type PaymentEvent struct {
	EventID     string
	OrderNo     string
	Outcome     PaymentOutcome
	ProviderRef string
	Method      PaymentMethod
	RegionHint  Region
}
