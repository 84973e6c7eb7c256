package billing

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/DukeRupert/tally/internal/domain"
)

// Alipay trade states that carry a payment outcome.
var alipayOutcomes = map[string]domain.PaymentOutcome{
	"TRADE_SUCCESS":  domain.OutcomePaid,
	"TRADE_FINISHED": domain.OutcomePaid,
	"TRADE_CLOSED":   domain.OutcomeFailed,
}

type alipayProvider struct {
	relay Relay
}

// NewAlipay creates the Alipay provider for relayed asynchronous
// notifications. The body is the original form-encoded notification.
func NewAlipay(relay Relay) Provider {
	return &alipayProvider{relay: relay}
}

func (p *alipayProvider) Name() string { return string(domain.PaymentMethodAlipay) }

// Alipay retries until it reads the literal "success".
func (p *alipayProvider) Ack() Reply {
	return Reply{ContentType: "text/plain; charset=utf-8", Body: []byte("success")}
}

func (p *alipayProvider) Nack() Reply {
	return Reply{ContentType: "text/plain; charset=utf-8", Body: []byte("fail")}
}

func (p *alipayProvider) Parse(header http.Header, body []byte) (domain.PaymentEvent, bool, error) {
	if err := p.relay.Verify(header, body); err != nil {
		return domain.PaymentEvent{}, false, err
	}
	return withHint(header, body, p.Decode)
}

func (p *alipayProvider) Decode(body []byte) (domain.PaymentEvent, bool, error) {
	form, err := url.ParseQuery(string(body))
	if err != nil {
		return domain.PaymentEvent{}, false, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	ev := domain.PaymentEvent{
		EventID:     firstNonEmpty(form.Get("notify_id"), form.Get("trade_no")),
		Method:      domain.PaymentMethodAlipay,
		ProviderRef: form.Get("trade_no"),
		OrderNo:     form.Get("out_trade_no"),
	}

	outcome, ok := alipayOutcomes[form.Get("trade_status")]
	if !ok {
		return ev, false, nil
	}
	ev.Outcome = outcome

	if ev.OrderNo == "" {
		return ev, false, fmt.Errorf("%w: notification %s carries no out_trade_no", ErrMalformed, ev.EventID)
	}
	return ev, true, nil
}
