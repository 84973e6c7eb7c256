package billing

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/DukeRupert/tally/internal/domain"
)

// WeChat Pay trade states that carry a payment outcome.
var wechatOutcomes = map[string]domain.PaymentOutcome{
	"SUCCESS":  domain.OutcomePaid,
	"PAYERROR": domain.OutcomeFailed,
	"CLOSED":   domain.OutcomeFailed,
	"REVOKED":  domain.OutcomeFailed,
}

// wechatTransaction is the decrypted resource of a WeChat Pay v3
// notification.
type wechatTransaction struct {
	ID            string `json:"id"`
	TransactionID string `json:"transaction_id"`
	OutTradeNo    string `json:"out_trade_no"`
	TradeState    string `json:"trade_state"`
}

type wechatProvider struct {
	relay Relay
}

// NewWeChat creates the WeChat Pay provider for relayed notifications. The
// relay decrypts the notification resource and forwards the plaintext JSON.
func NewWeChat(relay Relay) Provider {
	return &wechatProvider{relay: relay}
}

func (p *wechatProvider) Name() string { return string(domain.PaymentMethodWeChat) }

func (p *wechatProvider) Ack() Reply {
	return Reply{ContentType: "application/json", Body: []byte(`{"code":"SUCCESS","message":"OK"}`)}
}

func (p *wechatProvider) Nack() Reply {
	return Reply{ContentType: "application/json", Body: []byte(`{"code":"FAIL","message":"retry later"}`)}
}

func (p *wechatProvider) Parse(header http.Header, body []byte) (domain.PaymentEvent, bool, error) {
	if err := p.relay.Verify(header, body); err != nil {
		return domain.PaymentEvent{}, false, err
	}
	return withHint(header, body, p.Decode)
}

func (p *wechatProvider) Decode(body []byte) (domain.PaymentEvent, bool, error) {
	var tx wechatTransaction
	if err := json.Unmarshal(body, &tx); err != nil {
		return domain.PaymentEvent{}, false, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	ev := domain.PaymentEvent{
		EventID:     firstNonEmpty(tx.ID, tx.TransactionID),
		Method:      domain.PaymentMethodWeChat,
		ProviderRef: tx.TransactionID,
		OrderNo:     tx.OutTradeNo,
	}

	outcome, ok := wechatOutcomes[tx.TradeState]
	if !ok {
		return ev, false, nil
	}
	ev.Outcome = outcome

	if ev.OrderNo == "" {
		return ev, false, fmt.Errorf("%w: transaction %s carries no out_trade_no", ErrMalformed, tx.TransactionID)
	}
	return ev, true, nil
}
