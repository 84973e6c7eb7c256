// Package billing turns payment provider callbacks into domain.PaymentEvent.
//
// Only normalization happens here: signatures are checked and the order
// number and outcome are extracted. Capture and settlement with the providers
// are handled elsewhere.
//
// Stripe calls us directly and is verified with its own signature scheme.
// PayPal, Alipay and WeChat notifications arrive through the payment gateway,
// which has already verified the provider's certificate signature and
// forwards the body with an X-Relay-Signature header.
package billing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"

	"github.com/DukeRupert/tally/internal/domain"
)

var (
	// ErrSignature is returned when a payload is not authentic.
	ErrSignature = errors.New("webhook signature verification failed")

	// ErrMalformed is returned when an authentic payload cannot be decoded.
	ErrMalformed = errors.New("webhook payload malformed")
)

// RelaySignatureHeader carries the hex HMAC-SHA256 of a relayed body.
const RelaySignatureHeader = "X-Relay-Signature"

// RegionHintHeader lets the relay pass through the region a checkout was
// started in.
const RegionHintHeader = "X-Region"

// Reply is a provider-specific acknowledgment body.
type Reply struct {
	ContentType string
	Body        []byte
}

// Provider normalizes one provider's callbacks.
type Provider interface {
	// Name is the route segment and metric label, e.g. "stripe".
	Name() string

	// Parse authenticates and decodes a callback. relevant is false for
	// authentic events that carry no payment outcome.
	Parse(header http.Header, body []byte) (event domain.PaymentEvent, relevant bool, err error)

	// Decode normalizes a body whose authenticity was established when it
	// was received, such as an archived callback. Header-borne hints are
	// not available to it.
	Decode(body []byte) (event domain.PaymentEvent, relevant bool, err error)

	// Ack tells the provider the callback was received.
	Ack() Reply

	// Nack asks the provider to deliver the callback again later.
	Nack() Reply
}

var (
	jsonReceived = Reply{ContentType: "application/json", Body: []byte(`{"received":true}`)}
	jsonRetry    = Reply{ContentType: "application/json", Body: []byte(`{"received":false}`)}
)

// Relay verifies relayed notifications.
type Relay struct {
	secret []byte
}

// NewRelay creates a Relay for the shared secret.
func NewRelay(secret string) Relay {
	return Relay{secret: []byte(secret)}
}

// Sign returns the signature the relay sends for body.
func (r Relay) Sign(body []byte) string {
	mac := hmac.New(sha256.New, r.secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks the relay signature header. An unconfigured secret rejects
// everything.
func (r Relay) Verify(header http.Header, body []byte) error {
	if len(r.secret) == 0 {
		return ErrSignature
	}
	got, err := hex.DecodeString(strings.TrimSpace(header.Get(RelaySignatureHeader)))
	if err != nil || len(got) == 0 {
		return ErrSignature
	}
	want, _ := hex.DecodeString(r.Sign(body))
	if !hmac.Equal(got, want) {
		return ErrSignature
	}
	return nil
}

// regionHint reads an optional region hint from the relay headers.
func regionHint(header http.Header) domain.Region {
	r, _ := domain.ParseRegion(header.Get(RegionHintHeader))
	return r
}

// withHint decodes body and applies the relay's region header to the event.
func withHint(header http.Header, body []byte, decode func([]byte) (domain.PaymentEvent, bool, error)) (domain.PaymentEvent, bool, error) {
	ev, relevant, err := decode(body)
	if hint := regionHint(header); hint != "" {
		ev.RegionHint = hint
	}
	return ev, relevant, err
}

// firstNonEmpty returns the first argument that is not blank.
func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
