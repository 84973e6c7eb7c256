package middleware

import (
	"net/http"

	"github.com/DukeRupert/tally/internal/domain"
	"github.com/DukeRupert/tally/internal/region"
)

// RegionHeader carries an explicit region hint from the client.
const RegionHeader = "X-Region"

// RegionMiddleware collects the request-level region signals: an explicit
// hint from the X-Region header or region query parameter, and the network
// classification of the client address.
type RegionMiddleware struct {
	classifier *region.Classifier
}

// NewRegionMiddleware creates a RegionMiddleware. A nil classifier disables
// network classification.
func NewRegionMiddleware(classifier *region.Classifier) *RegionMiddleware {
	return &RegionMiddleware{classifier: classifier}
}

// Handler stores the collected signals with region.WithSignals.
func (m *RegionMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hint, ok := domain.ParseRegion(r.Header.Get(RegionHeader))
		if !ok {
			hint, _ = domain.ParseRegion(r.URL.Query().Get("region"))
		}

		signals := region.Signals{
			Hint:           hint,
			ClientDomestic: m.classifier.Classify(getClientIP(r)),
		}
		next.ServeHTTP(w, r.WithContext(region.WithSignals(r.Context(), signals)))
	})
}
