package region

import "context"

type contextKey struct{}

// WithSignals stores the request-level region signals (hint and network
// classification) collected by middleware.
func WithSignals(ctx context.Context, s Signals) context.Context {
	return context.WithValue(ctx, contextKey{}, s)
}

// SignalsFrom returns the signals stored by WithSignals, or the zero value.
func SignalsFrom(ctx context.Context) Signals {
	s, _ := ctx.Value(contextKey{}).(Signals)
	return s
}
