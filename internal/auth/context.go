// Package auth provides bearer token verification and context helpers.
//
// This package is designed to be imported by both middleware and handler
// packages without causing import cycles.
package auth

import (
	"context"
	"net/http"

	"github.com/DukeRupert/tally/internal/domain"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const (
	// claimsContextKey is the key used to store verified token claims in context.
	claimsContextKey contextKey = "claims"
)

// Identity is what a verified token says about its caller.
type Identity struct {
	UserID string

	// Region is the token's region claim; empty when the issuer did not set one.
	Region domain.Region
}

// GetIdentity retrieves the authenticated caller from the context.
//
// Returns nil if no token was verified.
//
// Usage:
//
//	id := auth.GetIdentity(r.Context())
//	if id == nil {
//	    // Handle unauthenticated request
//	}
func GetIdentity(ctx context.Context) *Identity {
	id, ok := ctx.Value(claimsContextKey).(*Identity)
	if !ok {
		return nil
	}
	return id
}

// GetIdentityFromRequest is a convenience wrapper around GetIdentity.
func GetIdentityFromRequest(r *http.Request) *Identity {
	return GetIdentity(r.Context())
}

// SetIdentity stores a caller in the context. Called by the bearer middleware
// after verifying a token.
func SetIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, claimsContextKey, id)
}
