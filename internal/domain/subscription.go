package domain

import (
	"fmt"
	"strings"
	"time"
)

// Tier is the subscription plan class.
type Tier string

const (
	TierNone    Tier = "none"
	TierMonthly Tier = "monthly"
	TierYearly  Tier = "yearly"
)

// Days is the length of one purchased term.
func (t Tier) Days() int {
	switch t {
	case TierMonthly:
		return 30
	case TierYearly:
		return 365
	}
	return 0
}

// ParseTier maps a stored tier column to a Tier. Empty, NULL-ish and unknown
// values are treated as TierNone.
func ParseTier(s string) Tier {
	switch Tier(strings.ToLower(strings.TrimSpace(s))) {
	case TierMonthly:
		return TierMonthly
	case TierYearly:
		return TierYearly
	}
	return TierNone
}

// SubscriptionState is a user's current entitlement.
//
// Invariant: ExpiresAt == nil if and only if Tier == TierNone.
type SubscriptionState struct {
	Tier      Tier
	ExpiresAt *time.Time
}

// NoSubscription is the empty entitlement.
func NoSubscription() SubscriptionState {
	return SubscriptionState{Tier: TierNone}
}

// IsActive reports whether the entitlement is alive at now.
func (s SubscriptionState) IsActive(now time.Time) bool {
	return s.Tier != TierNone && s.ExpiresAt != nil && s.ExpiresAt.After(now)
}

// IsEmpty reports whether nothing is recorded, i.e. a read miss that should
// trigger a lazy recompute.
func (s SubscriptionState) IsEmpty() bool {
	return s.Tier == "" || s.Tier == TierNone || s.ExpiresAt == nil
}

// At returns the state as observed at now: an expired entitlement collapses
// to NoSubscription.
func (s SubscriptionState) At(now time.Time) SubscriptionState {
	if !s.IsActive(now) {
		return NoSubscription()
	}
	return s
}

// Validate checks the tier/expiry pairing invariant.
func (s SubscriptionState) Validate() error {
	switch {
	case s.Tier == TierNone && s.ExpiresAt != nil:
		return fmt.Errorf("tier none must not carry an expiry")
	case s.Tier != TierNone && s.ExpiresAt == nil:
		return fmt.Errorf("tier %q requires an expiry", s.Tier)
	case s.Tier != TierNone && s.Tier != TierMonthly && s.Tier != TierYearly:
		return fmt.Errorf("unknown tier %q", s.Tier)
	}
	return nil
}

// Equal compares tier and expiry instant.
func (s SubscriptionState) Equal(o SubscriptionState) bool {
	if s.Tier != o.Tier {
		return false
	}
	if s.ExpiresAt == nil || o.ExpiresAt == nil {
		return s.ExpiresAt == nil && o.ExpiresAt == nil
	}
	return s.ExpiresAt.Equal(*o.ExpiresAt)
}
