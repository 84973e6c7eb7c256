package entitlement

import (
	"time"

	"github.com/DukeRupert/tally/internal/domain"
)

// Result is the outcome of folding an order history.
type Result struct {
	State domain.SubscriptionState

	// Applied counts orders that moved the fold.
	Applied int

	// Skipped holds order numbers whose plan could not be identified.
	Skipped []string

	// Untimed holds order numbers without any usable timestamp.
	Untimed []string
}

// Compute returns the entitlement implied by orders at now.
// orders must be sorted by (effective time, order number); see domain.SortOrders.
func Compute(orders []domain.PaidOrder, now time.Time) domain.SubscriptionState {
	return Fold(orders, now).State
}

// Fold walks the paid-order history left to right.
//
// An order paid while the running expiry is still in the future extends it by
// one term. An order paid after the running expiry (or with none yet) starts a
// fresh term at its own payment time. The last identified order sets the tier.
// The final expiry is then checked against now: a lapsed result is reported as
// no subscription regardless of history.
func Fold(orders []domain.PaidOrder, now time.Time) Result {
	var (
		res        Result
		tier       = domain.TierNone
		expiry     time.Time
		haveExpiry bool
	)

	for _, o := range orders {
		if o.Status != "" && o.Status != domain.OrderStatusPaid {
			continue
		}

		t, ok := ParseTier(o)
		if !ok {
			res.Skipped = append(res.Skipped, o.OrderNo)
			continue
		}

		paidAt, ok := o.EffectiveTime()
		if !ok {
			res.Untimed = append(res.Untimed, o.OrderNo)
			continue
		}

		term := time.Duration(t.Days()) * 24 * time.Hour
		if haveExpiry && expiry.After(paidAt) {
			expiry = expiry.Add(term)
		} else {
			expiry = paidAt.Add(term)
			haveExpiry = true
		}
		tier = t
		res.Applied++
	}

	if haveExpiry && expiry.After(now) {
		exp := expiry
		res.State = domain.SubscriptionState{Tier: tier, ExpiresAt: &exp}
	} else {
		res.State = domain.NoSubscription()
	}
	return res
}
