package store

import (
	"database/sql"

	"github.com/DukeRupert/tally/internal/domain"
)

// OrderRow is an orders row under any projection. Columns outside the
// projection stay at their zero value.
type OrderRow struct {
	OrderNo          string         `gorm:"column:order_no"`
	UserID           sql.NullString `gorm:"column:user_id"`
	PaymentMethod    sql.NullString `gorm:"column:payment_method"`
	Status           sql.NullString `gorm:"column:status"`
	PaidAt           NullTime       `gorm:"column:paid_at"`
	UpdatedAt        NullTime       `gorm:"column:updated_at"`
	CreatedAt        NullTime       `gorm:"column:created_at"`
	PlanDescription  sql.NullString `gorm:"column:plan_description"`
	ProviderResponse RawJSON        `gorm:"column:provider_response"`
}

// Dest returns scan destinations in p.Columns() order.
func (r *OrderRow) Dest(p Projection) []any {
	cols := p.Columns()
	dest := make([]any, 0, len(cols))
	for _, c := range cols {
		switch c {
		case ColOrderNo:
			dest = append(dest, &r.OrderNo)
		case ColUserID:
			dest = append(dest, &r.UserID)
		case ColPaymentMethod:
			dest = append(dest, &r.PaymentMethod)
		case ColStatus:
			dest = append(dest, &r.Status)
		case ColPaidAt:
			dest = append(dest, &r.PaidAt)
		case ColUpdatedAt:
			dest = append(dest, &r.UpdatedAt)
		case ColCreatedAt:
			dest = append(dest, &r.CreatedAt)
		case ColPlanDescription:
			dest = append(dest, &r.PlanDescription)
		case ColProviderResponse:
			dest = append(dest, &r.ProviderResponse)
		}
	}
	return dest
}

// Order normalizes the row.
func (r OrderRow) Order() domain.PaidOrder {
	return domain.PaidOrder{
		OrderNo:          r.OrderNo,
		UserID:           r.UserID.String,
		PaymentMethod:    domain.ParsePaymentMethod(r.PaymentMethod.String),
		Status:           domain.OrderStatus(r.Status.String),
		PaidAt:           r.PaidAt.Ptr(),
		UpdatedAt:        r.UpdatedAt.Ptr(),
		CreatedAt:        r.CreatedAt.Ptr(),
		PlanDescription:  r.PlanDescription.String,
		ProviderResponse: r.ProviderResponse.Message(),
	}
}

// SubscriptionRow is the entitlement columns of a users row.
type SubscriptionRow struct {
	Tier      sql.NullString `gorm:"column:subscription_tier"`
	ExpiresAt NullTime       `gorm:"column:subscription_expires_at"`
}

// State normalizes the row. A tier without an expiry, or an expiry without
// a tier, is reported as no subscription so that readers recompute it.
func (r SubscriptionRow) State() domain.SubscriptionState {
	tier := domain.ParseTier(r.Tier.String)
	if tier == domain.TierNone || !r.ExpiresAt.Valid {
		return domain.NoSubscription()
	}
	return domain.SubscriptionState{Tier: tier, ExpiresAt: r.ExpiresAt.Ptr()}
}

// SubscriptionValues returns the column values SetSubscription writes.
func SubscriptionValues(s domain.SubscriptionState) (tier string, expiresAt any) {
	if s.Tier == "" || s.Tier == domain.TierNone || s.ExpiresAt == nil {
		return string(domain.TierNone), nil
	}
	return string(s.Tier), s.ExpiresAt.UTC()
}
