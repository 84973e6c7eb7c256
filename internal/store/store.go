// Package store defines the contract both regional stores implement.
//
// The domestic and global stores have drifted apart over their deployment
// history: either may lack the paid_at provenance column, the provider
// response blob or other optional columns. Adapters therefore take a
// Projection on every order query, report a missing column as
// ErrColumnMissing and list the columns they do have, so the caller can
// retry with a projection that fits.
//
// Implementations:
// - sqlstore: database/sql (pgx for Postgres, SQLite in tests)
// - gormstore: gorm (MySQL, SQLite in tests)
package store

import (
	"context"
	"strings"
	"time"

	"github.com/DukeRupert/tally/internal/domain"
)

// =============================================================================
// Interface Definition
// =============================================================================

// Handle is one regional store.
//
// All methods are context-aware for timeout and cancellation support.
// Errors are *Error values classified as ErrColumnMissing, ErrUnavailable or
// ErrNotFound.
type Handle interface {
	// ListPaidOrders returns the user's paid orders, ascending by the best
	// timestamp the projection carries, then order number.
	ListPaidOrders(ctx context.Context, userID string, p Projection) ([]domain.PaidOrder, error)

	// GetOrder returns a single order of any status.
	GetOrder(ctx context.Context, orderNo string, p Projection) (domain.PaidOrder, error)

	// MarkOrder moves a pending order to status. It reports false, without
	// error, when the order was not pending; the transition applies at most
	// once. at is recorded in whichever timestamp columns p carries.
	MarkOrder(ctx context.Context, orderNo string, status domain.OrderStatus, at time.Time, p Projection) (bool, error)

	// GetSubscription reads the stored tier and expiry of a user.
	GetSubscription(ctx context.Context, userID string) (domain.SubscriptionState, error)

	// SetSubscription writes tier and expiry in a single update keyed by
	// user id. Neither column is written without the other.
	SetSubscription(ctx context.Context, userID string, s domain.SubscriptionState) error

	// OrderColumns lists the columns the orders table actually has.
	OrderColumns(ctx context.Context) ([]string, error)

	// Ping checks connectivity.
	Ping(ctx context.Context) error
}

// =============================================================================
// Projections
// =============================================================================

// Column names
const (
	ColOrderNo          = "order_no"
	ColUserID           = "user_id"
	ColPaymentMethod    = "payment_method"
	ColStatus           = "status"
	ColPaidAt           = "paid_at"
	ColUpdatedAt        = "updated_at"
	ColCreatedAt        = "created_at"
	ColPlanDescription  = "plan_description"
	ColProviderResponse = "provider_response"
)

// RequiredColumns are read by every projection. A store without them cannot
// serve orders at all.
var RequiredColumns = []string{ColOrderNo, ColUserID, ColStatus, ColCreatedAt}

// Projection is the set of optional order columns a query reads, on top of
// RequiredColumns.
type Projection uint8

const (
	WithPaymentMethod Projection = 1 << iota
	WithPaidAt
	WithUpdatedAt
	WithPlanDescription
	WithProviderResponse
)

const (
	// ProjectionFull reads every order column.
	ProjectionFull = WithPaymentMethod | WithPaidAt | WithUpdatedAt | WithPlanDescription | WithProviderResponse

	// ProjectionMinimal reads only RequiredColumns.
	ProjectionMinimal Projection = 0

	// descriptionSources are the two places a plan description may live.
	descriptionSources = WithPlanDescription | WithProviderResponse
)

// optional pairs each optional flag with its column, in scan order.
var optional = []struct {
	flag Projection
	col  string
}{
	{WithPaymentMethod, ColPaymentMethod},
	{WithPaidAt, ColPaidAt},
	{WithUpdatedAt, ColUpdatedAt},
	{WithPlanDescription, ColPlanDescription},
	{WithProviderResponse, ColProviderResponse},
}

// ProjectionOf returns the projection reading exactly the optional columns
// present in cols. ok is false when a required column is absent or when
// neither plan description source exists.
func ProjectionOf(cols []string) (p Projection, ok bool) {
	present := make(map[string]bool, len(cols))
	for _, c := range cols {
		present[strings.ToLower(c)] = true
	}
	for _, c := range RequiredColumns {
		if !present[c] {
			return ProjectionMinimal, false
		}
	}
	for _, o := range optional {
		if present[o.col] {
			p |= o.flag
		}
	}
	return p, p&descriptionSources != 0
}

// Descriptions keeps only the plan description sources of p.
func (p Projection) Descriptions() Projection {
	return p & descriptionSources
}

func (p Projection) String() string {
	switch p {
	case ProjectionFull:
		return "full"
	case ProjectionMinimal:
		return "minimal"
	}
	var cols []string
	for _, o := range optional {
		if p&o.flag != 0 {
			cols = append(cols, o.col)
		}
	}
	return strings.Join(cols, "+")
}

// Columns returns the order columns the projection reads, in scan order.
func (p Projection) Columns() []string {
	cols := []string{ColOrderNo, ColUserID, ColStatus, ColCreatedAt}
	for _, o := range optional {
		if p&o.flag != 0 {
			cols = append(cols, o.col)
		}
	}
	return cols
}

// Has reports whether the projection reads col.
func (p Projection) Has(col string) bool {
	for _, c := range p.Columns() {
		if c == col {
			return true
		}
	}
	return false
}

// OrderBy is the SQL ordering over whichever timestamps the projection
// carries, most specific first.
func (p Projection) OrderBy() string {
	var ts []string
	if p&WithPaidAt != 0 {
		ts = append(ts, ColPaidAt)
	}
	if p&WithUpdatedAt != 0 {
		ts = append(ts, ColUpdatedAt)
	}
	if len(ts) == 0 {
		return ColCreatedAt + ", " + ColOrderNo
	}
	ts = append(ts, ColCreatedAt)
	return "COALESCE(" + strings.Join(ts, ", ") + "), " + ColOrderNo
}

// TouchColumns are the timestamp columns MarkOrder writes for status.
func (p Projection) TouchColumns(status domain.OrderStatus) []string {
	var cols []string
	if status == domain.OrderStatusPaid && p&WithPaidAt != 0 {
		cols = append(cols, ColPaidAt)
	}
	if p&WithUpdatedAt != 0 {
		cols = append(cols, ColUpdatedAt)
	}
	return cols
}
