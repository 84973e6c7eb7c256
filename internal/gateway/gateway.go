// Package gateway dispatches order and subscription operations to the store
// that owns a region and absorbs schema drift between deployments.
//
// Every order query starts with the full projection. Only an undefined-column
// error triggers a retry: the gateway asks the store which order columns it
// has and retries with exactly those, so a present paid_at or either plan
// description source is never thrown away with a missing neighbour. Should
// that still fail, a last attempt reads only the required columns and the
// description sources. Any other error is returned immediately. A store that
// cannot satisfy any of these is reported as schema incompatible.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/DukeRupert/tally/internal/domain"
	"github.com/DukeRupert/tally/internal/metrics"
	"github.com/DukeRupert/tally/internal/store"
)

// Gateway is the region-aware front of the regional stores.
type Gateway struct {
	handles map[domain.Region]store.Handle
	logger  *slog.Logger
}

// New creates a Gateway. handles maps each configured region to its store.
func New(handles map[domain.Region]store.Handle, logger *slog.Logger) *Gateway {
	return &Gateway{handles: handles, logger: logger}
}

func (g *Gateway) handle(op string, region domain.Region) (store.Handle, error) {
	h, ok := g.handles[region]
	if !ok || h == nil {
		return nil, domain.Errorf(domain.EINVALID, op, "No store configured for region %q", region)
	}
	return h, nil
}

// FetchPaidOrders returns the user's paid orders sorted by effective payment
// time, then order number.
func (g *Gateway) FetchPaidOrders(ctx context.Context, userID string, region domain.Region) ([]domain.PaidOrder, error) {
	const op = "Gateway.FetchPaidOrders"

	h, err := g.handle(op, region)
	if err != nil {
		return nil, err
	}

	orders, err := withFallback(ctx, g, h, region, op, func(p store.Projection) ([]domain.PaidOrder, error) {
		return h.ListPaidOrders(ctx, userID, p)
	})
	if err != nil {
		return nil, err
	}

	// Stores order by whichever timestamp the projection had; the fold needs
	// the effective time, which may differ.
	domain.SortOrders(orders)
	return orders, nil
}

// GetOrder looks an order up in the region's store.
func (g *Gateway) GetOrder(ctx context.Context, orderNo string, region domain.Region) (domain.PaidOrder, error) {
	const op = "Gateway.GetOrder"

	h, err := g.handle(op, region)
	if err != nil {
		return domain.PaidOrder{}, err
	}

	o, err := withFallback(ctx, g, h, region, op, func(p store.Projection) (domain.PaidOrder, error) {
		return h.GetOrder(ctx, orderNo, p)
	})
	if err != nil {
		if domain.ErrorCode(err) == domain.ENOTFOUND {
			return domain.PaidOrder{}, domain.NotFound(op, "order", orderNo)
		}
		return domain.PaidOrder{}, err
	}
	return o, nil
}

// MarkOrder applies the pending -> status transition at most once.
// transitioned is false when the order had already left pending.
func (g *Gateway) MarkOrder(ctx context.Context, orderNo string, region domain.Region, status domain.OrderStatus, at time.Time) (transitioned bool, err error) {
	const op = "Gateway.MarkOrder"

	if !status.Terminal() {
		return false, domain.Errorf(domain.EINVALID, op, "Cannot mark order %s as %q", orderNo, status)
	}

	h, err := g.handle(op, region)
	if err != nil {
		return false, err
	}

	ok, err := withFallback(ctx, g, h, region, op, func(p store.Projection) (bool, error) {
		return h.MarkOrder(ctx, orderNo, status, at, p)
	})
	if err != nil {
		if domain.ErrorCode(err) == domain.ENOTFOUND {
			return false, domain.NotFound(op, "order", orderNo)
		}
		return false, err
	}
	return ok, nil
}

// ReadSubscription returns the user's stored entitlement.
func (g *Gateway) ReadSubscription(ctx context.Context, userID string, region domain.Region) (domain.SubscriptionState, error) {
	const op = "Gateway.ReadSubscription"

	h, err := g.handle(op, region)
	if err != nil {
		return domain.SubscriptionState{}, err
	}

	s, err := h.GetSubscription(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.SubscriptionState{}, domain.NotFound(op, "user", userID)
		}
		return domain.SubscriptionState{}, translate(op, err)
	}
	return s, nil
}

// WriteSubscription persists tier and expiry together. The subscription
// columns have no fallback: a store without them cannot hold an
// entitlement, and writing one without the other is never allowed.
func (g *Gateway) WriteSubscription(ctx context.Context, userID string, region domain.Region, s domain.SubscriptionState) error {
	const op = "Gateway.WriteSubscription"

	if err := s.Validate(); err != nil {
		return domain.Wrap(err, domain.EINVALID, op, "Refusing to write inconsistent subscription state")
	}

	h, err := g.handle(op, region)
	if err != nil {
		return err
	}

	if err := h.SetSubscription(ctx, userID, s); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.NotFound(op, "user", userID)
		}
		return translate(op, err)
	}
	return nil
}

// Ping checks every configured store.
func (g *Gateway) Ping(ctx context.Context) error {
	for region, h := range g.handles {
		if err := h.Ping(ctx); err != nil {
			return domain.Unavailable(err, "Gateway.Ping", fmt.Sprintf("%s store unreachable", region))
		}
	}
	return nil
}

// withFallback runs fn with successively smaller projections while the store
// reports a missing column. It makes at most maxAttempts attempts.
func withFallback[T any](ctx context.Context, g *Gateway, h store.Handle, region domain.Region, op string, fn func(store.Projection) (T, error)) (T, error) {
	var zero T

	p := store.ProjectionFull
	for attempt := 1; ; attempt++ {
		v, err := fn(p)
		if err == nil {
			if attempt > 1 {
				g.logger.Debug("query succeeded with reduced projection",
					"op", op,
					"region", region,
					"projection", p.String(),
				)
			}
			return v, nil
		}
		if !errors.Is(err, store.ErrColumnMissing) {
			return zero, translate(op, err)
		}

		metrics.SchemaFallbacksTotal.WithLabelValues(string(region), op, p.String()).Inc()
		g.logger.Warn("store lacks column, degrading projection",
			"op", op,
			"region", region,
			"projection", p.String(),
			"error", err,
		)

		if attempt == maxAttempts {
			return zero, incompatible(op, region, err)
		}
		next, err := g.degrade(ctx, h, p, attempt)
		if err != nil {
			return zero, translate(op, err)
		}
		if next == p {
			return zero, incompatible(op, region, err)
		}
		p = next
	}
}

// maxAttempts bounds an order query to the full projection plus two retries.
const maxAttempts = 3

// degrade picks the projection for the next attempt. The first retry reads
// the columns the store reports; the second keeps only the required columns
// and whichever description sources the previous attempt had.
func (g *Gateway) degrade(ctx context.Context, h store.Handle, p store.Projection, attempt int) (store.Projection, error) {
	if attempt > 1 {
		return p.Descriptions(), nil
	}

	cols, err := h.OrderColumns(ctx)
	if err != nil {
		return p, err
	}
	fit, ok := store.ProjectionOf(cols)
	if !ok {
		return p, &store.Error{Op: "OrderColumns", Kind: store.ErrColumnMissing}
	}
	if fit&p == p {
		// The store claims to have everything; fall back to the last resort.
		return p.Descriptions(), nil
	}
	return fit & p, nil
}

func incompatible(op string, region domain.Region, err error) error {
	return domain.SchemaIncompatible(err, op,
		fmt.Sprintf("%s store is missing required order columns", region))
}

// translate maps a classified store error to an application error.
func translate(op string, err error) error {
	switch {
	case errors.Is(err, store.ErrColumnMissing):
		return domain.SchemaIncompatible(err, op, "Store is missing required columns")
	case errors.Is(err, store.ErrNotFound):
		return domain.Wrap(err, domain.ENOTFOUND, op, "Record not found")
	default:
		return domain.Unavailable(err, op, "Store unavailable")
	}
}
