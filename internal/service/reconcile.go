// Package service contains the business logic layer.
//
// The reconcile service keeps a user's stored entitlement consistent with
// their paid-order history. It is driven by payment webhooks, by reads that
// find no stored entitlement, and by operators.
package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/DukeRupert/tally/internal/domain"
	"github.com/DukeRupert/tally/internal/entitlement"
	"github.com/DukeRupert/tally/internal/lock"
	"github.com/DukeRupert/tally/internal/metrics"
	"github.com/DukeRupert/tally/internal/region"
	"github.com/jonboulle/clockwork"
)

// Reconciliation triggers, used as a metric label.
const (
	TriggerPayment = "payment"
	TriggerFailure = "failure"
	TriggerRead    = "read"
	TriggerAdmin   = "admin"
)

// =============================================================================
// Interface Definition
// =============================================================================

// ReconcileService defines the entitlement reconciliation operations.
//
// Errors are *domain.Error values. A failed reconciliation never means the
// payment failed; it means the stored entitlement may be stale:
// - domain.EUNAVAILABLE: transient store failure, safe to retry
// - domain.ESCHEMA: the store lacks columns the operation needs
// - domain.ENOTFOUND: the order or user does not exist in the region's store
type ReconcileService interface {
	// ReconcileAfterPayment marks the order paid (at most once) and rewrites
	// the owner's entitlement from their full paid-order history. Replayed
	// callbacks are harmless: the order is not re-marked and the fold yields
	// the same state.
	ReconcileAfterPayment(ctx context.Context, orderNo string, region domain.Region) (domain.SubscriptionState, error)

	// RecordPaymentFailure marks a pending order failed. Entitlement is not
	// touched since a failed order never contributes to it.
	RecordPaymentFailure(ctx context.Context, orderNo string, region domain.Region) error

	// EnsureFreshEntitlement returns the user's entitlement, recomputing it
	// from order history when nothing is stored or when opts.Force is set.
	EnsureFreshEntitlement(ctx context.Context, userID string, region domain.Region, opts FreshOptions) (domain.SubscriptionState, error)

	// HandlePaymentEvent resolves the event's region and dispatches it to
	// ReconcileAfterPayment or RecordPaymentFailure.
	HandlePaymentEvent(ctx context.Context, event domain.PaymentEvent) (domain.SubscriptionState, error)
}

// FreshOptions tunes EnsureFreshEntitlement.
type FreshOptions struct {
	// WriteBack persists a recomputed state that differs from the stored one.
	WriteBack bool

	// Force recomputes even when a state is stored.
	Force bool

	// Strict returns write-back failures instead of logging them.
	Strict bool
}

// ReconcileKind returns the failure kind of a reconciliation error, or "ok".
func ReconcileKind(err error) string {
	if err == nil {
		return "ok"
	}
	return domain.ErrorCode(err)
}

// OrderGateway is the store access the reconcile service needs.
type OrderGateway interface {
	FetchPaidOrders(ctx context.Context, userID string, region domain.Region) ([]domain.PaidOrder, error)
	GetOrder(ctx context.Context, orderNo string, region domain.Region) (domain.PaidOrder, error)
	MarkOrder(ctx context.Context, orderNo string, region domain.Region, status domain.OrderStatus, at time.Time) (bool, error)
	ReadSubscription(ctx context.Context, userID string, region domain.Region) (domain.SubscriptionState, error)
	WriteSubscription(ctx context.Context, userID string, region domain.Region, s domain.SubscriptionState) error
}

// =============================================================================
// Implementation
// =============================================================================

// reconcileService is the concrete implementation of ReconcileService.
type reconcileService struct {
	gateway      OrderGateway
	locker       lock.Locker
	router       *region.Router
	clock        clockwork.Clock
	storeTimeout time.Duration
	logger       *slog.Logger
}

// NewReconcileService creates a new ReconcileService instance.
//
// Dependencies:
// - gateway: region-aware store access
// - locker: per-user mutual exclusion around read-fold-write
// - router: region resolution for webhook events
// - clock: source of "now" for marking orders and checking expiry
// - storeTimeout: deadline applied to each individual store call; zero disables it
// - logger: structured logger for operation logging
func NewReconcileService(gateway OrderGateway, locker lock.Locker, router *region.Router, clock clockwork.Clock, storeTimeout time.Duration, logger *slog.Logger) ReconcileService {
	return &reconcileService{
		gateway:      gateway,
		locker:       locker,
		router:       router,
		clock:        clock,
		storeTimeout: storeTimeout,
		logger:       logger,
	}
}

// =============================================================================
// ReconcileAfterPayment Implementation
// =============================================================================

// ReconcileAfterPayment applies a confirmed payment.
//
// Flow:
// 1. Look the order up to learn its owner
// 2. Take the owner's reconcile lock
// 3. Apply pending -> paid; a replay or a late success for a failed order
//    leaves the order unchanged
// 4. Fold the owner's full paid-order history
// 5. Write the resulting tier and expiry
func (s *reconcileService) ReconcileAfterPayment(ctx context.Context, orderNo string, region domain.Region) (state domain.SubscriptionState, err error) {
	const op = "ReconcileService.ReconcileAfterPayment"

	start := s.clock.Now()
	defer func() { s.observe(region, TriggerPayment, start, err) }()

	if orderNo == "" {
		return domain.SubscriptionState{}, domain.Invalid(op, "Order number is required")
	}

	order, err := s.getOrder(ctx, orderNo, region)
	if err != nil {
		return domain.SubscriptionState{}, err
	}
	if order.UserID == "" {
		return domain.SubscriptionState{}, domain.Errorf(domain.EINTERNAL, op, "Order %s has no owner", orderNo)
	}

	unlock, err := s.lock(ctx, op, region, order.UserID)
	if err != nil {
		return domain.SubscriptionState{}, err
	}
	defer unlock()

	transitioned, err := s.markOrder(ctx, orderNo, region, domain.OrderStatusPaid)
	if err != nil {
		return domain.SubscriptionState{}, err
	}
	if !transitioned {
		if order.Status == domain.OrderStatusFailed {
			s.logger.Warn("payment confirmed for order already marked failed",
				"order_no", orderNo,
				"user_id", order.UserID,
				"region", region,
			)
		} else {
			s.logger.Debug("order already paid, recomputing without re-marking",
				"order_no", orderNo,
				"user_id", order.UserID,
			)
		}
	}

	res, err := s.fold(ctx, order.UserID, region)
	if err != nil {
		return domain.SubscriptionState{}, err
	}

	if err := s.write(ctx, order.UserID, region, res.State); err != nil {
		return domain.SubscriptionState{}, err
	}

	s.logger.Info("entitlement reconciled after payment",
		"order_no", orderNo,
		"user_id", order.UserID,
		"region", region,
		"tier", res.State.Tier,
		"expires_at", res.State.ExpiresAt,
		"orders_applied", res.Applied,
		"transitioned", transitioned,
	)
	return res.State, nil
}

// =============================================================================
// RecordPaymentFailure Implementation
// =============================================================================

// RecordPaymentFailure applies pending -> failed. A failure reported for an
// order that is already paid is ignored: a confirmed payment is never undone.
func (s *reconcileService) RecordPaymentFailure(ctx context.Context, orderNo string, region domain.Region) (err error) {
	const op = "ReconcileService.RecordPaymentFailure"

	start := s.clock.Now()
	defer func() { s.observe(region, TriggerFailure, start, err) }()

	if orderNo == "" {
		return domain.Invalid(op, "Order number is required")
	}

	order, err := s.getOrder(ctx, orderNo, region)
	if err != nil {
		return err
	}

	transitioned, err := s.markOrder(ctx, orderNo, region, domain.OrderStatusFailed)
	if err != nil {
		return err
	}

	if !transitioned && order.Status == domain.OrderStatusPaid {
		s.logger.Warn("payment failure reported for paid order, ignoring",
			"order_no", orderNo,
			"user_id", order.UserID,
			"region", region,
		)
		return nil
	}

	s.logger.Info("payment failure recorded",
		"order_no", orderNo,
		"user_id", order.UserID,
		"region", region,
		"transitioned", transitioned,
	)
	return nil
}

// =============================================================================
// EnsureFreshEntitlement Implementation
// =============================================================================

// EnsureFreshEntitlement serves reads.
//
// A stored state is returned as observed at now, so an expired entitlement
// reads as none. When nothing is stored, or Force is set, the full history
// is folded. The recomputed state is written back only when WriteBack is set
// and it differs from what is stored. A store without subscription columns
// can still be read through recompute, but never written back.
func (s *reconcileService) EnsureFreshEntitlement(ctx context.Context, userID string, region domain.Region, opts FreshOptions) (state domain.SubscriptionState, err error) {
	const op = "ReconcileService.EnsureFreshEntitlement"

	trigger := TriggerRead
	if opts.Force {
		trigger = TriggerAdmin
	}

	if userID == "" {
		return domain.SubscriptionState{}, domain.Invalid(op, "User ID is required")
	}

	stored, err := s.readSubscription(ctx, userID, region)
	writable := true
	switch {
	case err == nil:
	case domain.ErrorCode(err) == domain.ESCHEMA:
		s.logger.Warn("store has no subscription columns, recomputing without write-back",
			"user_id", userID,
			"region", region,
			"error", err,
		)
		stored, writable = domain.NoSubscription(), false
	default:
		return domain.SubscriptionState{}, err
	}

	now := s.clock.Now()
	if !opts.Force && !stored.IsEmpty() {
		return stored.At(now), nil
	}

	start := now
	defer func() { s.observe(region, trigger, start, err) }()

	// Read-only recomputes write nothing and take no lock. A write-back
	// re-reads the stored state under the lock so the comparison below is
	// against what a concurrent reconcile may have just written.
	writeBack := opts.WriteBack && writable
	if writeBack {
		unlock, err := s.lock(ctx, op, region, userID)
		if err != nil {
			return domain.SubscriptionState{}, err
		}
		defer unlock()

		if stored, err = s.readSubscription(ctx, userID, region); err != nil {
			return domain.SubscriptionState{}, err
		}
	}

	res, err := s.fold(ctx, userID, region)
	if err != nil {
		return domain.SubscriptionState{}, err
	}

	if writeBack && !res.State.Equal(stored) {
		if err := s.write(ctx, userID, region, res.State); err != nil {
			if opts.Strict {
				return domain.SubscriptionState{}, err
			}
			s.logger.Error("entitlement write-back failed",
				"user_id", userID,
				"region", region,
				"code", domain.ErrorCode(err),
				"op", domain.ErrorOp(err),
				"error", err,
			)
		} else {
			s.logger.Info("entitlement recomputed and stored",
				"user_id", userID,
				"region", region,
				"tier", res.State.Tier,
				"expires_at", res.State.ExpiresAt,
				"forced", opts.Force,
			)
		}
	}

	return res.State, nil
}

// =============================================================================
// HandlePaymentEvent Implementation
// =============================================================================

// HandlePaymentEvent routes a normalized provider callback. Without an
// explicit hint the provider's home region is used.
func (s *reconcileService) HandlePaymentEvent(ctx context.Context, event domain.PaymentEvent) (domain.SubscriptionState, error) {
	const op = "ReconcileService.HandlePaymentEvent"

	if event.OrderNo == "" {
		return domain.SubscriptionState{}, domain.Invalid(op, "Payment event carries no order number")
	}

	hint := event.RegionHint
	if !hint.Valid() {
		hint = event.Method.DefaultRegion()
	}
	decision := s.router.Resolve(region.Signals{Hint: hint})

	s.logger.Debug("payment event routed",
		"event_id", event.EventID,
		"order_no", event.OrderNo,
		"outcome", event.Outcome,
		"method", event.Method,
		"region", decision.Region,
		"region_source", decision.Source,
	)

	switch event.Outcome {
	case domain.OutcomePaid:
		return s.ReconcileAfterPayment(ctx, event.OrderNo, decision.Region)
	case domain.OutcomeFailed:
		return domain.SubscriptionState{}, s.RecordPaymentFailure(ctx, event.OrderNo, decision.Region)
	}
	return domain.SubscriptionState{}, domain.Errorf(domain.EINVALID, op, "Unknown payment outcome %q", event.Outcome)
}

// =============================================================================
// Helper Functions
// =============================================================================

// fold reads the user's paid orders and folds them at now.
func (s *reconcileService) fold(ctx context.Context, userID string, region domain.Region) (entitlement.Result, error) {
	ctx, cancel := s.storeContext(ctx)
	defer cancel()

	orders, err := s.gateway.FetchPaidOrders(ctx, userID, region)
	if err != nil {
		return entitlement.Result{}, err
	}

	res := entitlement.Fold(orders, s.clock.Now())
	if len(res.Skipped) > 0 {
		metrics.UnparseableOrdersTotal.Add(float64(len(res.Skipped)))
		s.logger.Warn("paid orders with unrecognized plan skipped",
			"user_id", userID,
			"region", region,
			"order_nos", res.Skipped,
		)
	}
	if len(res.Untimed) > 0 {
		s.logger.Warn("paid orders without any timestamp skipped",
			"user_id", userID,
			"region", region,
			"order_nos", res.Untimed,
		)
	}
	return res, nil
}

func (s *reconcileService) getOrder(ctx context.Context, orderNo string, region domain.Region) (domain.PaidOrder, error) {
	ctx, cancel := s.storeContext(ctx)
	defer cancel()
	return s.gateway.GetOrder(ctx, orderNo, region)
}

func (s *reconcileService) markOrder(ctx context.Context, orderNo string, region domain.Region, status domain.OrderStatus) (bool, error) {
	ctx, cancel := s.storeContext(ctx)
	defer cancel()
	return s.gateway.MarkOrder(ctx, orderNo, region, status, s.clock.Now())
}

func (s *reconcileService) readSubscription(ctx context.Context, userID string, region domain.Region) (domain.SubscriptionState, error) {
	ctx, cancel := s.storeContext(ctx)
	defer cancel()
	return s.gateway.ReadSubscription(ctx, userID, region)
}

func (s *reconcileService) write(ctx context.Context, userID string, region domain.Region, state domain.SubscriptionState) error {
	ctx, cancel := s.storeContext(ctx)
	defer cancel()
	return s.gateway.WriteSubscription(ctx, userID, region, state)
}

func (s *reconcileService) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.storeTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.storeTimeout)
}

func (s *reconcileService) lock(ctx context.Context, op string, region domain.Region, userID string) (func(), error) {
	unlock, err := s.locker.Lock(ctx, lock.Key(region, userID))
	if err != nil {
		return nil, domain.Unavailable(err, op, "Could not acquire reconcile lock")
	}
	return unlock, nil
}

func (s *reconcileService) observe(region domain.Region, trigger string, start time.Time, err error) {
	kind := ReconcileKind(err)
	metrics.ReconciliationsTotal.WithLabelValues(string(region), trigger, kind).Inc()
	metrics.ReconcileDuration.WithLabelValues(string(region)).Observe(s.clock.Since(start).Seconds())

	if err != nil && kind != domain.EINVALID {
		s.logger.Error("reconciliation failed",
			"region", region,
			"trigger", trigger,
			"code", kind,
			"op", domain.ErrorOp(err),
			"error", err,
		)
	}
}
