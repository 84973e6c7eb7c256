package handler

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/DukeRupert/tally/internal/domain"
	"github.com/DukeRupert/tally/internal/service"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var testNow = time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)

func activeState(days int) domain.SubscriptionState {
	exp := testNow.AddDate(0, 0, days)
	return domain.SubscriptionState{Tier: domain.TierMonthly, ExpiresAt: &exp}
}

type freshCall struct {
	UserID string
	Region domain.Region
	Opts   service.FreshOptions
}

// stubReconciler records calls and returns canned results.
type stubReconciler struct {
	state domain.SubscriptionState
	err   error

	events  []domain.PaymentEvent
	paid    []string
	regions []domain.Region
	fresh   []freshCall
}

func (s *stubReconciler) HandlePaymentEvent(ctx context.Context, event domain.PaymentEvent) (domain.SubscriptionState, error) {
	s.events = append(s.events, event)
	return s.state, s.err
}

func (s *stubReconciler) ReconcileAfterPayment(ctx context.Context, orderNo string, region domain.Region) (domain.SubscriptionState, error) {
	s.paid = append(s.paid, orderNo)
	s.regions = append(s.regions, region)
	return s.state, s.err
}

func (s *stubReconciler) EnsureFreshEntitlement(ctx context.Context, userID string, region domain.Region, opts service.FreshOptions) (domain.SubscriptionState, error) {
	s.fresh = append(s.fresh, freshCall{UserID: userID, Region: region, Opts: opts})
	return s.state, s.err
}

type stubArchiver struct {
	saved []string
	err   error
}

func (a *stubArchiver) Save(ctx context.Context, provider, eventID string, body []byte) (string, error) {
	a.saved = append(a.saved, provider+"/"+eventID)
	return "key", a.err
}
