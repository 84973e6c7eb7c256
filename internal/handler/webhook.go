package handler

// This file implements payment provider callbacks.
//
// Routes (one per configured provider):
//   - POST /webhooks/stripe
//   - POST /webhooks/paypal
//   - POST /webhooks/alipay
//   - POST /webhooks/wechat
//
// These routes are PUBLIC (no auth middleware). Authentication is the
// provider signature or the relay HMAC, checked by billing.Provider.

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/DukeRupert/tally/internal/billing"
	"github.com/DukeRupert/tally/internal/domain"
	"github.com/DukeRupert/tally/internal/metrics"
	"github.com/DukeRupert/tally/internal/middleware"
	"github.com/DukeRupert/tally/internal/service"
)

// webhookBodyLimit caps callback bodies at 1 MiB.
const webhookBodyLimit = 1 << 20

// Results recorded for callbacks that never reach reconciliation.
const (
	resultRejected  = "rejected"
	resultMalformed = "malformed"
	resultIgnored   = "ignored"
)

// PaymentEventHandler applies a normalized payment callback.
type PaymentEventHandler interface {
	HandlePaymentEvent(ctx context.Context, event domain.PaymentEvent) (domain.SubscriptionState, error)
}

// PayloadArchiver stores authentic callback bodies.
type PayloadArchiver interface {
	Save(ctx context.Context, provider, eventID string, body []byte) (string, error)
}

// WebhookHandler handles incoming payment provider callbacks.
type WebhookHandler struct {
	providers          []billing.Provider
	events             PaymentEventHandler
	archiver           PayloadArchiver
	retryOnUnavailable bool
	logger             *slog.Logger
}

// NewWebhookHandler creates a new WebhookHandler.
//
// archiver may be nil when no archive is configured. When retryOnUnavailable
// is set, a store outage answers 503 so that the provider redelivers.
func NewWebhookHandler(providers []billing.Provider, events PaymentEventHandler, archiver PayloadArchiver, retryOnUnavailable bool, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		providers:          providers,
		events:             events,
		archiver:           archiver,
		retryOnUnavailable: retryOnUnavailable,
		logger:             logger,
	}
}

// RegisterRoutes registers one webhook route per provider.
// These routes are PUBLIC; providers authenticate by signature.
func (h *WebhookHandler) RegisterRoutes(mux *http.ServeMux) {
	for _, p := range h.providers {
		mux.Handle("POST /webhooks/"+p.Name(), h.Handle(p))
	}
}

// Handle returns the callback handler for one provider.
//
// The provider is acknowledged whenever the payload is authentic, whatever
// the reconciliation outcome: the outcome goes to X-Reconcile-Status, logs
// and metrics. The one exception is a store outage with retryOnUnavailable
// set, which is answered with 503 and the provider's retry body.
func (h *WebhookHandler) Handle(p billing.Provider) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		provider := p.Name()

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, webhookBodyLimit))
		if err != nil {
			h.logger.Warn("failed to read webhook body", "provider", provider, "error", err)
			h.record(provider, "", resultRejected)
			writeJSONError(w, http.StatusBadRequest, domain.EINVALID, "Failed to read request body")
			return
		}

		event, relevant, err := p.Parse(r.Header, body)
		if errors.Is(err, billing.ErrSignature) {
			h.logger.Warn("webhook signature verification failed", "provider", provider, "error", err)
			h.record(provider, "", resultRejected)
			writeJSONError(w, http.StatusBadRequest, domain.EINVALID, "Invalid signature")
			return
		}

		h.archive(r.Context(), provider, event.EventID, body)

		if err != nil {
			// Authentic but unusable. Redelivery would not help, so the
			// payload is kept in the archive for an operator instead.
			h.logger.Error("webhook payload could not be normalized", "provider", provider, "event_id", event.EventID, "error", err)
			h.record(provider, "", resultMalformed)
			h.reply(w, http.StatusOK, p.Ack(), resultMalformed)
			return
		}

		if !relevant {
			h.logger.Debug("webhook ignored", "provider", provider, "event_id", event.EventID)
			h.record(provider, "", resultIgnored)
			h.reply(w, http.StatusOK, p.Ack(), resultIgnored)
			return
		}

		h.logger.Info("payment callback received",
			"provider", provider,
			"event_id", event.EventID,
			"order_no", event.OrderNo,
			"outcome", event.Outcome,
		)

		_, err = h.events.HandlePaymentEvent(r.Context(), event)
		kind := service.ReconcileKind(err)
		h.record(provider, string(event.Outcome), kind)

		if err != nil && kind == domain.EUNAVAILABLE && h.retryOnUnavailable {
			h.reply(w, http.StatusServiceUnavailable, p.Nack(), kind)
			return
		}
		h.reply(w, http.StatusOK, p.Ack(), kind)
	})
}

func (h *WebhookHandler) archive(ctx context.Context, provider, eventID string, body []byte) {
	if h.archiver == nil {
		return
	}
	if _, err := h.archiver.Save(ctx, provider, eventID, body); err != nil {
		h.logger.Error("failed to archive webhook payload", "provider", provider, "event_id", eventID, "error", err)
	}
}

func (h *WebhookHandler) record(provider, outcome, result string) {
	if outcome == "" {
		outcome = "none"
	}
	metrics.WebhookEventsTotal.WithLabelValues(provider, outcome, result).Inc()
}

func (h *WebhookHandler) reply(w http.ResponseWriter, status int, reply billing.Reply, reconcileStatus string) {
	w.Header().Set(middleware.ReconcileStatusHeader, reconcileStatus)
	w.Header().Set("Content-Type", reply.ContentType)
	w.WriteHeader(status)
	_, _ = w.Write(reply.Body)
}
