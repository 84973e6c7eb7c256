package handler

// Operator route for archived callbacks, protected by basic auth:
//   - POST /admin/webhooks/replay?key=&region=  re-run an archived callback
//
// The archived body was authenticated when it arrived, so it is decoded
// without a signature check. Relay headers are not archived; region= stands
// in for the relay's region hint.

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/DukeRupert/tally/internal/archive"
	"github.com/DukeRupert/tally/internal/billing"
	"github.com/DukeRupert/tally/internal/domain"
	"github.com/DukeRupert/tally/internal/middleware"
	"github.com/DukeRupert/tally/internal/service"
	"github.com/jonboulle/clockwork"
)

// PayloadLoader reads archived callback bodies.
type PayloadLoader interface {
	Load(ctx context.Context, key string) ([]byte, error)
}

// ReplayResponse describes a replayed callback.
type ReplayResponse struct {
	Key     string                `json:"key"`
	EventID string                `json:"event_id,omitempty"`
	OrderNo string                `json:"order_no,omitempty"`
	Outcome domain.PaymentOutcome `json:"outcome,omitempty"`
	Result  string                `json:"result"`

	Entitlement *EntitlementResponse `json:"entitlement,omitempty"`
}

// ReplayHandler re-applies archived provider callbacks.
type ReplayHandler struct {
	providers map[string]billing.Provider
	payloads  PayloadLoader
	events    PaymentEventHandler
	clock     clockwork.Clock
	logger    *slog.Logger
}

// NewReplayHandler creates a new ReplayHandler.
func NewReplayHandler(providers []billing.Provider, payloads PayloadLoader, events PaymentEventHandler, clock clockwork.Clock, logger *slog.Logger) *ReplayHandler {
	byName := make(map[string]billing.Provider, len(providers))
	for _, p := range providers {
		byName[p.Name()] = p
	}
	return &ReplayHandler{
		providers: byName,
		payloads:  payloads,
		events:    events,
		clock:     clock,
		logger:    logger,
	}
}

// RegisterRoutes registers the replay route behind requireAdmin.
func (h *ReplayHandler) RegisterRoutes(mux *http.ServeMux, requireAdmin func(http.Handler) http.Handler) {
	mux.Handle("POST /admin/webhooks/replay", requireAdmin(http.HandlerFunc(h.Replay)))
}

// Replay loads the archived body at key and runs it through the same
// reconciliation as a live callback.
func (h *ReplayHandler) Replay(w http.ResponseWriter, r *http.Request) {
	const op = "ReplayHandler.Replay"

	key := strings.TrimSpace(r.URL.Query().Get("key"))
	if key == "" {
		ErrorResponse(w, r, h.logger, domain.Invalid(op, "Archive key is required"))
		return
	}
	name, ok := archive.ProviderOf(key)
	provider := h.providers[name]
	if !ok || provider == nil {
		ErrorResponse(w, r, h.logger, domain.Invalid(op, "Archive key names no configured provider"))
		return
	}
	hint, err := regionParam(op, r)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	body, err := h.payloads.Load(r.Context(), key)
	switch {
	case archive.IsNotFound(err):
		ErrorResponse(w, r, h.logger, domain.NotFound(op, "archived callback", key))
		return
	case errors.Is(err, archive.ErrInvalidKey):
		ErrorResponse(w, r, h.logger, domain.Invalid(op, "Invalid archive key"))
		return
	case err != nil:
		ErrorResponse(w, r, h.logger, domain.Internal(err, op, "Failed to read archived callback"))
		return
	}

	event, relevant, err := provider.Decode(body)
	if err != nil {
		ErrorResponse(w, r, h.logger, &domain.Error{Code: domain.EINVALID, Op: op, Message: "Archived callback could not be normalized", Err: err})
		return
	}
	if hint != "" {
		event.RegionHint = hint
	}

	resp := ReplayResponse{
		Key:     key,
		EventID: event.EventID,
		OrderNo: event.OrderNo,
		Outcome: event.Outcome,
	}
	if !relevant {
		resp.Result = resultIgnored
		w.Header().Set(middleware.ReconcileStatusHeader, resultIgnored)
		writeJSON(w, http.StatusOK, resp)
		return
	}

	h.logger.Info("operator replaying callback",
		"key", key,
		"provider", name,
		"event_id", event.EventID,
		"order_no", event.OrderNo,
		"outcome", event.Outcome,
	)

	state, err := h.events.HandlePaymentEvent(r.Context(), event)
	resp.Result = service.ReconcileKind(err)
	w.Header().Set(middleware.ReconcileStatusHeader, resp.Result)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	reg := event.RegionHint
	if !reg.Valid() {
		reg = event.Method.DefaultRegion()
	}
	ent := newEntitlementResponse(state, reg, h.clock.Now())
	resp.Entitlement = &ent
	writeJSON(w, http.StatusOK, resp)
}
