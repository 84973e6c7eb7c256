package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/DukeRupert/tally/internal/auth"
	"github.com/DukeRupert/tally/internal/domain"
	"github.com/DukeRupert/tally/internal/region"
	"github.com/DukeRupert/tally/internal/service"
	"github.com/jonboulle/clockwork"
)

// EntitlementReader reads a user's entitlement, recomputing it when needed.
type EntitlementReader interface {
	EnsureFreshEntitlement(ctx context.Context, userID string, region domain.Region, opts service.FreshOptions) (domain.SubscriptionState, error)
}

// EntitlementHandler serves the caller's own entitlement.
type EntitlementHandler struct {
	reader    EntitlementReader
	router    *region.Router
	clock     clockwork.Clock
	writeBack bool
	logger    *slog.Logger
}

// NewEntitlementHandler creates a new EntitlementHandler. writeBack persists
// entitlements that had to be recomputed on read.
func NewEntitlementHandler(reader EntitlementReader, router *region.Router, clock clockwork.Clock, writeBack bool, logger *slog.Logger) *EntitlementHandler {
	return &EntitlementHandler{
		reader:    reader,
		router:    router,
		clock:     clock,
		writeBack: writeBack,
		logger:    logger,
	}
}

// RegisterRoutes registers the entitlement route behind the given middleware,
// which must verify a bearer token and collect region signals.
func (h *EntitlementHandler) RegisterRoutes(mux *http.ServeMux, protect func(http.Handler) http.Handler) {
	mux.Handle("GET /entitlement", protect(http.HandlerFunc(h.Get)))
}

// Get handles GET /entitlement.
func (h *EntitlementHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := auth.GetIdentityFromRequest(r)
	if id == nil {
		ErrorResponse(w, r, h.logger, domain.Unauthorized("EntitlementHandler.Get", "Authentication required"))
		return
	}

	signals := region.SignalsFrom(r.Context())
	signals.TokenRegion = id.Region
	signals.UserID = id.UserID
	decision := h.router.Resolve(signals)

	state, err := h.reader.EnsureFreshEntitlement(r.Context(), id.UserID, decision.Region, service.FreshOptions{
		WriteBack: h.writeBack,
	})
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, newEntitlementResponse(state, decision.Region, h.clock.Now()))
}
