package handler

// Operator routes, protected by basic auth:
//   - POST /admin/orders/{orderNo}/confirm?region=  manual payment confirmation
//   - POST /admin/users/{userID}/reconcile?region=  forced recompute with write-back

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/DukeRupert/tally/internal/domain"
	"github.com/DukeRupert/tally/internal/middleware"
	"github.com/DukeRupert/tally/internal/region"
	"github.com/DukeRupert/tally/internal/service"
	"github.com/jonboulle/clockwork"
)

// Reconciler is the subset of service.ReconcileService used by operators.
type Reconciler interface {
	ReconcileAfterPayment(ctx context.Context, orderNo string, region domain.Region) (domain.SubscriptionState, error)
	EnsureFreshEntitlement(ctx context.Context, userID string, region domain.Region, opts service.FreshOptions) (domain.SubscriptionState, error)
}

// AdminHandler serves operator actions.
type AdminHandler struct {
	reconciler Reconciler
	router     *region.Router
	clock      clockwork.Clock
	logger     *slog.Logger
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(reconciler Reconciler, router *region.Router, clock clockwork.Clock, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		reconciler: reconciler,
		router:     router,
		clock:      clock,
		logger:     logger,
	}
}

// RegisterRoutes registers admin routes behind requireAdmin.
func (h *AdminHandler) RegisterRoutes(mux *http.ServeMux, requireAdmin func(http.Handler) http.Handler) {
	mux.Handle("POST /admin/orders/{orderNo}/confirm", requireAdmin(http.HandlerFunc(h.ConfirmOrder)))
	mux.Handle("POST /admin/users/{userID}/reconcile", requireAdmin(http.HandlerFunc(h.ReconcileUser)))
}

// ConfirmOrder marks an order paid as if its payment callback had arrived.
func (h *AdminHandler) ConfirmOrder(w http.ResponseWriter, r *http.Request) {
	const op = "AdminHandler.ConfirmOrder"

	orderNo := strings.TrimSpace(r.PathValue("orderNo"))
	hint, err := regionParam(op, r)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	decision := h.router.Resolve(region.Signals{Operator: hint})

	h.logger.Info("operator confirming order", "order_no", orderNo, "region", decision.Region)

	state, err := h.reconciler.ReconcileAfterPayment(r.Context(), orderNo, decision.Region)
	w.Header().Set(middleware.ReconcileStatusHeader, service.ReconcileKind(err))
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	resp := newEntitlementResponse(state, decision.Region, h.clock.Now())
	resp.OrderNo = orderNo
	writeJSON(w, http.StatusOK, resp)
}

// ReconcileUser recomputes a user's entitlement from their full history and
// writes it back. Write failures are reported, not swallowed.
func (h *AdminHandler) ReconcileUser(w http.ResponseWriter, r *http.Request) {
	const op = "AdminHandler.ReconcileUser"

	userID := strings.TrimSpace(r.PathValue("userID"))
	hint, err := regionParam(op, r)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	decision := h.router.Resolve(region.Signals{UserID: userID, Operator: hint})

	h.logger.Info("operator reconciling user", "user_id", userID, "region", decision.Region, "source", decision.Source)

	state, err := h.reconciler.EnsureFreshEntitlement(r.Context(), userID, decision.Region, service.FreshOptions{
		WriteBack: true,
		Force:     true,
		Strict:    true,
	})
	w.Header().Set(middleware.ReconcileStatusHeader, service.ReconcileKind(err))
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	resp := newEntitlementResponse(state, decision.Region, h.clock.Now())
	resp.UserID = userID
	writeJSON(w, http.StatusOK, resp)
}

// regionParam reads the optional region query parameter. It is the
// operator's choice of store and outranks the user-id shape, so it must be
// valid when present: a typo would otherwise act on the wrong store.
func regionParam(op string, r *http.Request) (domain.Region, error) {
	raw := r.URL.Query().Get("region")
	if raw == "" {
		return "", nil
	}
	reg, ok := domain.ParseRegion(raw)
	if !ok {
		return "", domain.Invalid(op, "Unknown region "+`"`+raw+`"`)
	}
	return reg, nil
}
