package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DukeRupert/tally/internal/auth"
	"github.com/DukeRupert/tally/internal/domain"
	"github.com/DukeRupert/tally/internal/region"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entitlementRequest(id *auth.Identity, signals region.Signals) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/entitlement", nil)
	ctx := region.WithSignals(req.Context(), signals)
	if id != nil {
		ctx = auth.SetIdentity(ctx, id)
	}
	return req.WithContext(ctx)
}

func TestEntitlementHandler_Get(t *testing.T) {
	rec := &stubReconciler{state: activeState(10)}
	h := NewEntitlementHandler(rec, region.NewRouter(domain.RegionGlobal, testLogger()), clockwork.NewFakeClockAt(testNow), true, testLogger())

	w := httptest.NewRecorder()
	h.Get(w, entitlementRequest(&auth.Identity{UserID: "12345"}, region.Signals{}))

	require.Equal(t, http.StatusOK, w.Code)

	var resp EntitlementResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, domain.TierMonthly, resp.Tier)
	assert.True(t, resp.Active)
	require.NotNil(t, resp.ExpiresAt)
	assert.True(t, resp.ExpiresAt.Equal(testNow.AddDate(0, 0, 10)))
	assert.Equal(t, domain.RegionDomestic, resp.Region, "numeric ids live in the domestic store")

	require.Len(t, rec.fresh, 1)
	assert.Equal(t, "12345", rec.fresh[0].UserID)
	assert.Equal(t, domain.RegionDomestic, rec.fresh[0].Region)
	assert.True(t, rec.fresh[0].Opts.WriteBack)
	assert.False(t, rec.fresh[0].Opts.Force)
}

func TestEntitlementHandler_TokenRegionWins(t *testing.T) {
	rec := &stubReconciler{state: domain.NoSubscription()}
	h := NewEntitlementHandler(rec, region.NewRouter(domain.RegionGlobal, testLogger()), clockwork.NewFakeClockAt(testNow), false, testLogger())

	w := httptest.NewRecorder()
	h.Get(w, entitlementRequest(
		&auth.Identity{UserID: "u-abc", Region: domain.RegionGlobal},
		region.Signals{Hint: domain.RegionDomestic},
	))

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"region":"global","tier":"none","expires_at":null,"active":false}`, w.Body.String())
	require.Len(t, rec.fresh, 1)
	assert.Equal(t, domain.RegionGlobal, rec.fresh[0].Region)
}

func TestEntitlementHandler_Errors(t *testing.T) {
	router := region.NewRouter(domain.RegionGlobal, testLogger())
	clock := clockwork.NewFakeClockAt(testNow)

	t.Run("no identity", func(t *testing.T) {
		h := NewEntitlementHandler(&stubReconciler{}, router, clock, true, testLogger())
		w := httptest.NewRecorder()
		h.Get(w, entitlementRequest(nil, region.Signals{}))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("store unavailable", func(t *testing.T) {
		rec := &stubReconciler{err: domain.Unavailable(errors.New("dial"), "Gateway.ReadSubscription", "global store unreachable")}
		h := NewEntitlementHandler(rec, router, clock, true, testLogger())
		w := httptest.NewRecorder()
		h.Get(w, entitlementRequest(&auth.Identity{UserID: "u-1"}, region.Signals{}))

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		var body JSONError
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, domain.EUNAVAILABLE, body.Error.Code)
	})
}
