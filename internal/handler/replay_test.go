package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/DukeRupert/tally/internal/archive"
	"github.com/DukeRupert/tally/internal/billing"
	"github.com/DukeRupert/tally/internal/domain"
	"github.com/DukeRupert/tally/internal/middleware"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubLoader map[string][]byte

func (l stubLoader) Load(ctx context.Context, key string) ([]byte, error) {
	body, ok := l[key]
	if !ok {
		return nil, &archive.StorageError{Op: "Get", Key: key, Err: archive.ErrNotFound}
	}
	return body, nil
}

const (
	alipayKey = "webhooks/alipay/2026/10/16/N-1001.json"
	wechatKey = "webhooks/wechat/2026/10/16/EV-1.json"
)

func newReplayMux(rec *stubReconciler, loader PayloadLoader) *http.ServeMux {
	relay := billing.NewRelay(relaySecret)
	h := NewReplayHandler([]billing.Provider{
		billing.NewAlipay(relay),
		billing.NewWeChat(relay),
		billing.NewStripe("whsec_test"),
	}, loader, rec, clockwork.NewFakeClockAt(testNow), testLogger())
	mux := http.NewServeMux()
	h.RegisterRoutes(mux, middleware.NewBasicAuthMiddleware("admin", "ops", "pw").Handler)
	return mux
}

func replayPath(key, region string) string {
	v := url.Values{}
	v.Set("key", key)
	if region != "" {
		v.Set("region", region)
	}
	return "/admin/webhooks/replay?" + v.Encode()
}

func TestReplay_ReconcilesArchivedCallback(t *testing.T) {
	rec := &stubReconciler{state: activeState(30)}
	mux := newReplayMux(rec, stubLoader{alipayKey: []byte(alipayForm("TRADE_SUCCESS", "1001"))})

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, adminRequest(replayPath(alipayKey, "")))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", w.Header().Get(middleware.ReconcileStatusHeader))
	assert.Contains(t, w.Body.String(), `"order_no":"1001"`)
	assert.Contains(t, w.Body.String(), `"region":"domestic"`)

	require.Len(t, rec.events, 1)
	assert.Equal(t, domain.OutcomePaid, rec.events[0].Outcome)
	assert.Equal(t, domain.PaymentMethodAlipay, rec.events[0].Method)
	assert.Empty(t, rec.events[0].RegionHint)
}

func TestReplay_RegionParamOverridesHint(t *testing.T) {
	rec := &stubReconciler{state: activeState(30)}
	mux := newReplayMux(rec, stubLoader{wechatKey: []byte(`{"id":"EV-1","transaction_id":"42","out_trade_no":"1001","trade_state":"SUCCESS"}`)})

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, adminRequest(replayPath(wechatKey, "global")))

	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, rec.events, 1)
	assert.Equal(t, domain.RegionGlobal, rec.events[0].RegionHint)
}

func TestReplay_Errors(t *testing.T) {
	loader := stubLoader{
		alipayKey: []byte(alipayForm("WAIT_BUYER_PAY", "1001")),
		wechatKey: []byte(`not json`),
	}

	tests := []struct {
		name       string
		path       string
		wantStatus int
		wantResult string
	}{
		{name: "missing key", path: "/admin/webhooks/replay", wantStatus: http.StatusBadRequest},
		{name: "unknown provider", path: replayPath("webhooks/bitcoin/2026/10/16/x.json", ""), wantStatus: http.StatusBadRequest},
		{name: "not archived", path: replayPath("webhooks/alipay/2026/10/16/gone.json", ""), wantStatus: http.StatusNotFound},
		{name: "bad region", path: replayPath(alipayKey, "mars"), wantStatus: http.StatusBadRequest},
		{name: "undecodable body", path: replayPath(wechatKey, ""), wantStatus: http.StatusBadRequest},
		{name: "no outcome", path: replayPath(alipayKey, ""), wantStatus: http.StatusOK, wantResult: resultIgnored},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &stubReconciler{}
			mux := newReplayMux(rec, loader)

			w := httptest.NewRecorder()
			mux.ServeHTTP(w, adminRequest(tt.path))

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantResult, w.Header().Get(middleware.ReconcileStatusHeader))
			assert.Empty(t, rec.events)
		})
	}
}

func TestReplay_StoreUnavailable(t *testing.T) {
	rec := &stubReconciler{err: domain.Unavailable(errors.New("timeout"), "Gateway.GetOrder", "store timed out")}
	mux := newReplayMux(rec, stubLoader{alipayKey: []byte(alipayForm("TRADE_SUCCESS", "1001"))})

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, adminRequest(replayPath(alipayKey, "")))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, domain.EUNAVAILABLE, w.Header().Get(middleware.ReconcileStatusHeader))
	require.Len(t, rec.events, 1)
}

func TestReplay_RequiresCredentials(t *testing.T) {
	rec := &stubReconciler{}
	mux := newReplayMux(rec, stubLoader{})

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodPost, replayPath(alipayKey, ""), nil))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
