package gateway

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/DukeRupert/tally/internal/domain"
	"github.com/DukeRupert/tally/internal/metrics"
	"github.com/DukeRupert/tally/internal/store"
	"github.com/DukeRupert/tally/internal/store/storetest"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGateway(domestic, global store.Handle) *Gateway {
	return New(map[domain.Region]store.Handle{
		domain.RegionDomestic: domestic,
		domain.RegionGlobal:   global,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func ts(day int) *time.Time {
	t := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, day)
	return &t
}

func TestFetchPaidOrders_DegradesOnMissingColumns(t *testing.T) {
	tests := []struct {
		name        string
		missing     []string
		wantCalls   int
		wantPaidAt  bool
		wantPlan    string
		wantBlob    bool
		wantErrCode string
	}{
		{name: "complete schema", wantCalls: 1, wantPaidAt: true, wantPlan: "monthly", wantBlob: true},
		{name: "no paid_at", missing: []string{store.ColPaidAt}, wantCalls: 2, wantPlan: "monthly", wantBlob: true},
		{name: "no updated_at keeps paid_at", missing: []string{store.ColUpdatedAt}, wantCalls: 2, wantPaidAt: true, wantPlan: "monthly", wantBlob: true},
		{name: "description only in provider response", missing: []string{store.ColPlanDescription}, wantCalls: 2, wantPaidAt: true, wantBlob: true},
		{name: "only the direct description", missing: []string{store.ColProviderResponse, store.ColPaymentMethod}, wantCalls: 2, wantPaidAt: true, wantPlan: "monthly"},
		{
			name:      "several optional columns at once",
			missing:   []string{store.ColPaymentMethod, store.ColPaidAt, store.ColUpdatedAt, store.ColProviderResponse},
			wantCalls: 2,
			wantPlan:  "monthly",
		},
		{name: "no description source", missing: []string{store.ColPlanDescription, store.ColProviderResponse}, wantCalls: 1, wantErrCode: domain.ESCHEMA},
		{name: "required column missing", missing: []string{store.ColCreatedAt}, wantCalls: 1, wantErrCode: domain.ESCHEMA},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mem := storetest.NewMemory()
			mem.Missing = tt.missing
			mem.AddOrder(domain.PaidOrder{
				OrderNo:          "o1",
				UserID:           "u1",
				Status:           domain.OrderStatusPaid,
				PaidAt:           ts(1),
				CreatedAt:        ts(0),
				PlanDescription:  "monthly",
				ProviderResponse: json.RawMessage(`{"description":"Pro Monthly"}`),
			})

			g := newTestGateway(storetest.NewMemory(), mem)
			orders, err := g.FetchPaidOrders(context.Background(), "u1", domain.RegionGlobal)

			assert.Equal(t, tt.wantCalls, mem.Calls["ListPaidOrders"])
			if tt.wantErrCode != "" {
				require.Error(t, err)
				assert.Equal(t, tt.wantErrCode, domain.ErrorCode(err))
				return
			}
			require.NoError(t, err)
			require.Len(t, orders, 1)
			assert.Equal(t, tt.wantPaidAt, orders[0].PaidAt != nil)
			assert.Equal(t, tt.wantPlan, orders[0].PlanDescription)
			assert.Equal(t, tt.wantBlob, orders[0].ProviderResponse != nil)
		})
	}
}

// misreporting lists a fixed set of columns regardless of the real table.
type misreporting struct {
	*storetest.Memory
	cols []string
}

func (m misreporting) OrderColumns(ctx context.Context) ([]string, error) {
	return m.cols, nil
}

func TestFetchPaidOrders_RetriesAtMostTwice(t *testing.T) {
	all := store.ProjectionFull.Columns()
	withoutPaidAt := []string{store.ColOrderNo, store.ColUserID, store.ColStatus, store.ColCreatedAt,
		store.ColPaymentMethod, store.ColUpdatedAt, store.ColPlanDescription, store.ColProviderResponse}

	tests := []struct {
		name        string
		missing     []string
		reported    []string
		wantCalls   int
		wantErrCode string
	}{
		{name: "listing claims nothing is missing", missing: []string{store.ColUpdatedAt}, reported: all, wantCalls: 2},
		{name: "listing names the wrong column", missing: []string{store.ColUpdatedAt}, reported: withoutPaidAt, wantCalls: 3},
		{name: "description columns gone", missing: []string{store.ColPlanDescription}, reported: withoutPaidAt, wantCalls: 3, wantErrCode: domain.ESCHEMA},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mem := storetest.NewMemory()
			mem.Missing = tt.missing
			mem.AddOrder(domain.PaidOrder{OrderNo: "o1", UserID: "u1", Status: domain.OrderStatusPaid, CreatedAt: ts(0), PlanDescription: "monthly"})

			g := newTestGateway(storetest.NewMemory(), misreporting{Memory: mem, cols: tt.reported})
			_, err := g.FetchPaidOrders(context.Background(), "u1", domain.RegionGlobal)

			assert.Equal(t, tt.wantCalls, mem.Calls["ListPaidOrders"])
			if tt.wantErrCode != "" {
				assert.Equal(t, tt.wantErrCode, domain.ErrorCode(err))
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestFetchPaidOrders_ColumnListingUnavailable(t *testing.T) {
	mem := storetest.NewMemory()
	mem.Missing = []string{store.ColPaidAt}

	g := newTestGateway(storetest.NewMemory(), failingListing{mem})
	_, err := g.FetchPaidOrders(context.Background(), "u1", domain.RegionGlobal)

	assert.Equal(t, domain.EUNAVAILABLE, domain.ErrorCode(err))
	assert.Equal(t, 1, mem.Calls["ListPaidOrders"])
}

type failingListing struct {
	*storetest.Memory
}

func (failingListing) OrderColumns(ctx context.Context) ([]string, error) {
	return nil, &store.Error{Op: "OrderColumns", Kind: store.ErrUnavailable}
}

func TestFetchPaidOrders_CountsFallbacks(t *testing.T) {
	mem := storetest.NewMemory()
	mem.Missing = []string{store.ColPaidAt}
	counter := metrics.SchemaFallbacksTotal.WithLabelValues("domestic", "Gateway.FetchPaidOrders", "full")
	before := testutil.ToFloat64(counter)

	g := newTestGateway(mem, storetest.NewMemory())
	_, err := g.FetchPaidOrders(context.Background(), "u1", domain.RegionDomestic)

	require.NoError(t, err)
	assert.Equal(t, before+1, testutil.ToFloat64(counter))
}

func TestFetchPaidOrders_GenericErrorDoesNotDegrade(t *testing.T) {
	mem := storetest.NewMemory()
	mem.Err = &store.Error{Op: "ListPaidOrders", Kind: store.ErrUnavailable, Err: context.DeadlineExceeded}

	g := newTestGateway(storetest.NewMemory(), mem)
	_, err := g.FetchPaidOrders(context.Background(), "u1", domain.RegionGlobal)

	require.Error(t, err)
	assert.Equal(t, domain.EUNAVAILABLE, domain.ErrorCode(err))
	assert.Equal(t, 1, mem.Calls["ListPaidOrders"])
}

func TestFetchPaidOrders_SortsByEffectiveTime(t *testing.T) {
	mem := storetest.NewMemory()
	// Store order (by order number) disagrees with effective time.
	mem.AddOrder(domain.PaidOrder{OrderNo: "a", UserID: "u1", Status: domain.OrderStatusPaid, PaidAt: ts(5)})
	mem.AddOrder(domain.PaidOrder{OrderNo: "b", UserID: "u1", Status: domain.OrderStatusPaid, UpdatedAt: ts(2)})
	mem.AddOrder(domain.PaidOrder{OrderNo: "c", UserID: "u1", Status: domain.OrderStatusPaid, CreatedAt: ts(2)})

	g := newTestGateway(storetest.NewMemory(), mem)
	orders, err := g.FetchPaidOrders(context.Background(), "u1", domain.RegionGlobal)
	require.NoError(t, err)

	var got []string
	for _, o := range orders {
		got = append(got, o.OrderNo)
	}
	assert.Equal(t, []string{"b", "c", "a"}, got)
}

func TestGateway_RoutesByRegion(t *testing.T) {
	domestic, global := storetest.NewMemory(), storetest.NewMemory()
	domestic.AddOrder(domain.PaidOrder{OrderNo: "cn-1", UserID: "7", Status: domain.OrderStatusPending})

	g := newTestGateway(domestic, global)
	ctx := context.Background()

	_, err := g.GetOrder(ctx, "cn-1", domain.RegionDomestic)
	require.NoError(t, err)

	_, err = g.GetOrder(ctx, "cn-1", domain.RegionGlobal)
	assert.Equal(t, domain.ENOTFOUND, domain.ErrorCode(err))

	_, err = g.GetOrder(ctx, "cn-1", domain.Region("mars"))
	assert.Equal(t, domain.EINVALID, domain.ErrorCode(err))
}

func TestMarkOrder(t *testing.T) {
	mem := storetest.NewMemory()
	mem.Missing = []string{store.ColPaidAt}
	mem.AddOrder(domain.PaidOrder{OrderNo: "o1", UserID: "u1", Status: domain.OrderStatusPending})

	g := newTestGateway(storetest.NewMemory(), mem)
	ctx := context.Background()
	at := *ts(3)

	ok, err := g.MarkOrder(ctx, "o1", domain.RegionGlobal, domain.OrderStatusPaid, at)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Nil(t, mem.Order("o1").PaidAt, "store has no paid_at")
	require.NotNil(t, mem.Order("o1").UpdatedAt)

	ok, err = g.MarkOrder(ctx, "o1", domain.RegionGlobal, domain.OrderStatusPaid, at)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = g.MarkOrder(ctx, "o1", domain.RegionGlobal, domain.OrderStatusPending, at)
	assert.Equal(t, domain.EINVALID, domain.ErrorCode(err))

	_, err = g.MarkOrder(ctx, "nope", domain.RegionGlobal, domain.OrderStatusPaid, at)
	assert.Equal(t, domain.ENOTFOUND, domain.ErrorCode(err))
}

func TestWriteSubscription(t *testing.T) {
	ctx := context.Background()

	t.Run("writes tier and expiry", func(t *testing.T) {
		mem := storetest.NewMemory()
		mem.AddUser("u1")
		g := newTestGateway(storetest.NewMemory(), mem)

		s := domain.SubscriptionState{Tier: domain.TierMonthly, ExpiresAt: ts(30)}
		require.NoError(t, g.WriteSubscription(ctx, "u1", domain.RegionGlobal, s))
		assert.True(t, s.Equal(mem.User("u1")))
	})

	t.Run("rejects tier without expiry", func(t *testing.T) {
		mem := storetest.NewMemory()
		mem.AddUser("u1")
		g := newTestGateway(storetest.NewMemory(), mem)

		err := g.WriteSubscription(ctx, "u1", domain.RegionGlobal, domain.SubscriptionState{Tier: domain.TierYearly})
		assert.Equal(t, domain.EINVALID, domain.ErrorCode(err))
		assert.Empty(t, mem.Writes)
	})

	t.Run("missing columns is schema incompatible", func(t *testing.T) {
		mem := storetest.NewMemory()
		mem.AddUser("u1")
		mem.NoSubscriptionColumns = true
		g := newTestGateway(storetest.NewMemory(), mem)

		err := g.WriteSubscription(ctx, "u1", domain.RegionGlobal, domain.NoSubscription())
		assert.Equal(t, domain.ESCHEMA, domain.ErrorCode(err))
		assert.Equal(t, 1, mem.Calls["SetSubscription"])
	})

	t.Run("unknown user", func(t *testing.T) {
		g := newTestGateway(storetest.NewMemory(), storetest.NewMemory())
		err := g.WriteSubscription(ctx, "ghost", domain.RegionGlobal, domain.NoSubscription())
		assert.Equal(t, domain.ENOTFOUND, domain.ErrorCode(err))
	})
}

func TestReadSubscription(t *testing.T) {
	mem := storetest.NewMemory()
	mem.SetUser("u1", domain.SubscriptionState{Tier: domain.TierYearly, ExpiresAt: ts(100)})
	g := newTestGateway(mem, storetest.NewMemory())

	s, err := g.ReadSubscription(context.Background(), "u1", domain.RegionDomestic)
	require.NoError(t, err)
	assert.Equal(t, domain.TierYearly, s.Tier)

	_, err = g.ReadSubscription(context.Background(), "u2", domain.RegionDomestic)
	assert.Equal(t, domain.ENOTFOUND, domain.ErrorCode(err))
}
