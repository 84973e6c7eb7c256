package gormstore

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/DukeRupert/tally/internal/domain"
	"github.com/DukeRupert/tally/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	_ "modernc.org/sqlite"
)

const domesticSchema = `
CREATE TABLE users (
	id                      INTEGER PRIMARY KEY,
	region                  TEXT NOT NULL DEFAULT 'domestic',
	subscription_tier       TEXT,
	subscription_expires_at DATETIME
);
CREATE TABLE orders (
	order_no          TEXT PRIMARY KEY,
	user_id           INTEGER NOT NULL,
	payment_method    TEXT,
	status            TEXT NOT NULL DEFAULT 'pending',
	paid_at           DATETIME,
	updated_at        DATETIME,
	created_at        DATETIME NOT NULL,
	plan_description  TEXT,
	provider_response TEXT
);`

// legacyDomesticSchema stores timestamps as epoch seconds and has no paid_at.
const legacyDomesticSchema = `
CREATE TABLE users (
	id     INTEGER PRIMARY KEY,
	region TEXT NOT NULL DEFAULT 'domestic'
);
CREATE TABLE orders (
	order_no          TEXT PRIMARY KEY,
	user_id           INTEGER NOT NULL,
	payment_method    TEXT,
	status            TEXT NOT NULL DEFAULT 'pending',
	updated_at        INTEGER,
	created_at        INTEGER NOT NULL,
	plan_description  TEXT,
	provider_response TEXT
);`

// openTestDB runs gorm's SQLite dialector over a pure-Go connection.
func openTestDB(t *testing.T, schema string) *gorm.DB {
	t.Helper()

	sqlDB, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "domestic.db")+"?_time_format=sqlite")
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	_, err = sqlDB.Exec(schema)
	require.NoError(t, err)

	db, err := gorm.Open(&sqlite.Dialector{DriverName: "sqlite", Conn: sqlDB}, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return db
}

func TestListPaidOrders(t *testing.T) {
	db := openTestDB(t, domesticSchema)
	require.NoError(t, db.Exec(`INSERT INTO orders VALUES
		('A2', 10042, 'alipay', 'paid', '2026-01-11 00:00:00', NULL, '2026-01-10 00:00:00', NULL, '"{\"subject\":\"VIP Monthly\"}"'),
		('A1', 10042, 'wechat', 'paid', '2026-01-01 00:00:00', NULL, '2026-01-01 00:00:00', '月度会员 monthly', NULL),
		('A3', 10042, 'wechat', 'failed', NULL, NULL, '2026-01-12 00:00:00', 'monthly', NULL)`).Error)

	s := New(db)
	orders, err := s.ListPaidOrders(context.Background(), "10042", store.ProjectionFull)
	require.NoError(t, err)
	require.Len(t, orders, 2)

	assert.Equal(t, "A1", orders[0].OrderNo)
	assert.Equal(t, "A2", orders[1].OrderNo)
	assert.Equal(t, "10042", orders[1].UserID)
	assert.Equal(t, domain.PaymentMethodAlipay, orders[1].PaymentMethod)
	assert.Equal(t, `"{\"subject\":\"VIP Monthly\"}"`, string(orders[1].ProviderResponse))
	require.NotNil(t, orders[0].PaidAt)
	assert.True(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).Equal(*orders[0].PaidAt))
}

func TestListPaidOrders_LegacyEpochColumns(t *testing.T) {
	db := openTestDB(t, legacyDomesticSchema)
	created := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	require.NoError(t, db.Exec(`INSERT INTO orders (order_no, user_id, status, created_at, plan_description) VALUES (?, ?, ?, ?, ?)`,
		"A1", 7, "paid", created.Unix(), "yearly").Error)

	s := New(db)
	ctx := context.Background()

	_, err := s.ListPaidOrders(ctx, "7", store.ProjectionFull)
	assert.ErrorIs(t, err, store.ErrColumnMissing)

	cols, err := s.OrderColumns(ctx)
	require.NoError(t, err)
	assert.NotContains(t, cols, store.ColPaidAt)
	p, ok := store.ProjectionOf(cols)
	require.True(t, ok)
	assert.Equal(t, store.ProjectionFull&^store.WithPaidAt, p)

	orders, err := s.ListPaidOrders(ctx, "7", p)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Nil(t, orders[0].UpdatedAt)
	require.NotNil(t, orders[0].CreatedAt)
	assert.True(t, created.Equal(*orders[0].CreatedAt))
}

func TestGetOrderAndMarkOrder(t *testing.T) {
	db := openTestDB(t, domesticSchema)
	require.NoError(t, db.Exec(`INSERT INTO orders (order_no, user_id, status, created_at) VALUES ('A1', 1, 'pending', '2026-01-01 00:00:00')`).Error)

	s := New(db)
	ctx := context.Background()
	at := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)

	_, err := s.GetOrder(ctx, "missing", store.ProjectionFull)
	assert.ErrorIs(t, err, store.ErrNotFound)

	ok, err := s.MarkOrder(ctx, "A1", domain.OrderStatusFailed, at, store.ProjectionFull)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.MarkOrder(ctx, "A1", domain.OrderStatusPaid, at, store.ProjectionFull)
	require.NoError(t, err)
	assert.False(t, ok)

	o, err := s.GetOrder(ctx, "A1", store.ProjectionFull)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusFailed, o.Status)
	assert.Nil(t, o.PaidAt)
	require.NotNil(t, o.UpdatedAt)

	_, err = s.MarkOrder(ctx, "missing", domain.OrderStatusPaid, at, store.ProjectionFull)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSubscription(t *testing.T) {
	db := openTestDB(t, domesticSchema)
	require.NoError(t, db.Exec(`INSERT INTO users (id) VALUES (1)`).Error)

	s := New(db)
	ctx := context.Background()

	exp := time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)
	want := domain.SubscriptionState{Tier: domain.TierYearly, ExpiresAt: &exp}
	require.NoError(t, s.SetSubscription(ctx, "1", want))

	got, err := s.GetSubscription(ctx, "1")
	require.NoError(t, err)
	assert.True(t, want.Equal(got), "got %+v", got)

	_, err = s.GetSubscription(ctx, "2")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.ErrorIs(t, s.SetSubscription(ctx, "2", want), store.ErrNotFound)
}

func TestSubscription_MissingColumns(t *testing.T) {
	db := openTestDB(t, legacyDomesticSchema)
	require.NoError(t, db.Exec(`INSERT INTO users (id) VALUES (1)`).Error)

	s := New(db)
	exp := time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)
	err := s.SetSubscription(context.Background(), "1", domain.SubscriptionState{Tier: domain.TierYearly, ExpiresAt: &exp})
	assert.ErrorIs(t, err, store.ErrColumnMissing)
}
