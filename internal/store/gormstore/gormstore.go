// Package gormstore implements store.Handle on gorm.
//
// It backs the domestic store on MySQL. The DSN must set parseTime=true;
// timestamps stored as text or epoch numbers are still accepted through
// store.NullTime.
package gormstore

import (
	"context"
	"database/sql"
	"time"

	"github.com/DukeRupert/tally/internal/domain"
	"github.com/DukeRupert/tally/internal/store"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	ordersTable = "orders"
	usersTable  = "users"
)

// Store is a store.Handle over a *gorm.DB.
type Store struct {
	db *gorm.DB
}

var _ store.Handle = (*Store)(nil)

// New wraps db.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Open connects to the domestic MySQL store with pool limits applied.
func Open(dsn string, maxOpen int, maxLifetime time.Duration) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if maxOpen > 0 {
		sqlDB.SetMaxOpenConns(maxOpen)
		sqlDB.SetMaxIdleConns(maxOpen)
	}
	if maxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(maxLifetime)
	}
	return db, nil
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return store.Classify("Ping", err)
	}
	return store.Classify("Ping", sqlDB.PingContext(ctx))
}

// ListPaidOrders implements store.Handle.
func (s *Store) ListPaidOrders(ctx context.Context, userID string, p store.Projection) ([]domain.PaidOrder, error) {
	const op = "ListPaidOrders"

	var rows []store.OrderRow
	err := s.db.WithContext(ctx).
		Table(ordersTable).
		Select(p.Columns()).
		Where("user_id = ? AND status = ?", userID, string(domain.OrderStatusPaid)).
		Order(p.OrderBy()).
		Scan(&rows).Error
	if err != nil {
		return nil, store.Classify(op, err)
	}

	orders := make([]domain.PaidOrder, 0, len(rows))
	for _, r := range rows {
		orders = append(orders, r.Order())
	}
	return orders, nil
}

// GetOrder implements store.Handle.
func (s *Store) GetOrder(ctx context.Context, orderNo string, p store.Projection) (domain.PaidOrder, error) {
	const op = "GetOrder"

	var rows []store.OrderRow
	err := s.db.WithContext(ctx).
		Table(ordersTable).
		Select(p.Columns()).
		Where("order_no = ?", orderNo).
		Limit(1).
		Scan(&rows).Error
	if err != nil {
		return domain.PaidOrder{}, store.Classify(op, err)
	}
	if len(rows) == 0 {
		return domain.PaidOrder{}, store.NotFound(op)
	}
	return rows[0].Order(), nil
}

// MarkOrder implements store.Handle.
func (s *Store) MarkOrder(ctx context.Context, orderNo string, status domain.OrderStatus, at time.Time, p store.Projection) (bool, error) {
	const op = "MarkOrder"

	updates := map[string]interface{}{
		store.ColStatus: string(status),
	}
	for _, col := range p.TouchColumns(status) {
		updates[col] = at.UTC()
	}

	result := s.db.WithContext(ctx).
		Table(ordersTable).
		Where("order_no = ? AND status = ?", orderNo, string(domain.OrderStatusPending)).
		Updates(updates)
	if result.Error != nil {
		return false, store.Classify(op, result.Error)
	}
	if result.RowsAffected > 0 {
		return true, nil
	}

	if err := s.exists(ctx, ordersTable, "order_no = ?", orderNo); err != nil {
		return false, store.Classify(op, err)
	}
	return false, nil
}

// OrderColumns implements store.Handle.
func (s *Store) OrderColumns(ctx context.Context) ([]string, error) {
	types, err := s.db.WithContext(ctx).Migrator().ColumnTypes(ordersTable)
	if err != nil {
		return nil, store.Classify("OrderColumns", err)
	}

	cols := make([]string, 0, len(types))
	for _, t := range types {
		cols = append(cols, t.Name())
	}
	return cols, nil
}

// GetSubscription implements store.Handle.
func (s *Store) GetSubscription(ctx context.Context, userID string) (domain.SubscriptionState, error) {
	const op = "GetSubscription"

	var rows []store.SubscriptionRow
	err := s.db.WithContext(ctx).
		Table(usersTable).
		Select("subscription_tier", "subscription_expires_at").
		Where("id = ?", userID).
		Limit(1).
		Scan(&rows).Error
	if err != nil {
		return domain.SubscriptionState{}, store.Classify(op, err)
	}
	if len(rows) == 0 {
		return domain.SubscriptionState{}, store.NotFound(op)
	}
	return rows[0].State(), nil
}

// SetSubscription implements store.Handle.
func (s *Store) SetSubscription(ctx context.Context, userID string, state domain.SubscriptionState) error {
	const op = "SetSubscription"

	tier, expiresAt := store.SubscriptionValues(state)
	result := s.db.WithContext(ctx).
		Table(usersTable).
		Where("id = ?", userID).
		Updates(map[string]interface{}{
			"subscription_tier":       tier,
			"subscription_expires_at": expiresAt,
		})
	if result.Error != nil {
		return store.Classify(op, result.Error)
	}
	if result.RowsAffected == 0 {
		// MySQL reports zero rows when the values did not change.
		return store.Classify(op, s.exists(ctx, usersTable, "id = ?", userID))
	}
	return nil
}

// exists returns sql.ErrNoRows when nothing matches cond.
func (s *Store) exists(ctx context.Context, table, cond, key string) error {
	var n int64
	if err := s.db.WithContext(ctx).Table(table).Where(cond, key).Count(&n).Error; err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}
