// Package sqlstore implements store.Handle on database/sql.
//
// It backs the global store on Postgres through the pgx stdlib driver.
// The SQLite dialect exists so the adapter can be exercised against
// throwaway databases with legacy schemas.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/DukeRupert/tally/internal/domain"
	"github.com/DukeRupert/tally/internal/store"
)

// Dialect selects placeholder syntax.
type Dialect int

const (
	Postgres Dialect = iota
	SQLite
)

func (d Dialect) placeholder(n int) string {
	if d == Postgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// Store is a store.Handle over a *sql.DB.
type Store struct {
	db      *sql.DB
	dialect Dialect
}

var _ store.Handle = (*Store)(nil)

// New wraps db.
func New(db *sql.DB, dialect Dialect) *Store {
	return &Store{db: db, dialect: dialect}
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return store.Classify("Ping", s.db.PingContext(ctx))
}

func (s *Store) selectOrders(p store.Projection) string {
	return "SELECT " + strings.Join(p.Columns(), ", ") + " FROM orders"
}

// ListPaidOrders implements store.Handle.
func (s *Store) ListPaidOrders(ctx context.Context, userID string, p store.Projection) ([]domain.PaidOrder, error) {
	const op = "ListPaidOrders"

	query := fmt.Sprintf("%s WHERE user_id = %s AND status = %s ORDER BY %s",
		s.selectOrders(p), s.dialect.placeholder(1), s.dialect.placeholder(2), p.OrderBy())

	rows, err := s.db.QueryContext(ctx, query, userID, string(domain.OrderStatusPaid))
	if err != nil {
		return nil, store.Classify(op, err)
	}
	defer rows.Close()

	var orders []domain.PaidOrder
	for rows.Next() {
		var r store.OrderRow
		if err := rows.Scan(r.Dest(p)...); err != nil {
			return nil, store.Classify(op, err)
		}
		orders = append(orders, r.Order())
	}
	if err := rows.Err(); err != nil {
		return nil, store.Classify(op, err)
	}
	return orders, nil
}

// GetOrder implements store.Handle.
func (s *Store) GetOrder(ctx context.Context, orderNo string, p store.Projection) (domain.PaidOrder, error) {
	const op = "GetOrder"

	query := fmt.Sprintf("%s WHERE order_no = %s", s.selectOrders(p), s.dialect.placeholder(1))

	var r store.OrderRow
	if err := s.db.QueryRowContext(ctx, query, orderNo).Scan(r.Dest(p)...); err != nil {
		return domain.PaidOrder{}, store.Classify(op, err)
	}
	return r.Order(), nil
}

// MarkOrder implements store.Handle.
func (s *Store) MarkOrder(ctx context.Context, orderNo string, status domain.OrderStatus, at time.Time, p store.Projection) (bool, error) {
	const op = "MarkOrder"

	sets := []string{"status = " + s.dialect.placeholder(1)}
	args := []any{string(status)}
	for _, col := range p.TouchColumns(status) {
		args = append(args, at.UTC())
		sets = append(sets, col+" = "+s.dialect.placeholder(len(args)))
	}
	args = append(args, orderNo, string(domain.OrderStatusPending))

	query := fmt.Sprintf("UPDATE orders SET %s WHERE order_no = %s AND status = %s",
		strings.Join(sets, ", "), s.dialect.placeholder(len(args)-1), s.dialect.placeholder(len(args)))

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, store.Classify(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, store.Classify(op, err)
	}
	if n > 0 {
		return true, nil
	}

	// Not pending, or not there at all.
	if err := s.exists(ctx, "orders", "order_no", orderNo); err != nil {
		return false, store.Classify(op, err)
	}
	return false, nil
}

// OrderColumns implements store.Handle. The column list comes from the
// result metadata of an empty select, which every driver reports.
func (s *Store) OrderColumns(ctx context.Context) ([]string, error) {
	const op = "OrderColumns"

	rows, err := s.db.QueryContext(ctx, "SELECT * FROM orders WHERE 1 = 0")
	if err != nil {
		return nil, store.Classify(op, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, store.Classify(op, err)
	}
	return cols, nil
}

// GetSubscription implements store.Handle.
func (s *Store) GetSubscription(ctx context.Context, userID string) (domain.SubscriptionState, error) {
	const op = "GetSubscription"

	query := "SELECT subscription_tier, subscription_expires_at FROM users WHERE id = " + s.dialect.placeholder(1)

	var r store.SubscriptionRow
	if err := s.db.QueryRowContext(ctx, query, userID).Scan(&r.Tier, &r.ExpiresAt); err != nil {
		return domain.SubscriptionState{}, store.Classify(op, err)
	}
	return r.State(), nil
}

// SetSubscription implements store.Handle.
func (s *Store) SetSubscription(ctx context.Context, userID string, state domain.SubscriptionState) error {
	const op = "SetSubscription"

	tier, expiresAt := store.SubscriptionValues(state)
	query := fmt.Sprintf("UPDATE users SET subscription_tier = %s, subscription_expires_at = %s WHERE id = %s",
		s.dialect.placeholder(1), s.dialect.placeholder(2), s.dialect.placeholder(3))

	res, err := s.db.ExecContext(ctx, query, tier, expiresAt, userID)
	if err != nil {
		return store.Classify(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return store.Classify(op, err)
	}
	if n == 0 {
		return store.Classify(op, s.exists(ctx, "users", "id", userID))
	}
	return nil
}

// exists returns sql.ErrNoRows when no row has key in col.
func (s *Store) exists(ctx context.Context, table, col, key string) error {
	var one int
	query := fmt.Sprintf("SELECT 1 FROM %s WHERE %s = %s", table, col, s.dialect.placeholder(1))
	return s.db.QueryRowContext(ctx, query, key).Scan(&one)
}
