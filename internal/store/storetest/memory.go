// Package storetest provides an in-memory store.Handle for tests.
package storetest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/DukeRupert/tally/internal/domain"
	"github.com/DukeRupert/tally/internal/store"
)

// Memory is a store.Handle backed by maps. Missing simulates schema drift:
// any projection reading one of those columns fails with ErrColumnMissing.
type Memory struct {
	mu     sync.Mutex
	orders map[string]domain.PaidOrder
	users  map[string]domain.SubscriptionState

	// Missing lists order columns the simulated table does not have.
	Missing []string

	// HangOn names a method that blocks until its context is done and then
	// returns the bare context error, like a driver would.
	HangOn string

	// NoSubscriptionColumns makes subscription reads and writes fail with
	// ErrColumnMissing.
	NoSubscriptionColumns bool

	// Err, when set, is returned by every call.
	Err error

	// Calls counts calls per method name.
	Calls map[string]int

	// Writes records every successful SetSubscription.
	Writes []domain.SubscriptionState
}

// NewMemory creates an empty store with a complete schema.
func NewMemory() *Memory {
	return &Memory{
		orders: make(map[string]domain.PaidOrder),
		users:  make(map[string]domain.SubscriptionState),
		Calls:  make(map[string]int),
	}
}

// AddUser registers a user with no entitlement.
func (m *Memory) AddUser(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[id] = domain.NoSubscription()
}

// SetUser stores s as the user's entitlement without counting a write.
func (m *Memory) SetUser(id string, s domain.SubscriptionState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[id] = s
}

// AddOrder inserts or replaces an order.
func (m *Memory) AddOrder(o domain.PaidOrder) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[o.OrderNo] = o
}

// Order returns the stored order as-is.
func (m *Memory) Order(orderNo string) domain.PaidOrder {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.orders[orderNo]
}

// User returns the stored entitlement.
func (m *Memory) User(id string) domain.SubscriptionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.users[id]
}

func (m *Memory) enter(op string, p store.Projection) error {
	m.Calls[op]++
	if m.Err != nil {
		return m.Err
	}
	for _, c := range p.Columns() {
		if m.missing(c) {
			return &store.Error{Op: op, Kind: store.ErrColumnMissing}
		}
	}
	return nil
}

func (m *Memory) missing(col string) bool {
	for _, c := range m.Missing {
		if c == col {
			return true
		}
	}
	return false
}

// hang blocks op until ctx is done when op is HangOn. The call is counted.
func (m *Memory) hang(ctx context.Context, op string) error {
	if m.HangOn != op {
		return nil
	}
	m.mu.Lock()
	m.Calls[op]++
	m.mu.Unlock()

	<-ctx.Done()
	return ctx.Err()
}

// project drops what the projection would not have read.
func project(o domain.PaidOrder, p store.Projection) domain.PaidOrder {
	if !p.Has(store.ColPaidAt) {
		o.PaidAt = nil
	}
	if !p.Has(store.ColUpdatedAt) {
		o.UpdatedAt = nil
	}
	if !p.Has(store.ColPaymentMethod) {
		o.PaymentMethod = domain.PaymentMethodOther
	}
	if !p.Has(store.ColProviderResponse) {
		o.ProviderResponse = nil
	}
	if !p.Has(store.ColPlanDescription) {
		o.PlanDescription = ""
	}
	return o
}

// ListPaidOrders implements store.Handle.
func (m *Memory) ListPaidOrders(ctx context.Context, userID string, p store.Projection) ([]domain.PaidOrder, error) {
	if err := m.hang(ctx, "ListPaidOrders"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("ListPaidOrders", p); err != nil {
		return nil, err
	}

	var out []domain.PaidOrder
	for _, o := range m.orders {
		if o.UserID == userID && o.Status == domain.OrderStatusPaid {
			out = append(out, project(o, p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderNo < out[j].OrderNo })
	return out, nil
}

// GetOrder implements store.Handle.
func (m *Memory) GetOrder(ctx context.Context, orderNo string, p store.Projection) (domain.PaidOrder, error) {
	if err := m.hang(ctx, "GetOrder"); err != nil {
		return domain.PaidOrder{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("GetOrder", p); err != nil {
		return domain.PaidOrder{}, err
	}

	o, ok := m.orders[orderNo]
	if !ok {
		return domain.PaidOrder{}, store.NotFound("GetOrder")
	}
	return project(o, p), nil
}

// MarkOrder implements store.Handle.
func (m *Memory) MarkOrder(ctx context.Context, orderNo string, status domain.OrderStatus, at time.Time, p store.Projection) (bool, error) {
	if err := m.hang(ctx, "MarkOrder"); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("MarkOrder", p); err != nil {
		return false, err
	}

	o, ok := m.orders[orderNo]
	if !ok {
		return false, store.NotFound("MarkOrder")
	}
	if o.Status != domain.OrderStatusPending {
		return false, nil
	}

	o.Status = status
	for _, col := range p.TouchColumns(status) {
		t := at
		switch col {
		case store.ColPaidAt:
			o.PaidAt = &t
		case store.ColUpdatedAt:
			o.UpdatedAt = &t
		}
	}
	m.orders[orderNo] = o
	return true, nil
}

// GetSubscription implements store.Handle.
func (m *Memory) GetSubscription(ctx context.Context, userID string) (domain.SubscriptionState, error) {
	if err := m.hang(ctx, "GetSubscription"); err != nil {
		return domain.SubscriptionState{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.subscriptionEnter("GetSubscription"); err != nil {
		return domain.SubscriptionState{}, err
	}

	s, ok := m.users[userID]
	if !ok {
		return domain.SubscriptionState{}, store.NotFound("GetSubscription")
	}
	return s, nil
}

// SetSubscription implements store.Handle.
func (m *Memory) SetSubscription(ctx context.Context, userID string, s domain.SubscriptionState) error {
	if err := m.hang(ctx, "SetSubscription"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.subscriptionEnter("SetSubscription"); err != nil {
		return err
	}

	if _, ok := m.users[userID]; !ok {
		return store.NotFound("SetSubscription")
	}
	m.users[userID] = s
	m.Writes = append(m.Writes, s)
	return nil
}

func (m *Memory) subscriptionEnter(op string) error {
	m.Calls[op]++
	if m.Err != nil {
		return m.Err
	}
	if m.NoSubscriptionColumns {
		return &store.Error{Op: op, Kind: store.ErrColumnMissing}
	}
	return nil
}

// OrderColumns implements store.Handle.
func (m *Memory) OrderColumns(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls["OrderColumns"]++
	if m.Err != nil {
		return nil, m.Err
	}

	var cols []string
	for _, c := range store.ProjectionFull.Columns() {
		if !m.missing(c) {
			cols = append(cols, c)
		}
	}
	return cols, nil
}

// Ping implements store.Handle.
func (m *Memory) Ping(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Err
}

var _ store.Handle = (*Memory)(nil)
