package order

import (
	"context"
	"sync"
	"time"

	"github.com/sellora/escrowd/internal/txn"
)

// MemoryStore is an in-memory order store for demo mode and tests.
type MemoryStore struct {
	orders map[string]*Order // order ID -> order
	index  map[string]string // sub-order ID -> order ID
	mu     sync.RWMutex
}

// NewMemoryStore creates a new in-memory order store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders: make(map[string]*Order),
		index:  make(map[string]string),
	}
}

func (m *MemoryStore) Create(ctx context.Context, o *Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.orders[o.ID] = copyOrder(o)
	for _, so := range o.SubOrders {
		m.index[so.ID] = o.ID
	}
	return nil
}

func (m *MemoryStore) FindOrderContainingSubOrder(ctx context.Context, subOrderID string) (*Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	orderID, ok := m.index[subOrderID]
	if !ok {
		return nil, ErrOrderNotFound
	}
	o, ok := m.orders[orderID]
	if !ok {
		return nil, ErrOrderNotFound
	}
	return copyOrder(o), nil
}

func (m *MemoryStore) Save(ctx context.Context, sess txn.Session, o *Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev, existed := m.orders[o.ID]
	if !existed {
		return ErrOrderNotFound
	}
	m.orders[o.ID] = copyOrder(o)

	if sess != nil {
		sess.OnRollback(func() {
			m.mu.Lock()
			m.orders[o.ID] = prev
			m.mu.Unlock()
		})
	}
	return nil
}

func (m *MemoryStore) ReleaseEscrow(ctx context.Context, sess txn.Session, subOrderID string, st *Settlement, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	orderID, ok := m.index[subOrderID]
	if !ok {
		return ErrSubOrderNotFound
	}
	o, ok := m.orders[orderID]
	if !ok {
		return ErrOrderNotFound
	}
	so := o.SubOrder(subOrderID)
	if so == nil {
		return ErrSubOrderNotFound
	}
	if !so.Escrow.Held || so.Escrow.Released {
		return ErrEscrowNotReleasable
	}

	prev := copyOrder(o)
	released := at
	so.Escrow.Held = false
	so.Escrow.Released = true
	so.Escrow.ReleasedAt = &released
	stc := *st
	so.Settlement = &stc

	if sess != nil {
		sess.OnRollback(func() {
			m.mu.Lock()
			m.orders[orderID] = prev
			m.mu.Unlock()
		})
	}
	return nil
}

// copyOrder deep-copies an order so callers never share mutable state
// with the store. Slices (sub-orders, status history) get fresh backing
// arrays; an append on the copy must not mutate the stored order.
func copyOrder(o *Order) *Order {
	cp := *o
	cp.SubOrders = make([]*SubOrder, len(o.SubOrders))
	for i, so := range o.SubOrders {
		s := *so
		if so.Settlement != nil {
			st := *so.Settlement
			s.Settlement = &st
		}
		if so.StatusHistory != nil {
			s.StatusHistory = make([]StatusEvent, len(so.StatusHistory))
			copy(s.StatusHistory, so.StatusHistory)
		}
		cp.SubOrders[i] = &s
	}
	return &cp
}
