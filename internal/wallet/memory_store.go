package wallet

import (
	"context"
	"sort"
	"sync"

	"github.com/sellora/escrowd/internal/txn"
)

// MemoryStore is an in-memory wallet store for demo mode and tests.
type MemoryStore struct {
	wallets map[string]*Wallet // wallet ID -> wallet
	byStore map[string]string  // store ID -> wallet ID
	txns    []*Transaction
	mu      sync.RWMutex
}

// NewMemoryStore creates a new in-memory wallet store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		wallets: make(map[string]*Wallet),
		byStore: make(map[string]string),
	}
}

func (m *MemoryStore) Create(ctx context.Context, w *Wallet) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *w
	m.wallets[w.ID] = &cp
	m.byStore[w.StoreID] = w.ID
	return nil
}

func (m *MemoryStore) Find(ctx context.Context, _ txn.Session, walletID string) (*Wallet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	w, ok := m.wallets[walletID]
	if !ok {
		return nil, ErrWalletNotFound
	}
	cp := *w
	return &cp, nil
}

func (m *MemoryStore) FindByStore(ctx context.Context, _ txn.Session, storeID string) (*Wallet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byStore[storeID]
	if !ok {
		return nil, ErrWalletNotFound
	}
	w := m.wallets[id]
	cp := *w
	return &cp, nil
}

func (m *MemoryStore) Save(ctx context.Context, sess txn.Session, w *Wallet) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev, ok := m.wallets[w.ID]
	if !ok {
		return ErrWalletNotFound
	}
	cp := *w
	m.wallets[w.ID] = &cp

	if sess != nil {
		sess.OnRollback(func() {
			m.mu.Lock()
			m.wallets[w.ID] = prev
			m.mu.Unlock()
		})
	}
	return nil
}

func (m *MemoryStore) InsertTransaction(ctx context.Context, sess txn.Session, t *Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *t
	m.txns = append(m.txns, &cp)

	if sess != nil {
		id := t.ID
		sess.OnRollback(func() {
			m.mu.Lock()
			for i, e := range m.txns {
				if e.ID == id {
					m.txns = append(m.txns[:i], m.txns[i+1:]...)
					break
				}
			}
			m.mu.Unlock()
		})
	}
	return nil
}

func (m *MemoryStore) ListTransactions(ctx context.Context, walletID string, limit int) ([]*Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Transaction
	for _, t := range m.txns {
		if t.WalletID == walletID {
			cp := *t
			result = append(result, &cp)
		}
	}
	// Newest first, matching the postgres store.
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}
