// Package txn provides the transaction session that scopes every
// multi-document financial mutation.
//
// A release touches the sub-order, the wallet, and the transaction log in
// one logical operation. All of those writes happen against a single
// Session; if anything fails the whole session is aborted and no partial
// financial state is ever committed. Callers must End() the session in a
// defer regardless of outcome.
package txn

import (
	"context"
	"database/sql"
	"errors"
	"sync"
)

// ErrSessionFinished is returned when committing or aborting a session
// that has already been committed or aborted.
var ErrSessionFinished = errors.New("transaction session already finished")

// Session is one atomic unit of work.
type Session interface {
	// Commit makes all writes in the session durable.
	Commit() error
	// Abort discards all writes in the session.
	Abort() error
	// End releases the session. If the session was neither committed nor
	// aborted, End aborts it. Safe to call more than once.
	End()
	// OnRollback registers a compensation to run if the session aborts.
	// SQL-backed sessions ignore these (the database undoes the writes);
	// memory-backed stores use them to stay transactional in tests and
	// demo mode.
	OnRollback(func())
}

// Provider begins sessions.
type Provider interface {
	Begin(ctx context.Context) (Session, error)
}

// -----------------------------------------------------------------------------
// SQL-backed sessions
// -----------------------------------------------------------------------------

// SQLProvider begins serializable database transactions.
type SQLProvider struct {
	db *sql.DB
}

// NewSQLProvider creates a provider over the given database pool.
func NewSQLProvider(db *sql.DB) *SQLProvider {
	return &SQLProvider{db: db}
}

// Begin opens a serializable transaction. Serializable isolation is what
// makes the in-transaction eligibility re-check a safe concurrency guard:
// the second of two racing releases observes the first one's writes.
func (p *SQLProvider) Begin(ctx context.Context) (Session, error) {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	return &sqlSession{tx: tx}, nil
}

type sqlSession struct {
	tx   *sql.Tx
	mu   sync.Mutex
	done bool
}

func (s *sqlSession) Commit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return ErrSessionFinished
	}
	s.done = true
	return s.tx.Commit()
}

func (s *sqlSession) Abort() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return ErrSessionFinished
	}
	s.done = true
	return s.tx.Rollback()
}

func (s *sqlSession) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return
	}
	s.done = true
	_ = s.tx.Rollback()
}

func (s *sqlSession) OnRollback(func()) {}

// Tx extracts the underlying *sql.Tx from a SQL-backed session. Postgres
// stores use this to issue their statements inside the caller's session.
func Tx(s Session) (*sql.Tx, bool) {
	if s == nil {
		return nil, false
	}
	ss, ok := s.(*sqlSession)
	if !ok {
		return nil, false
	}
	return ss.tx, true
}

// -----------------------------------------------------------------------------
// Memory-backed sessions
// -----------------------------------------------------------------------------

// MemoryProvider begins sessions for the in-memory stores. Writes are
// applied immediately; on abort the registered compensations run in
// reverse order.
type MemoryProvider struct{}

// NewMemoryProvider creates a memory session provider.
func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{}
}

// Begin starts a new memory session.
func (p *MemoryProvider) Begin(ctx context.Context) (Session, error) {
	return &memorySession{}, nil
}

type memorySession struct {
	mu    sync.Mutex
	undos []func()
	done  bool
}

func (s *memorySession) Commit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return ErrSessionFinished
	}
	s.done = true
	s.undos = nil
	return nil
}

func (s *memorySession) Abort() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return ErrSessionFinished
	}
	s.done = true
	s.rollbackLocked()
	return nil
}

func (s *memorySession) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return
	}
	s.done = true
	s.rollbackLocked()
}

func (s *memorySession) OnRollback(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.undos = append(s.undos, fn)
}

// rollbackLocked runs compensations newest-first.
func (s *memorySession) rollbackLocked() {
	for i := len(s.undos) - 1; i >= 0; i-- {
		s.undos[i]()
	}
	s.undos = nil
}
