// Package store provides ledger.Store implementations.
package store

import (
	"context"
	"sync"

	"github.com/fixpoint/loyalty-engine/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu      sync.RWMutex
	entries map[key][]ledger.Entry
	earned  map[guardKey]bool
}

type key struct {
	AccountID ledger.AccountID
	StoreID   ledger.StoreID
}

type guardKey struct {
	Identity  string
	StoreID   ledger.StoreID
	Reference string
	Day       string
}

func NewMemory() *Memory {
	return &Memory{
		entries: make(map[key][]ledger.Entry),
		earned:  make(map[guardKey]bool),
	}
}

// Append adds a single entry. Append-only.
// Mirrors the SQLite unique index: a second earning entry for the same
// (identity, store, reference, day) fails with ErrDuplicateAward.
func (m *Memory) Append(_ context.Context, e ledger.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendLocked(e)
}

func (m *Memory) appendLocked(e ledger.Entry) error {
	if e.Category.Earning() && e.IdentityKey != "" {
		gk := guardKey{
			Identity:  e.IdentityKey,
			StoreID:   e.StoreID,
			Reference: e.Reference,
			Day:       ledger.DayKey(e.CreatedAt),
		}
		if m.earned[gk] {
			return ledger.ErrDuplicateAward
		}
		m.earned[gk] = true
	}

	k := key{AccountID: e.AccountID, StoreID: e.StoreID}
	m.entries[k] = append(m.entries[k], e)
	return nil
}

func (m *Memory) Load(_ context.Context, accountID ledger.AccountID, storeID ledger.StoreID) ([]ledger.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	k := key{AccountID: accountID, StoreID: storeID}
	result := make([]ledger.Entry, len(m.entries[k]))
	copy(result, m.entries[k])
	return result, nil
}

func (m *Memory) Balance(_ context.Context, accountID ledger.AccountID, storeID ledger.StoreID) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var sum int64
	for _, e := range m.entries[key{AccountID: accountID, StoreID: storeID}] {
		sum += e.Points
	}
	return sum, nil
}

func (m *Memory) HasEarned(_ context.Context, identityKey string, storeID ledger.StoreID, reference string, day string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.earned[guardKey{Identity: identityKey, StoreID: storeID, Reference: reference, Day: day}], nil
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn within a transaction.
// For the memory store, this is simulated with a snapshot + rollback on error.
func (tm *TxMemory) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := tm.snapshot()

	txStore := &txMemoryView{parent: tm}
	if err := fn(txStore); err != nil {
		tm.restore(snapshot)
		return err
	}
	return nil
}

func (tm *TxMemory) snapshot() memorySnapshot {
	entriesCopy := make(map[key][]ledger.Entry)
	for k, v := range tm.entries {
		entriesCopy[k] = append([]ledger.Entry{}, v...)
	}
	earnedCopy := make(map[guardKey]bool)
	for k, v := range tm.earned {
		earnedCopy[k] = v
	}
	return memorySnapshot{entries: entriesCopy, earned: earnedCopy}
}

func (tm *TxMemory) restore(s memorySnapshot) {
	tm.entries = s.entries
	tm.earned = s.earned
}

type memorySnapshot struct {
	entries map[key][]ledger.Entry
	earned  map[guardKey]bool
}

// txMemoryView writes through to the parent while its lock is held,
// giving the fn read-your-write semantics.
type txMemoryView struct {
	parent *TxMemory
}

func (tv *txMemoryView) Append(_ context.Context, e ledger.Entry) error {
	return tv.parent.appendLocked(e)
}

func (tv *txMemoryView) Load(_ context.Context, accountID ledger.AccountID, storeID ledger.StoreID) ([]ledger.Entry, error) {
	k := key{AccountID: accountID, StoreID: storeID}
	return tv.parent.entries[k], nil
}

func (tv *txMemoryView) Balance(_ context.Context, accountID ledger.AccountID, storeID ledger.StoreID) (int64, error) {
	var sum int64
	for _, e := range tv.parent.entries[key{AccountID: accountID, StoreID: storeID}] {
		sum += e.Points
	}
	return sum, nil
}

func (tv *txMemoryView) HasEarned(_ context.Context, identityKey string, storeID ledger.StoreID, reference string, day string) (bool, error) {
	return tv.parent.earned[guardKey{Identity: identityKey, StoreID: storeID, Reference: reference, Day: day}], nil
}
