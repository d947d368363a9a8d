/*
ledger.go - Append-only points log

PURPOSE:
  The Ledger is the immutable source of truth for all point movements.
  Every award, bonus, and redemption debit is recorded here. Balance is
  always computed by summing entries - there is no separate "balance"
  column that can get out of sync.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: No Update, No Delete. EVER.
  2. IMMUTABLE: Once written, entries cannot be modified
  3. DERIVED BALANCE: Every read that gates eligibility recomputes the sum
  4. NON-ZERO: Zero-point entries are rejected before any write

WHY APPEND-ONLY?
  - Audit trail: You can always explain how a customer got to their balance
  - Correctness: Concurrent awards are inserts, not read-modify-write on a
    counter, so nothing is lost to a race
  - Financial integrity: A silently dropped or mutated entry is a money bug

SEE ALSO:
  - store.go: Low-level persistence interface
  - guard.go: Same-day duplicate protection
  - loyalty/award.go: Domain wrapper orchestrating guard + provisioning
*/
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// LEDGER - Append-only entry log
// =============================================================================

// Ledger is the source of truth for all point movements.
//
// INVARIANTS:
//   - Append-only: No Update, No Delete. EVER.
//   - Immutable: Once written, entries cannot be modified.
//   - Derived balance: Balance() replays entries, nothing is cached.
type Ledger interface {
	// Append records an entry. Rejects zero-point entries.
	// This is the ONLY write operation.
	Append(ctx context.Context, e Entry) (Entry, error)

	// Entries returns all entries for account+store, chronologically.
	// Read-only.
	Entries(ctx context.Context, accountID AccountID, storeID StoreID) ([]Entry, error)

	// Balance computes the derived balance for account+store.
	Balance(ctx context.Context, accountID AccountID, storeID StoreID) (int64, error)
}

// =============================================================================
// DEFAULT LEDGER - Implementation using Store
// =============================================================================

type DefaultLedger struct {
	Store Store
}

func New(store Store) *DefaultLedger {
	return &DefaultLedger{Store: store}
}

// Append validates and persists one entry, filling in ID and CreatedAt
// when the caller left them zero.
func (l *DefaultLedger) Append(ctx context.Context, e Entry) (Entry, error) {
	if e.Points == 0 {
		return Entry{}, ErrZeroPoints
	}
	if e.ID == "" {
		e.ID = EntryID(uuid.NewString())
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	if err := l.Store.Append(ctx, e); err != nil {
		return Entry{}, fmt.Errorf("failed to append entry: %w", err)
	}
	return e, nil
}

func (l *DefaultLedger) Entries(ctx context.Context, accountID AccountID, storeID StoreID) ([]Entry, error) {
	return l.Store.Load(ctx, accountID, storeID)
}

func (l *DefaultLedger) Balance(ctx context.Context, accountID AccountID, storeID StoreID) (int64, error) {
	return l.Store.Balance(ctx, accountID, storeID)
}
