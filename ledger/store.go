/*
store.go - Persistence interface for ledger entries

PURPOSE:
  Defines the interface between the ledger engine and the database.
  The Store handles persistence while maintaining append-only semantics.
  Implementations exist for SQLite (production) and in-memory (testing).

APPEND-ONLY CONTRACT:
  The Store interface enforces append-only semantics:
  - Append(): Single entry write
  - NO Update() or Delete() methods exist
  Corrections are made via compensating entries, never edits.

DUPLICATE PROTECTION:
  HasEarned() answers "did this identity already earn for this reference
  on this day at this store?". The SQLite implementation backs it with a
  unique index so the existence check and the insert cannot race: two
  concurrent duplicate awards resolve to one row plus one ErrDuplicateAward.

TRANSACTIONS:
  TxStore.WithTx() runs a function against a transactional view. Approval
  uses this to make the balance re-check, redemption debit, and request
  status flip atomic.

SEE ALSO:
  - ledger.go: Higher-level interface using Store
  - store/memory.go: In-memory implementation
  - store/sqlite/sqlite.go: Production implementation
*/
package ledger

import "context"

// =============================================================================
// STORE - Entry persistence (append-only)
// =============================================================================

// Store handles persistence of ledger entries.
// IMPORTANT: Store is APPEND-ONLY. No Update, No Delete. Ever.
type Store interface {
	// Append persists one entry. This is the ONLY write operation.
	// Returns ErrDuplicateAward if the entry is an earning entry and the
	// (identity, store, reference, day) constraint already holds.
	Append(ctx context.Context, e Entry) error

	// Load returns all entries for account+store, ordered by creation time.
	Load(ctx context.Context, accountID AccountID, storeID StoreID) ([]Entry, error)

	// Balance returns the sum of all entry deltas for account+store.
	// 0 when no entries exist. Must reflect writes committed in the same
	// logical transaction (read-your-write).
	Balance(ctx context.Context, accountID AccountID, storeID StoreID) (int64, error)

	// HasEarned reports whether an earning entry already exists for
	// (identityKey, storeID, reference) on the given calendar day.
	HasEarned(ctx context.Context, identityKey string, storeID StoreID, reference string, day string) (bool, error)
}

// =============================================================================
// TRANSACTIONAL STORE - For atomic multi-step operations
// =============================================================================

// TxStore wraps Store with transaction support.
// Use this when several reads and writes must commit together
// (e.g., approving a redemption).
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, the transaction is rolled back.
	// If fn returns nil, the transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}
