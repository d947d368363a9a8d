package ledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fixpoint/loyalty-engine/ledger"
	memstore "github.com/fixpoint/loyalty-engine/ledger/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestLedger() (*ledger.DefaultLedger, *memstore.Memory) {
	mem := memstore.NewMemory()
	return ledger.New(mem), mem
}

func bonusEntry(account, store string, points int64, reference string) ledger.Entry {
	return ledger.Entry{
		AccountID:   ledger.AccountID(account),
		StoreID:     ledger.StoreID(store),
		Points:      points,
		Category:    ledger.CategoryBonus,
		Reference:   reference,
		IdentityKey: account + "@example.com",
	}
}

// =============================================================================
// APPEND / BALANCE
// =============================================================================

func TestLedger_Append_DerivedBalance(t *testing.T) {
	// GIVEN: An empty ledger
	// WHEN: Two earning entries are appended for the same (account, store)
	// THEN: Balance is their sum, derived from the entries

	l, _ := newTestLedger()
	ctx := context.Background()

	_, err := l.Append(ctx, bonusEntry("acc-1", "store-1", 2, "form"))
	require.NoError(t, err)
	_, err = l.Append(ctx, bonusEntry("acc-1", "store-1", 3, "repair-77"))
	require.NoError(t, err)

	balance, err := l.Balance(ctx, "acc-1", "store-1")
	require.NoError(t, err)
	assert.Equal(t, int64(5), balance)
}

func TestLedger_Append_FillsIDAndTimestamp(t *testing.T) {
	l, _ := newTestLedger()

	e, err := l.Append(context.Background(), bonusEntry("acc-1", "store-1", 1, "form"))
	require.NoError(t, err)
	assert.NotEmpty(t, e.ID)
	assert.False(t, e.CreatedAt.IsZero())
}

func TestLedger_Append_ZeroPoints_Rejected(t *testing.T) {
	// GIVEN: An entry with a zero delta
	// WHEN: Appending
	// THEN: Rejected before any write

	l, _ := newTestLedger()

	_, err := l.Append(context.Background(), bonusEntry("acc-1", "store-1", 0, "form"))
	assert.ErrorIs(t, err, ledger.ErrZeroPoints)

	balance, err := l.Balance(context.Background(), "acc-1", "store-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), balance)
}

func TestLedger_Balance_EmptyIsZero(t *testing.T) {
	l, _ := newTestLedger()

	balance, err := l.Balance(context.Background(), "nobody", "store-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), balance)
}

func TestLedger_Balance_IsolatedPerStore(t *testing.T) {
	// GIVEN: The same account earning at two stores
	// THEN: Balances do not bleed across stores

	l, _ := newTestLedger()
	ctx := context.Background()

	_, err := l.Append(ctx, bonusEntry("acc-1", "store-1", 4, "form"))
	require.NoError(t, err)
	_, err = l.Append(ctx, bonusEntry("acc-1", "store-2", 9, "form"))
	require.NoError(t, err)

	b1, _ := l.Balance(ctx, "acc-1", "store-1")
	b2, _ := l.Balance(ctx, "acc-1", "store-2")
	assert.Equal(t, int64(4), b1)
	assert.Equal(t, int64(9), b2)
}

func TestLedger_Entries_OnlyGrow(t *testing.T) {
	// Monotonic ledger: appends only ever add entries.

	l, _ := newTestLedger()
	ctx := context.Background()

	_, err := l.Append(ctx, bonusEntry("acc-1", "store-1", 2, "a"))
	require.NoError(t, err)
	first, err := l.Entries(ctx, "acc-1", "store-1")
	require.NoError(t, err)

	_, err = l.Append(ctx, bonusEntry("acc-1", "store-1", 3, "b"))
	require.NoError(t, err)
	second, err := l.Entries(ctx, "acc-1", "store-1")
	require.NoError(t, err)

	assert.Len(t, first, 1)
	assert.Len(t, second, 2)
	assert.Equal(t, first[0].ID, second[0].ID, "existing entries must be untouched")
	assert.Equal(t, first[0].Points, second[0].Points)
}

// =============================================================================
// DUPLICATE GUARD
// =============================================================================

func TestGuard_AlreadyAwarded_SameDaySameReference(t *testing.T) {
	// GIVEN: An earning entry for (identity, store, reference) today
	// WHEN: Checking the guard for the same tuple
	// THEN: AlreadyAwarded is true

	l, mem := newTestLedger()
	guard := ledger.NewGuard(mem)
	ctx := context.Background()

	_, err := l.Append(ctx, bonusEntry("acc-1", "store-1", 2, "form"))
	require.NoError(t, err)

	dup, err := guard.AlreadyAwarded(ctx, "acc-1@example.com", "store-1", "form", time.Now())
	require.NoError(t, err)
	assert.True(t, dup)
}

func TestGuard_DifferentReference_NotDuplicate(t *testing.T) {
	l, mem := newTestLedger()
	guard := ledger.NewGuard(mem)
	ctx := context.Background()

	_, err := l.Append(ctx, bonusEntry("acc-1", "store-1", 2, "form"))
	require.NoError(t, err)

	dup, err := guard.AlreadyAwarded(ctx, "acc-1@example.com", "store-1", "repair-77", time.Now())
	require.NoError(t, err)
	assert.False(t, dup)
}

func TestGuard_StoreRejectsConcurrentDuplicate(t *testing.T) {
	// Even when the existence check is skipped, the store's uniqueness
	// layer stops the second insert. This is the race-closing layer.

	_, mem := newTestLedger()
	ctx := context.Background()

	e := bonusEntry("acc-1", "store-1", 2, "form")
	e.CreatedAt = time.Now().UTC()
	require.NoError(t, mem.Append(ctx, e))

	e2 := bonusEntry("acc-1", "store-1", 2, "form")
	e2.CreatedAt = time.Now().UTC()
	err := mem.Append(ctx, e2)
	assert.ErrorIs(t, err, ledger.ErrDuplicateAward)
}

func TestGuard_RedemptionEntriesBypassGuard(t *testing.T) {
	// Redemption debits may repeat a reference on the same day; only
	// earning categories participate in the guard.

	_, mem := newTestLedger()
	ctx := context.Background()

	debit := ledger.Entry{
		AccountID:   "acc-1",
		StoreID:     "store-1",
		Points:      -4,
		Category:    ledger.CategoryRedemption,
		Reference:   "order-9",
		IdentityKey: "acc-1@example.com",
		CreatedAt:   time.Now().UTC(),
	}
	require.NoError(t, mem.Append(ctx, debit))
	debit.Points = -1
	assert.NoError(t, mem.Append(ctx, debit))
}

// =============================================================================
// IDENTITY KEY & DAY BOUNDARY
// =============================================================================

func TestIdentityKey_NormalizesEmail(t *testing.T) {
	assert.Equal(t, "new@x.com", ledger.IdentityKey(" New@X.com "))
	assert.Equal(t, "new@x.com", ledger.IdentityKey("NEW@X.COM"))
}

func TestDayOf_UTCBoundary(t *testing.T) {
	// 23:30 in UTC-5 is 04:30 next day UTC; the guard day is the UTC day.
	est := time.FixedZone("EST", -5*3600)
	at := time.Date(2025, time.March, 10, 23, 30, 0, 0, est)

	assert.Equal(t, "2025-03-11", ledger.DayKey(at))
	assert.Equal(t, time.Date(2025, time.March, 11, 0, 0, 0, 0, time.UTC), ledger.DayOf(at))
}
