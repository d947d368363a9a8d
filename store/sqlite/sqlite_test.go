/*
sqlite_test.go - Persistence-level tests

PURPOSE:
  Covers behavior only the real storage exhibits: timestamp encoding
  and read-back ordering of the entries history.
*/
package sqlite_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fixpoint/loyalty-engine/ledger"
	"github.com/fixpoint/loyalty-engine/store/sqlite"
)

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestLoad_SameSecondEntries_KeepAppendOrder(t *testing.T) {
	// GIVEN: Entries written fractions of a second apart, including one
	//        at an exact second and one whose fraction ends in zeros
	// WHEN: Loading the history
	// THEN: Entries read back in creation order

	store := newStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	offsets := []time.Duration{
		0,                      // exact second
		500 * time.Millisecond, // a trimmed ".5" would sort after ".52"
		520 * time.Millisecond,
		time.Second,
	}
	for i, off := range offsets {
		err := store.Append(ctx, ledger.Entry{
			ID:          ledger.EntryID(fmt.Sprintf("e-%d", i)),
			AccountID:   "acc-1",
			StoreID:     "store-1",
			Points:      1,
			Category:    ledger.CategoryBonus,
			Reference:   fmt.Sprintf("repair-%d", i),
			IdentityKey: "maria@example.com",
			CreatedAt:   base.Add(off),
		})
		require.NoError(t, err)
	}

	entries, err := store.Load(ctx, "acc-1", "store-1")
	require.NoError(t, err)
	require.Len(t, entries, len(offsets))
	for i, e := range entries {
		assert.Equal(t, ledger.EntryID(fmt.Sprintf("e-%d", i)), e.ID)
		assert.True(t, e.CreatedAt.Equal(base.Add(offsets[i])), "timestamp must round-trip exactly")
	}
}
