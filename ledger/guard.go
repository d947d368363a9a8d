/*
guard.go - At-most-one-award-per-day protection

PURPOSE:
  Prevents the same earning event from being credited twice. A retried
  form submission or a replayed partner API call must not double-award:
  the second attempt is answered as a no-op success, never an error.

KEY: (identity, store, reference, UTC day)
  The identity is the lowercased email. Every award carries one, so the
  guard can run before the account is provisioned.

TWO LAYERS:
  1. AlreadyAwarded(): a cheap existence query, used to answer duplicates
     without attempting a write.
  2. The storage unique index on (identity, store, reference, day) for
     earning entries. This is the load-bearing layer: two concurrent
     duplicates both pass the query, but only one insert commits; the
     loser gets ErrDuplicateAward and is converted to the same no-op.

SEE ALSO:
  - store.go: HasEarned() existence query
  - loyalty/award.go: Converts ErrDuplicateAward into {awarded:0, duplicate:true}
*/
package ledger

import (
	"context"
	"strings"
	"time"
)

// =============================================================================
// IDENTITY KEY RESOLUTION
// =============================================================================

// IdentityKey resolves the duplicate-guard identity: the lowercased,
// trimmed email. Independent of any account id so the guard can run
// before provisioning.
func IdentityKey(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// =============================================================================
// DUPLICATE GUARD
// =============================================================================

type DuplicateGuard struct {
	Store Store
}

func NewGuard(store Store) *DuplicateGuard {
	return &DuplicateGuard{Store: store}
}

// AlreadyAwarded reports whether an earning entry with the same reference
// exists for this identity/store on the given calendar day (UTC boundary,
// see DayOf).
//
// A true result means the caller must treat the attempted award as a
// no-op success, not an error.
func (g *DuplicateGuard) AlreadyAwarded(ctx context.Context, identityKey string, storeID StoreID, reference string, on time.Time) (bool, error) {
	return g.Store.HasEarned(ctx, identityKey, storeID, reference, DayKey(on))
}
