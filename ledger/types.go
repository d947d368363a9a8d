/*
Package ledger provides the core points ledger engine.

PURPOSE:
  This package contains the tenant-agnostic types and algorithms for tracking
  loyalty points. Whether points come from a web form, an admin bonus grant,
  or a signed partner API call, the same engine handles entry recording,
  balance derivation, and duplicate protection.

KEY CONCEPTS IN THIS FILE (types.go):
  - Entry: An immutable record of a point change for (account, store)
  - Category: Why the points moved (bonus, signup, purchase, redemption)
  - Account/Store IDs: Type-safe identifiers
  - DayOf: The UTC calendar-day key used by the duplicate guard

DESIGN PRINCIPLES:
  1. Immutability: Entries are never updated or deleted
  2. Derived balance: Balance is always a sum over entries, never a stored
     counter that can drift
  3. Type Safety: Strong typing for IDs prevents mixing account/store IDs
  4. Auditability: Every entry carries category, reference, and creation time

USAGE:
  entry := ledger.Entry{
      AccountID: "acc-123",
      StoreID:   "store-1",
      Points:    2,
      Category:  ledger.CategoryBonus,
      Reference: "spring-campaign",
  }

SEE ALSO:
  - ledger.go: Append and balance derivation
  - guard.go: Same-day duplicate protection
  - store.go: Persistence interfaces
*/
package ledger

import (
	"time"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type AccountID string
type StoreID string
type EntryID string

// =============================================================================
// CATEGORY - Why points moved
// =============================================================================

type Category string

const (
	CategoryBonus      Category = "bonus"      // Admin grant or repair-bonus API
	CategorySignup     Category = "signup"     // Form submission / first contact
	CategoryPurchase   Category = "purchase"   // Invoice-linked earning
	CategoryRedemption Category = "redemption" // Points consumed by an approved reward
)

// Earning reports whether entries of this category add points.
// Only earning categories participate in duplicate-guard checks;
// a redemption may legitimately repeat a reference on the same day.
func (c Category) Earning() bool {
	return c != CategoryRedemption
}

// =============================================================================
// ENTRY - One immutable point movement
// =============================================================================

// Entry records a single signed point delta for (account, store).
// Positive deltas earn, negative deltas consume. Zero is rejected at append.
//
// IdentityKey is the duplicate-guard key resolved at award time: the
// account's lowercased email when known, otherwise a request-scoped
// fallback such as the source IP. Stored so the guard can run before
// account provisioning.
type Entry struct {
	ID          EntryID
	AccountID   AccountID
	StoreID     StoreID
	Points      int64
	Category    Category
	Reference   string
	IdentityKey string
	CreatedAt   time.Time
}

// =============================================================================
// DAY KEY - Calendar-day boundary for the duplicate guard
// =============================================================================

// DayOf truncates t to its UTC calendar day.
//
// The day boundary is pinned to UTC rather than store-local time: the guard
// exists to make retried award calls safe, and a fixed zone keeps the key
// independent of per-store configuration and server locale.
func DayOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// DayKey formats a day for storage and index comparison.
func DayKey(t time.Time) string {
	return DayOf(t).Format("2006-01-02")
}
