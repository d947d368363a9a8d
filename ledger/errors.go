/*
errors.go - Centralized error types for the ledger engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Domain packages wrap these errors with additional context.

ERROR CATEGORIES:
  1. Argument errors - Rejected before any write, safe to retry corrected
  2. State errors - Business rule violations (balance, workflow state)
  3. Not-found errors - Unknown account/request/policy ids
  4. Persistence errors - Storage failures, never silently swallowed

USAGE:
  Callers classify with errors.Is:

    if errors.Is(err, ledger.ErrInsufficientBalance) {
        // surface "balance changed since review" to the operator
    }

SEE ALSO:
  - ledger.go: Uses these errors
  - loyalty/redemption.go: Raises InsufficientBalanceError inside approval
*/
package ledger

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrZeroPoints is returned when an entry carries a zero delta.
	// A zero-point entry records nothing and is rejected before any write.
	ErrZeroPoints = errors.New("entry points must be non-zero")

	// ErrInvalidEmail is returned when an address fails format validation.
	ErrInvalidEmail = errors.New("invalid email address")

	// ErrEmptyReason is returned when a rejection carries no reason text.
	ErrEmptyReason = errors.New("rejection reason must not be empty")

	// ErrDuplicateAward is returned by the store when the same-day award
	// constraint trips. Callers translate this into a no-op success so
	// external retries stay safe; it is never surfaced to API clients.
	ErrDuplicateAward = errors.New("duplicate award for identity/store/reference/day")

	// ErrInsufficientBalance is returned when an approval would drive the
	// balance below zero.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrAlreadyApproved is returned when transitioning an approved request.
	// Approved is terminal: an applied discount is not retracted here.
	ErrAlreadyApproved = errors.New("redemption request already approved")

	// ErrConcurrentModification is returned when an optimistic status check
	// detects that another operator resolved the request first.
	ErrConcurrentModification = errors.New("request was modified concurrently")

	// ErrAccountNotFound is returned when a referenced account doesn't exist.
	ErrAccountNotFound = errors.New("account not found")

	// ErrRequestNotFound is returned when a redemption request doesn't exist.
	ErrRequestNotFound = errors.New("redemption request not found")

	// ErrPolicyNotFound is returned when a store has no reward policy.
	ErrPolicyNotFound = errors.New("reward policy not found")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientBalanceError reports exactly which invariant was at risk so an
// operator can re-check before retrying.
type InsufficientBalanceError struct {
	AccountID AccountID
	StoreID   StoreID
	Available int64
	Required  int64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: account %s has %d points at store %s, approval requires %d",
		e.AccountID, e.Available, e.StoreID, e.Required)
}

func (e *InsufficientBalanceError) Unwrap() error {
	return ErrInsufficientBalance
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input
// or a state the client can act on.
func IsClientError(err error) bool {
	return errors.Is(err, ErrZeroPoints) ||
		errors.Is(err, ErrInvalidEmail) ||
		errors.Is(err, ErrEmptyReason) ||
		errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrAlreadyApproved) ||
		errors.Is(err, ErrConcurrentModification)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrAccountNotFound) ||
		errors.Is(err, ErrRequestNotFound) ||
		errors.Is(err, ErrPolicyNotFound)
}
