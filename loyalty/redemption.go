/*
redemption.go - Reward approval workflow

PURPOSE:
  The state machine tying a reward to one order, and the operator
  actions on it:

    none ──▶ pending ──▶ approved   (terminal)
                │            ▲
                ▼            │
             rejected ───────┘  (reconsideration)

  A rejection records "not yet", not "never": rejected requests can be
  approved later, which is why rejected is not terminal. Approved IS
  terminal - once a discount lands on an invoice this subsystem does
  not retract it.

LAZY MATERIALIZATION:
  Requests are created the first time an operator views an order whose
  account already meets the threshold. No background process creates
  them, so orders nobody completes never grow requests.

THE CRITICAL TRANSACTION:
  Approval re-reads the LIVE balance and writes the -threshold debit and
  the status flip inside one storage transaction. The snapshot captured
  at request creation is display metadata only - trusting it would let
  two operators double-spend the same points.

SEE ALSO:
  - reward/policy.go: Threshold evaluation and discount math
  - store/sqlite/sqlite.go: Transactional store with request access
*/
package loyalty

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fixpoint/loyalty-engine/account"
	"github.com/fixpoint/loyalty-engine/ledger"
	"github.com/fixpoint/loyalty-engine/reward"
)

// =============================================================================
// REDEMPTION REQUEST - The workflow subject
// =============================================================================

type RequestID string

type RequestStatus string

const (
	StatusPending  RequestStatus = "pending"
	StatusApproved RequestStatus = "approved"
	StatusRejected RequestStatus = "rejected"
)

type RedemptionRequest struct {
	ID        RequestID
	OrderID   string
	AccountID ledger.AccountID
	StoreID   ledger.StoreID

	// Balance at materialization time. Display only: approval always
	// re-checks the live balance.
	PointsSnapshot int64

	Status          RequestStatus
	RejectionReason string
	ResolvedBy      string

	CreatedAt  time.Time
	UpdatedAt  time.Time
	ApprovedAt *time.Time
}

// =============================================================================
// REQUEST STORE
// =============================================================================

// RequestStore persists redemption requests.
// UpdateRequest performs an optimistic status check: the write only lands
// if the stored status still equals expect, otherwise ErrRequestNotFound
// style conflict handling applies at the caller.
type RequestStore interface {
	GetRequest(ctx context.Context, id RequestID) (*RedemptionRequest, error)
	FindRequestByOrder(ctx context.Context, orderID string) (*RedemptionRequest, error)
	CreateRequest(ctx context.Context, r RedemptionRequest) error
	UpdateRequest(ctx context.Context, r RedemptionRequest, expect RequestStatus) error
	ListRequests(ctx context.Context, storeID ledger.StoreID, status RequestStatus) ([]RedemptionRequest, error)
}

// =============================================================================
// REDEMPTION SERVICE
// =============================================================================

type RedemptionService struct {
	Store    ledger.TxStore // must also implement RequestStore inside WithTx
	Requests RequestStore
	Accounts account.Store
	Policies PolicyStore
}

// GetOrCreateRequest lazily materializes a pending request for an order
// whose account balance already meets the threshold. Returns nil (no
// error) when the store has no policy or the account is not yet eligible.
// Subsequent calls return the existing request regardless of balance.
func (s *RedemptionService) GetOrCreateRequest(ctx context.Context, orderID string, accountID ledger.AccountID, storeID ledger.StoreID) (*RedemptionRequest, error) {
	existing, err := s.Requests.FindRequestByOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("request lookup failed: %w", err)
	}
	if existing != nil {
		return existing, nil
	}

	acc, err := s.Accounts.Get(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("account lookup failed: %w", err)
	}
	if acc == nil {
		return nil, ledger.ErrAccountNotFound
	}

	policy, err := s.Policies.Policy(ctx, storeID)
	if err != nil {
		return nil, err
	}
	if policy == nil {
		return nil, nil
	}

	balance, err := s.Store.Balance(ctx, accountID, storeID)
	if err != nil {
		return nil, fmt.Errorf("balance read failed: %w", err)
	}
	if !reward.Evaluate(balance, *policy).Eligible {
		return nil, nil
	}

	now := time.Now().UTC()
	r := RedemptionRequest{
		ID:             RequestID(uuid.NewString()),
		OrderID:        orderID,
		AccountID:      accountID,
		StoreID:        storeID,
		PointsSnapshot: balance,
		Status:         StatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.Requests.CreateRequest(ctx, r); err != nil {
		// Concurrent view of the same order: exactly one request results.
		winner, ferr := s.Requests.FindRequestByOrder(ctx, orderID)
		if ferr == nil && winner != nil {
			return winner, nil
		}
		return nil, fmt.Errorf("request creation failed: %w", err)
	}
	return &r, nil
}

// Approve transitions pending or rejected to approved, debiting the
// threshold from the ledger. The live balance check, the debit, and the
// status flip commit atomically; a debit without a recorded approval (or
// vice versa) cannot occur.
func (s *RedemptionService) Approve(ctx context.Context, requestID RequestID, approver string) (*RedemptionRequest, error) {
	var approved *RedemptionRequest

	err := s.Store.WithTx(ctx, func(tx ledger.Store) error {
		requests, ok := tx.(RequestStore)
		if !ok {
			return fmt.Errorf("store does not support request access in transactions")
		}

		req, err := requests.GetRequest(ctx, requestID)
		if err != nil {
			return err
		}
		if req == nil {
			return ledger.ErrRequestNotFound
		}
		if req.Status == StatusApproved {
			return ledger.ErrAlreadyApproved
		}
		prior := req.Status

		// Read the policy through the transaction when the store exposes
		// it there; going back to the outer store would re-enter its lock.
		policies := s.Policies
		if p, ok := tx.(PolicyStore); ok {
			policies = p
		}
		policy, err := policies.Policy(ctx, req.StoreID)
		if err != nil {
			return err
		}
		if policy == nil {
			return ledger.ErrPolicyNotFound
		}

		// Re-check the LIVE balance inside the transaction. The snapshot
		// may be stale: points can have been spent elsewhere since review.
		balance, err := tx.Balance(ctx, req.AccountID, req.StoreID)
		if err != nil {
			return fmt.Errorf("balance check failed: %w", err)
		}
		if balance < policy.Threshold {
			return &ledger.InsufficientBalanceError{
				AccountID: req.AccountID,
				StoreID:   req.StoreID,
				Available: balance,
				Required:  policy.Threshold,
			}
		}

		if policy.Threshold > 0 {
			debit := ledger.Entry{
				ID:          ledger.EntryID(uuid.NewString()),
				AccountID:   req.AccountID,
				StoreID:     req.StoreID,
				Points:      -policy.Threshold,
				Category:    ledger.CategoryRedemption,
				Reference:   req.OrderID,
				IdentityKey: string(req.AccountID),
				CreatedAt:   time.Now().UTC(),
			}
			if err := tx.Append(ctx, debit); err != nil {
				return fmt.Errorf("redemption debit failed: %w", err)
			}
		}

		now := time.Now().UTC()
		req.Status = StatusApproved
		req.ResolvedBy = approver
		req.RejectionReason = ""
		req.UpdatedAt = now
		req.ApprovedAt = &now

		// Optimistic check on the prior status: a concurrent approval that
		// committed first makes this update miss and roll everything back.
		if err := requests.UpdateRequest(ctx, *req, prior); err != nil {
			return fmt.Errorf("status update failed: %w", err)
		}

		approved = req
		return nil
	})
	if err != nil {
		return nil, err
	}
	return approved, nil
}

// Reject transitions pending (or rejected, refreshing the reason) to
// rejected. Requires a non-empty reason; points are NOT spent on
// rejection, so no ledger write happens.
func (s *RedemptionService) Reject(ctx context.Context, requestID RequestID, approver, reason string) (*RedemptionRequest, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, ledger.ErrEmptyReason
	}

	req, err := s.Requests.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req == nil {
		return nil, ledger.ErrRequestNotFound
	}
	if req.Status == StatusApproved {
		return nil, ledger.ErrAlreadyApproved
	}
	prior := req.Status

	req.Status = StatusRejected
	req.RejectionReason = reason
	req.ResolvedBy = approver
	req.UpdatedAt = time.Now().UTC()

	if err := s.Requests.UpdateRequest(ctx, *req, prior); err != nil {
		return nil, fmt.Errorf("status update failed: %w", err)
	}
	return req, nil
}
