/*
award.go - The idempotent point-awarding entry point

PURPOSE:
  Orchestrates one award: validate → duplicate guard → account
  provisioning → ledger append → notification decisions. Usable by the
  admin UI, the public form handler, and the signed partner bonus API -
  all three must see idempotent behavior so retries are safe.

AWARD FLOW:
  1. Validate points (non-zero) and email format
  2. Resolve the guard identity (lowercased email)
  3. Guard check: already awarded today for this reference?
     -> yes: no-op success {awarded:0, total:<current>, duplicate:true}
  4. Get-or-create the account (first-time emails get credentials)
  5. Append the entry and read the new balance in one transaction
  6. Emit welcome / points-earned / reward-available notifications

RACE CLOSING:
  Step 3 is a cheap pre-check; the storage unique index on
  (identity, store, reference, day) is what actually closes the race.
  A concurrent duplicate that slips past step 3 fails its insert with
  ErrDuplicateAward and is converted to the same no-op success.

SEE ALSO:
  - ledger/guard.go: Identity resolution and day boundary
  - account/account.go: Provisioning semantics
*/
package loyalty

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fixpoint/loyalty-engine/account"
	"github.com/fixpoint/loyalty-engine/ledger"
	"github.com/fixpoint/loyalty-engine/reward"
)

// =============================================================================
// POLICY SOURCE
// =============================================================================

// PolicyStore supplies the per-store reward configuration.
// Returns (nil, nil) when the store has no policy configured.
type PolicyStore interface {
	Policy(ctx context.Context, storeID ledger.StoreID) (*reward.Policy, error)
}

// =============================================================================
// AWARD SERVICE
// =============================================================================

type AwardService struct {
	Store    ledger.TxStore
	Accounts *account.Provisioner
	Guard    *ledger.DuplicateGuard
	Policies PolicyStore // optional, enables reward-available notifications
	Notifier Notifier    // optional
}

// AwardRequest is the validated input for one award.
type AwardRequest struct {
	Email     string
	Name      string
	StoreID   ledger.StoreID
	Points    int64
	Category  ledger.Category
	Reference string
}

// AwardResult mirrors the award contract: Awarded is what this call
// credited (0 on duplicate), Total the derived balance afterwards.
type AwardResult struct {
	Awarded   int64
	Total     int64
	Duplicate bool
	Account   account.Account
	IsNew     bool
}

// Award performs one idempotent point award.
func (s *AwardService) Award(ctx context.Context, req AwardRequest) (AwardResult, error) {
	if req.Points == 0 {
		return AwardResult{}, ledger.ErrZeroPoints
	}
	if req.Category == "" {
		req.Category = ledger.CategoryBonus
	}

	email, err := account.NormalizeEmail(req.Email)
	if err != nil {
		return AwardResult{}, err
	}
	identity := ledger.IdentityKey(email)
	now := time.Now().UTC()

	// Pre-check: answer obvious duplicates without provisioning or writing.
	if req.Category.Earning() {
		dup, err := s.Guard.AlreadyAwarded(ctx, identity, req.StoreID, req.Reference, now)
		if err != nil {
			return AwardResult{}, fmt.Errorf("duplicate guard check failed: %w", err)
		}
		if dup {
			return s.duplicateResult(ctx, email, req.StoreID)
		}
	}

	prov, err := s.Accounts.GetOrCreate(ctx, email, req.Name)
	if err != nil {
		return AwardResult{}, err
	}

	entry := ledger.Entry{
		ID:          ledger.EntryID(uuid.NewString()),
		AccountID:   prov.Account.ID,
		StoreID:     req.StoreID,
		Points:      req.Points,
		Category:    req.Category,
		Reference:   req.Reference,
		IdentityKey: identity,
		CreatedAt:   now,
	}

	// Append and read the resulting balance in one transaction so Total
	// reflects this write (read-your-write).
	var total int64
	err = s.Store.WithTx(ctx, func(tx ledger.Store) error {
		if err := tx.Append(ctx, entry); err != nil {
			return err
		}
		total, err = tx.Balance(ctx, prov.Account.ID, req.StoreID)
		return err
	})
	if errors.Is(err, ledger.ErrDuplicateAward) {
		// Lost the race against a concurrent identical award.
		return s.duplicateResult(ctx, email, req.StoreID)
	}
	if err != nil {
		return AwardResult{}, fmt.Errorf("award failed: %w", err)
	}

	s.notifyAward(ctx, prov, req, total)

	return AwardResult{
		Awarded:   req.Points,
		Total:     total,
		Duplicate: false,
		Account:   prov.Account,
		IsNew:     prov.IsNew,
	}, nil
}

// duplicateResult builds the no-op success for a repeated award.
// The balance is whatever the first award left. The first award
// provisioned the account, so the lookup is expected to find it.
func (s *AwardService) duplicateResult(ctx context.Context, email string, storeID ledger.StoreID) (AwardResult, error) {
	res := AwardResult{Duplicate: true}

	acc, err := s.Accounts.Store.FindByEmail(ctx, email)
	if err != nil {
		return AwardResult{}, fmt.Errorf("account lookup failed: %w", err)
	}
	if acc != nil {
		res.Account = *acc
		res.Total, err = s.Store.Balance(ctx, acc.ID, storeID)
		if err != nil {
			return AwardResult{}, fmt.Errorf("balance read failed: %w", err)
		}
	}
	return res, nil
}

// notifyAward emits the post-award notifications. Failures are dropped:
// the points are already committed and delivery is best-effort.
func (s *AwardService) notifyAward(ctx context.Context, prov account.Result, req AwardRequest, total int64) {
	if s.Notifier == nil {
		return
	}

	if prov.IsNew {
		_ = s.Notifier.Notify(ctx, Notification{
			Kind:          NotifyWelcome,
			Account:       prov.Account,
			StoreID:       req.StoreID,
			InitialSecret: prov.InitialSecret,
		})
	}

	_ = s.Notifier.Notify(ctx, Notification{
		Kind:    NotifyPointsEarned,
		Account: prov.Account,
		StoreID: req.StoreID,
		Points:  req.Points,
		Balance: total,
	})

	if s.Policies == nil {
		return
	}
	policy, err := s.Policies.Policy(ctx, req.StoreID)
	if err != nil || policy == nil {
		return
	}
	// Only announce on the crossing award, not on every award past it.
	crossed := reward.Evaluate(total, *policy).Eligible &&
		!reward.Evaluate(total-req.Points, *policy).Eligible
	if crossed {
		_ = s.Notifier.Notify(ctx, Notification{
			Kind:       NotifyRewardAvailable,
			Account:    prov.Account,
			StoreID:    req.StoreID,
			Balance:    total,
			RewardName: policy.Name,
		})
	}
}

// =============================================================================
// ELIGIBILITY READ
// =============================================================================

// Eligibility re-derives the balance and evaluates it against the store's
// policy. Never cached: balances change between evaluations.
func (s *AwardService) Eligibility(ctx context.Context, accountID ledger.AccountID, storeID ledger.StoreID) (reward.Eligibility, error) {
	if s.Policies == nil {
		return reward.Eligibility{}, ledger.ErrPolicyNotFound
	}
	policy, err := s.Policies.Policy(ctx, storeID)
	if err != nil {
		return reward.Eligibility{}, err
	}
	if policy == nil {
		return reward.Eligibility{}, ledger.ErrPolicyNotFound
	}

	balance, err := s.Store.Balance(ctx, accountID, storeID)
	if err != nil {
		return reward.Eligibility{}, fmt.Errorf("balance read failed: %w", err)
	}
	return reward.Evaluate(balance, *policy), nil
}
