/*
award_test.go - Award service tests

PURPOSE:
  Exercises the full award flow against the real sqlite store:
  first-time provisioning, same-day idempotency, notification
  decisions, and the eligibility read.
*/
package loyalty_test

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fixpoint/loyalty-engine/account"
	"github.com/fixpoint/loyalty-engine/ledger"
	"github.com/fixpoint/loyalty-engine/loyalty"
	"github.com/fixpoint/loyalty-engine/reward"
	"github.com/fixpoint/loyalty-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func newAwardService(store *sqlite.Store, n loyalty.Notifier) *loyalty.AwardService {
	return &loyalty.AwardService{
		Store:    store,
		Accounts: account.NewProvisioner(store),
		Guard:    ledger.NewGuard(store),
		Policies: store,
		Notifier: n,
	}
}

func savePolicy(t *testing.T, store *sqlite.Store, storeID string, threshold int64) {
	t.Helper()
	err := store.SavePolicy(context.Background(), reward.Policy{
		StoreID:   storeID,
		Threshold: threshold,
		Kind:      reward.KindPercentage,
		Magnitude: decimal.NewFromInt(15),
		Name:      "15% off next repair",
	})
	require.NoError(t, err)
}

// recordingNotifier captures every notification for assertions.
type recordingNotifier struct {
	mu   sync.Mutex
	sent []loyalty.Notification
}

func (r *recordingNotifier) Notify(_ context.Context, n loyalty.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
	return nil
}

func (r *recordingNotifier) kinds() []loyalty.NotificationKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	kinds := make([]loyalty.NotificationKind, 0, len(r.sent))
	for _, n := range r.sent {
		kinds = append(kinds, n.Kind)
	}
	return kinds
}

func bonusRequest(email, storeID string, points int64, reference string) loyalty.AwardRequest {
	return loyalty.AwardRequest{
		Email:     email,
		StoreID:   ledger.StoreID(storeID),
		Points:    points,
		Category:  ledger.CategoryBonus,
		Reference: reference,
	}
}

// =============================================================================
// FIRST AWARD / PROVISIONING
// =============================================================================

func TestAward_FirstAward_CreatesAccount(t *testing.T) {
	// GIVEN: No account exists for the email
	// WHEN: An award of 2 points lands
	// THEN: The account is provisioned, the points credited, and a
	//       welcome notification carries the one-time secret

	store := newTestStore(t)
	notifier := &recordingNotifier{}
	svc := newAwardService(store, notifier)
	ctx := context.Background()

	res, err := svc.Award(ctx, bonusRequest("maria@example.com", "store-1", 2, "signup-form"))
	require.NoError(t, err)

	assert.Equal(t, int64(2), res.Awarded)
	assert.Equal(t, int64(2), res.Total)
	assert.False(t, res.Duplicate)
	assert.True(t, res.IsNew)
	assert.Equal(t, "maria@example.com", res.Account.Email)
	assert.Equal(t, "maria", res.Account.Name, "name defaults to the email local part")
	assert.NotEmpty(t, res.Account.Token)

	require.Equal(t, []loyalty.NotificationKind{loyalty.NotifyWelcome, loyalty.NotifyPointsEarned}, notifier.kinds())
	assert.NotEmpty(t, notifier.sent[0].InitialSecret, "welcome must deliver the one-time secret")
	assert.Equal(t, int64(2), notifier.sent[1].Balance)
}

func TestAward_ExistingAccount_NoNewCredentials(t *testing.T) {
	// GIVEN: An account already exists for the email
	// WHEN: A second award lands with a different reference
	// THEN: No welcome notification, the balance accumulates

	store := newTestStore(t)
	notifier := &recordingNotifier{}
	svc := newAwardService(store, notifier)
	ctx := context.Background()

	_, err := svc.Award(ctx, bonusRequest("maria@example.com", "store-1", 2, "signup-form"))
	require.NoError(t, err)

	res, err := svc.Award(ctx, bonusRequest("maria@example.com", "store-1", 3, "repair-77"))
	require.NoError(t, err)

	assert.Equal(t, int64(3), res.Awarded)
	assert.Equal(t, int64(5), res.Total)
	assert.False(t, res.IsNew)
	assert.NotContains(t, notifier.kinds()[2:], loyalty.NotifyWelcome)
}

// =============================================================================
// DUPLICATE GUARD
// =============================================================================

func TestAward_SameDaySameReference_IsNoOpSuccess(t *testing.T) {
	// GIVEN: An award already landed today for this identity/store/reference
	// WHEN: The identical award is retried
	// THEN: Success with {awarded:0, duplicate:true} and no second entry

	store := newTestStore(t)
	svc := newAwardService(store, nil)
	ctx := context.Background()

	first, err := svc.Award(ctx, bonusRequest("maria@example.com", "store-1", 2, "signup-form"))
	require.NoError(t, err)
	require.Equal(t, int64(2), first.Total)

	second, err := svc.Award(ctx, bonusRequest("maria@example.com", "store-1", 2, "signup-form"))
	require.NoError(t, err, "a duplicate is a success, never an error")

	assert.Equal(t, int64(0), second.Awarded)
	assert.Equal(t, int64(2), second.Total)
	assert.True(t, second.Duplicate)

	entries, err := store.Load(ctx, first.Account.ID, "store-1")
	require.NoError(t, err)
	assert.Len(t, entries, 1, "the duplicate must not append a second entry")
}

func TestAward_CaseInsensitiveEmail_StillDuplicate(t *testing.T) {
	// GIVEN: An award landed for maria@example.com
	// WHEN: The same award retries as MARIA@EXAMPLE.COM
	// THEN: The guard matches on the lowercased identity

	store := newTestStore(t)
	svc := newAwardService(store, nil)
	ctx := context.Background()

	_, err := svc.Award(ctx, bonusRequest("maria@example.com", "store-1", 2, "signup-form"))
	require.NoError(t, err)

	res, err := svc.Award(ctx, bonusRequest("MARIA@EXAMPLE.COM", "store-1", 2, "signup-form"))
	require.NoError(t, err)
	assert.True(t, res.Duplicate)
	assert.Equal(t, int64(2), res.Total)
}

func TestAward_DifferentReference_SameDay_Accumulates(t *testing.T) {
	// GIVEN: Two awards today with distinct references
	// WHEN: Both land
	// THEN: Both credit - the guard keys on the reference too

	store := newTestStore(t)
	svc := newAwardService(store, nil)
	ctx := context.Background()

	_, err := svc.Award(ctx, bonusRequest("maria@example.com", "store-1", 2, "repair-76"))
	require.NoError(t, err)

	res, err := svc.Award(ctx, bonusRequest("maria@example.com", "store-1", 2, "repair-77"))
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
	assert.Equal(t, int64(4), res.Total)
}

func TestAward_SameReference_DifferentStore_Accumulates(t *testing.T) {
	// GIVEN: The same email and reference at two stores
	// WHEN: Both awards land
	// THEN: Each store keeps its own balance

	store := newTestStore(t)
	svc := newAwardService(store, nil)
	ctx := context.Background()

	a, err := svc.Award(ctx, bonusRequest("maria@example.com", "store-1", 2, "signup-form"))
	require.NoError(t, err)
	b, err := svc.Award(ctx, bonusRequest("maria@example.com", "store-2", 2, "signup-form"))
	require.NoError(t, err)

	assert.False(t, b.Duplicate)
	assert.Equal(t, int64(2), a.Total)
	assert.Equal(t, int64(2), b.Total)
}

// =============================================================================
// VALIDATION
// =============================================================================

func TestAward_ZeroPoints_Rejected(t *testing.T) {
	store := newTestStore(t)
	svc := newAwardService(store, nil)

	_, err := svc.Award(context.Background(), bonusRequest("maria@example.com", "store-1", 0, "signup-form"))
	assert.ErrorIs(t, err, ledger.ErrZeroPoints)
}

func TestAward_InvalidEmail_Rejected(t *testing.T) {
	store := newTestStore(t)
	svc := newAwardService(store, nil)
	ctx := context.Background()

	for _, email := range []string{"", "not-an-email", "a b@example.com"} {
		_, err := svc.Award(ctx, bonusRequest(email, "store-1", 2, "signup-form"))
		assert.ErrorIs(t, err, ledger.ErrInvalidEmail, "email %q", email)
	}
}

// =============================================================================
// REWARD NOTIFICATIONS
// =============================================================================

func TestAward_CrossingThreshold_NotifiesOnce(t *testing.T) {
	// GIVEN: A 4-point threshold and a 2-point balance
	// WHEN: Awards push the balance to 4, then past it
	// THEN: reward_available fires on the crossing award only

	store := newTestStore(t)
	savePolicy(t, store, "store-1", 4)
	notifier := &recordingNotifier{}
	svc := newAwardService(store, notifier)
	ctx := context.Background()

	_, err := svc.Award(ctx, bonusRequest("maria@example.com", "store-1", 2, "repair-76"))
	require.NoError(t, err)
	_, err = svc.Award(ctx, bonusRequest("maria@example.com", "store-1", 2, "repair-77"))
	require.NoError(t, err)
	_, err = svc.Award(ctx, bonusRequest("maria@example.com", "store-1", 2, "repair-78"))
	require.NoError(t, err)

	available := 0
	for _, n := range notifier.sent {
		if n.Kind == loyalty.NotifyRewardAvailable {
			available++
			assert.Equal(t, int64(4), n.Balance)
			assert.Equal(t, "15% off next repair", n.RewardName)
		}
	}
	assert.Equal(t, 1, available, "only the crossing award announces the reward")
}

// =============================================================================
// ELIGIBILITY READ
// =============================================================================

func TestEligibility_ReportsShortfall(t *testing.T) {
	// GIVEN: A 4-point threshold and a 2-point balance
	// WHEN: Eligibility is evaluated
	// THEN: Not eligible, 2 more points needed

	store := newTestStore(t)
	savePolicy(t, store, "store-1", 4)
	svc := newAwardService(store, nil)
	ctx := context.Background()

	res, err := svc.Award(ctx, bonusRequest("maria@example.com", "store-1", 2, "signup-form"))
	require.NoError(t, err)

	elig, err := svc.Eligibility(ctx, res.Account.ID, "store-1")
	require.NoError(t, err)
	assert.False(t, elig.Eligible)
	assert.Equal(t, int64(2), elig.Shortfall)

	_, err = svc.Award(ctx, bonusRequest("maria@example.com", "store-1", 2, "repair-77"))
	require.NoError(t, err)

	elig, err = svc.Eligibility(ctx, res.Account.ID, "store-1")
	require.NoError(t, err)
	assert.True(t, elig.Eligible)
	assert.Equal(t, int64(0), elig.Shortfall)
}

func TestEligibility_NoPolicy(t *testing.T) {
	store := newTestStore(t)
	svc := newAwardService(store, nil)

	_, err := svc.Eligibility(context.Background(), "acc-1", "store-without-policy")
	assert.ErrorIs(t, err, ledger.ErrPolicyNotFound)
}
