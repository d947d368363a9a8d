/*
notify.go - Notification decisions

PURPOSE:
  This core decides THAT a notification is due and WHAT it should carry;
  delivery (email or otherwise) belongs to the deployment. The Notifier
  is an optional collaborator: a nil-safe no-op by default, the same
  pattern as an optional audit log.

NOTIFICATIONS EMITTED:
  welcome:          First-time account, carries the one-time credentials
  points_earned:    Confirmation after a successful (non-duplicate) award
  reward_available: The award pushed the balance over the threshold

Delivery failures never fail the award: points are committed first and a
lost email is recoverable, a lost ledger entry is not.
*/
package loyalty

import (
	"context"

	"github.com/fixpoint/loyalty-engine/account"
	"github.com/fixpoint/loyalty-engine/ledger"
)

// =============================================================================
// NOTIFICATION PAYLOADS
// =============================================================================

type NotificationKind string

const (
	NotifyWelcome         NotificationKind = "welcome"
	NotifyPointsEarned    NotificationKind = "points_earned"
	NotifyRewardAvailable NotificationKind = "reward_available"
)

type Notification struct {
	Kind    NotificationKind
	Account account.Account
	StoreID ledger.StoreID

	// points_earned / reward_available
	Points  int64
	Balance int64

	// welcome only - the one-time secret, deliver immediately or lose it
	InitialSecret string

	// reward_available only
	RewardName string
}

// Notifier delivers a notification by whatever channel the deployment
// provides. Implementations must be safe for concurrent use.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// NopNotifier discards notifications. Used when no delivery channel is wired.
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, Notification) error { return nil }
