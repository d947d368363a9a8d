/*
Package account provides idempotent provisioning of rewarded identities.

PURPOSE:
  When points are earned by an email the system has never seen, an
  Account is created on the spot: lookup-or-create keyed by
  case-insensitive email. Creation also mints the credentials a
  first-time customer needs - an opaque long-lived token (QR /
  passwordless identification) and a one-time initial secret.

IDEMPOTENCY UNDER RACES:
  Two concurrent awards for the same unseen email must yield exactly one
  Account. An application-level check-then-insert cannot guarantee this,
  so the storage layer carries a unique index on the lowercased email
  and Create reports ErrEmailTaken; the loser re-fetches and returns the
  winner's row.

SECRET HANDLING:
  The initial secret is returned ONLY from the creating call and is
  never retrievable again through this package. Delivery (welcome email)
  is the notification system's job; generation and delivery are separate
  steps so the ledger core doesn't depend on a credential scheme.

SEE ALSO:
  - loyalty/award.go: Provisions accounts during awards
  - store/sqlite/sqlite.go: Unique email index
*/
package account

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fixpoint/loyalty-engine/ledger"
)

// =============================================================================
// ACCOUNT - A rewarded identity, keyed by email
// =============================================================================

type Account struct {
	ID        ledger.AccountID
	Email     string // stored lowercased
	Name      string
	Token     string // opaque long-lived identification token
	CreatedAt time.Time
}

// =============================================================================
// STORE INTERFACE
// =============================================================================

// ErrEmailTaken is reported by Create when the unique email index trips.
// Provisioner treats it as "somebody else won the race" and re-fetches.
var ErrEmailTaken = errors.New("email already registered")

type Store interface {
	// FindByEmail looks up an account by lowercased email.
	// Returns (nil, nil) when absent.
	FindByEmail(ctx context.Context, email string) (*Account, error)

	// Create inserts a new account. Returns ErrEmailTaken if the email
	// (case-insensitive) already exists.
	Create(ctx context.Context, a Account) error

	// Get returns an account by id, or nil when absent.
	Get(ctx context.Context, id ledger.AccountID) (*Account, error)
}

// =============================================================================
// PROVISIONER
// =============================================================================

type Provisioner struct {
	Store Store
}

func NewProvisioner(store Store) *Provisioner {
	return &Provisioner{Store: store}
}

// Result is what GetOrCreate hands back. InitialSecret is non-empty only
// when IsNew is true; it is not persisted in retrievable form and must be
// delivered immediately or it is gone.
type Result struct {
	Account       Account
	IsNew         bool
	InitialSecret string
}

// GetOrCreate looks up the account for email, creating it when absent.
// Safe under concurrent calls with the same email: the storage unique
// index decides the winner and the loser returns the winner's account.
func (p *Provisioner) GetOrCreate(ctx context.Context, email, nameHint string) (Result, error) {
	normalized, err := NormalizeEmail(email)
	if err != nil {
		return Result{}, err
	}

	existing, err := p.Store.FindByEmail(ctx, normalized)
	if err != nil {
		return Result{}, fmt.Errorf("account lookup failed: %w", err)
	}
	if existing != nil {
		return Result{Account: *existing}, nil
	}

	if nameHint == "" {
		nameHint = normalized[:strings.Index(normalized, "@")]
	}

	secret, err := generateSecret()
	if err != nil {
		return Result{}, fmt.Errorf("secret generation failed: %w", err)
	}

	a := Account{
		ID:        ledger.AccountID(uuid.NewString()),
		Email:     normalized,
		Name:      nameHint,
		Token:     uuid.NewString(),
		CreatedAt: time.Now().UTC(),
	}

	if err := p.Store.Create(ctx, a); err != nil {
		if errors.Is(err, ErrEmailTaken) {
			// Lost the race: exactly one account results either way.
			winner, ferr := p.Store.FindByEmail(ctx, normalized)
			if ferr != nil {
				return Result{}, fmt.Errorf("account lookup after race failed: %w", ferr)
			}
			if winner == nil {
				return Result{}, ledger.ErrAccountNotFound
			}
			return Result{Account: *winner}, nil
		}
		return Result{}, fmt.Errorf("account creation failed: %w", err)
	}

	return Result{Account: a, IsNew: true, InitialSecret: secret}, nil
}

// =============================================================================
// EMAIL VALIDATION
// =============================================================================

// NormalizeEmail validates the address format and lowercases it.
// Rejection happens before any write.
func NormalizeEmail(email string) (string, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return "", ledger.ErrInvalidEmail
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", ledger.ErrInvalidEmail
	}
	return strings.ToLower(email), nil
}

func generateSecret() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
