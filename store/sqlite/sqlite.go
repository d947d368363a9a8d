/*
Package sqlite provides a SQLite-backed implementation of the storage
interfaces.

PURPOSE:
  Implements every persistence interface (ledger.Store/TxStore,
  account.Store, loyalty.RequestStore, loyalty.PolicyStore) using SQLite.
  In production the same patterns apply to PostgreSQL - only minor SQL
  dialect differences.

APPEND-ONLY ENFORCEMENT:
  The entries table has no UPDATE or DELETE path. Corrections are
  compensating entries.

LOAD-BEARING UNIQUE INDEXES:
  idx_unique_daily_award:  (identity_key, store_id, reference, day) for
                           earning entries. This is the duplicate guard's
                           race-closing layer: two concurrent duplicate
                           awards resolve to one row + one ErrDuplicateAward.
  idx_accounts_email:      lowercased email. Concurrent provisioning for
                           the same address yields exactly one account.
  idx_requests_order:      one redemption request per order.

TRANSACTIONS:
  WithTx(fn) runs fn against a view backed by a sql.Tx. The view
  implements both ledger.Store AND loyalty.RequestStore, so approval can
  re-check the balance, write the debit, and flip the request status
  atomically - reads inside the view see the view's own writes.

WAL MODE:
  SQLite is opened with WAL for better concurrency: readers don't block,
  single writer at a time, better crash recovery.

USAGE:
  store, err := sqlite.New("./data/loyalty.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - ledger/store.go: Interface definitions
  - ledger/store/memory.go: In-memory implementation for engine tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/fixpoint/loyalty-engine/account"
	"github.com/fixpoint/loyalty-engine/ledger"
	"github.com/fixpoint/loyalty-engine/loyalty"
	"github.com/fixpoint/loyalty-engine/reward"
)

// entryTimeLayout is a fixed-width RFC 3339 timestamp with all nine
// fractional digits. RFC3339Nano trims trailing zeros, which breaks
// lexicographic TEXT ordering ("...00.5Z" sorts after "...00.52Z");
// fixed width keeps ORDER BY created_at equal to time order.
const entryTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Entries (append-only points ledger)
	CREATE TABLE IF NOT EXISTS entries (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL,
		store_id TEXT NOT NULL,
		points INTEGER NOT NULL,
		category TEXT NOT NULL,
		reference TEXT NOT NULL DEFAULT '',
		identity_key TEXT NOT NULL DEFAULT '',
		day TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	-- Balance derivation (hot path)
	CREATE INDEX IF NOT EXISTS idx_entries_account_store
		ON entries(account_id, store_id, created_at);

	-- CRITICAL: at-most-one earning entry per (identity, store, reference, day).
	-- This closes the duplicate-award race; redemption debits are exempt.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_unique_daily_award
		ON entries(identity_key, store_id, reference, day)
		WHERE category != 'redemption' AND identity_key != '';

	-- Accounts (rewarded identities)
	CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		token TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	-- CRITICAL: one account per email, case-insensitive.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_accounts_email
		ON accounts(lower(email));

	-- Reward policies (per-store configuration)
	CREATE TABLE IF NOT EXISTS reward_policies (
		store_id TEXT PRIMARY KEY,
		threshold INTEGER NOT NULL,
		kind TEXT NOT NULL,
		magnitude TEXT NOT NULL DEFAULT '0',
		name TEXT NOT NULL DEFAULT '',
		updated_at TEXT NOT NULL
	);

	-- Redemption requests (approval workflow)
	CREATE TABLE IF NOT EXISTS redemption_requests (
		id TEXT PRIMARY KEY,
		order_id TEXT NOT NULL,
		account_id TEXT NOT NULL,
		store_id TEXT NOT NULL,
		points_snapshot INTEGER NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		rejection_reason TEXT NOT NULL DEFAULT '',
		resolved_by TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		approved_at TEXT
	);

	-- CRITICAL: one request per order.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_requests_order
		ON redemption_requests(order_id);
	CREATE INDEX IF NOT EXISTS idx_requests_store_status
		ON redemption_requests(store_id, status);
	`

	_, err := s.db.Exec(schema)
	return err
}

// querier abstracts *sql.DB and *sql.Tx so the same statement helpers
// serve both the store and its transactional views.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// LEDGER STORE (ledger.Store interface)
// =============================================================================

// Append adds an entry to the ledger.
func (s *Store) Append(ctx context.Context, e ledger.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendEntry(ctx, s.db, e)
}

func appendEntry(ctx context.Context, db querier, e ledger.Entry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO entries
		(id, account_id, store_id, points, category, reference, identity_key, day, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := db.ExecContext(ctx, query,
		e.ID,
		e.AccountID,
		e.StoreID,
		e.Points,
		e.Category,
		e.Reference,
		e.IdentityKey,
		ledger.DayKey(e.CreatedAt),
		e.CreatedAt.Format(entryTimeLayout),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ledger.ErrDuplicateAward
		}
		return fmt.Errorf("failed to append entry: %w", err)
	}
	return nil
}

// Load returns all entries for account+store, chronologically.
func (s *Store) Load(ctx context.Context, accountID ledger.AccountID, storeID ledger.StoreID) ([]ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return loadEntries(ctx, s.db, accountID, storeID)
}

func loadEntries(ctx context.Context, db querier, accountID ledger.AccountID, storeID ledger.StoreID) ([]ledger.Entry, error) {
	query := `
		SELECT id, account_id, store_id, points, category, reference, identity_key, created_at
		FROM entries
		WHERE account_id = ? AND store_id = ?
		ORDER BY created_at ASC, id ASC
	`
	rows, err := db.QueryContext(ctx, query, accountID, storeID)
	if err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}
	defer rows.Close()

	var entries []ledger.Entry
	for rows.Next() {
		var (
			e         ledger.Entry
			createdAt string
		)
		if err := rows.Scan(&e.ID, &e.AccountID, &e.StoreID, &e.Points,
			&e.Category, &e.Reference, &e.IdentityKey, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Balance derives the balance as SUM over entries. No cached counter exists.
func (s *Store) Balance(ctx context.Context, accountID ledger.AccountID, storeID ledger.StoreID) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return balanceOf(ctx, s.db, accountID, storeID)
}

func balanceOf(ctx context.Context, db querier, accountID ledger.AccountID, storeID ledger.StoreID) (int64, error) {
	var sum int64
	err := db.QueryRowContext(ctx,
		"SELECT COALESCE(SUM(points), 0) FROM entries WHERE account_id = ? AND store_id = ?",
		accountID, storeID,
	).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("failed to derive balance: %w", err)
	}
	return sum, nil
}

// HasEarned checks the duplicate-guard tuple.
func (s *Store) HasEarned(ctx context.Context, identityKey string, storeID ledger.StoreID, reference string, day string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return hasEarned(ctx, s.db, identityKey, storeID, reference, day)
}

func hasEarned(ctx context.Context, db querier, identityKey string, storeID ledger.StoreID, reference string, day string) (bool, error) {
	var count int
	err := db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM entries
		WHERE identity_key = ? AND store_id = ? AND reference = ? AND day = ?
		  AND category != 'redemption'
	`, identityKey, storeID, reference, day).Scan(&count)
	return count > 0, err
}

// =============================================================================
// TRANSACTIONAL STORE (ledger.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction. The view
// handed to fn implements ledger.Store and loyalty.RequestStore, and its
// reads observe its own writes.
func (s *Store) WithTx(ctx context.Context, fn func(store ledger.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txView{tx: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

type txView struct {
	tx *sql.Tx
}

func (tv *txView) Append(ctx context.Context, e ledger.Entry) error {
	return appendEntry(ctx, tv.tx, e)
}

func (tv *txView) Load(ctx context.Context, accountID ledger.AccountID, storeID ledger.StoreID) ([]ledger.Entry, error) {
	return loadEntries(ctx, tv.tx, accountID, storeID)
}

func (tv *txView) Balance(ctx context.Context, accountID ledger.AccountID, storeID ledger.StoreID) (int64, error) {
	return balanceOf(ctx, tv.tx, accountID, storeID)
}

func (tv *txView) HasEarned(ctx context.Context, identityKey string, storeID ledger.StoreID, reference string, day string) (bool, error) {
	return hasEarned(ctx, tv.tx, identityKey, storeID, reference, day)
}

func (tv *txView) GetRequest(ctx context.Context, id loyalty.RequestID) (*loyalty.RedemptionRequest, error) {
	return getRequest(ctx, tv.tx, id)
}

func (tv *txView) FindRequestByOrder(ctx context.Context, orderID string) (*loyalty.RedemptionRequest, error) {
	return findRequestByOrder(ctx, tv.tx, orderID)
}

func (tv *txView) CreateRequest(ctx context.Context, r loyalty.RedemptionRequest) error {
	return createRequest(ctx, tv.tx, r)
}

func (tv *txView) UpdateRequest(ctx context.Context, r loyalty.RedemptionRequest, expect loyalty.RequestStatus) error {
	return updateRequest(ctx, tv.tx, r, expect)
}

func (tv *txView) ListRequests(ctx context.Context, storeID ledger.StoreID, status loyalty.RequestStatus) ([]loyalty.RedemptionRequest, error) {
	return listRequests(ctx, tv.tx, storeID, status)
}

func (tv *txView) Policy(ctx context.Context, storeID ledger.StoreID) (*reward.Policy, error) {
	return policyOf(ctx, tv.tx, storeID)
}

// =============================================================================
// ACCOUNT STORE (account.Store interface)
// =============================================================================

// FindByEmail looks up an account case-insensitively. (nil, nil) when absent.
func (s *Store) FindByEmail(ctx context.Context, email string) (*account.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, email, name, token, created_at
		FROM accounts WHERE lower(email) = lower(?)
	`, email)
	return scanAccount(row)
}

// Get returns an account by id, or nil when absent.
func (s *Store) Get(ctx context.Context, id ledger.AccountID) (*account.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, email, name, token, created_at
		FROM accounts WHERE id = ?
	`, id)
	return scanAccount(row)
}

func scanAccount(row *sql.Row) (*account.Account, error) {
	var (
		a         account.Account
		createdAt string
	)
	err := row.Scan(&a.ID, &a.Email, &a.Name, &a.Token, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan account: %w", err)
	}
	a.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &a, nil
}

// Create inserts a new account. The unique index on lower(email) turns
// a provisioning race into account.ErrEmailTaken for the loser.
func (s *Store) Create(ctx context.Context, a account.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (id, email, name, token, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, a.ID, a.Email, a.Name, a.Token, a.CreatedAt.Format(time.RFC3339))
	if err != nil {
		if isUniqueConstraintError(err) {
			return account.ErrEmailTaken
		}
		return fmt.Errorf("failed to create account: %w", err)
	}
	return nil
}

// =============================================================================
// POLICY STORE (loyalty.PolicyStore interface)
// =============================================================================

// Policy returns the reward policy for a store, or (nil, nil) when none
// is configured.
func (s *Store) Policy(ctx context.Context, storeID ledger.StoreID) (*reward.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return policyOf(ctx, s.db, storeID)
}

func policyOf(ctx context.Context, db querier, storeID ledger.StoreID) (*reward.Policy, error) {
	var (
		p         reward.Policy
		magnitude string
	)
	err := db.QueryRowContext(ctx, `
		SELECT store_id, threshold, kind, magnitude, name
		FROM reward_policies WHERE store_id = ?
	`, storeID).Scan(&p.StoreID, &p.Threshold, &p.Kind, &magnitude, &p.Name)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load policy: %w", err)
	}
	p.Magnitude, err = decimal.NewFromString(magnitude)
	if err != nil {
		return nil, fmt.Errorf("corrupt policy magnitude %q: %w", magnitude, err)
	}
	return &p, nil
}

// SavePolicy upserts the reward policy for a store.
func (s *Store) SavePolicy(ctx context.Context, p reward.Policy) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reward_policies (store_id, threshold, kind, magnitude, name, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(store_id) DO UPDATE SET
			threshold = excluded.threshold,
			kind = excluded.kind,
			magnitude = excluded.magnitude,
			name = excluded.name,
			updated_at = excluded.updated_at
	`, p.StoreID, p.Threshold, p.Kind, p.Magnitude.String(), p.Name,
		time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to save policy: %w", err)
	}
	return nil
}

// =============================================================================
// REQUEST STORE (loyalty.RequestStore interface)
// =============================================================================

const requestColumns = `id, order_id, account_id, store_id, points_snapshot,
	status, rejection_reason, resolved_by, created_at, updated_at, approved_at`

func (s *Store) GetRequest(ctx context.Context, id loyalty.RequestID) (*loyalty.RedemptionRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getRequest(ctx, s.db, id)
}

func getRequest(ctx context.Context, db querier, id loyalty.RequestID) (*loyalty.RedemptionRequest, error) {
	row := db.QueryRowContext(ctx,
		"SELECT "+requestColumns+" FROM redemption_requests WHERE id = ?", id)
	return scanRequest(row)
}

func (s *Store) FindRequestByOrder(ctx context.Context, orderID string) (*loyalty.RedemptionRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return findRequestByOrder(ctx, s.db, orderID)
}

func findRequestByOrder(ctx context.Context, db querier, orderID string) (*loyalty.RedemptionRequest, error) {
	row := db.QueryRowContext(ctx,
		"SELECT "+requestColumns+" FROM redemption_requests WHERE order_id = ?", orderID)
	return scanRequest(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (*loyalty.RedemptionRequest, error) {
	var (
		r          loyalty.RedemptionRequest
		createdAt  string
		updatedAt  string
		approvedAt sql.NullString
	)
	err := row.Scan(&r.ID, &r.OrderID, &r.AccountID, &r.StoreID, &r.PointsSnapshot,
		&r.Status, &r.RejectionReason, &r.ResolvedBy, &createdAt, &updatedAt, &approvedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan request: %w", err)
	}
	r.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	r.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	if approvedAt.Valid {
		t, _ := time.Parse(time.RFC3339, approvedAt.String)
		r.ApprovedAt = &t
	}
	return &r, nil
}

func (s *Store) CreateRequest(ctx context.Context, r loyalty.RedemptionRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return createRequest(ctx, s.db, r)
}

func createRequest(ctx context.Context, db querier, r loyalty.RedemptionRequest) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO redemption_requests
		(id, order_id, account_id, store_id, points_snapshot, status,
		 rejection_reason, resolved_by, created_at, updated_at, approved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.OrderID, r.AccountID, r.StoreID, r.PointsSnapshot, r.Status,
		r.RejectionReason, r.ResolvedBy,
		r.CreatedAt.Format(time.RFC3339), r.UpdatedAt.Format(time.RFC3339),
		nullTime(r.ApprovedAt))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	return nil
}

// updateRequest flips a request's status with an optimistic prior-status
// check. Zero rows affected means another operator resolved it first.
func updateRequest(ctx context.Context, db querier, r loyalty.RedemptionRequest, expect loyalty.RequestStatus) error {
	res, err := db.ExecContext(ctx, `
		UPDATE redemption_requests
		SET status = ?, rejection_reason = ?, resolved_by = ?, updated_at = ?, approved_at = ?
		WHERE id = ? AND status = ?
	`, r.Status, r.RejectionReason, r.ResolvedBy,
		r.UpdatedAt.Format(time.RFC3339), nullTime(r.ApprovedAt),
		r.ID, expect)
	if err != nil {
		return fmt.Errorf("failed to update request: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ledger.ErrConcurrentModification
	}
	return nil
}

func (s *Store) UpdateRequest(ctx context.Context, r loyalty.RedemptionRequest, expect loyalty.RequestStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return updateRequest(ctx, s.db, r, expect)
}

func (s *Store) ListRequests(ctx context.Context, storeID ledger.StoreID, status loyalty.RequestStatus) ([]loyalty.RedemptionRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listRequests(ctx, s.db, storeID, status)
}

func listRequests(ctx context.Context, db querier, storeID ledger.StoreID, status loyalty.RequestStatus) ([]loyalty.RedemptionRequest, error) {
	query := "SELECT " + requestColumns + " FROM redemption_requests WHERE store_id = ?"
	args := []any{storeID}
	if status != "" {
		query += " AND status = ?"
		args = append(args, status)
	}
	query += " ORDER BY created_at DESC"

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list requests: %w", err)
	}
	defer rows.Close()

	var requests []loyalty.RedemptionRequest
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, *r)
	}
	return requests, rows.Err()
}

// Helper functions

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.Format(time.RFC3339), Valid: true}
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}
