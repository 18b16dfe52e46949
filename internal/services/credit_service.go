package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/vitrinai/backend/internal/catalog"
	"github.com/vitrinai/backend/internal/models"
)

var (
	// ErrAlreadyProcessed means the event key has a processed_webhooks row:
	// the purchase was durably applied by an earlier (or concurrent) delivery.
	ErrAlreadyProcessed = errors.New("webhook event already processed")

	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrAccountNotFound     = errors.New("account not found")
)

const uniqueViolation = "23505"

// CreditService owns every read and write on the users, credit_ledger and
// processed_webhooks tables. Each balance mutation and its ledger entry
// commit in one transaction with the account row locked.
type CreditService struct {
	db  *sql.DB
	now func() time.Time
}

func NewCreditService(db *sql.DB) *CreditService {
	return &CreditService{db: db, now: time.Now}
}

// PurchaseResult summarizes an applied purchase for the webhook response.
type PurchaseResult struct {
	Account        *models.Account `json:"account"`
	CreditsApplied int64           `json:"credits_applied"`
	Plan           string          `json:"plan"`
}

// BalanceInfo is the reader's view of an account: UsableCredits has the
// expiry rule already applied.
type BalanceInfo struct {
	Account       *models.Account `json:"account"`
	UsableCredits int64           `json:"usable_credits"`
}

// ApplyPurchase applies one provider purchase exactly once. The
// processed_webhooks insert is the FIRST statement of the transaction: its
// unique index on event_key is the at-most-once gate, so a concurrent or
// retried delivery of the same event either wins the insert or observes zero
// rows affected and aborts before any balance mutation.
//
// Policy is additive (each purchase tops up the balance). An expired balance
// is written off first so a purchase cannot resurrect credits the readers
// already treat as zero; the write-off gets its own ledger entry.
func (s *CreditService) ApplyPurchase(ctx context.Context, email string, product catalog.Product, eventKey string) (*PurchaseResult, error) {
	now := s.now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO processed_webhooks (event_key, created_at)
		VALUES ($1, $2)
		ON CONFLICT (event_key) DO NOTHING`,
		eventKey, now)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrAlreadyProcessed
		}
		return nil, err
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if inserted == 0 {
		return nil, ErrAlreadyProcessed
	}

	account, err := s.lockOrCreateAccount(ctx, tx, email, now)
	if err != nil {
		return nil, err
	}

	if err := s.writeOffExpired(ctx, tx, account, now); err != nil {
		return nil, err
	}

	newBalance := account.CreditsBalance + product.Credits
	expireAt := endOfMonth(now)
	plan := product.Plan

	if _, err := tx.ExecContext(ctx, `
		UPDATE users
		SET credits_balance = $1, credits_expire_at = $2, plan_code = $3, updated_at = $4
		WHERE id = $5`,
		newBalance, expireAt, plan, now, account.ID); err != nil {
		return nil, err
	}

	if err := s.appendLedger(ctx, tx, account.ID, product.Credits, models.ReasonGumroadPurchase, product.Slug, now); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	account.CreditsBalance = newBalance
	account.CreditsExpireAt = &expireAt
	account.PlanCode = &plan
	account.UpdatedAt = now

	return &PurchaseResult{
		Account:        account,
		CreditsApplied: product.Credits,
		Plan:           product.Plan,
	}, nil
}

// EnsureAccount returns the account for an email, creating it with the trial
// grant (10 credits, 7 days) on first sight. Safe to call on every sign-in.
func (s *CreditService) EnsureAccount(ctx context.Context, email string) (*models.Account, error) {
	now := s.now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	account, err := s.lockAccount(ctx, tx, email)
	if err == nil {
		return account, tx.Commit()
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	trialExpiry := now.Add(7 * 24 * time.Hour)
	id := uuid.NewString()
	res, err := tx.ExecContext(ctx, `
		INSERT INTO users (id, email, credits_balance, credits_expire_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (email) DO NOTHING`,
		id, email, trialCredits, trialExpiry, now)
	if err != nil {
		return nil, err
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if inserted == 1 {
		if err := s.appendLedger(ctx, tx, id, trialCredits, models.ReasonTrialGrant, "signup", now); err != nil {
			return nil, err
		}
	}

	// Re-read: either our row or the one a concurrent request won with.
	account, err = s.lockAccount(ctx, tx, email)
	if err != nil {
		return nil, err
	}
	return account, tx.Commit()
}

const trialCredits = int64(10)

// Balance reports the usable balance for an email. An account whose
// credits_expire_at is in the past is lazily reset to zero here, so stale
// integers never leak to callers.
func (s *CreditService) Balance(ctx context.Context, email string) (*BalanceInfo, error) {
	now := s.now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	account, err := s.lockAccount(ctx, tx, email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := s.writeOffExpired(ctx, tx, account, now); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &BalanceInfo{Account: account, UsableCredits: account.CreditsBalance}, nil
}

// Spend deducts credits for a generation. The deduction, like every other
// mutation, happens under a row lock with its ledger entry in the same
// transaction.
func (s *CreditService) Spend(ctx context.Context, email string, amount int64, ref string) (*models.Account, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("spend amount must be positive, got %d", amount)
	}
	now := s.now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	account, err := s.lockAccount(ctx, tx, email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := s.writeOffExpired(ctx, tx, account, now); err != nil {
		return nil, err
	}

	if account.CreditsBalance < amount {
		return nil, ErrInsufficientCredits
	}

	newBalance := account.CreditsBalance - amount
	if _, err := tx.ExecContext(ctx, `
		UPDATE users SET credits_balance = $1, updated_at = $2 WHERE id = $3`,
		newBalance, now, account.ID); err != nil {
		return nil, err
	}
	if err := s.appendLedger(ctx, tx, account.ID, -amount, models.ReasonGeneration, ref, now); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	account.CreditsBalance = newBalance
	account.UpdatedAt = now
	return account, nil
}

// AdminAdjust applies a signed back-office correction. The balance floors at
// zero; the ledger records the delta actually applied, not the one requested.
func (s *CreditService) AdminAdjust(ctx context.Context, email string, delta int64, note string) (*models.Account, error) {
	if delta == 0 {
		return nil, fmt.Errorf("adjustment delta must be non-zero")
	}
	now := s.now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	account, err := s.lockOrCreateAccount(ctx, tx, email, now)
	if err != nil {
		return nil, err
	}

	if err := s.writeOffExpired(ctx, tx, account, now); err != nil {
		return nil, err
	}

	newBalance := account.CreditsBalance + delta
	applied := delta
	if newBalance < 0 {
		newBalance = 0
		applied = -account.CreditsBalance
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE users SET credits_balance = $1, updated_at = $2 WHERE id = $3`,
		newBalance, now, account.ID); err != nil {
		return nil, err
	}
	if applied != 0 {
		if err := s.appendLedger(ctx, tx, account.ID, applied, models.ReasonAdminCredit, note, now); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	account.CreditsBalance = newBalance
	account.UpdatedAt = now
	return account, nil
}

// RecentEvents lists the newest processed webhook events for the admin report.
func (s *CreditService) RecentEvents(ctx context.Context, limit int) ([]models.ProcessedWebhookEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, event_key, created_at
		FROM processed_webhooks
		ORDER BY created_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []models.ProcessedWebhookEvent
	for rows.Next() {
		var e models.ProcessedWebhookEvent
		if err := rows.Scan(&e.ID, &e.EventKey, &e.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// LedgerEntries lists ledger rows, newest first, optionally filtered by email.
func (s *CreditService) LedgerEntries(ctx context.Context, email string, limit int) ([]models.CreditLedgerEntry, error) {
	if limit <= 0 {
		limit = 50
	}

	var (
		rows *sql.Rows
		err  error
	)
	if email != "" {
		rows, err = s.db.QueryContext(ctx, `
			SELECT l.id, l.user_id, l.delta, l.reason, l.ref, l.created_at
			FROM credit_ledger l
			JOIN users u ON u.id = l.user_id
			WHERE u.email = $1
			ORDER BY l.created_at DESC
			LIMIT $2`, email, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, user_id, delta, reason, ref, created_at
			FROM credit_ledger
			ORDER BY created_at DESC
			LIMIT $1`, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []models.CreditLedgerEntry
	for rows.Next() {
		var e models.CreditLedgerEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.Delta, &e.Reason, &e.Ref, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *CreditService) lockAccount(ctx context.Context, tx *sql.Tx, email string) (*models.Account, error) {
	var account models.Account
	err := tx.QueryRowContext(ctx, `
		SELECT id, email, credits_balance, credits_expire_at, plan_code, created_at, updated_at
		FROM users
		WHERE email = $1
		FOR UPDATE`, email).Scan(
		&account.ID, &account.Email, &account.CreditsBalance,
		&account.CreditsExpireAt, &account.PlanCode,
		&account.CreatedAt, &account.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &account, nil
}

func (s *CreditService) lockOrCreateAccount(ctx context.Context, tx *sql.Tx, email string, now time.Time) (*models.Account, error) {
	account, err := s.lockAccount(ctx, tx, email)
	if err == nil {
		return account, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO users (id, email, credits_balance, created_at, updated_at)
		VALUES ($1, $2, 0, $3, $3)
		ON CONFLICT (email) DO NOTHING`,
		uuid.NewString(), email, now); err != nil {
		return nil, err
	}
	return s.lockAccount(ctx, tx, email)
}

// writeOffExpired zeroes an expired balance in place and records the
// write-off, mutating account to the post-reset state.
func (s *CreditService) writeOffExpired(ctx context.Context, tx *sql.Tx, account *models.Account, now time.Time) error {
	if !account.Expired(now) {
		return nil
	}

	old := account.CreditsBalance
	if _, err := tx.ExecContext(ctx, `
		UPDATE users
		SET credits_balance = 0, credits_expire_at = NULL, plan_code = NULL, updated_at = $1
		WHERE id = $2`,
		now, account.ID); err != nil {
		return err
	}
	if old > 0 {
		if err := s.appendLedger(ctx, tx, account.ID, -old, models.ReasonCreditsExpired, "expiry", now); err != nil {
			return err
		}
	}

	account.CreditsBalance = 0
	account.CreditsExpireAt = nil
	account.PlanCode = nil
	account.UpdatedAt = now
	return nil
}

func (s *CreditService) appendLedger(ctx context.Context, tx *sql.Tx, userID string, delta int64, reason, ref string, now time.Time) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO credit_ledger (user_id, delta, reason, ref, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		userID, delta, reason, ref, now)
	return err
}

// endOfMonth is the first instant of the next calendar month in UTC: the
// purchase grants credits for the remainder of the current month.
func endOfMonth(now time.Time) time.Time {
	now = now.UTC()
	return time.Date(now.Year(), now.Month()+1, 1, 0, 0, 0, 0, time.UTC)
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}
