package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/BurakAyaz/baz-hediye-muzik/internal/domain"
)

const accountColumns = `id, wix_user_id, email, display_name, plan_id, balance, total_granted, total_spent,
features, allowed_models, subscription_status, purchased_at, expires_at, created_at, updated_at`

// AccountRepositoryPG implements domain.AccountRepository backed by PostgreSQL.
// Every balance mutation is a single conditional UPDATE committed in one
// transaction with its ledger entry; the row lock taken by the UPDATE
// serializes concurrent settlements per account, so entries land in the
// ledger in commit order.
type AccountRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewAccountRepository creates a new AccountRepositoryPG.
func NewAccountRepository(pool *pgxpool.Pool) *AccountRepositoryPG {
	return &AccountRepositoryPG{pool: pool}
}

// Create inserts a new account record.
func (r *AccountRepositoryPG) Create(ctx context.Context, account *domain.Account) (*domain.Account, error) {
	query := `
INSERT INTO accounts (id, wix_user_id, email, display_name, plan_id, balance, total_granted, total_spent,
                      features, allowed_models, subscription_status, purchased_at, expires_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
RETURNING ` + accountColumns + `;
`
	row := r.pool.QueryRow(ctx, query,
		account.ID,
		account.WixUserID,
		account.Email,
		account.DisplayName,
		account.PlanID,
		account.Balance,
		account.TotalGranted,
		account.TotalSpent,
		account.Features,
		account.AllowedModels,
		account.Status,
		account.PurchasedAt,
		account.ExpiresAt,
	)
	return scanAccount(row)
}

// GetByWixID fetches an account by its external identity.
func (r *AccountRepositoryPG) GetByWixID(ctx context.Context, wixUserID string) (*domain.Account, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE wix_user_id = $1`, wixUserID)
	return scanAccount(row)
}

// GetByEmail fetches an account by email, for guest order flows.
func (r *AccountRepositoryPG) GetByEmail(ctx context.Context, email string) (*domain.Account, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE email = $1 ORDER BY created_at LIMIT 1`, email)
	return scanAccount(row)
}

// Debit subtracts amount from the balance, guarded by the balance floor in the
// same statement.
func (r *AccountRepositoryPG) Debit(ctx context.Context, accountID string, amount int, entry *domain.LedgerEntry) (*domain.Account, error) {
	query := `
UPDATE accounts
SET balance = balance - $2,
    total_spent = total_spent + $2,
    updated_at = NOW()
WHERE id = $1 AND balance >= $2
RETURNING ` + accountColumns + `;
`
	return r.settle(ctx, entry, func(tx pgx.Tx) (*domain.Account, error) {
		account, err := scanAccount(tx.QueryRow(ctx, query, accountID, amount))
		if errors.Is(err, domain.ErrNotFound) {
			return nil, r.classifyMissed(ctx, accountID, domain.ErrInsufficientCredit)
		}
		return account, err
	})
}

// Credit adds amount back to the balance, reversing a prior debit.
func (r *AccountRepositoryPG) Credit(ctx context.Context, accountID string, amount int, entry *domain.LedgerEntry) (*domain.Account, error) {
	query := `
UPDATE accounts
SET balance = balance + $2,
    total_spent = GREATEST(total_spent - $2, 0),
    updated_at = NOW()
WHERE id = $1
RETURNING ` + accountColumns + `;
`
	return r.settle(ctx, entry, func(tx pgx.Tx) (*domain.Account, error) {
		account, err := scanAccount(tx.QueryRow(ctx, query, accountID, amount))
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrUnknownAccount
		}
		return account, err
	})
}

// ApplyGrant snapshots the plan bundle and stacks credits on the remaining
// balance.
func (r *AccountRepositoryPG) ApplyGrant(ctx context.Context, accountID string, plan domain.PlanDefinition, credits int, expiresAt time.Time, entry *domain.LedgerEntry) (*domain.Account, error) {
	query := `
UPDATE accounts
SET plan_id = $2,
    balance = balance + $3,
    total_granted = total_granted + $3,
    features = $4,
    allowed_models = $5,
    subscription_status = 'active',
    purchased_at = NOW(),
    expires_at = $6,
    updated_at = NOW()
WHERE id = $1
RETURNING ` + accountColumns + `;
`
	return r.settle(ctx, entry, func(tx pgx.Tx) (*domain.Account, error) {
		account, err := scanAccount(tx.QueryRow(ctx, query, accountID, plan.ID, credits, plan.Features, plan.AllowedModels, expiresAt))
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrUnknownAccount
		}
		return account, err
	})
}

// AddCredits raises balance and total_granted without touching the plan.
func (r *AccountRepositoryPG) AddCredits(ctx context.Context, accountID string, amount int, entry *domain.LedgerEntry) (*domain.Account, error) {
	query := `
UPDATE accounts
SET balance = balance + $2,
    total_granted = total_granted + $2,
    updated_at = NOW()
WHERE id = $1
RETURNING ` + accountColumns + `;
`
	return r.settle(ctx, entry, func(tx pgx.Tx) (*domain.Account, error) {
		account, err := scanAccount(tx.QueryRow(ctx, query, accountID, amount))
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrUnknownAccount
		}
		return account, err
	})
}

// SetStatus updates the subscription status only.
func (r *AccountRepositoryPG) SetStatus(ctx context.Context, accountID string, status domain.SubscriptionStatus, entry *domain.LedgerEntry) (*domain.Account, error) {
	query := `
UPDATE accounts SET subscription_status = $2, updated_at = NOW() WHERE id = $1
RETURNING ` + accountColumns + `;
`
	return r.settle(ctx, entry, func(tx pgx.Tx) (*domain.Account, error) {
		account, err := scanAccount(tx.QueryRow(ctx, query, accountID, status))
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrUnknownAccount
		}
		return account, err
	})
}

// Expire forfeits the remaining balance and marks the account expired exactly
// once. Forfeited credits count as spent so the granted/spent counters keep
// explaining the balance; the forfeit entry commits with the update.
func (r *AccountRepositoryPG) Expire(ctx context.Context, accountID string, entry *domain.LedgerEntry) (*domain.Account, bool, error) {
	query := `
UPDATE accounts a
SET balance = 0,
    total_spent = a.total_spent + a.balance,
    subscription_status = 'expired',
    updated_at = NOW()
FROM accounts prev
WHERE a.id = $1 AND prev.id = a.id AND a.subscription_status <> 'expired'
RETURNING a.id, a.wix_user_id, a.email, a.display_name, a.plan_id, a.balance, a.total_granted, a.total_spent,
          a.features, a.allowed_models, a.subscription_status, a.purchased_at, a.expires_at, a.created_at, a.updated_at,
          prev.balance;
`
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("begin settlement: %w", err)
	}
	defer tx.Rollback(ctx)

	var a domain.Account
	var forfeited int
	err = tx.QueryRow(ctx, query, accountID).Scan(
		&a.ID, &a.WixUserID, &a.Email, &a.DisplayName, &a.PlanID, &a.Balance, &a.TotalGranted, &a.TotalSpent,
		&a.Features, &a.AllowedModels, &a.Status, &a.PurchasedAt, &a.ExpiresAt, &a.CreatedAt, &a.UpdatedAt,
		&forfeited,
	)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, false, err
		}
		current, lookupErr := r.getByID(ctx, accountID)
		if lookupErr != nil {
			if errors.Is(lookupErr, domain.ErrNotFound) {
				return nil, false, domain.ErrUnknownAccount
			}
			return nil, false, lookupErr
		}
		return current, false, nil
	}

	entry.AccountID = a.ID
	entry.Amount = -forfeited
	entry.BalanceAfter = a.Balance
	if err := insertEntry(ctx, tx, entry); err != nil {
		return nil, false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, false, fmt.Errorf("commit settlement: %w", err)
	}
	return &a, true, nil
}

// ListOverdue returns accounts whose subscription window has passed.
func (r *AccountRepositoryPG) ListOverdue(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id FROM accounts WHERE expires_at IS NOT NULL AND expires_at < $1 AND subscription_status <> 'expired'`, now)
	if err != nil {
		return nil, fmt.Errorf("list overdue accounts: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// settle runs the account mutation and the entry insert in one transaction.
// The store owns BalanceAfter: it is read off the updated row, never off a
// caller's stale snapshot.
func (r *AccountRepositoryPG) settle(ctx context.Context, entry *domain.LedgerEntry, update func(pgx.Tx) (*domain.Account, error)) (*domain.Account, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin settlement: %w", err)
	}
	defer tx.Rollback(ctx)

	account, err := update(tx)
	if err != nil {
		return nil, err
	}
	entry.AccountID = account.ID
	entry.BalanceAfter = account.Balance
	if err := insertEntry(ctx, tx, entry); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit settlement: %w", err)
	}
	return account, nil
}

// classifyMissed tells a failed conditional update apart from a missing
// account. A transient lookup failure propagates as-is so callers do not
// mistake a store outage for an unknown account.
func (r *AccountRepositoryPG) classifyMissed(ctx context.Context, accountID string, condErr error) error {
	if _, err := r.getByID(ctx, accountID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.ErrUnknownAccount
		}
		return err
	}
	return condErr
}

func (r *AccountRepositoryPG) getByID(ctx context.Context, accountID string) (*domain.Account, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, accountID)
	return scanAccount(row)
}

func scanAccount(row pgx.Row) (*domain.Account, error) {
	var a domain.Account
	if err := row.Scan(
		&a.ID,
		&a.WixUserID,
		&a.Email,
		&a.DisplayName,
		&a.PlanID,
		&a.Balance,
		&a.TotalGranted,
		&a.TotalSpent,
		&a.Features,
		&a.AllowedModels,
		&a.Status,
		&a.PurchasedAt,
		&a.ExpiresAt,
		&a.CreatedAt,
		&a.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &a, nil
}
