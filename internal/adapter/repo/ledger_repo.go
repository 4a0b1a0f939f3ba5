package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/BurakAyaz/baz-hediye-muzik/internal/domain"
)

// LedgerRepositoryPG implements domain.LedgerRepository. The log is read-only
// from here; entries are written by insertEntry inside account settlements.
type LedgerRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewLedgerRepository creates a new ledger repository backed by PostgreSQL.
func NewLedgerRepository(pool *pgxpool.Pool) *LedgerRepositoryPG {
	return &LedgerRepositoryPG{pool: pool}
}

// insertEntry records a ledger entry inside an account settlement transaction.
// created_at uses clock_timestamp(), taken after the account row lock, so
// per-account entries sort in commit order. The partial unique index on
// (kind, external_ref) turns a replayed reference into ErrDuplicateEvent,
// rolling the whole settlement back.
func insertEntry(ctx context.Context, tx pgx.Tx, entry *domain.LedgerEntry) error {
	query := `
INSERT INTO ledger_entries (id, account_id, kind, action, amount, balance_after, external_ref, description, status, created_at)
VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8, $9, clock_timestamp());
`
	_, err := tx.Exec(ctx, query,
		entry.ID,
		entry.AccountID,
		entry.Kind,
		entry.Action,
		entry.Amount,
		entry.BalanceAfter,
		entry.ExternalRef,
		entry.Description,
		entry.Status,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domain.ErrDuplicateEvent
		}
		return fmt.Errorf("append ledger entry: %w", err)
	}
	return nil
}

// HasRef reports whether an entry of the kind with this external reference
// exists.
func (r *LedgerRepositoryPG) HasRef(ctx context.Context, kind domain.EntryKind, externalRef string) (bool, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM ledger_entries WHERE kind = $1 AND external_ref = $2)`, kind, externalRef)
	var exists bool
	if err := row.Scan(&exists); err != nil {
		return false, fmt.Errorf("check ledger ref: %w", err)
	}
	return exists, nil
}

// SpendByRef returns the spend entry settled for a provider task.
func (r *LedgerRepositoryPG) SpendByRef(ctx context.Context, externalRef string) (*domain.LedgerEntry, error) {
	row := r.pool.QueryRow(ctx, `
SELECT id, account_id, kind, action, amount, balance_after, COALESCE(external_ref, ''), description, status, created_at
FROM ledger_entries
WHERE kind = 'spend' AND external_ref = $1
ORDER BY created_at DESC
LIMIT 1;
`, externalRef)
	return scanEntry(row)
}

// ListByAccount returns the most recent entries for an account.
func (r *LedgerRepositoryPG) ListByAccount(ctx context.Context, accountID string, limit int) ([]domain.LedgerEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
SELECT id, account_id, kind, action, amount, balance_after, COALESCE(external_ref, ''), description, status, created_at
FROM ledger_entries
WHERE account_id = $1
ORDER BY created_at DESC
LIMIT $2;
`, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("list ledger entries: %w", err)
	}
	defer rows.Close()

	var out []domain.LedgerEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *entry)
	}
	return out, rows.Err()
}

// ActionCounts aggregates completed spends per action tag.
func (r *LedgerRepositoryPG) ActionCounts(ctx context.Context, accountID string) (map[string]int, error) {
	rows, err := r.pool.Query(ctx, `
SELECT action, COUNT(*)
FROM ledger_entries
WHERE account_id = $1 AND kind = 'spend' AND status = 'completed'
GROUP BY action;
`, accountID)
	if err != nil {
		return nil, fmt.Errorf("aggregate ledger actions: %w", err)
	}
	defer rows.Close()

	counts := map[string]int{}
	for rows.Next() {
		var action string
		var count int
		if err := rows.Scan(&action, &count); err != nil {
			return nil, err
		}
		counts[action] = count
	}
	return counts, rows.Err()
}

func scanEntry(row pgx.Row) (*domain.LedgerEntry, error) {
	var e domain.LedgerEntry
	if err := row.Scan(
		&e.ID,
		&e.AccountID,
		&e.Kind,
		&e.Action,
		&e.Amount,
		&e.BalanceAfter,
		&e.ExternalRef,
		&e.Description,
		&e.Status,
		&e.CreatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &e, nil
}
