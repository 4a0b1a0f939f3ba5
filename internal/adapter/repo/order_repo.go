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

const orderColumns = `id, account_id, email, request_json, COALESCE(task_id, ''), status, created_at, updated_at`

// OrderRepositoryPG implements domain.OrderRepository.
type OrderRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewOrderRepository creates a new pending order repository backed by PostgreSQL.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepositoryPG {
	return &OrderRepositoryPG{pool: pool}
}

// Create inserts a new pending order.
func (r *OrderRepositoryPG) Create(ctx context.Context, order *domain.PendingOrder) error {
	query := `
INSERT INTO pending_orders (id, account_id, email, request_json, status)
VALUES ($1, $2, $3, $4, $5);
`
	_, err := r.pool.Exec(ctx, query, order.ID, order.AccountID, order.Email, order.RequestJSON, order.Status)
	if err != nil {
		return fmt.Errorf("create pending order: %w", err)
	}
	return nil
}

// GetByID fetches an order by its identifier.
func (r *OrderRepositoryPG) GetByID(ctx context.Context, id string) (*domain.PendingOrder, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM pending_orders WHERE id = $1`, id)
	return scanOrder(row)
}

// LatestPending returns the newest pending order for the email created after
// the cutoff.
func (r *OrderRepositoryPG) LatestPending(ctx context.Context, email string, cutoff time.Time) (*domain.PendingOrder, error) {
	row := r.pool.QueryRow(ctx, `
SELECT `+orderColumns+`
FROM pending_orders
WHERE email = $1 AND status = 'pending' AND created_at >= $2
ORDER BY created_at DESC
LIMIT 1;
`, email, cutoff)
	return scanOrder(row)
}

// MarkFulfilled links the dispatched task id; only a still-pending order can
// transition.
func (r *OrderRepositoryPG) MarkFulfilled(ctx context.Context, orderID, taskID string) error {
	tag, err := r.pool.Exec(ctx, `
UPDATE pending_orders
SET status = 'fulfilled', task_id = $2, updated_at = NOW()
WHERE id = $1 AND status = 'pending';
`, orderID, taskID)
	if err != nil {
		return fmt.Errorf("fulfill pending order: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrDuplicateEvent
	}
	return nil
}

// ExpireStale moves pending orders past the retention window to expired.
func (r *OrderRepositoryPG) ExpireStale(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
UPDATE pending_orders
SET status = 'expired', updated_at = NOW()
WHERE status = 'pending' AND created_at < $1;
`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("expire pending orders: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanOrder(row pgx.Row) (*domain.PendingOrder, error) {
	var o domain.PendingOrder
	if err := row.Scan(&o.ID, &o.AccountID, &o.Email, &o.RequestJSON, &o.TaskID, &o.Status, &o.CreatedAt, &o.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &o, nil
}
