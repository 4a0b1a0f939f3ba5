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

// TrackRepositoryPG implements domain.TrackRepository.
type TrackRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewTrackRepository creates a new track repository backed by PostgreSQL.
func NewTrackRepository(pool *pgxpool.Pool) *TrackRepositoryPG {
	return &TrackRepositoryPG{pool: pool}
}

// Create inserts a new track record for a submitted provider task.
func (r *TrackRepositoryPG) Create(ctx context.Context, track *domain.Track) error {
	query := `
INSERT INTO tracks (id, task_id, account_id, action, model, title, status, result_json)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8);
`
	_, err := r.pool.Exec(ctx, query,
		track.ID, track.TaskID, track.AccountID, track.Action, track.Model, track.Title, track.Status, nullableBytes(track.ResultJSON))
	if err != nil {
		return fmt.Errorf("create track: %w", err)
	}
	return nil
}

// GetByTaskID fetches a track by the provider task identifier.
func (r *TrackRepositoryPG) GetByTaskID(ctx context.Context, taskID string) (*domain.Track, error) {
	row := r.pool.QueryRow(ctx, `
SELECT id, task_id, account_id, action, model, title, status, COALESCE(result_json, '{}'::jsonb), created_at, updated_at
FROM tracks WHERE task_id = $1;
`, taskID)
	var t domain.Track
	if err := row.Scan(&t.ID, &t.TaskID, &t.AccountID, &t.Action, &t.Model, &t.Title, &t.Status, &t.ResultJSON, &t.CreatedAt, &t.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &t, nil
}

// UpdateStatus stores the state reported by a provider callback.
func (r *TrackRepositoryPG) UpdateStatus(ctx context.Context, taskID string, status domain.TrackStatus, resultJSON []byte) error {
	query := `
UPDATE tracks
SET status = $2,
    result_json = COALESCE($3, result_json),
    updated_at = NOW()
WHERE task_id = $1;
`
	_, err := r.pool.Exec(ctx, query, taskID, status, nullableBytes(resultJSON))
	if err != nil {
		return fmt.Errorf("update track status: %w", err)
	}
	return nil
}

// PruneOlderThan removes track records past the retention window.
func (r *TrackRepositoryPG) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM tracks WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune tracks: %w", err)
	}
	return tag.RowsAffected(), nil
}

func nullableBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}
