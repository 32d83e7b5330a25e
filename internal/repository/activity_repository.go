package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/lead-service/internal/domain"
)

// ActivityRepository stores append-only audit entries.
type ActivityRepository interface {
	Append(ctx context.Context, record *domain.ActivityRecord) error
	ListByTarget(ctx context.Context, targetID string, limit int) ([]domain.ActivityRecord, error)
}

type activityRepository struct {
	pool *pgxpool.Pool
}

// NewActivityRepository builds repository.
func NewActivityRepository(pool *pgxpool.Pool) ActivityRepository {
	return &activityRepository{pool: pool}
}

// Append always uses the pool so an audit entry never joins the caller's
// transaction.
func (r *activityRepository) Append(ctx context.Context, record *domain.ActivityRecord) error {
	const query = `
        INSERT INTO activity_log (actor_id, action, target_id, metadata, created_at)
        VALUES ($1,$2,$3,$4,$5)
        RETURNING id`
	metadata := record.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	return r.pool.QueryRow(ctx, query,
		record.ActorID,
		record.Action,
		record.TargetID,
		metadata,
		record.CreatedAt,
	).Scan(&record.ID)
}

func (r *activityRepository) ListByTarget(ctx context.Context, targetID string, limit int) ([]domain.ActivityRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	const query = `
        SELECT id, actor_id, action, target_id, metadata, created_at
        FROM activity_log WHERE target_id=$1 ORDER BY created_at DESC, id LIMIT $2`
	rows, err := r.pool.Query(ctx, query, targetID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.ActivityRecord
	for rows.Next() {
		var record domain.ActivityRecord
		if err := rows.Scan(
			&record.ID,
			&record.ActorID,
			&record.Action,
			&record.TargetID,
			&record.Metadata,
			&record.CreatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, record)
	}
	return result, rows.Err()
}
