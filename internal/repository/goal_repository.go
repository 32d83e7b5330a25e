package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/lead-service/internal/domain"
	"github.com/spec-kit/lead-service/internal/persistence"
)

// GoalFilter narrows goal listings.
type GoalFilter struct {
	UserIDs  []string
	ActiveAt *time.Time
}

// GoalRepository persists goals and their achieved counters.
type GoalRepository interface {
	Create(ctx context.Context, goal *domain.Goal) error
	List(ctx context.Context, filter GoalFilter) ([]domain.Goal, error)
	// Increment adds by to achieved on the goal of userID and goalType whose
	// window contains asOf, as one atomic add. When windows overlap the most
	// recently started goal wins. It returns 0 when no goal matches.
	Increment(ctx context.Context, userID string, goalType domain.GoalType, asOf time.Time, by int) (int, error)
}

type goalRepository struct {
	pool *pgxpool.Pool
}

// NewGoalRepository builds repository.
func NewGoalRepository(pool *pgxpool.Pool) GoalRepository {
	return &goalRepository{pool: pool}
}

func (r *goalRepository) Create(ctx context.Context, goal *domain.Goal) error {
	const query = `
        INSERT INTO goals (user_id, type, period, target, achieved, start_date, end_date)
        VALUES ($1,$2,$3,$4,$5,$6,$7)
        RETURNING id, created_at, updated_at`
	return persistence.Conn(ctx, r.pool).QueryRow(ctx, query,
		goal.UserID,
		goal.Type,
		goal.Period,
		goal.Target,
		goal.Achieved,
		goal.StartDate,
		goal.EndDate,
	).Scan(&goal.ID, &goal.CreatedAt, &goal.UpdatedAt)
}

func (r *goalRepository) List(ctx context.Context, filter GoalFilter) ([]domain.Goal, error) {
	clauses := []string{"1=1"}
	args := []any{}

	if filter.UserIDs != nil {
		args = append(args, filter.UserIDs)
		clauses = append(clauses, fmt.Sprintf("user_id = ANY($%d::uuid[])", len(args)))
	}
	if filter.ActiveAt != nil {
		args = append(args, *filter.ActiveAt)
		clauses = append(clauses, fmt.Sprintf("start_date <= $%d AND end_date >= $%d", len(args), len(args)))
	}

	query := `
        SELECT id, user_id, type, period, target, achieved, start_date, end_date, created_at, updated_at
        FROM goals WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY start_date DESC, id`
	rows, err := persistence.Conn(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Goal
	for rows.Next() {
		var goal domain.Goal
		if err := rows.Scan(
			&goal.ID,
			&goal.UserID,
			&goal.Type,
			&goal.Period,
			&goal.Target,
			&goal.Achieved,
			&goal.StartDate,
			&goal.EndDate,
			&goal.CreatedAt,
			&goal.UpdatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, goal)
	}
	return result, rows.Err()
}

func (r *goalRepository) Increment(ctx context.Context, userID string, goalType domain.GoalType, asOf time.Time, by int) (int, error) {
	const query = `
        UPDATE goals SET achieved = achieved + $4, updated_at = NOW()
        WHERE id = (
            SELECT id FROM goals
            WHERE user_id=$1 AND type=$2 AND start_date <= $3 AND end_date >= $3
            ORDER BY start_date DESC, id
            LIMIT 1
        )`
	cmd, err := persistence.Conn(ctx, r.pool).Exec(ctx, query, userID, goalType, asOf, by)
	if err != nil {
		return 0, err
	}
	return int(cmd.RowsAffected()), nil
}
