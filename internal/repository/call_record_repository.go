package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/lead-service/internal/domain"
	"github.com/spec-kit/lead-service/internal/persistence"
)

// CallFilter narrows the call log. LeadScope, when set, restricts calls to
// leads inside that scope.
type CallFilter struct {
	LeadID    *string
	CallerID  *string
	LeadScope *domain.LeadScope
	Limit     int
	Offset    int
}

// CallRecordRepository stores immutable call log entries.
type CallRecordRepository interface {
	Create(ctx context.Context, record *domain.CallRecord) error
	List(ctx context.Context, filter CallFilter) ([]domain.CallRecord, int, error)
}

type callRecordRepository struct {
	pool *pgxpool.Pool
}

// NewCallRecordRepository builds repository.
func NewCallRecordRepository(pool *pgxpool.Pool) CallRecordRepository {
	return &callRecordRepository{pool: pool}
}

func (r *callRecordRepository) Create(ctx context.Context, record *domain.CallRecord) error {
	const query = `
        INSERT INTO call_records (lead_id, caller_id, result, remarks, duration_seconds, created_at)
        VALUES ($1,$2,$3,$4,$5,$6)
        RETURNING id`
	return persistence.Conn(ctx, r.pool).QueryRow(ctx, query,
		record.LeadID,
		record.CallerID,
		record.Result,
		record.Remarks,
		record.DurationSeconds,
		record.CreatedAt,
	).Scan(&record.ID)
}

func (r *callRecordRepository) List(ctx context.Context, filter CallFilter) ([]domain.CallRecord, int, error) {
	clauses := []string{"1=1"}
	args := []any{}

	if filter.LeadID != nil {
		args = append(args, *filter.LeadID)
		clauses = append(clauses, fmt.Sprintf("c.lead_id=$%d", len(args)))
	}
	if filter.CallerID != nil {
		args = append(args, *filter.CallerID)
		clauses = append(clauses, fmt.Sprintf("c.caller_id=$%d", len(args)))
	}
	if filter.LeadScope != nil {
		clauses = append(clauses, scopeClause(*filter.LeadScope, "l.", &args))
	}
	from := `call_records c JOIN leads l ON l.id = c.lead_id WHERE ` + strings.Join(clauses, " AND ")

	q := persistence.Conn(ctx, r.pool)
	var total int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM `+from, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	query := fmt.Sprintf(`
        SELECT c.id, c.lead_id, c.caller_id, c.result, c.remarks, c.duration_seconds, c.created_at
        FROM %s ORDER BY c.created_at DESC, c.id LIMIT %d OFFSET %d`, from, limit, offset)

	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var result []domain.CallRecord
	for rows.Next() {
		var record domain.CallRecord
		if err := rows.Scan(
			&record.ID,
			&record.LeadID,
			&record.CallerID,
			&record.Result,
			&record.Remarks,
			&record.DurationSeconds,
			&record.CreatedAt,
		); err != nil {
			return nil, 0, err
		}
		result = append(result, record)
	}
	return result, total, rows.Err()
}

