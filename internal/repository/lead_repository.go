package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/lead-service/internal/domain"
	"github.com/spec-kit/lead-service/internal/persistence"
)

// LeadView selects a preset slice of the actor's scope.
type LeadView string

const (
	LeadViewAll        LeadView = "all"
	LeadViewMine       LeadView = "mine"
	LeadViewUnassigned LeadView = "unassigned"
	LeadViewTeam       LeadView = "team"
)

// LeadFilter captures lead search parameters. Scope is always applied.
type LeadFilter struct {
	Scope           domain.LeadScope
	Statuses        []domain.LeadStatus
	SearchTerm      *string
	AssignedTo      *string
	LeaderID        *string
	UnassignedOnly  bool
	IncludeInactive bool
	Limit           int
	Offset          int
}

// LeadPatch holds field-level changes. Nil fields are left untouched.
type LeadPatch struct {
	Name         *string
	Phone        *string
	Notes        *string
	Behaviour    *string
	NextCallDate *time.Time
	Source       *string
	UpdatedBy    string
}

// LeadRepository encapsulates lead persistence.
type LeadRepository interface {
	Create(ctx context.Context, lead *domain.Lead) error
	CreateBatch(ctx context.Context, leads []*domain.Lead) error
	GetByID(ctx context.Context, id string) (*domain.Lead, error)
	ListByIDs(ctx context.Context, ids []string) ([]domain.Lead, error)
	List(ctx context.Context, filter LeadFilter) ([]domain.Lead, error)
	Count(ctx context.Context, filter LeadFilter) (int, error)
	ActivePhones(ctx context.Context, phones []string) (map[string]bool, error)
	Update(ctx context.Context, id string, patch LeadPatch) (*domain.Lead, error)
	Assign(ctx context.Context, ids []string, assignedTo, leaderID *string, actorID string) (int, error)
	// TransitionStatus applies the status and patch in one conditional update.
	// fired is true only for the single writer that moved the lead out of new.
	TransitionStatus(ctx context.Context, id string, status domain.LeadStatus, patch LeadPatch, now time.Time) (lead *domain.Lead, fired bool, err error)
	// BulkTransition returns the number of updated leads and the ids that left new.
	BulkTransition(ctx context.Context, ids []string, status domain.LeadStatus, actorID string, now time.Time) (int, []string, error)
	Deactivate(ctx context.Context, id, actorID string) error
	TouchLastCall(ctx context.Context, id string, at time.Time) error
	RelinkLeader(ctx context.Context, assignedTo string, leaderID *string) (int, error)
	Summary(ctx context.Context, scope domain.LeadScope, since time.Time) (*domain.DashboardSummary, error)
}

const leadColumns = `id, name, phone, status, notes, behaviour, assigned_to, leader_id, created_by, updated_by,
               call_count, last_call_at, next_call_date, source, active, created_at, updated_at`

type leadRepository struct {
	pool *pgxpool.Pool
}

// NewLeadRepository instantiates repository.
func NewLeadRepository(pool *pgxpool.Pool) LeadRepository {
	return &leadRepository{pool: pool}
}

const insertLead = `
        INSERT INTO leads (name, phone, status, notes, behaviour, assigned_to, leader_id, created_by, next_call_date, source)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
        RETURNING id, call_count, active, created_at, updated_at`

func insertArgs(lead *domain.Lead) []any {
	if lead.Status == "" {
		lead.Status = domain.LeadStatusNew
	}
	return []any{
		lead.Name,
		lead.Phone,
		lead.Status,
		lead.Notes,
		lead.Behaviour,
		lead.AssignedTo,
		lead.LeaderID,
		lead.CreatedBy,
		lead.NextCallDate,
		lead.Source,
	}
}

func (r *leadRepository) Create(ctx context.Context, lead *domain.Lead) error {
	err := persistence.Conn(ctx, r.pool).QueryRow(ctx, insertLead, insertArgs(lead)...).
		Scan(&lead.ID, &lead.CallCount, &lead.Active, &lead.CreatedAt, &lead.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrDuplicatePhone
	}
	return err
}

func (r *leadRepository) CreateBatch(ctx context.Context, leads []*domain.Lead) error {
	if len(leads) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, lead := range leads {
		batch.Queue(insertLead, insertArgs(lead)...)
	}

	results := persistence.Conn(ctx, r.pool).SendBatch(ctx, batch)
	defer results.Close()

	for _, lead := range leads {
		err := results.QueryRow().Scan(&lead.ID, &lead.CallCount, &lead.Active, &lead.CreatedAt, &lead.UpdatedAt)
		if isUniqueViolation(err) {
			return ErrDuplicatePhone
		}
		if err != nil {
			return err
		}
	}
	return results.Close()
}

func (r *leadRepository) GetByID(ctx context.Context, id string) (*domain.Lead, error) {
	query := `SELECT ` + leadColumns + ` FROM leads WHERE id=$1 AND active`
	return scanLead(persistence.Conn(ctx, r.pool).QueryRow(ctx, query, id))
}

func (r *leadRepository) ListByIDs(ctx context.Context, ids []string) ([]domain.Lead, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `SELECT ` + leadColumns + ` FROM leads WHERE id = ANY($1::uuid[]) AND active ORDER BY created_at`
	rows, err := persistence.Conn(ctx, r.pool).Query(ctx, query, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanLeads(rows)
}

func (r *leadRepository) List(ctx context.Context, filter LeadFilter) ([]domain.Lead, error) {
	where, args := leadWhere(filter)

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	query := fmt.Sprintf(`SELECT %s FROM leads WHERE %s ORDER BY updated_at DESC, id LIMIT %d OFFSET %d`,
		leadColumns, where, limit, offset)

	rows, err := persistence.Conn(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanLeads(rows)
}

func (r *leadRepository) Count(ctx context.Context, filter LeadFilter) (int, error) {
	where, args := leadWhere(filter)
	var total int
	err := persistence.Conn(ctx, r.pool).QueryRow(ctx, `SELECT COUNT(*) FROM leads WHERE `+where, args...).Scan(&total)
	return total, err
}

func leadWhere(filter LeadFilter) (string, []any) {
	args := []any{}
	clauses := []string{scopeClause(filter.Scope, "", &args)}

	if !filter.IncludeInactive {
		clauses = append(clauses, "active")
	}
	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, status := range filter.Statuses {
			args = append(args, status)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		clauses = append(clauses, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}
	if filter.AssignedTo != nil {
		args = append(args, *filter.AssignedTo)
		clauses = append(clauses, fmt.Sprintf("assigned_to=$%d", len(args)))
	}
	if filter.LeaderID != nil {
		args = append(args, *filter.LeaderID)
		clauses = append(clauses, fmt.Sprintf("leader_id=$%d", len(args)))
	}
	if filter.UnassignedOnly {
		clauses = append(clauses, "assigned_to IS NULL")
	}
	if filter.SearchTerm != nil && strings.TrimSpace(*filter.SearchTerm) != "" {
		search := "%" + strings.ToLower(strings.TrimSpace(*filter.SearchTerm)) + "%"
		args = append(args, search)
		placeholder := fmt.Sprintf("$%d", len(args))
		clauses = append(clauses, fmt.Sprintf("(LOWER(name) LIKE %s OR phone LIKE %s)", placeholder, placeholder))
	}
	return strings.Join(clauses, " AND "), args
}

// scopeClause renders a LeadScope as a SQL predicate on the given table alias.
func scopeClause(scope domain.LeadScope, alias string, args *[]any) string {
	if scope.All {
		return "TRUE"
	}
	var ors []string
	if scope.AssignedTo != nil {
		*args = append(*args, *scope.AssignedTo)
		ors = append(ors, fmt.Sprintf("%sassigned_to=$%d", alias, len(*args)))
	}
	if scope.LeaderID != nil {
		*args = append(*args, *scope.LeaderID)
		ors = append(ors, fmt.Sprintf("%sleader_id=$%d", alias, len(*args)))
	}
	if scope.IncludeUnassigned {
		ors = append(ors, alias+"assigned_to IS NULL")
	}
	if len(ors) == 0 {
		return "FALSE"
	}
	return "(" + strings.Join(ors, " OR ") + ")"
}

func (r *leadRepository) ActivePhones(ctx context.Context, phones []string) (map[string]bool, error) {
	found := make(map[string]bool)
	if len(phones) == 0 {
		return found, nil
	}
	rows, err := persistence.Conn(ctx, r.pool).Query(ctx, `SELECT phone FROM leads WHERE active AND phone = ANY($1)`, phones)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var phone string
		if err := rows.Scan(&phone); err != nil {
			return nil, err
		}
		found[phone] = true
	}
	return found, rows.Err()
}

func (r *leadRepository) Update(ctx context.Context, id string, patch LeadPatch) (*domain.Lead, error) {
	query := `
        UPDATE leads SET name=COALESCE($2, name), notes=COALESCE($3, notes), behaviour=COALESCE($4, behaviour),
            next_call_date=COALESCE($5, next_call_date), source=COALESCE($6, source), updated_by=$7,
            phone=COALESCE($8, phone), updated_at=NOW()
        WHERE id=$1 AND active
        RETURNING ` + leadColumns
	lead, err := scanLead(persistence.Conn(ctx, r.pool).QueryRow(ctx, query,
		id, patch.Name, patch.Notes, patch.Behaviour, patch.NextCallDate, patch.Source, patch.UpdatedBy, patch.Phone))
	if isUniqueViolation(err) {
		return nil, ErrDuplicatePhone
	}
	return lead, err
}

func (r *leadRepository) Assign(ctx context.Context, ids []string, assignedTo, leaderID *string, actorID string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	const query = `
        UPDATE leads SET assigned_to=$2, leader_id=$3, updated_by=$4, updated_at=NOW()
        WHERE id = ANY($1::uuid[]) AND active`
	cmd, err := persistence.Conn(ctx, r.pool).Exec(ctx, query, ids, assignedTo, leaderID, actorID)
	if err != nil {
		return 0, err
	}
	return int(cmd.RowsAffected()), nil
}

func (r *leadRepository) TransitionStatus(ctx context.Context, id string, status domain.LeadStatus, patch LeadPatch, now time.Time) (*domain.Lead, bool, error) {
	q := persistence.Conn(ctx, r.pool)

	// Only the writer that still sees status='new' counts the call.
	firstContact := `
        UPDATE leads SET status=$2, call_count=call_count+1, last_call_at=$3,
            notes=COALESCE($4, notes), behaviour=COALESCE($5, behaviour), next_call_date=COALESCE($6, next_call_date),
            updated_by=$7, updated_at=NOW()
        WHERE id=$1 AND active AND status='new' AND $2::text <> 'new'
        RETURNING ` + leadColumns
	lead, err := scanLead(q.QueryRow(ctx, firstContact,
		id, string(status), now, patch.Notes, patch.Behaviour, patch.NextCallDate, patch.UpdatedBy))
	if err == nil {
		return lead, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, err
	}

	plain := `
        UPDATE leads SET status=$2,
            notes=COALESCE($3, notes), behaviour=COALESCE($4, behaviour), next_call_date=COALESCE($5, next_call_date),
            updated_by=$6, updated_at=NOW()
        WHERE id=$1 AND active AND ($2::text <> 'new' OR status='new')
        RETURNING ` + leadColumns
	lead, err = scanLead(q.QueryRow(ctx, plain,
		id, string(status), patch.Notes, patch.Behaviour, patch.NextCallDate, patch.UpdatedBy))
	if err == nil {
		return lead, false, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, err
	}

	var exists bool
	if err := q.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM leads WHERE id=$1 AND active)`, id).Scan(&exists); err != nil {
		return nil, false, err
	}
	if !exists {
		return nil, false, pgx.ErrNoRows
	}
	return nil, false, ErrInvalidTransition
}

func (r *leadRepository) BulkTransition(ctx context.Context, ids []string, status domain.LeadStatus, actorID string, now time.Time) (int, []string, error) {
	if len(ids) == 0 {
		return 0, nil, nil
	}
	q := persistence.Conn(ctx, r.pool)

	const firstContact = `
        UPDATE leads SET status=$2, call_count=call_count+1, last_call_at=$3, updated_by=$4, updated_at=NOW()
        WHERE id = ANY($1::uuid[]) AND active AND status='new' AND $2::text <> 'new'
        RETURNING id`
	rows, err := q.Query(ctx, firstContact, ids, string(status), now, actorID)
	if err != nil {
		return 0, nil, err
	}
	fired, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return 0, nil, err
	}
	if fired == nil {
		fired = []string{}
	}

	const rest = `
        UPDATE leads SET status=$2, updated_by=$3, updated_at=NOW()
        WHERE id = ANY($1::uuid[]) AND active AND NOT (id = ANY($4::uuid[]))
          AND ($2::text <> 'new' OR status='new')`
	cmd, err := q.Exec(ctx, rest, ids, string(status), actorID, fired)
	if err != nil {
		return 0, nil, err
	}
	return len(fired) + int(cmd.RowsAffected()), fired, nil
}

func (r *leadRepository) Deactivate(ctx context.Context, id, actorID string) error {
	cmd, err := persistence.Conn(ctx, r.pool).Exec(ctx,
		`UPDATE leads SET active=FALSE, updated_by=$2, updated_at=NOW() WHERE id=$1 AND active`, id, actorID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *leadRepository) TouchLastCall(ctx context.Context, id string, at time.Time) error {
	cmd, err := persistence.Conn(ctx, r.pool).Exec(ctx,
		`UPDATE leads SET last_call_at=$2, updated_at=NOW() WHERE id=$1 AND active`, id, at)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *leadRepository) RelinkLeader(ctx context.Context, assignedTo string, leaderID *string) (int, error) {
	cmd, err := persistence.Conn(ctx, r.pool).Exec(ctx,
		`UPDATE leads SET leader_id=$2, updated_at=NOW() WHERE assigned_to=$1`, assignedTo, leaderID)
	if err != nil {
		return 0, err
	}
	return int(cmd.RowsAffected()), nil
}

func (r *leadRepository) Summary(ctx context.Context, scope domain.LeadScope, since time.Time) (*domain.DashboardSummary, error) {
	q := persistence.Conn(ctx, r.pool)
	summary := &domain.DashboardSummary{StatusBreakdown: map[domain.LeadStatus]int{}}

	args := []any{}
	where := "l.active AND " + scopeClause(scope, "l.", &args)

	rows, err := q.Query(ctx, `SELECT l.status, COUNT(*) FROM leads l WHERE `+where+` GROUP BY l.status`, args...)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var status domain.LeadStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			rows.Close()
			return nil, err
		}
		summary.StatusBreakdown[status] = count
		summary.TotalLeads += count
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	todayArgs := append(append([]any{}, args...), since)
	todayQuery := fmt.Sprintf(`SELECT COUNT(*) FROM leads l WHERE %s AND l.last_call_at >= $%d`, where, len(todayArgs))
	if err := q.QueryRow(ctx, todayQuery, todayArgs...).Scan(&summary.TodayCalls); err != nil {
		return nil, err
	}

	topQuery := `
        SELECT u.id, u.email, u.role, COUNT(*) AS total
        FROM leads l JOIN users u ON u.id = l.assigned_to
        WHERE ` + where + `
        GROUP BY u.id, u.email, u.role
        ORDER BY total DESC, u.email
        LIMIT 5`
	rows, err = q.Query(ctx, topQuery, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var entry domain.AssigneeCount
		if err := rows.Scan(&entry.ID, &entry.Email, &entry.Role, &entry.Count); err != nil {
			return nil, err
		}
		summary.TopAssignees = append(summary.TopAssignees, entry)
	}
	return summary, rows.Err()
}

func scanLead(row pgx.Row) (*domain.Lead, error) {
	var lead domain.Lead
	if err := row.Scan(
		&lead.ID,
		&lead.Name,
		&lead.Phone,
		&lead.Status,
		&lead.Notes,
		&lead.Behaviour,
		&lead.AssignedTo,
		&lead.LeaderID,
		&lead.CreatedBy,
		&lead.UpdatedBy,
		&lead.CallCount,
		&lead.LastCallAt,
		&lead.NextCallDate,
		&lead.Source,
		&lead.Active,
		&lead.CreatedAt,
		&lead.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &lead, nil
}

func scanLeads(rows pgx.Rows) ([]domain.Lead, error) {
	var result []domain.Lead
	for rows.Next() {
		lead, err := scanLead(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *lead)
	}
	return result, rows.Err()
}
