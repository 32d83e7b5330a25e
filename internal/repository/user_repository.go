package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/lead-service/internal/domain"
	"github.com/spec-kit/lead-service/internal/persistence"
)

// UserFilter captures directory search parameters.
type UserFilter struct {
	Role *domain.Role
	// TeamRoot restricts results to the given leader and their callers.
	TeamRoot        *string
	SearchTerm      *string
	IncludeInactive bool
	Limit           int
	Offset          int
}

// UserRepository defines persistence access for staff identities.
type UserRepository interface {
	Create(ctx context.Context, user *domain.Identity) error
	Update(ctx context.Context, user *domain.Identity) error
	GetByID(ctx context.Context, id string) (*domain.Identity, error)
	GetByEmail(ctx context.Context, email string) (*domain.Identity, error)
	// GetByEmails resolves active users keyed by lower-cased email.
	GetByEmails(ctx context.Context, emails []string) (map[string]*domain.Identity, error)
	List(ctx context.Context, filter UserFilter) ([]domain.Identity, int, error)
	LeaderOf(ctx context.Context, callerID string) (*string, error)
	TeamOf(ctx context.Context, leaderID string) ([]string, error)
	// CountActiveAdmins counts active admins. Inside a transaction their rows
	// stay locked until commit, so concurrent demotions and deletions of
	// admins are serialized.
	CountActiveAdmins(ctx context.Context) (int, error)
	Deactivate(ctx context.Context, id string) error
}

const userColumns = `id, name, email, password_hash, role, leader_id, active, created_at, updated_at`

type userRepository struct {
	pool *pgxpool.Pool
}

// NewUserRepository returns a Postgres-backed implementation.
func NewUserRepository(pool *pgxpool.Pool) UserRepository {
	return &userRepository{pool: pool}
}

func (r *userRepository) Create(ctx context.Context, user *domain.Identity) error {
	const query = `
        INSERT INTO users (name, email, password_hash, role, leader_id)
        VALUES ($1, $2, $3, $4, $5)
        RETURNING id, active, created_at, updated_at`

	err := persistence.Conn(ctx, r.pool).QueryRow(ctx, query,
		user.Name,
		strings.ToLower(user.Email),
		user.PasswordHash,
		user.Role,
		user.LeaderID,
	).Scan(&user.ID, &user.Active, &user.CreatedAt, &user.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrDuplicateEmail
	}
	return err
}

func (r *userRepository) Update(ctx context.Context, user *domain.Identity) error {
	const query = `
        UPDATE users SET name=$1, email=$2, password_hash=$3, role=$4, leader_id=$5, active=$6, updated_at=NOW()
        WHERE id=$7`

	cmd, err := persistence.Conn(ctx, r.pool).Exec(ctx, query,
		user.Name,
		strings.ToLower(user.Email),
		user.PasswordHash,
		user.Role,
		user.LeaderID,
		user.Active,
		user.ID,
	)
	if isUniqueViolation(err) {
		return ErrDuplicateEmail
	}
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *userRepository) GetByID(ctx context.Context, id string) (*domain.Identity, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id=$1`
	return scanUser(persistence.Conn(ctx, r.pool).QueryRow(ctx, query, id))
}

func (r *userRepository) GetByEmail(ctx context.Context, email string) (*domain.Identity, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email=$1`
	return scanUser(persistence.Conn(ctx, r.pool).QueryRow(ctx, query, strings.ToLower(email)))
}

func (r *userRepository) GetByEmails(ctx context.Context, emails []string) (map[string]*domain.Identity, error) {
	result := make(map[string]*domain.Identity, len(emails))
	if len(emails) == 0 {
		return result, nil
	}
	lowered := make([]string, len(emails))
	for i, email := range emails {
		lowered[i] = strings.ToLower(email)
	}

	query := `SELECT ` + userColumns + ` FROM users WHERE active AND email = ANY($1)`
	rows, err := persistence.Conn(ctx, r.pool).Query(ctx, query, lowered)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		result[user.Email] = user
	}
	return result, rows.Err()
}

func (r *userRepository) List(ctx context.Context, filter UserFilter) ([]domain.Identity, int, error) {
	clauses := []string{"1=1"}
	args := []any{}

	if !filter.IncludeInactive {
		clauses = append(clauses, "active")
	}
	if filter.Role != nil {
		args = append(args, *filter.Role)
		clauses = append(clauses, fmt.Sprintf("role=$%d", len(args)))
	}
	if filter.TeamRoot != nil {
		args = append(args, *filter.TeamRoot)
		clauses = append(clauses, fmt.Sprintf("(id=$%d OR leader_id=$%d)", len(args), len(args)))
	}
	if filter.SearchTerm != nil && strings.TrimSpace(*filter.SearchTerm) != "" {
		args = append(args, "%"+strings.ToLower(strings.TrimSpace(*filter.SearchTerm))+"%")
		placeholder := fmt.Sprintf("$%d", len(args))
		clauses = append(clauses, fmt.Sprintf("(LOWER(name) LIKE %s OR email LIKE %s)", placeholder, placeholder))
	}
	where := strings.Join(clauses, " AND ")

	q := persistence.Conn(ctx, r.pool)
	var total int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM users WHERE `+where, args...).Scan(&total); err != nil {
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
	query := fmt.Sprintf(`SELECT %s FROM users WHERE %s ORDER BY created_at DESC, id LIMIT %d OFFSET %d`,
		userColumns, where, limit, offset)

	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var users []domain.Identity
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, 0, err
		}
		users = append(users, *user)
	}
	return users, total, rows.Err()
}

func (r *userRepository) LeaderOf(ctx context.Context, callerID string) (*string, error) {
	var leaderID *string
	err := persistence.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT leader_id FROM users WHERE id=$1 AND role='caller'`, callerID).Scan(&leaderID)
	if err != nil {
		return nil, err
	}
	return leaderID, nil
}

func (r *userRepository) TeamOf(ctx context.Context, leaderID string) ([]string, error) {
	rows, err := persistence.Conn(ctx, r.pool).Query(ctx,
		`SELECT id FROM users WHERE leader_id=$1 AND role='caller' AND active ORDER BY created_at`, leaderID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (r *userRepository) CountActiveAdmins(ctx context.Context) (int, error) {
	rows, err := persistence.Conn(ctx, r.pool).Query(ctx,
		`SELECT id FROM users WHERE role='admin' AND active ORDER BY id FOR UPDATE`)
	if err != nil {
		return 0, err
	}
	defer rows.Close()
	count := 0
	for rows.Next() {
		count++
	}
	return count, rows.Err()
}

func (r *userRepository) Deactivate(ctx context.Context, id string) error {
	cmd, err := persistence.Conn(ctx, r.pool).Exec(ctx,
		`UPDATE users SET active=FALSE, updated_at=NOW() WHERE id=$1 AND active`, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func scanUser(row pgx.Row) (*domain.Identity, error) {
	var user domain.Identity
	if err := row.Scan(
		&user.ID,
		&user.Name,
		&user.Email,
		&user.PasswordHash,
		&user.Role,
		&user.LeaderID,
		&user.Active,
		&user.CreatedAt,
		&user.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &user, nil
}
