package repository

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/spec-kit/lead-service/internal/domain"
)

var (
	// ErrNoRows is returned when a lookup or conditional update matches nothing.
	ErrNoRows = pgx.ErrNoRows
	// ErrDuplicatePhone means an active lead already holds the phone.
	ErrDuplicatePhone = errors.New("active lead with this phone already exists")
	// ErrDuplicateEmail means another user already holds the email.
	ErrDuplicateEmail = errors.New("user with this email already exists")
	// ErrInvalidTransition means a conditional status update found a lead that
	// has already left new.
	ErrInvalidTransition = domain.ErrRevertToNew
)

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
