package errorutil

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToDomainErrorMapsNoRowsToNotFound(t *testing.T) {
	domainErr := ToDomainError(fmt.Errorf("load lead: %w", pgx.ErrNoRows))

	require.NotNil(t, domainErr)
	assert.Equal(t, CodeNotFound, domainErr.Code)
	assert.Equal(t, http.StatusNotFound, domainErr.HTTPStatus)
}

func TestToDomainErrorWrapsUnknownAsInternal(t *testing.T) {
	cause := errors.New("connection reset")
	domainErr := ToDomainError(cause)

	assert.Equal(t, CodeInternal, domainErr.Code)
	assert.ErrorIs(t, domainErr, cause)
}

func TestToDomainErrorKeepsDomainErrors(t *testing.T) {
	original := NewConflict("lead already exists", map[string]any{"phone": "9998887777"})
	wrapped := fmt.Errorf("create: %w", original)

	assert.Same(t, original, ToDomainError(wrapped))
	assert.Nil(t, ToDomainError(nil))
	assert.NoError(t, MapError(nil))
}

func TestForbiddenReason(t *testing.T) {
	err := NewForbiddenReason(ForbiddenScopeMismatch, "lead outside your scope")

	assert.True(t, HasCode(err, CodeForbidden))
	assert.Equal(t, ForbiddenScopeMismatch, ForbiddenReason(err))
	assert.Equal(t, ForbiddenRoleIncapable, ForbiddenReason(NewForbidden("admin role required")))
	assert.Equal(t, ForbiddenKind(""), ForbiddenReason(NewValidationError("bad", nil)))
}

func TestInvalidTransitionStatus(t *testing.T) {
	err := NewInvalidTransition("cannot revert", nil)

	assert.True(t, HasCode(err, CodeInvalidTransition))
	assert.Equal(t, http.StatusUnprocessableEntity, ToDomainError(err).HTTPStatus)
}

func TestToDomainErrorMapsMalformedUUIDToValidation(t *testing.T) {
	pgErr := &pgconn.PgError{Code: "22P02", Message: "invalid input syntax for type uuid"}
	domainErr := ToDomainError(fmt.Errorf("load lead: %w", pgErr))

	assert.Equal(t, CodeValidation, domainErr.Code)
	assert.Equal(t, http.StatusBadRequest, domainErr.HTTPStatus)
}
