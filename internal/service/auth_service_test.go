package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/lead-service/internal/auth"
	"github.com/spec-kit/lead-service/internal/config"
	"github.com/spec-kit/lead-service/internal/domain"
	"github.com/spec-kit/lead-service/internal/repository/memory"
	apperrors "github.com/spec-kit/lead-service/pkg/util/errorutil"
)

func authConfig() config.Config {
	return config.Config{Auth: config.AuthConfig{
		JWTSecret:             "secret",
		AccessTokenTTLMinutes: 5,
		BcryptCost:            4,
		BootstrapAdminEmail:   "Root@Example.com",
		BootstrapAdminPass:    "bootstrap-pass",
	}}
}

func TestBootstrapAdminAndLogin(t *testing.T) {
	store := memory.NewStore()
	svc := NewAuthService(authConfig(), AuthDependencies{UserRepo: store.Users()})
	ctx := context.Background()

	require.NoError(t, svc.EnsureBootstrapAdmin(ctx))
	require.NoError(t, svc.EnsureBootstrapAdmin(ctx))
	admins, err := store.Users().CountActiveAdmins(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, admins)

	identity, token, _, err := svc.Login(ctx, " root@example.com ", "bootstrap-pass")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleAdmin, identity.Role)

	claims, err := svc.TokenManager().ParseToken(token)
	require.NoError(t, err)
	assert.Equal(t, identity.ID, claims.Subject)

	_, _, _, err = svc.Login(ctx, "root@example.com", "wrong-password")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeUnauthorized))
	_, _, _, err = svc.Login(ctx, "nobody@example.com", "bootstrap-pass")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeUnauthorized))
}

func TestLoginRejectsInactiveIdentity(t *testing.T) {
	store := memory.NewStore()
	svc := NewAuthService(authConfig(), AuthDependencies{UserRepo: store.Users()})
	ctx := context.Background()
	hash, err := auth.HashPassword("password123", 4)
	require.NoError(t, err)
	user := &domain.Identity{Name: "C", Email: "c@example.com", PasswordHash: hash, Role: domain.RoleAdmin, Active: true}
	require.NoError(t, store.Users().Create(ctx, user))
	require.NoError(t, store.Users().Deactivate(ctx, user.ID))

	_, _, _, err = svc.Login(ctx, "c@example.com", "password123")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeUnauthorized))
}

func TestChangePassword(t *testing.T) {
	store := memory.NewStore()
	svc := NewAuthService(authConfig(), AuthDependencies{UserRepo: store.Users()})
	ctx := context.Background()
	require.NoError(t, svc.EnsureBootstrapAdmin(ctx))
	admin, _, _, err := svc.Login(ctx, "root@example.com", "bootstrap-pass")
	require.NoError(t, err)

	err = svc.ChangePassword(ctx, admin, "wrong", "new-password")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeUnauthorized))
	err = svc.ChangePassword(ctx, admin, "bootstrap-pass", "short")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation))

	require.NoError(t, svc.ChangePassword(ctx, admin, "bootstrap-pass", "new-password"))
	_, _, _, err = svc.Login(ctx, "root@example.com", "new-password")
	assert.NoError(t, err)
}
