package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/lead-service/internal/auth"
	"github.com/spec-kit/lead-service/internal/config"
	"github.com/spec-kit/lead-service/internal/domain"
	"github.com/spec-kit/lead-service/internal/repository"
	apperrors "github.com/spec-kit/lead-service/pkg/util/errorutil"
)

// AuthService coordinates login and password flows.
type AuthService struct {
	users      repository.UserRepository
	tokenMgr   *auth.TokenManager
	bcryptCost int
	bootstrap  config.AuthConfig
	logger     *zap.Logger
}

// AuthDependencies encapsulates repo requirements for auth service.
type AuthDependencies struct {
	UserRepo repository.UserRepository
	Logger   *zap.Logger
}

// NewAuthService builds the service.
func NewAuthService(cfg config.Config, deps AuthDependencies) *AuthService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthService{
		users:      deps.UserRepo,
		tokenMgr:   auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTLMinutes),
		bcryptCost: cfg.Auth.BcryptCost,
		bootstrap:  cfg.Auth,
		logger:     logger,
	}
}

// Login authenticates an identity and returns a signed token.
func (s *AuthService) Login(ctx context.Context, email, password string) (*domain.Identity, string, time.Time, error) {
	identity, err := s.users.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if errors.Is(err, repository.ErrNoRows) {
			return nil, "", time.Time{}, apperrors.NewUnauthorized("invalid credentials")
		}
		return nil, "", time.Time{}, apperrors.MapError(err)
	}
	if !identity.Active {
		return nil, "", time.Time{}, apperrors.NewUnauthorized("account inactive")
	}
	if err := auth.ComparePassword(identity.PasswordHash, password); err != nil {
		return nil, "", time.Time{}, apperrors.NewUnauthorized("invalid credentials")
	}
	token, exp, err := s.tokenMgr.GenerateToken(identity)
	if err != nil {
		return nil, "", time.Time{}, apperrors.NewInternalError(err)
	}
	return identity, token, exp, nil
}

// ChangePassword verifies the current password before storing the new hash.
func (s *AuthService) ChangePassword(ctx context.Context, actor *domain.Identity, currentPassword, newPassword string) error {
	if err := requireActor(actor); err != nil {
		return err
	}
	identity, err := s.users.GetByID(ctx, actor.ID)
	if err != nil {
		return notFound(err, "user", "user_id", actor.ID)
	}
	if err := auth.ComparePassword(identity.PasswordHash, currentPassword); err != nil {
		return apperrors.NewUnauthorized("invalid credentials")
	}
	hash, err := auth.HashPassword(newPassword, s.bcryptCost)
	if err != nil {
		if errors.Is(err, auth.ErrWeakPassword) {
			return apperrors.NewValidationError("password too short", map[string]any{"min_length": auth.MinPasswordLength})
		}
		return apperrors.NewInternalError(err)
	}
	identity.PasswordHash = hash
	return apperrors.MapError(s.users.Update(ctx, identity))
}

// EnsureBootstrapAdmin creates the configured admin when no active admin
// exists. It does nothing when no bootstrap credentials are configured.
func (s *AuthService) EnsureBootstrapAdmin(ctx context.Context) error {
	if s.bootstrap.BootstrapAdminEmail == "" || s.bootstrap.BootstrapAdminPass == "" {
		return nil
	}
	admins, err := s.users.CountActiveAdmins(ctx)
	if err != nil {
		return err
	}
	if admins > 0 {
		return nil
	}
	hash, err := auth.HashPassword(s.bootstrap.BootstrapAdminPass, s.bcryptCost)
	if err != nil {
		return err
	}
	admin := &domain.Identity{
		Name:         "Administrator",
		Email:        strings.ToLower(s.bootstrap.BootstrapAdminEmail),
		PasswordHash: hash,
		Role:         domain.RoleAdmin,
		Active:       true,
	}
	if err := s.users.Create(ctx, admin); err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			s.logger.Warn("bootstrap admin email already taken by a non-admin", zap.String("email", admin.Email))
			return nil
		}
		return err
	}
	s.logger.Info("bootstrap admin created", zap.String("user_id", admin.ID), zap.String("email", admin.Email))
	return nil
}

// TokenManager exposes the underlying token manager for middleware usage.
func (s *AuthService) TokenManager() *auth.TokenManager {
	return s.tokenMgr
}
