package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/spec-kit/lead-service/internal/auth"
	"github.com/spec-kit/lead-service/internal/config"
	"github.com/spec-kit/lead-service/internal/domain"
	"github.com/spec-kit/lead-service/internal/events"
	"github.com/spec-kit/lead-service/internal/persistence"
	"github.com/spec-kit/lead-service/internal/policy"
	"github.com/spec-kit/lead-service/internal/repository"
	apperrors "github.com/spec-kit/lead-service/pkg/util/errorutil"
)

// DirectoryService manages identities and the leader/caller hierarchy.
type DirectoryService struct {
	users      repository.UserRepository
	leads      repository.LeadRepository
	goals      repository.GoalRepository
	tx         persistence.TxManager
	policy     *policy.Engine
	validate   *validator.Validate
	bcryptCost int
	rec        recorder
}

// DirectoryDependencies bundles collaborators for DirectoryService.
type DirectoryDependencies struct {
	UserRepo   repository.UserRepository
	LeadRepo   repository.LeadRepository
	GoalRepo   repository.GoalRepository
	Tx         persistence.TxManager
	Policy     *policy.Engine
	Activity   *ActivityService
	Dispatcher events.Dispatcher
	Clock      func() time.Time
}

// UserCreateInput describes a new identity.
type UserCreateInput struct {
	Name     string
	Email    string
	Password string
	Role     domain.Role
	LeaderID *string
}

// UserUpdateInput is a partial identity update. ClearLeader removes the
// leader reference; it is only valid together with a role change away from
// caller.
type UserUpdateInput struct {
	Name        *string
	Email       *string
	Password    *string
	Role        *domain.Role
	LeaderID    *string
	ClearLeader bool
}

// UserListFilter narrows directory listings.
type UserListFilter struct {
	Role            *domain.Role
	Search          *string
	IncludeInactive bool
	Limit           int
	Offset          int
}

// UserDetail is an identity with its goals that are active right now.
type UserDetail struct {
	User  *domain.Identity
	Goals []domain.Goal
}

// NewDirectoryService constructs the service.
func NewDirectoryService(cfg config.Config, deps DirectoryDependencies) *DirectoryService {
	return &DirectoryService{
		users:      deps.UserRepo,
		leads:      deps.LeadRepo,
		goals:      deps.GoalRepo,
		tx:         deps.Tx,
		policy:     deps.Policy,
		validate:   validator.New(),
		bcryptCost: cfg.Auth.BcryptCost,
		rec:        newRecorder(deps.Activity, deps.Dispatcher, nil, nil, deps.Clock),
	}
}

// LeaderOf returns the leader of a caller, or nil when they have none.
func (s *DirectoryService) LeaderOf(ctx context.Context, callerID string) (*string, error) {
	leaderID, err := s.users.LeaderOf(ctx, callerID)
	if err != nil {
		return nil, notFound(err, "caller", "user_id", callerID)
	}
	return leaderID, nil
}

// TeamOf returns the active callers reporting to leaderID.
func (s *DirectoryService) TeamOf(ctx context.Context, leaderID string) ([]string, error) {
	team, err := s.users.TeamOf(ctx, leaderID)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return team, nil
}

// CreateUser registers an identity. Leaders create callers in their own
// team; admins create any role.
func (s *DirectoryService) CreateUser(ctx context.Context, actor *domain.Identity, input UserCreateInput) (*domain.Identity, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if err := s.policy.Check(actor, policy.ActionCreateUser, policy.Resource{}); err != nil {
		return nil, err
	}
	if input.Role == "" && actor.Role == domain.RoleLeader {
		input.Role = domain.RoleCaller
	}
	if input.Role == domain.RoleCaller && input.LeaderID == nil && actor.Role == domain.RoleLeader {
		input.LeaderID = &actor.ID
	}

	user := &domain.Identity{
		Name:     strings.TrimSpace(input.Name),
		Email:    strings.ToLower(strings.TrimSpace(input.Email)),
		Role:     input.Role,
		LeaderID: input.LeaderID,
		Active:   true,
	}
	if user.Name == "" {
		return nil, apperrors.NewValidationError("name is required", map[string]any{"field": "name"})
	}
	if err := s.validate.Var(user.Email, "required,email"); err != nil {
		return nil, apperrors.NewValidationError("invalid email", map[string]any{"email": input.Email})
	}
	if err := s.policy.Check(actor, policy.ActionCreateUser, policy.Resource{Target: user}); err != nil {
		return nil, err
	}
	if err := s.checkHierarchy(ctx, user); err != nil {
		return nil, err
	}

	hash, err := s.hash(input.Password)
	if err != nil {
		return nil, err
	}
	user.PasswordHash = hash
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return nil, apperrors.NewConflict("email already registered", map[string]any{"email": user.Email})
		}
		return nil, apperrors.MapError(err)
	}

	s.rec.emit(ctx, events.EventUserCreated, actor.ID, user.ID, map[string]any{
		"role":      string(user.Role),
		"leader_id": strValue(user.LeaderID),
	})
	return user, nil
}

// GetUser returns an identity visible to the actor with its active goals.
func (s *DirectoryService) GetUser(ctx context.Context, actor *domain.Identity, id string) (*UserDetail, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, notFound(err, "user", "user_id", id)
	}
	if err := s.policy.Check(actor, policy.ActionReadUser, policy.Resource{Target: user}); err != nil {
		return nil, err
	}
	now := s.rec.now()
	goals, err := s.goals.List(ctx, repository.GoalFilter{UserIDs: []string{user.ID}, ActiveAt: &now})
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	if goals == nil {
		goals = []domain.Goal{}
	}
	return &UserDetail{User: user, Goals: goals}, nil
}

// ListUsers returns the directory for admins and the team for leaders.
func (s *DirectoryService) ListUsers(ctx context.Context, actor *domain.Identity, filter UserListFilter) (*Page[domain.Identity], error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if err := s.policy.Check(actor, policy.ActionListUsers, policy.Resource{}); err != nil {
		return nil, err
	}
	if filter.Role != nil && !filter.Role.Valid() {
		return nil, apperrors.NewValidationError("invalid role filter", map[string]any{"role": *filter.Role})
	}
	limit, offset := pageBounds(filter.Limit, filter.Offset)
	repoFilter := repository.UserFilter{
		Role:            filter.Role,
		SearchTerm:      filter.Search,
		IncludeInactive: filter.IncludeInactive,
		Limit:           limit,
		Offset:          offset,
	}
	if !actor.IsAdmin() {
		root := actor.ID
		repoFilter.TeamRoot = &root
	}
	items, total, err := s.users.List(ctx, repoFilter)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	if items == nil {
		items = []domain.Identity{}
	}
	return &Page[domain.Identity]{Items: items, Total: total, Limit: limit, Offset: offset}, nil
}

// UpdateUser changes an identity. A change of role or leader re-derives the
// leader reference of every lead assigned to the user in the same
// transaction.
func (s *DirectoryService) UpdateUser(ctx context.Context, actor *domain.Identity, id string, input UserUpdateInput) (*domain.Identity, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	current, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, notFound(err, "user", "user_id", id)
	}
	if err := s.policy.Check(actor, policy.ActionUpdateUser, policy.Resource{Target: current}); err != nil {
		return nil, err
	}

	updated := *current
	if input.Name != nil {
		updated.Name = strings.TrimSpace(*input.Name)
		if updated.Name == "" {
			return nil, apperrors.NewValidationError("name cannot be empty", map[string]any{"field": "name"})
		}
	}
	if input.Email != nil {
		updated.Email = strings.ToLower(strings.TrimSpace(*input.Email))
		if err := s.validate.Var(updated.Email, "required,email"); err != nil {
			return nil, apperrors.NewValidationError("invalid email", map[string]any{"email": *input.Email})
		}
	}
	if input.Role != nil {
		updated.Role = *input.Role
	}
	if input.LeaderID != nil {
		updated.LeaderID = input.LeaderID
	}
	if input.ClearLeader || updated.Role != domain.RoleCaller {
		updated.LeaderID = nil
	}
	if err := s.checkHierarchy(ctx, &updated); err != nil {
		return nil, err
	}
	if input.Password != nil {
		hash, err := s.hash(*input.Password)
		if err != nil {
			return nil, err
		}
		updated.PasswordHash = hash
	}

	relink := current.Role != updated.Role || !sameRef(current.LeaderID, updated.LeaderID)
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.checkRoleChange(ctx, current, &updated); err != nil {
			return err
		}
		if err := s.users.Update(ctx, &updated); err != nil {
			return err
		}
		if relink {
			_, err := s.leads.RelinkLeader(ctx, updated.ID, domain.DeriveLeaderID(&updated))
			return err
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return nil, apperrors.NewConflict("email already registered", map[string]any{"email": updated.Email})
		}
		return nil, notFound(err, "user", "user_id", id)
	}

	s.rec.emit(ctx, events.EventUserUpdated, actor.ID, updated.ID, map[string]any{
		"role":      string(updated.Role),
		"leader_id": strValue(updated.LeaderID),
		"relinked":  relink,
	})
	return &updated, nil
}

// DeleteUser deactivates an identity. Admins cannot delete themselves or
// the last active admin, and a leader must have no active callers left.
func (s *DirectoryService) DeleteUser(ctx context.Context, actor *domain.Identity, id string) error {
	if err := requireActor(actor); err != nil {
		return err
	}
	var target *domain.Identity
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		// Count first: it locks the admin rows for the rest of the unit.
		admins, err := s.users.CountActiveAdmins(ctx)
		if err != nil {
			return err
		}
		target, err = s.users.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if err := s.policy.Check(actor, policy.ActionDeleteUser, policy.Resource{Target: target, AdminCount: admins}); err != nil {
			return err
		}
		if target.Role == domain.RoleLeader {
			team, err := s.users.TeamOf(ctx, target.ID)
			if err != nil {
				return err
			}
			if len(team) > 0 {
				return apperrors.NewConflict("leader still has active callers", map[string]any{"callers": len(team)})
			}
		}
		return s.users.Deactivate(ctx, target.ID)
	})
	if err != nil {
		return notFound(err, "user", "user_id", id)
	}
	s.rec.emit(ctx, events.EventUserDeleted, actor.ID, target.ID, map[string]any{"role": string(target.Role)})
	return nil
}

// checkHierarchy enforces that exactly callers carry a leader reference and
// that it points at an active leader.
func (s *DirectoryService) checkHierarchy(ctx context.Context, user *domain.Identity) error {
	if !user.Role.Valid() {
		return apperrors.NewValidationError("invalid role", map[string]any{"role": user.Role})
	}
	if user.Role != domain.RoleCaller {
		if user.LeaderID != nil {
			return apperrors.NewValidationError("only callers can have a leader", map[string]any{"role": user.Role})
		}
		return nil
	}
	if user.LeaderID == nil || *user.LeaderID == "" {
		return apperrors.NewValidationError("callers require a leader", map[string]any{"field": "leader_id"})
	}
	leader, err := s.users.GetByID(ctx, *user.LeaderID)
	if err != nil {
		if errors.Is(err, repository.ErrNoRows) {
			return apperrors.NewValidationError("leader not found", map[string]any{"leader_id": *user.LeaderID})
		}
		return apperrors.MapError(err)
	}
	if !leader.Active || leader.Role != domain.RoleLeader {
		return apperrors.NewValidationError("leader_id must reference an active leader", map[string]any{"leader_id": leader.ID})
	}
	return nil
}

// checkRoleChange blocks demotions that would orphan callers or remove the
// last admin. It must run inside the transaction that applies the change.
func (s *DirectoryService) checkRoleChange(ctx context.Context, current, updated *domain.Identity) error {
	if current.Role == updated.Role {
		return nil
	}
	switch current.Role {
	case domain.RoleLeader:
		team, err := s.users.TeamOf(ctx, current.ID)
		if err != nil {
			return err
		}
		if len(team) > 0 {
			return apperrors.NewConflict("leader still has active callers", map[string]any{"callers": len(team)})
		}
	case domain.RoleAdmin:
		admins, err := s.users.CountActiveAdmins(ctx)
		if err != nil {
			return err
		}
		if current.Active && admins <= 1 {
			return apperrors.NewForbiddenReason(apperrors.ForbiddenLastAdmin, "cannot demote the last admin")
		}
	}
	return nil
}

func (s *DirectoryService) hash(password string) (string, error) {
	hash, err := auth.HashPassword(password, s.bcryptCost)
	if err != nil {
		if errors.Is(err, auth.ErrWeakPassword) {
			return "", apperrors.NewValidationError("password too short", map[string]any{"min_length": auth.MinPasswordLength})
		}
		return "", apperrors.NewInternalError(err)
	}
	return hash, nil
}

func sameRef(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
