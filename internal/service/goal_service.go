package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/lead-service/internal/domain"
	"github.com/spec-kit/lead-service/internal/events"
	"github.com/spec-kit/lead-service/internal/observability"
	"github.com/spec-kit/lead-service/internal/policy"
	"github.com/spec-kit/lead-service/internal/repository"
	apperrors "github.com/spec-kit/lead-service/pkg/util/errorutil"
)

// GoalService manages performance goals and their counters.
type GoalService struct {
	goals   repository.GoalRepository
	users   repository.UserRepository
	policy  *policy.Engine
	metrics *observability.Metrics
	logger  *zap.Logger
	rec     recorder
}

// GoalDependencies bundles collaborators for GoalService.
type GoalDependencies struct {
	GoalRepo   repository.GoalRepository
	UserRepo   repository.UserRepository
	Policy     *policy.Engine
	Activity   *ActivityService
	Dispatcher events.Dispatcher
	Metrics    *observability.Metrics
	Logger     *zap.Logger
	Clock      func() time.Time
}

// GoalCreateInput describes a new goal. UserID defaults to the actor.
type GoalCreateInput struct {
	UserID    string
	Type      domain.GoalType
	Target    int
	StartDate time.Time
	EndDate   time.Time
}

// GoalFilter narrows goal listings.
type GoalFilter struct {
	UserID   *string
	ActiveAt *time.Time
}

// NewGoalService constructs the service.
func NewGoalService(deps GoalDependencies) *GoalService {
	rec := newRecorder(deps.Activity, deps.Dispatcher, deps.Metrics, deps.Logger, deps.Clock)
	return &GoalService{
		goals:   deps.GoalRepo,
		users:   deps.UserRepo,
		policy:  deps.Policy,
		metrics: deps.Metrics,
		logger:  rec.logger,
		rec:     rec,
	}
}

// CreateGoal stores a goal for the actor or, for leaders and admins, a user
// they manage.
func (s *GoalService) CreateGoal(ctx context.Context, actor *domain.Identity, input GoalCreateInput) (*domain.Goal, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if !input.Type.Valid() {
		return nil, apperrors.NewValidationError("invalid goal type", map[string]any{"type": input.Type})
	}
	if input.Target < 1 {
		return nil, apperrors.NewValidationError("target must be at least 1", map[string]any{"target": input.Target})
	}
	if input.StartDate.IsZero() || input.EndDate.IsZero() {
		return nil, apperrors.NewValidationError("start and end dates are required", nil)
	}
	if input.EndDate.Before(input.StartDate) {
		return nil, apperrors.NewValidationError("end date precedes start date", nil)
	}

	target := actor
	if input.UserID != "" && input.UserID != actor.ID {
		user, err := s.users.GetByID(ctx, input.UserID)
		if err != nil {
			return nil, notFound(err, "user", "user_id", input.UserID)
		}
		target = user
	}
	if err := s.policy.Check(actor, policy.ActionCreateGoal, policy.Resource{Target: target}); err != nil {
		return nil, err
	}

	goal := &domain.Goal{
		UserID:    target.ID,
		Type:      input.Type,
		Period:    domain.PeriodFor(input.Type),
		Target:    input.Target,
		StartDate: input.StartDate.UTC(),
		EndDate:   input.EndDate.UTC(),
	}
	if err := s.goals.Create(ctx, goal); err != nil {
		return nil, apperrors.MapError(err)
	}
	s.rec.emit(ctx, events.EventGoalCreated, actor.ID, goal.ID, map[string]any{
		"user_id": goal.UserID,
		"type":    string(goal.Type),
		"target":  goal.Target,
	})
	return goal, nil
}

// ListGoals returns goals visible to the actor: all for admins, the team for
// leaders, and their own for callers.
func (s *GoalService) ListGoals(ctx context.Context, actor *domain.Identity, filter GoalFilter) ([]domain.Goal, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	repoFilter := repository.GoalFilter{ActiveAt: filter.ActiveAt}

	if filter.UserID != nil && *filter.UserID != actor.ID {
		user, err := s.users.GetByID(ctx, *filter.UserID)
		if err != nil {
			return nil, notFound(err, "user", "user_id", *filter.UserID)
		}
		if err := s.policy.Check(actor, policy.ActionReadGoal, policy.Resource{Target: user}); err != nil {
			return nil, err
		}
		repoFilter.UserIDs = []string{user.ID}
	} else if filter.UserID != nil {
		repoFilter.UserIDs = []string{actor.ID}
	} else {
		switch actor.Role {
		case domain.RoleAdmin:
		case domain.RoleLeader:
			team, err := s.users.TeamOf(ctx, actor.ID)
			if err != nil {
				return nil, apperrors.MapError(err)
			}
			repoFilter.UserIDs = append([]string{actor.ID}, team...)
		default:
			repoFilter.UserIDs = []string{actor.ID}
		}
	}

	goals, err := s.goals.List(ctx, repoFilter)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return goals, nil
}

// IncrementGoal bumps the matching goal by one.
func (s *GoalService) IncrementGoal(ctx context.Context, userID string, goalType domain.GoalType, asOf time.Time) error {
	return s.IncrementGoalBy(ctx, userID, goalType, asOf, 1)
}

// IncrementGoalBy adds by to the goal of goalType whose window covers asOf.
// The update is a single conditional statement, so concurrent increments
// never lose counts. Having no matching goal is not an error.
func (s *GoalService) IncrementGoalBy(ctx context.Context, userID string, goalType domain.GoalType, asOf time.Time, by int) error {
	if by <= 0 {
		return nil
	}
	updated, err := s.goals.Increment(ctx, userID, goalType, asOf, by)
	if err != nil {
		return apperrors.MapError(err)
	}
	if updated == 0 {
		s.logger.Debug("no goal to increment",
			zap.String("user_id", userID),
			zap.String("type", string(goalType)))
		return nil
	}
	s.metrics.GoalIncremented(string(goalType), by)
	return nil
}
