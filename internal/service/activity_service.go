package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/lead-service/internal/domain"
	"github.com/spec-kit/lead-service/internal/observability"
	"github.com/spec-kit/lead-service/internal/policy"
	"github.com/spec-kit/lead-service/internal/repository"
	apperrors "github.com/spec-kit/lead-service/pkg/util/errorutil"
)

const defaultActivityLimit = 50

// ActivityService appends and reads the audit trail.
type ActivityService struct {
	repo    repository.ActivityRepository
	leads   repository.LeadRepository
	policy  *policy.Engine
	metrics *observability.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

// ActivityDependencies bundles collaborators for ActivityService.
type ActivityDependencies struct {
	ActivityRepo repository.ActivityRepository
	LeadRepo     repository.LeadRepository
	Policy       *policy.Engine
	Metrics      *observability.Metrics
	Logger       *zap.Logger
	Clock        func() time.Time
}

// NewActivityService constructs the service.
func NewActivityService(deps ActivityDependencies) *ActivityService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &ActivityService{
		repo:    deps.ActivityRepo,
		leads:   deps.LeadRepo,
		policy:  deps.Policy,
		metrics: deps.Metrics,
		logger:  logger,
		now:     clock,
	}
}

// Record appends an audit entry. Failures are logged and counted, never
// returned: the mutation being audited has already committed.
func (s *ActivityService) Record(ctx context.Context, actorID, action, targetID string, metadata map[string]any) {
	record := &domain.ActivityRecord{
		ActorID:   actorID,
		Action:    action,
		TargetID:  targetID,
		Metadata:  metadata,
		CreatedAt: s.now().UTC(),
	}
	if err := s.repo.Append(context.WithoutCancel(ctx), record); err != nil {
		s.metrics.AuditAppendFailed(action)
		s.logger.Error("audit append failed",
			zap.String("action", action),
			zap.String("target_id", targetID),
			zap.String("actor_id", actorID),
			zap.Error(err))
	}
}

// ListForLead returns the most recent activity on a lead the actor can read.
func (s *ActivityService) ListForLead(ctx context.Context, actor *domain.Identity, leadID string, limit int) ([]domain.ActivityRecord, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	lead, err := s.leads.GetByID(ctx, leadID)
	if err != nil {
		return nil, notFound(err, "lead", "lead_id", leadID)
	}
	if err := s.policy.Check(actor, policy.ActionRead, policy.Resource{Lead: lead}); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > maxPageSize {
		limit = defaultActivityLimit
	}
	records, err := s.repo.ListByTarget(ctx, leadID, limit)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return records, nil
}
