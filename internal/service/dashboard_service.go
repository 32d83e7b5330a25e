package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/lead-service/internal/domain"
	"github.com/spec-kit/lead-service/internal/persistence"
	"github.com/spec-kit/lead-service/internal/repository"
	apperrors "github.com/spec-kit/lead-service/pkg/util/errorutil"
)

const dashboardKeyPrefix = "dashboard:summary:"

// DashboardService computes per-actor lead summaries.
type DashboardService struct {
	leads  repository.LeadRepository
	cache  persistence.Cache
	ttl    time.Duration
	logger *zap.Logger
	now    func() time.Time
}

// DashboardDependencies bundles collaborators for DashboardService. Cache
// may be nil.
type DashboardDependencies struct {
	LeadRepo repository.LeadRepository
	Cache    persistence.Cache
	TTL      time.Duration
	Logger   *zap.Logger
	Clock    func() time.Time
}

// NewDashboardService constructs the service.
func NewDashboardService(deps DashboardDependencies) *DashboardService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &DashboardService{leads: deps.LeadRepo, cache: deps.Cache, ttl: deps.TTL, logger: logger, now: clock}
}

// Summary returns totals for the actor's leads: everything for admins, the
// leader's team for leaders and assigned leads for callers. Results are
// cached per actor; cache failures fall back to storage.
func (s *DashboardService) Summary(ctx context.Context, actor *domain.Identity) (*domain.DashboardSummary, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	key := dashboardKeyPrefix + actor.ID
	if cached, ok := s.fromCache(ctx, key); ok {
		return cached, nil
	}

	id := actor.ID
	var scope domain.LeadScope
	switch actor.Role {
	case domain.RoleAdmin:
		scope = domain.LeadScope{All: true}
	case domain.RoleLeader:
		scope = domain.LeadScope{LeaderID: &id}
	default:
		scope = domain.LeadScope{AssignedTo: &id}
	}

	now := s.now()
	since := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	summary, err := s.leads.Summary(ctx, scope, since)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	// Callers only see their own leads, so the ranking is not shown to them.
	if summary.TopAssignees == nil || actor.Role == domain.RoleCaller {
		summary.TopAssignees = []domain.AssigneeCount{}
	}
	s.toCache(ctx, key, summary)
	return summary, nil
}

func (s *DashboardService) fromCache(ctx context.Context, key string) (*domain.DashboardSummary, bool) {
	if s.cache == nil || s.ttl <= 0 {
		return nil, false
	}
	raw, err := s.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, persistence.ErrCacheMiss) {
			s.logger.Warn("dashboard cache read failed", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}
	var summary domain.DashboardSummary
	if err := json.Unmarshal(raw, &summary); err != nil {
		s.logger.Warn("dashboard cache entry corrupt", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	return &summary, true
}

func (s *DashboardService) toCache(ctx context.Context, key string, summary *domain.DashboardSummary) {
	if s.cache == nil || s.ttl <= 0 {
		return
	}
	raw, err := json.Marshal(summary)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, key, raw, s.ttl); err != nil {
		s.logger.Warn("dashboard cache write failed", zap.String("key", key), zap.Error(err))
	}
}
