package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/lead-service/internal/domain"
	"github.com/spec-kit/lead-service/internal/events"
	"github.com/spec-kit/lead-service/internal/observability"
	"github.com/spec-kit/lead-service/internal/repository"
	apperrors "github.com/spec-kit/lead-service/pkg/util/errorutil"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Page is a slice of a larger result set.
type Page[T any] struct {
	Items  []T `json:"items"`
	Total  int `json:"total"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

func pageBounds(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// recorder emits the post-commit side effects of a mutation: an activity
// record and a domain event. Neither can fail the mutation.
type recorder struct {
	activity   *ActivityService
	dispatcher events.Dispatcher
	metrics    *observability.Metrics
	logger     *zap.Logger
	now        func() time.Time
}

func newRecorder(activity *ActivityService, dispatcher events.Dispatcher, metrics *observability.Metrics, logger *zap.Logger, now func() time.Time) recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	if now == nil {
		now = time.Now
	}
	return recorder{activity: activity, dispatcher: dispatcher, metrics: metrics, logger: logger, now: now}
}

func (r recorder) audit(ctx context.Context, actorID, action, targetID string, metadata map[string]any) {
	if r.activity == nil {
		return
	}
	r.activity.Record(ctx, actorID, action, targetID, metadata)
}

func (r recorder) publish(ctx context.Context, eventType events.EventType, actorID, targetID string, payload map[string]any) {
	if r.dispatcher == nil {
		return
	}
	event := events.NewEvent(eventType, actorID, targetID, r.now(), payload)
	if err := r.dispatcher.Publish(context.WithoutCancel(ctx), event); err != nil {
		r.metrics.EventPublishFailed(string(eventType))
		r.logger.Warn("event subscribers failed",
			zap.String("event_type", string(eventType)),
			zap.String("target_id", targetID),
			zap.Error(err))
	}
}

// emit audits and publishes under the same action name.
func (r recorder) emit(ctx context.Context, eventType events.EventType, actorID, targetID string, metadata map[string]any) {
	r.audit(ctx, actorID, string(eventType), targetID, metadata)
	r.publish(ctx, eventType, actorID, targetID, metadata)
}

func requireActor(actor *domain.Identity) error {
	if actor == nil {
		return apperrors.NewUnauthorized("authentication required")
	}
	return nil
}

// notFound maps a missing row to a NotFound error and anything else to its
// domain equivalent.
func notFound(err error, resource, key, id string) error {
	if errors.Is(err, repository.ErrNoRows) {
		return apperrors.NewNotFound(resource, map[string]any{key: id})
	}
	return apperrors.MapError(err)
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func strValue(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}
