package service

import (
	"context"

	"github.com/spec-kit/lead-service/internal/domain"
	"github.com/spec-kit/lead-service/internal/events"
	"github.com/spec-kit/lead-service/internal/persistence"
	"github.com/spec-kit/lead-service/internal/policy"
	"github.com/spec-kit/lead-service/internal/repository"
	apperrors "github.com/spec-kit/lead-service/pkg/util/errorutil"
)

// CallService records and lists calls made on leads.
type CallService struct {
	calls  repository.CallRecordRepository
	leads  repository.LeadRepository
	tx     persistence.TxManager
	policy *policy.Engine
	goals  *GoalService
	rec    recorder
}

// CallDependencies bundles collaborators for CallService.
type CallDependencies struct {
	LeadDependencies
	CallRepo repository.CallRecordRepository
}

// CallInput describes a logged call.
type CallInput struct {
	Result          domain.CallResult
	Remarks         *string
	DurationSeconds *int
}

// CallListFilter narrows the call log.
type CallListFilter struct {
	LeadID *string
	Limit  int
	Offset int
}

// NewCallService constructs the service.
func NewCallService(deps CallDependencies) *CallService {
	return &CallService{
		calls:  deps.CallRepo,
		leads:  deps.LeadRepo,
		tx:     deps.Tx,
		policy: deps.Policy,
		goals:  deps.Goals,
		rec:    newRecorder(deps.Activity, deps.Dispatcher, deps.Metrics, deps.Logger, deps.Clock),
	}
}

// RecordCall logs a call and stamps the lead's lastCallAt. The lead status
// never changes here; the result is advisory. The caller's daily_calls goal
// is credited, and conversions too when the result is converted.
func (s *CallService) RecordCall(ctx context.Context, actor *domain.Identity, leadID string, input CallInput) (*domain.CallRecord, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	lead, err := s.leads.GetByID(ctx, leadID)
	if err != nil {
		return nil, notFound(err, "lead", "lead_id", leadID)
	}
	if err := s.policy.Check(actor, policy.ActionRecordCall, policy.Resource{Lead: lead}); err != nil {
		return nil, err
	}
	if !input.Result.Valid() {
		return nil, apperrors.NewValidationError("invalid call result", map[string]any{"result": input.Result})
	}
	if input.DurationSeconds != nil && *input.DurationSeconds < 0 {
		return nil, apperrors.NewValidationError("duration cannot be negative", map[string]any{"duration": *input.DurationSeconds})
	}

	now := s.rec.now().UTC()
	record := &domain.CallRecord{
		LeadID:          lead.ID,
		CallerID:        actor.ID,
		Result:          input.Result,
		Remarks:         input.Remarks,
		DurationSeconds: input.DurationSeconds,
		CreatedAt:       now,
	}
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.calls.Create(ctx, record); err != nil {
			return err
		}
		if err := s.leads.TouchLastCall(ctx, lead.ID, now); err != nil {
			return err
		}
		if err := s.goals.IncrementGoal(ctx, actor.ID, domain.GoalTypeDailyCalls, now); err != nil {
			return err
		}
		if input.Result == domain.CallResultConverted {
			return s.goals.IncrementGoal(ctx, actor.ID, domain.GoalTypeConversions, now)
		}
		return nil
	})
	if err != nil {
		return nil, notFound(err, "lead", "lead_id", lead.ID)
	}

	s.rec.emit(ctx, events.EventCallRecorded, actor.ID, lead.ID, map[string]any{
		"call_id": record.ID,
		"result":  string(record.Result),
	})
	return record, nil
}

// ListCalls returns calls visible to the actor: their own for callers, calls
// on in-scope leads for leaders, everything for admins.
func (s *CallService) ListCalls(ctx context.Context, actor *domain.Identity, filter CallListFilter) (*Page[domain.CallRecord], error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	limit, offset := pageBounds(filter.Limit, filter.Offset)
	repoFilter := repository.CallFilter{LeadID: filter.LeadID, Limit: limit, Offset: offset}
	switch actor.Role {
	case domain.RoleAdmin:
	case domain.RoleLeader:
		scope := s.policy.LeadScope(actor)
		repoFilter.LeadScope = &scope
	default:
		callerID := actor.ID
		repoFilter.CallerID = &callerID
	}

	items, total, err := s.calls.List(ctx, repoFilter)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	if items == nil {
		items = []domain.CallRecord{}
	}
	return &Page[domain.CallRecord]{Items: items, Total: total, Limit: limit, Offset: offset}, nil
}

