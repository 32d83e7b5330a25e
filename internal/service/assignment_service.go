package service

import (
	"context"
	"errors"

	"github.com/spec-kit/lead-service/internal/domain"
	"github.com/spec-kit/lead-service/internal/events"
	"github.com/spec-kit/lead-service/internal/observability"
	"github.com/spec-kit/lead-service/internal/persistence"
	"github.com/spec-kit/lead-service/internal/policy"
	"github.com/spec-kit/lead-service/internal/repository"
	apperrors "github.com/spec-kit/lead-service/pkg/util/errorutil"
)

// AssignmentService handles bulk status and assignment operations.
type AssignmentService struct {
	leads   repository.LeadRepository
	users   repository.UserRepository
	tx      persistence.TxManager
	policy  *policy.Engine
	goals   *GoalService
	metrics *observability.Metrics
	rec     recorder
}

// BulkAssignInput selects exactly one assignment mode.
type BulkAssignInput struct {
	AssignedTo *string
	LeaderID   *string
	Unassign   bool
}

// BulkResult reports how many leads a bulk operation changed.
type BulkResult struct {
	UpdatedCount int `json:"updated_count"`
}

// NewAssignmentService creates the service.
func NewAssignmentService(deps LeadDependencies) *AssignmentService {
	return &AssignmentService{
		leads:   deps.LeadRepo,
		users:   deps.UserRepo,
		tx:      deps.Tx,
		policy:  deps.Policy,
		goals:   deps.Goals,
		metrics: deps.Metrics,
		rec:     newRecorder(deps.Activity, deps.Dispatcher, deps.Metrics, deps.Logger, deps.Clock),
	}
}

// BulkTransition moves every in-scope lead in ids to status. Ids the actor
// may not transition are dropped silently. Leads leaving new get the same
// first-contact side effect as a single transition, once each.
func (s *AssignmentService) BulkTransition(ctx context.Context, actor *domain.Identity, ids []string, status domain.LeadStatus) (*BulkResult, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if err := s.policy.Check(actor, policy.ActionBulkUpdate, policy.Resource{}); err != nil {
		return nil, err
	}
	if !status.Valid() {
		return nil, apperrors.NewValidationError("invalid status", map[string]any{"status": status})
	}
	ids = dedupe(ids)
	if len(ids) == 0 {
		return nil, apperrors.NewValidationError("ids are required", map[string]any{"field": "ids"})
	}

	leads, err := s.leads.ListByIDs(ctx, ids)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	inScope := make([]domain.Lead, 0, len(leads))
	for i := range leads {
		if s.policy.Allowed(actor, policy.ActionStatusTransition, policy.Resource{Lead: &leads[i]}) {
			inScope = append(inScope, leads[i])
		}
	}
	if status == domain.LeadStatusNew {
		for _, lead := range inScope {
			if lead.Status != domain.LeadStatusNew {
				return nil, apperrors.NewValidationError("leads cannot revert to new", map[string]any{"lead_id": lead.ID})
			}
		}
	}
	if len(inScope) == 0 {
		return &BulkResult{}, nil
	}

	targetIDs := make([]string, len(inScope))
	for i, lead := range inScope {
		targetIDs[i] = lead.ID
	}
	var (
		updated int
		fired   []string
	)
	now := s.rec.now()
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		updated, fired, err = s.leads.BulkTransition(ctx, targetIDs, status, actor.ID, now)
		if err != nil {
			return err
		}
		return s.goals.IncrementGoalBy(ctx, actor.ID, domain.GoalTypeWeeklyCalls, now, len(fired))
	})
	if err != nil {
		return nil, apperrors.MapError(err)
	}

	s.metrics.FirstContacts(len(fired))
	firedSet := make(map[string]bool, len(fired))
	for _, id := range fired {
		firedSet[id] = true
	}
	for _, lead := range inScope {
		s.rec.audit(ctx, actor.ID, string(events.EventLeadStatusChanged), lead.ID, map[string]any{
			"from":          string(lead.Status),
			"to":            string(status),
			"first_contact": firedSet[lead.ID],
			"bulk":          true,
		})
	}
	s.rec.publish(ctx, events.EventLeadStatusChanged, actor.ID, "", map[string]any{
		"lead_ids":       targetIDs,
		"to":             string(status),
		"first_contacts": len(fired),
		"bulk":           true,
	})
	return &BulkResult{UpdatedCount: updated}, nil
}

// BulkAssign assigns, reassigns to a leader, or unassigns every in-scope
// lead in ids. The leader reference is always recomputed from the assignee.
func (s *AssignmentService) BulkAssign(ctx context.Context, actor *domain.Identity, ids []string, input BulkAssignInput) (*BulkResult, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	modes := 0
	if input.AssignedTo != nil && *input.AssignedTo != "" {
		modes++
	}
	if input.LeaderID != nil && *input.LeaderID != "" {
		modes++
	}
	if input.Unassign {
		modes++
	}
	if modes != 1 {
		return nil, apperrors.NewValidationError("exactly one of assignedTo, leaderId or unassign is required", nil)
	}
	if err := s.policy.Check(actor, policy.ActionBulkAssign, policy.Resource{}); err != nil {
		return nil, err
	}
	ids = dedupe(ids)
	if len(ids) == 0 {
		return nil, apperrors.NewValidationError("ids are required", map[string]any{"field": "ids"})
	}

	var assignee *domain.Identity
	switch {
	case input.AssignedTo != nil && *input.AssignedTo != "":
		user, err := resolveAssignee(ctx, s.users, *input.AssignedTo)
		if err != nil {
			return nil, err
		}
		assignee = user
	case input.LeaderID != nil && *input.LeaderID != "":
		user, err := resolveAssignee(ctx, s.users, *input.LeaderID)
		if err != nil {
			return nil, err
		}
		if user.Role != domain.RoleLeader {
			return nil, apperrors.NewValidationError("leaderId must reference a leader", map[string]any{"leader_id": user.ID})
		}
		assignee = user
	}
	if err := s.policy.Check(actor, policy.ActionBulkAssign, policy.Resource{Assignee: assignee}); err != nil {
		return nil, err
	}

	leads, err := s.leads.ListByIDs(ctx, ids)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	targetIDs := make([]string, 0, len(leads))
	for i := range leads {
		if s.policy.Allowed(actor, policy.ActionBulkAssign, policy.Resource{Lead: &leads[i], Assignee: assignee}) {
			targetIDs = append(targetIDs, leads[i].ID)
		}
	}
	if len(targetIDs) == 0 {
		return &BulkResult{}, nil
	}

	var assignedTo *string
	if assignee != nil {
		assignedTo = &assignee.ID
	}
	leaderID := domain.DeriveLeaderID(assignee)
	var updated int
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		updated, err = s.leads.Assign(ctx, targetIDs, assignedTo, leaderID, actor.ID)
		return err
	})
	if err != nil {
		if errors.Is(err, repository.ErrNoRows) {
			return &BulkResult{}, nil
		}
		return nil, apperrors.MapError(err)
	}

	payload := map[string]any{
		"lead_ids":    targetIDs,
		"assigned_to": strValue(assignedTo),
		"leader_id":   strValue(leaderID),
		"bulk":        true,
	}
	for _, id := range targetIDs {
		s.rec.audit(ctx, actor.ID, string(events.EventLeadAssigned), id, payload)
	}
	targetID := ""
	if assignee != nil {
		targetID = assignee.ID
	}
	s.rec.publish(ctx, events.EventLeadAssigned, actor.ID, targetID, payload)
	return &BulkResult{UpdatedCount: updated}, nil
}
