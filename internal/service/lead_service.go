package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/lead-service/internal/domain"
	"github.com/spec-kit/lead-service/internal/events"
	"github.com/spec-kit/lead-service/internal/ingest"
	"github.com/spec-kit/lead-service/internal/observability"
	"github.com/spec-kit/lead-service/internal/persistence"
	"github.com/spec-kit/lead-service/internal/policy"
	"github.com/spec-kit/lead-service/internal/repository"
	apperrors "github.com/spec-kit/lead-service/pkg/util/errorutil"
)

// LeadDependencies bundles collaborators shared by the lead services.
type LeadDependencies struct {
	LeadRepo   repository.LeadRepository
	UserRepo   repository.UserRepository
	Tx         persistence.TxManager
	Policy     *policy.Engine
	Goals      *GoalService
	Activity   *ActivityService
	Dispatcher events.Dispatcher
	Metrics    *observability.Metrics
	Logger     *zap.Logger
	Clock      func() time.Time
	Parser     *ingest.Parser
}

// LeadService coordinates single-lead workflows.
type LeadService struct {
	leads   repository.LeadRepository
	users   repository.UserRepository
	tx      persistence.TxManager
	policy  *policy.Engine
	goals   *GoalService
	parser  *ingest.Parser
	metrics *observability.Metrics
	rec     recorder
}

// LeadCreateInput describes a new lead.
type LeadCreateInput struct {
	Name         string
	Phone        string
	AssignedTo   *string
	Notes        *string
	Source       *string
	Behaviour    *string
	NextCallDate *time.Time
}

// LeadListFilter describes listing parameters. View narrows the actor's
// scope further; it never widens it.
type LeadListFilter struct {
	Statuses []domain.LeadStatus
	Search   *string
	View     repository.LeadView
	Limit    int
	Offset   int
}

// LeadUpdateInput is a partial update. Status and assignment changes run
// through the same checks as their dedicated operations.
type LeadUpdateInput struct {
	Name         *string
	Phone        *string
	Notes        *string
	Behaviour    *string
	NextCallDate *time.Time
	Source       *string
	Status       *domain.LeadStatus
	AssignedTo   *string
	Unassign     bool
}

// LeadTransitionInput carries the optional fields applied with a status
// change.
type LeadTransitionInput struct {
	Status       domain.LeadStatus
	Notes        *string
	Behaviour    *string
	NextCallDate *time.Time
}

// NewLeadService constructs the service.
func NewLeadService(deps LeadDependencies) *LeadService {
	parser := deps.Parser
	if parser == nil {
		parser = ingest.NewParser(ingest.DefaultOptions())
	}
	return &LeadService{
		leads:   deps.LeadRepo,
		users:   deps.UserRepo,
		tx:      deps.Tx,
		policy:  deps.Policy,
		goals:   deps.Goals,
		parser:  parser,
		metrics: deps.Metrics,
		rec:     newRecorder(deps.Activity, deps.Dispatcher, deps.Metrics, deps.Logger, deps.Clock),
	}
}

// CreateLead stores a new lead in status new. When an assignee is given the
// leader reference is derived from their position in the hierarchy.
func (s *LeadService) CreateLead(ctx context.Context, actor *domain.Identity, input LeadCreateInput) (*domain.Lead, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if err := s.policy.Check(actor, policy.ActionCreate, policy.Resource{}); err != nil {
		return nil, err
	}
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, apperrors.NewValidationError("name is required", map[string]any{"field": "name"})
	}
	phone, ok := s.parser.NormalizePhone(input.Phone)
	if !ok {
		return nil, apperrors.NewValidationError("invalid phone number", map[string]any{"phone": input.Phone})
	}

	lead := &domain.Lead{
		Name:         name,
		Phone:        phone,
		Status:       domain.LeadStatusNew,
		Notes:        input.Notes,
		Behaviour:    input.Behaviour,
		NextCallDate: input.NextCallDate,
		Source:       input.Source,
		CreatedBy:    actor.ID,
		UpdatedBy:    &actor.ID,
	}
	if input.AssignedTo != nil && *input.AssignedTo != "" {
		assignee, err := s.resolveAssignee(ctx, *input.AssignedTo)
		if err != nil {
			return nil, err
		}
		if err := s.policy.Check(actor, policy.ActionReassign, policy.Resource{Assignee: assignee}); err != nil {
			return nil, err
		}
		lead.AssignedTo = &assignee.ID
		lead.LeaderID = domain.DeriveLeaderID(assignee)
	}

	if err := s.leads.Create(ctx, lead); err != nil {
		if errors.Is(err, repository.ErrDuplicatePhone) {
			return nil, apperrors.NewConflict("phone already belongs to an active lead", map[string]any{"phone": phone})
		}
		return nil, apperrors.MapError(err)
	}

	s.rec.emit(ctx, events.EventLeadCreated, actor.ID, lead.ID, map[string]any{
		"phone":       lead.Phone,
		"assigned_to": strValue(lead.AssignedTo),
	})
	if lead.IsAssigned() {
		s.rec.publish(ctx, events.EventLeadAssigned, actor.ID, *lead.AssignedTo, map[string]any{
			"lead_ids":    []string{lead.ID},
			"assigned_to": *lead.AssignedTo,
			"leader_id":   strValue(lead.LeaderID),
			"lead_name":   lead.Name,
			"lead_phone":  lead.Phone,
		})
	}
	return lead, nil
}

// GetLead returns a lead the actor may read.
func (s *LeadService) GetLead(ctx context.Context, actor *domain.Identity, id string) (*domain.Lead, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	lead, err := s.loadLead(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.policy.Check(actor, policy.ActionRead, policy.Resource{Lead: lead}); err != nil {
		return nil, err
	}
	return lead, nil
}

// ListLeads returns the actor's visible leads, newest activity first.
func (s *LeadService) ListLeads(ctx context.Context, actor *domain.Identity, filter LeadListFilter) (*Page[domain.Lead], error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if err := s.policy.Check(actor, policy.ActionRead, policy.Resource{}); err != nil {
		return nil, err
	}
	for _, status := range filter.Statuses {
		if !status.Valid() {
			return nil, apperrors.NewValidationError("invalid status filter", map[string]any{"status": status})
		}
	}

	limit, offset := pageBounds(filter.Limit, filter.Offset)
	repoFilter := repository.LeadFilter{
		Scope:      s.policy.LeadScope(actor),
		Statuses:   filter.Statuses,
		SearchTerm: filter.Search,
		Limit:      limit,
		Offset:     offset,
	}
	actorID := actor.ID
	switch filter.View {
	case "", repository.LeadViewAll:
	case repository.LeadViewMine:
		repoFilter.AssignedTo = &actorID
	case repository.LeadViewUnassigned:
		repoFilter.UnassignedOnly = true
	case repository.LeadViewTeam:
		repoFilter.LeaderID = &actorID
	default:
		return nil, apperrors.NewValidationError("unknown view", map[string]any{"view": filter.View})
	}

	items, err := s.leads.List(ctx, repoFilter)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	total, err := s.leads.Count(ctx, repoFilter)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	if items == nil {
		items = []domain.Lead{}
	}
	return &Page[domain.Lead]{Items: items, Total: total, Limit: limit, Offset: offset}, nil
}

// UpdateLead applies a partial update. Every check runs before the first
// write and all writes share one transaction, so a rejected update leaves
// the lead untouched.
func (s *LeadService) UpdateLead(ctx context.Context, actor *domain.Identity, id string, input LeadUpdateInput) (*domain.Lead, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	lead, err := s.loadLead(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.policy.Check(actor, policy.ActionUpdate, policy.Resource{Lead: lead}); err != nil {
		return nil, err
	}
	if err := checkCallerFields(actor, lead, input); err != nil {
		return nil, err
	}
	if input.Name != nil {
		trimmed := strings.TrimSpace(*input.Name)
		if trimmed == "" {
			return nil, apperrors.NewValidationError("name cannot be empty", map[string]any{"field": "name"})
		}
		input.Name = &trimmed
	}
	if input.Phone != nil {
		phone, ok := s.parser.NormalizePhone(*input.Phone)
		if !ok {
			return nil, apperrors.NewValidationError("invalid phone number", map[string]any{"phone": *input.Phone})
		}
		input.Phone = &phone
	}

	reassign := input.Unassign || (input.AssignedTo != nil && *input.AssignedTo != "")
	var assignee *domain.Identity
	if reassign {
		if !input.Unassign {
			if assignee, err = s.resolveAssignee(ctx, *input.AssignedTo); err != nil {
				return nil, err
			}
		}
		if err := s.policy.Check(actor, policy.ActionReassign, policy.Resource{Lead: lead, Assignee: assignee}); err != nil {
			return nil, err
		}
	}
	if input.Status != nil {
		if err := s.checkTransition(actor, lead, *input.Status); err != nil {
			return nil, err
		}
	}

	patch := repository.LeadPatch{
		Name:         input.Name,
		Phone:        input.Phone,
		Notes:        input.Notes,
		Behaviour:    input.Behaviour,
		NextCallDate: input.NextCallDate,
		Source:       input.Source,
		UpdatedBy:    actor.ID,
	}
	var (
		updated *domain.Lead
		fired   bool
	)
	now := s.rec.now()
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if reassign {
			var assignedTo *string
			if assignee != nil {
				assignedTo = &assignee.ID
			}
			if _, err := s.leads.Assign(ctx, []string{lead.ID}, assignedTo, domain.DeriveLeaderID(assignee), actor.ID); err != nil {
				return err
			}
		}
		if input.Status != nil {
			var err error
			updated, fired, err = s.applyTransition(ctx, actor, lead.ID, *input.Status, patch, now)
			if err != nil {
				return err
			}
			if input.Name == nil && input.Phone == nil && input.Source == nil {
				return nil
			}
		}
		var err error
		updated, err = s.leads.Update(ctx, lead.ID, patch)
		return err
	})
	if err != nil {
		if errors.Is(err, repository.ErrDuplicatePhone) {
			return nil, apperrors.NewConflict("phone already belongs to an active lead", map[string]any{"phone": *input.Phone})
		}
		return nil, s.mapWriteError(err, lead.ID)
	}

	s.rec.emit(ctx, events.EventLeadUpdated, actor.ID, lead.ID, map[string]any{"fields": changedFields(input)})
	if input.Status != nil {
		s.afterTransition(ctx, actor, lead, updated, fired)
	}
	if reassign {
		s.publishAssigned(ctx, actor, []string{lead.ID}, assignee, updated)
	}
	return updated, nil
}

// TransitionLeadStatus moves a lead to status. Leaving new counts as the
// first contact: callCount and lastCallAt are bumped in the same conditional
// update as the status write and the actor's weekly_calls goal is credited in
// the same transaction. Of two concurrent transitions out of new only one
// fires; the other still writes its status.
func (s *LeadService) TransitionLeadStatus(ctx context.Context, actor *domain.Identity, id string, input LeadTransitionInput) (*domain.Lead, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	lead, err := s.loadLead(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.checkTransition(actor, lead, input.Status); err != nil {
		return nil, err
	}

	patch := repository.LeadPatch{
		Notes:        input.Notes,
		Behaviour:    input.Behaviour,
		NextCallDate: input.NextCallDate,
		UpdatedBy:    actor.ID,
	}
	var (
		updated *domain.Lead
		fired   bool
	)
	now := s.rec.now()
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		updated, fired, err = s.applyTransition(ctx, actor, lead.ID, input.Status, patch, now)
		return err
	})
	if err != nil {
		return nil, s.mapWriteError(err, lead.ID)
	}
	s.afterTransition(ctx, actor, lead, updated, fired)
	return updated, nil
}

// DeleteLead deactivates a lead. Its phone becomes available again.
func (s *LeadService) DeleteLead(ctx context.Context, actor *domain.Identity, id string) error {
	if err := requireActor(actor); err != nil {
		return err
	}
	lead, err := s.loadLead(ctx, id)
	if err != nil {
		return err
	}
	if err := s.policy.Check(actor, policy.ActionDelete, policy.Resource{Lead: lead}); err != nil {
		return err
	}
	if err := s.leads.Deactivate(ctx, lead.ID, actor.ID); err != nil {
		return notFound(err, "lead", "lead_id", lead.ID)
	}
	s.rec.emit(ctx, events.EventLeadDeleted, actor.ID, lead.ID, map[string]any{"phone": lead.Phone})
	return nil
}

func (s *LeadService) checkTransition(actor *domain.Identity, lead *domain.Lead, status domain.LeadStatus) error {
	if err := s.policy.Check(actor, policy.ActionStatusTransition, policy.Resource{Lead: lead}); err != nil {
		return err
	}
	if !status.Valid() {
		return apperrors.NewValidationError("invalid status", map[string]any{"status": status})
	}
	if err := domain.CheckTransition(lead.Status, status); err != nil {
		return apperrors.NewInvalidTransition(err.Error(), map[string]any{"from": lead.Status, "to": status})
	}
	return nil
}

// applyTransition must run inside a transaction.
func (s *LeadService) applyTransition(ctx context.Context, actor *domain.Identity, id string, status domain.LeadStatus, patch repository.LeadPatch, now time.Time) (*domain.Lead, bool, error) {
	updated, fired, err := s.leads.TransitionStatus(ctx, id, status, patch, now)
	if err != nil {
		return nil, false, err
	}
	if fired {
		if err := s.goals.IncrementGoal(ctx, actor.ID, domain.GoalTypeWeeklyCalls, now); err != nil {
			return nil, false, err
		}
	}
	return updated, fired, nil
}

func (s *LeadService) afterTransition(ctx context.Context, actor *domain.Identity, before, after *domain.Lead, fired bool) {
	if fired {
		s.metrics.FirstContacts(1)
	}
	s.rec.emit(ctx, events.EventLeadStatusChanged, actor.ID, before.ID, map[string]any{
		"from":          string(before.Status),
		"to":            string(after.Status),
		"first_contact": fired,
	})
}

func (s *LeadService) publishAssigned(ctx context.Context, actor *domain.Identity, ids []string, assignee *domain.Identity, lead *domain.Lead) {
	targetID := ""
	payload := map[string]any{"lead_ids": ids, "assigned_to": nil, "leader_id": nil}
	if assignee != nil {
		targetID = assignee.ID
		payload["assigned_to"] = assignee.ID
		payload["leader_id"] = strValue(domain.DeriveLeaderID(assignee))
	}
	if lead != nil {
		payload["lead_name"] = lead.Name
		payload["lead_phone"] = lead.Phone
	}
	for _, id := range ids {
		s.rec.audit(ctx, actor.ID, string(events.EventLeadAssigned), id, payload)
	}
	s.rec.publish(ctx, events.EventLeadAssigned, actor.ID, targetID, payload)
}

func (s *LeadService) loadLead(ctx context.Context, id string) (*domain.Lead, error) {
	lead, err := s.leads.GetByID(ctx, id)
	if err != nil {
		return nil, notFound(err, "lead", "lead_id", id)
	}
	return lead, nil
}

// resolveAssignee loads an active identity that can hold leads.
func (s *LeadService) resolveAssignee(ctx context.Context, id string) (*domain.Identity, error) {
	return resolveAssignee(ctx, s.users, id)
}

func resolveAssignee(ctx context.Context, users repository.UserRepository, id string) (*domain.Identity, error) {
	user, err := users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNoRows) {
			return nil, apperrors.NewValidationError("assignee not found", map[string]any{"assigned_to": id})
		}
		return nil, apperrors.MapError(err)
	}
	if !user.Active {
		return nil, apperrors.NewValidationError("assignee is inactive", map[string]any{"assigned_to": id})
	}
	return user, nil
}

func (s *LeadService) mapWriteError(err error, leadID string) error {
	switch {
	case errors.Is(err, repository.ErrInvalidTransition):
		return apperrors.NewInvalidTransition(err.Error(), map[string]any{"lead_id": leadID})
	case errors.Is(err, repository.ErrNoRows):
		return apperrors.NewNotFound("lead", map[string]any{"lead_id": leadID})
	}
	return apperrors.MapError(err)
}

// checkCallerFields limits callers to working fields. Name and phone stay
// editable on leads the caller created; source and assignment never are.
func checkCallerFields(actor *domain.Identity, lead *domain.Lead, input LeadUpdateInput) error {
	if actor.Role != domain.RoleCaller {
		return nil
	}
	if input.Source != nil || input.AssignedTo != nil || input.Unassign {
		return apperrors.NewForbidden("callers cannot change the source or assignment of a lead")
	}
	if (input.Name != nil || input.Phone != nil) && lead.CreatedBy != actor.ID {
		return apperrors.NewForbidden("callers can only change details of leads they created")
	}
	return nil
}

func changedFields(input LeadUpdateInput) []string {
	var fields []string
	if input.Name != nil {
		fields = append(fields, "name")
	}
	if input.Phone != nil {
		fields = append(fields, "phone")
	}
	if input.Notes != nil {
		fields = append(fields, "notes")
	}
	if input.Behaviour != nil {
		fields = append(fields, "behaviour")
	}
	if input.NextCallDate != nil {
		fields = append(fields, "next_call_date")
	}
	if input.Source != nil {
		fields = append(fields, "source")
	}
	if input.Status != nil {
		fields = append(fields, "status")
	}
	if input.AssignedTo != nil || input.Unassign {
		fields = append(fields, "assigned_to")
	}
	return fields
}
