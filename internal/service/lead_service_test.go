package service

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/lead-service/internal/domain"
	"github.com/spec-kit/lead-service/internal/events"
	"github.com/spec-kit/lead-service/internal/policy"
	"github.com/spec-kit/lead-service/internal/repository"
	apperrors "github.com/spec-kit/lead-service/pkg/util/errorutil"
)

func ptr[T any](v T) *T { return &v }

func TestCreateLeadDerivesLeader(t *testing.T) {
	h := newHarness(t)

	lead := h.createLead(t, "9998887777", h.caller1)
	assert.Equal(t, domain.LeadStatusNew, lead.Status)
	assert.Equal(t, 0, lead.CallCount)
	require.NotNil(t, lead.LeaderID)
	assert.Equal(t, h.leader1.ID, *lead.LeaderID)

	toLeader := h.createLead(t, "9998887778", h.leader2)
	require.NotNil(t, toLeader.LeaderID)
	assert.Equal(t, h.leader2.ID, *toLeader.LeaderID)

	toAdmin := h.createLead(t, "9998887779", h.admin)
	assert.Nil(t, toAdmin.LeaderID)

	assert.Len(t, h.events.ofType(events.EventLeadCreated), 3)
	assert.Len(t, h.events.ofType(events.EventLeadAssigned), 3)
}

func TestCreateLeadValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.leads.CreateLead(ctx, h.admin, LeadCreateInput{Name: "", Phone: "9998887777"})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation))

	_, err = h.leads.CreateLead(ctx, h.admin, LeadCreateInput{Name: "Jane", Phone: "123"})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation))

	_, err = h.leads.CreateLead(ctx, h.admin, LeadCreateInput{Name: "Jane", Phone: "9998887777", AssignedTo: ptr("missing")})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation))
}

func TestCreateLeadIsAdminOnlyByDefault(t *testing.T) {
	h := newHarness(t)

	_, err := h.leads.CreateLead(context.Background(), h.caller1, LeadCreateInput{Name: "Jane", Phone: "9998887777"})
	require.Error(t, err)
	assert.Equal(t, apperrors.ForbiddenRoleIncapable, apperrors.ForbiddenReason(err))

	opts := policy.DefaultOptions()
	opts.LeadCreatorRoles = []domain.Role{domain.RoleAdmin, domain.RoleLeader}
	h = newHarness(t, withPolicy(opts))
	lead, err := h.leads.CreateLead(context.Background(), h.leader1, LeadCreateInput{
		Name: "Jane", Phone: "9998887777", AssignedTo: &h.caller1.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, h.leader1.ID, *lead.LeaderID)

	_, err = h.leads.CreateLead(context.Background(), h.leader1, LeadCreateInput{
		Name: "Jim", Phone: "9998887776", AssignedTo: &h.caller2.ID,
	})
	assert.Equal(t, apperrors.ForbiddenScopeMismatch, apperrors.ForbiddenReason(err))
}

func TestDuplicatePhoneConflictUntilDeleted(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	first := h.createLead(t, "9998887777", nil)

	_, err := h.leads.CreateLead(ctx, h.admin, LeadCreateInput{Name: "Again", Phone: "(999) 888-7777"})
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeConflict))

	require.NoError(t, h.leads.DeleteLead(ctx, h.admin, first.ID))
	_, err = h.leads.GetLead(ctx, h.admin, first.ID)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeNotFound))

	again, err := h.leads.CreateLead(ctx, h.admin, LeadCreateInput{Name: "Again", Phone: "9998887777"})
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, again.ID)
}

func TestFirstContactFiresOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	lead := h.createLead(t, "9998887777", h.caller1)
	goal := h.createGoal(t, h.caller1, domain.GoalTypeWeeklyCalls)

	updated, err := h.leads.TransitionLeadStatus(ctx, h.caller1, lead.ID, LeadTransitionInput{Status: domain.LeadStatusInProgress})
	require.NoError(t, err)
	assert.Equal(t, domain.LeadStatusInProgress, updated.Status)
	assert.Equal(t, 1, updated.CallCount)
	require.NotNil(t, updated.LastCallAt)
	assert.Equal(t, 1, h.goal(t, goal.ID).Achieved)

	updated, err = h.leads.TransitionLeadStatus(ctx, h.caller1, lead.ID, LeadTransitionInput{
		Status: domain.LeadStatusClosed,
		Notes:  ptr("deal done"),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.LeadStatusClosed, updated.Status)
	assert.Equal(t, 1, updated.CallCount)
	assert.Equal(t, "deal done", *updated.Notes)
	assert.Equal(t, 1, h.goal(t, goal.ID).Achieved)

	changes := h.events.ofType(events.EventLeadStatusChanged)
	require.Len(t, changes, 2)
	assert.Equal(t, true, changes[0].Payload["first_contact"])
	assert.Equal(t, false, changes[1].Payload["first_contact"])
}

func TestTransitionBackToNewIsRejected(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	lead := h.createLead(t, "9998887777", nil)

	for _, status := range []domain.LeadStatus{domain.LeadStatusCallback, domain.LeadStatusClosed, domain.LeadStatusDead} {
		_, err := h.leads.TransitionLeadStatus(ctx, h.admin, lead.ID, LeadTransitionInput{Status: status})
		require.NoError(t, err)
		_, err = h.leads.TransitionLeadStatus(ctx, h.admin, lead.ID, LeadTransitionInput{Status: domain.LeadStatusNew})
		assert.True(t, apperrors.HasCode(err, apperrors.CodeInvalidTransition), "from %s", status)
	}

	_, err := h.leads.TransitionLeadStatus(ctx, h.admin, lead.ID, LeadTransitionInput{Status: "won"})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation))
	assert.Equal(t, domain.LeadStatusDead, h.lead(t, lead.ID).Status)
}

func TestTransitionWithoutGoalIsSilent(t *testing.T) {
	h := newHarness(t)
	lead := h.createLead(t, "9998887777", h.caller1)

	updated, err := h.leads.TransitionLeadStatus(context.Background(), h.caller1, lead.ID, LeadTransitionInput{Status: domain.LeadStatusCallback})
	require.NoError(t, err)
	assert.Equal(t, 1, updated.CallCount)
}

func TestConcurrentTransitionsFireOnce(t *testing.T) {
	h := newHarness(t)
	lead := h.createLead(t, "9998887777", h.caller1)
	goal := h.createGoal(t, h.caller1, domain.GoalTypeWeeklyCalls)

	targets := []domain.LeadStatus{domain.LeadStatusInProgress, domain.LeadStatusCallback, domain.LeadStatusClosed, domain.LeadStatusDead}
	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(status domain.LeadStatus) {
			defer wg.Done()
			_, err := h.leads.TransitionLeadStatus(context.Background(), h.caller1, lead.ID, LeadTransitionInput{Status: status})
			errs <- err
		}(targets[i%len(targets)])
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}

	assert.Equal(t, 1, h.lead(t, lead.ID).CallCount)
	assert.Equal(t, 1, h.goal(t, goal.ID).Achieved)
}

func TestLeadVisibilityByRole(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	mine := h.createLead(t, "9998887777", h.caller1)
	unassigned := h.createLead(t, "9998887778", nil)
	otherTeam := h.createLead(t, "9998887779", h.caller2)

	_, err := h.leads.GetLead(ctx, h.caller1, mine.ID)
	assert.NoError(t, err)
	_, err = h.leads.GetLead(ctx, h.caller2, mine.ID)
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeForbidden))
	assert.Equal(t, apperrors.ForbiddenScopeMismatch, apperrors.ForbiddenReason(err))

	_, err = h.leads.GetLead(ctx, h.leader1, unassigned.ID)
	assert.NoError(t, err)
	_, err = h.leads.GetLead(ctx, h.leader1, otherTeam.ID)
	assert.Equal(t, apperrors.ForbiddenScopeMismatch, apperrors.ForbiddenReason(err))

	page, err := h.leads.ListLeads(ctx, h.leader1, LeadListFilter{})
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)

	page, err = h.leads.ListLeads(ctx, h.leader1, LeadListFilter{View: repository.LeadViewTeam})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, mine.ID, page.Items[0].ID)

	page, err = h.leads.ListLeads(ctx, h.caller1, LeadListFilter{})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, mine.ID, page.Items[0].ID)

	page, err = h.leads.ListLeads(ctx, h.admin, LeadListFilter{View: repository.LeadViewUnassigned})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)

	page, err = h.leads.ListLeads(ctx, h.admin, LeadListFilter{Search: ptr("887779")})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, otherTeam.ID, page.Items[0].ID)

	_, err = h.leads.ListLeads(ctx, h.admin, LeadListFilter{View: "everything"})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation))
}

func TestLeaderVisibilityWithoutUnassignedPool(t *testing.T) {
	opts := policy.DefaultOptions()
	opts.LeaderSeesUnassigned = false
	h := newHarness(t, withPolicy(opts))
	unassigned := h.createLead(t, "9998887778", nil)

	_, err := h.leads.GetLead(context.Background(), h.leader1, unassigned.ID)
	assert.Equal(t, apperrors.ForbiddenScopeMismatch, apperrors.ForbiddenReason(err))
}

func TestUpdateLeadIsAllOrNothing(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	lead := h.createLead(t, "9998887777", h.caller1)
	_, err := h.leads.TransitionLeadStatus(ctx, h.admin, lead.ID, LeadTransitionInput{Status: domain.LeadStatusInProgress})
	require.NoError(t, err)

	_, err = h.leads.UpdateLead(ctx, h.admin, lead.ID, LeadUpdateInput{
		Notes:  ptr("should not stick"),
		Status: ptr(domain.LeadStatusNew),
	})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInvalidTransition))
	assert.Nil(t, h.lead(t, lead.ID).Notes)

	_, err = h.leads.UpdateLead(ctx, h.leader1, lead.ID, LeadUpdateInput{
		Notes:      ptr("should not stick"),
		AssignedTo: &h.caller2.ID,
	})
	assert.Equal(t, apperrors.ForbiddenScopeMismatch, apperrors.ForbiddenReason(err))
	assert.Nil(t, h.lead(t, lead.ID).Notes)

	updated, err := h.leads.UpdateLead(ctx, h.admin, lead.ID, LeadUpdateInput{
		Name:       ptr("Renamed"),
		Behaviour:  ptr("hot"),
		AssignedTo: &h.caller2.ID,
		Status:     ptr(domain.LeadStatusCallback),
	})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", updated.Name)
	assert.Equal(t, "hot", *updated.Behaviour)
	assert.Equal(t, domain.LeadStatusCallback, updated.Status)
	assert.Equal(t, h.caller2.ID, *updated.AssignedTo)
	assert.Equal(t, h.leader2.ID, *updated.LeaderID)
	assert.Equal(t, 1, updated.CallCount)

	updated, err = h.leads.UpdateLead(ctx, h.admin, lead.ID, LeadUpdateInput{Unassign: true})
	require.NoError(t, err)
	assert.Nil(t, updated.AssignedTo)
	assert.Nil(t, updated.LeaderID)
}

func TestCallerCannotDeleteOrReassign(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	lead := h.createLead(t, "9998887777", h.caller1)

	err := h.leads.DeleteLead(ctx, h.caller1, lead.ID)
	assert.Equal(t, apperrors.ForbiddenRoleIncapable, apperrors.ForbiddenReason(err))

	_, err = h.leads.UpdateLead(ctx, h.caller1, lead.ID, LeadUpdateInput{Unassign: true})
	assert.Equal(t, apperrors.ForbiddenRoleIncapable, apperrors.ForbiddenReason(err))

	updated, err := h.leads.UpdateLead(ctx, h.caller1, lead.ID, LeadUpdateInput{Notes: ptr("left voicemail")})
	require.NoError(t, err)
	assert.Equal(t, "left voicemail", *updated.Notes)
}

func TestCallerEditsAreLimitedToWorkingFields(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	lead := h.createLead(t, "9998887777", h.caller1)

	for name, input := range map[string]LeadUpdateInput{
		"name":   {Name: ptr("Renamed")},
		"phone":  {Phone: ptr("9998887770")},
		"source": {Source: ptr("referral")},
		"assign": {AssignedTo: &h.caller1.ID},
	} {
		_, err := h.leads.UpdateLead(ctx, h.caller1, lead.ID, input)
		assert.Equal(t, apperrors.ForbiddenRoleIncapable, apperrors.ForbiddenReason(err), name)
	}
	stored := h.lead(t, lead.ID)
	assert.Equal(t, "Lead 9998887777", stored.Name)
	assert.Equal(t, "9998887777", stored.Phone)

	updated, err := h.leads.UpdateLead(ctx, h.caller1, lead.ID, LeadUpdateInput{
		Notes:  ptr("call back after lunch"),
		Status: ptr(domain.LeadStatusCallback),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.LeadStatusCallback, updated.Status)

	own := &domain.Lead{
		Name: "Mine", Phone: "9998887766", CreatedBy: h.caller1.ID,
		AssignedTo: &h.caller1.ID, LeaderID: &h.leader1.ID,
	}
	require.NoError(t, h.store.Leads().Create(ctx, own))
	updated, err = h.leads.UpdateLead(ctx, h.caller1, own.ID, LeadUpdateInput{Name: ptr("Still mine"), Phone: ptr("999-888-7755")})
	require.NoError(t, err)
	assert.Equal(t, "Still mine", updated.Name)
	assert.Equal(t, "9998887755", updated.Phone)
}

func TestUpdateLeadChangesPhone(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	first := h.createLead(t, "9998887777", h.caller1)
	second := h.createLead(t, "9998887776", h.caller1)

	updated, err := h.leads.UpdateLead(ctx, h.leader1, first.ID, LeadUpdateInput{Phone: ptr("(999) 888-7700")})
	require.NoError(t, err)
	assert.Equal(t, "9998887700", updated.Phone)

	_, err = h.leads.UpdateLead(ctx, h.admin, second.ID, LeadUpdateInput{Phone: ptr("9998887700"), Notes: ptr("dup")})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeConflict))
	assert.Equal(t, "9998887776", h.lead(t, second.ID).Phone)
	assert.Nil(t, h.lead(t, second.ID).Notes)

	_, err = h.leads.UpdateLead(ctx, h.admin, second.ID, LeadUpdateInput{Phone: ptr("12")})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation))
}

func TestMissingLeadIsNotFound(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.leads.GetLead(ctx, h.admin, "missing")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeNotFound))
	_, err = h.leads.TransitionLeadStatus(ctx, h.admin, "missing", LeadTransitionInput{Status: domain.LeadStatusClosed})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeNotFound))
	assert.True(t, apperrors.HasCode(h.leads.DeleteLead(ctx, h.admin, "missing"), apperrors.CodeNotFound))
}

func TestContactScenario(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	lead, err := h.leads.CreateLead(ctx, h.admin, LeadCreateInput{Name: "Jane", Phone: "9998887777", AssignedTo: &h.caller1.ID})
	require.NoError(t, err)
	assert.Equal(t, domain.LeadStatusNew, lead.Status)
	assert.Equal(t, 0, lead.CallCount)

	_, err = h.calls.RecordCall(ctx, h.caller1, lead.ID, CallInput{Result: domain.CallResultAnswered})
	require.NoError(t, err)
	afterCall := h.lead(t, lead.ID)
	assert.Equal(t, domain.LeadStatusNew, afterCall.Status)
	assert.Equal(t, 0, afterCall.CallCount)
	require.NotNil(t, afterCall.LastCallAt)

	weekly := h.createGoal(t, h.caller1, domain.GoalTypeWeeklyCalls)
	updated, err := h.leads.TransitionLeadStatus(ctx, h.caller1, lead.ID, LeadTransitionInput{Status: domain.LeadStatusInProgress})
	require.NoError(t, err)
	assert.Equal(t, 1, updated.CallCount)
	assert.Equal(t, 1, h.goal(t, weekly.ID).Achieved)
}
