package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/lead-service/internal/domain"
	apperrors "github.com/spec-kit/lead-service/pkg/util/errorutil"
)

func TestBulkAssignNarrowsLeaderToTeam(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	second := h.seedUser(t, "caller3", domain.RoleCaller, &h.leader1.ID)

	inTeam := h.createLead(t, "9998880001", h.caller1)
	unassigned := h.createLead(t, "9998880002", nil)
	outOfTeam := h.createLead(t, "9998880003", h.caller2)
	ids := []string{inTeam.ID, unassigned.ID, outOfTeam.ID}

	result, err := h.assignment.BulkAssign(ctx, h.leader1, ids, BulkAssignInput{AssignedTo: &second.ID})
	require.NoError(t, err)
	assert.Equal(t, 2, result.UpdatedCount)
	assert.Equal(t, second.ID, *h.lead(t, inTeam.ID).AssignedTo)
	assert.Equal(t, second.ID, *h.lead(t, unassigned.ID).AssignedTo)
	assert.Equal(t, h.leader1.ID, *h.lead(t, unassigned.ID).LeaderID)
	assert.Equal(t, h.caller2.ID, *h.lead(t, outOfTeam.ID).AssignedTo)

	result, err = h.assignment.BulkAssign(ctx, h.admin, ids, BulkAssignInput{AssignedTo: &h.caller2.ID})
	require.NoError(t, err)
	assert.Equal(t, 3, result.UpdatedCount)
	for _, id := range ids {
		lead := h.lead(t, id)
		assert.Equal(t, h.caller2.ID, *lead.AssignedTo)
		assert.Equal(t, h.leader2.ID, *lead.LeaderID)
	}
}

func TestBulkAssignRejectsOutOfTeamAssignee(t *testing.T) {
	h := newHarness(t)
	lead := h.createLead(t, "9998880001", h.caller1)

	_, err := h.assignment.BulkAssign(context.Background(), h.leader1, []string{lead.ID}, BulkAssignInput{AssignedTo: &h.caller2.ID})
	assert.Equal(t, apperrors.ForbiddenScopeMismatch, apperrors.ForbiddenReason(err))

	_, err = h.assignment.BulkAssign(context.Background(), h.leader1, []string{lead.ID}, BulkAssignInput{LeaderID: &h.leader1.ID})
	assert.Equal(t, apperrors.ForbiddenScopeMismatch, apperrors.ForbiddenReason(err))

	_, err = h.assignment.BulkAssign(context.Background(), h.caller1, []string{lead.ID}, BulkAssignInput{Unassign: true})
	assert.Equal(t, apperrors.ForbiddenRoleIncapable, apperrors.ForbiddenReason(err))
	assert.Equal(t, h.caller1.ID, *h.lead(t, lead.ID).AssignedTo)
}

func TestBulkAssignModes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	lead := h.createLead(t, "9998880001", h.caller1)

	_, err := h.assignment.BulkAssign(ctx, h.admin, []string{lead.ID}, BulkAssignInput{})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation))
	_, err = h.assignment.BulkAssign(ctx, h.admin, []string{lead.ID}, BulkAssignInput{Unassign: true, AssignedTo: &h.caller2.ID})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation))
	_, err = h.assignment.BulkAssign(ctx, h.admin, nil, BulkAssignInput{Unassign: true})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation))
	_, err = h.assignment.BulkAssign(ctx, h.admin, []string{lead.ID}, BulkAssignInput{LeaderID: &h.caller2.ID})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation))

	result, err := h.assignment.BulkAssign(ctx, h.admin, []string{lead.ID, lead.ID}, BulkAssignInput{LeaderID: &h.leader2.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, result.UpdatedCount)
	assert.Equal(t, h.leader2.ID, *h.lead(t, lead.ID).AssignedTo)
	assert.Equal(t, h.leader2.ID, *h.lead(t, lead.ID).LeaderID)

	result, err = h.assignment.BulkAssign(ctx, h.admin, []string{lead.ID}, BulkAssignInput{Unassign: true})
	require.NoError(t, err)
	assert.Equal(t, 1, result.UpdatedCount)
	assert.Nil(t, h.lead(t, lead.ID).AssignedTo)
	assert.Nil(t, h.lead(t, lead.ID).LeaderID)
}

func TestBulkTransitionAppliesFirstContactPerLead(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	fresh1 := h.createLead(t, "9998880001", h.caller1)
	fresh2 := h.createLead(t, "9998880002", h.caller1)
	worked := h.createLead(t, "9998880003", h.caller1)
	foreign := h.createLead(t, "9998880004", h.caller2)
	_, err := h.leads.TransitionLeadStatus(ctx, h.admin, worked.ID, LeadTransitionInput{Status: domain.LeadStatusCallback})
	require.NoError(t, err)
	goal := h.createGoal(t, h.leader1, domain.GoalTypeWeeklyCalls)

	result, err := h.assignment.BulkTransition(ctx, h.leader1,
		[]string{fresh1.ID, fresh2.ID, worked.ID, foreign.ID, "missing"}, domain.LeadStatusInProgress)
	require.NoError(t, err)
	assert.Equal(t, 3, result.UpdatedCount)

	assert.Equal(t, 1, h.lead(t, fresh1.ID).CallCount)
	assert.Equal(t, 1, h.lead(t, fresh2.ID).CallCount)
	assert.Equal(t, 1, h.lead(t, worked.ID).CallCount)
	assert.Equal(t, domain.LeadStatusInProgress, h.lead(t, worked.ID).Status)
	assert.Equal(t, domain.LeadStatusNew, h.lead(t, foreign.ID).Status)
	assert.Equal(t, 2, h.goal(t, goal.ID).Achieved)
}

func TestBulkTransitionRejectsRevert(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	fresh := h.createLead(t, "9998880001", h.caller1)
	worked := h.createLead(t, "9998880002", h.caller1)
	outOfScope := h.createLead(t, "9998880003", h.caller2)
	_, err := h.leads.TransitionLeadStatus(ctx, h.admin, worked.ID, LeadTransitionInput{Status: domain.LeadStatusClosed})
	require.NoError(t, err)
	_, err = h.leads.TransitionLeadStatus(ctx, h.admin, outOfScope.ID, LeadTransitionInput{Status: domain.LeadStatusClosed})
	require.NoError(t, err)

	_, err = h.assignment.BulkTransition(ctx, h.admin, []string{fresh.ID, worked.ID}, domain.LeadStatusNew)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation))
	assert.Equal(t, domain.LeadStatusClosed, h.lead(t, worked.ID).Status)

	result, err := h.assignment.BulkTransition(ctx, h.caller1, []string{fresh.ID, outOfScope.ID}, domain.LeadStatusNew)
	assert.Error(t, err)
	assert.Nil(t, result)
	assert.Equal(t, apperrors.ForbiddenRoleIncapable, apperrors.ForbiddenReason(err))

	result, err = h.assignment.BulkTransition(ctx, h.leader1, []string{fresh.ID, outOfScope.ID}, domain.LeadStatusNew)
	require.NoError(t, err)
	assert.Equal(t, 1, result.UpdatedCount)
	assert.Equal(t, 0, h.lead(t, fresh.ID).CallCount)
}
