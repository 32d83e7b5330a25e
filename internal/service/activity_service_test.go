package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/lead-service/internal/domain"
	"github.com/spec-kit/lead-service/internal/events"
	apperrors "github.com/spec-kit/lead-service/pkg/util/errorutil"
)

type mockActivityRepo struct {
	mock.Mock
}

func (m *mockActivityRepo) Append(ctx context.Context, record *domain.ActivityRecord) error {
	args := m.Called(ctx, record)
	return args.Error(0)
}

func (m *mockActivityRepo) ListByTarget(ctx context.Context, targetID string, limit int) ([]domain.ActivityRecord, error) {
	args := m.Called(ctx, targetID, limit)
	records, _ := args.Get(0).([]domain.ActivityRecord)
	return records, args.Error(1)
}

func TestAuditFailureDoesNotFailMutation(t *testing.T) {
	repo := &mockActivityRepo{}
	repo.On("Append", mock.Anything, mock.Anything).Return(errors.New("activity table unavailable"))
	h := newHarness(t, withActivityRepo(repo))

	lead, err := h.leads.CreateLead(context.Background(), h.admin, LeadCreateInput{Name: "Audit", Phone: "9998887777"})
	require.NoError(t, err)
	assert.NotEmpty(t, lead.ID)
	assert.Equal(t, domain.LeadStatusNew, h.lead(t, lead.ID).Status)
	assert.Len(t, h.events.ofType(events.EventLeadCreated), 1)

	expected := `
# HELP audit_append_failures_total Activity log appends that failed after the mutation committed
# TYPE audit_append_failures_total counter
audit_append_failures_total{action="lead.created"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(h.metrics.Registry(), strings.NewReader(expected), "audit_append_failures_total"))
	repo.AssertExpectations(t)
}

func TestAuditRecordsMutations(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	lead := h.createLead(t, "9998887777", h.caller1)
	_, err := h.leads.TransitionLeadStatus(ctx, h.caller1, lead.ID, LeadTransitionInput{Status: domain.LeadStatusInProgress})
	require.NoError(t, err)

	records, err := h.activity.ListForLead(ctx, h.leader1, lead.ID, 0)
	require.NoError(t, err)
	actions := make([]string, 0, len(records))
	for _, r := range records {
		actions = append(actions, r.Action)
		assert.Equal(t, lead.ID, r.TargetID)
	}
	assert.Contains(t, actions, string(events.EventLeadCreated))
	assert.Contains(t, actions, string(events.EventLeadStatusChanged))

	_, err = h.activity.ListForLead(ctx, h.caller2, lead.ID, 0)
	assert.Equal(t, apperrors.ForbiddenScopeMismatch, apperrors.ForbiddenReason(err))

	_, err = h.activity.ListForLead(ctx, h.admin, "missing", 0)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeNotFound))
}

func TestActivityListClampsLimit(t *testing.T) {
	repo := &mockActivityRepo{}
	repo.On("Append", mock.Anything, mock.Anything).Return(nil)
	repo.On("ListByTarget", mock.Anything, mock.Anything, defaultActivityLimit).Return([]domain.ActivityRecord{}, nil).Once()
	repo.On("ListByTarget", mock.Anything, mock.Anything, 10).Return([]domain.ActivityRecord{}, nil).Once()
	h := newHarness(t, withActivityRepo(repo))
	lead := h.createLead(t, "9998887777", nil)

	_, err := h.activity.ListForLead(context.Background(), h.admin, lead.ID, 5000)
	require.NoError(t, err)
	_, err = h.activity.ListForLead(context.Background(), h.admin, lead.ID, 10)
	require.NoError(t, err)
	repo.AssertExpectations(t)
}
