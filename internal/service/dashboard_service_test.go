package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/lead-service/internal/domain"
	"github.com/spec-kit/lead-service/internal/persistence"
)

type mockCache struct {
	mock.Mock
}

func (m *mockCache) Get(ctx context.Context, key string) ([]byte, error) {
	args := m.Called(ctx, key)
	raw, _ := args.Get(0).([]byte)
	return raw, args.Error(1)
}

func (m *mockCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	args := m.Called(ctx, key, value, ttl)
	return args.Error(0)
}

func (h *harness) dashboard(cache persistence.Cache) *DashboardService {
	return NewDashboardService(DashboardDependencies{
		LeadRepo: h.store.Leads(),
		Cache:    cache,
		TTL:      time.Minute,
		Clock:    func() time.Time { return h.now },
	})
}

func TestDashboardScopesByRole(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.createLead(t, "9998880001", h.caller1)
	h.createLead(t, "9998880002", h.caller2)
	h.createLead(t, "9998880003", h.leader1)
	h.createLead(t, "9998880004", nil)
	svc := h.dashboard(nil)

	all, err := svc.Summary(ctx, h.admin)
	require.NoError(t, err)
	assert.Equal(t, 4, all.TotalLeads)
	assert.Equal(t, 4, all.StatusBreakdown[domain.LeadStatusNew])
	assert.Len(t, all.TopAssignees, 3)

	team, err := svc.Summary(ctx, h.leader1)
	require.NoError(t, err)
	assert.Equal(t, 2, team.TotalLeads)
	ids := []string{}
	for _, entry := range team.TopAssignees {
		ids = append(ids, entry.ID)
	}
	assert.ElementsMatch(t, []string{h.caller1.ID, h.leader1.ID}, ids)

	own, err := svc.Summary(ctx, h.caller2)
	require.NoError(t, err)
	assert.Equal(t, 1, own.TotalLeads)
	assert.NotNil(t, own.TopAssignees)
	assert.Empty(t, own.TopAssignees)
}

func TestDashboardRanksCallers(t *testing.T) {
	h := newHarness(t)
	h.createLead(t, "9998880001", h.caller1)
	h.createLead(t, "9998880002", h.caller1)
	h.createLead(t, "9998880003", h.caller2)

	summary, err := h.dashboard(nil).Summary(context.Background(), h.admin)
	require.NoError(t, err)
	require.Len(t, summary.TopAssignees, 2)
	assert.Equal(t, h.caller1.ID, summary.TopAssignees[0].ID)
	assert.Equal(t, 2, summary.TopAssignees[0].Count)
	assert.Equal(t, domain.RoleCaller, summary.TopAssignees[0].Role)
	assert.Equal(t, h.caller2.ID, summary.TopAssignees[1].ID)
	assert.Equal(t, 1, summary.TopAssignees[1].Count)
}

func TestDashboardCountsTodaysCalls(t *testing.T) {
	h := newHarness(t)
	lead := h.createLead(t, "9998880001", h.caller1)
	_, err := h.calls.RecordCall(context.Background(), h.caller1, lead.ID, CallInput{Result: domain.CallResultAnswered})
	require.NoError(t, err)

	summary, err := h.dashboard(nil).Summary(context.Background(), h.caller1)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.TodayCalls)
}

func TestDashboardServesFromCache(t *testing.T) {
	h := newHarness(t)
	cached := domain.DashboardSummary{TotalLeads: 42, StatusBreakdown: map[domain.LeadStatus]int{}, TopAssignees: []domain.AssigneeCount{}}
	raw, err := json.Marshal(cached)
	require.NoError(t, err)

	cache := &mockCache{}
	cache.On("Get", mock.Anything, dashboardKeyPrefix+h.admin.ID).Return(raw, nil)

	summary, err := h.dashboard(cache).Summary(context.Background(), h.admin)
	require.NoError(t, err)
	assert.Equal(t, 42, summary.TotalLeads)
	cache.AssertNotCalled(t, "Set", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestDashboardFillsCacheOnMiss(t *testing.T) {
	h := newHarness(t)
	h.createLead(t, "9998880001", h.caller1)
	key := dashboardKeyPrefix + h.admin.ID

	cache := &mockCache{}
	cache.On("Get", mock.Anything, key).Return(nil, persistence.ErrCacheMiss)
	cache.On("Set", mock.Anything, key, mock.MatchedBy(func(raw []byte) bool {
		var s domain.DashboardSummary
		return json.Unmarshal(raw, &s) == nil && s.TotalLeads == 1
	}), time.Minute).Return(nil)

	summary, err := h.dashboard(cache).Summary(context.Background(), h.admin)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.TotalLeads)
	cache.AssertExpectations(t)
}

func TestDashboardIgnoresCacheFailures(t *testing.T) {
	h := newHarness(t)
	h.createLead(t, "9998880001", nil)

	cache := &mockCache{}
	cache.On("Get", mock.Anything, mock.Anything).Return(nil, errors.New("connection refused"))
	cache.On("Set", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(errors.New("connection refused"))

	summary, err := h.dashboard(cache).Summary(context.Background(), h.admin)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.TotalLeads)
}
