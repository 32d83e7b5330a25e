package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/spec-kit/lead-service/internal/config"
	"github.com/spec-kit/lead-service/internal/domain"
	"github.com/spec-kit/lead-service/internal/events"
	"github.com/spec-kit/lead-service/internal/ingest"
	"github.com/spec-kit/lead-service/internal/observability"
	"github.com/spec-kit/lead-service/internal/policy"
	"github.com/spec-kit/lead-service/internal/repository"
	"github.com/spec-kit/lead-service/internal/repository/memory"
)

type eventLog struct {
	mu     sync.Mutex
	events []events.Event
}

func (l *eventLog) handle(_ context.Context, e events.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
	return nil
}

func (l *eventLog) ofType(t events.EventType) []events.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []events.Event
	for _, e := range l.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type harness struct {
	store   *memory.Store
	now     time.Time
	metrics *observability.Metrics
	events  *eventLog

	activity   *ActivityService
	goals      *GoalService
	leads      *LeadService
	assignment *AssignmentService
	ingest     *IngestService
	calls      *CallService
	directory  *DirectoryService

	admin, leader1, leader2, caller1, caller2 *domain.Identity
}

type harnessOption func(*harnessConfig)

type harnessConfig struct {
	activityRepo repository.ActivityRepository
	policy       policy.Options
}

func withActivityRepo(repo repository.ActivityRepository) harnessOption {
	return func(c *harnessConfig) { c.activityRepo = repo }
}

func withPolicy(opts policy.Options) harnessOption {
	return func(c *harnessConfig) { c.policy = opts }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	store := memory.NewStore()
	cfg := harnessConfig{activityRepo: store.Activity(), policy: policy.DefaultOptions()}
	for _, opt := range opts {
		opt(&cfg)
	}

	h := &harness{
		store:   store,
		now:     time.Now().UTC(),
		metrics: observability.NewMetrics(),
		events:  &eventLog{},
	}
	clock := func() time.Time { return h.now }
	dispatcher := events.NewInMemoryDispatcher()
	dispatcher.SubscribeAll(h.events.handle)
	engine := policy.New(cfg.policy)

	h.activity = NewActivityService(ActivityDependencies{
		ActivityRepo: cfg.activityRepo,
		LeadRepo:     store.Leads(),
		Policy:       engine,
		Metrics:      h.metrics,
		Clock:        clock,
	})
	h.goals = NewGoalService(GoalDependencies{
		GoalRepo:   store.Goals(),
		UserRepo:   store.Users(),
		Policy:     engine,
		Activity:   h.activity,
		Dispatcher: dispatcher,
		Metrics:    h.metrics,
		Clock:      clock,
	})
	leadDeps := LeadDependencies{
		LeadRepo:   store.Leads(),
		UserRepo:   store.Users(),
		Tx:         store,
		Policy:     engine,
		Goals:      h.goals,
		Activity:   h.activity,
		Dispatcher: dispatcher,
		Metrics:    h.metrics,
		Clock:      clock,
		Parser:     ingest.NewParser(ingest.DefaultOptions()),
	}
	h.leads = NewLeadService(leadDeps)
	h.assignment = NewAssignmentService(leadDeps)
	h.ingest = NewIngestService(leadDeps)
	h.calls = NewCallService(CallDependencies{LeadDependencies: leadDeps, CallRepo: store.Calls()})
	h.directory = NewDirectoryService(config.Config{Auth: config.AuthConfig{BcryptCost: 4}}, DirectoryDependencies{
		UserRepo:   store.Users(),
		LeadRepo:   store.Leads(),
		GoalRepo:   store.Goals(),
		Tx:         store,
		Policy:     engine,
		Activity:   h.activity,
		Dispatcher: dispatcher,
		Clock:      clock,
	})

	h.admin = h.seedUser(t, "admin", domain.RoleAdmin, nil)
	h.leader1 = h.seedUser(t, "leader1", domain.RoleLeader, nil)
	h.leader2 = h.seedUser(t, "leader2", domain.RoleLeader, nil)
	h.caller1 = h.seedUser(t, "caller1", domain.RoleCaller, &h.leader1.ID)
	h.caller2 = h.seedUser(t, "caller2", domain.RoleCaller, &h.leader2.ID)
	return h
}

func (h *harness) seedUser(t *testing.T, name string, role domain.Role, leaderID *string) *domain.Identity {
	t.Helper()
	user := &domain.Identity{
		Name:         name,
		Email:        name + "@example.com",
		PasswordHash: "unused",
		Role:         role,
		LeaderID:     leaderID,
		Active:       true,
	}
	require.NoError(t, h.store.Users().Create(context.Background(), user))
	return user
}

func (h *harness) createLead(t *testing.T, phone string, assignee *domain.Identity) *domain.Lead {
	t.Helper()
	input := LeadCreateInput{Name: "Lead " + phone, Phone: phone}
	if assignee != nil {
		input.AssignedTo = &assignee.ID
	}
	lead, err := h.leads.CreateLead(context.Background(), h.admin, input)
	require.NoError(t, err)
	return lead
}

func (h *harness) createGoal(t *testing.T, user *domain.Identity, goalType domain.GoalType) *domain.Goal {
	t.Helper()
	goal, err := h.goals.CreateGoal(context.Background(), h.admin, GoalCreateInput{
		UserID:    user.ID,
		Type:      goalType,
		Target:    10,
		StartDate: h.now.Add(-time.Hour),
		EndDate:   h.now.Add(24 * time.Hour),
	})
	require.NoError(t, err)
	return goal
}

func (h *harness) goal(t *testing.T, id string) domain.Goal {
	t.Helper()
	goals, err := h.store.Goals().List(context.Background(), repository.GoalFilter{})
	require.NoError(t, err)
	for _, g := range goals {
		if g.ID == id {
			return g
		}
	}
	t.Fatalf("goal %s not found", id)
	return domain.Goal{}
}

func (h *harness) lead(t *testing.T, id string) *domain.Lead {
	t.Helper()
	lead, err := h.store.Leads().GetByID(context.Background(), id)
	require.NoError(t, err)
	return lead
}
