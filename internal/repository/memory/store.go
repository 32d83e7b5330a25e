// Package memory provides mutex-guarded implementations of the repository
// interfaces. They honour the same atomicity contracts as the Postgres
// implementations and back local development and service tests.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/spec-kit/lead-service/internal/domain"
	"github.com/spec-kit/lead-service/internal/repository"
)

// Store holds every table in memory.
type Store struct {
	mu       sync.Mutex
	txMu     sync.Mutex
	now      func() time.Time
	users    map[string]*domain.Identity
	leads    map[string]*domain.Lead
	calls    []*domain.CallRecord
	goals    map[string]*domain.Goal
	activity []*domain.ActivityRecord
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		now:   time.Now,
		users: make(map[string]*domain.Identity),
		leads: make(map[string]*domain.Lead),
		goals: make(map[string]*domain.Goal),
	}
}

// Users returns the user repository view.
func (s *Store) Users() repository.UserRepository { return &userRepo{s} }

// Leads returns the lead repository view.
func (s *Store) Leads() repository.LeadRepository { return &leadRepo{s} }

// Calls returns the call record repository view.
func (s *Store) Calls() repository.CallRecordRepository { return &callRepo{s} }

// Goals returns the goal repository view.
func (s *Store) Goals() repository.GoalRepository { return &goalRepo{s} }

// Activity returns the activity repository view.
func (s *Store) Activity() repository.ActivityRepository { return &activityRepo{s} }

type txKey struct{}

// WithinTx serializes units of work and restores the previous state when fn
// fails. Activity entries survive a rollback.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(txKey{}) != nil {
		return fn(ctx)
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()

	snap := s.snapshot()
	if err := fn(context.WithValue(ctx, txKey{}, true)); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

type snapshot struct {
	users map[string]*domain.Identity
	leads map[string]*domain.Lead
	calls []*domain.CallRecord
	goals map[string]*domain.Goal
}

func (s *Store) snapshot() snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := snapshot{
		users: make(map[string]*domain.Identity, len(s.users)),
		leads: make(map[string]*domain.Lead, len(s.leads)),
		calls: append([]*domain.CallRecord(nil), s.calls...),
		goals: make(map[string]*domain.Goal, len(s.goals)),
	}
	for id, u := range s.users {
		c := *u
		snap.users[id] = &c
	}
	for id, l := range s.leads {
		c := *l
		snap.leads[id] = &c
	}
	for id, g := range s.goals {
		c := *g
		snap.goals[id] = &c
	}
	return snap
}

func (s *Store) restore(snap snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users = snap.users
	s.leads = snap.leads
	s.calls = snap.calls
	s.goals = snap.goals
}

func page(total, limit, offset int) (int, int) {
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return offset, end
}

func contains(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), needle)
}

func searchTerm(term *string) string {
	if term == nil {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(*term))
}

type userRepo struct{ s *Store }

func (r *userRepo) Create(_ context.Context, user *domain.Identity) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	email := strings.ToLower(user.Email)
	for _, existing := range r.s.users {
		if existing.Email == email {
			return repository.ErrDuplicateEmail
		}
	}
	now := r.s.now()
	user.ID = uuid.NewString()
	user.Email = email
	user.Active = true
	user.CreatedAt = now
	user.UpdatedAt = now
	stored := *user
	r.s.users[user.ID] = &stored
	return nil
}

func (r *userRepo) Update(_ context.Context, user *domain.Identity) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	current, ok := r.s.users[user.ID]
	if !ok {
		return repository.ErrNoRows
	}
	email := strings.ToLower(user.Email)
	for id, existing := range r.s.users {
		if id != user.ID && existing.Email == email {
			return repository.ErrDuplicateEmail
		}
	}
	stored := *user
	stored.Email = email
	stored.CreatedAt = current.CreatedAt
	stored.UpdatedAt = r.s.now()
	r.s.users[user.ID] = &stored
	user.Email = email
	user.UpdatedAt = stored.UpdatedAt
	return nil
}

func (r *userRepo) GetByID(_ context.Context, id string) (*domain.Identity, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	user, ok := r.s.users[id]
	if !ok {
		return nil, repository.ErrNoRows
	}
	c := *user
	return &c, nil
}

func (r *userRepo) GetByEmail(_ context.Context, email string) (*domain.Identity, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	email = strings.ToLower(email)
	for _, user := range r.s.users {
		if user.Email == email {
			c := *user
			return &c, nil
		}
	}
	return nil, repository.ErrNoRows
}

func (r *userRepo) GetByEmails(_ context.Context, emails []string) (map[string]*domain.Identity, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	wanted := make(map[string]bool, len(emails))
	for _, email := range emails {
		wanted[strings.ToLower(email)] = true
	}
	result := make(map[string]*domain.Identity)
	for _, user := range r.s.users {
		if user.Active && wanted[user.Email] {
			c := *user
			result[user.Email] = &c
		}
	}
	return result, nil
}

func (r *userRepo) List(_ context.Context, filter repository.UserFilter) ([]domain.Identity, int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	term := searchTerm(filter.SearchTerm)

	var matched []domain.Identity
	for _, user := range r.s.users {
		if !filter.IncludeInactive && !user.Active {
			continue
		}
		if filter.Role != nil && user.Role != *filter.Role {
			continue
		}
		if filter.TeamRoot != nil && user.ID != *filter.TeamRoot && !user.LeadsTeam(*filter.TeamRoot) {
			continue
		}
		if term != "" && !contains(user.Name, term) && !contains(user.Email, term) {
			continue
		}
		matched = append(matched, *user)
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID < matched[j].ID
	})
	start, end := page(len(matched), filter.Limit, filter.Offset)
	return matched[start:end], len(matched), nil
}

func (r *userRepo) LeaderOf(_ context.Context, callerID string) (*string, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	user, ok := r.s.users[callerID]
	if !ok || user.Role != domain.RoleCaller {
		return nil, repository.ErrNoRows
	}
	if user.LeaderID == nil {
		return nil, nil
	}
	id := *user.LeaderID
	return &id, nil
}

func (r *userRepo) TeamOf(_ context.Context, leaderID string) ([]string, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var team []*domain.Identity
	for _, user := range r.s.users {
		if user.Active && user.LeadsTeam(leaderID) {
			team = append(team, user)
		}
	}
	sort.Slice(team, func(i, j int) bool { return team[i].CreatedAt.Before(team[j].CreatedAt) })
	ids := make([]string, 0, len(team))
	for _, user := range team {
		ids = append(ids, user.ID)
	}
	return ids, nil
}

func (r *userRepo) CountActiveAdmins(_ context.Context) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	count := 0
	for _, user := range r.s.users {
		if user.Active && user.Role == domain.RoleAdmin {
			count++
		}
	}
	return count, nil
}

func (r *userRepo) Deactivate(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	user, ok := r.s.users[id]
	if !ok || !user.Active {
		return repository.ErrNoRows
	}
	user.Active = false
	user.UpdatedAt = r.s.now()
	return nil
}

type callRepo struct{ s *Store }

func (r *callRepo) Create(_ context.Context, record *domain.CallRecord) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	record.ID = uuid.NewString()
	stored := *record
	r.s.calls = append(r.s.calls, &stored)
	return nil
}

func (r *callRepo) List(_ context.Context, filter repository.CallFilter) ([]domain.CallRecord, int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var matched []domain.CallRecord
	for _, record := range r.s.calls {
		if filter.LeadID != nil && record.LeadID != *filter.LeadID {
			continue
		}
		if filter.CallerID != nil && record.CallerID != *filter.CallerID {
			continue
		}
		if filter.LeadScope != nil && !filter.LeadScope.Matches(r.s.leads[record.LeadID]) {
			continue
		}
		matched = append(matched, *record)
	}
	sort.SliceStable(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })
	start, end := page(len(matched), filter.Limit, filter.Offset)
	return matched[start:end], len(matched), nil
}

type goalRepo struct{ s *Store }

func (r *goalRepo) Create(_ context.Context, goal *domain.Goal) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	now := r.s.now()
	goal.ID = uuid.NewString()
	goal.CreatedAt = now
	goal.UpdatedAt = now
	stored := *goal
	r.s.goals[goal.ID] = &stored
	return nil
}

func (r *goalRepo) List(_ context.Context, filter repository.GoalFilter) ([]domain.Goal, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var users map[string]bool
	if filter.UserIDs != nil {
		users = make(map[string]bool, len(filter.UserIDs))
		for _, id := range filter.UserIDs {
			users[id] = true
		}
	}
	var result []domain.Goal
	for _, goal := range r.s.goals {
		if users != nil && !users[goal.UserID] {
			continue
		}
		if filter.ActiveAt != nil && !goal.Covers(*filter.ActiveAt) {
			continue
		}
		result = append(result, *goal)
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].StartDate.Equal(result[j].StartDate) {
			return result[i].StartDate.After(result[j].StartDate)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

func (r *goalRepo) Increment(_ context.Context, userID string, goalType domain.GoalType, asOf time.Time, by int) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var target *domain.Goal
	for _, goal := range r.s.goals {
		if goal.UserID != userID || goal.Type != goalType || !goal.Covers(asOf) {
			continue
		}
		if target == nil || goal.StartDate.After(target.StartDate) ||
			(goal.StartDate.Equal(target.StartDate) && goal.ID < target.ID) {
			target = goal
		}
	}
	if target == nil {
		return 0, nil
	}
	target.Achieved += by
	target.UpdatedAt = r.s.now()
	return 1, nil
}

type activityRepo struct{ s *Store }

func (r *activityRepo) Append(_ context.Context, record *domain.ActivityRecord) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	record.ID = uuid.NewString()
	stored := *record
	r.s.activity = append(r.s.activity, &stored)
	return nil
}

func (r *activityRepo) ListByTarget(_ context.Context, targetID string, limit int) ([]domain.ActivityRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if limit <= 0 {
		limit = 50
	}
	var result []domain.ActivityRecord
	for i := len(r.s.activity) - 1; i >= 0 && len(result) < limit; i-- {
		if r.s.activity[i].TargetID == targetID {
			result = append(result, *r.s.activity[i])
		}
	}
	return result, nil
}
