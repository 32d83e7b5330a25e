package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/spec-kit/lead-service/internal/domain"
	"github.com/spec-kit/lead-service/internal/repository"
)

type leadRepo struct{ s *Store }

func (r *leadRepo) phoneTaken(phone string) bool {
	for _, lead := range r.s.leads {
		if lead.Active && lead.Phone == phone {
			return true
		}
	}
	return false
}

func (r *leadRepo) insert(lead *domain.Lead) {
	now := r.s.now()
	lead.ID = uuid.NewString()
	if lead.Status == "" {
		lead.Status = domain.LeadStatusNew
	}
	lead.CallCount = 0
	lead.Active = true
	lead.CreatedAt = now
	lead.UpdatedAt = now
	stored := *lead
	r.s.leads[lead.ID] = &stored
}

func (r *leadRepo) Create(_ context.Context, lead *domain.Lead) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.phoneTaken(lead.Phone) {
		return repository.ErrDuplicatePhone
	}
	r.insert(lead)
	return nil
}

func (r *leadRepo) CreateBatch(_ context.Context, leads []*domain.Lead) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	seen := make(map[string]bool, len(leads))
	for _, lead := range leads {
		if seen[lead.Phone] || r.phoneTaken(lead.Phone) {
			return repository.ErrDuplicatePhone
		}
		seen[lead.Phone] = true
	}
	for _, lead := range leads {
		r.insert(lead)
	}
	return nil
}

func (r *leadRepo) active(id string) (*domain.Lead, bool) {
	lead, ok := r.s.leads[id]
	if !ok || !lead.Active {
		return nil, false
	}
	return lead, true
}

func (r *leadRepo) GetByID(_ context.Context, id string) (*domain.Lead, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	lead, ok := r.active(id)
	if !ok {
		return nil, repository.ErrNoRows
	}
	c := *lead
	return &c, nil
}

func (r *leadRepo) ListByIDs(_ context.Context, ids []string) ([]domain.Lead, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var result []domain.Lead
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		if lead, ok := r.active(id); ok {
			result = append(result, *lead)
		}
	}
	sort.SliceStable(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (r *leadRepo) matching(filter repository.LeadFilter) []domain.Lead {
	term := searchTerm(filter.SearchTerm)
	statuses := make(map[domain.LeadStatus]bool, len(filter.Statuses))
	for _, status := range filter.Statuses {
		statuses[status] = true
	}

	var matched []domain.Lead
	for _, lead := range r.s.leads {
		if !filter.Scope.Matches(lead) {
			continue
		}
		if !filter.IncludeInactive && !lead.Active {
			continue
		}
		if len(statuses) > 0 && !statuses[lead.Status] {
			continue
		}
		if filter.AssignedTo != nil && (lead.AssignedTo == nil || *lead.AssignedTo != *filter.AssignedTo) {
			continue
		}
		if filter.LeaderID != nil && (lead.LeaderID == nil || *lead.LeaderID != *filter.LeaderID) {
			continue
		}
		if filter.UnassignedOnly && lead.IsAssigned() {
			continue
		}
		if term != "" && !contains(lead.Name, term) && !contains(lead.Phone, term) {
			continue
		}
		matched = append(matched, *lead)
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].UpdatedAt.Equal(matched[j].UpdatedAt) {
			return matched[i].UpdatedAt.After(matched[j].UpdatedAt)
		}
		return matched[i].ID < matched[j].ID
	})
	return matched
}

func (r *leadRepo) List(_ context.Context, filter repository.LeadFilter) ([]domain.Lead, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	matched := r.matching(filter)
	start, end := page(len(matched), filter.Limit, filter.Offset)
	return matched[start:end], nil
}

func (r *leadRepo) Count(_ context.Context, filter repository.LeadFilter) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return len(r.matching(filter)), nil
}

func (r *leadRepo) ActivePhones(_ context.Context, phones []string) (map[string]bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	wanted := make(map[string]bool, len(phones))
	for _, phone := range phones {
		wanted[phone] = true
	}
	found := make(map[string]bool)
	for _, lead := range r.s.leads {
		if lead.Active && wanted[lead.Phone] {
			found[lead.Phone] = true
		}
	}
	return found, nil
}

func applyPatch(lead *domain.Lead, patch repository.LeadPatch) {
	if patch.Name != nil {
		lead.Name = *patch.Name
	}
	if patch.Notes != nil {
		lead.Notes = patch.Notes
	}
	if patch.Behaviour != nil {
		lead.Behaviour = patch.Behaviour
	}
	if patch.NextCallDate != nil {
		lead.NextCallDate = patch.NextCallDate
	}
	if patch.Source != nil {
		lead.Source = patch.Source
	}
	if patch.UpdatedBy != "" {
		updatedBy := patch.UpdatedBy
		lead.UpdatedBy = &updatedBy
	}
}

func (r *leadRepo) Update(_ context.Context, id string, patch repository.LeadPatch) (*domain.Lead, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	lead, ok := r.active(id)
	if !ok {
		return nil, repository.ErrNoRows
	}
	if patch.Phone != nil && *patch.Phone != lead.Phone {
		if r.phoneTaken(*patch.Phone) {
			return nil, repository.ErrDuplicatePhone
		}
		lead.Phone = *patch.Phone
	}
	applyPatch(lead, patch)
	lead.UpdatedAt = r.s.now()
	c := *lead
	return &c, nil
}

func (r *leadRepo) Assign(_ context.Context, ids []string, assignedTo, leaderID *string, actorID string) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	updated := 0
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		lead, ok := r.active(id)
		if !ok {
			continue
		}
		lead.AssignedTo = cloneString(assignedTo)
		lead.LeaderID = cloneString(leaderID)
		lead.UpdatedBy = cloneString(&actorID)
		lead.UpdatedAt = r.s.now()
		updated++
	}
	return updated, nil
}

func (r *leadRepo) TransitionStatus(_ context.Context, id string, status domain.LeadStatus, patch repository.LeadPatch, now time.Time) (*domain.Lead, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	lead, ok := r.active(id)
	if !ok {
		return nil, false, repository.ErrNoRows
	}

	fired := domain.FirstContact(lead.Status, status)
	if !fired && domain.CheckTransition(lead.Status, status) != nil {
		return nil, false, repository.ErrInvalidTransition
	}
	if fired {
		lead.CallCount++
		at := now
		lead.LastCallAt = &at
	}
	lead.Status = status
	applyPatch(lead, repository.LeadPatch{
		Notes:        patch.Notes,
		Behaviour:    patch.Behaviour,
		NextCallDate: patch.NextCallDate,
		UpdatedBy:    patch.UpdatedBy,
	})
	lead.UpdatedAt = r.s.now()
	c := *lead
	return &c, fired, nil
}

func (r *leadRepo) BulkTransition(_ context.Context, ids []string, status domain.LeadStatus, actorID string, now time.Time) (int, []string, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	updated := 0
	fired := []string{}
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		lead, ok := r.active(id)
		if !ok {
			continue
		}
		first := domain.FirstContact(lead.Status, status)
		if !first && domain.CheckTransition(lead.Status, status) != nil {
			continue
		}
		if first {
			lead.CallCount++
			at := now
			lead.LastCallAt = &at
			fired = append(fired, id)
		}
		lead.Status = status
		lead.UpdatedBy = cloneString(&actorID)
		lead.UpdatedAt = r.s.now()
		updated++
	}
	return updated, fired, nil
}

func (r *leadRepo) Deactivate(_ context.Context, id, actorID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	lead, ok := r.active(id)
	if !ok {
		return repository.ErrNoRows
	}
	lead.Active = false
	lead.UpdatedBy = cloneString(&actorID)
	lead.UpdatedAt = r.s.now()
	return nil
}

func (r *leadRepo) TouchLastCall(_ context.Context, id string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	lead, ok := r.active(id)
	if !ok {
		return repository.ErrNoRows
	}
	lead.LastCallAt = &at
	lead.UpdatedAt = r.s.now()
	return nil
}

func (r *leadRepo) RelinkLeader(_ context.Context, assignedTo string, leaderID *string) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	updated := 0
	for _, lead := range r.s.leads {
		if lead.AssignedTo != nil && *lead.AssignedTo == assignedTo {
			lead.LeaderID = cloneString(leaderID)
			lead.UpdatedAt = r.s.now()
			updated++
		}
	}
	return updated, nil
}

func (r *leadRepo) Summary(_ context.Context, scope domain.LeadScope, since time.Time) (*domain.DashboardSummary, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	summary := &domain.DashboardSummary{StatusBreakdown: map[domain.LeadStatus]int{}}
	perAssignee := map[string]int{}
	for _, lead := range r.s.leads {
		if !lead.Active || !scope.Matches(lead) {
			continue
		}
		summary.TotalLeads++
		summary.StatusBreakdown[lead.Status]++
		if lead.LastCallAt != nil && !lead.LastCallAt.Before(since) {
			summary.TodayCalls++
		}
		if lead.IsAssigned() {
			perAssignee[*lead.AssignedTo]++
		}
	}
	for id, count := range perAssignee {
		user, ok := r.s.users[id]
		if !ok {
			continue
		}
		summary.TopAssignees = append(summary.TopAssignees, domain.AssigneeCount{
			ID: id, Email: user.Email, Role: user.Role, Count: count,
		})
	}
	sort.Slice(summary.TopAssignees, func(i, j int) bool {
		a, b := summary.TopAssignees[i], summary.TopAssignees[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.Email < b.Email
	})
	if len(summary.TopAssignees) > 5 {
		summary.TopAssignees = summary.TopAssignees[:5]
	}
	return summary, nil
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}
