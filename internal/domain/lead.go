package domain

import (
	"errors"
	"time"
)

// LeadStatus enumerates lifecycle states for leads.
type LeadStatus string

const (
	LeadStatusNew        LeadStatus = "new"
	LeadStatusInProgress LeadStatus = "in_progress"
	LeadStatusCallback   LeadStatus = "callback"
	LeadStatusClosed     LeadStatus = "closed"
	LeadStatusDead       LeadStatus = "dead"
)

// LeadStatuses lists every valid status in lifecycle order.
var LeadStatuses = []LeadStatus{
	LeadStatusNew,
	LeadStatusInProgress,
	LeadStatusCallback,
	LeadStatusClosed,
	LeadStatusDead,
}

// Valid reports whether the status belongs to the lifecycle.
func (s LeadStatus) Valid() bool {
	for _, candidate := range LeadStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ErrRevertToNew is returned when a lead that already left new is moved back.
var ErrRevertToNew = errors.New("lead status cannot revert to new")

// CheckTransition validates a move from current to next. Any state may move to
// any non-new state; new is reachable only from new.
func CheckTransition(current, next LeadStatus) error {
	if next == LeadStatusNew && current != LeadStatusNew {
		return ErrRevertToNew
	}
	return nil
}

// FirstContact reports whether moving from current to next is the one-time
// transition that counts a call and feeds the goal ledger.
func FirstContact(current, next LeadStatus) bool {
	return current == LeadStatusNew && next != LeadStatusNew
}

// Lead is the aggregate for a prospective customer.
type Lead struct {
	ID           string
	Name         string
	Phone        string
	Status       LeadStatus
	Notes        *string
	Behaviour    *string
	AssignedTo   *string
	LeaderID     *string
	CreatedBy    string
	UpdatedBy    *string
	CallCount    int
	LastCallAt   *time.Time
	NextCallDate *time.Time
	Source       *string
	Active       bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// IsAssigned reports whether the lead has an assignee.
func (l *Lead) IsAssigned() bool {
	return l != nil && l.AssignedTo != nil && *l.AssignedTo != ""
}

// LeadScope narrows lead queries to what an actor may see. All overrides the
// other fields; an empty scope matches nothing.
type LeadScope struct {
	All               bool
	AssignedTo        *string
	LeaderID          *string
	IncludeUnassigned bool
}

// Matches evaluates the scope against a single lead.
func (s LeadScope) Matches(lead *Lead) bool {
	if lead == nil {
		return false
	}
	if s.All {
		return true
	}
	if s.AssignedTo != nil && lead.AssignedTo != nil && *lead.AssignedTo == *s.AssignedTo {
		return true
	}
	if s.LeaderID != nil && lead.LeaderID != nil && *lead.LeaderID == *s.LeaderID {
		return true
	}
	return s.IncludeUnassigned && !lead.IsAssigned()
}
