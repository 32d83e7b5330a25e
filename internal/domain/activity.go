package domain

import "time"

// ActivityRecord is an append-only audit entry.
type ActivityRecord struct {
	ID        string
	ActorID   string
	Action    string
	TargetID  string
	Metadata  map[string]any
	CreatedAt time.Time
}

// DashboardSummary aggregates lead counters for a scope.
type DashboardSummary struct {
	TotalLeads      int                `json:"total_leads"`
	TodayCalls      int                `json:"today_calls"`
	StatusBreakdown map[LeadStatus]int `json:"status_breakdown"`
	TopAssignees    []AssigneeCount    `json:"top_assignees"`
}

// AssigneeCount is a row in the top assignee ranking.
type AssigneeCount struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Role  Role   `json:"role"`
	Count int    `json:"count"`
}
