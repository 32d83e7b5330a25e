package dto

import (
	"time"

	"github.com/spec-kit/lead-service/internal/domain"
	"github.com/spec-kit/lead-service/internal/ingest"
)

// CreateLeadRequest payload.
type CreateLeadRequest struct {
	Name         string     `json:"name" validate:"required,max=200"`
	Phone        string     `json:"phone" validate:"required"`
	AssignedTo   *string    `json:"assigned_to" validate:"omitempty,uuid"`
	Notes        *string    `json:"notes"`
	Behaviour    *string    `json:"behaviour"`
	Source       *string    `json:"source"`
	NextCallDate *time.Time `json:"next_call_date"`
}

// UpdateLeadRequest is a partial update. Unassign clears the assignee and
// cannot be combined with assigned_to.
type UpdateLeadRequest struct {
	Name         *string            `json:"name" validate:"omitempty,max=200"`
	Phone        *string            `json:"phone" validate:"omitempty,max=32"`
	Notes        *string            `json:"notes"`
	Behaviour    *string            `json:"behaviour"`
	Source       *string            `json:"source"`
	NextCallDate *time.Time         `json:"next_call_date"`
	Status       *domain.LeadStatus `json:"status"`
	AssignedTo   *string            `json:"assigned_to" validate:"omitempty,uuid,excluded_with=Unassign"`
	Unassign     bool               `json:"unassign"`
}

// LeadStatusRequest payload for PATCH /leads/:id/status.
type LeadStatusRequest struct {
	Status       domain.LeadStatus `json:"status" validate:"required"`
	Notes        *string           `json:"notes"`
	Behaviour    *string           `json:"behaviour"`
	NextCallDate *time.Time        `json:"next_call_date"`
}

// BulkStatusRequest payload for PUT /leads/bulk/status.
type BulkStatusRequest struct {
	LeadIDs []string          `json:"lead_ids" validate:"required,min=1,dive,uuid"`
	Status  domain.LeadStatus `json:"status" validate:"required"`
}

// BulkAssignRequest payload for PUT /leads/bulk/assign. Exactly one of
// assigned_to, leader_id and unassign is expected.
type BulkAssignRequest struct {
	LeadIDs    []string `json:"lead_ids" validate:"required,min=1,dive,uuid"`
	AssignedTo *string  `json:"assigned_to" validate:"omitempty,uuid"`
	LeaderID   *string  `json:"leader_id" validate:"omitempty,uuid"`
	Unassign   bool     `json:"unassign"`
}

// IngestRequest carries rows decoded by the client.
type IngestRequest struct {
	Rows []ingest.Record `json:"rows" validate:"required,min=1"`
}

// LeadResponse is the public view of a lead.
type LeadResponse struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	Phone        string            `json:"phone"`
	Status       domain.LeadStatus `json:"status"`
	Notes        *string           `json:"notes"`
	Behaviour    *string           `json:"behaviour"`
	AssignedTo   *string           `json:"assigned_to"`
	LeaderID     *string           `json:"leader_id"`
	CreatedBy    string            `json:"created_by"`
	UpdatedBy    *string           `json:"updated_by"`
	CallCount    int               `json:"call_count"`
	LastCallAt   *time.Time        `json:"last_call_at"`
	NextCallDate *time.Time        `json:"next_call_date"`
	Source       *string           `json:"source"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// BulkResultResponse reports how many leads a bulk operation changed.
type BulkResultResponse struct {
	UpdatedCount int `json:"updated_count"`
}

// IngestResponse reports partial ingestion results.
type IngestResponse struct {
	InsertedCount int               `json:"inserted_count"`
	FailedCount   int               `json:"failed_count"`
	Errors        []ingest.RowError `json:"errors"`
}

// ActivityResponse is one audit trail entry.
type ActivityResponse struct {
	ID        string         `json:"id"`
	ActorID   string         `json:"actor_id"`
	Action    string         `json:"action"`
	TargetID  string         `json:"target_id"`
	Metadata  map[string]any `json:"metadata"`
	CreatedAt time.Time      `json:"created_at"`
}

// PageMeta describes a page of results.
type PageMeta struct {
	Total  int `json:"total"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}
