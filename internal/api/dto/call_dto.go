package dto

import (
	"time"

	"github.com/spec-kit/lead-service/internal/domain"
)

// CreateCallRequest payload for POST /calls.
type CreateCallRequest struct {
	LeadID          string            `json:"lead_id" validate:"required,uuid"`
	Result          domain.CallResult `json:"result" validate:"required"`
	Remarks         *string           `json:"remarks"`
	DurationSeconds *int              `json:"duration_seconds" validate:"omitempty,min=0"`
}

// CallResponse is the public view of a call record.
type CallResponse struct {
	ID              string            `json:"id"`
	LeadID          string            `json:"lead_id"`
	CallerID        string            `json:"caller_id"`
	Result          domain.CallResult `json:"result"`
	Remarks         *string           `json:"remarks"`
	DurationSeconds *int              `json:"duration_seconds"`
	CreatedAt       time.Time         `json:"created_at"`
}
