package dto

import (
	"time"

	"github.com/spec-kit/lead-service/internal/domain"
)

// CreateGoalRequest payload. UserID defaults to the caller of the endpoint.
type CreateGoalRequest struct {
	UserID    string          `json:"user_id" validate:"omitempty,uuid"`
	Type      domain.GoalType `json:"type" validate:"required,oneof=daily_calls weekly_calls conversions"`
	Target    int             `json:"target" validate:"required,min=1"`
	StartDate time.Time       `json:"start_date" validate:"required"`
	EndDate   time.Time       `json:"end_date" validate:"required,gtefield=StartDate"`
}

// GoalResponse is the public view of a goal.
type GoalResponse struct {
	ID        string            `json:"id"`
	UserID    string            `json:"user_id"`
	Type      domain.GoalType   `json:"type"`
	Period    domain.GoalPeriod `json:"period"`
	Target    int               `json:"target"`
	Achieved  int               `json:"achieved"`
	StartDate time.Time         `json:"start_date"`
	EndDate   time.Time         `json:"end_date"`
}
