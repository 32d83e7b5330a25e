package dto

import (
	"time"

	"github.com/spec-kit/lead-service/internal/domain"
)

// CreateUserRequest payload. Role defaults to caller when a leader creates
// the user.
type CreateUserRequest struct {
	Name     string      `json:"name" validate:"required,max=200"`
	Email    string      `json:"email" validate:"required,email"`
	Password string      `json:"password" validate:"required,min=8"`
	Role     domain.Role `json:"role" validate:"omitempty,oneof=admin leader caller"`
	LeaderID *string     `json:"leader_id" validate:"omitempty,uuid"`
}

// UpdateUserRequest is a partial update.
type UpdateUserRequest struct {
	Name        *string      `json:"name" validate:"omitempty,max=200"`
	Email       *string      `json:"email" validate:"omitempty,email"`
	Password    *string      `json:"password" validate:"omitempty,min=8"`
	Role        *domain.Role `json:"role" validate:"omitempty,oneof=admin leader caller"`
	LeaderID    *string      `json:"leader_id" validate:"omitempty,uuid"`
	ClearLeader bool         `json:"clear_leader"`
}

// UserResponse is the public view of an identity.
type UserResponse struct {
	ID        string      `json:"id"`
	Name      string      `json:"name"`
	Email     string      `json:"email"`
	Role      domain.Role `json:"role"`
	LeaderID  *string     `json:"leader_id"`
	Active    bool        `json:"active"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// UserDetailResponse adds the goals active right now.
type UserDetailResponse struct {
	UserResponse
	Goals []GoalResponse `json:"goals"`
}
