package domain

import "time"

// Role enumerates the staff hierarchy tiers.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleLeader Role = "leader"
	RoleCaller Role = "caller"
)

// Valid reports whether the role is one of the known tiers.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleLeader, RoleCaller:
		return true
	}
	return false
}

// Identity models a staff member. LeaderID is set only for callers and
// always references an identity with RoleLeader.
type Identity struct {
	ID           string
	Name         string
	Email        string
	PasswordHash string
	Role         Role
	LeaderID     *string
	Active       bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// IsAdmin reports whether the identity is an administrator.
func (i *Identity) IsAdmin() bool {
	return i != nil && i.Role == RoleAdmin
}

// LeadsTeam reports whether the identity is a caller supervised by leaderID.
func (i *Identity) LeadsTeam(leaderID string) bool {
	return i != nil && i.Role == RoleCaller && i.LeaderID != nil && *i.LeaderID == leaderID
}

// DeriveLeaderID computes the leader back-reference a lead receives when it is
// assigned to the given identity. Leaders own their leads, callers inherit their
// leader, everyone else yields nil.
func DeriveLeaderID(assignee *Identity) *string {
	if assignee == nil {
		return nil
	}
	switch assignee.Role {
	case RoleLeader:
		id := assignee.ID
		return &id
	case RoleCaller:
		if assignee.LeaderID == nil {
			return nil
		}
		id := *assignee.LeaderID
		return &id
	default:
		return nil
	}
}
