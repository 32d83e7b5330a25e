package policy

import (
	"github.com/spec-kit/lead-service/internal/domain"
	apperrors "github.com/spec-kit/lead-service/pkg/util/errorutil"
)

// Action enumerates the operations subject to authorization.
type Action string

const (
	ActionCreate           Action = "create"
	ActionRead             Action = "read"
	ActionUpdate           Action = "update"
	ActionDelete           Action = "delete"
	ActionReassign         Action = "reassign"
	ActionStatusTransition Action = "status_transition"
	ActionBulkUpdate       Action = "bulk_update"
	ActionBulkAssign       Action = "bulk_assign"
	ActionIngest           Action = "ingest"
	ActionRecordCall       Action = "record_call"

	ActionCreateUser Action = "create_user"
	ActionReadUser   Action = "read_user"
	ActionListUsers  Action = "list_users"
	ActionUpdateUser Action = "update_user"
	ActionDeleteUser Action = "delete_user"

	ActionCreateGoal Action = "create_goal"
	ActionReadGoal   Action = "read_goal"
)

// Resource is the optional target of an action. A nil Lead on a lead action
// asks only whether the role is capable of the action at all.
type Resource struct {
	Lead *domain.Lead
	// Assignee is the prospective assignee for reassign and bulk assign. Nil
	// means the lead is being unassigned.
	Assignee *domain.Identity
	// Target is the identity acted upon by user and goal actions.
	Target *domain.Identity
	// AdminCount is the number of active admins, used by delete_user.
	AdminCount int
}

// Decision is the outcome of an authorization check.
type Decision struct {
	Allowed bool
	Kind    apperrors.ForbiddenKind
	Reason  string
}

// Err converts a denial into a forbidden error; nil when allowed.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return apperrors.NewForbiddenReason(d.Kind, d.Reason)
}

func allow() Decision { return Decision{Allowed: true} }

func incapable(reason string) Decision {
	return Decision{Kind: apperrors.ForbiddenRoleIncapable, Reason: reason}
}

func outOfScope(reason string) Decision {
	return Decision{Kind: apperrors.ForbiddenScopeMismatch, Reason: reason}
}

// Options are the configurable points of the policy.
type Options struct {
	// LeaderSeesUnassigned lets leaders work leads with no assignee.
	LeaderSeesUnassigned bool
	// LeadCreatorRoles lists the roles allowed to create single leads.
	LeadCreatorRoles []domain.Role
}

// DefaultOptions returns admin-only creation with team-plus-unassigned
// leader visibility.
func DefaultOptions() Options {
	return Options{
		LeaderSeesUnassigned: true,
		LeadCreatorRoles:     []domain.Role{domain.RoleAdmin},
	}
}

type rule func(e *Engine, actor *domain.Identity, res Resource) Decision

// Engine evaluates the role policy table. It holds no mutable state and is
// safe for concurrent use.
type Engine struct {
	opts     Options
	creators map[domain.Role]bool
	table    map[domain.Role]map[Action]rule
}

// New builds an engine for the given options.
func New(opts Options) *Engine {
	creators := make(map[domain.Role]bool, len(opts.LeadCreatorRoles))
	for _, role := range opts.LeadCreatorRoles {
		creators[role] = true
	}
	return &Engine{opts: opts, creators: creators, table: defaultTable()}
}

func defaultTable() map[domain.Role]map[Action]rule {
	return map[domain.Role]map[Action]rule{
		domain.RoleAdmin: {
			ActionCreate:           always,
			ActionRead:             always,
			ActionUpdate:           always,
			ActionDelete:           always,
			ActionReassign:         always,
			ActionStatusTransition: always,
			ActionBulkUpdate:       always,
			ActionBulkAssign:       always,
			ActionIngest:           always,
			ActionRecordCall:       always,
			ActionCreateUser:       always,
			ActionReadUser:         always,
			ActionListUsers:        always,
			ActionUpdateUser:       always,
			ActionDeleteUser:       adminDeleteUser,
			ActionCreateGoal:       always,
			ActionReadGoal:         always,
		},
		domain.RoleLeader: {
			ActionCreate:           creatorRole,
			ActionRead:             leaderScope,
			ActionUpdate:           leaderScope,
			ActionStatusTransition: leaderScope,
			ActionRecordCall:       leaderScope,
			ActionBulkUpdate:       leaderScope,
			ActionReassign:         leaderReassign,
			ActionBulkAssign:       leaderReassign,
			ActionCreateUser:       leaderCreateUser,
			ActionReadUser:         selfOrTeam,
			ActionListUsers:        always,
			ActionCreateGoal:       selfOrTeam,
			ActionReadGoal:         selfOrTeam,
		},
		domain.RoleCaller: {
			ActionCreate:           creatorRole,
			ActionRead:             callerScope,
			ActionUpdate:           callerScope,
			ActionStatusTransition: callerScope,
			ActionRecordCall:       callerScope,
			ActionReadUser:         selfOnly,
			ActionCreateGoal:       selfOnly,
			ActionReadGoal:         selfOnly,
		},
	}
}

// Authorize decides whether actor may perform action on res.
func (e *Engine) Authorize(actor *domain.Identity, action Action, res Resource) Decision {
	if actor == nil || !actor.Active {
		return incapable("inactive or unknown actor")
	}
	actions, ok := e.table[actor.Role]
	if !ok {
		return incapable("unknown role")
	}
	fn, ok := actions[action]
	if !ok {
		return incapable(string(actor.Role) + " may not " + string(action))
	}
	return fn(e, actor, res)
}

// Check is Authorize returning an error.
func (e *Engine) Check(actor *domain.Identity, action Action, res Resource) error {
	return e.Authorize(actor, action, res).Err()
}

// Allowed reports whether Authorize allows the action.
func (e *Engine) Allowed(actor *domain.Identity, action Action, res Resource) bool {
	return e.Authorize(actor, action, res).Allowed
}

// LeadScope returns the listing scope matching the read rules for actor.
func (e *Engine) LeadScope(actor *domain.Identity) domain.LeadScope {
	if actor == nil || !actor.Active {
		return domain.LeadScope{}
	}
	id := actor.ID
	switch actor.Role {
	case domain.RoleAdmin:
		return domain.LeadScope{All: true}
	case domain.RoleLeader:
		return domain.LeadScope{LeaderID: &id, IncludeUnassigned: e.opts.LeaderSeesUnassigned}
	case domain.RoleCaller:
		return domain.LeadScope{AssignedTo: &id}
	}
	return domain.LeadScope{}
}

func always(*Engine, *domain.Identity, Resource) Decision { return allow() }

func creatorRole(e *Engine, actor *domain.Identity, _ Resource) Decision {
	if e.creators[actor.Role] {
		return allow()
	}
	return incapable("lead creation is restricted")
}

func leaderScope(e *Engine, actor *domain.Identity, res Resource) Decision {
	lead := res.Lead
	if lead == nil {
		return allow()
	}
	if lead.LeaderID != nil && *lead.LeaderID == actor.ID {
		return allow()
	}
	if e.opts.LeaderSeesUnassigned && !lead.IsAssigned() {
		return allow()
	}
	return outOfScope("lead is outside your team")
}

func leaderReassign(e *Engine, actor *domain.Identity, res Resource) Decision {
	if d := leaderScope(e, actor, res); !d.Allowed {
		return d
	}
	if res.Assignee == nil {
		return allow()
	}
	if res.Assignee.Active && res.Assignee.LeadsTeam(actor.ID) {
		return allow()
	}
	return outOfScope("assignee is not a caller in your team")
}

func callerScope(_ *Engine, actor *domain.Identity, res Resource) Decision {
	lead := res.Lead
	if lead == nil {
		return allow()
	}
	if lead.AssignedTo != nil && *lead.AssignedTo == actor.ID {
		return allow()
	}
	return outOfScope("lead is not assigned to you")
}

func adminDeleteUser(_ *Engine, actor *domain.Identity, res Resource) Decision {
	target := res.Target
	if target == nil {
		return allow()
	}
	if target.ID == actor.ID {
		return Decision{Kind: apperrors.ForbiddenSelfTarget, Reason: "cannot delete yourself"}
	}
	if target.Role == domain.RoleAdmin && target.Active && res.AdminCount <= 1 {
		return Decision{Kind: apperrors.ForbiddenLastAdmin, Reason: "cannot delete the last admin"}
	}
	return allow()
}

func leaderCreateUser(_ *Engine, actor *domain.Identity, res Resource) Decision {
	target := res.Target
	if target == nil {
		return allow()
	}
	if target.Role != domain.RoleCaller {
		return incapable("leaders may only create callers")
	}
	if target.LeaderID == nil || *target.LeaderID != actor.ID {
		return outOfScope("caller must join your team")
	}
	return allow()
}

func selfOrTeam(_ *Engine, actor *domain.Identity, res Resource) Decision {
	target := res.Target
	if target == nil || target.ID == actor.ID || target.LeadsTeam(actor.ID) {
		return allow()
	}
	return outOfScope("user is outside your team")
}

func selfOnly(_ *Engine, actor *domain.Identity, res Resource) Decision {
	if res.Target == nil || res.Target.ID == actor.ID {
		return allow()
	}
	return outOfScope("only your own record is accessible")
}
