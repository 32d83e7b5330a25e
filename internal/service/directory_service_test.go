package service

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/lead-service/internal/domain"
	apperrors "github.com/spec-kit/lead-service/pkg/util/errorutil"
)

func TestCreateUserByLeaderJoinsTeam(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	user, err := h.directory.CreateUser(ctx, h.leader1, UserCreateInput{
		Name: "New Caller", Email: "New@Example.com", Password: "password123",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.RoleCaller, user.Role)
	assert.Equal(t, h.leader1.ID, *user.LeaderID)
	assert.Equal(t, "new@example.com", user.Email)
	assert.NotEqual(t, "password123", user.PasswordHash)

	team, err := h.directory.TeamOf(ctx, h.leader1.ID)
	require.NoError(t, err)
	assert.Contains(t, team, user.ID)

	leaderID, err := h.directory.LeaderOf(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, h.leader1.ID, *leaderID)

	_, err = h.directory.CreateUser(ctx, h.leader1, UserCreateInput{
		Name: "Boss", Email: "boss@example.com", Password: "password123", Role: domain.RoleLeader,
	})
	assert.Equal(t, apperrors.ForbiddenRoleIncapable, apperrors.ForbiddenReason(err))

	_, err = h.directory.CreateUser(ctx, h.leader1, UserCreateInput{
		Name: "Poach", Email: "poach@example.com", Password: "password123", Role: domain.RoleCaller, LeaderID: &h.leader2.ID,
	})
	assert.Equal(t, apperrors.ForbiddenScopeMismatch, apperrors.ForbiddenReason(err))

	_, err = h.directory.CreateUser(ctx, h.caller1, UserCreateInput{
		Name: "X", Email: "x@example.com", Password: "password123", Role: domain.RoleCaller,
	})
	assert.Equal(t, apperrors.ForbiddenRoleIncapable, apperrors.ForbiddenReason(err))
}

func TestCreateUserValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	cases := []UserCreateInput{
		{Name: "", Email: "a@example.com", Password: "password123", Role: domain.RoleAdmin},
		{Name: "A", Email: "not-an-email", Password: "password123", Role: domain.RoleAdmin},
		{Name: "A", Email: "a@example.com", Password: "short", Role: domain.RoleAdmin},
		{Name: "A", Email: "a@example.com", Password: "password123", Role: "owner"},
		{Name: "A", Email: "a@example.com", Password: "password123", Role: domain.RoleCaller},
		{Name: "A", Email: "a@example.com", Password: "password123", Role: domain.RoleCaller, LeaderID: &h.caller2.ID},
		{Name: "A", Email: "a@example.com", Password: "password123", Role: domain.RoleLeader, LeaderID: &h.leader1.ID},
	}
	for i, input := range cases {
		_, err := h.directory.CreateUser(ctx, h.admin, input)
		assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation), "case %d: %v", i, err)
	}

	_, err := h.directory.CreateUser(ctx, h.admin, UserCreateInput{
		Name: "Dup", Email: "Caller1@example.com", Password: "password123", Role: domain.RoleAdmin,
	})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeConflict))
}

func TestUpdateUserRelinksLeads(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	lead := h.createLead(t, "9998887777", h.caller1)

	updated, err := h.directory.UpdateUser(ctx, h.admin, h.caller1.ID, UserUpdateInput{LeaderID: &h.leader2.ID})
	require.NoError(t, err)
	assert.Equal(t, h.leader2.ID, *updated.LeaderID)
	assert.Equal(t, h.leader2.ID, *h.lead(t, lead.ID).LeaderID)

	updated, err = h.directory.UpdateUser(ctx, h.admin, h.caller1.ID, UserUpdateInput{Role: ptr(domain.RoleLeader)})
	require.NoError(t, err)
	assert.Nil(t, updated.LeaderID)
	assert.Equal(t, h.caller1.ID, *h.lead(t, lead.ID).LeaderID)

	_, err = h.directory.UpdateUser(ctx, h.leader1, h.caller2.ID, UserUpdateInput{Name: ptr("x")})
	assert.Equal(t, apperrors.ForbiddenRoleIncapable, apperrors.ForbiddenReason(err))
}

func TestUpdateUserGuardsHierarchy(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.directory.UpdateUser(ctx, h.admin, h.leader1.ID, UserUpdateInput{Role: ptr(domain.RoleAdmin)})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeConflict))

	_, err = h.directory.UpdateUser(ctx, h.admin, h.admin.ID, UserUpdateInput{Role: ptr(domain.RoleLeader)})
	assert.Equal(t, apperrors.ForbiddenLastAdmin, apperrors.ForbiddenReason(err))

	_, err = h.directory.UpdateUser(ctx, h.admin, h.caller1.ID, UserUpdateInput{ClearLeader: true})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation))

	_, err = h.directory.UpdateUser(ctx, h.admin, h.caller1.ID, UserUpdateInput{Email: ptr("caller2@example.com")})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeConflict))
}

func TestDeleteUserGuards(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	err := h.directory.DeleteUser(ctx, h.admin, h.admin.ID)
	assert.Equal(t, apperrors.ForbiddenSelfTarget, apperrors.ForbiddenReason(err))

	second := h.seedUser(t, "admin2", domain.RoleAdmin, nil)
	require.NoError(t, h.directory.DeleteUser(ctx, h.admin, second.ID))

	other := h.seedUser(t, "admin3", domain.RoleAdmin, nil)
	require.NoError(t, h.directory.DeleteUser(ctx, other, h.admin.ID))
	err = h.directory.DeleteUser(ctx, h.admin, other.ID)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeForbidden))

	err = h.directory.DeleteUser(ctx, other, h.leader1.ID)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeConflict))

	require.NoError(t, h.directory.DeleteUser(ctx, other, h.caller1.ID))
	require.NoError(t, h.directory.DeleteUser(ctx, other, h.leader1.ID))

	err = h.directory.DeleteUser(ctx, h.leader2, h.caller2.ID)
	assert.Equal(t, apperrors.ForbiddenRoleIncapable, apperrors.ForbiddenReason(err))
}

func TestLastAdminCannotBeDeleted(t *testing.T) {
	h := newHarness(t)
	other := h.seedUser(t, "admin2", domain.RoleAdmin, nil)
	require.NoError(t, h.directory.DeleteUser(context.Background(), h.admin, other.ID))

	// Only h.admin remains; a second admin session deleting it must fail.
	ghost := &domain.Identity{ID: "ghost", Role: domain.RoleAdmin, Active: true}
	err := h.directory.DeleteUser(context.Background(), ghost, h.admin.ID)
	assert.Equal(t, apperrors.ForbiddenLastAdmin, apperrors.ForbiddenReason(err))
}

func TestConcurrentAdminDeletesKeepOneAdmin(t *testing.T) {
	h := newHarness(t)
	other := h.seedUser(t, "admin2", domain.RoleAdmin, nil)
	ctx := context.Background()

	errs := make([]error, 2)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		errs[0] = h.directory.DeleteUser(ctx, h.admin, other.ID)
	}()
	go func() {
		defer wg.Done()
		errs[1] = h.directory.DeleteUser(ctx, other, h.admin.ID)
	}()
	wg.Wait()

	failed := 0
	for _, err := range errs {
		if err != nil {
			failed++
			assert.Equal(t, apperrors.ForbiddenLastAdmin, apperrors.ForbiddenReason(err))
		}
	}
	assert.Equal(t, 1, failed)

	admins, err := h.store.Users().CountActiveAdmins(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, admins)
}

func TestUserVisibility(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.createGoal(t, h.caller1, domain.GoalTypeDailyCalls)

	detail, err := h.directory.GetUser(ctx, h.leader1, h.caller1.ID)
	require.NoError(t, err)
	assert.Len(t, detail.Goals, 1)

	_, err = h.directory.GetUser(ctx, h.leader1, h.caller2.ID)
	assert.Equal(t, apperrors.ForbiddenScopeMismatch, apperrors.ForbiddenReason(err))
	_, err = h.directory.GetUser(ctx, h.caller1, h.leader1.ID)
	assert.Equal(t, apperrors.ForbiddenScopeMismatch, apperrors.ForbiddenReason(err))
	_, err = h.directory.GetUser(ctx, h.admin, "missing")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeNotFound))

	page, err := h.directory.ListUsers(ctx, h.leader1, UserListFilter{})
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)

	page, err = h.directory.ListUsers(ctx, h.admin, UserListFilter{Role: ptr(domain.RoleCaller)})
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)

	_, err = h.directory.ListUsers(ctx, h.caller1, UserListFilter{})
	assert.Equal(t, apperrors.ForbiddenRoleIncapable, apperrors.ForbiddenReason(err))
}
