package services

import (
	"context"
	"testing"

	"github.com/pilab-dev/shadow-authz/domain"
	serrors "github.com/pilab-dev/shadow-authz/errors"
	"github.com/pilab-dev/shadow-authz/internal/auth/rbac"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoleService_Assign(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	a, err := env.roles.Assign(ctx, "admin", "user-1", "client-1", rbac.RoleMember, "app:read, app:read ,app:write")
	require.NoError(t, err)
	assert.Equal(t, "app:read,app:write", a.Permissions)
	assert.False(t, a.Singleton)

	tests := []struct {
		name, role, perms string
	}{
		{"unknown role", "superuser", ""},
		{"unknown permission", rbac.RoleMember, "app:read,app:delete"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.roles.Assign(ctx, "admin", "user-2", "client-1", tt.role, tt.perms)
			assert.True(t, serrors.HasCode(err, serrors.InvalidRequest))
		})
	}

	// Reassigning replaces the role.
	_, err = env.roles.Assign(ctx, "admin", "user-1", "client-1", rbac.RoleViewer, "")
	require.NoError(t, err)
	got, err := env.roles.Get(ctx, "user-1", "client-1")
	require.NoError(t, err)
	assert.Equal(t, rbac.RoleViewer, got.Role)
}

func TestRoleService_SingletonRole(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.roles.Assign(ctx, "admin", "user-1", "client-1", rbac.RoleProductOwner, "")
	require.NoError(t, err)

	_, err = env.roles.Assign(ctx, "admin", "user-2", "client-1", rbac.RoleProductOwner, "")
	assert.True(t, serrors.HasCode(err, serrors.SingletonRoleTaken))

	_, err = env.roles.Assign(ctx, "admin", "user-2", "client-2", rbac.RoleProductOwner, "")
	assert.NoError(t, err, "singleton is per client")

	_, err = env.roles.Assign(ctx, "admin", "user-1", "client-1", rbac.RoleProductOwner, "app:read")
	assert.NoError(t, err, "the holder may be reassigned")

	require.NoError(t, env.roles.Remove(ctx, "admin", "user-1", "client-1"))
	_, err = env.roles.Assign(ctx, "admin", "user-2", "client-1", rbac.RoleProductOwner, "")
	assert.NoError(t, err, "freed once the holder is removed")

	assert.ErrorIs(t, env.roles.Remove(ctx, "admin", "user-1", "client-1"), domain.ErrNotFound)

	list, err := env.roles.List(ctx, "client-1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "user-2", list[0].UserID)
}

func TestRoleService_HasPermission(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	require.NoError(t, env.roles.SeedRegistry(ctx))
	require.NoError(t, env.roles.SeedRegistry(ctx), "seeding is idempotent")

	_, err := env.roles.Assign(ctx, "admin", "viewer-1", "client-1", rbac.RoleViewer, "tokens:revoke")
	require.NoError(t, err)

	check := func(user, perm string) bool {
		ok, err := env.roles.HasPermission(ctx, user, "client-1", perm)
		require.NoError(t, err)
		return ok
	}

	assert.True(t, check("viewer-1", rbac.PermAppRead), "from role_permissions")
	assert.True(t, check("viewer-1", rbac.PermTokensRevoke), "from the assignment list")
	assert.False(t, check("viewer-1", rbac.PermAppWrite))
	assert.False(t, check("nobody", rbac.PermAppRead))

	require.NoError(t, env.roles.RevokePermission(ctx, "admin", rbac.RoleViewer, rbac.PermAppRead))
	assert.False(t, check("viewer-1", rbac.PermAppRead))

	require.NoError(t, env.roles.Grant(ctx, "admin", rbac.RoleViewer, rbac.PermAppWrite))
	assert.True(t, check("viewer-1", rbac.PermAppWrite))

	assert.True(t, serrors.HasCode(env.roles.Grant(ctx, "admin", rbac.RoleViewer, "nope"), serrors.InvalidRequest))
	assert.True(t, serrors.HasCode(env.roles.Grant(ctx, "admin", "nope", rbac.PermAppRead), serrors.InvalidRequest))
}
