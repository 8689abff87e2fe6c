package rbac

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultRolePermissionsUseRegistry(t *testing.T) {
	for role, perms := range DefaultRolePermissions {
		assert.Empty(t, UnknownPermissions(perms), "role %s references unknown permissions", role)
	}
}

func TestSingletonRoles(t *testing.T) {
	assert.True(t, IsSingletonRole(RoleProductOwner))
	assert.False(t, IsSingletonRole(RoleAdmin))
	assert.True(t, IsKnownRole(RoleViewer))
	assert.False(t, IsKnownRole("ROLE_ADMIN"))
}

func TestParsePermissions(t *testing.T) {
	assert.Equal(t, []string{"app:read", "app:write"}, ParsePermissions(" app:read, app:write,,app:read "))
	assert.Nil(t, ParsePermissions(""))
	assert.Equal(t, []string{"nope"}, UnknownPermissions([]string{"app:read", "nope"}))
}

func TestRolesSorted(t *testing.T) {
	assert.Equal(t, []string{RoleAdmin, RoleMember, RoleProductOwner, RoleViewer}, Roles())
}
