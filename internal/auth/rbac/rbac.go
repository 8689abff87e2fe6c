package rbac

import (
	"slices"
	"strings"
)

// RegistryVersion is bumped whenever Permissions or DefaultRolePermissions change.
// Seeding compares it against what is stored to decide whether rows need refreshing.
const RegistryVersion = 1

// Roles
const (
	RoleProductOwner = "product_owner"
	RoleAdmin        = "admin"
	RoleMember       = "member"
	RoleViewer       = "viewer"
)

// OAuth client management
const (
	PermClientsRead   = "clients:read"
	PermClientsManage = "clients:manage"
)

// Role assignment management
const (
	PermRolesRead   = "roles:read"
	PermRolesManage = "roles:manage"
)

// Session and token management
const (
	PermSessionsInvalidateAll = "sessions:invalidate_all"
	PermTokensRevoke          = "tokens:revoke"
)

// Application data, consumed by downstream resource servers
const (
	PermAppRead  = "app:read"
	PermAppWrite = "app:write"
)

// Permission describes one registry entry.
type Permission struct {
	ID          string
	Description string
}

// Permissions is the complete set of permission identifiers owned by the service.
var Permissions = []Permission{
	{PermClientsRead, "List and inspect registered applications"},
	{PermClientsManage, "Register, disable and delete applications"},
	{PermRolesRead, "List role assignments"},
	{PermRolesManage, "Assign and remove roles"},
	{PermSessionsInvalidateAll, "Invalidate every issued token"},
	{PermTokensRevoke, "Revoke tokens on behalf of other users"},
	{PermAppRead, "Read application data"},
	{PermAppWrite, "Modify application data"},
}

// DefaultRolePermissions is the seed for the normalized role_permissions rows.
var DefaultRolePermissions = map[string][]string{
	RoleProductOwner: {
		PermClientsRead, PermClientsManage,
		PermRolesRead, PermRolesManage,
		PermSessionsInvalidateAll, PermTokensRevoke,
		PermAppRead, PermAppWrite,
	},
	RoleAdmin: {
		PermClientsRead, PermClientsManage,
		PermRolesRead, PermRolesManage,
		PermTokensRevoke,
		PermAppRead, PermAppWrite,
	},
	RoleMember: {PermAppRead, PermAppWrite},
	RoleViewer: {PermAppRead},
}

// singletonRoles may have at most one holder per client application.
var singletonRoles = map[string]bool{
	RoleProductOwner: true,
}

// IsKnownRole reports whether role is defined in the registry.
func IsKnownRole(role string) bool {
	_, ok := DefaultRolePermissions[role]
	return ok
}

// IsSingletonRole reports whether role may only be held by one user per client.
func IsSingletonRole(role string) bool {
	return singletonRoles[role]
}

// IsKnownPermission reports whether id is in the registry.
func IsKnownPermission(id string) bool {
	return slices.ContainsFunc(Permissions, func(p Permission) bool { return p.ID == id })
}

// Roles returns the registry roles in a stable order.
func Roles() []string {
	roles := make([]string, 0, len(DefaultRolePermissions))
	for r := range DefaultRolePermissions {
		roles = append(roles, r)
	}
	slices.Sort(roles)
	return roles
}

// ParsePermissions splits a comma separated permission list, dropping blanks and duplicates.
func ParsePermissions(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p == "" || slices.Contains(out, p) {
			continue
		}
		out = append(out, p)
	}
	return out
}

// UnknownPermissions returns the entries of perms missing from the registry.
func UnknownPermissions(perms []string) []string {
	var unknown []string
	for _, p := range perms {
		if !IsKnownPermission(p) {
			unknown = append(unknown, p)
		}
	}
	return unknown
}
