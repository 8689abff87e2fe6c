package domain

import "time"

// AppRoleAssignment is a user's role within one client application.
// Permissions is a free-form comma separated list kept for downstream
// resource servers.
type AppRoleAssignment struct {
	UserID      string    `bson:"user_id"     json:"user_id"`
	ClientID    string    `bson:"client_id"   json:"client_id"`
	Role        string    `bson:"role"        json:"role"`
	Permissions string    `bson:"permissions" json:"permissions"`
	Singleton   bool      `bson:"singleton"   json:"-"`
	CreatedAt   time.Time `bson:"created_at"  json:"created_at"`
	UpdatedAt   time.Time `bson:"updated_at"  json:"updated_at"`
}

// RolePermission is one normalized role -> permission row.
type RolePermission struct {
	RoleID       string `bson:"role_id"       json:"role_id"`
	PermissionID string `bson:"permission_id" json:"permission_id"`
}
