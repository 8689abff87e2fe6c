package domain

import (
	"context"
	"time"
)

// ClientRepository persists registered applications.
type ClientRepository interface {
	CreateClient(ctx context.Context, client *Client) error
	GetClient(ctx context.Context, clientID string) (*Client, error)
	ListClients(ctx context.Context) ([]*Client, error)
	SetClientStatus(ctx context.Context, clientID string, status ClientStatus, at time.Time) error
	DeleteClient(ctx context.Context, clientID string) error
}

// AuthCodeRepository persists authorization codes.
type AuthCodeRepository interface {
	SaveAuthCode(ctx context.Context, code *AuthCode) error
	// ConsumeAuthCode marks a matching, unexpired, unused code as used in a
	// single conditional write and returns it. ErrNotFound when nothing matched.
	ConsumeAuthCode(ctx context.Context, params ConsumeCodeParams) (*AuthCode, error)
	// ReleaseAuthCode makes a consumed code redeemable again. It is called
	// when no tokens could be issued for the code. ErrNotFound when the code
	// is unknown or not consumed.
	ReleaseAuthCode(ctx context.Context, codeHash string) error
	DeleteExpiredAuthCodes(ctx context.Context, before time.Time) (int64, error)
}

// TokenRepository persists access and refresh tokens and the global epoch.
type TokenRepository interface {
	StoreTokens(ctx context.Context, tokens ...*Token) error
	GetToken(ctx context.Context, tokenHash string) (*Token, error)
	// RotateRefreshToken revokes the old refresh token and inserts the
	// successor pair atomically. ErrNotFound when the old token is not redeemable.
	RotateRefreshToken(ctx context.Context, params RotateParams) error
	// RevokeToken is idempotent and never reports an unknown token.
	RevokeToken(ctx context.Context, tokenHash string, at time.Time) error
	RevokeClientTokens(ctx context.Context, clientID string, at time.Time) (int64, error)
	CurrentEpoch(ctx context.Context) (int64, error)
	BumpEpoch(ctx context.Context) (int64, error)
	DeleteExpiredTokens(ctx context.Context, before time.Time) (int64, error)
}

// TwoFactorRepository persists TOTP enrollment and lockout state.
type TwoFactorRepository interface {
	GetTwoFactor(ctx context.Context, userID string) (*TwoFactorSettings, error)
	// SaveSetup upserts a pending (disabled) configuration. ErrConflict when 2FA is enabled.
	SaveSetup(ctx context.Context, settings *TwoFactorSettings) error
	// EnableTwoFactor flips enabled=true only if still disabled with the given secret.
	EnableTwoFactor(ctx context.Context, userID, secret string, at time.Time) error
	// RecordFailure atomically increments the failure counter and applies the lockout policy.
	RecordFailure(ctx context.Context, userID string, at time.Time, policy FailurePolicy) (*TwoFactorSettings, error)
	RecordSuccess(ctx context.Context, userID string, at time.Time) error
	// ConsumeBackupCode removes the code hash atomically and returns the remaining count.
	ConsumeBackupCode(ctx context.Context, userID, codeHash string, at time.Time) (int, error)
	ReplaceBackupCodes(ctx context.Context, userID string, codeHashes []string, at time.Time) error
	DeleteTwoFactor(ctx context.Context, userID string) error
}

// RoleRepository persists role assignments and normalized role permissions.
type RoleRepository interface {
	// UpsertAssignment returns ErrSingletonRoleTaken when assignment.Singleton
	// is set and another user of the same client holds the role.
	UpsertAssignment(ctx context.Context, assignment *AppRoleAssignment) error
	GetAssignment(ctx context.Context, userID, clientID string) (*AppRoleAssignment, error)
	ListAssignments(ctx context.Context, clientID string) ([]*AppRoleAssignment, error)
	DeleteAssignment(ctx context.Context, userID, clientID string) error
	GrantPermission(ctx context.Context, roleID, permissionID string) error
	RevokePermission(ctx context.Context, roleID, permissionID string) error
	ListRolePermissions(ctx context.Context, roleID string) ([]string, error)
}

// Repositories bundles one storage backend.
type Repositories struct {
	Clients   ClientRepository
	AuthCodes AuthCodeRepository
	Tokens    TokenRepository
	TwoFactor TwoFactorRepository
	Roles     RoleRepository
	Users     UserStore
	Ping      func(ctx context.Context) error
	Close     func(ctx context.Context) error
}
