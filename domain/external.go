package domain

import (
	"context"
	"time"
)

//go:generate mockgen -source=external.go -destination=mocks/mock_external.go -package=mocks

// UserStore is the user directory the authorization server authenticates against.
type UserStore interface {
	// Authenticate returns ErrInvalidCredentials for unknown emails and wrong passwords alike.
	Authenticate(ctx context.Context, email, password string) (*User, error)
	GetUser(ctx context.Context, userID string) (*User, error)
	VerifyPassword(ctx context.Context, userID, password string) error
	MarkLastLogin(ctx context.Context, userID string, at time.Time) error
}

// AccessTokenRequest carries the claims for a newly minted access token.
type AccessTokenRequest struct {
	TokenID   string
	UserID    string
	ClientID  string
	Scope     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// PrimaryTokenIssuer mints the bearer string used as the access token value.
type PrimaryTokenIssuer interface {
	IssueAccessToken(ctx context.Context, req AccessTokenRequest) (string, error)
}

// SessionVerifier validates a primary session bearer and returns its user id.
type SessionVerifier interface {
	VerifySession(ctx context.Context, bearer string) (string, error)
}
