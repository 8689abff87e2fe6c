package domain

import "time"

// TokenKind distinguishes access tokens from refresh tokens.
type TokenKind string

const (
	TokenKindAccess  TokenKind = "access"
	TokenKindRefresh TokenKind = "refresh"
)

// Token is the stored record of an access or refresh token.
// TokenHash is the SHA-256 hex of the bearer value; the value itself is never stored.
type Token struct {
	ID        string     `bson:"_id"        json:"id"`
	Kind      TokenKind  `bson:"kind"       json:"kind"`
	TokenHash string     `bson:"token_hash" json:"-"`
	ClientID  string     `bson:"client_id"  json:"client_id"`
	UserID    string     `bson:"user_id"    json:"user_id"`
	Scope     string     `bson:"scope"      json:"scope"`
	Epoch     int64      `bson:"epoch"      json:"epoch"`
	ParentID  string     `bson:"parent_id,omitempty" json:"parent_id,omitempty"`
	IssuedAt  time.Time  `bson:"issued_at"  json:"issued_at"`
	ExpiresAt time.Time  `bson:"expires_at" json:"expires_at"`
	Revoked   bool       `bson:"revoked"    json:"revoked"`
	RevokedAt *time.Time `bson:"revoked_at,omitempty" json:"revoked_at,omitempty"`
}

// ActiveAt reports whether the token is unrevoked, unexpired and not older than epoch.
func (t *Token) ActiveAt(now time.Time, epoch int64) bool {
	return !t.Revoked && now.Before(t.ExpiresAt) && t.Epoch >= epoch
}

// RotateParams describes an atomic refresh-token rotation: the old refresh
// token is revoked only if it is still redeemable, and the successor pair is
// inserted in the same unit of work.
type RotateParams struct {
	OldHash  string
	ClientID string
	Now      time.Time
	MinEpoch int64
	Access   *Token
	Refresh  *Token
}
