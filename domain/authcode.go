package domain

import "time"

// AuthCode represents an OAuth 2.0 authorization code.
// Only the SHA-256 hash of the code value is persisted.
type AuthCode struct {
	CodeHash    string     `bson:"_id"          json:"-"`
	ClientID    string     `bson:"client_id"    json:"client_id"`
	UserID      string     `bson:"user_id"      json:"user_id"`
	RedirectURI string     `bson:"redirect_uri" json:"redirect_uri"`
	Scope       string     `bson:"scope"        json:"scope"`
	ExpiresAt   time.Time  `bson:"expires_at"   json:"expires_at"`
	Used        bool       `bson:"used"         json:"used"`
	UsedAt      *time.Time `bson:"used_at"      json:"used_at,omitempty"`
	CreatedAt   time.Time  `bson:"created_at"   json:"created_at"`
}

// ConsumeCodeParams is the predicate for redeeming an authorization code.
// RedirectURI is only matched when non-empty.
type ConsumeCodeParams struct {
	CodeHash    string
	ClientID    string
	RedirectURI string
	Now         time.Time
}
