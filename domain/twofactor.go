package domain

import "time"

// TwoFactorSettings holds a user's TOTP enrollment and lockout state.
type TwoFactorSettings struct {
	UserID           string     `bson:"_id"                json:"user_id"`
	Secret           string     `bson:"secret"             json:"-"`
	Enabled          bool       `bson:"enabled"            json:"enabled"`
	BackupCodeHashes []string   `bson:"backup_code_hashes" json:"-"`
	FailedAttempts   int        `bson:"failed_attempts"    json:"failed_attempts"`
	LockoutUntil     *time.Time `bson:"lockout_until"      json:"lockout_until,omitempty"`
	EnabledAt        *time.Time `bson:"enabled_at"         json:"enabled_at,omitempty"`
	LastVerifiedAt   *time.Time `bson:"last_verified_at"   json:"last_verified_at,omitempty"`
	CreatedAt        time.Time  `bson:"created_at"         json:"created_at"`
	UpdatedAt        time.Time  `bson:"updated_at"         json:"updated_at"`
}

// LockedAt reports whether verification is locked out at the given instant.
func (s *TwoFactorSettings) LockedAt(now time.Time) bool {
	return s.LockoutUntil != nil && now.Before(*s.LockoutUntil)
}

// FailurePolicy controls how RecordFailure escalates into a lockout.
type FailurePolicy struct {
	MaxAttempts int
	Lockout     time.Duration
}
