package domain

import "time"

// UserStatus defines the possible statuses of a user account.
type UserStatus string

const (
	UserStatusActive UserStatus = "ACTIVE"
	UserStatusLocked UserStatus = "LOCKED"
)

// User is the record returned by the external user directory.
type User struct {
	ID           string     `bson:"_id"`
	Email        string     `bson:"email"`
	PasswordHash string     `bson:"password_hash"`
	Status       UserStatus `bson:"status"`
	FirstName    string     `bson:"first_name,omitempty"`
	LastName     string     `bson:"last_name,omitempty"`
	CreatedAt    time.Time  `bson:"created_at"`
	UpdatedAt    time.Time  `bson:"updated_at"`
	LastLoginAt  *time.Time `bson:"last_login_at,omitempty"`
}

// UserProfile holds the public fields exposed through userinfo.
type UserProfile struct {
	Subject    string `json:"sub"`
	Email      string `json:"email"`
	Name       string `json:"name,omitempty"`
	GivenName  string `json:"given_name,omitempty"`
	FamilyName string `json:"family_name,omitempty"`
}

// Profile returns the user's public profile.
func (u *User) Profile() *UserProfile {
	name := u.FirstName
	if u.LastName != "" {
		if name != "" {
			name += " "
		}
		name += u.LastName
	}

	return &UserProfile{
		Subject:    u.ID,
		Email:      u.Email,
		Name:       name,
		GivenName:  u.FirstName,
		FamilyName: u.LastName,
	}
}
