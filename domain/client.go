package domain

import "time"

// ClientStatus is the lifecycle state of a registered application.
type ClientStatus string

const (
	ClientStatusActive   ClientStatus = "active"
	ClientStatusDisabled ClientStatus = "disabled"
)

// Client represents a registered OAuth application.
type Client struct {
	ID           string       `bson:"_id"           json:"client_id"`
	SecretHash   string       `bson:"secret_hash"   json:"-"`
	Name         string       `bson:"name"          json:"client_name"`
	HomepageURL  string       `bson:"homepage_url"  json:"homepage_url,omitempty"`
	RedirectURIs []string     `bson:"redirect_uris" json:"redirect_uris"`
	Scopes       []string     `bson:"scopes"        json:"scopes"`
	Status       ClientStatus `bson:"status"        json:"status"`
	CreatedAt    time.Time    `bson:"created_at"    json:"created_at"`
	UpdatedAt    time.Time    `bson:"updated_at"    json:"updated_at"`
}

// IsActive reports whether the client may participate in authorization flows.
func (c *Client) IsActive() bool {
	return c.Status == ClientStatusActive
}
