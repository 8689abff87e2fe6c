package api

import "time"

// Grant types accepted by the token endpoint.
const (
	GrantTypeAuthorizationCode = "authorization_code"
	GrantTypeRefreshToken      = "refresh_token"
)

// TokenTypeBearer is the only token_type issued.
const TokenTypeBearer = "Bearer"

// TokenResponse represents an OAuth 2.0 token response
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// ConsentResponse describes a pending authorization request to the login/consent UI.
type ConsentResponse struct {
	ClientID    string   `json:"client_id"`
	ClientName  string   `json:"client_name"`
	HomepageURL string   `json:"homepage_url,omitempty"`
	RedirectURI string   `json:"redirect_uri"`
	Scope       string   `json:"scope"`
	Scopes      []string `json:"scopes"`
	State       string   `json:"state,omitempty"`
}

// ClientResponse is the public view of a registered application.
type ClientResponse struct {
	ClientID     string    `json:"client_id"`
	ClientSecret string    `json:"client_secret,omitempty"`
	Name         string    `json:"name"`
	HomepageURL  string    `json:"homepage_url,omitempty"`
	RedirectURIs []string  `json:"redirect_uris"`
	Scopes       []string  `json:"scopes"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
}

// TwoFactorSetupResponse is returned once by the setup endpoint.
type TwoFactorSetupResponse struct {
	Secret      string   `json:"secret"`
	URI         string   `json:"uri"`
	QRCodePNG   []byte   `json:"qr_code_png,omitempty"`
	BackupCodes []string `json:"backup_codes"`
}

// BackupCodesResponse carries a freshly generated backup code set.
type BackupCodesResponse struct {
	BackupCodes []string `json:"backup_codes"`
}

// BackupCodeResult reports how many backup codes remain after a redemption.
type BackupCodeResult struct {
	Remaining int `json:"remaining"`
}

// EpochResponse is returned by the session invalidation endpoint.
type EpochResponse struct {
	Epoch int64 `json:"epoch"`
}
