package errors

import (
	stderrors "errors"
	"fmt"
)

// OAuth2Error represents a protocol error returned to callers as a structured 4xx body.
type OAuth2Error struct {
	Code        string `json:"error"`
	Description string `json:"error_description,omitempty"`
	State       string `json:"state,omitempty"`
}

func (e *OAuth2Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// Is reports whether target carries the same error code.
func (e *OAuth2Error) Is(target error) bool {
	t, ok := target.(*OAuth2Error)
	if !ok {
		return false
	}

	return t.Code == e.Code
}

// Standard OAuth2 error codes
const (
	InvalidRequest          = "invalid_request"
	InvalidClient           = "invalid_client"
	InvalidGrant            = "invalid_grant"
	InvalidScope            = "invalid_scope"
	InvalidToken            = "invalid_token"
	UnsupportedGrantType    = "unsupported_grant_type"
	UnsupportedResponseType = "unsupported_response_type"
	ServerError             = "server_error"
)

// Extension codes for redirect binding, login and 2FA.
const (
	InvalidRedirectURI = "invalid_redirect_uri"
	InvalidCredentials = "invalid_credentials"
	InvalidPassword    = "invalid_password"
	InvalidCode        = "invalid_code"
	LockedOut          = "locked_out"
	NotEnabled         = "not_enabled"
	AlreadyEnabled     = "already_enabled"
	NotSetUp           = "not_set_up"
	TwoFactorRequired  = "two_factor_required"
	SingletonRoleTaken = "singleton_role_taken"
)

func newError(code, description string) *OAuth2Error {
	return &OAuth2Error{Code: code, Description: description}
}

func NewInvalidRequest(description string) *OAuth2Error {
	return newError(InvalidRequest, description)
}

func NewInvalidClient(description string) *OAuth2Error {
	return newError(InvalidClient, description)
}

// NewInvalidGrant is returned for every failed code or refresh-token
// redemption. Callers must not vary the description by failure cause.
func NewInvalidGrant() *OAuth2Error {
	return newError(InvalidGrant, "The provided authorization grant is invalid, expired, or revoked")
}

func NewInvalidScope(description string) *OAuth2Error {
	return newError(InvalidScope, description)
}

func NewInvalidToken() *OAuth2Error {
	return newError(InvalidToken, "The access token is invalid or expired")
}

func NewUnsupportedGrantType() *OAuth2Error {
	return newError(UnsupportedGrantType, "The authorization grant type is not supported")
}

func NewUnsupportedResponseType() *OAuth2Error {
	return newError(UnsupportedResponseType, "Only response_type=code is supported")
}

func NewInvalidRedirectURI() *OAuth2Error {
	return newError(InvalidRedirectURI, "The redirect URI is not registered for this client")
}

// NewInvalidCredentials is shared by unknown-email and wrong-password failures.
func NewInvalidCredentials() *OAuth2Error {
	return newError(InvalidCredentials, "Invalid email or password")
}

func NewInvalidPassword() *OAuth2Error {
	return newError(InvalidPassword, "The password is incorrect")
}

func NewInvalidCode() *OAuth2Error {
	return newError(InvalidCode, "The verification code is invalid")
}

func NewLockedOut(description string) *OAuth2Error {
	return newError(LockedOut, description)
}

func NewNotEnabled() *OAuth2Error {
	return newError(NotEnabled, "Two-factor authentication is not enabled")
}

func NewAlreadyEnabled() *OAuth2Error {
	return newError(AlreadyEnabled, "Two-factor authentication is already enabled")
}

func NewNotSetUp() *OAuth2Error {
	return newError(NotSetUp, "Two-factor authentication has not been set up")
}

func NewTwoFactorRequired() *OAuth2Error {
	return newError(TwoFactorRequired, "A two-factor verification code is required")
}

func NewSingletonRoleTaken(role string) *OAuth2Error {
	return newError(SingletonRoleTaken, fmt.Sprintf("role %q is already held by another user", role))
}

// AsOAuth2Error unwraps err into an *OAuth2Error if one is present in its chain.
func AsOAuth2Error(err error) (*OAuth2Error, bool) {
	var oe *OAuth2Error
	if stderrors.As(err, &oe) {
		return oe, true
	}

	return nil, false
}

// HasCode reports whether err is an OAuth2Error with the given code.
func HasCode(err error, code string) bool {
	oe, ok := AsOAuth2Error(err)

	return ok && oe.Code == code
}
