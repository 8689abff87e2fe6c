package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/pilab-dev/shadow-authz/api"
	"github.com/pilab-dev/shadow-authz/client"
	"github.com/pilab-dev/shadow-authz/domain"
	serrors "github.com/pilab-dev/shadow-authz/errors"
	"github.com/pilab-dev/shadow-authz/internal/ratelimit"
	"github.com/pilab-dev/shadow-authz/tracing"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TwoFactorChecker is the part of TwoFactorService used during login.
type TwoFactorChecker interface {
	IsEnabled(ctx context.Context, userID string) (bool, error)
	Verify(ctx context.Context, userID, code string) error
}

// AuthorizeRequest holds the query parameters of an authorization request.
type AuthorizeRequest struct {
	ResponseType string
	ClientID     string
	RedirectURI  string
	Scope        string
	State        string
}

// ConsentInfo is what the login/consent page shows for a validated request.
type ConsentInfo struct {
	Client      *domain.Client
	RedirectURI string
	Scope       string
	State       string
}

// LoginRequest is an authorization request completed with user credentials.
type LoginRequest struct {
	AuthorizeRequest
	Email         string
	Password      string
	TwoFactorCode string
}

// TokenRequest holds the token endpoint parameters.
type TokenRequest struct {
	GrantType    string
	Code         string
	RedirectURI  string
	ClientID     string
	ClientSecret string
	RefreshToken string
}

// OAuthService drives the authorization code flow.
type OAuthService struct {
	clients      *client.ClientService
	codes        *AuthCodeService
	tokens       *TokenService
	users        domain.UserStore
	sessions     domain.SessionVerifier
	twoFactor    TwoFactorChecker
	loginLimiter ratelimit.Limiter
	now          func() time.Time
}

// NewOAuthService wires the authorization flow. twoFactor and loginLimiter may be nil.
func NewOAuthService(
	clients *client.ClientService,
	codes *AuthCodeService,
	tokens *TokenService,
	users domain.UserStore,
	sessions domain.SessionVerifier,
	twoFactor TwoFactorChecker,
	loginLimiter ratelimit.Limiter,
) *OAuthService {
	if loginLimiter == nil {
		loginLimiter = ratelimit.Unlimited{}
	}
	return &OAuthService{
		clients:      clients,
		codes:        codes,
		tokens:       tokens,
		users:        users,
		sessions:     sessions,
		twoFactor:    twoFactor,
		loginLimiter: loginLimiter,
		now:          time.Now,
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// Authorize validates an authorization request without creating anything.
func (s *OAuthService) Authorize(ctx context.Context, req AuthorizeRequest) (info *ConsentInfo, err error) {
	ctx, span := tracing.Tracer.Start(ctx, "OAuthService.Authorize",
		trace.WithAttributes(attribute.String("client_id", req.ClientID)))
	defer func() { endSpan(span, err) }()

	if req.ResponseType != "code" {
		return nil, serrors.NewUnsupportedResponseType()
	}
	return s.validateRequest(ctx, req)
}

func (s *OAuthService) validateRequest(ctx context.Context, req AuthorizeRequest) (*ConsentInfo, error) {
	if req.ClientID == "" {
		return nil, serrors.NewInvalidRequest("client_id is required")
	}
	if req.RedirectURI == "" {
		return nil, serrors.NewInvalidRequest("redirect_uri is required")
	}

	c, err := s.clients.LookupActive(ctx, req.ClientID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, serrors.NewInvalidClient("Unknown or disabled client")
	}
	if err != nil {
		return nil, fmt.Errorf("lookup client: %w", err)
	}

	if !s.clients.ValidateRedirectURI(c, req.RedirectURI) {
		return nil, serrors.NewInvalidRedirectURI()
	}
	scope, ok := s.clients.ValidateScope(c, req.Scope)
	if !ok {
		return nil, serrors.NewInvalidScope("Requested scope exceeds the client's registered scope")
	}

	return &ConsentInfo{Client: c, RedirectURI: req.RedirectURI, Scope: scope, State: req.State}, nil
}

// CompleteLogin authenticates the user and returns the redirect carrying a fresh code.
func (s *OAuthService) CompleteLogin(ctx context.Context, req LoginRequest) (redirect string, err error) {
	ctx, span := tracing.Tracer.Start(ctx, "OAuthService.CompleteLogin",
		trace.WithAttributes(attribute.String("client_id", req.ClientID)))
	defer func() { endSpan(span, err) }()

	info, err := s.validateRequest(ctx, req.AuthorizeRequest)
	if err != nil {
		return "", err
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	allowed, err := s.loginLimiter.Allow(ctx, "login:"+email)
	if err != nil {
		return "", err
	}
	if !allowed {
		return "", serrors.NewLockedOut("Too many login attempts, try again later")
	}

	user, err := s.users.Authenticate(ctx, email, req.Password)
	if errors.Is(err, domain.ErrInvalidCredentials) || errors.Is(err, domain.ErrNotFound) {
		return "", serrors.NewInvalidCredentials()
	}
	if err != nil {
		return "", fmt.Errorf("authenticate user: %w", err)
	}

	if err := s.checkSecondFactor(ctx, user.ID, req.TwoFactorCode); err != nil {
		return "", err
	}

	return s.issueRedirect(ctx, info, user.ID)
}

func (s *OAuthService) checkSecondFactor(ctx context.Context, userID, code string) error {
	if s.twoFactor == nil {
		return nil
	}
	enabled, err := s.twoFactor.IsEnabled(ctx, userID)
	if err != nil {
		return err
	}
	if !enabled {
		return nil
	}
	if code == "" {
		return serrors.NewTwoFactorRequired()
	}
	return s.twoFactor.Verify(ctx, userID, code)
}

// CompleteConsent issues a code for a user already holding a primary session.
func (s *OAuthService) CompleteConsent(ctx context.Context, bearer string, req AuthorizeRequest) (redirect string, err error) {
	ctx, span := tracing.Tracer.Start(ctx, "OAuthService.CompleteConsent",
		trace.WithAttributes(attribute.String("client_id", req.ClientID)))
	defer func() { endSpan(span, err) }()

	userID, err := s.sessions.VerifySession(ctx, bearer)
	if err != nil {
		return "", serrors.NewInvalidCredentials()
	}

	info, err := s.validateRequest(ctx, req)
	if err != nil {
		return "", err
	}
	return s.issueRedirect(ctx, info, userID)
}

func (s *OAuthService) issueRedirect(ctx context.Context, info *ConsentInfo, userID string) (string, error) {
	code, err := s.codes.Issue(ctx, info.Client.ID, userID, info.RedirectURI, info.Scope)
	if err != nil {
		return "", err
	}
	return buildRedirect(info.RedirectURI, code, info.State)
}

// buildRedirect appends code and state to the registered redirect, keeping its query.
func buildRedirect(redirectURI, code, state string) (string, error) {
	u, err := url.Parse(redirectURI)
	if err != nil {
		return "", fmt.Errorf("parse redirect uri: %w", err)
	}
	q := u.Query()
	q.Set("code", code)
	if state != "" {
		q.Set("state", state)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Exchange implements the token endpoint.
func (s *OAuthService) Exchange(ctx context.Context, req TokenRequest) (resp *api.TokenResponse, err error) {
	ctx, span := tracing.Tracer.Start(ctx, "OAuthService.Exchange",
		trace.WithAttributes(
			attribute.String("grant_type", req.GrantType),
			attribute.String("client_id", req.ClientID),
		))
	defer func() { endSpan(span, err) }()

	switch req.GrantType {
	case "":
		return nil, serrors.NewInvalidRequest("grant_type is required")
	case api.GrantTypeAuthorizationCode:
		return s.exchangeCode(ctx, req)
	case api.GrantTypeRefreshToken:
		return s.exchangeRefresh(ctx, req)
	default:
		return nil, serrors.NewUnsupportedGrantType()
	}
}

// authenticateClient requires an active client and checks the secret when presented.
func (s *OAuthService) authenticateClient(ctx context.Context, clientID, secret string) error {
	c, err := s.clients.LookupActive(ctx, clientID)
	if errors.Is(err, domain.ErrNotFound) {
		return serrors.NewInvalidClient("Client authentication failed")
	}
	if err != nil {
		return fmt.Errorf("lookup client: %w", err)
	}
	if secret == "" {
		return nil
	}
	ok, err := s.clients.VerifySecret(ctx, c.ID, secret)
	if err != nil {
		return err
	}
	if !ok {
		return serrors.NewInvalidClient("Client authentication failed")
	}
	return nil
}

func (s *OAuthService) exchangeCode(ctx context.Context, req TokenRequest) (*api.TokenResponse, error) {
	if req.Code == "" || req.ClientID == "" {
		return nil, serrors.NewInvalidRequest("code and client_id are required")
	}
	if err := s.authenticateClient(ctx, req.ClientID, req.ClientSecret); err != nil {
		return nil, err
	}

	record, err := s.codes.Consume(ctx, req.Code, req.ClientID, req.RedirectURI)
	if err != nil {
		return nil, err
	}

	pair, err := s.tokens.IssuePair(ctx, record.ClientID, record.UserID, record.Scope)
	if err != nil {
		if relErr := s.codes.Release(ctx, req.Code); relErr != nil {
			log.Error().Err(relErr).Str("client_id", record.ClientID).Msg("failed to release authorization code")
		}
		return nil, err
	}

	if err := s.users.MarkLastLogin(ctx, record.UserID, s.now().UTC()); err != nil {
		log.Warn().Err(err).Str("userID", record.UserID).Msg("failed to record last login")
	}

	return toTokenResponse(pair), nil
}

func (s *OAuthService) exchangeRefresh(ctx context.Context, req TokenRequest) (*api.TokenResponse, error) {
	if req.RefreshToken == "" {
		return nil, serrors.NewInvalidRequest("refresh_token is required")
	}
	if req.ClientID != "" {
		if err := s.authenticateClient(ctx, req.ClientID, req.ClientSecret); err != nil {
			return nil, err
		}
	}

	// The token's own client must still be active, whether or not the
	// request names it.
	owner, err := s.tokens.RefreshClientID(ctx, req.RefreshToken)
	if err != nil {
		return nil, err
	}
	if _, err := s.clients.LookupActive(ctx, owner); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, serrors.NewInvalidGrant()
		}
		return nil, fmt.Errorf("lookup client: %w", err)
	}

	pair, err := s.tokens.RedeemRefresh(ctx, req.RefreshToken, req.ClientID)
	if err != nil {
		return nil, err
	}
	return toTokenResponse(pair), nil
}

func toTokenResponse(p *TokenPair) *api.TokenResponse {
	return &api.TokenResponse{
		AccessToken:  p.AccessToken,
		TokenType:    api.TokenTypeBearer,
		ExpiresIn:    p.ExpiresIn,
		RefreshToken: p.RefreshToken,
		Scope:        p.Scope,
	}
}

// UserInfo returns the public profile of the user an access token was issued to.
func (s *OAuthService) UserInfo(ctx context.Context, accessToken string) (profile *domain.UserProfile, err error) {
	ctx, span := tracing.Tracer.Start(ctx, "OAuthService.UserInfo")
	defer func() { endSpan(span, err) }()

	t, err := s.tokens.Lookup(ctx, accessToken)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, serrors.NewInvalidToken()
	}
	if err != nil {
		return nil, err
	}

	user, err := s.users.GetUser(ctx, t.UserID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, serrors.NewInvalidToken()
	}
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	return user.Profile(), nil
}

// Revoke revokes an access or refresh token. Unknown tokens are accepted silently.
func (s *OAuthService) Revoke(ctx context.Context, token string) error {
	if token == "" {
		return serrors.NewInvalidRequest("token is required")
	}
	return s.tokens.Revoke(ctx, token)
}
