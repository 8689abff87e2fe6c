package services

import (
	"context"
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/pilab-dev/shadow-authz/api"
	"github.com/pilab-dev/shadow-authz/client"
	"github.com/pilab-dev/shadow-authz/domain"
	"github.com/pilab-dev/shadow-authz/domain/mocks"
	serrors "github.com/pilab-dev/shadow-authz/errors"
	"github.com/pilab-dev/shadow-authz/internal/auth"
	"github.com/pilab-dev/shadow-authz/internal/ratelimit"
	"github.com/pilab-dev/shadow-authz/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"golang.org/x/crypto/bcrypt"
)

const testRedirect = "https://app.example/cb"

func authorizeReq(clientID string) AuthorizeRequest {
	return AuthorizeRequest{
		ResponseType: "code",
		ClientID:     clientID,
		RedirectURI:  testRedirect,
		State:        "xyz",
	}
}

// codeFrom extracts the code from a redirect and checks the state round trip.
func codeFrom(t *testing.T, redirect string) string {
	t.Helper()
	u, err := url.Parse(redirect)
	require.NoError(t, err)
	assert.Equal(t, "app.example", u.Host)
	assert.Equal(t, "xyz", u.Query().Get("state"))
	code := u.Query().Get("code")
	require.NotEmpty(t, code)
	return code
}

func TestOAuthService_EndToEnd(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	c, secret := env.registerClient(t, "openid", "profile")
	user := env.addUser(t, "ada@example.com")

	info, err := env.oauth.Authorize(ctx, authorizeReq(c.ID))
	require.NoError(t, err)
	assert.Equal(t, "Test App", info.Client.Name)
	assert.Equal(t, "openid profile", info.Scope)

	redirect, err := env.oauth.CompleteLogin(ctx, LoginRequest{
		AuthorizeRequest: authorizeReq(c.ID),
		Email:            "Ada@Example.com",
		Password:         "correct horse",
	})
	require.NoError(t, err)
	code := codeFrom(t, redirect)

	first, err := env.oauth.Exchange(ctx, TokenRequest{
		GrantType:    api.GrantTypeAuthorizationCode,
		Code:         code,
		RedirectURI:  testRedirect,
		ClientID:     c.ID,
		ClientSecret: secret,
	})
	require.NoError(t, err)
	assert.Equal(t, "Bearer", first.TokenType)
	assert.Equal(t, int64(3600), first.ExpiresIn)
	assert.Equal(t, "openid profile", first.Scope)

	stored, err := env.users.GetUser(ctx, user.ID)
	require.NoError(t, err)
	assert.NotNil(t, stored.LastLoginAt)

	profile, err := env.oauth.UserInfo(ctx, first.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, user.ID, profile.Subject)
	assert.Equal(t, "ada@example.com", profile.Email)
	assert.Equal(t, "Ada Lovelace", profile.Name)

	second, err := env.oauth.Exchange(ctx, TokenRequest{
		GrantType:    api.GrantTypeRefreshToken,
		RefreshToken: first.RefreshToken,
		ClientID:     c.ID,
	})
	require.NoError(t, err)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)

	_, err = env.oauth.Exchange(ctx, TokenRequest{GrantType: api.GrantTypeRefreshToken, RefreshToken: first.RefreshToken})
	assert.True(t, serrors.HasCode(err, serrors.InvalidGrant))

	ok, err := env.tokens.IsValid(ctx, first.AccessToken)
	require.NoError(t, err)
	assert.True(t, ok, "A1 survives refresh rotation")

	env.clock.Advance(time.Hour)
	ok, err = env.tokens.IsValid(ctx, first.AccessToken)
	require.NoError(t, err)
	assert.False(t, ok, "A1 expires with its TTL")

	_, err = env.oauth.UserInfo(ctx, first.AccessToken)
	assert.True(t, serrors.HasCode(err, serrors.InvalidToken))

	// The code was spent by the first exchange.
	_, err = env.oauth.Exchange(ctx, TokenRequest{GrantType: api.GrantTypeAuthorizationCode, Code: code, ClientID: c.ID})
	assert.True(t, serrors.HasCode(err, serrors.InvalidGrant))
}

func TestOAuthService_Authorize(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c, _ := env.registerClient(t, "openid")

	disabled, _ := env.registerClient(t)
	require.NoError(t, env.clients.Disable(ctx, disabled.ID, false))

	tests := []struct {
		name   string
		mutate func(*AuthorizeRequest)
		code   string
	}{
		{"token response type", func(r *AuthorizeRequest) { r.ResponseType = "token" }, serrors.UnsupportedResponseType},
		{"missing client", func(r *AuthorizeRequest) { r.ClientID = "" }, serrors.InvalidRequest},
		{"missing redirect", func(r *AuthorizeRequest) { r.RedirectURI = "" }, serrors.InvalidRequest},
		{"unknown client", func(r *AuthorizeRequest) { r.ClientID = "nope" }, serrors.InvalidClient},
		{"disabled client", func(r *AuthorizeRequest) { r.ClientID = disabled.ID }, serrors.InvalidClient},
		{"unregistered redirect", func(r *AuthorizeRequest) { r.RedirectURI = "https://evil.example/cb" }, serrors.InvalidRedirectURI},
		{"scope out of range", func(r *AuthorizeRequest) { r.Scope = "openid admin" }, serrors.InvalidScope},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := authorizeReq(c.ID)
			tt.mutate(&req)
			_, err := env.oauth.Authorize(ctx, req)
			assert.True(t, serrors.HasCode(err, tt.code), "got %v", err)
		})
	}
}

func TestOAuthService_CompleteLogin(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c, _ := env.registerClient(t)
	env.addUser(t, "ada@example.com")

	t.Run("bad credentials share one error", func(t *testing.T) {
		for _, email := range []string{"ada@example.com", "ghost@example.com"} {
			_, err := env.oauth.CompleteLogin(ctx, LoginRequest{AuthorizeRequest: authorizeReq(c.ID), Email: email, Password: "wrong"})
			assert.True(t, serrors.HasCode(err, serrors.InvalidCredentials))
		}
	})

	t.Run("existing redirect query is kept", func(t *testing.T) {
		c2, _, err := env.clients.Register(ctx, client.RegisterRequest{Name: "q", RedirectURIs: []string{"https://app.example/cb?tenant=7"}})
		require.NoError(t, err)
		req := authorizeReq(c2.ID)
		req.RedirectURI = "https://app.example/cb?tenant=7"

		redirect, err := env.oauth.CompleteLogin(ctx, LoginRequest{AuthorizeRequest: req, Email: "ada@example.com", Password: "correct horse"})
		require.NoError(t, err)
		u, err := url.Parse(redirect)
		require.NoError(t, err)
		assert.Equal(t, "7", u.Query().Get("tenant"))
		assert.NotEmpty(t, u.Query().Get("code"))
	})

	t.Run("rate limited", func(t *testing.T) {
		limiter := ratelimit.NewMemoryLimiter(ratelimit.Policy{Limit: 1, Window: time.Minute})
		t.Cleanup(limiter.Stop)
		env.oauth.loginLimiter = limiter
		t.Cleanup(func() { env.oauth.loginLimiter = ratelimit.Unlimited{} })

		_, err := env.oauth.CompleteLogin(ctx, LoginRequest{AuthorizeRequest: authorizeReq(c.ID), Email: "ada@example.com", Password: "wrong"})
		assert.True(t, serrors.HasCode(err, serrors.InvalidCredentials))
		_, err = env.oauth.CompleteLogin(ctx, LoginRequest{AuthorizeRequest: authorizeReq(c.ID), Email: "ADA@example.com", Password: "correct horse"})
		assert.True(t, serrors.HasCode(err, serrors.LockedOut))
	})
}

func TestOAuthService_LoginWithTwoFactor(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c, _ := env.registerClient(t)
	user := env.addUser(t, "ada@example.com")
	secret, _ := env.enableTwoFactor(t, user.ID)

	login := LoginRequest{AuthorizeRequest: authorizeReq(c.ID), Email: "ada@example.com", Password: "correct horse"}

	_, err := env.oauth.CompleteLogin(ctx, login)
	assert.True(t, serrors.HasCode(err, serrors.TwoFactorRequired))

	login.TwoFactorCode = env.wrongCode(t, secret)
	_, err = env.oauth.CompleteLogin(ctx, login)
	assert.True(t, serrors.HasCode(err, serrors.InvalidCode))

	login.TwoFactorCode = env.code(t, secret)
	redirect, err := env.oauth.CompleteLogin(ctx, login)
	require.NoError(t, err)
	codeFrom(t, redirect)
}

func TestOAuthService_CompleteConsent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c, _ := env.registerClient(t)
	user := env.addUser(t, "ada@example.com")

	session, err := env.issuer.IssueSession(user.ID, time.Hour)
	require.NoError(t, err)

	redirect, err := env.oauth.CompleteConsent(ctx, session, authorizeReq(c.ID))
	require.NoError(t, err)
	code := codeFrom(t, redirect)

	rec, err := env.codes.Consume(ctx, code, c.ID, testRedirect)
	require.NoError(t, err)
	assert.Equal(t, user.ID, rec.UserID)

	_, err = env.oauth.CompleteConsent(ctx, "not-a-session", authorizeReq(c.ID))
	assert.True(t, serrors.HasCode(err, serrors.InvalidCredentials))
}

func TestOAuthService_ExchangeErrors(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c, secret := env.registerClient(t)
	user := env.addUser(t, "ada@example.com")

	issueCode := func() string {
		code, err := env.codes.Issue(ctx, c.ID, user.ID, testRedirect, "")
		require.NoError(t, err)
		return code
	}

	tests := []struct {
		name string
		req  TokenRequest
		code string
	}{
		{"missing grant type", TokenRequest{}, serrors.InvalidRequest},
		{"password grant", TokenRequest{GrantType: "password"}, serrors.UnsupportedGrantType},
		{"missing code", TokenRequest{GrantType: api.GrantTypeAuthorizationCode, ClientID: c.ID}, serrors.InvalidRequest},
		{"missing client", TokenRequest{GrantType: api.GrantTypeAuthorizationCode, Code: "x"}, serrors.InvalidRequest},
		{"unknown client", TokenRequest{GrantType: api.GrantTypeAuthorizationCode, Code: "x", ClientID: "nope"}, serrors.InvalidClient},
		{"wrong secret", TokenRequest{GrantType: api.GrantTypeAuthorizationCode, Code: issueCode(), ClientID: c.ID, ClientSecret: secret + "x"}, serrors.InvalidClient},
		{"unknown code", TokenRequest{GrantType: api.GrantTypeAuthorizationCode, Code: "x", ClientID: c.ID}, serrors.InvalidGrant},
		{"redirect mismatch", TokenRequest{GrantType: api.GrantTypeAuthorizationCode, Code: issueCode(), ClientID: c.ID, RedirectURI: "https://app.example/other"}, serrors.InvalidGrant},
		{"missing refresh", TokenRequest{GrantType: api.GrantTypeRefreshToken}, serrors.InvalidRequest},
		{"unknown refresh", TokenRequest{GrantType: api.GrantTypeRefreshToken, RefreshToken: "x"}, serrors.InvalidGrant},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.oauth.Exchange(ctx, tt.req)
			assert.True(t, serrors.HasCode(err, tt.code), "got %v", err)
		})
	}
}

func TestOAuthService_MarkLastLoginFailureIsLogged(t *testing.T) {
	ctrl := gomock.NewController(t)
	users := mocks.NewMockUserStore(ctrl)
	env := newTestEnv(t)
	ctx := context.Background()

	oauth := NewOAuthService(env.clients, env.codes, env.tokens, users, env.issuer, nil, nil)
	c, _ := env.registerClient(t)

	users.EXPECT().Authenticate(gomock.Any(), "ada@example.com", "pw").Return(&domain.User{ID: "u1"}, nil)
	users.EXPECT().MarkLastLogin(gomock.Any(), "u1", gomock.Any()).Return(errors.New("directory read-only"))

	redirect, err := oauth.CompleteLogin(ctx, LoginRequest{AuthorizeRequest: authorizeReq(c.ID), Email: "ada@example.com", Password: "pw"})
	require.NoError(t, err)

	resp, err := oauth.Exchange(ctx, TokenRequest{GrantType: api.GrantTypeAuthorizationCode, Code: codeFrom(t, redirect), ClientID: c.ID})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.AccessToken)
}

func TestOAuthService_UserStoreOutageIsInfrastructureError(t *testing.T) {
	ctrl := gomock.NewController(t)
	users := mocks.NewMockUserStore(ctrl)
	hasher := auth.NewBcryptPasswordHasher(bcrypt.MinCost)
	repos, _ := memory.New(hasher)

	clients := client.NewClientService(repos.Clients, hasher, nil)
	c, _, err := clients.Register(context.Background(), client.RegisterRequest{Name: "x", RedirectURIs: []string{testRedirect}})
	require.NoError(t, err)

	oauth := NewOAuthService(clients, NewAuthCodeService(repos.AuthCodes, 0), NewTokenService(repos.Tokens, nil, 0, 0), users, nil, nil, nil)
	login := LoginRequest{AuthorizeRequest: authorizeReq(c.ID), Email: "ada@example.com", Password: "pw"}

	outage := errors.New("directory unreachable")
	users.EXPECT().Authenticate(gomock.Any(), "ada@example.com", "pw").Return(nil, outage)
	_, err = oauth.CompleteLogin(context.Background(), login)
	assert.ErrorIs(t, err, outage)
	_, isOAuth := serrors.AsOAuth2Error(err)
	assert.False(t, isOAuth, "store failures carry no taxonomy code")

	users.EXPECT().Authenticate(gomock.Any(), "ada@example.com", "pw").Return(nil, domain.ErrNotFound)
	_, err = oauth.CompleteLogin(context.Background(), login)
	assert.True(t, serrors.HasCode(err, serrors.InvalidCredentials))
}

func TestOAuthService_RefreshAfterClientDisable(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c, _ := env.registerClient(t)
	user := env.addUser(t, "ada@example.com")

	pair, err := env.tokens.IssuePair(ctx, c.ID, user.ID, "")
	require.NoError(t, err)
	require.NoError(t, env.clients.Disable(ctx, c.ID, false))

	_, err = env.oauth.Exchange(ctx, TokenRequest{GrantType: api.GrantTypeRefreshToken, RefreshToken: pair.RefreshToken})
	assert.True(t, serrors.HasCode(err, serrors.InvalidGrant), "got %v", err)

	_, err = env.oauth.Exchange(ctx, TokenRequest{GrantType: api.GrantTypeRefreshToken, RefreshToken: pair.RefreshToken, ClientID: c.ID})
	assert.True(t, serrors.HasCode(err, serrors.InvalidClient), "got %v", err)

	owner, err := env.tokens.RefreshClientID(ctx, pair.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, c.ID, owner, "rejected refreshes are not rotated")
}

func TestOAuthService_CodeSurvivesFailedIssuance(t *testing.T) {
	ctrl := gomock.NewController(t)
	issuer := mocks.NewMockPrimaryTokenIssuer(ctrl)
	env := newTestEnv(t)
	ctx := context.Background()
	c, _ := env.registerClient(t)
	user := env.addUser(t, "ada@example.com")

	env.tokens.issuer = issuer
	code, err := env.codes.Issue(ctx, c.ID, user.ID, testRedirect, "")
	require.NoError(t, err)
	req := TokenRequest{GrantType: api.GrantTypeAuthorizationCode, Code: code, ClientID: c.ID, RedirectURI: testRedirect}

	gomock.InOrder(
		issuer.EXPECT().IssueAccessToken(gomock.Any(), gomock.Any()).Return("", errors.New("signer unavailable")),
		issuer.EXPECT().IssueAccessToken(gomock.Any(), gomock.Any()).Return("access-after-retry", nil),
	)

	_, err = env.oauth.Exchange(ctx, req)
	require.Error(t, err)
	_, isOAuth := serrors.AsOAuth2Error(err)
	assert.False(t, isOAuth)

	resp, err := env.oauth.Exchange(ctx, req)
	require.NoError(t, err, "the retry redeems the same code")
	assert.Equal(t, "access-after-retry", resp.AccessToken)

	_, err = env.oauth.Exchange(ctx, req)
	assert.True(t, serrors.HasCode(err, serrors.InvalidGrant), "a successful exchange spends the code")
}

func TestOAuthService_Revoke(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	assert.True(t, serrors.HasCode(env.oauth.Revoke(ctx, ""), serrors.InvalidRequest))
	assert.NoError(t, env.oauth.Revoke(ctx, "unknown"))

	pair, err := env.tokens.IssuePair(ctx, "client-1", "user-1", "")
	require.NoError(t, err)
	require.NoError(t, env.oauth.Revoke(ctx, pair.AccessToken))

	_, err = env.oauth.UserInfo(ctx, pair.AccessToken)
	assert.True(t, serrors.HasCode(err, serrors.InvalidToken))
}
