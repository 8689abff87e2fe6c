package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pilab-dev/shadow-authz/client"
	"github.com/pilab-dev/shadow-authz/domain"
	"github.com/pilab-dev/shadow-authz/internal/audit"
	"github.com/pilab-dev/shadow-authz/internal/auth"
	"github.com/pilab-dev/shadow-authz/internal/auth/jwtissuer"
	"github.com/pilab-dev/shadow-authz/internal/auth/totp"
	"github.com/pilab-dev/shadow-authz/memory"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const testSigningKey = "0123456789abcdef0123456789abcdef"

// fakeClock is a settable time source shared by every service under test.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// testEnv is a fully wired authorization server on the memory backend.
type testEnv struct {
	clock     *fakeClock
	repos     *domain.Repositories
	users     *memory.UserStore
	issuer    *jwtissuer.Issuer
	engine    *totp.Engine
	clients   *client.ClientService
	codes     *AuthCodeService
	tokens    *TokenService
	twoFactor *TwoFactorService
	roles     *RoleService
	oauth     *OAuthService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	log.Logger = zerolog.Nop()
	audit.SetSink(audit.NewZerologSink(zerolog.Nop()))

	hasher := auth.NewBcryptPasswordHasher(bcrypt.MinCost)
	repos, users := memory.New(hasher)

	issuer, err := jwtissuer.New("https://authz.test", []byte(testSigningKey))
	require.NoError(t, err)

	env := &testEnv{
		clock:  newFakeClock(),
		repos:  repos,
		users:  users,
		issuer: issuer,
		engine: totp.NewEngine("ShadowAuthz"),
	}

	env.codes = NewAuthCodeService(repos.AuthCodes, 0)
	env.codes.now = env.clock.Now
	env.tokens = NewTokenService(repos.Tokens, issuer, 0, 0)
	env.tokens.now = env.clock.Now
	env.clients = client.NewClientService(repos.Clients, hasher, env.tokens)
	env.twoFactor = NewTwoFactorService(repos.TwoFactor, users, env.engine, nil, DefaultTwoFactorConfig())
	env.twoFactor.now = env.clock.Now
	env.roles = NewRoleService(repos.Roles)
	env.roles.now = env.clock.Now
	env.oauth = NewOAuthService(env.clients, env.codes, env.tokens, users, issuer, env.twoFactor, nil)
	env.oauth.now = env.clock.Now

	return env
}

func (e *testEnv) registerClient(t *testing.T, scopes ...string) (*domain.Client, string) {
	t.Helper()
	c, secret, err := e.clients.Register(context.Background(), client.RegisterRequest{
		Name:         "Test App",
		RedirectURIs: []string{"https://app.example/cb"},
		Scopes:       scopes,
	})
	require.NoError(t, err)
	return c, secret
}

func (e *testEnv) addUser(t *testing.T, email string) *domain.User {
	t.Helper()
	u, err := e.users.AddUser(email, "correct horse", "Ada", "Lovelace")
	require.NoError(t, err)
	return u
}

// enableTwoFactor runs setup and enable, returning the secret and backup codes.
func (e *testEnv) enableTwoFactor(t *testing.T, userID string) (string, []string) {
	t.Helper()
	ctx := context.Background()

	res, err := e.twoFactor.Setup(ctx, userID)
	require.NoError(t, err)
	require.NoError(t, e.twoFactor.Enable(ctx, userID, e.code(t, res.Secret)))
	return res.Secret, res.BackupCodes
}

func (e *testEnv) code(t *testing.T, secret string) string {
	t.Helper()
	c, err := e.engine.GenerateCode(secret, e.clock.Now())
	require.NoError(t, err)
	return c
}

// wrongCode returns a well-formed code that does not validate at the current instant.
func (e *testEnv) wrongCode(t *testing.T, secret string) string {
	t.Helper()
	for _, candidate := range []string{"000000", "111111", "222222", "333333"} {
		if !e.engine.Validate(candidate, secret, e.clock.Now()) {
			return candidate
		}
	}
	t.Fatal("no invalid code candidate")
	return ""
}
