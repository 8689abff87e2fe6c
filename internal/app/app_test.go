package app

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/pilab-dev/shadow-authz/client"
	"github.com/pilab-dev/shadow-authz/config"
	"github.com/pilab-dev/shadow-authz/domain"
	"github.com/pilab-dev/shadow-authz/internal/audit"
	"github.com/pilab-dev/shadow-authz/services"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func testConfig() *config.ServerConfig {
	return &config.ServerConfig{
		StorageDriver:        config.StorageMemory,
		Issuer:               "https://authz.test",
		JWTSigningKey:        "0123456789abcdef0123456789abcdef",
		AccessTokenTTL:       time.Hour,
		RefreshTokenTTL:      24 * time.Hour,
		AuthCodeTTL:          5 * time.Minute,
		BcryptCost:           bcrypt.MinCost,
		TOTPIssuer:           "ShadowAuthz",
		TwoFactorMaxAttempts: 5,
		TwoFactorLockout:     15 * time.Minute,
		BackupCodeCount:      10,
		LoginRateLimit:       2,
		LoginRateWindow:      time.Minute,
		BackupCodeRateLimit:  10,
		BackupCodeRateWindow: time.Minute,
		JanitorInterval:      time.Minute,
	}
}

func newTestServices(t *testing.T, cfg *config.ServerConfig, withRedis bool) (*Store, *Services) {
	t.Helper()
	log.Logger = zerolog.Nop()
	audit.SetSink(audit.NewZerologSink(zerolog.Nop()))

	ctx := context.Background()
	hasher := NewHasher(cfg)
	store, err := OpenStore(ctx, cfg, hasher)
	require.NoError(t, err)

	if withRedis {
		mr := miniredis.RunT(t)
		cfg.RedisAddr = mr.Addr()
	}
	rdb := NewRedisClient(cfg)

	svc, err := NewServices(cfg, store, hasher, rdb)
	require.NoError(t, err)
	t.Cleanup(svc.Stop)
	return store, svc
}

func TestLoginRateLimitBackends(t *testing.T) {
	for _, withRedis := range []bool{false, true} {
		name := "memory"
		if withRedis {
			name = "redis"
		}
		t.Run(name, func(t *testing.T) {
			store, svc := newTestServices(t, testConfig(), withRedis)
			ctx := context.Background()

			cl, _, err := svc.Clients.Register(ctx, clientRequest())
			require.NoError(t, err)
			_, err = store.Users.CreateUser(ctx, "ada@example.com", "correct horse", "Ada", "Lovelace")
			require.NoError(t, err)

			login := services.LoginRequest{
				AuthorizeRequest: services.AuthorizeRequest{
					ResponseType: "code", ClientID: cl.ID, RedirectURI: "https://app.example/cb",
				},
				Email:    "ada@example.com",
				Password: "wrong",
			}
			for i := 0; i < 2; i++ {
				_, err := svc.OAuth.CompleteLogin(ctx, login)
				assert.ErrorContains(t, err, "invalid_credentials")
			}
			login.Password = "correct horse"
			_, err = svc.OAuth.CompleteLogin(ctx, login)
			assert.ErrorContains(t, err, "locked_out")
		})
	}
}

func TestNewServicesRejectsShortKey(t *testing.T) {
	cfg := testConfig()
	store, err := OpenStore(context.Background(), cfg, NewHasher(cfg))
	require.NoError(t, err)

	cfg.JWTSigningKey = "short"
	_, err = NewServices(cfg, store, NewHasher(cfg), nil)
	assert.Error(t, err)
}

func TestJanitorSweep(t *testing.T) {
	store, svc := newTestServices(t, testConfig(), false)
	ctx := context.Background()
	now := time.Now().UTC()

	token := func(id string, expiredAgo time.Duration) *domain.Token {
		return &domain.Token{
			ID: id, Kind: domain.TokenKindAccess, TokenHash: "hash-" + id, ClientID: "c", UserID: "u",
			IssuedAt: now.Add(-expiredAgo - time.Hour), ExpiresAt: now.Add(-expiredAgo),
		}
	}
	require.NoError(t, store.Repos.Tokens.StoreTokens(ctx, token("old", 8*24*time.Hour), token("recent", 24*time.Hour)))
	require.NoError(t, store.Repos.AuthCodes.SaveAuthCode(ctx, &domain.AuthCode{
		CodeHash: "old-code", ClientID: "c", UserID: "u", ExpiresAt: now.Add(-48 * time.Hour), CreatedAt: now.Add(-49 * time.Hour),
	}))

	NewJanitor(svc.Codes, svc.Tokens, time.Minute).Sweep(ctx)

	_, err := store.Repos.Tokens.GetToken(ctx, "hash-old")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = store.Repos.Tokens.GetToken(ctx, "hash-recent")
	assert.NoError(t, err)

	n, err := store.Repos.AuthCodes.DeleteExpiredAuthCodes(ctx, now)
	require.NoError(t, err)
	assert.Zero(t, n, "expired code was already purged")
}

func TestJanitorRunStopsOnCancel(t *testing.T) {
	_, svc := newTestServices(t, testConfig(), false)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		NewJanitor(svc.Codes, svc.Tokens, time.Millisecond).Run(ctx)
		close(done)
	}()
	time.Sleep(5 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("janitor did not stop")
	}
}

func clientRequest() client.RegisterRequest {
	return client.RegisterRequest{Name: "Test App", RedirectURIs: []string{"https://app.example/cb"}}
}
