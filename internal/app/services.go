package app

import (
	"context"

	"github.com/pilab-dev/shadow-authz/client"
	"github.com/pilab-dev/shadow-authz/config"
	"github.com/pilab-dev/shadow-authz/internal/auth"
	"github.com/pilab-dev/shadow-authz/internal/auth/jwtissuer"
	"github.com/pilab-dev/shadow-authz/internal/auth/totp"
	"github.com/pilab-dev/shadow-authz/internal/ratelimit"
	"github.com/pilab-dev/shadow-authz/services"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Services is the fully wired service layer.
type Services struct {
	Hasher    auth.PasswordHasher
	Issuer    *jwtissuer.Issuer
	Clients   *client.ClientService
	Codes     *services.AuthCodeService
	Tokens    *services.TokenService
	TwoFactor *services.TwoFactorService
	Roles     *services.RoleService
	OAuth     *services.OAuthService

	stoppers []func()
}

// NewHasher returns the bcrypt hasher at the configured cost.
func NewHasher(cfg *config.ServerConfig) auth.PasswordHasher {
	return auth.NewBcryptPasswordHasher(cfg.BcryptCost)
}

// NewRedisClient returns nil when REDIS_ADDR is empty.
func NewRedisClient(cfg *config.ServerConfig) redis.UniversalClient {
	if cfg.RedisAddr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
}

// NewServices builds every service over store. rdb may be nil, which selects
// the in-process limiters.
func NewServices(cfg *config.ServerConfig, store *Store, hasher auth.PasswordHasher, rdb redis.UniversalClient) (*Services, error) {
	issuer, err := jwtissuer.New(cfg.Issuer, []byte(cfg.JWTSigningKey))
	if err != nil {
		return nil, err
	}

	s := &Services{Hasher: hasher, Issuer: issuer}

	limiter := func(prefix string, p ratelimit.Policy) ratelimit.Limiter {
		return ratelimit.New(p, func(p ratelimit.Policy) ratelimit.Limiter {
			if rdb != nil {
				return ratelimit.NewRedisLimiter(rdb, "authz:ratelimit:"+prefix+":", p)
			}
			l := ratelimit.NewMemoryLimiter(p)
			s.stoppers = append(s.stoppers, l.Stop)
			return l
		})
	}
	backupLimiter := limiter("backup", ratelimit.Policy{Limit: cfg.BackupCodeRateLimit, Window: cfg.BackupCodeRateWindow})
	loginLimiter := limiter("login", ratelimit.Policy{Limit: cfg.LoginRateLimit, Window: cfg.LoginRateWindow})

	repos := store.Repos
	s.Codes = services.NewAuthCodeService(repos.AuthCodes, cfg.AuthCodeTTL)
	s.Tokens = services.NewTokenService(repos.Tokens, issuer, cfg.AccessTokenTTL, cfg.RefreshTokenTTL)
	s.Clients = client.NewClientService(repos.Clients, hasher, s.Tokens)
	s.TwoFactor = services.NewTwoFactorService(repos.TwoFactor, store.Users, totp.NewEngine(cfg.TOTPIssuer), backupLimiter,
		services.TwoFactorConfig{
			MaxAttempts:     cfg.TwoFactorMaxAttempts,
			Lockout:         cfg.TwoFactorLockout,
			BackupCodeCount: cfg.BackupCodeCount,
		})
	s.Roles = services.NewRoleService(repos.Roles)
	s.OAuth = services.NewOAuthService(s.Clients, s.Codes, s.Tokens, store.Users, issuer, s.TwoFactor, loginLimiter)

	return s, nil
}

// SeedRoles writes the default role permissions; failures are logged only.
func (s *Services) SeedRoles(ctx context.Context) {
	if err := s.Roles.SeedRegistry(ctx); err != nil {
		log.Error().Err(err).Msg("Failed to seed role permissions")
	}
}

// Stop releases background resources held by the services.
func (s *Services) Stop() {
	for _, stop := range s.stoppers {
		stop()
	}
}
