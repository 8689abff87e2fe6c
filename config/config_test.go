package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "0123456789abcdef0123456789abcdef"

func TestLoadConfigDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("JWT_SIGNING_KEY", testKey)

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.HTTPPort)
	assert.Equal(t, StorageMemory, cfg.StorageDriver)
	assert.Equal(t, time.Hour, cfg.AccessTokenTTL)
	assert.Equal(t, 720*time.Hour, cfg.RefreshTokenTTL)
	assert.Equal(t, 5*time.Minute, cfg.AuthCodeTTL)
	assert.Equal(t, 5, cfg.TwoFactorMaxAttempts)
	assert.Equal(t, 15*time.Minute, cfg.TwoFactorLockout)
	assert.Equal(t, 10, cfg.BackupCodeCount)
	assert.Empty(t, cfg.RedisAddr)
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("JWT_SIGNING_KEY", testKey)
	t.Setenv("STORAGE_DRIVER", "postgres")
	t.Setenv("POSTGRES_URL", "postgres://localhost/authz")
	t.Setenv("ACCESS_TOKEN_TTL", "30m")
	t.Setenv("TWO_FACTOR_MAX_ATTEMPTS", "3")
	t.Setenv("REDIS_ADDR", "localhost:6379")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, StoragePostgres, cfg.StorageDriver)
	assert.Equal(t, 30*time.Minute, cfg.AccessTokenTTL)
	assert.Equal(t, 3, cfg.TwoFactorMaxAttempts)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
}

func TestValidate(t *testing.T) {
	valid := func() *ServerConfig {
		return &ServerConfig{
			StorageDriver:        StorageMemory,
			JWTSigningKey:        testKey,
			AccessTokenTTL:       time.Hour,
			RefreshTokenTTL:      time.Hour,
			AuthCodeTTL:          time.Minute,
			TwoFactorMaxAttempts: 5,
			TwoFactorLockout:     time.Minute,
			JanitorInterval:      time.Minute,
		}
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*ServerConfig)
		want   string
	}{
		{"unknown driver", func(c *ServerConfig) { c.StorageDriver = "sqlite" }, "unknown STORAGE_DRIVER"},
		{"postgres without url", func(c *ServerConfig) { c.StorageDriver = StoragePostgres }, "POSTGRES_URL"},
		{"mongo without db", func(c *ServerConfig) { c.StorageDriver = StorageMongoDB }, "MONGO_URI"},
		{"short key", func(c *ServerConfig) { c.JWTSigningKey = "short" }, "JWT_SIGNING_KEY"},
		{"zero ttl", func(c *ServerConfig) { c.AuthCodeTTL = 0 }, "TTLs"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
