package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Storage drivers.
const (
	StorageMemory   = "memory"
	StorageMongoDB  = "mongodb"
	StoragePostgres = "postgres"
)

// ServerConfig holds all configuration for the server and the admin CLI.
// Keys are environment variable names; a config.yaml may set the same keys.
type ServerConfig struct {
	HTTPPort        string `mapstructure:"HTTP_PORT"`
	LogLevel        string `mapstructure:"LOG_LEVEL"`
	LogPretty       bool   `mapstructure:"LOG_PRETTY"`
	OtelServiceName string `mapstructure:"OTEL_SERVICE_NAME"`
	TracingEnabled  bool   `mapstructure:"TRACING_ENABLED"`

	// TraceSampleRatio applies to root spans.
	TraceSampleRatio float64 `mapstructure:"TRACE_SAMPLE_RATIO"`

	StorageDriver       string `mapstructure:"STORAGE_DRIVER"`
	MongoURI            string `mapstructure:"MONGO_URI"`
	MongoDBName         string `mapstructure:"MONGO_DB_NAME"`
	MongoTransactions   bool   `mapstructure:"MONGO_TRANSACTIONS"`
	PostgresURL         string `mapstructure:"POSTGRES_URL"`
	PostgresAutoMigrate bool   `mapstructure:"POSTGRES_AUTO_MIGRATE"`

	// Empty RedisAddr selects the in-process rate limiter.
	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`

	Issuer          string        `mapstructure:"ISSUER"`
	JWTSigningKey   string        `mapstructure:"JWT_SIGNING_KEY"`
	AccessTokenTTL  time.Duration `mapstructure:"ACCESS_TOKEN_TTL"`
	RefreshTokenTTL time.Duration `mapstructure:"REFRESH_TOKEN_TTL"`
	AuthCodeTTL     time.Duration `mapstructure:"AUTH_CODE_TTL"`
	BcryptCost      int           `mapstructure:"BCRYPT_COST"`

	TOTPIssuer           string        `mapstructure:"TOTP_ISSUER"`
	TwoFactorMaxAttempts int           `mapstructure:"TWO_FACTOR_MAX_ATTEMPTS"`
	TwoFactorLockout     time.Duration `mapstructure:"TWO_FACTOR_LOCKOUT"`
	BackupCodeCount      int           `mapstructure:"BACKUP_CODE_COUNT"`
	BackupCodeRateLimit  int           `mapstructure:"BACKUP_CODE_RATE_LIMIT"`
	BackupCodeRateWindow time.Duration `mapstructure:"BACKUP_CODE_RATE_WINDOW"`
	LoginRateLimit       int           `mapstructure:"LOGIN_RATE_LIMIT"`
	LoginRateWindow      time.Duration `mapstructure:"LOGIN_RATE_WINDOW"`

	// AdminClientID is the client whose role assignments gate the admin routes.
	AdminClientID   string        `mapstructure:"ADMIN_CLIENT_ID"`
	JanitorInterval time.Duration `mapstructure:"JANITOR_INTERVAL"`
}

// LoadConfig reads configuration from file, environment variables, and defaults.
func LoadConfig() (*ServerConfig, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("/etc/shadow-authz/")
	v.AddConfigPath("./config")
	v.AddConfigPath(".")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg ServerConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Every key needs a default so AutomaticEnv picks it up during Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("HTTP_PORT", "8080")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_PRETTY", false)
	v.SetDefault("OTEL_SERVICE_NAME", "shadow-authz")
	v.SetDefault("TRACING_ENABLED", true)
	v.SetDefault("TRACE_SAMPLE_RATIO", 1.0)

	v.SetDefault("STORAGE_DRIVER", StorageMemory)
	v.SetDefault("MONGO_URI", "mongodb://localhost:27017")
	v.SetDefault("MONGO_DB_NAME", "shadow_authz")
	v.SetDefault("MONGO_TRANSACTIONS", false)
	v.SetDefault("POSTGRES_URL", "")
	v.SetDefault("POSTGRES_AUTO_MIGRATE", true)

	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("ISSUER", "http://localhost:8080")
	v.SetDefault("JWT_SIGNING_KEY", "")
	v.SetDefault("ACCESS_TOKEN_TTL", time.Hour)
	v.SetDefault("REFRESH_TOKEN_TTL", 720*time.Hour)
	v.SetDefault("AUTH_CODE_TTL", 5*time.Minute)
	v.SetDefault("BCRYPT_COST", 12)

	v.SetDefault("TOTP_ISSUER", "shadow-authz")
	v.SetDefault("TWO_FACTOR_MAX_ATTEMPTS", 5)
	v.SetDefault("TWO_FACTOR_LOCKOUT", 15*time.Minute)
	v.SetDefault("BACKUP_CODE_COUNT", 10)
	v.SetDefault("BACKUP_CODE_RATE_LIMIT", 10)
	v.SetDefault("BACKUP_CODE_RATE_WINDOW", 15*time.Minute)
	v.SetDefault("LOGIN_RATE_LIMIT", 20)
	v.SetDefault("LOGIN_RATE_WINDOW", 15*time.Minute)

	v.SetDefault("ADMIN_CLIENT_ID", "")
	v.SetDefault("JANITOR_INTERVAL", 10*time.Minute)
}

// Validate checks cross-field requirements.
func (c *ServerConfig) Validate() error {
	var errs []error

	switch c.StorageDriver {
	case StorageMemory:
	case StorageMongoDB:
		if c.MongoURI == "" || c.MongoDBName == "" {
			errs = append(errs, errors.New("MONGO_URI and MONGO_DB_NAME are required for the mongodb driver"))
		}
	case StoragePostgres:
		if c.PostgresURL == "" {
			errs = append(errs, errors.New("POSTGRES_URL is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORAGE_DRIVER %q", c.StorageDriver))
	}

	if len(c.JWTSigningKey) < 32 {
		errs = append(errs, errors.New("JWT_SIGNING_KEY must be at least 32 bytes"))
	}
	if c.AccessTokenTTL <= 0 || c.RefreshTokenTTL <= 0 || c.AuthCodeTTL <= 0 {
		errs = append(errs, errors.New("token and code TTLs must be positive"))
	}
	if c.TwoFactorMaxAttempts <= 0 || c.TwoFactorLockout <= 0 {
		errs = append(errs, errors.New("TWO_FACTOR_MAX_ATTEMPTS and TWO_FACTOR_LOCKOUT must be positive"))
	}
	if c.TraceSampleRatio < 0 || c.TraceSampleRatio > 1 {
		errs = append(errs, errors.New("TRACE_SAMPLE_RATIO must be within [0, 1]"))
	}
	if c.JanitorInterval <= 0 {
		errs = append(errs, errors.New("JANITOR_INTERVAL must be positive"))
	}

	return errors.Join(errs...)
}
