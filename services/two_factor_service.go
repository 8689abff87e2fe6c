package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pilab-dev/shadow-authz/domain"
	serrors "github.com/pilab-dev/shadow-authz/errors"
	"github.com/pilab-dev/shadow-authz/internal/audit"
	"github.com/pilab-dev/shadow-authz/internal/auth/totp"
	"github.com/pilab-dev/shadow-authz/internal/metrics"
	"github.com/pilab-dev/shadow-authz/internal/ratelimit"
	"github.com/rs/zerolog/log"
)

// TwoFactorConfig holds the lockout policy and backup code count.
type TwoFactorConfig struct {
	MaxAttempts     int
	Lockout         time.Duration
	BackupCodeCount int
}

// DefaultTwoFactorConfig locks out for 15 minutes after 5 failures and issues 10 backup codes.
func DefaultTwoFactorConfig() TwoFactorConfig {
	return TwoFactorConfig{
		MaxAttempts:     5,
		Lockout:         15 * time.Minute,
		BackupCodeCount: totp.DefaultBackupCodeCount,
	}
}

// SetupResult is shown to the user exactly once.
type SetupResult struct {
	Secret      string
	URI         string
	BackupCodes []string
}

// TwoFactorStatus summarizes a user's 2FA state.
type TwoFactorStatus struct {
	Enabled              bool       `json:"enabled"`
	RemainingBackupCodes int        `json:"remaining_backup_codes"`
	LockedUntil          *time.Time `json:"locked_until,omitempty"`
}

// TwoFactorService manages TOTP enrollment, verification, lockout and backup codes.
type TwoFactorService struct {
	repo          domain.TwoFactorRepository
	users         domain.UserStore
	engine        *totp.Engine
	backupLimiter ratelimit.Limiter
	cfg           TwoFactorConfig
	now           func() time.Time
}

// NewTwoFactorService creates a TwoFactorService. backupLimiter throttles
// backup code redemption per user; nil disables throttling.
func NewTwoFactorService(
	repo domain.TwoFactorRepository,
	users domain.UserStore,
	engine *totp.Engine,
	backupLimiter ratelimit.Limiter,
	cfg TwoFactorConfig,
) *TwoFactorService {
	def := DefaultTwoFactorConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.Lockout <= 0 {
		cfg.Lockout = def.Lockout
	}
	if cfg.BackupCodeCount <= 0 {
		cfg.BackupCodeCount = def.BackupCodeCount
	}
	if backupLimiter == nil {
		backupLimiter = ratelimit.Unlimited{}
	}
	return &TwoFactorService{
		repo:          repo,
		users:         users,
		engine:        engine,
		backupLimiter: backupLimiter,
		cfg:           cfg,
		now:           time.Now,
	}
}

func (s *TwoFactorService) policy() domain.FailurePolicy {
	return domain.FailurePolicy{MaxAttempts: s.cfg.MaxAttempts, Lockout: s.cfg.Lockout}
}

// enabledSettings loads settings and maps "missing" and "disabled" to not_enabled.
func (s *TwoFactorService) enabledSettings(ctx context.Context, userID string) (*domain.TwoFactorSettings, error) {
	settings, err := s.repo.GetTwoFactor(ctx, userID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, serrors.NewNotEnabled()
	}
	if err != nil {
		return nil, fmt.Errorf("load 2fa settings: %w", err)
	}
	if !settings.Enabled {
		return nil, serrors.NewNotEnabled()
	}
	return settings, nil
}

// Setup provisions a new secret and backup codes, replacing any pending setup.
func (s *TwoFactorService) Setup(ctx context.Context, userID string) (*SetupResult, error) {
	current, err := s.repo.GetTwoFactor(ctx, userID)
	switch {
	case err == nil && current.Enabled:
		return nil, serrors.NewAlreadyEnabled()
	case err != nil && !errors.Is(err, domain.ErrNotFound):
		return nil, fmt.Errorf("load 2fa settings: %w", err)
	}

	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load user for 2fa setup: %w", err)
	}

	secret, uri, err := s.engine.GenerateSecret(user.Email)
	if err != nil {
		return nil, err
	}
	codes, hashes, err := totp.GenerateBackupCodes(s.cfg.BackupCodeCount)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	err = s.repo.SaveSetup(ctx, &domain.TwoFactorSettings{
		UserID:           userID,
		Secret:           secret,
		BackupCodeHashes: hashes,
		CreatedAt:        now,
		UpdatedAt:        now,
	})
	if errors.Is(err, domain.ErrConflict) {
		return nil, serrors.NewAlreadyEnabled()
	}
	if err != nil {
		return nil, fmt.Errorf("save 2fa setup: %w", err)
	}

	log.Info().Str("userID", userID).Msg("2FA setup initiated")
	return &SetupResult{Secret: secret, URI: uri, BackupCodes: codes}, nil
}

// Enable activates 2FA once the user proves possession of the pending secret.
func (s *TwoFactorService) Enable(ctx context.Context, userID, code string) error {
	settings, err := s.repo.GetTwoFactor(ctx, userID)
	if errors.Is(err, domain.ErrNotFound) {
		return serrors.NewNotSetUp()
	}
	if err != nil {
		return fmt.Errorf("load 2fa settings: %w", err)
	}
	if settings.Enabled {
		return serrors.NewAlreadyEnabled()
	}

	now := s.now().UTC()
	if !s.engine.Validate(code, settings.Secret, now) {
		metrics.TwoFactorVerificationsTotal.WithLabelValues(metrics.MethodTOTP, metrics.ResultFailure).Inc()
		return serrors.NewInvalidCode()
	}

	err = s.repo.EnableTwoFactor(ctx, userID, settings.Secret, now)
	if errors.Is(err, domain.ErrConflict) || errors.Is(err, domain.ErrNotFound) {
		// Enabled concurrently, or replaced by a newer Setup.
		latest, getErr := s.repo.GetTwoFactor(ctx, userID)
		if getErr == nil && latest.Enabled {
			return serrors.NewAlreadyEnabled()
		}
		return serrors.NewInvalidCode()
	}
	if err != nil {
		return fmt.Errorf("enable 2fa: %w", err)
	}

	metrics.TwoFactorVerificationsTotal.WithLabelValues(metrics.MethodTOTP, metrics.ResultSuccess).Inc()
	audit.Log(ctx, "2fa", audit.ActionTwoFactorEnable, userID, userID, "", true, nil)
	return nil
}

// IsEnabled reports whether the user has 2FA switched on.
func (s *TwoFactorService) IsEnabled(ctx context.Context, userID string) (bool, error) {
	settings, err := s.repo.GetTwoFactor(ctx, userID)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load 2fa settings: %w", err)
	}
	return settings.Enabled, nil
}

// Verify checks a TOTP code, applying the failed-attempt lockout.
func (s *TwoFactorService) Verify(ctx context.Context, userID, code string) error {
	settings, err := s.enabledSettings(ctx, userID)
	if err != nil {
		return err
	}
	return s.checkCode(ctx, settings, code)
}

// checkCode validates code against an enabled configuration. A locked-out
// user fails fast without consuming an attempt.
func (s *TwoFactorService) checkCode(ctx context.Context, settings *domain.TwoFactorSettings, code string) error {
	now := s.now().UTC()
	if settings.LockedAt(now) {
		metrics.TwoFactorVerificationsTotal.WithLabelValues(metrics.MethodTOTP, metrics.ResultLocked).Inc()
		return serrors.NewLockedOut(fmt.Sprintf("Too many failed attempts, try again after %s", settings.LockoutUntil.Format(time.RFC3339)))
	}

	if s.engine.Validate(code, settings.Secret, now) {
		if err := s.repo.RecordSuccess(ctx, settings.UserID, now); err != nil {
			return fmt.Errorf("record 2fa success: %w", err)
		}
		metrics.TwoFactorVerificationsTotal.WithLabelValues(metrics.MethodTOTP, metrics.ResultSuccess).Inc()
		return nil
	}

	updated, err := s.repo.RecordFailure(ctx, settings.UserID, now, s.policy())
	if err != nil {
		return fmt.Errorf("record 2fa failure: %w", err)
	}
	metrics.TwoFactorVerificationsTotal.WithLabelValues(metrics.MethodTOTP, metrics.ResultFailure).Inc()

	if updated.FailedAttempts == s.cfg.MaxAttempts && updated.LockedAt(now) {
		metrics.TwoFactorLockoutsTotal.Inc()
		audit.Log(ctx, "2fa", audit.ActionTwoFactorLockout, settings.UserID, settings.UserID,
			fmt.Sprintf("until=%s", updated.LockoutUntil.Format(time.RFC3339)), false, nil)
		log.Warn().Str("userID", settings.UserID).Time("until", *updated.LockoutUntil).Msg("2FA lockout started")
	}
	return serrors.NewInvalidCode()
}

// ConsumeBackupCode redeems a single-use backup code and returns how many remain.
// It is throttled separately and never touches the TOTP failure counter.
func (s *TwoFactorService) ConsumeBackupCode(ctx context.Context, userID, code string) (int, error) {
	allowed, err := s.backupLimiter.Allow(ctx, "backup:"+userID)
	if err != nil {
		return 0, err
	}
	if !allowed {
		metrics.TwoFactorVerificationsTotal.WithLabelValues(metrics.MethodBackup, metrics.ResultLocked).Inc()
		return 0, serrors.NewLockedOut("Too many backup code attempts, try again later")
	}

	if _, err := s.enabledSettings(ctx, userID); err != nil {
		return 0, err
	}
	if totp.NormalizeBackupCode(code) == "" {
		return 0, serrors.NewInvalidCode()
	}

	remaining, err := s.repo.ConsumeBackupCode(ctx, userID, totp.HashBackupCode(code), s.now().UTC())
	if errors.Is(err, domain.ErrNotFound) {
		metrics.TwoFactorVerificationsTotal.WithLabelValues(metrics.MethodBackup, metrics.ResultFailure).Inc()
		return 0, serrors.NewInvalidCode()
	}
	if err != nil {
		return 0, fmt.Errorf("consume backup code: %w", err)
	}

	metrics.TwoFactorVerificationsTotal.WithLabelValues(metrics.MethodBackup, metrics.ResultSuccess).Inc()
	audit.Log(ctx, "2fa", audit.ActionBackupCodeUsed, userID, userID, fmt.Sprintf("remaining=%d", remaining), true, nil)
	return remaining, nil
}

// Disable turns 2FA off after re-checking the password and a current code.
func (s *TwoFactorService) Disable(ctx context.Context, userID, password, code string) error {
	settings, err := s.enabledSettings(ctx, userID)
	if err != nil {
		return err
	}

	if err := s.users.VerifyPassword(ctx, userID, password); err != nil {
		if errors.Is(err, domain.ErrInvalidCredentials) {
			return serrors.NewInvalidPassword()
		}
		return fmt.Errorf("verify password: %w", err)
	}
	if err := s.checkCode(ctx, settings, code); err != nil {
		return err
	}

	if err := s.repo.DeleteTwoFactor(ctx, userID); err != nil {
		return fmt.Errorf("delete 2fa settings: %w", err)
	}

	audit.Log(ctx, "2fa", audit.ActionTwoFactorDisable, userID, userID, "", true, nil)
	return nil
}

// RegenerateBackupCodes replaces the whole backup code set after a valid code.
func (s *TwoFactorService) RegenerateBackupCodes(ctx context.Context, userID, code string) ([]string, error) {
	settings, err := s.enabledSettings(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := s.checkCode(ctx, settings, code); err != nil {
		return nil, err
	}

	codes, hashes, err := totp.GenerateBackupCodes(s.cfg.BackupCodeCount)
	if err != nil {
		return nil, err
	}
	if err := s.repo.ReplaceBackupCodes(ctx, userID, hashes, s.now().UTC()); err != nil {
		return nil, fmt.Errorf("replace backup codes: %w", err)
	}

	audit.Log(ctx, "2fa", audit.ActionBackupCodesReset, userID, userID, "", true, nil)
	return codes, nil
}

// Status reports whether 2FA is on, how many backup codes remain and any active lockout.
func (s *TwoFactorService) Status(ctx context.Context, userID string) (*TwoFactorStatus, error) {
	settings, err := s.repo.GetTwoFactor(ctx, userID)
	if errors.Is(err, domain.ErrNotFound) {
		return &TwoFactorStatus{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load 2fa settings: %w", err)
	}

	st := &TwoFactorStatus{Enabled: settings.Enabled}
	if settings.Enabled {
		st.RemainingBackupCodes = len(settings.BackupCodeHashes)
	}
	if settings.LockedAt(s.now().UTC()) {
		st.LockedUntil = settings.LockoutUntil
	}
	return st, nil
}
