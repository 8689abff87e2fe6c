package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/pilab-dev/shadow-authz/domain"
)

// TwoFactorRepository stores 2FA settings in memory.
type TwoFactorRepository struct {
	mu       sync.Mutex
	settings map[string]domain.TwoFactorSettings
}

// NewTwoFactorRepository creates an empty TwoFactorRepository.
func NewTwoFactorRepository() *TwoFactorRepository {
	return &TwoFactorRepository{settings: make(map[string]domain.TwoFactorSettings)}
}

func cloneSettings(s domain.TwoFactorSettings) *domain.TwoFactorSettings {
	s.BackupCodeHashes = slices.Clone(s.BackupCodeHashes)
	return &s
}

func (r *TwoFactorRepository) GetTwoFactor(_ context.Context, userID string) (*domain.TwoFactorSettings, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.settings[userID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneSettings(s), nil
}

func (r *TwoFactorRepository) SaveSetup(_ context.Context, settings *domain.TwoFactorSettings) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.settings[settings.UserID]; ok && cur.Enabled {
		return domain.ErrConflict
	}
	s := *cloneSettings(*settings)
	s.Enabled = false
	s.FailedAttempts = 0
	s.LockoutUntil = nil
	s.EnabledAt = nil
	r.settings[settings.UserID] = s
	return nil
}

func (r *TwoFactorRepository) EnableTwoFactor(_ context.Context, userID, secret string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.settings[userID]
	if !ok {
		return domain.ErrNotFound
	}
	if s.Enabled || s.Secret != secret {
		return domain.ErrConflict
	}
	s.Enabled = true
	s.EnabledAt = &at
	s.LastVerifiedAt = &at
	s.FailedAttempts = 0
	s.LockoutUntil = nil
	s.UpdatedAt = at
	r.settings[userID] = s
	return nil
}

func (r *TwoFactorRepository) RecordFailure(_ context.Context, userID string, at time.Time, policy domain.FailurePolicy) (*domain.TwoFactorSettings, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.settings[userID]
	if !ok {
		return nil, domain.ErrNotFound
	}

	lockoutElapsed := s.LockoutUntil != nil && !at.Before(*s.LockoutUntil)
	if lockoutElapsed {
		s.FailedAttempts = 1
		s.LockoutUntil = nil
	} else {
		s.FailedAttempts++
	}
	if s.FailedAttempts >= policy.MaxAttempts {
		until := at.Add(policy.Lockout)
		s.LockoutUntil = &until
	}
	s.UpdatedAt = at
	r.settings[userID] = s
	return cloneSettings(s), nil
}

func (r *TwoFactorRepository) RecordSuccess(_ context.Context, userID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.settings[userID]
	if !ok {
		return domain.ErrNotFound
	}
	s.FailedAttempts = 0
	s.LockoutUntil = nil
	s.LastVerifiedAt = &at
	s.UpdatedAt = at
	r.settings[userID] = s
	return nil
}

func (r *TwoFactorRepository) ConsumeBackupCode(_ context.Context, userID, codeHash string, at time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.settings[userID]
	if !ok {
		return 0, domain.ErrNotFound
	}
	idx := slices.Index(s.BackupCodeHashes, codeHash)
	if idx < 0 {
		return 0, domain.ErrNotFound
	}
	s.BackupCodeHashes = slices.Delete(slices.Clone(s.BackupCodeHashes), idx, idx+1)
	s.LastVerifiedAt = &at
	s.UpdatedAt = at
	r.settings[userID] = s
	return len(s.BackupCodeHashes), nil
}

func (r *TwoFactorRepository) ReplaceBackupCodes(_ context.Context, userID string, codeHashes []string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.settings[userID]
	if !ok {
		return domain.ErrNotFound
	}
	s.BackupCodeHashes = slices.Clone(codeHashes)
	s.UpdatedAt = at
	r.settings[userID] = s
	return nil
}

func (r *TwoFactorRepository) DeleteTwoFactor(_ context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.settings, userID)
	return nil
}

var _ domain.TwoFactorRepository = (*TwoFactorRepository)(nil)
