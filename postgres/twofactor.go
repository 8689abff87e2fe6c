package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pilab-dev/shadow-authz/domain"
)

// Backup codes live in two_factor_backup_codes; consuming one is a DELETE
// whose row count decides the winner.
const selectSettings = `
SELECT s.user_id, s.secret, s.enabled, s.failed_attempts, s.lockout_until, s.enabled_at,
       s.last_verified_at, s.created_at, s.updated_at,
       COALESCE((SELECT array_agg(b.code_hash ORDER BY b.code_hash) FROM two_factor_backup_codes b WHERE b.user_id = s.user_id), '{}')
FROM %s s WHERE s.user_id = $1`

const settingsReturning = `user_id, secret, enabled, failed_attempts, lockout_until, enabled_at, last_verified_at, created_at, updated_at`

// TwoFactorRepository implements domain.TwoFactorRepository.
type TwoFactorRepository struct {
	db DB
}

func NewTwoFactorRepository(db DB) *TwoFactorRepository {
	return &TwoFactorRepository{db: db}
}

func scanSettings(row pgx.Row) (*domain.TwoFactorSettings, error) {
	var s domain.TwoFactorSettings
	err := row.Scan(&s.UserID, &s.Secret, &s.Enabled, &s.FailedAttempts, &s.LockoutUntil, &s.EnabledAt,
		&s.LastVerifiedAt, &s.CreatedAt, &s.UpdatedAt, &s.BackupCodeHashes)
	if err != nil {
		return nil, noRows(err)
	}
	return &s, nil
}

func (r *TwoFactorRepository) GetTwoFactor(ctx context.Context, userID string) (*domain.TwoFactorSettings, error) {
	return scanSettings(r.db.QueryRow(ctx, fmt.Sprintf(selectSettings, "two_factor_settings"), userID))
}

func writeBackupCodes(ctx context.Context, tx pgx.Tx, userID string, hashes []string) error {
	if _, err := tx.Exec(ctx, `DELETE FROM two_factor_backup_codes WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("clear backup codes: %w", err)
	}
	rows := make([][]any, len(hashes))
	for i, h := range hashes {
		rows[i] = []any{userID, h}
	}
	_, err := tx.CopyFrom(ctx, pgx.Identifier{"two_factor_backup_codes"}, []string{"user_id", "code_hash"},
		pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("copy backup codes: %w", err)
	}
	return nil
}

// SaveSetup upserts a pending configuration. The conflict branch only fires
// while the row is still disabled.
func (r *TwoFactorRepository) SaveSetup(ctx context.Context, s *domain.TwoFactorSettings) error {
	return pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`INSERT INTO two_factor_settings (user_id, secret, enabled, failed_attempts, created_at, updated_at)
			 VALUES ($1, $2, FALSE, 0, $3, $4)
			 ON CONFLICT (user_id) DO UPDATE SET
			   secret = EXCLUDED.secret, failed_attempts = 0, lockout_until = NULL,
			   enabled_at = NULL, last_verified_at = NULL, updated_at = EXCLUDED.updated_at
			 WHERE NOT two_factor_settings.enabled`,
			s.UserID, s.Secret, s.CreatedAt, s.UpdatedAt)
		if err != nil {
			return fmt.Errorf("save two-factor setup: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return domain.ErrConflict
		}
		return writeBackupCodes(ctx, tx, s.UserID, s.BackupCodeHashes)
	})
}

func (r *TwoFactorRepository) EnableTwoFactor(ctx context.Context, userID, secret string, at time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE two_factor_settings
		 SET enabled = TRUE, enabled_at = $3, last_verified_at = $3, failed_attempts = 0, lockout_until = NULL, updated_at = $3
		 WHERE user_id = $1 AND NOT enabled AND secret = $2`,
		userID, secret, at)
	if err != nil {
		return fmt.Errorf("enable two-factor: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	if _, err := r.GetTwoFactor(ctx, userID); err != nil {
		return err
	}
	return domain.ErrConflict
}

// RecordFailure applies the counter and lockout in one UPDATE. Every CASE
// reads the pre-update row, so an elapsed lockout restarts the count at 1.
func (r *TwoFactorRepository) RecordFailure(ctx context.Context, userID string, at time.Time, policy domain.FailurePolicy) (*domain.TwoFactorSettings, error) {
	query := `
WITH updated AS (
    UPDATE two_factor_settings SET
        failed_attempts = CASE WHEN lockout_until IS NOT NULL AND lockout_until <= $2 THEN 1 ELSE failed_attempts + 1 END,
        lockout_until = CASE
            WHEN (CASE WHEN lockout_until IS NOT NULL AND lockout_until <= $2 THEN 1 ELSE failed_attempts + 1 END) >= $3 THEN $4
            WHEN lockout_until IS NOT NULL AND lockout_until <= $2 THEN NULL
            ELSE lockout_until
        END,
        updated_at = $2
    WHERE user_id = $1
    RETURNING ` + settingsReturning + `
)` + fmt.Sprintf(selectSettings, "updated")

	return scanSettings(r.db.QueryRow(ctx, query, userID, at, policy.MaxAttempts, at.Add(policy.Lockout)))
}

func (r *TwoFactorRepository) RecordSuccess(ctx context.Context, userID string, at time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE two_factor_settings SET failed_attempts = 0, lockout_until = NULL, last_verified_at = $2, updated_at = $2
		 WHERE user_id = $1`, userID, at)
	if err != nil {
		return fmt.Errorf("record two-factor success: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *TwoFactorRepository) ConsumeBackupCode(ctx context.Context, userID, codeHash string, at time.Time) (int, error) {
	var remaining int
	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`DELETE FROM two_factor_backup_codes WHERE user_id = $1 AND code_hash = $2`, userID, codeHash)
		if err != nil {
			return fmt.Errorf("consume backup code: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return domain.ErrNotFound
		}

		if _, err := tx.Exec(ctx,
			`UPDATE two_factor_settings SET last_verified_at = $2, updated_at = $2 WHERE user_id = $1`,
			userID, at); err != nil {
			return fmt.Errorf("touch two-factor settings: %w", err)
		}
		return tx.QueryRow(ctx, `SELECT count(*) FROM two_factor_backup_codes WHERE user_id = $1`, userID).
			Scan(&remaining)
	})
	if err != nil {
		return 0, err
	}
	return remaining, nil
}

func (r *TwoFactorRepository) ReplaceBackupCodes(ctx context.Context, userID string, codeHashes []string, at time.Time) error {
	return pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE two_factor_settings SET updated_at = $2 WHERE user_id = $1`, userID, at)
		if err != nil {
			return fmt.Errorf("touch two-factor settings: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return domain.ErrNotFound
		}
		return writeBackupCodes(ctx, tx, userID, codeHashes)
	})
}

// DeleteTwoFactor removes the settings; backup codes cascade.
func (r *TwoFactorRepository) DeleteTwoFactor(ctx context.Context, userID string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM two_factor_settings WHERE user_id = $1`, userID)
	return err
}

var _ domain.TwoFactorRepository = (*TwoFactorRepository)(nil)
