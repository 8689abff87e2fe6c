package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/pilab-dev/shadow-authz/domain"
)

// AuthCodeRepository implements domain.AuthCodeRepository on oauth_auth_codes.
type AuthCodeRepository struct {
	db DB
}

func NewAuthCodeRepository(db DB) *AuthCodeRepository {
	return &AuthCodeRepository{db: db}
}

func (r *AuthCodeRepository) SaveAuthCode(ctx context.Context, c *domain.AuthCode) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO oauth_auth_codes (code_hash, client_id, user_id, redirect_uri, scope, expires_at, used, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7)`,
		c.CodeHash, c.ClientID, c.UserID, c.RedirectURI, c.Scope, c.ExpiresAt, c.CreatedAt)
	if isUniqueViolation(err) {
		return domain.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("insert auth code: %w", err)
	}
	return nil
}

// ConsumeAuthCode is a single UPDATE ... RETURNING; row locking gives one winner.
func (r *AuthCodeRepository) ConsumeAuthCode(ctx context.Context, p domain.ConsumeCodeParams) (*domain.AuthCode, error) {
	var c domain.AuthCode
	err := r.db.QueryRow(ctx,
		`UPDATE oauth_auth_codes SET used = TRUE, used_at = $4
		 WHERE code_hash = $1 AND client_id = $2 AND NOT used AND expires_at > $4
		   AND ($3 = '' OR redirect_uri = $3)
		 RETURNING code_hash, client_id, user_id, redirect_uri, scope, expires_at, used, used_at, created_at`,
		p.CodeHash, p.ClientID, p.RedirectURI, p.Now,
	).Scan(&c.CodeHash, &c.ClientID, &c.UserID, &c.RedirectURI, &c.Scope, &c.ExpiresAt, &c.Used, &c.UsedAt, &c.CreatedAt)
	if err != nil {
		return nil, noRows(err)
	}
	return &c, nil
}

func (r *AuthCodeRepository) ReleaseAuthCode(ctx context.Context, codeHash string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE oauth_auth_codes SET used = FALSE, used_at = NULL WHERE code_hash = $1 AND used`, codeHash)
	if err != nil {
		return fmt.Errorf("release auth code: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *AuthCodeRepository) DeleteExpiredAuthCodes(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM oauth_auth_codes WHERE expires_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("purge auth codes: %w", err)
	}
	return tag.RowsAffected(), nil
}

var _ domain.AuthCodeRepository = (*AuthCodeRepository)(nil)
