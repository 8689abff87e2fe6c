package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pilab-dev/shadow-authz/domain"
)

const (
	epochRowID   = "global"
	tokenColumns = `id, kind, token_hash, client_id, user_id, scope, epoch, parent_id, issued_at, expires_at, revoked, revoked_at`
)

// TokenRepository implements domain.TokenRepository on oauth_tokens and token_epochs.
type TokenRepository struct {
	db DB
}

func NewTokenRepository(db DB) *TokenRepository {
	return &TokenRepository{db: db}
}

func insertToken(ctx context.Context, tx pgx.Tx, t *domain.Token) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO oauth_tokens (`+tokenColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		t.ID, t.Kind, t.TokenHash, t.ClientID, t.UserID, t.Scope, t.Epoch, t.ParentID,
		t.IssuedAt, t.ExpiresAt, t.Revoked, t.RevokedAt)
	if isUniqueViolation(err) {
		return domain.ErrConflict
	}
	return err
}

func (r *TokenRepository) StoreTokens(ctx context.Context, tokens ...*domain.Token) error {
	if len(tokens) == 0 {
		return nil
	}
	return pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		for _, t := range tokens {
			if err := insertToken(ctx, tx, t); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *TokenRepository) GetToken(ctx context.Context, tokenHash string) (*domain.Token, error) {
	var t domain.Token
	err := r.db.QueryRow(ctx, `SELECT `+tokenColumns+` FROM oauth_tokens WHERE token_hash = $1`, tokenHash).
		Scan(&t.ID, &t.Kind, &t.TokenHash, &t.ClientID, &t.UserID, &t.Scope, &t.Epoch, &t.ParentID,
			&t.IssuedAt, &t.ExpiresAt, &t.Revoked, &t.RevokedAt)
	if err != nil {
		return nil, noRows(err)
	}
	return &t, nil
}

// RotateRefreshToken revokes the old token and inserts the successors in one
// transaction. The conditional UPDATE takes the row lock, so a concurrent
// rotation blocks until commit and then matches nothing.
func (r *TokenRepository) RotateRefreshToken(ctx context.Context, p domain.RotateParams) error {
	return pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE oauth_tokens SET revoked = TRUE, revoked_at = $2
			 WHERE token_hash = $1 AND kind = $3 AND NOT revoked AND expires_at > $2 AND epoch >= $4
			   AND ($5 = '' OR client_id = $5)`,
			p.OldHash, p.Now, domain.TokenKindRefresh, p.MinEpoch, p.ClientID)
		if err != nil {
			return fmt.Errorf("revoke rotated refresh token: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return domain.ErrNotFound
		}

		for _, t := range []*domain.Token{p.Access, p.Refresh} {
			if err := insertToken(ctx, tx, t); err != nil {
				return fmt.Errorf("insert successor tokens: %w", err)
			}
		}
		return nil
	})
}

func (r *TokenRepository) RevokeToken(ctx context.Context, tokenHash string, at time.Time) error {
	_, err := r.db.Exec(ctx,
		`UPDATE oauth_tokens SET revoked = TRUE, revoked_at = $2 WHERE token_hash = $1 AND NOT revoked`,
		tokenHash, at)
	return err
}

func (r *TokenRepository) RevokeClientTokens(ctx context.Context, clientID string, at time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE oauth_tokens SET revoked = TRUE, revoked_at = $2 WHERE client_id = $1 AND NOT revoked`,
		clientID, at)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *TokenRepository) CurrentEpoch(ctx context.Context) (int64, error) {
	var epoch int64
	err := r.db.QueryRow(ctx, `SELECT epoch FROM token_epochs WHERE id = $1`, epochRowID).Scan(&epoch)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return epoch, err
}

func (r *TokenRepository) BumpEpoch(ctx context.Context) (int64, error) {
	var epoch int64
	err := r.db.QueryRow(ctx,
		`INSERT INTO token_epochs (id, epoch) VALUES ($1, 1)
		 ON CONFLICT (id) DO UPDATE SET epoch = token_epochs.epoch + 1
		 RETURNING epoch`, epochRowID).Scan(&epoch)
	if err != nil {
		return 0, fmt.Errorf("bump epoch: %w", err)
	}
	return epoch, nil
}

func (r *TokenRepository) DeleteExpiredTokens(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM oauth_tokens WHERE expires_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("purge tokens: %w", err)
	}
	return tag.RowsAffected(), nil
}

var _ domain.TokenRepository = (*TokenRepository)(nil)
