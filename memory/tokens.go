package memory

import (
	"context"
	"sync"
	"time"

	"github.com/pilab-dev/shadow-authz/domain"
)

// TokenRepository stores tokens and the global epoch in memory.
type TokenRepository struct {
	mu     sync.Mutex
	tokens map[string]domain.Token // keyed by token hash
	epoch  int64
}

// NewTokenRepository creates an empty TokenRepository at epoch 0.
func NewTokenRepository() *TokenRepository {
	return &TokenRepository{tokens: make(map[string]domain.Token)}
}

func (r *TokenRepository) StoreTokens(_ context.Context, tokens ...*domain.Token) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.insertLocked(tokens...)
}

func (r *TokenRepository) insertLocked(tokens ...*domain.Token) error {
	for _, t := range tokens {
		if _, exists := r.tokens[t.TokenHash]; exists {
			return domain.ErrConflict
		}
	}
	for _, t := range tokens {
		r.tokens[t.TokenHash] = *t
	}
	return nil
}

func (r *TokenRepository) GetToken(_ context.Context, tokenHash string) (*domain.Token, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tokens[tokenHash]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &t, nil
}

func (r *TokenRepository) RotateRefreshToken(_ context.Context, p domain.RotateParams) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	old, ok := r.tokens[p.OldHash]
	if !ok ||
		old.Kind != domain.TokenKindRefresh ||
		!old.ActiveAt(p.Now, p.MinEpoch) ||
		(p.ClientID != "" && old.ClientID != p.ClientID) {
		return domain.ErrNotFound
	}

	if err := r.insertLocked(p.Access, p.Refresh); err != nil {
		return err
	}

	revokedAt := p.Now
	old.Revoked = true
	old.RevokedAt = &revokedAt
	r.tokens[p.OldHash] = old
	return nil
}

func (r *TokenRepository) RevokeToken(_ context.Context, tokenHash string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tokens[tokenHash]
	if !ok || t.Revoked {
		return nil
	}
	t.Revoked = true
	t.RevokedAt = &at
	r.tokens[tokenHash] = t
	return nil
}

func (r *TokenRepository) RevokeClientTokens(_ context.Context, clientID string, at time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for k, t := range r.tokens {
		if t.ClientID == clientID && !t.Revoked {
			revokedAt := at
			t.Revoked = true
			t.RevokedAt = &revokedAt
			r.tokens[k] = t
			n++
		}
	}
	return n, nil
}

func (r *TokenRepository) CurrentEpoch(context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.epoch, nil
}

func (r *TokenRepository) BumpEpoch(context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.epoch++
	return r.epoch, nil
}

func (r *TokenRepository) DeleteExpiredTokens(_ context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for k, t := range r.tokens {
		if t.ExpiresAt.Before(before) {
			delete(r.tokens, k)
			n++
		}
	}
	return n, nil
}

var _ domain.TokenRepository = (*TokenRepository)(nil)
