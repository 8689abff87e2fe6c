package memory

import (
	"context"
	"sync"
	"time"

	"github.com/pilab-dev/shadow-authz/domain"
)

// AuthCodeRepository stores authorization codes in memory.
type AuthCodeRepository struct {
	mu    sync.Mutex
	codes map[string]domain.AuthCode
}

// NewAuthCodeRepository creates an empty AuthCodeRepository.
func NewAuthCodeRepository() *AuthCodeRepository {
	return &AuthCodeRepository{codes: make(map[string]domain.AuthCode)}
}

func (r *AuthCodeRepository) SaveAuthCode(_ context.Context, code *domain.AuthCode) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.codes[code.CodeHash]; exists {
		return domain.ErrConflict
	}
	r.codes[code.CodeHash] = *code
	return nil
}

func (r *AuthCodeRepository) ConsumeAuthCode(_ context.Context, p domain.ConsumeCodeParams) (*domain.AuthCode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.codes[p.CodeHash]
	if !ok ||
		!p.Now.Before(c.ExpiresAt) ||
		c.Used ||
		c.ClientID != p.ClientID ||
		(p.RedirectURI != "" && c.RedirectURI != p.RedirectURI) {
		return nil, domain.ErrNotFound
	}

	usedAt := p.Now
	c.Used = true
	c.UsedAt = &usedAt
	r.codes[p.CodeHash] = c
	return &c, nil
}

func (r *AuthCodeRepository) ReleaseAuthCode(_ context.Context, codeHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.codes[codeHash]
	if !ok || !c.Used {
		return domain.ErrNotFound
	}
	c.Used = false
	c.UsedAt = nil
	r.codes[codeHash] = c
	return nil
}

func (r *AuthCodeRepository) DeleteExpiredAuthCodes(_ context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for k, c := range r.codes {
		if c.ExpiresAt.Before(before) {
			delete(r.codes, k)
			n++
		}
	}
	return n, nil
}

var _ domain.AuthCodeRepository = (*AuthCodeRepository)(nil)
