package memory

import (
	"context"

	"github.com/pilab-dev/shadow-authz/domain"
	"github.com/pilab-dev/shadow-authz/internal/auth"
)

// New returns a complete in-memory storage backend. The returned UserStore
// is also exposed so callers can seed users.
func New(hasher auth.PasswordHasher) (*domain.Repositories, *UserStore) {
	users := NewUserStore(hasher)
	noop := func(context.Context) error { return nil }

	return &domain.Repositories{
		Clients:   NewClientRepository(),
		AuthCodes: NewAuthCodeRepository(),
		Tokens:    NewTokenRepository(),
		TwoFactor: NewTwoFactorRepository(),
		Roles:     NewRoleRepository(),
		Users:     users,
		Ping:      noop,
		Close:     noop,
	}, users
}
