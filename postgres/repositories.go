// Package postgres is the PostgreSQL storage backend. The schema is managed
// by goose migrations embedded in the binary.
package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pilab-dev/shadow-authz/domain"
	"github.com/pilab-dev/shadow-authz/internal/auth"
	"github.com/rs/zerolog/log"
)

// NewRepositories wires every repository to pool. Close closes the pool.
func NewRepositories(pool *pgxpool.Pool, hasher auth.PasswordHasher) (*domain.Repositories, *UserStore) {
	users := NewUserStore(pool, hasher)
	return &domain.Repositories{
		Clients:   NewClientRepository(pool),
		AuthCodes: NewAuthCodeRepository(pool),
		Tokens:    NewTokenRepository(pool),
		TwoFactor: NewTwoFactorRepository(pool),
		Roles:     NewRoleRepository(pool),
		Users:     users,
		Ping:      pool.Ping,
		Close: func(context.Context) error {
			log.Info().Msg("Closing PostgreSQL pool.")
			pool.Close()
			return nil
		},
	}, users
}
