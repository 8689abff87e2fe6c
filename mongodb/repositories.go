package mongodb

import (
	"context"

	"github.com/pilab-dev/shadow-authz/domain"
	"github.com/pilab-dev/shadow-authz/internal/auth"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

// NewRepositories ensures indexes and returns the MongoDB storage backend.
// The returned Close disconnects client.
func NewRepositories(ctx context.Context, client *mongo.Client, db *mongo.Database, hasher auth.PasswordHasher, transactions bool) (*domain.Repositories, *UserStore, error) {
	if err := EnsureIndexes(ctx, db); err != nil {
		return nil, nil, err
	}

	users := NewUserStore(db, hasher)
	return &domain.Repositories{
		Clients:   NewClientRepository(db),
		AuthCodes: NewAuthCodeRepository(db),
		Tokens:    NewTokenRepository(client, db, transactions),
		TwoFactor: NewTwoFactorRepository(db),
		Roles:     NewRoleRepository(db),
		Users:     users,
		Ping: func(ctx context.Context) error {
			return Ping(ctx, client)
		},
		Close: func(ctx context.Context) error {
			log.Info().Msg("Closing MongoDB connection.")
			return client.Disconnect(ctx)
		},
	}, users, nil
}
