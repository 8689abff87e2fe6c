// Package app wires configuration into storage backends and services. It is
// shared by the server binary and the admin CLI.
package app

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pilab-dev/shadow-authz/config"
	"github.com/pilab-dev/shadow-authz/domain"
	"github.com/pilab-dev/shadow-authz/internal/auth"
	"github.com/pilab-dev/shadow-authz/memory"
	"github.com/pilab-dev/shadow-authz/mongodb"
	"github.com/pilab-dev/shadow-authz/postgres"
	"github.com/rs/zerolog/log"
)

// UserDirectory is a UserStore that can also create accounts.
type UserDirectory interface {
	domain.UserStore
	CreateUser(ctx context.Context, email, password, firstName, lastName string) (*domain.User, error)
}

// Store is one opened storage backend.
type Store struct {
	Repos *domain.Repositories
	Users UserDirectory
	// Pool is set for the postgres driver.
	Pool *pgxpool.Pool
}

// Close releases the backend's connections.
func (s *Store) Close(ctx context.Context) error {
	return s.Repos.Close(ctx)
}

// OpenStore connects the backend selected by STORAGE_DRIVER.
func OpenStore(ctx context.Context, cfg *config.ServerConfig, hasher auth.PasswordHasher) (*Store, error) {
	switch cfg.StorageDriver {
	case config.StorageMemory:
		log.Warn().Msg("Using the in-memory store; all data is lost on restart.")
		repos, users := memory.New(hasher)
		return &Store{Repos: repos, Users: users}, nil

	case config.StorageMongoDB:
		client, db, err := mongodb.Connect(ctx, cfg.MongoURI, cfg.MongoDBName)
		if err != nil {
			return nil, err
		}
		repos, users, err := mongodb.NewRepositories(ctx, client, db, hasher, cfg.MongoTransactions)
		if err != nil {
			_ = client.Disconnect(ctx)
			return nil, err
		}
		return &Store{Repos: repos, Users: users}, nil

	case config.StoragePostgres:
		if cfg.PostgresAutoMigrate {
			if err := postgres.Migrate(ctx, cfg.PostgresURL); err != nil {
				return nil, err
			}
		}
		pool, err := postgres.NewPool(ctx, cfg.PostgresURL)
		if err != nil {
			return nil, err
		}
		repos, users := postgres.NewRepositories(pool, hasher)
		return &Store{Repos: repos, Users: users, Pool: pool}, nil

	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.StorageDriver)
	}
}
