package mongodb

import (
	"context"
	"os"
	"testing"

	"github.com/pilab-dev/shadow-authz/domain"
	"github.com/pilab-dev/shadow-authz/internal/auth"
	"github.com/pilab-dev/shadow-authz/internal/storagetest"
	"github.com/pilab-dev/shadow-authz/mongodb/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func newTestRepos(t *testing.T) (*domain.Repositories, *UserStore) {
	t.Helper()
	client, db := testutil.SetupTestMongoDB(t, "authz_test")

	repos, users, err := NewRepositories(context.Background(), client, db,
		auth.NewBcryptPasswordHasher(bcrypt.MinCost), os.Getenv("TEST_MONGO_TRANSACTIONS") == "true")
	require.NoError(t, err)
	return repos, users
}

func TestConformance(t *testing.T) {
	storagetest.RunAll(t, func(t *testing.T) *domain.Repositories {
		repos, _ := newTestRepos(t)
		return repos
	})
}

func TestUserStore(t *testing.T) {
	ctx := context.Background()
	repos, users := newTestRepos(t)
	require.NoError(t, repos.Ping(ctx))

	u, err := users.CreateUser(ctx, "Ada@Example.com", "correct horse", "Ada", "Lovelace")
	require.NoError(t, err)

	_, err = users.CreateUser(ctx, "ada@example.com", "x", "", "")
	assert.ErrorIs(t, err, domain.ErrConflict)

	got, err := users.Authenticate(ctx, "ADA@example.com", "correct horse")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	_, err = users.Authenticate(ctx, "ada@example.com", "wrong")
	assert.ErrorIs(t, err, domain.ErrInvalidCredentials)
	_, err = users.Authenticate(ctx, "ghost@example.com", "correct horse")
	assert.ErrorIs(t, err, domain.ErrInvalidCredentials)

	assert.ErrorIs(t, users.VerifyPassword(ctx, u.ID, "wrong"), domain.ErrInvalidCredentials)
	require.NoError(t, users.MarkLastLogin(ctx, u.ID, got.CreatedAt))
	assert.ErrorIs(t, users.MarkLastLogin(ctx, "missing", got.CreatedAt), domain.ErrNotFound)
}
