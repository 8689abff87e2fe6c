package memory

import (
	"context"
	"testing"
	"time"

	"github.com/pilab-dev/shadow-authz/domain"
	"github.com/pilab-dev/shadow-authz/internal/auth"
	"github.com/pilab-dev/shadow-authz/internal/storagetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestConformance(t *testing.T) {
	storagetest.RunAll(t, func(t *testing.T) *domain.Repositories {
		repos, _ := New(auth.NewBcryptPasswordHasher(bcrypt.MinCost))
		return repos
	})
}

func TestUserStore(t *testing.T) {
	ctx := context.Background()
	store := NewUserStore(auth.NewBcryptPasswordHasher(bcrypt.MinCost))

	u, err := store.AddUser("Alice@Example.com", "s3cret", "Alice", "Liddell")
	require.NoError(t, err)
	_, err = store.AddUser("alice@example.com", "other", "", "")
	assert.ErrorIs(t, err, domain.ErrConflict)

	got, err := store.Authenticate(ctx, "alice@example.com", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	_, err = store.Authenticate(ctx, "alice@example.com", "wrong")
	assert.ErrorIs(t, err, domain.ErrInvalidCredentials)
	_, err = store.Authenticate(ctx, "nobody@example.com", "s3cret")
	assert.ErrorIs(t, err, domain.ErrInvalidCredentials)

	assert.NoError(t, store.VerifyPassword(ctx, u.ID, "s3cret"))
	assert.ErrorIs(t, store.VerifyPassword(ctx, u.ID, "nope"), domain.ErrInvalidCredentials)
	assert.ErrorIs(t, store.VerifyPassword(ctx, "missing", "s3cret"), domain.ErrInvalidCredentials)

	at := time.Now().UTC()
	require.NoError(t, store.MarkLastLogin(ctx, u.ID, at))
	got, err = store.GetUser(ctx, u.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastLoginAt)
	assert.Equal(t, at, *got.LastLoginAt)
	assert.Equal(t, "Alice Liddell", got.Profile().Name)

	_, err = store.GetUser(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestClientRepositoryReturnsCopies(t *testing.T) {
	ctx := context.Background()
	r := NewClientRepository()
	c := &domain.Client{ID: "c1", RedirectURIs: []string{"https://a.example/cb"}, Status: domain.ClientStatusActive}
	require.NoError(t, r.CreateClient(ctx, c))

	got, err := r.GetClient(ctx, "c1")
	require.NoError(t, err)
	got.RedirectURIs[0] = "https://evil.example/cb"

	again, err := r.GetClient(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "https://a.example/cb", again.RedirectURIs[0])
}
