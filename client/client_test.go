package client

import (
	"context"
	"errors"
	"testing"

	"github.com/pilab-dev/shadow-authz/domain"
	"github.com/pilab-dev/shadow-authz/internal/auth"
	"github.com/pilab-dev/shadow-authz/memory"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type mockRevoker struct {
	mock.Mock
}

func (m *mockRevoker) RevokeClient(ctx context.Context, clientID string) (int64, error) {
	args := m.Called(ctx, clientID)
	return args.Get(0).(int64), args.Error(1)
}

func newService(t *testing.T, revoker TokenRevoker) *ClientService {
	t.Helper()
	log.Logger = zerolog.Nop()
	return NewClientService(memory.NewClientRepository(), auth.NewBcryptPasswordHasher(bcrypt.MinCost), revoker)
}

func TestRegister(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, nil)

	c, secret, err := svc.Register(ctx, RegisterRequest{
		Name:         "Billing App",
		RedirectURIs: []string{"https://app.example/cb"},
		HomepageURL:  "https://app.example",
		Scopes:       []string{"openid profile", "email", "openid"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, c.ID)
	assert.NotEmpty(t, secret)
	assert.NotEqual(t, secret, c.SecretHash)
	assert.Equal(t, []string{"openid", "profile", "email"}, c.Scopes)
	assert.True(t, c.IsActive())

	stored, err := svc.Lookup(ctx, c.ID)
	require.NoError(t, err)
	assert.NotContains(t, stored.SecretHash, secret)

	ok, err := svc.VerifySecret(ctx, c.ID, secret)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.VerifySecret(ctx, c.ID, secret+"x")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = svc.VerifySecret(ctx, "unknown", secret)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRegisterValidation(t *testing.T) {
	svc := newService(t, nil)

	tests := []struct {
		name string
		req  RegisterRequest
	}{
		{"missing name", RegisterRequest{RedirectURIs: []string{"https://a.example/cb"}}},
		{"no redirects", RegisterRequest{Name: "x"}},
		{"relative redirect", RegisterRequest{Name: "x", RedirectURIs: []string{"/cb"}}},
		{"fragment", RegisterRequest{Name: "x", RedirectURIs: []string{"https://a.example/cb#frag"}}},
		{"plain http", RegisterRequest{Name: "x", RedirectURIs: []string{"http://a.example/cb"}}},
		{"custom scheme", RegisterRequest{Name: "x", RedirectURIs: []string{"javascript://alert"}}},
		{"bad homepage", RegisterRequest{Name: "x", RedirectURIs: []string{"https://a.example/cb"}, HomepageURL: "nope"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := svc.Register(context.Background(), tt.req)
			assert.ErrorIs(t, err, ErrInvalidClientMetadata)
		})
	}

	_, _, err := svc.Register(context.Background(), RegisterRequest{Name: "local", RedirectURIs: []string{"http://127.0.0.1:8080/cb", "http://localhost/cb"}})
	assert.NoError(t, err)
}

func TestValidateRedirectURIAndScope(t *testing.T) {
	svc := newService(t, nil)
	c := &domain.Client{
		RedirectURIs: []string{"https://app.example/cb"},
		Scopes:       []string{"openid", "profile"},
	}

	assert.True(t, svc.ValidateRedirectURI(c, "https://app.example/cb"))
	assert.False(t, svc.ValidateRedirectURI(c, "https://app.example/cb/extra"))
	assert.False(t, svc.ValidateRedirectURI(c, "https://app.example/cb?x=1"))
	assert.False(t, svc.ValidateRedirectURI(c, ""))

	granted, ok := svc.ValidateScope(c, "")
	assert.True(t, ok)
	assert.Equal(t, "openid profile", granted)

	granted, ok = svc.ValidateScope(c, "profile")
	assert.True(t, ok)
	assert.Equal(t, "profile", granted)

	_, ok = svc.ValidateScope(c, "openid admin")
	assert.False(t, ok)
}

func TestDisableAndDelete(t *testing.T) {
	ctx := context.Background()

	t.Run("without cascade", func(t *testing.T) {
		svc := newService(t, nil)
		c, _, err := svc.Register(ctx, RegisterRequest{Name: "a", RedirectURIs: []string{"https://a.example/cb"}})
		require.NoError(t, err)

		require.NoError(t, svc.Disable(ctx, c.ID, false))
		_, err = svc.LookupActive(ctx, c.ID)
		assert.ErrorIs(t, err, domain.ErrNotFound)

		got, err := svc.Lookup(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.ClientStatusDisabled, got.Status)

		assert.Error(t, svc.Disable(ctx, c.ID, true), "cascade needs a revoker")
	})

	t.Run("with cascade", func(t *testing.T) {
		revoker := &mockRevoker{}
		svc := newService(t, revoker)
		c, _, err := svc.Register(ctx, RegisterRequest{Name: "a", RedirectURIs: []string{"https://a.example/cb"}})
		require.NoError(t, err)

		revoker.On("RevokeClient", mock.Anything, c.ID).Return(int64(3), nil).Once()
		require.NoError(t, svc.Disable(ctx, c.ID, true))
		revoker.AssertExpectations(t)
	})

	t.Run("cascade failure surfaces", func(t *testing.T) {
		revoker := &mockRevoker{}
		svc := newService(t, revoker)
		c, _, err := svc.Register(ctx, RegisterRequest{Name: "a", RedirectURIs: []string{"https://a.example/cb"}})
		require.NoError(t, err)

		revoker.On("RevokeClient", mock.Anything, c.ID).Return(int64(0), errors.New("db down"))
		assert.Error(t, svc.Disable(ctx, c.ID, true))
	})

	t.Run("delete", func(t *testing.T) {
		svc := newService(t, nil)
		c, _, err := svc.Register(ctx, RegisterRequest{Name: "a", RedirectURIs: []string{"https://a.example/cb"}})
		require.NoError(t, err)

		require.NoError(t, svc.Delete(ctx, c.ID))
		assert.ErrorIs(t, svc.Delete(ctx, c.ID), domain.ErrNotFound)
		assert.ErrorIs(t, svc.Disable(ctx, c.ID, false), domain.ErrNotFound)

		list, err := svc.List(ctx)
		require.NoError(t, err)
		assert.Empty(t, list)
	})
}
