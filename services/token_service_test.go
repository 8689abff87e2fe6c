package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pilab-dev/shadow-authz/domain"
	"github.com/pilab-dev/shadow-authz/domain/mocks"
	serrors "github.com/pilab-dev/shadow-authz/errors"
	"github.com/pilab-dev/shadow-authz/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestTokenService_IssuePairAndValidate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	pair, err := env.tokens.IssuePair(ctx, "client-1", "user-1", "openid profile")
	require.NoError(t, err)
	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEmpty(t, pair.RefreshToken)
	assert.Equal(t, int64(3600), pair.ExpiresIn)

	ok, err := env.tokens.IsValid(ctx, pair.AccessToken)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = env.tokens.IsValid(ctx, pair.RefreshToken)
	require.NoError(t, err)
	assert.False(t, ok, "a refresh token is not an access token")

	ok, err = env.tokens.IsValid(ctx, "garbage")
	require.NoError(t, err)
	assert.False(t, ok)

	env.clock.Advance(time.Hour)
	ok, err = env.tokens.IsValid(ctx, pair.AccessToken)
	require.NoError(t, err)
	assert.False(t, ok, "expired")
}

func TestTokenService_RedeemRefresh(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first, err := env.tokens.IssuePair(ctx, "client-1", "user-1", "openid")
	require.NoError(t, err)

	second, err := env.tokens.RedeemRefresh(ctx, first.RefreshToken, "client-1")
	require.NoError(t, err)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)
	assert.NotEqual(t, first.AccessToken, second.AccessToken)
	assert.Equal(t, "openid", second.Scope)
	assert.Equal(t, "user-1", second.UserID)

	_, err = env.tokens.RedeemRefresh(ctx, first.RefreshToken, "client-1")
	assert.True(t, serrors.HasCode(err, serrors.InvalidGrant), "old refresh token is spent")

	for _, access := range []string{first.AccessToken, second.AccessToken} {
		ok, err := env.tokens.IsValid(ctx, access)
		require.NoError(t, err)
		assert.True(t, ok, "rotation leaves access tokens alone")
	}

	_, err = env.tokens.RedeemRefresh(ctx, second.RefreshToken, "client-2")
	assert.True(t, serrors.HasCode(err, serrors.InvalidGrant), "bound to the issuing client")

	_, err = env.tokens.RedeemRefresh(ctx, "", "client-1")
	assert.True(t, serrors.HasCode(err, serrors.InvalidGrant))

	env.clock.Advance(DefaultRefreshTokenTTL)
	_, err = env.tokens.RedeemRefresh(ctx, second.RefreshToken, "client-1")
	assert.True(t, serrors.HasCode(err, serrors.InvalidGrant), "expired")
}

func TestTokenService_ConcurrentRedeem(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	pair, err := env.tokens.IssuePair(ctx, "client-1", "user-1", "")
	require.NoError(t, err)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := env.tokens.RedeemRefresh(ctx, pair.RefreshToken, "client-1"); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
}

func TestTokenService_RevokeIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	pair, err := env.tokens.IssuePair(ctx, "client-1", "user-1", "")
	require.NoError(t, err)

	require.NoError(t, env.tokens.Revoke(ctx, pair.AccessToken))
	require.NoError(t, env.tokens.Revoke(ctx, pair.AccessToken))
	require.NoError(t, env.tokens.Revoke(ctx, "never-issued"))

	ok, err := env.tokens.IsValid(ctx, pair.AccessToken)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, env.tokens.Revoke(ctx, pair.RefreshToken))
	_, err = env.tokens.RedeemRefresh(ctx, pair.RefreshToken, "client-1")
	assert.True(t, serrors.HasCode(err, serrors.InvalidGrant))
}

func TestTokenService_InvalidateAll(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	before, err := env.tokens.IssuePair(ctx, "client-1", "user-1", "")
	require.NoError(t, err)

	epoch, err := env.tokens.InvalidateAll(ctx, "admin")
	require.NoError(t, err)
	assert.Equal(t, int64(1), epoch)

	ok, err := env.tokens.IsValid(ctx, before.AccessToken)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = env.tokens.RedeemRefresh(ctx, before.RefreshToken, "client-1")
	assert.True(t, serrors.HasCode(err, serrors.InvalidGrant))

	after, err := env.tokens.IssuePair(ctx, "client-1", "user-1", "")
	require.NoError(t, err)
	ok, err = env.tokens.IsValid(ctx, after.AccessToken)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestTokenService_RevokeClient(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	a, err := env.tokens.IssuePair(ctx, "client-1", "user-1", "")
	require.NoError(t, err)
	b, err := env.tokens.IssuePair(ctx, "client-2", "user-1", "")
	require.NoError(t, err)

	n, err := env.tokens.RevokeClient(ctx, "client-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	ok, _ := env.tokens.IsValid(ctx, a.AccessToken)
	assert.False(t, ok)
	ok, _ = env.tokens.IsValid(ctx, b.AccessToken)
	assert.True(t, ok)
}

func TestTokenService_IssuerFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	issuer := mocks.NewMockPrimaryTokenIssuer(ctrl)
	issuer.EXPECT().
		IssueAccessToken(gomock.Any(), gomock.AssignableToTypeOf(domain.AccessTokenRequest{})).
		Return("", errors.New("signer unavailable"))

	repo := memory.NewTokenRepository()
	svc := NewTokenService(repo, issuer, 0, 0)

	_, err := svc.IssuePair(context.Background(), "client-1", "user-1", "")
	require.Error(t, err)
	_, ok := serrors.AsOAuth2Error(err)
	assert.False(t, ok, "infrastructure errors are not taxonomy errors")
}

func TestTokenService_PurgeExpired(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.tokens.IssuePair(ctx, "client-1", "user-1", "")
	require.NoError(t, err)

	n, err := env.tokens.PurgeExpired(ctx, env.clock.Now().Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "only the access token has expired")
}
