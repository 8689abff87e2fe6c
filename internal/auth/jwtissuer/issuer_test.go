package jwtissuer

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/pilab-dev/shadow-authz/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testKey = []byte(strings.Repeat("k", 32))

func TestNewRejectsShortKey(t *testing.T) {
	_, err := New("https://auth.example", []byte("short"))
	assert.Error(t, err)
}

func TestSessionRoundTrip(t *testing.T) {
	iss, err := New("https://auth.example", testKey)
	require.NoError(t, err)

	tok, err := iss.IssueSession("user-1", time.Hour)
	require.NoError(t, err)

	sub, err := iss.VerifySession(context.Background(), tok)
	require.NoError(t, err)
	assert.Equal(t, "user-1", sub)
}

func TestVerifySessionRejects(t *testing.T) {
	iss, err := New("https://auth.example", testKey)
	require.NoError(t, err)
	ctx := context.Background()

	t.Run("access token is not a session", func(t *testing.T) {
		now := time.Now()
		tok, err := iss.IssueAccessToken(ctx, domain.AccessTokenRequest{
			TokenID: "t1", UserID: "user-1", ClientID: "c1", Scope: "openid",
			IssuedAt: now, ExpiresAt: now.Add(time.Hour),
		})
		require.NoError(t, err)

		_, err = iss.VerifySession(ctx, tok)
		assert.ErrorIs(t, err, domain.ErrInvalidSession)
	})

	t.Run("expired", func(t *testing.T) {
		tok, err := iss.IssueSession("user-1", -time.Minute)
		require.NoError(t, err)

		_, err = iss.VerifySession(ctx, tok)
		assert.ErrorIs(t, err, domain.ErrInvalidSession)
	})

	t.Run("other issuer", func(t *testing.T) {
		other, err := New("https://evil.example", testKey)
		require.NoError(t, err)
		tok, err := other.IssueSession("user-1", time.Hour)
		require.NoError(t, err)

		_, err = iss.VerifySession(ctx, tok)
		assert.ErrorIs(t, err, domain.ErrInvalidSession)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := iss.VerifySession(ctx, "not-a-jwt")
		assert.ErrorIs(t, err, domain.ErrInvalidSession)
	})
}

func TestAccessTokensAreDistinct(t *testing.T) {
	iss, err := New("https://auth.example", testKey)
	require.NoError(t, err)
	now := time.Now()

	a, err := iss.IssueAccessToken(context.Background(), domain.AccessTokenRequest{TokenID: "a", UserID: "u", ClientID: "c", IssuedAt: now, ExpiresAt: now.Add(time.Hour)})
	require.NoError(t, err)
	b, err := iss.IssueAccessToken(context.Background(), domain.AccessTokenRequest{TokenID: "b", UserID: "u", ClientID: "c", IssuedAt: now, ExpiresAt: now.Add(time.Hour)})
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}
