package services

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	serrors "github.com/pilab-dev/shadow-authz/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthCodeService_IssueAndConsume(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	code, err := env.codes.Issue(ctx, "client-1", "user-1", "https://app.example/cb", "openid")
	require.NoError(t, err)
	assert.Len(t, code, 43)

	t.Run("wrong client leaves the code redeemable", func(t *testing.T) {
		_, err := env.codes.Consume(ctx, code, "client-2", "https://app.example/cb")
		assert.True(t, serrors.HasCode(err, serrors.InvalidGrant))
	})

	t.Run("wrong redirect", func(t *testing.T) {
		_, err := env.codes.Consume(ctx, code, "client-1", "https://evil.example/cb")
		assert.True(t, serrors.HasCode(err, serrors.InvalidGrant))
	})

	t.Run("redeem", func(t *testing.T) {
		rec, err := env.codes.Consume(ctx, code, "client-1", "https://app.example/cb")
		require.NoError(t, err)
		assert.Equal(t, "user-1", rec.UserID)
		assert.Equal(t, "openid", rec.Scope)
	})

	t.Run("second redeem fails", func(t *testing.T) {
		_, err := env.codes.Consume(ctx, code, "client-1", "https://app.example/cb")
		assert.True(t, serrors.HasCode(err, serrors.InvalidGrant))
	})

	_, err = env.codes.Consume(ctx, "", "client-1", "")
	assert.True(t, serrors.HasCode(err, serrors.InvalidGrant))
}

func TestAuthCodeService_Expiry(t *testing.T) {
	tests := []struct {
		name    string
		elapsed time.Duration
		valid   bool
	}{
		{"just before expiry", 4*time.Minute + 59*time.Second, true},
		{"just after expiry", 5*time.Minute + 1*time.Second, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			ctx := context.Background()

			code, err := env.codes.Issue(ctx, "client-1", "user-1", "https://app.example/cb", "")
			require.NoError(t, err)

			env.clock.Advance(tt.elapsed)
			_, err = env.codes.Consume(ctx, code, "client-1", "https://app.example/cb")
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.True(t, serrors.HasCode(err, serrors.InvalidGrant))
			}
		})
	}
}

func TestAuthCodeService_ConcurrentConsume(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	code, err := env.codes.Issue(ctx, "client-1", "user-1", "https://app.example/cb", "")
	require.NoError(t, err)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := env.codes.Consume(ctx, code, "client-1", "https://app.example/cb"); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
}

func TestAuthCodeService_PurgeExpired(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.codes.Issue(ctx, "client-1", "user-1", "https://app.example/cb", "")
	require.NoError(t, err)

	n, err := env.codes.PurgeExpired(ctx, env.clock.Now())
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = env.codes.PurgeExpired(ctx, env.clock.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
