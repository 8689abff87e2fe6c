package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLimiter(t *testing.T) {
	l := NewMemoryLimiter(Policy{Limit: 3, Window: time.Minute})
	defer l.Stop()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := l.Allow(ctx, "backup:u1")
		require.NoError(t, err)
		assert.True(t, ok, "hit %d", i+1)
	}

	ok, err := l.Allow(ctx, "backup:u1")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = l.Allow(ctx, "backup:u2")
	require.NoError(t, err)
	assert.True(t, ok, "keys are independent")
}

func TestMemoryLimiterWindowExpires(t *testing.T) {
	l := NewMemoryLimiter(Policy{Limit: 1, Window: 50 * time.Millisecond})
	defer l.Stop()
	ctx := context.Background()

	ok, _ := l.Allow(ctx, "k")
	assert.True(t, ok)
	ok, _ = l.Allow(ctx, "k")
	assert.False(t, ok)

	time.Sleep(80 * time.Millisecond)

	ok, _ = l.Allow(ctx, "k")
	assert.True(t, ok)
}

func TestRedisLimiter(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	l := NewRedisLimiter(client, "authz:rl:", Policy{Limit: 2, Window: time.Minute})
	ctx := context.Background()

	ok, err := l.Allow(ctx, "login:a@example.com")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = l.Allow(ctx, "login:a@example.com")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = l.Allow(ctx, "login:a@example.com")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.True(t, mr.Exists("authz:rl:login:a@example.com"))
	assert.Greater(t, mr.TTL("authz:rl:login:a@example.com"), time.Duration(0))

	mr.FastForward(time.Minute + time.Second)

	ok, err = l.Allow(ctx, "login:a@example.com")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisLimiterError(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	mr.Close()

	_, err := NewRedisLimiter(client, "p:", Policy{Limit: 1, Window: time.Minute}).Allow(context.Background(), "k")
	assert.Error(t, err)
}

func TestNewUnlimited(t *testing.T) {
	l := New(Policy{}, func(p Policy) Limiter { t.Fatal("should not build"); return nil })
	ok, err := l.Allow(context.Background(), "x")
	require.NoError(t, err)
	assert.True(t, ok)
}
