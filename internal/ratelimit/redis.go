package ratelimit

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// incrWindowScript increments the counter and starts the window on the first hit.
// Returns the hit count after incrementing.
var incrWindowScript = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if n == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return n
`)

// RedisLimiter shares counters across server instances.
type RedisLimiter struct {
	client redis.UniversalClient
	prefix string
	policy Policy
}

// NewRedisLimiter creates a RedisLimiter whose keys are namespaced under prefix.
func NewRedisLimiter(client redis.UniversalClient, prefix string, p Policy) *RedisLimiter {
	return &RedisLimiter{client: client, prefix: prefix, policy: p}
}

// Allow implements Limiter.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	n, err := incrWindowScript.Run(ctx, l.client, []string{l.prefix + key}, l.policy.Window.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("rate limit counter: %w", err)
	}
	return n <= l.policy.Limit, nil
}
