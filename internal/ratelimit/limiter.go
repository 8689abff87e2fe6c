// Package ratelimit provides fixed-window request counters keyed by caller identity.
package ratelimit

import (
	"context"
	"time"
)

// Policy allows Limit hits per Window, counted from the first hit in the window.
type Policy struct {
	Limit  int
	Window time.Duration
}

// Limiter decides whether another attempt under key is allowed.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// Unlimited is a Limiter that always allows. Used when a policy is disabled.
type Unlimited struct{}

func (Unlimited) Allow(context.Context, string) (bool, error) { return true, nil }

// New returns Unlimited for a non-positive policy and build(p) otherwise.
func New(p Policy, build func(Policy) Limiter) Limiter {
	if p.Limit <= 0 || p.Window <= 0 {
		return Unlimited{}
	}
	return build(p)
}
