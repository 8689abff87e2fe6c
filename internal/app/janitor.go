package app

import (
	"context"
	"time"

	"github.com/pilab-dev/shadow-authz/services"
	"github.com/rs/zerolog/log"
)

// Retention past expiry before records are purged. Validity never depends
// on purging.
const (
	CodeRetention  = 24 * time.Hour
	TokenRetention = 7 * 24 * time.Hour
)

// Janitor periodically deletes long-expired codes and tokens.
type Janitor struct {
	codes    *services.AuthCodeService
	tokens   *services.TokenService
	interval time.Duration
	now      func() time.Time
}

func NewJanitor(codes *services.AuthCodeService, tokens *services.TokenService, interval time.Duration) *Janitor {
	return &Janitor{codes: codes, tokens: tokens, interval: interval, now: time.Now}
}

// Run sweeps every interval until ctx is cancelled.
func (j *Janitor) Run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.Sweep(ctx)
		}
	}
}

// Sweep runs one purge pass.
func (j *Janitor) Sweep(ctx context.Context) {
	now := j.now().UTC()

	codes, err := j.codes.PurgeExpired(ctx, now.Add(-CodeRetention))
	if err != nil {
		log.Error().Err(err).Msg("Janitor failed to purge authorization codes")
	}
	tokens, err := j.tokens.PurgeExpired(ctx, now.Add(-TokenRetention))
	if err != nil {
		log.Error().Err(err).Msg("Janitor failed to purge tokens")
	}

	if codes > 0 || tokens > 0 {
		log.Info().Int64("codes", codes).Int64("tokens", tokens).Msg("Janitor purged expired records")
	}
}
