package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pilab-dev/shadow-authz/domain"
	serrors "github.com/pilab-dev/shadow-authz/errors"
	"github.com/pilab-dev/shadow-authz/internal/auth"
	"github.com/pilab-dev/shadow-authz/internal/metrics"
	"github.com/rs/zerolog/log"
)

// DefaultAuthCodeTTL is how long an authorization code stays redeemable.
const DefaultAuthCodeTTL = 5 * time.Minute

// AuthCodeService issues and redeems single-use authorization codes.
type AuthCodeService struct {
	repo domain.AuthCodeRepository
	ttl  time.Duration
	now  func() time.Time
}

// NewAuthCodeService creates an AuthCodeService. A non-positive ttl selects DefaultAuthCodeTTL.
func NewAuthCodeService(repo domain.AuthCodeRepository, ttl time.Duration) *AuthCodeService {
	if ttl <= 0 {
		ttl = DefaultAuthCodeTTL
	}
	return &AuthCodeService{repo: repo, ttl: ttl, now: time.Now}
}

// Issue creates a code bound to the client, user, redirect URI and scope.
func (s *AuthCodeService) Issue(ctx context.Context, clientID, userID, redirectURI, scope string) (string, error) {
	code, err := auth.RandomToken(auth.OpaqueTokenBytes)
	if err != nil {
		return "", err
	}

	now := s.now().UTC()
	record := &domain.AuthCode{
		CodeHash:    auth.HashToken(code),
		ClientID:    clientID,
		UserID:      userID,
		RedirectURI: redirectURI,
		Scope:       scope,
		ExpiresAt:   now.Add(s.ttl),
		CreatedAt:   now,
	}
	if err := s.repo.SaveAuthCode(ctx, record); err != nil {
		return "", fmt.Errorf("save authorization code: %w", err)
	}

	metrics.CodesIssuedTotal.Inc()
	log.Debug().Str("code", auth.HashPrefix(record.CodeHash)).Str("client_id", clientID).Msg("authorization code issued")

	return code, nil
}

// Consume redeems a code exactly once. Every failed check yields the same
// invalid_grant error and leaves the code redeemable by its rightful client.
// redirectURI is only compared when non-empty.
func (s *AuthCodeService) Consume(ctx context.Context, code, clientID, redirectURI string) (*domain.AuthCode, error) {
	if code == "" || clientID == "" {
		metrics.CodesRedeemedTotal.WithLabelValues(metrics.ResultFailure).Inc()
		return nil, serrors.NewInvalidGrant()
	}

	record, err := s.repo.ConsumeAuthCode(ctx, domain.ConsumeCodeParams{
		CodeHash:    auth.HashToken(code),
		ClientID:    clientID,
		RedirectURI: redirectURI,
		Now:         s.now().UTC(),
	})
	if errors.Is(err, domain.ErrNotFound) {
		metrics.CodesRedeemedTotal.WithLabelValues(metrics.ResultFailure).Inc()
		return nil, serrors.NewInvalidGrant()
	}
	if err != nil {
		return nil, fmt.Errorf("consume authorization code: %w", err)
	}

	metrics.CodesRedeemedTotal.WithLabelValues(metrics.ResultSuccess).Inc()
	return record, nil
}

// Release returns a consumed code to the redeemable state after token
// issuance for it failed.
func (s *AuthCodeService) Release(ctx context.Context, code string) error {
	err := s.repo.ReleaseAuthCode(ctx, auth.HashToken(code))
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("release authorization code: %w", err)
	}
	return nil
}

// PurgeExpired deletes codes that expired before the cutoff.
func (s *AuthCodeService) PurgeExpired(ctx context.Context, before time.Time) (int64, error) {
	return s.repo.DeleteExpiredAuthCodes(ctx, before)
}
