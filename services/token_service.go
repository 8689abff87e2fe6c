package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pilab-dev/shadow-authz/domain"
	serrors "github.com/pilab-dev/shadow-authz/errors"
	"github.com/pilab-dev/shadow-authz/internal/audit"
	"github.com/pilab-dev/shadow-authz/internal/auth"
	"github.com/pilab-dev/shadow-authz/internal/metrics"
	"github.com/rs/zerolog/log"
)

// Default token lifetimes.
const (
	DefaultAccessTokenTTL  = time.Hour
	DefaultRefreshTokenTTL = 30 * 24 * time.Hour
)

// TokenPair is a freshly minted access and refresh token.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	Scope        string
	ExpiresIn    int64
	UserID       string
	ClientID     string
}

// TokenService issues, rotates, validates and revokes tokens.
type TokenService struct {
	repo       domain.TokenRepository
	issuer     domain.PrimaryTokenIssuer
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// NewTokenService creates a TokenService. Non-positive TTLs select the defaults.
func NewTokenService(repo domain.TokenRepository, issuer domain.PrimaryTokenIssuer, accessTTL, refreshTTL time.Duration) *TokenService {
	if accessTTL <= 0 {
		accessTTL = DefaultAccessTokenTTL
	}
	if refreshTTL <= 0 {
		refreshTTL = DefaultRefreshTokenTTL
	}
	return &TokenService{
		repo:       repo,
		issuer:     issuer,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}
}

// AccessTokenTTL is the lifetime reported as expires_in.
func (s *TokenService) AccessTokenTTL() time.Duration {
	return s.accessTTL
}

// IssueAccessToken mints an access token record and its bearer value without storing it.
func (s *TokenService) IssueAccessToken(ctx context.Context, clientID, userID, scope string, epoch int64, now time.Time) (*domain.Token, string, error) {
	id := uuid.NewString()
	value, err := s.issuer.IssueAccessToken(ctx, domain.AccessTokenRequest{
		TokenID:   id,
		UserID:    userID,
		ClientID:  clientID,
		Scope:     scope,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.accessTTL),
	})
	if err != nil {
		return nil, "", fmt.Errorf("issue access token: %w", err)
	}

	return &domain.Token{
		ID:        id,
		Kind:      domain.TokenKindAccess,
		TokenHash: auth.HashToken(value),
		ClientID:  clientID,
		UserID:    userID,
		Scope:     scope,
		Epoch:     epoch,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.accessTTL),
	}, value, nil
}

// IssueRefreshToken mints a random refresh token record and value without storing it.
func (s *TokenService) IssueRefreshToken(clientID, userID, scope string, epoch int64, now time.Time) (*domain.Token, string, error) {
	value, err := auth.RandomToken(auth.OpaqueTokenBytes)
	if err != nil {
		return nil, "", err
	}

	return &domain.Token{
		ID:        uuid.NewString(),
		Kind:      domain.TokenKindRefresh,
		TokenHash: auth.HashToken(value),
		ClientID:  clientID,
		UserID:    userID,
		Scope:     scope,
		Epoch:     epoch,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.refreshTTL),
	}, value, nil
}

func (s *TokenService) mintPair(ctx context.Context, clientID, userID, scope string, epoch int64, now time.Time) (*domain.Token, *domain.Token, *TokenPair, error) {
	access, accessValue, err := s.IssueAccessToken(ctx, clientID, userID, scope, epoch, now)
	if err != nil {
		return nil, nil, nil, err
	}
	refresh, refreshValue, err := s.IssueRefreshToken(clientID, userID, scope, epoch, now)
	if err != nil {
		return nil, nil, nil, err
	}

	return access, refresh, &TokenPair{
		AccessToken:  accessValue,
		RefreshToken: refreshValue,
		Scope:        scope,
		ExpiresIn:    int64(s.accessTTL / time.Second),
		UserID:       userID,
		ClientID:     clientID,
	}, nil
}

// IssuePair mints and stores an access and refresh token at the current epoch.
func (s *TokenService) IssuePair(ctx context.Context, clientID, userID, scope string) (*TokenPair, error) {
	epoch, err := s.repo.CurrentEpoch(ctx)
	if err != nil {
		return nil, fmt.Errorf("read token epoch: %w", err)
	}

	access, refresh, pair, err := s.mintPair(ctx, clientID, userID, scope, epoch, s.now().UTC())
	if err != nil {
		return nil, err
	}
	if err := s.repo.StoreTokens(ctx, access, refresh); err != nil {
		return nil, fmt.Errorf("store tokens: %w", err)
	}

	metrics.TokensIssuedTotal.WithLabelValues("authorization_code").Inc()
	return pair, nil
}

// RedeemRefresh rotates a refresh token. The presented token is revoked and
// a new pair for the same user, client and scope is returned. The access
// token issued alongside the old refresh token is left untouched.
func (s *TokenService) RedeemRefresh(ctx context.Context, refreshToken, clientID string) (*TokenPair, error) {
	if refreshToken == "" {
		return nil, serrors.NewInvalidGrant()
	}

	now := s.now().UTC()
	hash := auth.HashToken(refreshToken)

	epoch, err := s.repo.CurrentEpoch(ctx)
	if err != nil {
		return nil, fmt.Errorf("read token epoch: %w", err)
	}

	old, err := s.repo.GetToken(ctx, hash)
	if errors.Is(err, domain.ErrNotFound) {
		metrics.RefreshRotationsTotal.WithLabelValues(metrics.ResultFailure).Inc()
		return nil, serrors.NewInvalidGrant()
	}
	if err != nil {
		return nil, fmt.Errorf("lookup refresh token: %w", err)
	}
	if old.Kind != domain.TokenKindRefresh || !old.ActiveAt(now, epoch) || (clientID != "" && old.ClientID != clientID) {
		metrics.RefreshRotationsTotal.WithLabelValues(metrics.ResultFailure).Inc()
		return nil, serrors.NewInvalidGrant()
	}

	access, refresh, pair, err := s.mintPair(ctx, old.ClientID, old.UserID, old.Scope, epoch, now)
	if err != nil {
		return nil, err
	}
	refresh.ParentID = old.ID

	err = s.repo.RotateRefreshToken(ctx, domain.RotateParams{
		OldHash:  hash,
		ClientID: clientID,
		Now:      now,
		MinEpoch: epoch,
		Access:   access,
		Refresh:  refresh,
	})
	if errors.Is(err, domain.ErrNotFound) {
		// Lost a race with a concurrent redemption of the same token.
		metrics.RefreshRotationsTotal.WithLabelValues(metrics.ResultFailure).Inc()
		return nil, serrors.NewInvalidGrant()
	}
	if err != nil {
		return nil, fmt.Errorf("rotate refresh token: %w", err)
	}

	metrics.RefreshRotationsTotal.WithLabelValues(metrics.ResultSuccess).Inc()
	metrics.TokensIssuedTotal.WithLabelValues("refresh_token").Inc()
	log.Debug().Str("token", auth.HashPrefix(hash)).Str("client_id", old.ClientID).Msg("refresh token rotated")

	return pair, nil
}

// RefreshClientID returns the client a redeemable refresh token was issued
// to. Anything else yields invalid_grant.
func (s *TokenService) RefreshClientID(ctx context.Context, refreshToken string) (string, error) {
	if refreshToken == "" {
		return "", serrors.NewInvalidGrant()
	}
	t, err := s.repo.GetToken(ctx, auth.HashToken(refreshToken))
	if errors.Is(err, domain.ErrNotFound) {
		return "", serrors.NewInvalidGrant()
	}
	if err != nil {
		return "", fmt.Errorf("lookup refresh token: %w", err)
	}
	epoch, err := s.repo.CurrentEpoch(ctx)
	if err != nil {
		return "", fmt.Errorf("read token epoch: %w", err)
	}
	if t.Kind != domain.TokenKindRefresh || !t.ActiveAt(s.now().UTC(), epoch) {
		return "", serrors.NewInvalidGrant()
	}
	return t.ClientID, nil
}

// Revoke marks an access or refresh token revoked. Unknown and already
// revoked tokens are not an error.
func (s *TokenService) Revoke(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	hash := auth.HashToken(token)
	if err := s.repo.RevokeToken(ctx, hash, s.now().UTC()); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}

	metrics.TokensRevokedTotal.Inc()
	audit.Log(ctx, "tokens", audit.ActionTokenRevoke, "", auth.HashPrefix(hash), "", true, nil)
	return nil
}

// RevokeClient revokes every token issued to clientID.
func (s *TokenService) RevokeClient(ctx context.Context, clientID string) (int64, error) {
	return s.repo.RevokeClientTokens(ctx, clientID, s.now().UTC())
}

// Lookup returns the active access token record for a bearer value.
// ErrNotFound covers unknown, revoked, expired and pre-epoch tokens alike.
func (s *TokenService) Lookup(ctx context.Context, accessToken string) (*domain.Token, error) {
	if accessToken == "" {
		return nil, domain.ErrNotFound
	}

	t, err := s.repo.GetToken(ctx, auth.HashToken(accessToken))
	if err != nil {
		return nil, err
	}
	epoch, err := s.repo.CurrentEpoch(ctx)
	if err != nil {
		return nil, fmt.Errorf("read token epoch: %w", err)
	}
	if t.Kind != domain.TokenKindAccess || !t.ActiveAt(s.now().UTC(), epoch) {
		return nil, domain.ErrNotFound
	}
	return t, nil
}

// IsValid reports whether accessToken is an unrevoked, unexpired access
// token issued at or after the current epoch.
func (s *TokenService) IsValid(ctx context.Context, accessToken string) (bool, error) {
	_, err := s.Lookup(ctx, accessToken)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// InvalidateAll advances the global epoch so every previously issued token stops validating.
func (s *TokenService) InvalidateAll(ctx context.Context, actor string) (int64, error) {
	epoch, err := s.repo.BumpEpoch(ctx)
	if err != nil {
		return 0, fmt.Errorf("bump token epoch: %w", err)
	}
	audit.Log(ctx, "tokens", audit.ActionEpochBump, actor, "", fmt.Sprintf("epoch=%d", epoch), true, nil)
	log.Info().Int64("epoch", epoch).Msg("token epoch advanced")
	return epoch, nil
}

// PurgeExpired deletes tokens that expired before the cutoff.
func (s *TokenService) PurgeExpired(ctx context.Context, before time.Time) (int64, error) {
	return s.repo.DeleteExpiredTokens(ctx, before)
}
