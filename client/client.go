package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pilab-dev/shadow-authz/domain"
	"github.com/pilab-dev/shadow-authz/internal/audit"
	"github.com/pilab-dev/shadow-authz/internal/auth"
	"github.com/pilab-dev/shadow-authz/internal/metrics"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidClientMetadata is wrapped by Register validation failures.
var ErrInvalidClientMetadata = errors.New("invalid client metadata")

// RegisterRequest describes a new application.
type RegisterRequest struct {
	Name         string
	RedirectURIs []string
	HomepageURL  string
	Scopes       []string
}

// ClientService is the registry of OAuth applications.
type ClientService struct {
	repo    domain.ClientRepository
	hasher  auth.PasswordHasher
	revoker TokenRevoker
	now     func() time.Time
}

// NewClientService creates a new ClientService instance. revoker may be nil,
// in which case Disable cannot cascade.
func NewClientService(repo domain.ClientRepository, hasher auth.PasswordHasher, revoker TokenRevoker) *ClientService {
	return &ClientService{
		repo:    repo,
		hasher:  hasher,
		revoker: revoker,
		now:     time.Now,
	}
}

// Register stores a new client and returns it with the plaintext secret.
// The secret is not recoverable afterwards.
func (s *ClientService) Register(ctx context.Context, req RegisterRequest) (*domain.Client, string, error) {
	if err := validateRegistration(req); err != nil {
		return nil, "", err
	}

	secret, err := auth.RandomToken(auth.OpaqueTokenBytes)
	if err != nil {
		return nil, "", err
	}
	hash, err := s.hasher.Hash(secret)
	if err != nil {
		return nil, "", fmt.Errorf("hash client secret: %w", err)
	}

	now := s.now().UTC()
	client := &domain.Client{
		ID:           uuid.NewString(),
		SecretHash:   hash,
		Name:         strings.TrimSpace(req.Name),
		HomepageURL:  req.HomepageURL,
		RedirectURIs: slices.Clone(req.RedirectURIs),
		Scopes:       normalizeScopes(req.Scopes),
		Status:       domain.ClientStatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.repo.CreateClient(ctx, client); err != nil {
		return nil, "", fmt.Errorf("create client: %w", err)
	}

	metrics.ClientsRegisteredTotal.Inc()
	audit.Log(ctx, "clients", audit.ActionClientRegister, "", client.ID, client.Name, true, nil)
	log.Info().Str("client_id", client.ID).Str("name", client.Name).Msg("client registered")

	return client, secret, nil
}

// Lookup returns the client or domain.ErrNotFound.
func (s *ClientService) Lookup(ctx context.Context, clientID string) (*domain.Client, error) {
	if clientID == "" {
		return nil, domain.ErrNotFound
	}
	return s.repo.GetClient(ctx, clientID)
}

// LookupActive returns the client only if it exists and is active.
func (s *ClientService) LookupActive(ctx context.Context, clientID string) (*domain.Client, error) {
	c, err := s.Lookup(ctx, clientID)
	if err != nil {
		return nil, err
	}
	if !c.IsActive() {
		return nil, domain.ErrNotFound
	}
	return c, nil
}

// List returns every registered client.
func (s *ClientService) List(ctx context.Context) ([]*domain.Client, error) {
	return s.repo.ListClients(ctx)
}

// VerifySecret compares secret with the stored hash. Unknown clients yield false.
func (s *ClientService) VerifySecret(ctx context.Context, clientID, secret string) (bool, error) {
	c, err := s.Lookup(ctx, clientID)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return s.secretMatches(c, secret)
}

func (s *ClientService) secretMatches(c *domain.Client, secret string) (bool, error) {
	err := s.hasher.Verify(c.SecretHash, secret)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, fmt.Errorf("verify client secret: %w", err)
	}
}

// ValidateRedirectURI reports whether uri exactly matches one of the client's registered URIs.
func (s *ClientService) ValidateRedirectURI(c *domain.Client, uri string) bool {
	if uri == "" {
		return false
	}
	return slices.Contains(c.RedirectURIs, uri)
}

// ValidateScope checks a space-delimited scope request against the client's
// scopes. An empty request is granted the client's full scope list.
func (s *ClientService) ValidateScope(c *domain.Client, scope string) (string, bool) {
	requested := strings.Fields(scope)
	if len(requested) == 0 {
		return strings.Join(c.Scopes, " "), true
	}
	for _, sc := range requested {
		if !slices.Contains(c.Scopes, sc) {
			return "", false
		}
	}
	return strings.Join(requested, " "), true
}

// Disable blocks the client from every future flow. With cascade, tokens
// already issued to it are revoked as well.
func (s *ClientService) Disable(ctx context.Context, clientID string, cascade bool) error {
	if err := s.repo.SetClientStatus(ctx, clientID, domain.ClientStatusDisabled, s.now().UTC()); err != nil {
		return err
	}

	details := "cascade=false"
	if cascade {
		if s.revoker == nil {
			return errors.New("client disable: cascade requested without a token revoker")
		}
		n, err := s.revoker.RevokeClient(ctx, clientID)
		if err != nil {
			return fmt.Errorf("revoke client tokens: %w", err)
		}
		details = fmt.Sprintf("cascade=true revoked=%d", n)
	}

	audit.Log(ctx, "clients", audit.ActionClientDisable, "", clientID, details, true, nil)
	return nil
}

// Delete removes the client record.
func (s *ClientService) Delete(ctx context.Context, clientID string) error {
	if err := s.repo.DeleteClient(ctx, clientID); err != nil {
		return err
	}
	audit.Log(ctx, "clients", audit.ActionClientDelete, "", clientID, "", true, nil)
	return nil
}

func validateRegistration(req RegisterRequest) error {
	if strings.TrimSpace(req.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidClientMetadata)
	}
	if len(req.RedirectURIs) == 0 {
		return fmt.Errorf("%w: at least one redirect URI is required", ErrInvalidClientMetadata)
	}
	for _, raw := range req.RedirectURIs {
		if err := validateRedirectURI(raw); err != nil {
			return fmt.Errorf("%w: redirect URI %q: %v", ErrInvalidClientMetadata, raw, err)
		}
	}
	if req.HomepageURL != "" {
		if u, err := url.Parse(req.HomepageURL); err != nil || !u.IsAbs() {
			return fmt.Errorf("%w: homepage URL must be absolute", ErrInvalidClientMetadata)
		}
	}
	return nil
}

func validateRedirectURI(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if !u.IsAbs() || u.Host == "" {
		return errors.New("must be absolute")
	}
	if u.Fragment != "" || strings.Contains(raw, "#") {
		return errors.New("must not contain a fragment")
	}
	switch u.Scheme {
	case "https":
		return nil
	case "http":
		if isLoopback(u.Hostname()) {
			return nil
		}
		return errors.New("http is only allowed for loopback hosts")
	default:
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func normalizeScopes(scopes []string) []string {
	out := make([]string, 0, len(scopes))
	for _, s := range scopes {
		for _, f := range strings.Fields(s) {
			if !slices.Contains(out, f) {
				out = append(out, f)
			}
		}
	}
	return out
}
