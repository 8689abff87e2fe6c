// Package jwtissuer is an HS256 implementation of the primary token issuer
// and session verifier.
package jwtissuer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pilab-dev/shadow-authz/domain"
)

const (
	useAccess  = "access"
	useSession = "session"
)

// Claims are the registered claims plus the token use and granted scope.
type Claims struct {
	jwt.RegisteredClaims
	TokenUse string `json:"token_use"`
	ClientID string `json:"client_id,omitempty"`
	Scope    string `json:"scope,omitempty"`
}

// Issuer signs access and session tokens with a shared HMAC key.
type Issuer struct {
	issuer string
	key    []byte
	now    func() time.Time
}

// New returns an Issuer. The key must be at least 32 bytes.
func New(issuer string, key []byte) (*Issuer, error) {
	if len(key) < 32 {
		return nil, errors.New("jwt signing key must be at least 32 bytes")
	}
	return &Issuer{issuer: issuer, key: key, now: time.Now}, nil
}

func (i *Issuer) sign(claims Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.key)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// IssueAccessToken mints the bearer value embedded in token responses.
func (i *Issuer) IssueAccessToken(_ context.Context, req domain.AccessTokenRequest) (string, error) {
	return i.sign(Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   req.UserID,
			Audience:  jwt.ClaimStrings{req.ClientID},
			ID:        req.TokenID,
			IssuedAt:  jwt.NewNumericDate(req.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(req.ExpiresAt),
		},
		TokenUse: useAccess,
		ClientID: req.ClientID,
		Scope:    req.Scope,
	})
}

// IssueSession mints a primary session token for userID.
func (i *Issuer) IssueSession(userID string, ttl time.Duration) (string, error) {
	now := i.now()
	return i.sign(Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		TokenUse: useSession,
	})
}

// VerifySession validates a session bearer and returns its subject.
func (i *Issuer) VerifySession(_ context.Context, bearer string) (string, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(bearer, claims, func(t *jwt.Token) (interface{}, error) {
		return i.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(i.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrInvalidSession, err)
	}
	if claims.TokenUse != useSession || claims.Subject == "" {
		return "", domain.ErrInvalidSession
	}
	return claims.Subject, nil
}

var (
	_ domain.PrimaryTokenIssuer = (*Issuer)(nil)
	_ domain.SessionVerifier    = (*Issuer)(nil)
)
