package auth

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// ErrSecretMismatch is returned by Verify when the secret does not match the hash.
var ErrSecretMismatch = bcrypt.ErrMismatchedHashAndPassword

// PasswordHasher hashes user passwords and client secrets.
type PasswordHasher interface {
	Hash(secret string) (string, error)
	Verify(hash, secret string) error
}

// BcryptPasswordHasher is the bcrypt PasswordHasher.
type BcryptPasswordHasher struct {
	cost int
}

// NewBcryptPasswordHasher clamps cost into bcrypt's accepted range;
// a non-positive cost selects bcrypt.DefaultCost.
func NewBcryptPasswordHasher(cost int) *BcryptPasswordHasher {
	switch {
	case cost <= 0:
		cost = bcrypt.DefaultCost
	case cost < bcrypt.MinCost:
		cost = bcrypt.MinCost
	case cost > bcrypt.MaxCost:
		cost = bcrypt.MaxCost
	}
	return &BcryptPasswordHasher{cost: cost}
}

// Cost returns the work factor new hashes are produced with.
func (h *BcryptPasswordHasher) Cost() int { return h.cost }

func (h *BcryptPasswordHasher) Hash(secret string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(secret), h.cost)
	if err != nil {
		return "", fmt.Errorf("hash secret: %w", err)
	}
	return string(b), nil
}

// Verify compares in constant time. A malformed hash counts as a mismatch.
func (h *BcryptPasswordHasher) Verify(hash, secret string) error {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret))
	if err != nil && !errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return fmt.Errorf("%w: %v", ErrSecretMismatch, err)
	}
	return err
}

// NeedsRehash reports whether hash was produced at a different cost than h uses.
func (h *BcryptPasswordHasher) NeedsRehash(hash string) bool {
	c, err := bcrypt.Cost([]byte(hash))
	return err != nil || c != h.cost
}

var _ PasswordHasher = (*BcryptPasswordHasher)(nil)

// Decoy burns one hash comparison so lookups of unknown accounts take as
// long as a wrong password for a real one.
type Decoy struct {
	hasher PasswordHasher
	hash   string
}

func NewDecoy(hasher PasswordHasher) *Decoy {
	hash, _ := hasher.Hash("decoy-secret-never-matches")
	return &Decoy{hasher: hasher, hash: hash}
}

func (d *Decoy) Verify(secret string) {
	_ = d.hasher.Verify(d.hash, secret)
}
