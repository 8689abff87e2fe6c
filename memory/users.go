package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pilab-dev/shadow-authz/domain"
	"github.com/pilab-dev/shadow-authz/internal/auth"
)

// UserStore is an in-memory user directory.
type UserStore struct {
	mu      sync.RWMutex
	hasher  auth.PasswordHasher
	byID    map[string]domain.User
	byEmail map[string]string
	decoy   *auth.Decoy
}

// NewUserStore creates an empty UserStore.
func NewUserStore(hasher auth.PasswordHasher) *UserStore {
	return &UserStore{
		hasher:  hasher,
		byID:    make(map[string]domain.User),
		byEmail: make(map[string]string),
		decoy:   auth.NewDecoy(hasher),
	}
}

// AddUser creates an active user with the given password.
func (s *UserStore) AddUser(email, password, firstName, lastName string) (*domain.User, error) {
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.ToLower(strings.TrimSpace(email))
	if _, exists := s.byEmail[key]; exists {
		return nil, domain.ErrConflict
	}

	now := time.Now().UTC()
	u := domain.User{
		ID:           uuid.NewString(),
		Email:        key,
		PasswordHash: hash,
		Status:       domain.UserStatusActive,
		FirstName:    firstName,
		LastName:     lastName,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.byID[u.ID] = u
	s.byEmail[key] = u.ID
	return &u, nil
}

func (s *UserStore) Authenticate(_ context.Context, email, password string) (*domain.User, error) {
	s.mu.RLock()
	id, ok := s.byEmail[strings.ToLower(strings.TrimSpace(email))]
	u := s.byID[id]
	s.mu.RUnlock()

	if !ok {
		s.decoy.Verify(password)
		return nil, domain.ErrInvalidCredentials
	}
	if err := s.hasher.Verify(u.PasswordHash, password); err != nil || u.Status != domain.UserStatusActive {
		return nil, domain.ErrInvalidCredentials
	}
	return &u, nil
}

func (s *UserStore) GetUser(_ context.Context, userID string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.byID[userID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &u, nil
}

func (s *UserStore) VerifyPassword(_ context.Context, userID, password string) error {
	s.mu.RLock()
	u, ok := s.byID[userID]
	s.mu.RUnlock()
	if !ok {
		return domain.ErrInvalidCredentials
	}
	if err := s.hasher.Verify(u.PasswordHash, password); err != nil {
		return domain.ErrInvalidCredentials
	}
	return nil
}

func (s *UserStore) MarkLastLogin(_ context.Context, userID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[userID]
	if !ok {
		return domain.ErrNotFound
	}
	u.LastLoginAt = &at
	s.byID[userID] = u
	return nil
}

var _ domain.UserStore = (*UserStore)(nil)

// CreateUser is AddUser for callers that work against any backend.
func (s *UserStore) CreateUser(_ context.Context, email, password, firstName, lastName string) (*domain.User, error) {
	return s.AddUser(email, password, firstName, lastName)
}
