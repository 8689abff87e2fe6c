package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pilab-dev/shadow-authz/domain"
	"github.com/pilab-dev/shadow-authz/internal/auth"
)

const userColumns = `id, email, password_hash, status, first_name, last_name, created_at, updated_at, last_login_at`

// UserStore is a domain.UserStore backed by the users table.
type UserStore struct {
	db     DB
	hasher auth.PasswordHasher
	decoy  *auth.Decoy
}

func NewUserStore(db DB, hasher auth.PasswordHasher) *UserStore {
	return &UserStore{db: db, hasher: hasher, decoy: auth.NewDecoy(hasher)}
}

func scanUser(row pgx.Row) (*domain.User, error) {
	var u domain.User
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Status, &u.FirstName, &u.LastName,
		&u.CreatedAt, &u.UpdatedAt, &u.LastLoginAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// CreateUser inserts an active user. ErrConflict when the email is taken.
func (s *UserStore) CreateUser(ctx context.Context, email, password, firstName, lastName string) (*domain.User, error) {
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	u := &domain.User{
		ID:           uuid.NewString(),
		Email:        strings.ToLower(strings.TrimSpace(email)),
		PasswordHash: hash,
		Status:       domain.UserStatusActive,
		FirstName:    firstName,
		LastName:     lastName,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	_, err = s.db.Exec(ctx,
		`INSERT INTO users (`+userColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULL)`,
		u.ID, u.Email, u.PasswordHash, u.Status, u.FirstName, u.LastName, u.CreatedAt, u.UpdatedAt)
	if isUniqueViolation(err) {
		return nil, domain.ErrConflict
	}
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return u, nil
}

func (s *UserStore) Authenticate(ctx context.Context, email, password string) (*domain.User, error) {
	u, err := scanUser(s.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`,
		strings.ToLower(strings.TrimSpace(email))))
	if errors.Is(err, pgx.ErrNoRows) {
		s.decoy.Verify(password)
		return nil, domain.ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}

	if u.Status != domain.UserStatusActive || s.hasher.Verify(u.PasswordHash, password) != nil {
		return nil, domain.ErrInvalidCredentials
	}
	return u, nil
}

func (s *UserStore) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	u, err := scanUser(s.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, userID))
	if err != nil {
		return nil, noRows(err)
	}
	return u, nil
}

func (s *UserStore) VerifyPassword(ctx context.Context, userID, password string) error {
	u, err := s.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if s.hasher.Verify(u.PasswordHash, password) != nil {
		return domain.ErrInvalidCredentials
	}
	return nil
}

func (s *UserStore) MarkLastLogin(ctx context.Context, userID string, at time.Time) error {
	tag, err := s.db.Exec(ctx, `UPDATE users SET last_login_at = $2, updated_at = $2 WHERE id = $1`, userID, at)
	if err != nil {
		return fmt.Errorf("mark last login: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

var _ domain.UserStore = (*UserStore)(nil)
