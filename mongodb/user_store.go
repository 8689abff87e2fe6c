package mongodb

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pilab-dev/shadow-authz/domain"
	"github.com/pilab-dev/shadow-authz/internal/auth"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

// UserStore is a domain.UserStore backed by the users collection.
type UserStore struct {
	coll   *mongo.Collection
	hasher auth.PasswordHasher
	decoy  *auth.Decoy
}

func NewUserStore(db *mongo.Database, hasher auth.PasswordHasher) *UserStore {
	return &UserStore{coll: db.Collection(UsersCollection), hasher: hasher, decoy: auth.NewDecoy(hasher)}
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
	if _, err := s.coll.InsertOne(ctx, u); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, domain.ErrConflict
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return u, nil
}

func (s *UserStore) Authenticate(ctx context.Context, email, password string) (*domain.User, error) {
	var u domain.User
	err := s.coll.FindOne(ctx, bson.M{"email": strings.ToLower(strings.TrimSpace(email))}).Decode(&u)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			s.decoy.Verify(password)
			return nil, domain.ErrInvalidCredentials
		}
		return nil, fmt.Errorf("find user: %w", err)
	}

	if u.Status != domain.UserStatusActive || s.hasher.Verify(u.PasswordHash, password) != nil {
		return nil, domain.ErrInvalidCredentials
	}
	return &u, nil
}

func (s *UserStore) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	var u domain.User
	if err := s.coll.FindOne(ctx, bson.M{"_id": userID}).Decode(&u); err != nil {
		return nil, notFound(err)
	}
	return &u, nil
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
	res, err := s.coll.UpdateOne(ctx, bson.M{"_id": userID}, bson.M{"$set": bson.M{"last_login_at": at, "updated_at": at}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}

var _ domain.UserStore = (*UserStore)(nil)
