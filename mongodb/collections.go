package mongodb

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pilab-dev/shadow-authz/domain"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const (
	ClientsCollection         = "oauth_clients"
	CodesCollection           = "oauth_auth_codes"
	TokensCollection          = "oauth_tokens"
	EpochCollection           = "oauth_epoch"
	TwoFactorCollection       = "two_factor_settings"
	RoleAssignmentsCollection = "app_role_assignments"
	RolePermissionsCollection = "role_permissions"
	UsersCollection           = "users"
)

// singletonRoleIndex is matched against duplicate key errors to tell a
// singleton violation apart from other unique index hits.
const singletonRoleIndex = "singleton_role_per_client"

// codeRetention keeps expired codes around for a day before the TTL monitor removes them.
const codeRetention = 24 * time.Hour

// EnsureIndexes creates every index the repositories rely on. It is idempotent.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	specs := map[string][]mongo.IndexModel{
		ClientsCollection: {
			{Keys: bson.D{{Key: "created_at", Value: 1}}},
		},
		CodesCollection: {
			{
				Keys:    bson.D{{Key: "expires_at", Value: 1}},
				Options: options.Index().SetExpireAfterSeconds(int32(codeRetention / time.Second)),
			},
		},
		TokensCollection: {
			{Keys: bson.D{{Key: "token_hash", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "client_id", Value: 1}, {Key: "revoked", Value: 1}}},
			{Keys: bson.D{{Key: "expires_at", Value: 1}}},
		},
		RoleAssignmentsCollection: {
			{
				Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "client_id", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{
				Keys: bson.D{{Key: "client_id", Value: 1}, {Key: "role", Value: 1}},
				Options: options.Index().
					SetName(singletonRoleIndex).
					SetUnique(true).
					SetPartialFilterExpression(bson.D{{Key: "singleton", Value: true}}),
			},
		},
		RolePermissionsCollection: {
			{
				Keys:    bson.D{{Key: "role_id", Value: 1}, {Key: "permission_id", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
		},
		UsersCollection: {
			{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)},
		},
	}

	for coll, models := range specs {
		if _, err := db.Collection(coll).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("create indexes on %s: %w", coll, err)
		}
	}
	return nil
}

// notFound maps the driver's empty-result error onto the domain sentinel.
func notFound(err error) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return domain.ErrNotFound
	}
	return err
}

func isSingletonViolation(err error) bool {
	return mongo.IsDuplicateKeyError(err) && strings.Contains(err.Error(), singletonRoleIndex)
}
