package mongodb

import (
	"context"
	"fmt"

	"github.com/pilab-dev/shadow-authz/domain"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// RoleRepository implements domain.RoleRepository using MongoDB. The
// singleton rule is a partial unique index on (client_id, role).
type RoleRepository struct {
	assignments *mongo.Collection
	permissions *mongo.Collection
}

func NewRoleRepository(db *mongo.Database) *RoleRepository {
	return &RoleRepository{
		assignments: db.Collection(RoleAssignmentsCollection),
		permissions: db.Collection(RolePermissionsCollection),
	}
}

func (r *RoleRepository) UpsertAssignment(ctx context.Context, a *domain.AppRoleAssignment) error {
	_, err := r.assignments.UpdateOne(ctx,
		bson.M{"user_id": a.UserID, "client_id": a.ClientID},
		bson.M{
			"$set": bson.M{
				"role":        a.Role,
				"permissions": a.Permissions,
				"singleton":   a.Singleton,
				"updated_at":  a.UpdatedAt,
			},
			"$setOnInsert": bson.M{"created_at": a.CreatedAt},
		},
		options.UpdateOne().SetUpsert(true),
	)
	if isSingletonViolation(err) {
		return domain.ErrSingletonRoleTaken
	}
	if mongo.IsDuplicateKeyError(err) {
		return domain.ErrConflict
	}
	return err
}

func (r *RoleRepository) GetAssignment(ctx context.Context, userID, clientID string) (*domain.AppRoleAssignment, error) {
	var a domain.AppRoleAssignment
	err := r.assignments.FindOne(ctx, bson.M{"user_id": userID, "client_id": clientID}).Decode(&a)
	if err != nil {
		return nil, notFound(err)
	}
	return &a, nil
}

func (r *RoleRepository) ListAssignments(ctx context.Context, clientID string) ([]*domain.AppRoleAssignment, error) {
	cur, err := r.assignments.Find(ctx, bson.M{"client_id": clientID},
		options.Find().SetSort(bson.D{{Key: "user_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("list role assignments: %w", err)
	}

	var out []*domain.AppRoleAssignment
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode role assignments: %w", err)
	}
	return out, nil
}

func (r *RoleRepository) DeleteAssignment(ctx context.Context, userID, clientID string) error {
	res, err := r.assignments.DeleteOne(ctx, bson.M{"user_id": userID, "client_id": clientID})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *RoleRepository) GrantPermission(ctx context.Context, roleID, permissionID string) error {
	_, err := r.permissions.UpdateOne(ctx,
		bson.M{"role_id": roleID, "permission_id": permissionID},
		bson.M{"$setOnInsert": bson.M{"role_id": roleID, "permission_id": permissionID}},
		options.UpdateOne().SetUpsert(true),
	)
	if mongo.IsDuplicateKeyError(err) {
		// A concurrent grant inserted the same row.
		return nil
	}
	return err
}

func (r *RoleRepository) RevokePermission(ctx context.Context, roleID, permissionID string) error {
	_, err := r.permissions.DeleteOne(ctx, bson.M{"role_id": roleID, "permission_id": permissionID})
	return err
}

func (r *RoleRepository) ListRolePermissions(ctx context.Context, roleID string) ([]string, error) {
	cur, err := r.permissions.Find(ctx, bson.M{"role_id": roleID},
		options.Find().SetSort(bson.D{{Key: "permission_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("list role permissions: %w", err)
	}

	var rows []domain.RolePermission
	if err := cur.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("decode role permissions: %w", err)
	}
	perms := make([]string, 0, len(rows))
	for _, row := range rows {
		perms = append(perms, row.PermissionID)
	}
	return perms, nil
}

var _ domain.RoleRepository = (*RoleRepository)(nil)
