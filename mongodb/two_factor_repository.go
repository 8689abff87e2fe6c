package mongodb

import (
	"context"
	"errors"
	"time"

	"github.com/pilab-dev/shadow-authz/domain"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// TwoFactorRepository implements domain.TwoFactorRepository using MongoDB.
// The user id is the document _id.
type TwoFactorRepository struct {
	coll *mongo.Collection
}

func NewTwoFactorRepository(db *mongo.Database) *TwoFactorRepository {
	return &TwoFactorRepository{coll: db.Collection(TwoFactorCollection)}
}

func (r *TwoFactorRepository) GetTwoFactor(ctx context.Context, userID string) (*domain.TwoFactorSettings, error) {
	var s domain.TwoFactorSettings
	if err := r.coll.FindOne(ctx, bson.M{"_id": userID}).Decode(&s); err != nil {
		return nil, notFound(err)
	}
	return &s, nil
}

// SaveSetup upserts a pending configuration. When 2FA is already enabled the
// filter misses and the upsert collides on _id.
func (r *TwoFactorRepository) SaveSetup(ctx context.Context, s *domain.TwoFactorSettings) error {
	_, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": s.UserID, "enabled": bson.M{"$ne": true}},
		bson.M{
			"$set": bson.M{
				"secret":             s.Secret,
				"enabled":            false,
				"backup_code_hashes": s.BackupCodeHashes,
				"failed_attempts":    0,
				"lockout_until":      nil,
				"enabled_at":         nil,
				"last_verified_at":   nil,
				"updated_at":         s.UpdatedAt,
			},
			"$setOnInsert": bson.M{"created_at": s.CreatedAt},
		},
		options.UpdateOne().SetUpsert(true),
	)
	if mongo.IsDuplicateKeyError(err) {
		return domain.ErrConflict
	}
	return err
}

func (r *TwoFactorRepository) EnableTwoFactor(ctx context.Context, userID, secret string, at time.Time) error {
	res, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": userID, "enabled": false, "secret": secret},
		bson.M{"$set": bson.M{
			"enabled":          true,
			"enabled_at":       at,
			"last_verified_at": at,
			"failed_attempts":  0,
			"lockout_until":    nil,
			"updated_at":       at,
		}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 1 {
		return nil
	}

	if _, err := r.GetTwoFactor(ctx, userID); err != nil {
		return err
	}
	return domain.ErrConflict
}

// RecordFailure increments the counter and applies the lockout in one
// pipeline update. The first stage restarts the counter when a previous
// lockout has elapsed; the second stage sees the new count and the old lockout.
func (r *TwoFactorRepository) RecordFailure(ctx context.Context, userID string, at time.Time, policy domain.FailurePolicy) (*domain.TwoFactorSettings, error) {
	lockoutElapsed := bson.D{{Key: "$and", Value: bson.A{
		bson.D{{Key: "$ne", Value: bson.A{bson.D{{Key: "$ifNull", Value: bson.A{"$lockout_until", nil}}}, nil}}},
		bson.D{{Key: "$lte", Value: bson.A{"$lockout_until", at}}},
	}}}

	pipeline := mongo.Pipeline{
		{{Key: "$set", Value: bson.D{
			{Key: "failed_attempts", Value: bson.D{{Key: "$cond", Value: bson.A{
				lockoutElapsed,
				1,
				bson.D{{Key: "$add", Value: bson.A{"$failed_attempts", 1}}},
			}}}},
		}}},
		{{Key: "$set", Value: bson.D{
			{Key: "lockout_until", Value: bson.D{{Key: "$cond", Value: bson.A{
				bson.D{{Key: "$gte", Value: bson.A{"$failed_attempts", policy.MaxAttempts}}},
				at.Add(policy.Lockout),
				bson.D{{Key: "$cond", Value: bson.A{lockoutElapsed, nil, "$lockout_until"}}},
			}}}},
			{Key: "updated_at", Value: at},
		}}},
	}

	var s domain.TwoFactorSettings
	err := r.coll.FindOneAndUpdate(ctx, bson.M{"_id": userID}, pipeline,
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&s)
	if err != nil {
		return nil, notFound(err)
	}
	return &s, nil
}

func (r *TwoFactorRepository) RecordSuccess(ctx context.Context, userID string, at time.Time) error {
	res, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": userID},
		bson.M{"$set": bson.M{
			"failed_attempts":  0,
			"lockout_until":    nil,
			"last_verified_at": at,
			"updated_at":       at,
		}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ConsumeBackupCode pulls the hash only from a document that still holds it.
func (r *TwoFactorRepository) ConsumeBackupCode(ctx context.Context, userID, codeHash string, at time.Time) (int, error) {
	var s domain.TwoFactorSettings
	err := r.coll.FindOneAndUpdate(ctx,
		bson.M{"_id": userID, "backup_code_hashes": codeHash},
		bson.M{
			"$pull": bson.M{"backup_code_hashes": codeHash},
			"$set":  bson.M{"last_verified_at": at, "updated_at": at},
		},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&s)
	if err != nil {
		return 0, notFound(err)
	}
	return len(s.BackupCodeHashes), nil
}

func (r *TwoFactorRepository) ReplaceBackupCodes(ctx context.Context, userID string, codeHashes []string, at time.Time) error {
	res, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": userID},
		bson.M{"$set": bson.M{"backup_code_hashes": codeHashes, "updated_at": at}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *TwoFactorRepository) DeleteTwoFactor(ctx context.Context, userID string) error {
	_, err := r.coll.DeleteOne(ctx, bson.M{"_id": userID})
	if err != nil && !errors.Is(err, mongo.ErrNoDocuments) {
		return err
	}
	return nil
}

var _ domain.TwoFactorRepository = (*TwoFactorRepository)(nil)
