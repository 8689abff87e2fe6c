package mongodb

import (
	"context"
	"time"

	"github.com/pilab-dev/shadow-authz/domain"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// AuthCodeRepository implements domain.AuthCodeRepository using MongoDB.
type AuthCodeRepository struct {
	coll *mongo.Collection
}

func NewAuthCodeRepository(db *mongo.Database) *AuthCodeRepository {
	return &AuthCodeRepository{coll: db.Collection(CodesCollection)}
}

func (r *AuthCodeRepository) SaveAuthCode(ctx context.Context, code *domain.AuthCode) error {
	_, err := r.coll.InsertOne(ctx, code)
	if mongo.IsDuplicateKeyError(err) {
		return domain.ErrConflict
	}
	return err
}

// ConsumeAuthCode flips used in a single FindOneAndUpdate, so concurrent
// redemptions of one code see exactly one winner.
func (r *AuthCodeRepository) ConsumeAuthCode(ctx context.Context, p domain.ConsumeCodeParams) (*domain.AuthCode, error) {
	filter := bson.M{
		"_id":        p.CodeHash,
		"used":       false,
		"client_id":  p.ClientID,
		"expires_at": bson.M{"$gt": p.Now},
	}
	if p.RedirectURI != "" {
		filter["redirect_uri"] = p.RedirectURI
	}

	var code domain.AuthCode
	err := r.coll.FindOneAndUpdate(ctx, filter,
		bson.M{"$set": bson.M{"used": true, "used_at": p.Now}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&code)
	if err != nil {
		return nil, notFound(err)
	}
	return &code, nil
}

func (r *AuthCodeRepository) ReleaseAuthCode(ctx context.Context, codeHash string) error {
	res, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": codeHash, "used": true},
		bson.M{"$set": bson.M{"used": false, "used_at": nil}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *AuthCodeRepository) DeleteExpiredAuthCodes(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.coll.DeleteMany(ctx, bson.M{"expires_at": bson.M{"$lt": before}})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

var _ domain.AuthCodeRepository = (*AuthCodeRepository)(nil)
