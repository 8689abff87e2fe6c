package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pilab-dev/shadow-authz/domain"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const epochDocID = "global"

// TokenRepository implements domain.TokenRepository using MongoDB.
// With transactions enabled (replica set required) the revoke and the
// successor insert of a rotation commit together. Without them the
// conditional revoke is the gate, and a failed successor insert puts the
// old refresh token back.
type TokenRepository struct {
	client       *mongo.Client
	coll         *mongo.Collection
	epochs       *mongo.Collection
	transactions bool
}

func NewTokenRepository(client *mongo.Client, db *mongo.Database, transactions bool) *TokenRepository {
	return &TokenRepository{
		client:       client,
		coll:         db.Collection(TokensCollection),
		epochs:       db.Collection(EpochCollection),
		transactions: transactions,
	}
}

func (r *TokenRepository) StoreTokens(ctx context.Context, tokens ...*domain.Token) error {
	if len(tokens) == 0 {
		return nil
	}
	docs := make([]any, len(tokens))
	for i, t := range tokens {
		docs[i] = t
	}
	_, err := r.coll.InsertMany(ctx, docs)
	if mongo.IsDuplicateKeyError(err) {
		return domain.ErrConflict
	}
	return err
}

func (r *TokenRepository) GetToken(ctx context.Context, tokenHash string) (*domain.Token, error) {
	var t domain.Token
	if err := r.coll.FindOne(ctx, bson.M{"token_hash": tokenHash}).Decode(&t); err != nil {
		return nil, notFound(err)
	}
	return &t, nil
}

func (r *TokenRepository) RotateRefreshToken(ctx context.Context, p domain.RotateParams) error {
	if !r.transactions {
		return r.rotate(ctx, p)
	}

	sess, err := r.client.StartSession()
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer sess.EndSession(ctx)

	_, err = sess.WithTransaction(ctx, func(ctx context.Context) (any, error) {
		return nil, r.rotate(ctx, p)
	})
	return err
}

func (r *TokenRepository) rotate(ctx context.Context, p domain.RotateParams) error {
	filter := bson.M{
		"token_hash": p.OldHash,
		"kind":       domain.TokenKindRefresh,
		"revoked":    false,
		"expires_at": bson.M{"$gt": p.Now},
		"epoch":      bson.M{"$gte": p.MinEpoch},
	}
	if p.ClientID != "" {
		filter["client_id"] = p.ClientID
	}

	res, err := r.coll.UpdateOne(ctx, filter, bson.M{"$set": bson.M{"revoked": true, "revoked_at": p.Now}})
	if err != nil {
		return fmt.Errorf("revoke rotated refresh token: %w", err)
	}
	if res.ModifiedCount == 0 {
		return domain.ErrNotFound
	}

	if _, err := r.coll.InsertMany(ctx, []any{p.Access, p.Refresh}); err != nil {
		if !r.transactions {
			r.undoRotation(ctx, p)
		}
		return fmt.Errorf("insert successor tokens: %w", err)
	}
	return nil
}

// undoRotation restores the old refresh token and drops any successor that
// made it in, for deployments without transactions.
func (r *TokenRepository) undoRotation(ctx context.Context, p domain.RotateParams) {
	ctx = context.WithoutCancel(ctx)
	if _, err := r.coll.DeleteMany(ctx, bson.M{
		"token_hash": bson.M{"$in": bson.A{p.Access.TokenHash, p.Refresh.TokenHash}},
		"_id":        bson.M{"$in": bson.A{p.Access.ID, p.Refresh.ID}},
	}); err != nil {
		log.Error().Err(err).Msg("failed to drop successor tokens after rotation error")
	}
	// BSON dates keep millisecond precision.
	if _, err := r.coll.UpdateOne(ctx,
		bson.M{"token_hash": p.OldHash, "revoked": true, "revoked_at": p.Now.Truncate(time.Millisecond)},
		bson.M{"$set": bson.M{"revoked": false}, "$unset": bson.M{"revoked_at": ""}},
	); err != nil {
		log.Error().Err(err).Msg("failed to restore refresh token after rotation error")
	}
}

func (r *TokenRepository) RevokeToken(ctx context.Context, tokenHash string, at time.Time) error {
	_, err := r.coll.UpdateOne(ctx,
		bson.M{"token_hash": tokenHash, "revoked": false},
		bson.M{"$set": bson.M{"revoked": true, "revoked_at": at}},
	)
	return err
}

func (r *TokenRepository) RevokeClientTokens(ctx context.Context, clientID string, at time.Time) (int64, error) {
	res, err := r.coll.UpdateMany(ctx,
		bson.M{"client_id": clientID, "revoked": false},
		bson.M{"$set": bson.M{"revoked": true, "revoked_at": at}},
	)
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

type epochDoc struct {
	ID    string `bson:"_id"`
	Epoch int64  `bson:"epoch"`
}

func (r *TokenRepository) CurrentEpoch(ctx context.Context) (int64, error) {
	var doc epochDoc
	err := r.epochs.FindOne(ctx, bson.M{"_id": epochDocID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return doc.Epoch, nil
}

func (r *TokenRepository) BumpEpoch(ctx context.Context) (int64, error) {
	var doc epochDoc
	err := r.epochs.FindOneAndUpdate(ctx,
		bson.M{"_id": epochDocID},
		bson.M{"$inc": bson.M{"epoch": int64(1)}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&doc)
	if err != nil {
		return 0, err
	}
	return doc.Epoch, nil
}

func (r *TokenRepository) DeleteExpiredTokens(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.coll.DeleteMany(ctx, bson.M{"expires_at": bson.M{"$lt": before}})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

var _ domain.TokenRepository = (*TokenRepository)(nil)
