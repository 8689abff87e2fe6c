package mongodb

import (
	"context"
	"fmt"
	"time"

	"github.com/pilab-dev/shadow-authz/domain"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// ClientRepository implements domain.ClientRepository using MongoDB.
type ClientRepository struct {
	coll *mongo.Collection
}

func NewClientRepository(db *mongo.Database) *ClientRepository {
	return &ClientRepository{coll: db.Collection(ClientsCollection)}
}

func (r *ClientRepository) CreateClient(ctx context.Context, c *domain.Client) error {
	_, err := r.coll.InsertOne(ctx, c)
	if mongo.IsDuplicateKeyError(err) {
		return domain.ErrConflict
	}
	return err
}

func (r *ClientRepository) GetClient(ctx context.Context, clientID string) (*domain.Client, error) {
	var c domain.Client
	if err := r.coll.FindOne(ctx, bson.M{"_id": clientID}).Decode(&c); err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

func (r *ClientRepository) ListClients(ctx context.Context) ([]*domain.Client, error) {
	cur, err := r.coll.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("list clients: %w", err)
	}

	var clients []*domain.Client
	if err := cur.All(ctx, &clients); err != nil {
		return nil, fmt.Errorf("decode clients: %w", err)
	}
	return clients, nil
}

func (r *ClientRepository) SetClientStatus(ctx context.Context, clientID string, status domain.ClientStatus, at time.Time) error {
	res, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": clientID},
		bson.M{"$set": bson.M{"status": status, "updated_at": at}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *ClientRepository) DeleteClient(ctx context.Context, clientID string) error {
	res, err := r.coll.DeleteOne(ctx, bson.M{"_id": clientID})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}

var _ domain.ClientRepository = (*ClientRepository)(nil)
