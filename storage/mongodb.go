package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/johnwmail/npaste/models"
)

// MongoCollection is the subset of *mongo.Collection used by MongoStore.
type MongoCollection interface {
	InsertOne(ctx context.Context, document interface{}, opts ...*options.InsertOneOptions) (*mongo.InsertOneResult, error)
	FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) *mongo.SingleResult
	UpdateOne(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error)
	DeleteOne(ctx context.Context, filter interface{}, opts ...*options.DeleteOptions) (*mongo.DeleteResult, error)
}

// mongoPaste is the document shape. expire_date only exists to feed the
// TTL index; expires_at is what reads are checked against.
type mongoPaste struct {
	ID             string     `bson:"_id"`
	Content        string     `bson:"content"`
	CreatedAt      int64      `bson:"created_at"`
	ExpiresAt      *int64     `bson:"expires_at,omitempty"`
	ExpireDate     *time.Time `bson:"expire_date,omitempty"`
	RemainingViews *int       `bson:"remaining_views,omitempty"`
}

// MongoStore implements PasteStore using MongoDB
type MongoStore struct {
	client     *mongo.Client
	collection MongoCollection
	logger     *slog.Logger
}

// NewMongoStore connects to MongoDB and makes sure the TTL index exists.
func NewMongoStore(ctx context.Context, uri, dbName, collName string, logger *slog.Logger) (*MongoStore, error) {
	connectCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}

	// Test the connection
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}

	collection := client.Database(dbName).Collection(collName)
	if err := createIndexes(ctx, collection); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("create indexes: %w", err)
	}

	logger.Info("Using MongoDB storage", "database", dbName, "collection", collName)
	store := NewMongoStoreWithCollection(collection, logger)
	store.client = client
	return store, nil
}

// NewMongoStoreWithCollection wraps an existing collection.
func NewMongoStoreWithCollection(collection MongoCollection, logger *slog.Logger) *MongoStore {
	return &MongoStore{collection: collection, logger: logger}
}

// createIndexes creates necessary indexes for the collection
func createIndexes(ctx context.Context, collection *mongo.Collection) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	// TTL index on expire_date for auto-expiration
	ttlIndex := mongo.IndexModel{
		Keys:    bson.D{{Key: "expire_date", Value: 1}},
		Options: options.Index().SetExpireAfterSeconds(0),
	}

	_, err := collection.Indexes().CreateOne(ctx, ttlIndex)
	return err
}

// Create inserts the paste; the unique _id rejects collisions.
func (m *MongoStore) Create(ctx context.Context, paste *models.Paste) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	_, err := m.collection.InsertOne(ctx, toMongoPaste(paste))
	if mongo.IsDuplicateKeyError(err) {
		return ErrIDExists
	}
	return err
}

// FetchAndConsume reads a paste and applies view/expiry side effects.
func (m *MongoStore) FetchAndConsume(ctx context.Context, id string, nowMs int64) (*models.Paste, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	return consume(ctx, m, id, nowMs)
}

// Delete removes a paste from MongoDB
func (m *MongoStore) Delete(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	return m.remove(ctx, id)
}

// Ping checks the server connection.
func (m *MongoStore) Ping(ctx context.Context) error {
	if m.client == nil {
		return errors.New("mongodb client not connected")
	}
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	return m.client.Ping(ctx, nil)
}

// Close closes the MongoDB connection
func (m *MongoStore) Close() error {
	if m.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	return m.client.Disconnect(ctx)
}

func (m *MongoStore) load(ctx context.Context, id string) (*models.Paste, error) {
	var doc mongoPaste
	err := m.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return doc.toModel(), nil
}

func (m *MongoStore) remove(ctx context.Context, id string) error {
	_, err := m.collection.DeleteOne(ctx, bson.M{"_id": id})
	return err
}

func (m *MongoStore) removeIf(ctx context.Context, id string, views int) error {
	res, err := m.collection.DeleteOne(ctx, bson.M{"_id": id, "remaining_views": views})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return errConflict
	}
	return nil
}

func (m *MongoStore) decrementIf(ctx context.Context, id string, views int) error {
	res, err := m.collection.UpdateOne(ctx,
		bson.M{"_id": id, "remaining_views": views},
		bson.M{"$set": bson.M{"remaining_views": views - 1}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return errConflict
	}
	return nil
}

func toMongoPaste(p *models.Paste) *mongoPaste {
	doc := &mongoPaste{
		ID:             p.ID,
		Content:        p.Content,
		CreatedAt:      p.CreatedAt,
		ExpiresAt:      p.ExpiresAt,
		RemainingViews: p.RemainingViews,
	}
	if p.ExpiresAt != nil {
		expireDate := p.ExpiresTime()
		doc.ExpireDate = &expireDate
	}
	return doc
}

func (d *mongoPaste) toModel() *models.Paste {
	return &models.Paste{
		ID:             d.ID,
		Content:        d.Content,
		CreatedAt:      d.CreatedAt,
		ExpiresAt:      d.ExpiresAt,
		RemainingViews: d.RemainingViews,
	}
}
