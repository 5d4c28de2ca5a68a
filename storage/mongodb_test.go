package storage_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/johnwmail/npaste/models"
	"github.com/johnwmail/npaste/storage"
	"github.com/johnwmail/npaste/storage/storetest"
)

// fakeCollection stores documents as bson.M and evaluates the equality
// filters MongoStore builds.
type fakeCollection struct {
	mu   sync.Mutex
	docs map[string]bson.M
}

func newFakeCollection() *fakeCollection {
	return &fakeCollection{docs: make(map[string]bson.M)}
}

func asInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	}
	return 0, false
}

// match must be called with f.mu held.
func (f *fakeCollection) match(filter interface{}) (bson.M, error) {
	m, ok := filter.(bson.M)
	if !ok {
		return nil, fmt.Errorf("unexpected filter type %T", filter)
	}
	doc, ok := f.docs[m["_id"].(string)]
	if !ok {
		return nil, nil
	}
	if want, has := m["remaining_views"]; has {
		w, _ := asInt64(want)
		got, ok := asInt64(doc["remaining_views"])
		if !ok || got != w {
			return nil, nil
		}
	}
	return doc, nil
}

func (f *fakeCollection) InsertOne(ctx context.Context, document interface{}, _ ...*options.InsertOneOptions) (*mongo.InsertOneResult, error) {
	raw, err := bson.Marshal(document)
	if err != nil {
		return nil, err
	}
	var doc bson.M
	if err := bson.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	id := doc["_id"].(string)
	if _, exists := f.docs[id]; exists {
		return nil, mongo.WriteException{WriteErrors: []mongo.WriteError{{Code: 11000, Message: "E11000 duplicate key error"}}}
	}
	f.docs[id] = doc
	return &mongo.InsertOneResult{InsertedID: id}, nil
}

func (f *fakeCollection) FindOne(ctx context.Context, filter interface{}, _ ...*options.FindOneOptions) *mongo.SingleResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, err := f.match(filter)
	if err != nil {
		return mongo.NewSingleResultFromDocument(bson.M{}, err, nil)
	}
	if doc == nil {
		return mongo.NewSingleResultFromDocument(bson.M{}, mongo.ErrNoDocuments, nil)
	}
	copied := bson.M{}
	for k, v := range doc {
		copied[k] = v
	}
	return mongo.NewSingleResultFromDocument(copied, nil, nil)
}

func (f *fakeCollection) UpdateOne(ctx context.Context, filter interface{}, update interface{}, _ ...*options.UpdateOptions) (*mongo.UpdateResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, err := f.match(filter)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return &mongo.UpdateResult{}, nil
	}
	set, ok := update.(bson.M)["$set"].(bson.M)
	if !ok {
		return nil, errors.New("only $set updates are supported")
	}
	for k, v := range set {
		doc[k] = v
	}
	return &mongo.UpdateResult{MatchedCount: 1, ModifiedCount: 1}, nil
}

func (f *fakeCollection) DeleteOne(ctx context.Context, filter interface{}, _ ...*options.DeleteOptions) (*mongo.DeleteResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, err := f.match(filter)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return &mongo.DeleteResult{}, nil
	}
	delete(f.docs, doc["_id"].(string))
	return &mongo.DeleteResult{DeletedCount: 1}, nil
}

func TestMongoStoreContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) storage.PasteStore {
		return storage.NewMongoStoreWithCollection(newFakeCollection(), discardLogger())
	})
}

func TestMongoStoreWritesExpireDate(t *testing.T) {
	coll := newFakeCollection()
	store := storage.NewMongoStoreWithCollection(coll, discardLogger())

	expires := int64(1_700_000_060_000)
	require.NoError(t, store.Create(context.Background(), &models.Paste{ID: "mongo01", Content: "x", CreatedAt: 1, ExpiresAt: &expires}))
	require.NoError(t, store.Create(context.Background(), &models.Paste{ID: "mongo02", Content: "y", CreatedAt: 1}))

	dt, ok := coll.docs["mongo01"]["expire_date"].(primitive.DateTime)
	require.True(t, ok, "expire_date must be a BSON date for the TTL index")
	assert.Equal(t, time.UnixMilli(expires).UTC(), dt.Time().UTC())

	assert.NotContains(t, coll.docs["mongo02"], "expire_date")
	assert.NotContains(t, coll.docs["mongo02"], "remaining_views")
}

func TestMongoStoreWithoutClient(t *testing.T) {
	store := storage.NewMongoStoreWithCollection(newFakeCollection(), discardLogger())
	assert.Error(t, store.Ping(context.Background()))
	assert.NoError(t, store.Close())
}
