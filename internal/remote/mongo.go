package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	DefaultMongoDatabase = "fitsync"
	recordsCollection    = "account_records"
)

// ---- Abstractions for Testability ----

// SingleResult is the part of *mongo.SingleResult the store needs.
type SingleResult interface {
	Decode(v interface{}) error
}

// DataStore defines the collection operations used by MongoStore.
type DataStore interface {
	FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) SingleResult
	UpdateOne(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error)
}

// CollectionProvider defines the interface for obtaining a collection.
type CollectionProvider interface {
	Collection(name string) DataStore
}

// MongoCollection adapts *mongo.Collection to DataStore.
type MongoCollection struct {
	*mongo.Collection
}

// FindOne finds a single document.
func (c *MongoCollection) FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) SingleResult {
	return c.Collection.FindOne(ctx, filter, opts...)
}

// UpdateOne updates a single document.
func (c *MongoCollection) UpdateOne(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error) {
	result, err := c.Collection.UpdateOne(ctx, filter, update, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to perform UpdateOne: %w", err)
	}
	return result, nil
}

// MongoProvider adapts *mongo.Client to CollectionProvider.
type MongoProvider struct {
	client   *mongo.Client
	database string
}

// NewMongoProvider creates a new MongoProvider for the named database.
func NewMongoProvider(client *mongo.Client, database string) *MongoProvider {
	if database == "" {
		database = DefaultMongoDatabase
	}
	return &MongoProvider{client: client, database: database}
}

// Collection returns a DataStore for the given collection name.
func (p *MongoProvider) Collection(name string) DataStore {
	return &MongoCollection{p.client.Database(p.database).Collection(name)}
}

// ConnectToMongoDB establishes a connection to MongoDB.
func ConnectToMongoDB(ctx context.Context, uri string, logger *slog.Logger) (*mongo.Client, error) {
	logger.DebugContext(ctx, "Attempting to connect to MongoDB")

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	logger.InfoContext(ctx, "Successfully established connection to MongoDB")
	return client, nil
}

// accountRecord is one document in the account_records collection.
type accountRecord struct {
	AccountID string    `bson:"account_id"`
	Key       string    `bson:"key"`
	Value     []byte    `bson:"value"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// MongoStore is a Store over a MongoDB collection, one document per
// (account, key).
type MongoStore struct {
	provider CollectionProvider
	now      func() time.Time
}

// NewMongoStore creates a new MongoStore.
func NewMongoStore(provider CollectionProvider) *MongoStore {
	return &MongoStore{provider: provider, now: time.Now}
}

func (s *MongoStore) GetAccountRecord(ctx context.Context, accountID, key string) ([]byte, bool, error) {
	filter := bson.M{"account_id": accountID, "key": key}
	var doc accountRecord
	err := s.provider.Collection(recordsCollection).FindOne(ctx, filter).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read %s/%s: %w", accountID, key, err)
	}
	return doc.Value, true, nil
}

func (s *MongoStore) PutAccountRecord(ctx context.Context, accountID, key string, value []byte) error {
	filter := bson.M{"account_id": accountID, "key": key}
	doc := accountRecord{AccountID: accountID, Key: key, Value: value, UpdatedAt: s.now().UTC()}
	update := bson.M{"$set": doc}
	_, err := s.provider.Collection(recordsCollection).UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to upsert %s/%s: %w", accountID, key, err)
	}
	return nil
}
