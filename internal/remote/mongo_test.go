package remote_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rflorenc/fitsync/internal/remote"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Mock for SingleResult.
type mockSingleResult struct {
	decodeFunc func(v interface{}) error
}

func (m *mockSingleResult) Decode(v interface{}) error {
	return m.decodeFunc(v)
}

// Mock for DataStore interface.
type mockDataStore struct {
	findOneFunc   func(ctx context.Context, filter interface{}) remote.SingleResult
	updateOneFunc func(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error)
}

func (m *mockDataStore) FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) remote.SingleResult {
	return m.findOneFunc(ctx, filter)
}

func (m *mockDataStore) UpdateOne(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error) {
	if m.updateOneFunc != nil {
		return m.updateOneFunc(ctx, filter, update, opts...)
	}
	return &mongo.UpdateResult{}, nil
}

// Mock for CollectionProvider interface.
type mockCollectionProvider struct {
	collectionFunc func(name string) remote.DataStore
}

func (m *mockCollectionProvider) Collection(name string) remote.DataStore {
	return m.collectionFunc(name)
}

func providerFor(ds *mockDataStore) *mockCollectionProvider {
	return &mockCollectionProvider{collectionFunc: func(name string) remote.DataStore {
		return ds
	}}
}

func TestMongoStore_GetAccountRecord_Found(t *testing.T) {
	ds := &mockDataStore{findOneFunc: func(ctx context.Context, filter interface{}) remote.SingleResult {
		f := filter.(bson.M)
		if f["account_id"] != "acct-1" || f["key"] != "goals" {
			t.Errorf("filter = %v", f)
		}
		return &mockSingleResult{decodeFunc: func(v interface{}) error {
			raw, _ := bson.Marshal(bson.M{"account_id": "acct-1", "key": "goals", "value": []byte(`{"kind":"goals"}`)})
			return bson.Unmarshal(raw, v)
		}}
	}}
	store := remote.NewMongoStore(providerFor(ds))

	v, ok, err := store.GetAccountRecord(context.Background(), "acct-1", "goals")
	if err != nil || !ok {
		t.Fatalf("GetAccountRecord = ok=%v err=%v", ok, err)
	}
	if string(v) != `{"kind":"goals"}` {
		t.Errorf("value = %q", v)
	}
}

func TestMongoStore_GetAccountRecord_NoDocuments(t *testing.T) {
	ds := &mockDataStore{findOneFunc: func(ctx context.Context, filter interface{}) remote.SingleResult {
		return &mockSingleResult{decodeFunc: func(v interface{}) error { return mongo.ErrNoDocuments }}
	}}
	_, ok, err := remote.NewMongoStore(providerFor(ds)).GetAccountRecord(context.Background(), "a", "k")
	if ok || err != nil {
		t.Errorf("GetAccountRecord = ok=%v err=%v, want absent", ok, err)
	}
}

func TestMongoStore_GetAccountRecord_Error(t *testing.T) {
	boom := errors.New("server selection timeout")
	ds := &mockDataStore{findOneFunc: func(ctx context.Context, filter interface{}) remote.SingleResult {
		return &mockSingleResult{decodeFunc: func(v interface{}) error { return boom }}
	}}
	_, _, err := remote.NewMongoStore(providerFor(ds)).GetAccountRecord(context.Background(), "a", "k")
	if !errors.Is(err, boom) {
		t.Errorf("error = %v, want wrapped %v", err, boom)
	}
}

func TestMongoStore_PutAccountRecord_Upserts(t *testing.T) {
	var gotCollection string
	ds := &mockDataStore{updateOneFunc: func(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error) {
		if len(opts) != 1 || opts[0].Upsert == nil || !*opts[0].Upsert {
			t.Error("PutAccountRecord must upsert")
		}
		set := update.(bson.M)["$set"]
		raw, err := bson.Marshal(set)
		if err != nil {
			t.Fatalf("marshal $set: %v", err)
		}
		var doc struct {
			AccountID string    `bson:"account_id"`
			Key       string    `bson:"key"`
			Value     []byte    `bson:"value"`
			UpdatedAt time.Time `bson:"updated_at"`
		}
		if err := bson.Unmarshal(raw, &doc); err != nil {
			t.Fatalf("unmarshal $set: %v", err)
		}
		if doc.AccountID != "acct-1" || doc.Key != "weight_kg" || string(doc.Value) != "v" || doc.UpdatedAt.IsZero() {
			t.Errorf("$set = %+v", doc)
		}
		return &mongo.UpdateResult{UpsertedCount: 1}, nil
	}}
	provider := &mockCollectionProvider{collectionFunc: func(name string) remote.DataStore {
		gotCollection = name
		return ds
	}}

	if err := remote.NewMongoStore(provider).PutAccountRecord(context.Background(), "acct-1", "weight_kg", []byte("v")); err != nil {
		t.Fatalf("PutAccountRecord: %v", err)
	}
	if gotCollection != "account_records" {
		t.Errorf("collection = %q, want account_records", gotCollection)
	}
}

func TestMongoStore_PutAccountRecord_Error(t *testing.T) {
	ds := &mockDataStore{updateOneFunc: func(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error) {
		return nil, errors.New("write concern error")
	}}
	if err := remote.NewMongoStore(providerFor(ds)).PutAccountRecord(context.Background(), "a", "k", nil); err == nil {
		t.Error("PutAccountRecord should return error")
	}
}
