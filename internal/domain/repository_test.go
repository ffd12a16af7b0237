package domain

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func TestUserRepositoryGetByID(t *testing.T) {
	connectedAt := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	coll := newFakeFindCollection()
	coll.docs[12345] = bson.M{
		"user_id":             int64(12345),
		"role":                RoleAdmin,
		"wallet_connected":    true,
		"wallet_address":      "0:" + fmt.Sprintf("%064x", 1),
		"wallet_connected_at": connectedAt,
		"created_at":          connectedAt.Add(-time.Hour),
		"updated_at":          connectedAt,
		"last_seen_at":        connectedAt,
	}

	repo := NewUserRepository(coll)

	found, err := repo.GetByID(context.Background(), 12345)
	if err != nil {
		t.Fatalf("GetByID returned error: %v", err)
	}

	if found.UserID != 12345 {
		t.Fatalf("expected user_id 12345, got %d", found.UserID)
	}
	if found.Role != RoleAdmin {
		t.Fatalf("expected role %s, got %s", RoleAdmin, found.Role)
	}
	if !found.WalletConnected {
		t.Fatalf("expected wallet_connected to decode as true")
	}
	if !found.WalletConnectedAt.Equal(connectedAt) {
		t.Fatalf("expected wallet_connected_at %v, got %v", connectedAt, found.WalletConnectedAt)
	}
}

func TestUserRepositoryGetByIDNotFound(t *testing.T) {
	repo := NewUserRepository(newFakeFindCollection())

	_, err := repo.GetByID(context.Background(), 1)
	if !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestUserRepositoryGetByIDValidates(t *testing.T) {
	var nilRepo *UserRepository
	if _, err := nilRepo.GetByID(context.Background(), 1); err == nil {
		t.Fatalf("expected error for nil repository")
	}

	repo := NewUserRepository(newFakeFindCollection())
	if _, err := repo.GetByID(nil, 1); err == nil {
		t.Fatalf("expected error for nil context")
	}
	if _, err := repo.GetByID(context.Background(), 0); err == nil {
		t.Fatalf("expected error for zero user_id")
	}
}

func TestUserRepositoryGetByIDPropagatesErrors(t *testing.T) {
	coll := newFakeFindCollection()
	coll.err = errors.New("socket closed")

	_, err := NewUserRepository(coll).GetByID(context.Background(), 5)
	if err == nil || errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected wrapped driver error, got %v", err)
	}
	if !errors.Is(err, coll.err) {
		t.Fatalf("expected error to wrap %v, got %v", coll.err, err)
	}
}

type fakeFindCollection struct {
	docs map[int64]bson.M
	err  error
}

func newFakeFindCollection() *fakeFindCollection {
	return &fakeFindCollection{docs: make(map[int64]bson.M)}
}

func (f *fakeFindCollection) FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) *mongo.SingleResult {
	if f.err != nil {
		return mongo.NewSingleResultFromDocument(bson.M{}, f.err, nil)
	}

	filterDoc, ok := filter.(bson.M)
	if !ok {
		return mongo.NewSingleResultFromDocument(bson.M{}, fmt.Errorf("unexpected filter type %T", filter), nil)
	}

	id, _ := filterDoc["user_id"].(int64)
	doc, found := f.docs[id]
	if !found {
		return mongo.NewSingleResultFromDocument(bson.M{}, mongo.ErrNoDocuments, nil)
	}

	return mongo.NewSingleResultFromDocument(doc, nil, nil)
}
