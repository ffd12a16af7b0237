// Package owner provides startup helpers for ensuring the configured bot owner
// and administrators exist in the database with the correct roles.
package owner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"ton_wallet_bot/internal/domain"
	"ton_wallet_bot/internal/logging"
)

type userCollection interface {
	UpdateMany(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error)
	UpdateOne(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error)
}

// Registrar bootstraps the configured owner and admin records.
type Registrar struct {
	users  userCollection
	logger *logrus.Entry
}

// NewRegistrar constructs a Registrar for the provided users collection.
func NewRegistrar(users userCollection, logger *logrus.Entry) *Registrar {
	if logger == nil {
		logger = logging.Logger()
	}

	return &Registrar{
		users:  users,
		logger: logger,
	}
}

// EnsureOwner upserts the configured owner user_id with role=owner and demotes
// any previous owners to admin.
func (r *Registrar) EnsureOwner(ctx context.Context, ownerID int64) error {
	if r == nil || r.users == nil {
		return errors.New("owner registrar is not initialized")
	}
	if ctx == nil {
		return errors.New("context is required")
	}
	if ownerID == 0 {
		return errors.New("owner id is required")
	}

	now := time.Now().UTC()

	demoteResult, err := r.users.UpdateMany(ctx,
		bson.M{"role": domain.RoleOwner, "user_id": bson.M{"$ne": ownerID}},
		bson.M{"$set": bson.M{
			"role":       domain.RoleAdmin,
			"updated_at": now,
		}},
	)
	if err != nil {
		return fmt.Errorf("demote previous owners: %w", err)
	}

	upsertResult, err := r.users.UpdateOne(ctx,
		bson.M{"user_id": ownerID},
		bson.M{
			"$set": bson.M{
				"user_id":    ownerID,
				"role":       domain.RoleOwner,
				"updated_at": now,
			},
			"$setOnInsert": bson.M{
				"created_at": now,
			},
		},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("ensure owner: %w", err)
	}

	r.logger.WithFields(logging.Fields{
		"event":          "owner_bootstrap",
		"owner_id":       ownerID,
		"demoted_owners": modifiedCount(demoteResult),
		"matched_owner":  matchedCount(upsertResult),
		"upserted_owner": upsertedCount(upsertResult),
	}).Info("ensured bot owner")

	return nil
}

// EnsureAdmins upserts every configured admin with role=admin and demotes
// stored admins that are no longer configured. The owner id is skipped so the
// owner role is never downgraded.
func (r *Registrar) EnsureAdmins(ctx context.Context, ownerID int64, adminIDs []int64) error {
	if r == nil || r.users == nil {
		return errors.New("owner registrar is not initialized")
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	now := time.Now().UTC()
	var upserted, matched int64
	keep := []int64{}

	for _, adminID := range adminIDs {
		if adminID == 0 || adminID == ownerID {
			continue
		}
		keep = append(keep, adminID)

		result, err := r.users.UpdateOne(ctx,
			bson.M{"user_id": adminID},
			bson.M{
				"$set": bson.M{
					"role":       domain.RoleAdmin,
					"updated_at": now,
				},
				"$setOnInsert": bson.M{
					"user_id":          adminID,
					"wallet_connected": false,
					"created_at":       now,
				},
			},
			options.Update().SetUpsert(true),
		)
		if err != nil {
			return fmt.Errorf("ensure admin %d: %w", adminID, err)
		}

		upserted += upsertedCount(result)
		matched += matchedCount(result)
	}

	demoteResult, err := r.users.UpdateMany(ctx,
		bson.M{
			"role":    domain.RoleAdmin,
			"user_id": bson.M{"$nin": keep},
		},
		bson.M{
			"$set": bson.M{
				"role":       domain.RoleUser,
				"updated_at": now,
			},
		},
	)
	if err != nil {
		return fmt.Errorf("demote stale admins: %w", err)
	}

	r.logger.WithFields(logging.Fields{
		"event":           "admin_bootstrap",
		"configured":      len(adminIDs),
		"matched_admins":  matched,
		"upserted_admins": upserted,
		"demoted_admins":  modifiedCount(demoteResult),
	}).Info("ensured configured admins")

	return nil
}

func modifiedCount(result *mongo.UpdateResult) int64 {
	if result == nil {
		return 0
	}
	return result.ModifiedCount
}

func matchedCount(result *mongo.UpdateResult) int64 {
	if result == nil {
		return 0
	}
	return result.MatchedCount
}

func upsertedCount(result *mongo.UpdateResult) int64 {
	if result == nil {
		return 0
	}
	return result.UpsertedCount
}
