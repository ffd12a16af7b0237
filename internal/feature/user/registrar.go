// Package user provides helpers for user tracking, wallet connection state, and
// audience lookups.
package user

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"ton_wallet_bot/internal/domain"
	"ton_wallet_bot/internal/logging"
)

type userCollection interface {
	UpdateOne(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error)
}

// Registrar ensures users are present in the database, keeps their last-seen
// timestamp updated on every interaction and records wallet connections.
type Registrar struct {
	users  userCollection
	logger *logrus.Entry
	now    func() time.Time
}

// NewRegistrar constructs a Registrar for the provided users collection.
func NewRegistrar(users userCollection, logger *logrus.Entry) *Registrar {
	if logger == nil {
		logger = logging.Logger()
	}

	return &Registrar{
		users:  users,
		logger: logger,
		now:    time.Now,
	}
}

// EnsureUser upserts the user record with a default role if missing and updates
// last_seen_at/updated_at on every call. The username is refreshed when known.
func (r *Registrar) EnsureUser(ctx context.Context, userID int64, username string) (bool, error) {
	if err := r.validate(ctx, userID); err != nil {
		return false, err
	}

	now := r.timestamp()
	setFields := bson.M{
		"updated_at":   now,
		"last_seen_at": now,
	}
	if name := strings.TrimSpace(username); name != "" {
		setFields["username"] = name
	}

	update := bson.M{
		"$set": setFields,
		"$setOnInsert": bson.M{
			"user_id":          userID,
			"role":             domain.RoleUser,
			"wallet_connected": false,
			"created_at":       now,
		},
	}

	result, err := r.users.UpdateOne(ctx,
		bson.M{"user_id": userID},
		update,
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return false, fmt.Errorf("ensure user: %w", err)
	}

	created := result != nil && result.UpsertedCount > 0
	if created {
		r.logger.WithFields(logging.Fields{
			"event":   "user_registered",
			"user_id": userID,
		}).Info("registered new user")
		return true, nil
	}

	r.logger.WithFields(logging.Fields{
		"event":   "user_seen",
		"user_id": userID,
	}).Debug("updated user last seen")

	return false, nil
}

func (r *Registrar) validate(ctx context.Context, userID int64) error {
	if r == nil || r.users == nil {
		return errors.New("user registrar is not initialized")
	}
	if ctx == nil {
		return errors.New("context is required")
	}
	if userID == 0 {
		return errors.New("user id is required")
	}
	return nil
}

func (r *Registrar) timestamp() time.Time {
	now := time.Now
	if r.now != nil {
		now = r.now
	}
	return now().UTC().Truncate(time.Millisecond)
}
