package user

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"

	"ton_wallet_bot/internal/domain"
	"ton_wallet_bot/internal/logging"
)

// SetWallet marks the user as wallet-connected with the given address,
// creating the user record when it does not exist yet.
func (r *Registrar) SetWallet(ctx context.Context, userID int64, address string) error {
	if err := r.validate(ctx, userID); err != nil {
		return err
	}

	address = strings.TrimSpace(address)
	if address == "" {
		return errors.New("wallet address is required")
	}

	now := r.timestamp()
	_, err := r.users.UpdateOne(ctx,
		bson.M{"user_id": userID},
		bson.M{
			"$set": bson.M{
				"wallet_connected":    true,
				"wallet_address":      address,
				"wallet_connected_at": now,
				"updated_at":          now,
				"last_seen_at":        now,
			},
			"$setOnInsert": bson.M{
				"user_id":    userID,
				"role":       domain.RoleUser,
				"created_at": now,
			},
		},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("set wallet: %w", err)
	}

	r.logger.WithFields(logging.Fields{
		"event":   "wallet_connected",
		"user_id": userID,
	}).Info("wallet connected")

	return nil
}

// ClearWallet drops the wallet connection. It reports whether a connected
// wallet was actually removed.
func (r *Registrar) ClearWallet(ctx context.Context, userID int64) (bool, error) {
	if err := r.validate(ctx, userID); err != nil {
		return false, err
	}

	now := r.timestamp()
	result, err := r.users.UpdateOne(ctx,
		bson.M{"user_id": userID, "wallet_connected": true},
		bson.M{
			"$set": bson.M{
				"wallet_connected": false,
				"updated_at":       now,
			},
			"$unset": bson.M{
				"wallet_address":      "",
				"wallet_connected_at": "",
			},
		},
	)
	if err != nil {
		return false, fmt.Errorf("clear wallet: %w", err)
	}

	removed := result != nil && result.ModifiedCount > 0
	if removed {
		r.logger.WithFields(logging.Fields{
			"event":   "wallet_disconnected",
			"user_id": userID,
		}).Info("wallet disconnected")
	}

	return removed, nil
}
