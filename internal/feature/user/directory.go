package user

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type distinctCollection interface {
	Distinct(ctx context.Context, fieldName string, filter interface{}, opts ...*options.DistinctOptions) ([]interface{}, error)
}

// Directory answers read-only audience queries over tracked users.
type Directory struct {
	users distinctCollection
}

// NewDirectory constructs a Directory over the users collection.
func NewDirectory(users distinctCollection) *Directory {
	return &Directory{users: users}
}

// AllChatIDs returns every chat ID ever recorded.
func (d *Directory) AllChatIDs(ctx context.Context) ([]int64, error) {
	return d.chatIDs(ctx, bson.D{})
}

// ConnectedChatIDs returns chat IDs currently flagged with a connected wallet.
func (d *Directory) ConnectedChatIDs(ctx context.Context) ([]int64, error) {
	return d.chatIDs(ctx, bson.M{"wallet_connected": true})
}

func (d *Directory) chatIDs(ctx context.Context, filter interface{}) ([]int64, error) {
	if d == nil || d.users == nil {
		return nil, errors.New("user directory is not initialized")
	}
	if ctx == nil {
		return nil, errors.New("context is required")
	}

	values, err := d.users.Distinct(ctx, "user_id", filter)
	if err != nil {
		return nil, fmt.Errorf("list user ids: %w", err)
	}

	ids := make([]int64, 0, len(values))
	for _, value := range values {
		switch v := value.(type) {
		case int64:
			ids = append(ids, v)
		case int32:
			ids = append(ids, int64(v))
		case float64:
			ids = append(ids, int64(v))
		default:
			return nil, fmt.Errorf("unexpected user_id type %T", value)
		}
	}

	return ids, nil
}
