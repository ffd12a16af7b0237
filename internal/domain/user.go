package domain

import "time"

// User represents a Telegram user tracked by the bot. For private chats the
// user_id doubles as the chat ID messages are delivered to.
type User struct {
	UserID            int64     `bson:"user_id" json:"user_id"`
	Username          string    `bson:"username,omitempty" json:"username,omitempty"`
	Role              string    `bson:"role" json:"role"`
	WalletConnected   bool      `bson:"wallet_connected" json:"wallet_connected"`
	WalletAddress     string    `bson:"wallet_address,omitempty" json:"wallet_address,omitempty"`
	WalletConnectedAt time.Time `bson:"wallet_connected_at,omitempty" json:"wallet_connected_at,omitempty"`
	CreatedAt         time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt         time.Time `bson:"updated_at" json:"updated_at"`
	LastSeenAt        time.Time `bson:"last_seen_at" json:"last_seen_at"`
}
