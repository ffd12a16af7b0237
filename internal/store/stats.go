package store

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"

	"ton_wallet_bot/internal/domain"
)

type countCollection interface {
	CountDocuments(ctx context.Context, filter interface{}, opts ...*options.CountOptions) (int64, error)
}

// Stats is a point-in-time snapshot used by diagnostics.
type Stats struct {
	TrackedUsers   int64 `json:"tracked_users"`
	ConnectedUsers int64 `json:"connected_users"`
	PendingTasks   int64 `json:"pending_tasks"`
}

// StatsProvider exposes collection counts for diagnostics without leaking
// MongoDB internals to callers.
type StatsProvider struct {
	users countCollection
	tasks countCollection
}

// NewStatsProvider constructs a StatsProvider backed by the users and
// scheduled task collections.
func NewStatsProvider(users, tasks countCollection) *StatsProvider {
	return &StatsProvider{
		users: users,
		tasks: tasks,
	}
}

// Snapshot counts tracked users, wallet-connected users and pending tasks.
func (p *StatsProvider) Snapshot(ctx context.Context) (Stats, error) {
	if ctx == nil {
		return Stats{}, errors.New("context is required")
	}
	if p == nil || p.users == nil || p.tasks == nil {
		return Stats{}, errors.New("stats provider is not initialized")
	}

	var (
		stats Stats
		err   error
	)

	if stats.TrackedUsers, err = p.users.CountDocuments(ctx, bson.D{}); err != nil {
		return Stats{}, fmt.Errorf("count users: %w", err)
	}
	if stats.ConnectedUsers, err = p.users.CountDocuments(ctx, bson.M{"wallet_connected": true}); err != nil {
		return Stats{}, fmt.Errorf("count connected users: %w", err)
	}
	if stats.PendingTasks, err = p.tasks.CountDocuments(ctx, bson.M{"status": domain.TaskStatusPending}); err != nil {
		return Stats{}, fmt.Errorf("count pending tasks: %w", err)
	}

	return stats, nil
}
