package broadcast

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"ton_wallet_bot/internal/domain"
)

// InterruptedSummary is recorded on tasks whose dispatch was cut short by a
// process restart.
const InterruptedSummary = "interrupted by restart"

// TaskStore persists scheduled tasks and their lifecycle transitions.
type TaskStore interface {
	Create(ctx context.Context, task domain.ScheduledTask) error
	Cancel(ctx context.Context, taskID string, now time.Time) (bool, error)
	List(ctx context.Context, limit int) ([]domain.ScheduledTask, error)
	ClaimDue(ctx context.Context, now time.Time) (*domain.ScheduledTask, error)
	Complete(ctx context.Context, taskID string, outcome Outcome) error
	FailInterrupted(ctx context.Context, now time.Time) (int64, error)
}

type taskCollection interface {
	InsertOne(ctx context.Context, document interface{}, opts ...*options.InsertOneOptions) (*mongo.InsertOneResult, error)
	UpdateOne(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error)
	UpdateMany(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error)
	FindOneAndUpdate(ctx context.Context, filter interface{}, update interface{}, opts ...*options.FindOneAndUpdateOptions) *mongo.SingleResult
	Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) (*mongo.Cursor, error)
}

// MongoStore keeps scheduled tasks in the scheduled_tasks collection. Terminal
// tasks are retained as history.
type MongoStore struct {
	tasks taskCollection
}

// NewMongoStore constructs a MongoStore for the provided collection.
func NewMongoStore(tasks taskCollection) *MongoStore {
	return &MongoStore{tasks: tasks}
}

// Create inserts a new task.
func (s *MongoStore) Create(ctx context.Context, task domain.ScheduledTask) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if task.TaskID == "" {
		return errors.New("task_id is required")
	}

	if _, err := s.tasks.InsertOne(ctx, task); err != nil {
		return fmt.Errorf("insert scheduled task: %w", err)
	}

	return nil
}

// Cancel moves a pending task to canceled. It reports false when no pending
// task matched, which covers unknown ids as well as tasks already dispatched.
func (s *MongoStore) Cancel(ctx context.Context, taskID string, now time.Time) (bool, error) {
	if err := s.ready(ctx); err != nil {
		return false, err
	}

	result, err := s.tasks.UpdateOne(ctx,
		bson.M{"task_id": taskID, "status": domain.TaskStatusPending},
		bson.M{"$set": bson.M{
			"status":      domain.TaskStatusCanceled,
			"finished_at": now.UTC(),
		}},
	)
	if err != nil {
		return false, fmt.Errorf("cancel scheduled task: %w", err)
	}

	return result != nil && result.MatchedCount > 0, nil
}

// List returns pending tasks ordered by execution time followed by the most
// recent history, at most limit entries overall.
func (s *MongoStore) List(ctx context.Context, limit int) ([]domain.ScheduledTask, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, errors.New("limit must be positive")
	}

	pending, err := s.find(ctx,
		bson.M{"status": domain.TaskStatusPending},
		options.Find().
			SetSort(bson.D{{Key: "scheduled_time", Value: 1}}).
			SetLimit(int64(limit)),
	)
	if err != nil {
		return nil, fmt.Errorf("list pending tasks: %w", err)
	}

	remaining := limit - len(pending)
	if remaining <= 0 {
		return pending, nil
	}

	history, err := s.find(ctx,
		bson.M{"status": bson.M{"$ne": domain.TaskStatusPending}},
		options.Find().
			SetSort(bson.D{{Key: "created_at", Value: -1}}).
			SetLimit(int64(remaining)),
	)
	if err != nil {
		return nil, fmt.Errorf("list task history: %w", err)
	}

	return append(pending, history...), nil
}

// ClaimDue atomically moves the earliest due pending task to dispatching and
// returns it, or nil when nothing is due. A task can be claimed only once.
func (s *MongoStore) ClaimDue(ctx context.Context, now time.Time) (*domain.ScheduledTask, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}

	result := s.tasks.FindOneAndUpdate(ctx,
		bson.M{
			"status":         domain.TaskStatusPending,
			"scheduled_time": bson.M{"$lte": now.UTC()},
		},
		bson.M{"$set": bson.M{
			"status":    domain.TaskStatusDispatching,
			"sent_time": now.UTC(),
		}},
		options.FindOneAndUpdate().
			SetSort(bson.D{{Key: "scheduled_time", Value: 1}}).
			SetReturnDocument(options.After),
	)
	if result == nil {
		return nil, errors.New("claim task returned no result")
	}
	if err := result.Err(); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("claim due task: %w", err)
	}

	var task domain.ScheduledTask
	if err := result.Decode(&task); err != nil {
		return nil, fmt.Errorf("decode scheduled task: %w", err)
	}

	return &task, nil
}

// Complete records the terminal outcome of a dispatching task.
func (s *MongoStore) Complete(ctx context.Context, taskID string, outcome Outcome) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if !outcome.Status.Terminal() {
		return fmt.Errorf("outcome status %q is not terminal", outcome.Status)
	}

	result, err := s.tasks.UpdateOne(ctx,
		bson.M{"task_id": taskID, "status": domain.TaskStatusDispatching},
		bson.M{"$set": bson.M{
			"status":           outcome.Status,
			"finished_at":      outcome.FinishedAt.UTC(),
			"success_count":    outcome.Success,
			"failure_count":    outcome.Failure,
			"total_recipients": outcome.Total,
			"error_summary":    outcome.ErrorSummary,
		}},
	)
	if err != nil {
		return fmt.Errorf("complete scheduled task: %w", err)
	}
	if result != nil && result.MatchedCount == 0 {
		return fmt.Errorf("complete scheduled task: %s is not dispatching", taskID)
	}

	return nil
}

// FailInterrupted marks tasks left in dispatching by a previous process as
// failed. They are never re-sent, so recipients reached before the crash do
// not receive the message twice.
func (s *MongoStore) FailInterrupted(ctx context.Context, now time.Time) (int64, error) {
	if err := s.ready(ctx); err != nil {
		return 0, err
	}

	result, err := s.tasks.UpdateMany(ctx,
		bson.M{"status": domain.TaskStatusDispatching},
		bson.M{"$set": bson.M{
			"status":        domain.TaskStatusFailed,
			"finished_at":   now.UTC(),
			"error_summary": InterruptedSummary,
		}},
	)
	if err != nil {
		return 0, fmt.Errorf("fail interrupted tasks: %w", err)
	}
	if result == nil {
		return 0, nil
	}

	return result.ModifiedCount, nil
}

func (s *MongoStore) find(ctx context.Context, filter interface{}, opts *options.FindOptions) ([]domain.ScheduledTask, error) {
	cursor, err := s.tasks.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}

	tasks := make([]domain.ScheduledTask, 0)
	if err := cursor.All(ctx, &tasks); err != nil {
		return nil, err
	}

	return tasks, nil
}

func (s *MongoStore) ready(ctx context.Context) error {
	if s == nil || s.tasks == nil {
		return errors.New("task store is not initialized")
	}
	if ctx == nil {
		return errors.New("context is required")
	}
	return nil
}
