package broadcast

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"ton_wallet_bot/internal/domain"
	"ton_wallet_bot/internal/logging"
)

const (
	// DefaultListLimit caps /list_scheduled output.
	DefaultListLimit = 20

	maxClaimsPerSweep = 100
	storeOpTimeout    = 5 * time.Second
)

type taskDispatcher interface {
	Deliver(ctx context.Context, task domain.ScheduledTask) Outcome
	Report(ctx context.Context, task domain.ScheduledTask, outcome Outcome)
}

// Request carries a validated /schedule command.
type Request struct {
	Content       string
	ParseMode     string
	ScheduledTime time.Time
	Audience      domain.Audience
	CreatedBy     int64
}

// Config tunes the scheduler.
type Config struct {
	SweepInterval time.Duration
	ListLimit     int
}

// Service owns the broadcast task lifecycle: scheduling, cancellation,
// listing and the periodic sweep that hands due tasks to the dispatcher.
type Service struct {
	store      TaskStore
	dispatcher taskDispatcher
	cfg        Config
	logger     *logrus.Entry
	now        func() time.Time
	newID      func(time.Time) string

	mu        sync.Mutex
	cron      *cron.Cron
	runCtx    context.Context
	cancelRun context.CancelFunc
	inflight  sync.WaitGroup
}

// NewService constructs a Service.
func NewService(store TaskStore, dispatcher taskDispatcher, cfg Config, logger *logrus.Entry) *Service {
	if logger == nil {
		logger = logging.Logger()
	}
	if cfg.ListLimit <= 0 {
		cfg.ListLimit = DefaultListLimit
	}
	if cfg.SweepInterval < time.Second {
		cfg.SweepInterval = time.Second
	}

	return &Service{
		store:      store,
		dispatcher: dispatcher,
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
		newID:      newTaskID,
	}
}

// Now returns the scheduler clock.
func (s *Service) Now() time.Time {
	return s.now()
}

// Schedule validates and persists a pending task.
func (s *Service) Schedule(ctx context.Context, req Request) (domain.ScheduledTask, error) {
	if s == nil || s.store == nil {
		return domain.ScheduledTask{}, errors.New("broadcast service is not initialized")
	}
	if ctx == nil {
		return domain.ScheduledTask{}, errors.New("context is required")
	}

	content := strings.TrimSpace(req.Content)
	if content == "" {
		return domain.ScheduledTask{}, ErrEmptyContent
	}
	if req.Audience.Kind == domain.AudienceExplicit && len(req.Audience.ChatIDs) == 0 {
		return domain.ScheduledTask{}, ErrEmptyAudience
	}

	now := s.now()
	if !req.ScheduledTime.After(now) {
		return domain.ScheduledTask{}, ErrTimeNotInFuture
	}

	task := domain.ScheduledTask{
		TaskID:        s.newID(now),
		Content:       content,
		ParseMode:     req.ParseMode,
		ScheduledTime: req.ScheduledTime.UTC().Truncate(time.Millisecond),
		Audience:      req.Audience,
		CreatedBy:     req.CreatedBy,
		Status:        domain.TaskStatusPending,
		CreatedAt:     now.UTC().Truncate(time.Millisecond),
	}

	if err := s.store.Create(ctx, task); err != nil {
		return domain.ScheduledTask{}, err
	}

	s.logger.WithFields(logging.Fields{
		"event":          "broadcast_scheduled",
		"task_id":        task.TaskID,
		"user_id":        req.CreatedBy,
		"audience":       task.Audience.Kind,
		"scheduled_time": task.ScheduledTime,
	}).Info("broadcast scheduled")

	return task, nil
}

// Cancel cancels a pending task. It reports false when the task is unknown or
// no longer pending.
func (s *Service) Cancel(ctx context.Context, taskID string) (bool, error) {
	if s == nil || s.store == nil {
		return false, errors.New("broadcast service is not initialized")
	}

	taskID = strings.TrimSpace(taskID)
	if taskID == "" {
		return false, nil
	}

	canceled, err := s.store.Cancel(ctx, taskID, s.now())
	if err != nil {
		return false, err
	}

	if canceled {
		s.logger.WithFields(logging.Fields{
			"event":   "broadcast_canceled",
			"task_id": taskID,
		}).Info("broadcast canceled")
	}

	return canceled, nil
}

// List returns pending tasks followed by recent history.
func (s *Service) List(ctx context.Context) ([]domain.ScheduledTask, error) {
	if s == nil || s.store == nil {
		return nil, errors.New("broadcast service is not initialized")
	}
	return s.store.List(ctx, s.cfg.ListLimit)
}

// Start fails tasks interrupted by a previous run, runs one sweep and then
// sweeps every SweepInterval until Stop.
func (s *Service) Start(ctx context.Context) error {
	if s == nil || s.store == nil || s.dispatcher == nil {
		return errors.New("broadcast service is not initialized")
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return errors.New("broadcast service already started")
	}

	recoverCtx, cancel := context.WithTimeout(ctx, storeOpTimeout)
	interrupted, err := s.store.FailInterrupted(recoverCtx, s.now())
	cancel()
	if err != nil {
		return fmt.Errorf("recover interrupted broadcasts: %w", err)
	}
	if interrupted > 0 {
		s.logger.WithFields(logging.Fields{
			"event": "broadcast_interrupted",
			"count": interrupted,
		}).Warn("marked interrupted broadcasts as failed")
	}

	s.runCtx, s.cancelRun = context.WithCancel(context.WithoutCancel(ctx))

	cronLogger := cron.PrintfLogger(s.logger.WithField("event", "broadcast_cron"))
	s.cron = cron.New(cron.WithChain(
		cron.Recover(cronLogger),
		cron.SkipIfStillRunning(cronLogger),
	))
	runCtx := s.runCtx
	s.cron.Schedule(cron.Every(s.cfg.SweepInterval), cron.FuncJob(func() {
		s.Sweep(runCtx)
	}))
	s.cron.Start()

	s.logger.WithFields(logging.Fields{
		"event":    "broadcast_scheduler_started",
		"interval": s.cfg.SweepInterval.String(),
	}).Info("broadcast scheduler started")

	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		s.Sweep(runCtx)
	}()

	return nil
}

// Sweep claims every due task and starts its dispatch. It returns the number
// of tasks handed to the dispatcher.
func (s *Service) Sweep(ctx context.Context) int {
	started := 0
	for started < maxClaimsPerSweep {
		if ctx.Err() != nil {
			return started
		}

		claimCtx, cancel := context.WithTimeout(ctx, storeOpTimeout)
		task, err := s.store.ClaimDue(claimCtx, s.now())
		cancel()
		if err != nil {
			s.logger.WithField("event", "broadcast_claim_error").WithError(err).Error("failed to claim due broadcast")
			return started
		}
		if task == nil {
			return started
		}

		started++
		s.inflight.Add(1)
		go s.run(ctx, *task)
	}

	return started
}

func (s *Service) run(ctx context.Context, task domain.ScheduledTask) {
	defer s.inflight.Done()

	outcome := s.dispatcher.Deliver(ctx, task)

	completeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeOpTimeout)
	if err := s.store.Complete(completeCtx, task.TaskID, outcome); err != nil {
		s.logger.WithFields(logging.Fields{
			"event":   "broadcast_complete_error",
			"task_id": task.TaskID,
		}).WithError(err).Error("failed to record broadcast outcome")
	}
	cancel()

	s.dispatcher.Report(ctx, task, outcome)
}

// Stop halts the sweep and waits for in-flight dispatches. When ctx expires
// first, running dispatches are canceled and the remaining recipients are
// counted as failed.
func (s *Service) Stop(ctx context.Context) error {
	if s == nil {
		return nil
	}

	s.mu.Lock()
	c := s.cron
	cancelRun := s.cancelRun
	s.cron = nil
	s.mu.Unlock()

	if c == nil {
		return nil
	}

	<-c.Stop().Done()

	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		cancelRun()
		s.logger.WithField("event", "broadcast_scheduler_stopped").Info("broadcast scheduler stopped")
		return nil
	case <-ctx.Done():
		cancelRun()
		<-done
		s.logger.WithField("event", "broadcast_scheduler_stopped").Warn("broadcast scheduler stopped with canceled dispatches")
		return ctx.Err()
	}
}

func newTaskID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%d-%s", now.UnixMilli(), suffix)
}
