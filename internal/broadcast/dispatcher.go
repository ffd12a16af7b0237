package broadcast

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"ton_wallet_bot/internal/domain"
	"ton_wallet_bot/internal/logging"
)

const reportTimeout = 10 * time.Second

// Sender delivers a text message to a chat.
type Sender interface {
	SendText(ctx context.Context, chatID int64, text, parseMode string) error
}

type audienceResolver interface {
	Resolve(ctx context.Context, audience domain.Audience) ([]int64, error)
}

// Outcome summarises one dispatch.
type Outcome struct {
	Status       domain.TaskStatus
	Success      int
	Failure      int
	Total        int
	ErrorSummary string
	FinishedAt   time.Time
}

// DispatcherConfig tunes delivery pacing.
type DispatcherConfig struct {
	// SendInterval is the minimum spacing between two sends; zero disables it.
	SendInterval time.Duration
	// Timeout bounds one dispatch loop; zero disables it.
	Timeout time.Duration
}

// Dispatcher sends a task's content to each recipient of its audience, one at
// a time, and reports the result to the task's creator.
type Dispatcher struct {
	resolver audienceResolver
	sender   Sender
	cfg      DispatcherConfig
	logger   *logrus.Entry
	now      func() time.Time
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(resolver audienceResolver, sender Sender, cfg DispatcherConfig, logger *logrus.Entry) *Dispatcher {
	if logger == nil {
		logger = logging.Logger()
	}

	return &Dispatcher{
		resolver: resolver,
		sender:   sender,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// Deliver resolves the audience and attempts every recipient. Failures of one
// recipient never stop delivery to the rest. Delivery never panics out: a
// panic is converted into a failed outcome.
func (d *Dispatcher) Deliver(ctx context.Context, task domain.ScheduledTask) (outcome Outcome) {
	log := d.logger.
		WithFields(logging.Context{TaskID: task.TaskID, UserID: task.CreatedBy}.Fields()).
		WithField("audience", task.Audience.Kind)

	defer func() {
		if r := recover(); r != nil {
			log.WithField("event", "broadcast_panic").Errorf("broadcast dispatch panicked: %v", r)
			outcome.Status = domain.TaskStatusFailed
			outcome.ErrorSummary = fmt.Sprintf("dispatch aborted: %v", r)
			outcome.FinishedAt = d.now()
		}
	}()

	if d.resolver == nil || d.sender == nil {
		return d.failed(errors.New("dispatcher is not initialized"))
	}

	recipients, err := d.resolver.Resolve(ctx, task.Audience)
	if err != nil {
		log.WithField("event", "broadcast_resolve_error").WithError(err).Error("failed to resolve broadcast audience")
		return d.failed(fmt.Errorf("resolve audience: %w", err))
	}

	loopCtx := ctx
	if d.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		loopCtx, cancel = context.WithTimeout(ctx, d.cfg.Timeout)
		defer cancel()
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if d.cfg.SendInterval > 0 {
		limiter = rate.NewLimiter(rate.Every(d.cfg.SendInterval), 1)
	}

	log.WithFields(logging.Fields{
		"event":      "broadcast_started",
		"recipients": len(recipients),
	}).Info("broadcast dispatch started")

	outcome.Total = len(recipients)
	var stopErr error
	for i, chatID := range recipients {
		if err := limiter.Wait(loopCtx); err != nil {
			stopErr = err
			outcome.Failure += len(recipients) - i
			break
		}

		if err := d.sender.SendText(loopCtx, chatID, task.Content, task.ParseMode); err != nil {
			outcome.Failure++
			entry := log.WithFields(logging.Fields{
				"event":   "broadcast_send_failed",
				"chat_id": chatID,
			}).WithError(err)
			if errors.Is(err, ErrRecipientUnavailable) {
				entry.Debug("broadcast recipient unavailable")
			} else {
				entry.Warn("broadcast send failed")
			}
			continue
		}
		outcome.Success++
	}

	outcome.FinishedAt = d.now()
	outcome.Status = domain.TaskStatusSent
	if outcome.Success == 0 && outcome.Total > 0 {
		outcome.Status = domain.TaskStatusFailed
	}
	outcome.ErrorSummary = summarize(outcome, stopErr)

	fields := logging.Fields{
		"event":   "broadcast_finished",
		"status":  outcome.Status,
		"success": outcome.Success,
		"failed":  outcome.Failure,
		"total":   outcome.Total,
	}
	if outcome.Failure > 0 {
		log.WithFields(fields).Warn("broadcast finished with failures")
	} else {
		log.WithFields(fields).Info("broadcast finished")
	}

	return outcome
}

// Report sends the completion summary to the task's creator. A failed report
// is logged and not retried.
func (d *Dispatcher) Report(ctx context.Context, task domain.ScheduledTask, outcome Outcome) {
	if d.sender == nil || task.CreatedBy == 0 {
		return
	}

	reportCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), reportTimeout)
	defer cancel()

	if err := d.sender.SendText(reportCtx, task.CreatedBy, FormatReport(task, outcome), ""); err != nil {
		d.logger.WithFields(logging.Fields{
			"event":   "broadcast_report_failed",
			"task_id": task.TaskID,
			"chat_id": task.CreatedBy,
		}).WithError(err).Error("failed to deliver broadcast report")
	}
}

// FormatReport renders the completion report sent to the task's creator.
func FormatReport(task domain.ScheduledTask, outcome Outcome) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Broadcast %s finished: %s\n", task.TaskID, outcome.Status)
	fmt.Fprintf(&b, "Successful: %d, Failed: %d, Total recipients: %d\n", outcome.Success, outcome.Failure, outcome.Total)
	fmt.Fprintf(&b, "Message: %s", task.Preview())
	if outcome.ErrorSummary != "" {
		fmt.Fprintf(&b, "\nError: %s", outcome.ErrorSummary)
	}
	return b.String()
}

func (d *Dispatcher) failed(err error) Outcome {
	return Outcome{
		Status:       domain.TaskStatusFailed,
		ErrorSummary: err.Error(),
		FinishedAt:   d.now(),
	}
}

func summarize(outcome Outcome, stopErr error) string {
	if outcome.Failure == 0 {
		return ""
	}

	summary := fmt.Sprintf("%d of %d deliveries failed", outcome.Failure, outcome.Total)
	if stopErr != nil {
		summary += fmt.Sprintf("; stopped early: %v", stopErr)
	}
	return summary
}
