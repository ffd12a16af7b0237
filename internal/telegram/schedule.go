package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"ton_wallet_bot/internal/broadcast"
	"ton_wallet_bot/internal/domain"
	"ton_wallet_bot/internal/logging"
)

const (
	scheduleUsage = "Usage: /schedule <time> [-all|-active|-inactive|<id,id,...>] [-html|-markdown] <message>\n" +
		"Time: 10s, 5m, 2h or an absolute UTC time such as 2026-01-02T15:04\n" +
		"A number right after the time is read as recipient ids; add -all first to start a message with a number.\n" +
		"-markdown uses Telegram MarkdownV2."
	cancelUsage = "Usage: /cancel_schedule <id>"

	flagHTML     = "-html"
	flagMarkdown = "-markdown"
)

var errConflictingFlags = errors.New("conflicting flags")

type scheduleCommand struct {
	timeToken string
	audience  domain.Audience
	parseMode string
	content   string
}

// parseScheduleArgs splits "<time> [flags] [id list] <message>". Flags and
// the id list may appear in any order before the message; the first other
// token starts the message, whose formatting is kept as typed.
func parseScheduleArgs(args string) (scheduleCommand, error) {
	cmd := scheduleCommand{audience: domain.Audience{Kind: domain.AudienceAll}}

	cmd.timeToken, args = splitToken(args)
	if cmd.timeToken == "" {
		return cmd, fmt.Errorf("%w: time is required", broadcast.ErrInvalidTimeFormat)
	}

	audienceSet := false
	for args != "" {
		token, rest := splitToken(args)

		if kind, ok := broadcast.ParseAudienceFlag(token); ok {
			if audienceSet {
				return cmd, fmt.Errorf("%w: more than one audience", errConflictingFlags)
			}
			cmd.audience = domain.Audience{Kind: kind}
			audienceSet = true
			args = rest
			continue
		}

		if mode, ok := parseModeFlag(token); ok {
			if cmd.parseMode != "" && cmd.parseMode != mode {
				return cmd, fmt.Errorf("%w: choose either -html or -markdown", errConflictingFlags)
			}
			cmd.parseMode = mode
			args = rest
			continue
		}

		// Once the audience is fixed, a leading number belongs to the message.
		if !audienceSet && looksLikeIDList(token) {
			ids, err := broadcast.ParseTargetList(token)
			if err != nil {
				return cmd, err
			}
			cmd.audience = domain.Audience{Kind: domain.AudienceExplicit, ChatIDs: ids}
			audienceSet = true
			args = rest
			continue
		}

		break
	}

	cmd.content = strings.TrimSpace(args)
	if cmd.content == "" {
		return cmd, broadcast.ErrEmptyContent
	}

	return cmd, nil
}

func parseModeFlag(token string) (string, bool) {
	switch strings.ToLower(token) {
	case flagHTML:
		return string(models.ParseModeHTML), true
	case flagMarkdown:
		return string(models.ParseModeMarkdown), true
	default:
		return "", false
	}
}

func looksLikeIDList(token string) bool {
	t := strings.TrimPrefix(token, "-")
	return t != "" && t[0] >= '0' && t[0] <= '9'
}

func (c *Client) handleSchedule(ctx context.Context, _ *bot.Bot, update *models.Update) {
	meta, args, ok := c.adminCommand(ctx, update, commandSchedule)
	if !ok {
		return
	}

	cmd, err := parseScheduleArgs(args)
	if err != nil {
		c.reply(ctx, meta.chatID, scheduleErrorText(err))
		return
	}

	now := c.scheduler.Now()
	at, err := broadcast.ParseTime(cmd.timeToken, now)
	if err != nil {
		c.reply(ctx, meta.chatID, scheduleErrorText(err))
		return
	}

	opCtx, cancel := context.WithTimeout(ctx, handlerTimeout)
	defer cancel()
	task, err := c.scheduler.Schedule(opCtx, broadcast.Request{
		Content:       cmd.content,
		ParseMode:     cmd.parseMode,
		ScheduledTime: at,
		Audience:      cmd.audience,
		CreatedBy:     meta.userID,
	})
	if err != nil {
		if isValidationError(err) {
			c.reply(ctx, meta.chatID, scheduleErrorText(err))
			return
		}
		c.logger.WithFields(logging.Fields{
			"event":   "broadcast_schedule_error",
			"user_id": meta.userID,
		}).WithError(err).Error("failed to schedule broadcast")
		c.reply(ctx, meta.chatID, "Could not schedule the broadcast, please try again later.")
		return
	}

	c.reply(ctx, meta.chatID, formatConfirmation(task, now))
}

func (c *Client) handleCancelSchedule(ctx context.Context, _ *bot.Bot, update *models.Update) {
	meta, args, ok := c.adminCommand(ctx, update, commandCancelSchedule)
	if !ok {
		return
	}

	taskID, _ := splitToken(args)
	if taskID == "" {
		c.reply(ctx, meta.chatID, cancelUsage)
		return
	}

	opCtx, cancel := context.WithTimeout(ctx, handlerTimeout)
	defer cancel()
	canceled, err := c.scheduler.Cancel(opCtx, taskID)
	switch {
	case err != nil:
		c.logger.WithFields(logging.Fields{
			"event":   "broadcast_cancel_error",
			"task_id": taskID,
		}).WithError(err).Error("failed to cancel broadcast")
		c.reply(ctx, meta.chatID, "Could not cancel the broadcast, please try again later.")
	case canceled:
		c.reply(ctx, meta.chatID, fmt.Sprintf("Broadcast %s canceled.", taskID))
	default:
		c.reply(ctx, meta.chatID, fmt.Sprintf("Broadcast %s not found or already dispatched.", taskID))
	}
}

func (c *Client) handleListScheduled(ctx context.Context, _ *bot.Bot, update *models.Update) {
	meta, _, ok := c.adminCommand(ctx, update, commandListScheduled)
	if !ok {
		return
	}

	opCtx, cancel := context.WithTimeout(ctx, handlerTimeout)
	defer cancel()
	tasks, err := c.scheduler.List(opCtx)
	if err != nil {
		c.logger.WithField("event", "broadcast_list_error").WithError(err).Error("failed to list broadcasts")
		c.reply(ctx, meta.chatID, "Could not list broadcasts, please try again later.")
		return
	}

	c.reply(ctx, meta.chatID, formatTaskList(tasks))
}

func (c *Client) handleStats(ctx context.Context, _ *bot.Bot, update *models.Update) {
	meta, _, ok := c.adminCommand(ctx, update, commandStats)
	if !ok || c.stats == nil {
		return
	}

	opCtx, cancel := context.WithTimeout(ctx, handlerTimeout)
	defer cancel()
	stats, err := c.stats.Snapshot(opCtx)
	if err != nil {
		c.logger.WithField("event", "stats_error").WithError(err).Error("failed to load stats")
		c.reply(ctx, meta.chatID, "Could not load stats, please try again later.")
		return
	}

	c.reply(ctx, meta.chatID, fmt.Sprintf(
		"Tracked users: %d\nConnected wallets: %d\nPending broadcasts: %d",
		stats.TrackedUsers, stats.ConnectedUsers, stats.PendingTasks,
	))
}

// adminCommand matches the command and checks permissions. Non-admins get no
// reply at all.
func (c *Client) adminCommand(ctx context.Context, update *models.Update, command string) (updateMeta, string, bool) {
	meta, ok := messageOf(update)
	if !ok || c.scheduler == nil {
		return meta, "", false
	}
	args, ok := commandArgs(meta.text, command)
	if !ok {
		return meta, "", false
	}

	if !c.isAdmin(ctx, meta.userID) {
		c.logger.WithFields(logging.Fields{
			"event":   "admin_command_denied",
			"command": command,
			"user_id": meta.userID,
		}).Debug("ignored admin command from non-admin")
		return meta, "", false
	}

	return meta, args, true
}

func isValidationError(err error) bool {
	for _, target := range []error{
		broadcast.ErrInvalidTimeFormat,
		broadcast.ErrTimeNotInFuture,
		broadcast.ErrInvalidTargetList,
		broadcast.ErrEmptyContent,
		broadcast.ErrEmptyAudience,
		errConflictingFlags,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func scheduleErrorText(err error) string {
	var reason string
	switch {
	case errors.Is(err, broadcast.ErrTimeNotInFuture):
		reason = "The time must be in the future."
	case errors.Is(err, broadcast.ErrInvalidTimeFormat):
		reason = "Invalid time format."
	case errors.Is(err, broadcast.ErrInvalidTargetList):
		reason = "Invalid user id list; use comma-separated numeric ids."
	case errors.Is(err, broadcast.ErrEmptyContent):
		reason = "The message text is empty."
	case errors.Is(err, broadcast.ErrEmptyAudience):
		reason = "The audience is empty."
	case errors.Is(err, errConflictingFlags):
		reason = "Conflicting flags: " + strings.TrimPrefix(err.Error(), errConflictingFlags.Error()+": ") + "."
	default:
		reason = "Invalid command."
	}
	return reason + "\n" + scheduleUsage
}

func formatConfirmation(task domain.ScheduledTask, now time.Time) string {
	var b strings.Builder
	b.WriteString("Broadcast scheduled.\n")
	fmt.Fprintf(&b, "ID: %s\n", task.TaskID)
	fmt.Fprintf(&b, "Time: %s (in %s)\n", formatUTC(task.ScheduledTime), task.ScheduledTime.Sub(now).Round(time.Second))
	fmt.Fprintf(&b, "Audience: %s\n", task.Audience.Describe())
	fmt.Fprintf(&b, "Message: %s", task.Preview())
	return b.String()
}

func formatTaskList(tasks []domain.ScheduledTask) string {
	if len(tasks) == 0 {
		return "No scheduled broadcasts."
	}

	var b strings.Builder
	b.WriteString("Scheduled broadcasts:")
	for _, task := range tasks {
		fmt.Fprintf(&b, "\n\n%s [%s]\n%s, %s", task.TaskID, task.Status, formatUTC(task.ScheduledTime), task.Audience.Describe())
		if task.Status == domain.TaskStatusSent || task.Status == domain.TaskStatusFailed {
			fmt.Fprintf(&b, "\nDelivered %d of %d", task.SuccessCount, task.TotalRecipients)
		}
		fmt.Fprintf(&b, "\n%s", task.Preview())
	}
	return b.String()
}
