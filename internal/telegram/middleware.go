package telegram

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"ton_wallet_bot/internal/logging"
)

const (
	trackTimeout       = 3 * time.Second
	adminNotifyTimeout = 5 * time.Second
)

// trackMiddleware records every private-chat user before the update is
// handled. Tracking failures never block the handler.
func (c *Client) trackMiddleware(next bot.HandlerFunc) bot.HandlerFunc {
	return func(ctx context.Context, b *bot.Bot, update *models.Update) {
		if c.users != nil && update != nil {
			meta := extractUpdateMeta(update)
			if meta.private && meta.userID != 0 {
				trackCtx, cancel := context.WithTimeout(ctx, trackTimeout)
				if _, err := c.users.EnsureUser(trackCtx, meta.userID, meta.username); err != nil {
					c.logger.WithFields(logging.Fields{
						"event":   "user_track_error",
						"user_id": meta.userID,
					}).WithError(err).Warn("failed to track user")
				}
				cancel()
			}
		}

		next(ctx, b, update)
	}
}

// recoverMiddleware keeps a panicking handler from taking down polling and
// forwards the failure to the configured administrators.
func (c *Client) recoverMiddleware(next bot.HandlerFunc) bot.HandlerFunc {
	return func(ctx context.Context, b *bot.Bot, update *models.Update) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}

			logCtx := logging.Context{Event: "handler_panic"}
			if update != nil {
				meta := extractUpdateMeta(update)
				logCtx.UserID = meta.userID
				logCtx.ChatID = meta.chatID
			}
			c.logger.WithFields(logCtx.Fields()).WithField("stack", string(debug.Stack())).Errorf("handler panicked: %v", r)

			c.notifyAdmins(ctx, fmt.Sprintf("Bot error while handling an update: %v", r))
		}()

		next(ctx, b, update)
	}
}

func (c *Client) notifyAdmins(ctx context.Context, text string) {
	if c.access == nil {
		return
	}

	notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), adminNotifyTimeout)
	defer cancel()

	for _, adminID := range c.access.Configured() {
		if err := c.SendText(notifyCtx, adminID, text, ""); err != nil {
			c.logger.WithFields(logging.Fields{
				"event":   "admin_notify_failed",
				"user_id": adminID,
			}).WithError(err).Warn("failed to notify admin")
		}
	}
}
