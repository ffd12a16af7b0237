package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"ton_wallet_bot/internal/domain"
	"ton_wallet_bot/internal/feature/wallet"
	"ton_wallet_bot/internal/logging"
)

const (
	commandStart          = "/start"
	commandHelp           = "/help"
	commandConnect        = "/connect"
	commandDisconnect     = "/disconnect"
	commandWallet         = "/wallet"
	commandSchedule       = "/schedule"
	commandCancelSchedule = "/cancel_schedule"
	commandListScheduled  = "/list_scheduled"
	commandStats          = "/stats"

	handlerTimeout = 10 * time.Second
)

const (
	startText = "Hi! I keep track of your TON wallet connection.\n" +
		"Send /connect to link a wallet or /help for all commands."

	userHelpText = "Commands:\n" +
		"/connect [address] - link a TON wallet\n" +
		"/disconnect - unlink your wallet\n" +
		"/wallet - show the linked wallet\n" +
		"/help - this message"

	adminHelpText = "\n\nAdmin commands:\n" +
		"/schedule <time> [-all|-active|-inactive|<id,id>] [-html|-markdown] <message>\n" +
		"/cancel_schedule <id>\n" +
		"/list_scheduled\n" +
		"/stats"

	connectPrompt = "Send your TON wallet address (raw 0:... or user-friendly EQ.../UQ...).\n" +
		"The request expires if no address arrives in time."
)

func (c *Client) registerHandlers() {
	routes := []struct {
		command string
		handler bot.HandlerFunc
	}{
		{commandStart, c.handleStart},
		{commandHelp, c.handleHelp},
		{commandConnect, c.handleConnect},
		{commandDisconnect, c.handleDisconnect},
		{commandWallet, c.handleWallet},
		{commandSchedule, c.handleSchedule},
		{commandCancelSchedule, c.handleCancelSchedule},
		{commandListScheduled, c.handleListScheduled},
		{commandStats, c.handleStats},
	}

	for _, route := range routes {
		c.bot.RegisterHandler(bot.HandlerTypeMessageText, route.command, bot.MatchTypePrefix, route.handler)
	}
}

// commandArgs returns the text after command when text invokes it, accepting
// the "/command@botname" form used in groups.
func commandArgs(text, command string) (string, bool) {
	text = strings.TrimSpace(text)
	head, rest := splitToken(text)
	if at := strings.IndexByte(head, '@'); at >= 0 {
		head = head[:at]
	}
	if !strings.EqualFold(head, command) {
		return "", false
	}
	return rest, true
}

// splitToken returns the first whitespace-delimited token and the remainder
// with its leading whitespace removed and inner formatting kept.
func splitToken(s string) (string, string) {
	s = strings.TrimLeft(s, " \t\r\n")
	end := strings.IndexAny(s, " \t\r\n")
	if end < 0 {
		return s, ""
	}
	return s[:end], strings.TrimLeft(s[end:], " \t\r\n")
}

func messageOf(update *models.Update) (updateMeta, bool) {
	if update == nil || update.Message == nil {
		return updateMeta{}, false
	}
	return extractUpdateMeta(update), true
}

func (c *Client) handleStart(ctx context.Context, _ *bot.Bot, update *models.Update) {
	meta, ok := messageOf(update)
	if !ok {
		return
	}
	if _, ok := commandArgs(meta.text, commandStart); !ok {
		return
	}

	c.reply(ctx, meta.chatID, startText)
}

func (c *Client) handleHelp(ctx context.Context, _ *bot.Bot, update *models.Update) {
	meta, ok := messageOf(update)
	if !ok {
		return
	}
	if _, ok := commandArgs(meta.text, commandHelp); !ok {
		return
	}

	text := userHelpText
	if c.isAdmin(ctx, meta.userID) {
		text += adminHelpText
	}
	c.reply(ctx, meta.chatID, text)
}

func (c *Client) handleConnect(ctx context.Context, _ *bot.Bot, update *models.Update) {
	meta, ok := messageOf(update)
	if !ok || c.wallet == nil {
		return
	}
	args, ok := commandArgs(meta.text, commandConnect)
	if !ok || meta.userID == 0 {
		return
	}
	if !meta.private {
		c.reply(ctx, meta.chatID, "Please connect your wallet in a private chat with the bot.")
		return
	}

	if args == "" {
		c.wallet.Begin(meta.chatID, meta.userID)
		c.reply(ctx, meta.chatID, connectPrompt)
		return
	}

	opCtx, cancel := context.WithTimeout(ctx, handlerTimeout)
	defer cancel()
	address, err := c.wallet.Connect(opCtx, meta.userID, args)
	c.replyConnectResult(ctx, meta, address, err)
}

func (c *Client) handleDisconnect(ctx context.Context, _ *bot.Bot, update *models.Update) {
	meta, ok := messageOf(update)
	if !ok || c.wallet == nil {
		return
	}
	if _, ok := commandArgs(meta.text, commandDisconnect); !ok || meta.userID == 0 {
		return
	}

	opCtx, cancel := context.WithTimeout(ctx, handlerTimeout)
	defer cancel()
	removed, err := c.wallet.Disconnect(opCtx, meta.chatID, meta.userID)
	switch {
	case err != nil:
		c.logger.WithFields(logging.Fields{
			"event":   "wallet_disconnect_error",
			"user_id": meta.userID,
		}).WithError(err).Error("failed to disconnect wallet")
		c.reply(ctx, meta.chatID, "Could not disconnect the wallet, please try again later.")
	case removed:
		c.reply(ctx, meta.chatID, "Wallet disconnected.")
	default:
		c.reply(ctx, meta.chatID, "No wallet is connected.")
	}
}

func (c *Client) handleWallet(ctx context.Context, _ *bot.Bot, update *models.Update) {
	meta, ok := messageOf(update)
	if !ok || c.profiles == nil {
		return
	}
	if _, ok := commandArgs(meta.text, commandWallet); !ok || meta.userID == 0 {
		return
	}

	opCtx, cancel := context.WithTimeout(ctx, handlerTimeout)
	defer cancel()
	user, err := c.profiles.GetByID(opCtx, meta.userID)
	if err != nil && !errors.Is(err, domain.ErrUserNotFound) {
		c.logger.WithFields(logging.Fields{
			"event":   "wallet_status_error",
			"user_id": meta.userID,
		}).WithError(err).Error("failed to load wallet status")
		c.reply(ctx, meta.chatID, "Could not load your wallet, please try again later.")
		return
	}

	if !user.WalletConnected {
		c.reply(ctx, meta.chatID, "No wallet is connected. Send /connect to link one.")
		return
	}

	text := fmt.Sprintf("Connected wallet: %s", user.WalletAddress)
	if !user.WalletConnectedAt.IsZero() {
		text += fmt.Sprintf("\nSince: %s", formatUTC(user.WalletConnectedAt))
	}
	c.reply(ctx, meta.chatID, text)
}

// handleDefault completes an open wallet session with a plain-text address
// and logs everything else.
func (c *Client) handleDefault(ctx context.Context, _ *bot.Bot, update *models.Update) {
	if update == nil {
		return
	}

	meta := extractUpdateMeta(update)

	if update.Message != nil && meta.private && c.wallet != nil &&
		meta.text != "" && !strings.HasPrefix(meta.text, "/") && c.wallet.Pending(meta.chatID) {
		opCtx, cancel := context.WithTimeout(ctx, handlerTimeout)
		defer cancel()
		address, err := c.wallet.Complete(opCtx, meta.chatID, meta.text)
		c.replyConnectResult(ctx, meta, address, err)
		return
	}

	fields := logging.Fields{
		"event":       "telegram_update",
		"update_type": meta.updateType,
	}
	if meta.text != "" {
		fields["text"] = meta.text
	}
	if meta.userID != 0 {
		fields["user_id"] = meta.userID
	}
	if meta.chatID != 0 {
		fields["chat_id"] = meta.chatID
	}

	c.logger.WithFields(fields).Info("telegram update received")
}

func (c *Client) replyConnectResult(ctx context.Context, meta updateMeta, address string, err error) {
	switch {
	case err == nil:
		c.reply(ctx, meta.chatID, fmt.Sprintf("Wallet connected: %s", address))
	case errors.Is(err, wallet.ErrInvalidAddress):
		c.reply(ctx, meta.chatID, "That does not look like a TON wallet address. Please send it again.")
	case errors.Is(err, wallet.ErrNoSession):
		c.reply(ctx, meta.chatID, "The connection request expired. Send /connect to try again.")
	default:
		c.logger.WithFields(logging.Fields{
			"event":   "wallet_connect_error",
			"user_id": meta.userID,
		}).WithError(err).Error("failed to connect wallet")
		c.reply(ctx, meta.chatID, "Could not connect the wallet, please try again later.")
	}
}

func (c *Client) isAdmin(ctx context.Context, userID int64) bool {
	if c.access == nil || userID == 0 {
		return false
	}
	return c.access.IsAdmin(ctx, userID)
}

func formatUTC(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04:05") + " UTC"
}
