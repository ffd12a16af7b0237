// Package telegram hosts the Telegram client, routing, and handlers.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/sirupsen/logrus"

	"ton_wallet_bot/internal/broadcast"
	"ton_wallet_bot/internal/config"
	"ton_wallet_bot/internal/domain"
	"ton_wallet_bot/internal/feature/wallet"
	"ton_wallet_bot/internal/logging"
	"ton_wallet_bot/internal/store"
)

const maxRetryAfter = 30 * time.Second

type botAPI interface {
	Start(ctx context.Context)
	RegisterHandler(handlerType bot.HandlerType, pattern string, matchType bot.MatchType, f bot.HandlerFunc, m ...bot.Middleware) string
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
}

type userRegistrar interface {
	EnsureUser(ctx context.Context, userID int64, username string) (bool, error)
}

type adminChecker interface {
	IsAdmin(ctx context.Context, userID int64) bool
	Configured() []int64
}

type broadcastScheduler interface {
	Schedule(ctx context.Context, req broadcast.Request) (domain.ScheduledTask, error)
	Cancel(ctx context.Context, taskID string) (bool, error)
	List(ctx context.Context) ([]domain.ScheduledTask, error)
	Now() time.Time
}

type walletFlow interface {
	Begin(chatID, userID int64)
	Pending(chatID int64) bool
	Complete(ctx context.Context, chatID int64, input string) (string, error)
	Connect(ctx context.Context, userID int64, input string) (string, error)
	Disconnect(ctx context.Context, chatID, userID int64) (bool, error)
	SetNotifier(n wallet.Notifier)
}

type userFetcher interface {
	GetByID(ctx context.Context, userID int64) (domain.User, error)
}

type statsProvider interface {
	Snapshot(ctx context.Context) (store.Stats, error)
}

var (
	defaultAllowedUpdates = bot.AllowedUpdates{
		"message",
		"edited_message",
		"callback_query",
		"my_chat_member",
		"chat_member",
	}

	createBot = func(token string, options ...bot.Option) (botAPI, error) {
		return bot.New(token, options...)
	}
)

// Option configures optional client collaborators.
type Option func(*Client)

// WithUserRegistrar tracks every private-chat user.
func WithUserRegistrar(r userRegistrar) Option {
	return func(c *Client) { c.users = r }
}

// WithAccessChecker gates admin commands.
func WithAccessChecker(a adminChecker) Option {
	return func(c *Client) { c.access = a }
}

// WithScheduler enables the broadcast commands.
func WithScheduler(s broadcastScheduler) Option {
	return func(c *Client) { c.scheduler = s }
}

// WithWallet enables the wallet commands and routes expiry notices through
// the client.
func WithWallet(w walletFlow) Option {
	return func(c *Client) { c.wallet = w }
}

// WithUserFetcher enables /wallet status lookups.
func WithUserFetcher(f userFetcher) Option {
	return func(c *Client) { c.profiles = f }
}

// WithStatsProvider enables the admin /stats command.
func WithStatsProvider(p statsProvider) Option {
	return func(c *Client) { c.stats = p }
}

// Client wraps the Telegram bot instance, its handlers and their collaborators.
type Client struct {
	bot    botAPI
	logger *logrus.Entry

	users     userRegistrar
	access    adminChecker
	scheduler broadcastScheduler
	wallet    walletFlow
	profiles  userFetcher
	stats     statsProvider
}

// NewClient initializes the Telegram bot with long polling, middlewares and
// command handlers.
func NewClient(cfg config.Config, logger *logrus.Entry, opts ...Option) (*Client, error) {
	if strings.TrimSpace(cfg.TelegramToken) == "" {
		return nil, errors.New("telegram token is required")
	}
	if logger == nil {
		logger = logging.Logger()
	}

	c := &Client{logger: logger}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}

	tgBot, err := createBot(cfg.TelegramToken,
		bot.WithAllowedUpdates(defaultAllowedUpdates),
		bot.WithMiddlewares(c.recoverMiddleware, c.trackMiddleware),
		bot.WithDefaultHandler(c.handleDefault),
		bot.WithErrorsHandler(errorHandler(logger)),
	)
	if err != nil {
		return nil, fmt.Errorf("init telegram bot client: %w", err)
	}

	c.bot = tgBot
	c.registerHandlers()

	if c.wallet != nil {
		c.wallet.SetNotifier(c)
	}

	return c, nil
}

// Start begins receiving updates via long polling until the context is canceled.
func (c *Client) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	c.logger.WithFields(logging.Fields{
		"event":           "telegram_listen",
		"allowed_updates": defaultAllowedUpdates,
	}).Info("starting telegram long polling")

	c.bot.Start(ctx)

	c.logger.WithField("event", "telegram_stopped").Info("telegram polling stopped")
}

// SendText sends a message to chatID. A rate-limited send is retried once
// after the advertised delay. Recipients that blocked the bot or no longer
// exist are reported as broadcast.ErrRecipientUnavailable.
func (c *Client) SendText(ctx context.Context, chatID int64, text, parseMode string) error {
	if c == nil || c.bot == nil {
		return errors.New("telegram client is not initialized")
	}

	params := &bot.SendMessageParams{ChatID: chatID, Text: text}
	if parseMode != "" {
		params.ParseMode = models.ParseMode(parseMode)
	}

	_, err := c.bot.SendMessage(ctx, params)
	if delay, ok := retryAfter(err); ok {
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		_, err = c.bot.SendMessage(ctx, params)
	}

	return classifySendError(err)
}

func retryAfter(err error) (time.Duration, bool) {
	var tooMany *bot.TooManyRequestsError
	if !errors.As(err, &tooMany) || tooMany.RetryAfter <= 0 {
		return 0, false
	}

	delay := time.Duration(tooMany.RetryAfter) * time.Second
	if delay > maxRetryAfter {
		delay = maxRetryAfter
	}
	return delay, true
}

func classifySendError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, bot.ErrorForbidden) {
		return fmt.Errorf("%w: %v", broadcast.ErrRecipientUnavailable, err)
	}
	if errors.Is(err, bot.ErrorBadRequest) && strings.Contains(strings.ToLower(err.Error()), "chat not found") {
		return fmt.Errorf("%w: %v", broadcast.ErrRecipientUnavailable, err)
	}

	return err
}

// reply answers in the chat of the update and logs failures.
func (c *Client) reply(ctx context.Context, chatID int64, text string) {
	if chatID == 0 {
		return
	}

	if err := c.SendText(ctx, chatID, text, ""); err != nil {
		c.logger.WithFields(logging.Fields{
			"event":   "telegram_reply_failed",
			"chat_id": chatID,
		}).WithError(err).Warn("failed to send reply")
	}
}

type updateMeta struct {
	userID     int64
	chatID     int64
	username   string
	private    bool
	text       string
	updateType string
}

func extractUpdateMeta(update *models.Update) updateMeta {
	switch {
	case update.Message != nil:
		return updateMeta{
			userID:     userID(update.Message.From),
			chatID:     chatID(&update.Message.Chat),
			username:   username(update.Message.From),
			private:    update.Message.Chat.Type == models.ChatTypePrivate,
			text:       strings.TrimSpace(update.Message.Text),
			updateType: "message",
		}
	case update.EditedMessage != nil:
		return updateMeta{
			userID:     userID(update.EditedMessage.From),
			chatID:     chatID(&update.EditedMessage.Chat),
			username:   username(update.EditedMessage.From),
			private:    update.EditedMessage.Chat.Type == models.ChatTypePrivate,
			text:       strings.TrimSpace(update.EditedMessage.Text),
			updateType: "edited_message",
		}
	case update.CallbackQuery != nil:
		return updateMeta{
			userID:     userID(&update.CallbackQuery.From),
			chatID:     messageChatID(update.CallbackQuery.Message),
			username:   username(&update.CallbackQuery.From),
			text:       strings.TrimSpace(update.CallbackQuery.Data),
			updateType: "callback_query",
		}
	case update.MyChatMember != nil:
		return updateMeta{
			userID:     userID(&update.MyChatMember.From),
			chatID:     chatID(&update.MyChatMember.Chat),
			updateType: "my_chat_member",
		}
	case update.ChatMember != nil:
		return updateMeta{
			userID:     userID(&update.ChatMember.From),
			chatID:     chatID(&update.ChatMember.Chat),
			updateType: "chat_member",
		}
	default:
		return updateMeta{updateType: "unknown"}
	}
}

func errorHandler(logger *logrus.Entry) bot.ErrorsHandler {
	if logger == nil {
		logger = logging.Logger()
	}

	return func(err error) {
		if err == nil {
			return
		}

		logger.WithField("event", "telegram_error").WithError(err).Error("telegram polling error")
	}
}

func userID(user *models.User) int64 {
	if user == nil {
		return 0
	}

	return user.ID
}

func username(user *models.User) string {
	if user == nil {
		return ""
	}

	return user.Username
}

func chatID(chat *models.Chat) int64 {
	if chat == nil {
		return 0
	}

	return chat.ID
}

func messageChatID(msg models.MaybeInaccessibleMessage) int64 {
	switch msg.Type {
	case models.MaybeInaccessibleMessageTypeMessage:
		if msg.Message == nil {
			return 0
		}
		return chatID(&msg.Message.Chat)
	case models.MaybeInaccessibleMessageTypeInaccessibleMessage:
		if msg.InaccessibleMessage == nil {
			return 0
		}
		return chatID(&msg.InaccessibleMessage.Chat)
	default:
		return 0
	}
}
