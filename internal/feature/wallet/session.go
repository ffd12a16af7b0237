// Package wallet runs the wallet connection flow: short-lived connect
// sessions per chat, address validation and the persisted connection flag.
package wallet

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sirupsen/logrus"

	"ton_wallet_bot/internal/logging"
)

const (
	// DefaultSessionTTL applies when no TTL is configured.
	DefaultSessionTTL = 10 * time.Minute

	maxSessions   = 10000
	notifyTimeout = 10 * time.Second

	// ExpiredMessage is sent to a chat whose connect session timed out.
	ExpiredMessage = "Wallet connection timed out. Send /connect to try again."
)

// ErrNoSession is returned when a chat has no open connect session.
var ErrNoSession = errors.New("no wallet connection in progress")

// Notifier delivers plain text to a chat.
type Notifier interface {
	SendText(ctx context.Context, chatID int64, text, parseMode string) error
}

type walletStore interface {
	SetWallet(ctx context.Context, userID int64, address string) error
	ClearWallet(ctx context.Context, userID int64) (bool, error)
}

type session struct {
	userID int64
	opened time.Time
	closed atomic.Bool
}

// Service tracks connect sessions keyed by chat ID and persists completed
// connections.
type Service struct {
	store    walletStore
	logger   *logrus.Entry
	ttl      time.Duration
	sessions *expirable.LRU[int64, *session]

	mu       sync.RWMutex
	notifier Notifier
}

// NewService constructs a Service whose sessions expire after ttl.
func NewService(store walletStore, ttl time.Duration, logger *logrus.Entry) *Service {
	return newService(store, ttl, maxSessions, logger)
}

func newService(store walletStore, ttl time.Duration, capacity int, logger *logrus.Entry) *Service {
	if logger == nil {
		logger = logging.Logger()
	}
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}

	s := &Service{
		store:  store,
		logger: logger,
		ttl:    ttl,
	}
	s.sessions = expirable.NewLRU[int64, *session](capacity, s.onEvict, ttl)

	return s
}

// SetNotifier sets the target for session expiry notices.
func (s *Service) SetNotifier(n Notifier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifier = n
}

// Begin opens (or restarts) a connect session for the chat.
func (s *Service) Begin(chatID, userID int64) {
	if old, ok := s.sessions.Peek(chatID); ok {
		old.closed.Store(true)
	}
	s.sessions.Add(chatID, &session{userID: userID, opened: time.Now()})

	s.logger.WithFields(logging.Fields{
		"event":   "wallet_session_opened",
		"chat_id": chatID,
		"user_id": userID,
	}).Debug("wallet connect session opened")
}

// Pending reports whether the chat has an open connect session.
func (s *Service) Pending(chatID int64) bool {
	_, ok := s.sessions.Get(chatID)
	return ok
}

// Abort closes the chat's session without connecting.
func (s *Service) Abort(chatID int64) bool {
	sess, ok := s.sessions.Peek(chatID)
	if !ok {
		return false
	}
	sess.closed.Store(true)
	return s.sessions.Remove(chatID)
}

// Complete validates the address sent in an open session and records the
// connection for the session's user. The session stays open when the address
// is invalid so the user can retry.
func (s *Service) Complete(ctx context.Context, chatID int64, input string) (string, error) {
	sess, ok := s.sessions.Get(chatID)
	if !ok {
		return "", ErrNoSession
	}

	address, err := s.Connect(ctx, sess.userID, input)
	if err != nil {
		return "", err
	}

	sess.closed.Store(true)
	s.sessions.Remove(chatID)

	return address, nil
}

// Connect validates the address and stores it for the user directly.
func (s *Service) Connect(ctx context.Context, userID int64, input string) (string, error) {
	if s.store == nil {
		return "", errors.New("wallet store is not initialized")
	}

	address, err := NormalizeAddress(input)
	if err != nil {
		return "", err
	}

	if err := s.store.SetWallet(ctx, userID, address); err != nil {
		return "", err
	}

	return address, nil
}

// Disconnect clears the user's connection and any open session in chatID.
func (s *Service) Disconnect(ctx context.Context, chatID, userID int64) (bool, error) {
	if s.store == nil {
		return false, errors.New("wallet store is not initialized")
	}

	s.Abort(chatID)
	return s.store.ClearWallet(ctx, userID)
}

func (s *Service) onEvict(chatID int64, sess *session) {
	if sess == nil || sess.closed.Load() {
		return
	}

	// The cache also evicts its oldest entry when full. That session has not
	// timed out, so the chat is not told it did.
	if age := time.Since(sess.opened); age < s.ttl {
		s.logger.WithFields(logging.Fields{
			"event":   "wallet_session_displaced",
			"chat_id": chatID,
			"user_id": sess.userID,
			"age":     age.String(),
		}).Warn("wallet connect session evicted at capacity")
		return
	}

	s.logger.WithFields(logging.Fields{
		"event":   "wallet_session_expired",
		"chat_id": chatID,
		"user_id": sess.userID,
		"opened":  sess.opened.UTC().Format(time.RFC3339),
	}).Info("wallet connect session expired")

	s.mu.RLock()
	notifier := s.notifier
	s.mu.RUnlock()
	if notifier == nil {
		return
	}

	// Eviction runs under the cache lock.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		if err := notifier.SendText(ctx, chatID, ExpiredMessage, ""); err != nil {
			s.logger.WithFields(logging.Fields{
				"event":   "wallet_expiry_notify_failed",
				"chat_id": chatID,
			}).WithError(err).Warn("failed to notify chat about expired session")
		}
	}()
}
