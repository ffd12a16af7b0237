package main

import (
	"context"
	"errors"
	"sync"

	"ton_wallet_bot/internal/broadcast"
)

// lateSender forwards to a sender bound after construction.
type lateSender struct {
	mu     sync.RWMutex
	target broadcast.Sender
}

func (s *lateSender) bind(target broadcast.Sender) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.target = target
}

func (s *lateSender) SendText(ctx context.Context, chatID int64, text, parseMode string) error {
	s.mu.RLock()
	target := s.target
	s.mu.RUnlock()

	if target == nil {
		return errors.New("sender is not bound")
	}
	return target.SendText(ctx, chatID, text, parseMode)
}
