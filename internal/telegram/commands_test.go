package telegram

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/go-telegram/bot/models"

	"ton_wallet_bot/internal/domain"
	"ton_wallet_bot/internal/feature/wallet"
)

func TestHandleConnectOpensSession(t *testing.T) {
	b := &fakeBot{}
	flow := &fakeWallet{}
	client := newTestClient(b, WithWallet(flow))

	client.handleConnect(context.Background(), nil, privateMessage(5, "/connect"))

	if len(flow.begun) != 1 || flow.begun[0] != 5 {
		t.Fatalf("expected session for chat 5, got %v", flow.begun)
	}
	if b.lastText() != connectPrompt {
		t.Fatalf("expected connect prompt, got %q", b.lastText())
	}

	client.handleDefault(context.Background(), nil, privateMessage(5, "abc"))

	if flow.completed != "abc" {
		t.Fatalf("expected address to complete the session, got %q", flow.completed)
	}
	if b.lastText() != "Wallet connected: 0:abc" {
		t.Fatalf("unexpected reply %q", b.lastText())
	}
}

func TestHandleConnectWithAddress(t *testing.T) {
	b := &fakeBot{}
	flow := &fakeWallet{}
	client := newTestClient(b, WithWallet(flow))

	client.handleConnect(context.Background(), nil, privateMessage(5, "/connect EQabc"))

	if flow.connected != "EQabc" || len(flow.begun) != 0 {
		t.Fatalf("expected direct connect, got connected=%q begun=%v", flow.connected, flow.begun)
	}
}

func TestHandleConnectRejectsInvalidAddress(t *testing.T) {
	b := &fakeBot{}
	flow := &fakeWallet{completeErr: wallet.ErrInvalidAddress}
	client := newTestClient(b, WithWallet(flow))

	client.handleConnect(context.Background(), nil, privateMessage(5, "/connect nope"))

	if !strings.Contains(b.lastText(), "does not look like a TON wallet address") {
		t.Fatalf("unexpected reply %q", b.lastText())
	}
}

func TestHandleConnectInGroupAsksForPrivateChat(t *testing.T) {
	b := &fakeBot{}
	flow := &fakeWallet{}
	client := newTestClient(b, WithWallet(flow))

	client.handleConnect(context.Background(), nil, &models.Update{Message: &models.Message{
		From: &models.User{ID: 5},
		Chat: models.Chat{ID: -100, Type: models.ChatTypeGroup},
		Text: "/connect",
	}})

	if len(flow.begun) != 0 {
		t.Fatalf("expected no session in group chats")
	}
	if !strings.Contains(b.lastText(), "private chat") {
		t.Fatalf("unexpected reply %q", b.lastText())
	}
}

func TestDefaultHandlerIgnoresTextWithoutSession(t *testing.T) {
	b := &fakeBot{}
	flow := &fakeWallet{}
	client := newTestClient(b, WithWallet(flow))

	client.handleDefault(context.Background(), nil, privateMessage(5, "hello"))

	if flow.completed != "" || len(b.messages()) != 0 {
		t.Fatalf("expected plain text without session to be ignored")
	}
}

func TestHandleDisconnect(t *testing.T) {
	b := &fakeBot{}
	client := newTestClient(b, WithWallet(&fakeWallet{removed: true}))

	client.handleDisconnect(context.Background(), nil, privateMessage(5, "/disconnect"))
	if b.lastText() != "Wallet disconnected." {
		t.Fatalf("unexpected reply %q", b.lastText())
	}

	client = newTestClient(b, WithWallet(&fakeWallet{}))
	client.handleDisconnect(context.Background(), nil, privateMessage(5, "/disconnect"))
	if b.lastText() != "No wallet is connected." {
		t.Fatalf("unexpected reply %q", b.lastText())
	}
}

func TestHandleWallet(t *testing.T) {
	connectedAt := time.Date(2026, 10, 1, 9, 30, 0, 0, time.UTC)
	profiles := &fakeProfiles{users: map[int64]domain.User{
		5: {UserID: 5, WalletConnected: true, WalletAddress: "0:abc", WalletConnectedAt: connectedAt},
	}}

	b := &fakeBot{}
	client := newTestClient(b, WithUserFetcher(profiles))

	client.handleWallet(context.Background(), nil, privateMessage(5, "/wallet"))
	if b.lastText() != "Connected wallet: 0:abc\nSince: 2026-10-01 09:30:00 UTC" {
		t.Fatalf("unexpected reply %q", b.lastText())
	}

	client.handleWallet(context.Background(), nil, privateMessage(6, "/wallet"))
	if !strings.HasPrefix(b.lastText(), "No wallet is connected.") {
		t.Fatalf("unexpected reply for unknown user %q", b.lastText())
	}

	profiles.err = errors.New("mongo down")
	client.handleWallet(context.Background(), nil, privateMessage(5, "/wallet"))
	if !strings.Contains(b.lastText(), "try again later") {
		t.Fatalf("unexpected reply on error %q", b.lastText())
	}
}

func TestHandleStart(t *testing.T) {
	b := &fakeBot{}
	client := newTestClient(b)

	client.handleStart(context.Background(), nil, privateMessage(5, "/start"))
	if b.lastText() != startText {
		t.Fatalf("unexpected reply %q", b.lastText())
	}
}

type fakeProfiles struct {
	users map[int64]domain.User
	err   error
}

func (f *fakeProfiles) GetByID(_ context.Context, userID int64) (domain.User, error) {
	if f.err != nil {
		return domain.User{}, f.err
	}
	user, ok := f.users[userID]
	if !ok {
		return domain.User{}, domain.ErrUserNotFound
	}
	return user, nil
}
