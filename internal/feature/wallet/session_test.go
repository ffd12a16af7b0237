package wallet

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
)

const validFriendly = "EQCD39VS5jcptHL8vMjEXrzGaRcCVYto7HUn4bpAOg8xqB2N"

func TestServiceCompleteStoresAddress(t *testing.T) {
	store := &fakeWalletStore{}
	svc := NewService(store, time.Minute, quietLogger())

	svc.Begin(100, 7)
	if !svc.Pending(100) {
		t.Fatalf("expected session to be pending")
	}

	address, err := svc.Complete(context.Background(), 100, validFriendly)
	if err != nil {
		t.Fatalf("Complete returned error: %v", err)
	}
	if address != foundationRaw {
		t.Fatalf("expected normalized address, got %q", address)
	}
	if store.setUser != 7 || store.setAddress != foundationRaw {
		t.Fatalf("unexpected stored wallet %d %q", store.setUser, store.setAddress)
	}
	if svc.Pending(100) {
		t.Fatalf("expected session to be closed after completion")
	}
}

func TestServiceCompleteKeepsSessionOnInvalidAddress(t *testing.T) {
	store := &fakeWalletStore{}
	svc := NewService(store, time.Minute, quietLogger())
	svc.Begin(100, 7)

	if _, err := svc.Complete(context.Background(), 100, "not-an-address"); !errors.Is(err, ErrInvalidAddress) {
		t.Fatalf("expected ErrInvalidAddress, got %v", err)
	}
	if !svc.Pending(100) {
		t.Fatalf("expected session to stay open for retry")
	}
	if store.setCalls != 0 {
		t.Fatalf("expected no store writes")
	}
}

func TestServiceCompleteWithoutSession(t *testing.T) {
	svc := NewService(&fakeWalletStore{}, time.Minute, quietLogger())

	if _, err := svc.Complete(context.Background(), 100, validFriendly); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession, got %v", err)
	}
}

func TestServiceDisconnect(t *testing.T) {
	store := &fakeWalletStore{cleared: true}
	svc := NewService(store, time.Minute, quietLogger())
	svc.Begin(100, 7)

	removed, err := svc.Disconnect(context.Background(), 100, 7)
	if err != nil || !removed {
		t.Fatalf("expected disconnect to succeed, got %v, %v", removed, err)
	}
	if svc.Pending(100) {
		t.Fatalf("expected session to be aborted")
	}
	if store.clearedUser != 7 {
		t.Fatalf("expected wallet cleared for user 7, got %d", store.clearedUser)
	}
}

func TestServiceExpiredSessionNotifiesChat(t *testing.T) {
	notifier := &fakeNotifier{sent: make(chan int64, 1)}
	hookLogger, hook := logtest.NewNullLogger()
	svc := NewService(&fakeWalletStore{}, 30*time.Millisecond, logrus.NewEntry(hookLogger))
	svc.SetNotifier(notifier)

	svc.Begin(100, 7)

	select {
	case chatID := <-notifier.sent:
		if chatID != 100 {
			t.Fatalf("expected notice to chat 100, got %d", chatID)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("expected expiry notice")
	}

	if svc.Pending(100) {
		t.Fatalf("expected expired session to be gone")
	}

	found := false
	for _, entry := range hook.AllEntries() {
		if entry.Data["event"] == "wallet_session_expired" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected expiry log entry")
	}
}

func TestServiceAbortDoesNotNotify(t *testing.T) {
	notifier := &fakeNotifier{sent: make(chan int64, 1)}
	svc := NewService(&fakeWalletStore{}, 30*time.Millisecond, quietLogger())
	svc.SetNotifier(notifier)

	svc.Begin(100, 7)
	if !svc.Abort(100) {
		t.Fatalf("expected abort to close the session")
	}
	if svc.Abort(100) {
		t.Fatalf("expected second abort to report false")
	}

	select {
	case chatID := <-notifier.sent:
		t.Fatalf("unexpected notice to chat %d", chatID)
	case <-time.After(150 * time.Millisecond):
	}
}

func TestServiceCapacityEvictionDoesNotNotify(t *testing.T) {
	notifier := &fakeNotifier{sent: make(chan int64, 2)}
	hookLogger, hook := logtest.NewNullLogger()
	svc := newService(&fakeWalletStore{}, time.Minute, 1, logrus.NewEntry(hookLogger))
	svc.SetNotifier(notifier)

	svc.Begin(100, 7)
	svc.Begin(200, 8)

	if svc.Pending(100) {
		t.Fatalf("expected oldest session to be evicted")
	}
	if !svc.Pending(200) {
		t.Fatalf("expected newest session to stay open")
	}

	select {
	case chatID := <-notifier.sent:
		t.Fatalf("unexpected timeout notice to chat %d", chatID)
	case <-time.After(150 * time.Millisecond):
	}

	var displaced, expired bool
	for _, entry := range hook.AllEntries() {
		switch entry.Data["event"] {
		case "wallet_session_displaced":
			displaced = entry.Data["chat_id"] == int64(100)
		case "wallet_session_expired":
			expired = true
		}
	}
	if !displaced {
		t.Fatalf("expected displaced log entry for chat 100")
	}
	if expired {
		t.Fatalf("expected no expiry log entry")
	}
}

type fakeWalletStore struct {
	mu          sync.Mutex
	setCalls    int
	setUser     int64
	setAddress  string
	cleared     bool
	clearedUser int64
}

func (f *fakeWalletStore) SetWallet(ctx context.Context, userID int64, address string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setCalls++
	f.setUser = userID
	f.setAddress = address
	return nil
}

func (f *fakeWalletStore) ClearWallet(ctx context.Context, userID int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clearedUser = userID
	return f.cleared, nil
}

type fakeNotifier struct {
	sent chan int64
}

func (f *fakeNotifier) SendText(ctx context.Context, chatID int64, text, parseMode string) error {
	if text != ExpiredMessage {
		return errors.New("unexpected text")
	}
	f.sent <- chatID
	return nil
}

func quietLogger() *logrus.Entry {
	hookLogger, _ := logtest.NewNullLogger()
	return logrus.NewEntry(hookLogger)
}
