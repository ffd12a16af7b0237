package broadcast

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"

	"ton_wallet_bot/internal/domain"
)

func TestDispatcherDeliverCountsFailures(t *testing.T) {
	sender := &recordingSender{failFor: map[int64]error{2: errors.New("chat not found")}}
	resolver := &stubResolver{ids: []int64{1, 2, 3}}
	hookLogger, hook := logtest.NewNullLogger()
	dispatcher := NewDispatcher(resolver, sender, DispatcherConfig{}, logrus.NewEntry(hookLogger))

	task := domain.ScheduledTask{TaskID: "1-abc", Content: "Hello", ParseMode: "HTML", CreatedBy: 99}
	outcome := dispatcher.Deliver(context.Background(), task)

	if outcome.Status != domain.TaskStatusSent {
		t.Fatalf("expected sent status, got %s", outcome.Status)
	}
	if outcome.Success != 2 || outcome.Failure != 1 || outcome.Total != 3 {
		t.Fatalf("unexpected counters %+v", outcome)
	}
	if outcome.ErrorSummary != "1 of 3 deliveries failed" {
		t.Fatalf("unexpected summary %q", outcome.ErrorSummary)
	}
	if got := sender.chats(); len(got) != 3 {
		t.Fatalf("expected every recipient attempted, got %v", got)
	}
	for _, msg := range sender.sent() {
		if msg.parseMode != "HTML" || msg.text != "Hello" {
			t.Fatalf("unexpected message %+v", msg)
		}
	}

	if entry := findEvent(hook.AllEntries(), "broadcast_send_failed"); entry == nil || entry.Data["chat_id"] != int64(2) {
		t.Fatalf("expected send failure log for chat 2")
	}

	dispatcher.Report(context.Background(), task, outcome)
	last := sender.sent()[len(sender.sent())-1]
	if last.chatID != 99 {
		t.Fatalf("expected report to creator, got chat %d", last.chatID)
	}
	if !strings.Contains(last.text, "Successful: 2, Failed: 1, Total recipients: 3") {
		t.Fatalf("unexpected report %q", last.text)
	}
}

func TestDispatcherEmptyAudienceIsSent(t *testing.T) {
	sender := &recordingSender{}
	dispatcher := NewDispatcher(&stubResolver{}, sender, DispatcherConfig{}, quietLogger())

	outcome := dispatcher.Deliver(context.Background(), domain.ScheduledTask{TaskID: "t", Content: "Hi"})

	if outcome.Status != domain.TaskStatusSent || outcome.Total != 0 || outcome.ErrorSummary != "" {
		t.Fatalf("unexpected outcome %+v", outcome)
	}
	if len(sender.sent()) != 0 {
		t.Fatalf("expected no sends")
	}
}

func TestDispatcherAllFailedIsFailed(t *testing.T) {
	unavailable := ErrRecipientUnavailable
	sender := &recordingSender{failFor: map[int64]error{1: unavailable, 2: unavailable}}
	dispatcher := NewDispatcher(&stubResolver{ids: []int64{1, 2}}, sender, DispatcherConfig{}, quietLogger())

	outcome := dispatcher.Deliver(context.Background(), domain.ScheduledTask{TaskID: "t", Content: "Hi"})

	if outcome.Status != domain.TaskStatusFailed || outcome.Failure != 2 {
		t.Fatalf("unexpected outcome %+v", outcome)
	}
}

func TestDispatcherResolveError(t *testing.T) {
	sender := &recordingSender{}
	dispatcher := NewDispatcher(&stubResolver{err: errors.New("mongo down")}, sender, DispatcherConfig{}, quietLogger())

	outcome := dispatcher.Deliver(context.Background(), domain.ScheduledTask{TaskID: "t", Content: "Hi"})

	if outcome.Status != domain.TaskStatusFailed {
		t.Fatalf("expected failed status, got %s", outcome.Status)
	}
	if !strings.Contains(outcome.ErrorSummary, "resolve audience") {
		t.Fatalf("unexpected summary %q", outcome.ErrorSummary)
	}
	if len(sender.sent()) != 0 {
		t.Fatalf("expected no sends")
	}
}

func TestDispatcherRecoversPanics(t *testing.T) {
	sender := &recordingSender{panicOn: 1}
	dispatcher := NewDispatcher(&stubResolver{ids: []int64{1}}, sender, DispatcherConfig{}, quietLogger())

	outcome := dispatcher.Deliver(context.Background(), domain.ScheduledTask{TaskID: "t", Content: "Hi"})

	if outcome.Status != domain.TaskStatusFailed || !strings.Contains(outcome.ErrorSummary, "dispatch aborted") {
		t.Fatalf("unexpected outcome %+v", outcome)
	}
}

func TestDispatcherTimeoutCountsRemainingAsFailed(t *testing.T) {
	sender := &recordingSender{}
	dispatcher := NewDispatcher(
		&stubResolver{ids: []int64{1, 2, 3}},
		sender,
		DispatcherConfig{SendInterval: time.Second, Timeout: 20 * time.Millisecond},
		quietLogger(),
	)

	outcome := dispatcher.Deliver(context.Background(), domain.ScheduledTask{TaskID: "t", Content: "Hi"})

	if outcome.Success != 1 || outcome.Failure != 2 || outcome.Total != 3 {
		t.Fatalf("unexpected counters %+v", outcome)
	}
	if outcome.Status != domain.TaskStatusSent {
		t.Fatalf("expected sent status with partial success, got %s", outcome.Status)
	}
	if !strings.Contains(outcome.ErrorSummary, "stopped early") {
		t.Fatalf("unexpected summary %q", outcome.ErrorSummary)
	}
}

func TestDispatcherSpacesSends(t *testing.T) {
	const interval = 50 * time.Millisecond
	// Timer wake-up jitter on one send shortens the following gap by the same
	// amount, so single gaps get a small allowance and the total does not.
	const jitter = 10 * time.Millisecond

	sender := &recordingSender{}
	dispatcher := NewDispatcher(
		&stubResolver{ids: []int64{1, 2, 3, 4}},
		sender,
		DispatcherConfig{SendInterval: interval},
		quietLogger(),
	)

	started := time.Now()
	outcome := dispatcher.Deliver(context.Background(), domain.ScheduledTask{TaskID: "t", Content: "Hi"})

	if outcome.Success != 4 || outcome.Failure != 0 {
		t.Fatalf("unexpected counters %+v", outcome)
	}

	sent := sender.sent()
	if len(sent) != 4 {
		t.Fatalf("expected 4 sends, got %d", len(sent))
	}
	for i := 1; i < len(sent); i++ {
		if gap := sent[i].at.Sub(sent[i-1].at); gap < interval-jitter {
			t.Fatalf("send %d followed send %d after %s, want at least %s", i, i-1, gap, interval)
		}
	}
	if total := sent[len(sent)-1].at.Sub(started); total < 3*interval {
		t.Fatalf("4 sends finished after %s, want at least %s", total, 3*interval)
	}
}

func TestDispatcherWithoutIntervalDoesNotWait(t *testing.T) {
	sender := &recordingSender{}
	dispatcher := NewDispatcher(&stubResolver{ids: []int64{1, 2, 3, 4}}, sender, DispatcherConfig{}, quietLogger())

	started := time.Now()
	dispatcher.Deliver(context.Background(), domain.ScheduledTask{TaskID: "t", Content: "Hi"})

	if elapsed := time.Since(started); elapsed > time.Second {
		t.Fatalf("expected unthrottled delivery, took %s", elapsed)
	}
	if len(sender.sent()) != 4 {
		t.Fatalf("expected 4 sends, got %d", len(sender.sent()))
	}
}

func TestDispatcherReportFailureIsLogged(t *testing.T) {
	sender := &recordingSender{failFor: map[int64]error{99: errors.New("blocked")}}
	hookLogger, hook := logtest.NewNullLogger()
	dispatcher := NewDispatcher(&stubResolver{}, sender, DispatcherConfig{}, logrus.NewEntry(hookLogger))

	task := domain.ScheduledTask{TaskID: "t", Content: "Hi", CreatedBy: 99}
	dispatcher.Report(context.Background(), task, Outcome{Status: domain.TaskStatusSent})

	entry := findEvent(hook.AllEntries(), "broadcast_report_failed")
	if entry == nil {
		t.Fatalf("expected report failure to be logged")
	}
	if entry.Level != logrus.ErrorLevel {
		t.Fatalf("expected error level, got %s", entry.Level)
	}
}

func TestFormatReport(t *testing.T) {
	task := domain.ScheduledTask{TaskID: "1-abc", Content: strings.Repeat("x", 60)}
	report := FormatReport(task, Outcome{
		Status:       domain.TaskStatusFailed,
		Failure:      2,
		Total:        2,
		ErrorSummary: "2 of 2 deliveries failed",
	})

	want := "Broadcast 1-abc finished: failed\n" +
		"Successful: 0, Failed: 2, Total recipients: 2\n" +
		"Message: " + strings.Repeat("x", 50) + "...\n" +
		"Error: 2 of 2 deliveries failed"
	if report != want {
		t.Fatalf("unexpected report:\n%s\nwant:\n%s", report, want)
	}
}

type sentMessage struct {
	chatID    int64
	text      string
	parseMode string
	at        time.Time
}

type recordingSender struct {
	mu       sync.Mutex
	messages []sentMessage
	failFor  map[int64]error
	panicOn  int64
}

func (s *recordingSender) SendText(ctx context.Context, chatID int64, text, parseMode string) error {
	if s.panicOn != 0 && chatID == s.panicOn {
		panic("boom")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, sentMessage{chatID: chatID, text: text, parseMode: parseMode, at: time.Now()})
	if err, ok := s.failFor[chatID]; ok {
		return err
	}
	return nil
}

func (s *recordingSender) sent() []sentMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sentMessage(nil), s.messages...)
}

func (s *recordingSender) chats() []int64 {
	var ids []int64
	for _, msg := range s.sent() {
		ids = append(ids, msg.chatID)
	}
	return ids
}

type stubResolver struct {
	ids []int64
	err error
}

func (s *stubResolver) Resolve(context.Context, domain.Audience) ([]int64, error) {
	return s.ids, s.err
}

func quietLogger() *logrus.Entry {
	hookLogger, _ := logtest.NewNullLogger()
	return logrus.NewEntry(hookLogger)
}

func findEvent(entries []*logrus.Entry, event string) *logrus.Entry {
	for _, entry := range entries {
		if entry.Data["event"] == event {
			return entry
		}
	}
	return nil
}
