package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/SinzaXh/Shein-suto-verse/internal/orchestrator"
	"github.com/SinzaXh/Shein-suto-verse/internal/storage"
)

type sentMessage struct {
	ChatID int64
	Text   string
}

type mockNotifier struct {
	mu       sync.Mutex
	messages []sentMessage
}

func (m *mockNotifier) SendMessage(chatID int64, text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, sentMessage{ChatID: chatID, Text: text})
}

func (m *mockNotifier) getMessages() []sentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]sentMessage, len(m.messages))
	copy(cp, m.messages)
	return cp
}

type mockChecker struct {
	mu      sync.Mutex
	checked []int64
	errFor  map[int64]error
	started chan struct{} // signalled on entry when set
	block   chan struct{} // when set, CheckUser waits until it is closed
}

func (m *mockChecker) CheckUser(_ context.Context, userID int64) (orchestrator.Summary, error) {
	if m.started != nil {
		m.started <- struct{}{}
	}
	if m.block != nil {
		<-m.block
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checked = append(m.checked, userID)
	if err := m.errFor[userID]; err != nil {
		return orchestrator.Summary{}, err
	}
	return orchestrator.Summary{}, nil
}

func (m *mockChecker) getChecked() []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]int64, len(m.checked))
	copy(cp, m.checked)
	return cp
}

func newTestStore(t *testing.T) *storage.SQLite {
	t.Helper()
	s, err := storage.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestTriggerChecksAllUsers(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	checker := &mockChecker{}
	notifier := &mockNotifier{}

	sched := New(store, checker, notifier, []int64{100, 200, 300}, time.Minute, testLogger())
	if err := sched.Trigger(ctx, ReasonManual); err != nil {
		t.Fatalf("trigger: %v", err)
	}

	if diff := cmp.Diff([]int64{100, 200, 300}, checker.getChecked()); diff != "" {
		t.Errorf("checked users mismatch (-want +got):\n%s", diff)
	}

	// Users are created on first contact with the roster.
	for _, id := range []int64{100, 200, 300} {
		if _, err := store.GetUser(ctx, id); err != nil {
			t.Errorf("user %d not ensured: %v", id, err)
		}
	}
}

func TestTriggerMutualExclusion(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	block := make(chan struct{})
	started := make(chan struct{}, 1)
	checker := &mockChecker{block: block, started: started}

	sched := New(store, checker, &mockNotifier{}, []int64{100}, time.Minute, testLogger())

	done := make(chan error, 1)
	go func() { done <- sched.Trigger(ctx, ReasonScheduled) }()

	// Wait for the first cycle to hold the guard.
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("first cycle never started")
	}

	if err := sched.Trigger(ctx, ReasonManual); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}

	close(block)
	if err := <-done; err != nil {
		t.Fatalf("first trigger: %v", err)
	}

	// Guard released: a fresh cycle is accepted.
	checker.block = nil
	if err := sched.Trigger(ctx, ReasonManual); err != nil {
		t.Fatalf("trigger after release: %v", err)
	}
}

func TestTriggerContinuesAfterUserError(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	checker := &mockChecker{errFor: map[int64]error{100: errors.New("boom")}}

	sched := New(store, checker, &mockNotifier{}, []int64{100, 200}, time.Minute, testLogger())
	if err := sched.Trigger(ctx, ReasonScheduled); err != nil {
		t.Fatalf("trigger: %v", err)
	}

	if diff := cmp.Diff([]int64{100, 200}, checker.getChecked()); diff != "" {
		t.Errorf("a failing user must not stop the cycle (-want +got):\n%s", diff)
	}
}

func TestTriggerNotifiesOnExpiredSession(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	checker := &mockChecker{errFor: map[int64]error{100: orchestrator.ErrNeedsRelogin}}
	notifier := &mockNotifier{}

	sched := New(store, checker, notifier, []int64{100, 200}, time.Minute, testLogger())
	if err := sched.Trigger(ctx, ReasonScheduled); err != nil {
		t.Fatalf("trigger: %v", err)
	}

	msgs := notifier.getMessages()
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	if diff := cmp.Diff(int64(100), msgs[0].ChatID); diff != "" {
		t.Errorf("chatID mismatch (-want +got):\n%s", diff)
	}

	// The other user is still checked.
	if diff := cmp.Diff([]int64{100, 200}, checker.getChecked()); diff != "" {
		t.Errorf("checked users mismatch (-want +got):\n%s", diff)
	}
}

func TestLastRun(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	sched := New(store, &mockChecker{}, &mockNotifier{}, []int64{100}, time.Minute, testLogger())

	if !sched.LastRun().IsZero() {
		t.Fatal("expected zero LastRun before any cycle")
	}

	before := time.Now().UTC().Add(-time.Second)
	if err := sched.Trigger(ctx, ReasonManual); err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if got := sched.LastRun(); got.Before(before) {
		t.Errorf("LastRun %v is before test start %v", got, before)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	store := newTestStore(t)
	sched := New(store, &mockChecker{}, &mockNotifier{}, nil, 10*time.Millisecond, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		sched.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after context cancellation")
	}
}
