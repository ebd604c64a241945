// Package scheduler drives periodic check cycles across all authorized
// users. Only one cycle runs at a time, whether started by the ticker
// or by a manual /check.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/SinzaXh/Shein-suto-verse/internal/orchestrator"
	"github.com/SinzaXh/Shein-suto-verse/internal/storage"
)

// ErrAlreadyRunning is returned by Trigger when a cycle is in flight.
var ErrAlreadyRunning = errors.New("a check cycle is already running")

// Reason records what started a cycle, for logging.
type Reason string

const (
	ReasonScheduled Reason = "scheduled"
	ReasonManual    Reason = "manual"
)

// Checker runs the full pipeline for one user.
type Checker interface {
	CheckUser(ctx context.Context, userID int64) (orchestrator.Summary, error)
}

// Notifier is the interface for sending Telegram messages.
type Notifier interface {
	SendMessage(chatID int64, text string)
}

// Scheduler owns the global run guard and the user roster.
type Scheduler struct {
	store    storage.Storage
	checker  Checker
	notifier Notifier
	log      *slog.Logger
	tick     time.Duration
	users    []int64

	mu      sync.Mutex
	running bool
	lastRun time.Time
}

// New creates a Scheduler checking the given users every tick.
func New(store storage.Storage, checker Checker, notifier Notifier, users []int64, tick time.Duration, log *slog.Logger) *Scheduler {
	return &Scheduler{
		store:    store,
		checker:  checker,
		notifier: notifier,
		users:    users,
		log:      log,
		tick:     tick,
	}
}

// SetTickInterval overrides the check interval.
func (s *Scheduler) SetTickInterval(d time.Duration) {
	s.tick = d
}

// LastRun reports when the most recent cycle finished. Zero if none ran.
func (s *Scheduler) LastRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun
}

// Run starts the scheduler loop, blocking until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	if err := s.Trigger(ctx, ReasonScheduled); err != nil {
		s.log.Warn("initial cycle skipped", "error", err)
	}

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Trigger(ctx, ReasonScheduled); err != nil {
				// A manual run is still going; the next tick retries.
				s.log.Debug("tick skipped", "error", err)
			}
		}
	}
}

// Trigger runs one full cycle over all users. It returns
// ErrAlreadyRunning without doing anything if a cycle is in flight.
// The guard is released when the cycle ends, however it ends.
func (s *Scheduler) Trigger(ctx context.Context, reason Reason) error {
	if err := s.acquire(); err != nil {
		return err
	}
	defer s.release()

	s.log.Info("check cycle started", "reason", reason, "users", len(s.users))
	start := time.Now()

	for _, userID := range s.users {
		if ctx.Err() != nil {
			break
		}
		s.checkOne(ctx, userID)
	}

	s.log.Info("check cycle finished", "reason", reason, "elapsed", time.Since(start).Round(time.Millisecond))
	return nil
}

func (s *Scheduler) checkOne(ctx context.Context, userID int64) {
	if _, err := s.store.EnsureUser(ctx, userID); err != nil {
		s.log.Error("ensure user", "user_id", userID, "error", err)
		return
	}

	sum, err := s.checker.CheckUser(ctx, userID)
	switch {
	case errors.Is(err, orchestrator.ErrNeedsRelogin):
		s.log.Warn("session expired", "user_id", userID)
		s.notifier.SendMessage(userID, "Your session has expired. Use /login <phone> to sign in again.")
		return
	case err != nil:
		s.log.Error("check user", "user_id", userID, "error", err)
		return
	}

	s.log.Debug("user checked", "user_id", userID,
		"discovered", sum.Discovered, "new_pairs", sum.NewPairs,
		"deliverable", sum.Deliverable, "notified", sum.Notified)
}

func (s *Scheduler) acquire() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrAlreadyRunning
	}
	s.running = true
	return nil
}

func (s *Scheduler) release() {
	s.mu.Lock()
	s.running = false
	s.lastRun = time.Now().UTC()
	s.mu.Unlock()
}
