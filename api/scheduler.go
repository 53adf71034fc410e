/*
scheduler.go - Day rollover scheduler

PURPOSE:
  Watches the engine clock for a change of calendar day. On each new day
  it rebuilds every user's aggregate (repairing any drift) and reminds
  users who have not logged anything yet.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - The first check only records the current day
  - A day change triggers one rollover pass; later checks on the same day
    do nothing
  - A failed rebuild or reminder is logged and the pass moves on

CONFIGURATION:
  - CheckInterval: How often to compare days (default: 30 seconds)
  - Enabled: Whether scheduler is active (default: true)
  - Reminders: Whether to notify users (default: true)

USAGE:
  scheduler := NewDayRolloverScheduler(engine, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - habit/engine.go: Rebuild, LoggedOn
*/
package api

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/warp/habit-engine/habit"
)

// Notifier delivers a daily log reminder.
type Notifier interface {
	Remind(ctx context.Context, user habit.UserID, day habit.Date) error
}

// LogNotifier writes reminders to the log.
type LogNotifier struct {
	Logger *zap.Logger
}

func (n LogNotifier) Remind(_ context.Context, user habit.UserID, day habit.Date) error {
	n.Logger.Info("don't forget to log your habits today",
		zap.String("user", string(user)),
		zap.Stringer("date", day),
	)
	return nil
}

// ReminderCounter is notified of each reminder sent.
type ReminderCounter interface {
	ReminderSent()
}

// RolloverResult summarises one rollover pass.
type RolloverResult struct {
	Day      habit.Date
	Users    int
	Drifted  int
	Reminded int
	Failures int
}

// DayRolloverScheduler runs a pass whenever the calendar day changes.
type DayRolloverScheduler struct {
	Engine        *habit.Engine
	Notifier      Notifier
	Counter       ReminderCounter
	Logger        *zap.Logger
	Clock         habit.Clock
	CheckInterval time.Duration
	Enabled       bool
	Reminders     bool

	lastDay habit.Date
	ticker  *time.Ticker
	stop    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	runMu   sync.Mutex
}

// NewDayRolloverScheduler creates a scheduler with defaults.
func NewDayRolloverScheduler(engine *habit.Engine, logger *zap.Logger) *DayRolloverScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DayRolloverScheduler{
		Engine:        engine,
		Notifier:      LogNotifier{Logger: logger},
		Logger:        logger,
		Clock:         habit.SystemClock{},
		CheckInterval: 30 * time.Second,
		Enabled:       true,
		Reminders:     true,
	}
}

// Start begins the scheduler.
func (s *DayRolloverScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		s.Logger.Info("rollover scheduler disabled, not starting")
		return
	}
	if s.ticker != nil {
		return
	}

	s.ticker = time.NewTicker(s.CheckInterval)
	s.stop = make(chan struct{})
	s.wg.Add(1)

	go s.run(s.ticker, s.stop)

	s.Logger.Info("rollover scheduler started", zap.Duration("interval", s.CheckInterval))
}

// Stop stops the scheduler and waits for an in-flight pass.
func (s *DayRolloverScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker != nil {
		s.ticker.Stop()
		close(s.stop)
		s.wg.Wait()
		s.ticker = nil
		s.Logger.Info("rollover scheduler stopped")
	}
}

func (s *DayRolloverScheduler) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer s.wg.Done()

	// Record the starting day
	s.check(context.Background(), s.Clock.Now())

	for {
		select {
		case <-ticker.C:
			s.check(context.Background(), s.Clock.Now())
		case <-stop:
			return
		}
	}
}

// check runs a rollover pass when now falls on a later day than the last
// check. It reports whether a pass ran.
func (s *DayRolloverScheduler) check(ctx context.Context, now time.Time) (RolloverResult, bool) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	today := habit.DateOf(now)
	if s.lastDay.IsZero() {
		s.lastDay = today
		return RolloverResult{}, false
	}
	if !today.After(s.lastDay) {
		return RolloverResult{}, false
	}

	yesterday := s.lastDay
	s.lastDay = today
	s.Logger.Info("new day",
		zap.Stringer("today", today),
		zap.Stringer("previous", yesterday),
	)
	return s.rollover(ctx, today), true
}

// RunNow runs a rollover pass for the current day regardless of the last
// check (for testing/admin).
func (s *DayRolloverScheduler) RunNow(ctx context.Context) RolloverResult {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	today := habit.DateOf(s.Clock.Now())
	s.lastDay = today
	return s.rollover(ctx, today)
}

func (s *DayRolloverScheduler) rollover(ctx context.Context, today habit.Date) RolloverResult {
	result := RolloverResult{Day: today}

	users, err := s.Engine.Users(ctx)
	if err != nil {
		s.Logger.Error("rollover: list users failed", zap.Error(err))
		result.Failures++
		return result
	}
	result.Users = len(users)

	for _, user := range users {
		_, drifted, err := s.Engine.Rebuild(ctx, user)
		if err != nil {
			s.Logger.Error("rollover: rebuild failed", zap.String("user", string(user)), zap.Error(err))
			result.Failures++
			continue
		}
		if drifted {
			result.Drifted++
		}

		if !s.Reminders || s.Notifier == nil {
			continue
		}
		logged, err := s.Engine.LoggedOn(ctx, user, today)
		if err != nil {
			s.Logger.Error("rollover: list today's logs failed", zap.String("user", string(user)), zap.Error(err))
			result.Failures++
			continue
		}
		if len(logged) > 0 {
			continue
		}
		if err := s.Notifier.Remind(ctx, user, today); err != nil {
			s.Logger.Warn("rollover: reminder failed", zap.String("user", string(user)), zap.Error(err))
			result.Failures++
			continue
		}
		result.Reminded++
		if s.Counter != nil {
			s.Counter.ReminderSent()
		}
	}

	s.Logger.Info("rollover completed",
		zap.Stringer("day", today),
		zap.Int("users", result.Users),
		zap.Int("drifted", result.Drifted),
		zap.Int("reminded", result.Reminded),
		zap.Int("failures", result.Failures),
	)
	return result
}
