package habit_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/warp/habit-engine/catalog"
	"github.com/warp/habit-engine/habit"
	"github.com/warp/habit-engine/habit/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

const (
	exercise    = "Exercise / Physical Activity" // +13
	studied     = "Studied for 2 hours"          // +18
	hydrated    = "Stayed hydrated"              // +12
	lectures    = "Attended lectures on time"    // +11
	socials     = "Overused social media"        // -6
	skippedMeal = "Skipped meal"                 // -9
	upLate      = "Stayed up late"               // -12
)

var day0 = habit.NewDate(2025, time.March, 10)

// stepClock advances one second on every read so OccurredAt is strictly
// increasing across calls.
type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func newStepClock(start time.Time) *stepClock {
	return &stepClock{now: start}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func (c *stepClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func seededMemory(t *testing.T) *store.Memory {
	t.Helper()
	mem := store.NewMemory()
	_, err := catalog.Seed(context.Background(), mem, catalog.Defaults())
	require.NoError(t, err)
	return mem
}

func newTestEngine(t *testing.T, opts ...habit.Option) (*habit.Engine, *store.Memory, *stepClock) {
	t.Helper()
	mem := seededMemory(t)
	clock := newStepClock(day0.Time.Add(9 * time.Hour))
	opts = append([]habit.Option{habit.WithClock(clock)}, opts...)
	return habit.NewEngine(mem, mem, opts...), mem, clock
}

// replayOf is the aggregate a full replay of user's stored log yields.
func replayOf(t *testing.T, log habit.EventLog, user habit.UserID) habit.UserAggregate {
	t.Helper()
	entries, err := log.ListByUser(context.Background(), user)
	require.NoError(t, err)
	return habit.Compute(entries)
}

func requireConsistent(t *testing.T, e *habit.Engine, log habit.EventLog, user habit.UserID) {
	t.Helper()
	agg, err := e.GetAggregate(context.Background(), user)
	require.NoError(t, err)
	want := replayOf(t, log, user)
	require.Truef(t, want.Equal(agg), "aggregate %+v differs from replay %+v", agg, want)
}

func entry(date habit.Date, points int, seq int64) habit.LogEntry {
	return habit.LogEntry{
		Owner:        "u",
		HabitName:    "h",
		PointValue:   points,
		CalendarDate: date,
		OccurredAt:   date.Time.Add(time.Duration(seq) * time.Minute),
		Seq:          seq,
	}
}

// =============================================================================
// FAULT INJECTION
// =============================================================================

var errDiskFull = errors.New("disk full")

// flakyStore fails PutAggregate inside transactions while failPut is set.
type flakyStore struct {
	*store.Memory
	mu      sync.Mutex
	failPut bool
}

func (f *flakyStore) setFailPut(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failPut = v
}

func (f *flakyStore) WithTx(ctx context.Context, fn func(tx habit.Tx) error) error {
	f.mu.Lock()
	fail := f.failPut
	f.mu.Unlock()
	return f.Memory.WithTx(ctx, func(tx habit.Tx) error {
		return fn(flakyTx{Tx: tx, fail: fail})
	})
}

type flakyTx struct {
	habit.Tx
	fail bool
}

func (t flakyTx) PutAggregate(ctx context.Context, user habit.UserID, agg habit.UserAggregate) error {
	if t.fail {
		return errDiskFull
	}
	return t.Tx.PutAggregate(ctx, user, agg)
}

// fakeCache is an in-process habit.AggregateCache with switchable failures.
type fakeCache struct {
	mu             sync.Mutex
	values         map[habit.UserID]habit.UserAggregate
	failPut        bool
	failInvalidate bool
	gets           int
}

func newFakeCache() *fakeCache {
	return &fakeCache{values: make(map[habit.UserID]habit.UserAggregate)}
}

func (c *fakeCache) Get(_ context.Context, user habit.UserID) (habit.UserAggregate, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	agg, ok := c.values[user]
	return agg, ok, nil
}

func (c *fakeCache) Put(_ context.Context, user habit.UserID, agg habit.UserAggregate) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failPut {
		return errors.New("cache down")
	}
	c.values[user] = agg
	return nil
}

func (c *fakeCache) Invalidate(_ context.Context, user habit.UserID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failInvalidate {
		return errors.New("cache down")
	}
	delete(c.values, user)
	return nil
}

func (c *fakeCache) Purge(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failInvalidate {
		return errors.New("cache down")
	}
	c.values = make(map[habit.UserID]habit.UserAggregate)
	return nil
}

func (c *fakeCache) set(user habit.UserID, agg habit.UserAggregate) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[user] = agg
}

func (c *fakeCache) lookup(user habit.UserID) (habit.UserAggregate, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	agg, ok := c.values[user]
	return agg, ok
}

func (c *fakeCache) fail(put, invalidate bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failPut = put
	c.failInvalidate = invalidate
}

// recordingObserver counts engine events.
type recordingObserver struct {
	mu         sync.Mutex
	outcomes   map[string][]string
	recomputes map[string]int
	drifted    []habit.UserID
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{
		outcomes:   make(map[string][]string),
		recomputes: make(map[string]int),
	}
}

func (o *recordingObserver) OperationDone(op, outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes[op] = append(o.outcomes[op], outcome)
}

func (o *recordingObserver) Recomputed(mode string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.recomputes[mode]++
}

func (o *recordingObserver) DriftRepaired(user habit.UserID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.drifted = append(o.drifted, user)
}
