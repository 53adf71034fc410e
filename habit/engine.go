/*
engine.go - Ledger engine orchestrating catalog, log, aggregates and cache

PURPOSE:
  The only entry point callers use to change or read a user's habit state.
  Coordinates the catalog (point values), the event log (source of truth),
  the aggregate store (persisted projection) and an optional cache.

OPERATIONS:
  LogHabit:     lookup -> dedup -> append -> incremental recompute -> persist
  UndoLast:     delete newest -> full replay -> persist
  GetAggregate: cache -> aggregate store
  Rebuild:      full replay, repairs a drifted aggregate (idempotent)

CONCURRENCY:
  Mutations for the same user are serialised by a per-user lock; different
  users proceed in parallel. Reads take no engine lock and may observe the
  state just before an in-flight write.

FAILURE MODEL:
  Append+persist and delete+recompute+persist each run inside Store.WithTx,
  so a storage failure rolls the whole step back. Cache writes happen after
  commit; a cache that cannot be updated is invalidated, or bypassed for
  that user until the next successful write.

SEE ALSO:
  - calculator.go: Apply / Compute
  - buckets.go: Calendar and daily read models
*/
package habit

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultRecentLimit matches the dashboard history size.
const DefaultRecentLimit = 1000

// =============================================================================
// ENGINE
// =============================================================================

type Engine struct {
	catalog  Catalog
	store    Store
	cache    AggregateCache
	clock    Clock
	logger   *zap.Logger
	observer Observer

	locks  *keyedMutex
	bypass sync.Map // UserID -> struct{}: cache may hold a stale aggregate
	newID  func() EntryID
}

type Option func(*Engine)

// WithCache puts a read cache in front of the aggregate store.
func WithCache(c AggregateCache) Option { return func(e *Engine) { e.cache = c } }

// WithClock replaces the system clock (tests, fixed timezones).
func WithClock(c Clock) Option { return func(e *Engine) { e.clock = c } }

func WithLogger(l *zap.Logger) Option { return func(e *Engine) { e.logger = l } }

func WithObserver(o Observer) Option { return func(e *Engine) { e.observer = o } }

// NewEngine wires an engine over catalog and store.
func NewEngine(catalog Catalog, store Store, opts ...Option) *Engine {
	e := &Engine{
		catalog:  catalog,
		store:    store,
		clock:    SystemClock{},
		logger:   zap.NewNop(),
		observer: nopObserver{},
		locks:    newKeyedMutex(),
		newID:    func() EntryID { return EntryID(uuid.NewString()) },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Today is the engine clock's calendar day.
func (e *Engine) Today() Date { return DateOf(e.clock.Now()) }

// =============================================================================
// CATALOG OPERATIONS
// =============================================================================

// UpsertHabitDefinition validates and writes a catalog entry. Existing log
// entries keep the point value they were logged with.
func (e *Engine) UpsertHabitDefinition(ctx context.Context, name string, kind Kind, pointValue int) (err error) {
	defer func() { e.observer.OperationDone(OpUpsert, Outcome(err)) }()

	def := HabitDefinition{Name: name, Kind: kind, PointValue: pointValue}
	if err := def.Validate(); err != nil {
		return err
	}
	if err := e.catalog.Upsert(ctx, def); err != nil {
		return storageErr("upsert habit", "", err)
	}
	e.logger.Info("habit definition saved",
		zap.String("habit", name),
		zap.String("kind", string(kind)),
		zap.Int("points", pointValue),
	)
	return nil
}

// Habits lists the catalog.
func (e *Engine) Habits(ctx context.Context) ([]HabitDefinition, error) {
	defs, err := e.catalog.List(ctx)
	if err != nil {
		return nil, storageErr("list habits", "", err)
	}
	return defs, nil
}

// =============================================================================
// USERS
// =============================================================================

// CreateUser stores the zeroed aggregate for a new user.
func (e *Engine) CreateUser(ctx context.Context, user UserID) error {
	unlock := e.locks.Lock(user)
	defer unlock()

	var agg UserAggregate
	err := e.store.WithTx(ctx, func(tx Tx) error {
		_, found, err := tx.GetAggregate(ctx, user)
		if err != nil {
			return storageErr("get aggregate", user, err)
		}
		if found {
			return ErrUserExists
		}
		if agg, err = e.replay(ctx, tx, user); err != nil {
			return err
		}
		return storageErr("put aggregate", user, tx.PutAggregate(ctx, user, agg))
	})
	if err != nil {
		return storageErr("create user", user, err)
	}
	e.refreshCache(ctx, user, agg)
	e.logger.Info("user created", zap.String("user", string(user)))
	return nil
}

// Users lists every user with an aggregate.
func (e *Engine) Users(ctx context.Context) ([]UserID, error) {
	users, err := e.store.ListUsers(ctx)
	if err != nil {
		return nil, storageErr("list users", "", err)
	}
	return users, nil
}

// =============================================================================
// MUTATIONS
// =============================================================================

// LogHabit records habitName for user on today and returns the point delta.
//
// Errors: ErrInvalidDate, ErrHabitNotFound, ErrAlreadyLoggedToday (as *DuplicateLogError),
// ErrStorageUnavailable.
func (e *Engine) LogHabit(ctx context.Context, user UserID, habitName string, today Date) (delta int, err error) {
	defer func() { e.observer.OperationDone(OpLogHabit, Outcome(err)) }()

	if today.IsZero() {
		return 0, ErrInvalidDate
	}

	def, err := e.catalog.Lookup(ctx, habitName)
	if err != nil {
		return 0, storageErr("lookup habit", user, err)
	}

	unlock := e.locks.Lock(user)
	defer unlock()

	var next UserAggregate
	err = e.store.WithTx(ctx, func(tx Tx) error {
		logged, err := tx.HasEntry(ctx, user, def.Name, today)
		if err != nil {
			return storageErr("check duplicate", user, err)
		}
		if logged {
			return &DuplicateLogError{User: user, Habit: def.Name, Date: today}
		}

		prev, found, err := tx.GetAggregate(ctx, user)
		if err != nil {
			return storageErr("get aggregate", user, err)
		}

		entry, err := tx.Append(ctx, LogEntry{
			ID:           e.newID(),
			Owner:        user,
			HabitName:    def.Name,
			PointValue:   def.PointValue,
			CalendarDate: today,
			OccurredAt:   e.clock.Now().UTC(),
		})
		if err != nil {
			return storageErr("append entry", user, err)
		}

		if next, err = e.recompute(ctx, tx, user, prev, found, entry); err != nil {
			return err
		}
		return storageErr("put aggregate", user, tx.PutAggregate(ctx, user, next))
	})
	if err != nil {
		return 0, storageErr("log habit", user, err)
	}

	e.refreshCache(ctx, user, next)
	e.logger.Debug("habit logged",
		zap.String("user", string(user)),
		zap.String("habit", def.Name),
		zap.Int("points", def.PointValue),
		zap.Stringer("date", today),
		zap.Int("total", next.TotalPoints),
		zap.Int("streak", next.Streak),
	)
	return def.PointValue, nil
}

// UndoLast removes the user's most recent entry and replays the remaining log.
func (e *Engine) UndoLast(ctx context.Context, user UserID) (agg UserAggregate, err error) {
	defer func() { e.observer.OperationDone(OpUndoLast, Outcome(err)) }()

	unlock := e.locks.Lock(user)
	defer unlock()

	err = e.store.WithTx(ctx, func(tx Tx) error {
		deleted, err := tx.DeleteMostRecent(ctx, user)
		if err != nil {
			return storageErr("delete most recent", user, err)
		}
		if !deleted {
			return ErrNothingToUndo
		}
		if agg, err = e.replay(ctx, tx, user); err != nil {
			return err
		}
		return storageErr("put aggregate", user, tx.PutAggregate(ctx, user, agg))
	})
	if err != nil {
		return UserAggregate{}, storageErr("undo last", user, err)
	}

	e.refreshCache(ctx, user, agg)
	e.logger.Debug("last entry undone",
		zap.String("user", string(user)),
		zap.Int("total", agg.TotalPoints),
		zap.Int("streak", agg.Streak),
	)
	return agg, nil
}

// Rebuild replays the user's log and overwrites the stored aggregate when it
// differs. Safe to repeat: a retry after a partial failure converges.
func (e *Engine) Rebuild(ctx context.Context, user UserID) (agg UserAggregate, drifted bool, err error) {
	defer func() { e.observer.OperationDone(OpRebuild, Outcome(err)) }()

	unlock := e.locks.Lock(user)
	defer unlock()

	err = e.store.WithTx(ctx, func(tx Tx) error {
		stored, found, err := tx.GetAggregate(ctx, user)
		if err != nil {
			return storageErr("get aggregate", user, err)
		}
		if agg, err = e.replay(ctx, tx, user); err != nil {
			return err
		}
		drifted = (found && !stored.Equal(agg)) || (!found && agg.HasActivity())
		if !drifted {
			return nil
		}
		return storageErr("put aggregate", user, tx.PutAggregate(ctx, user, agg))
	})
	if err != nil {
		return UserAggregate{}, false, storageErr("rebuild", user, err)
	}

	e.refreshCache(ctx, user, agg)
	if drifted {
		e.observer.DriftRepaired(user)
		e.logger.Warn("aggregate drift repaired",
			zap.String("user", string(user)),
			zap.Int("total", agg.TotalPoints),
			zap.Int("streak", agg.Streak),
		)
	}
	return agg, drifted, nil
}

// =============================================================================
// READS
// =============================================================================

// GetAggregate returns the user's current aggregate. A user without a
// stored aggregate gets the replay of their (normally empty) log.
func (e *Engine) GetAggregate(ctx context.Context, user UserID) (UserAggregate, error) {
	if e.cache != nil && !e.bypassed(user) {
		agg, ok, err := e.cache.Get(ctx, user)
		if err != nil {
			e.logger.Warn("aggregate cache read failed", zap.String("user", string(user)), zap.Error(err))
		} else if ok {
			return agg, nil
		}
	}

	agg, found, err := e.store.GetAggregate(ctx, user)
	if err != nil {
		return UserAggregate{}, storageErr("get aggregate", user, err)
	}
	if found {
		return agg, nil
	}
	return e.replay(ctx, e.store, user)
}

// RecentEntries returns up to limit entries, newest day first.
func (e *Engine) RecentEntries(ctx context.Context, user UserID, limit int) ([]LogEntry, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	entries, err := e.store.Recent(ctx, user, limit)
	if err != nil {
		return nil, storageErr("recent entries", user, err)
	}
	return entries, nil
}

// LoggedOn returns the habit names user logged on date, sorted.
func (e *Engine) LoggedOn(ctx context.Context, user UserID, date Date) ([]string, error) {
	entries, err := e.store.ListRange(ctx, user, date, date)
	if err != nil {
		return nil, storageErr("list range", user, err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.HabitName)
	}
	sort.Strings(names)
	return names, nil
}

// =============================================================================
// INTERNALS
// =============================================================================

// recompute applies entry incrementally when it can, otherwise replays.
func (e *Engine) recompute(ctx context.Context, tx Tx, user UserID, prev UserAggregate, found bool, entry LogEntry) (UserAggregate, error) {
	if !found {
		return e.replay(ctx, tx, user)
	}
	start := time.Now()
	if next, ok := Apply(prev, entry); ok {
		e.observer.Recomputed(RecomputeIncremental, time.Since(start))
		return next, nil
	}
	return e.replay(ctx, tx, user)
}

func (e *Engine) replay(ctx context.Context, log EventLog, user UserID) (UserAggregate, error) {
	start := time.Now()
	entries, err := log.ListByUser(ctx, user)
	if err != nil {
		return UserAggregate{}, storageErr("list entries", user, err)
	}
	agg := Compute(entries)
	e.observer.Recomputed(RecomputeReplay, time.Since(start))
	return agg, nil
}

// refreshCache runs after commit with the user lock held, so cache writes
// land in mutation order.
func (e *Engine) refreshCache(ctx context.Context, user UserID, agg UserAggregate) {
	if e.cache == nil {
		return
	}
	err := e.cache.Put(ctx, user, agg)
	if err == nil {
		e.bypass.Delete(user)
		return
	}
	e.logger.Warn("aggregate cache write failed", zap.String("user", string(user)), zap.Error(err))
	if err := e.cache.Invalidate(ctx, user); err != nil {
		e.logger.Warn("aggregate cache invalidate failed, bypassing", zap.String("user", string(user)), zap.Error(err))
		e.bypass.Store(user, struct{}{})
	}
}

// EvictCache drops user's cached aggregate after a change made directly
// on the store (resets, restores).
func (e *Engine) EvictCache(ctx context.Context, user UserID) {
	if e.cache == nil {
		return
	}
	if err := e.cache.Invalidate(ctx, user); err != nil {
		e.logger.Warn("aggregate cache invalidate failed, bypassing", zap.String("user", string(user)), zap.Error(err))
		e.bypass.Store(user, struct{}{})
	}
}

// PurgeCache drops every cached aggregate and clears the bypass list. Call
// it before serving reads from a cache that may hold values computed from
// another store, and after resetting the store.
func (e *Engine) PurgeCache(ctx context.Context) error {
	if e.cache == nil {
		return nil
	}
	if err := e.cache.Purge(ctx); err != nil {
		return fmt.Errorf("purge aggregate cache: %w", err)
	}
	e.bypass.Range(func(key, _ any) bool {
		e.bypass.Delete(key)
		return true
	})
	e.logger.Info("aggregate cache purged")
	return nil
}

func (e *Engine) bypassed(user UserID) bool {
	_, ok := e.bypass.Load(user)
	return ok
}
