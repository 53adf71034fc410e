/*
store.go - Persistence interfaces for the catalog, event log and aggregates

PURPOSE:
  Defines the boundary between the engine and its storage. The engine only
  ever talks to these interfaces; SQLite and in-memory implementations live
  in store/sqlite and habit/store.

KEY INTERFACES:
  Catalog:        Habit definitions keyed by name
  EventLog:       Append-only per-user sequence of LogEntry
  AggregateStore: Persisted UserAggregate snapshot per user
  Store:          EventLog + AggregateStore + WithTx unit of work
  AggregateCache: Optional write-through cache in front of AggregateStore

APPEND-ONLY CONTRACT:
  The event log has exactly one write and one removal:
  - Append(): tail append
  - DeleteMostRecent(): removes the newest entry by (OccurredAt, CalendarDate, Seq)
  There is no Update.

ATOMIC MUTATIONS:
  WithTx() runs append-then-persist (LogHabit) and delete-then-recompute-
  then-persist (UndoLast) as one transaction, so a failure never leaves a
  log change without its aggregate.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite
  - habit/store/memory.go: In-memory for tests and dev
  - store/redis/cache.go: AggregateCache on Redis

SEE ALSO:
  - engine.go: Uses these interfaces
*/
package habit

import "context"

// =============================================================================
// CATALOG
// =============================================================================

// Catalog stores habit definitions. The engine consults it but never mutates
// it except through UpsertHabitDefinition.
type Catalog interface {
	// Lookup returns ErrHabitNotFound when name is unknown.
	Lookup(ctx context.Context, name string) (HabitDefinition, error)

	// Upsert inserts or overwrites by name.
	Upsert(ctx context.Context, def HabitDefinition) error

	// List returns every definition.
	List(ctx context.Context) ([]HabitDefinition, error)
}

// =============================================================================
// EVENT LOG
// =============================================================================

type EventLog interface {
	// Append adds entry to the tail of the owner's sequence and assigns Seq.
	Append(ctx context.Context, entry LogEntry) (LogEntry, error)

	// ListByUser returns all entries of user. No order is guaranteed.
	ListByUser(ctx context.Context, user UserID) ([]LogEntry, error)

	// ListRange returns entries with CalendarDate in [from, to].
	ListRange(ctx context.Context, user UserID, from, to Date) ([]LogEntry, error)

	// HasEntry reports whether (user, habitName, date) is already logged.
	HasEntry(ctx context.Context, user UserID, habitName string, date Date) (bool, error)

	// Recent returns up to limit entries, newest calendar day first.
	Recent(ctx context.Context, user UserID, limit int) ([]LogEntry, error)

	// DeleteMostRecent removes the entry with the greatest
	// (OccurredAt, CalendarDate, Seq). Returns false when the log is empty.
	DeleteMostRecent(ctx context.Context, user UserID) (bool, error)
}

// =============================================================================
// AGGREGATE STORE
// =============================================================================

type AggregateStore interface {
	// GetAggregate returns the stored aggregate and whether one exists.
	GetAggregate(ctx context.Context, user UserID) (UserAggregate, bool, error)

	// PutAggregate overwrites the user's aggregate.
	PutAggregate(ctx context.Context, user UserID, agg UserAggregate) error

	// ListUsers returns every user with a stored aggregate.
	ListUsers(ctx context.Context) ([]UserID, error)
}

// =============================================================================
// STORE - Unit of work over log + aggregates
// =============================================================================

// Tx is the view of the store inside WithTx.
type Tx interface {
	EventLog
	AggregateStore
}

type Store interface {
	Tx

	// WithTx executes fn within a transaction.
	// If fn returns error, every write made through tx is rolled back.
	WithTx(ctx context.Context, fn func(tx Tx) error) error
}

// =============================================================================
// AGGREGATE CACHE - Optional write-through layer
// =============================================================================

type AggregateCache interface {
	// Get returns (agg, true, nil) on hit and (zero, false, nil) on miss.
	Get(ctx context.Context, user UserID) (UserAggregate, bool, error)
	Put(ctx context.Context, user UserID, agg UserAggregate) error
	Invalidate(ctx context.Context, user UserID) error
	// Purge drops every cached aggregate. Cached values outlive the store
	// they were computed from, so a cache is purged before it is served.
	Purge(ctx context.Context) error
}
