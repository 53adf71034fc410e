/*
Package sqlite provides a SQLite-backed implementation of the habit storage
interfaces.

PURPOSE:
  Implements habit.Catalog and habit.Store (event log + aggregates + unit
  of work) on SQLite. The same schema ports to PostgreSQL with only minor
  dialect changes.

INTERFACES IMPLEMENTED:
  habit.Catalog:        Habit definitions
  habit.EventLog:       Per-user log entries
  habit.AggregateStore: Persisted aggregates
  habit.Store:          WithTx over the two above

APPEND-ONLY ENFORCEMENT:
  - No UPDATE statements on log_entries
  - The only DELETE removes a user's single most recent entry (undo)

KEY TABLES:
  habits:      Catalog, keyed by name
  log_entries: Ledger of logged habits; seq is the append order
  aggregates:  One projected aggregate per user

INDEXES:
  - idx_log_entries_user_date: Replay and calendar range queries (hot path)
  - idx_log_entries_user_habit_date: Daily duplicate check
  - idx_log_entries_user_recency: Undo target lookup

WAL MODE:
  Opened with WAL so readers do not block the single writer.

USAGE:
  store, err := sqlite.New("./data/habits.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := habit.NewEngine(store, store)

SEE ALSO:
  - habit/store.go: Interface definitions
  - habit/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/warp/habit-engine/habit"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Every connection to ":memory:" opens a separate database.
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Habit catalog
	CREATE TABLE IF NOT EXISTS habits (
		name TEXT PRIMARY KEY,
		kind TEXT NOT NULL CHECK (kind IN ('good', 'bad')),
		points INTEGER NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Log entries (append-only, undo removes the tail)
	CREATE TABLE IF NOT EXISTS log_entries (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		user_id TEXT NOT NULL,
		habit_name TEXT NOT NULL,
		point_value INTEGER NOT NULL,
		calendar_date TEXT NOT NULL,
		occurred_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_log_entries_user_date
		ON log_entries(user_id, calendar_date);

	CREATE INDEX IF NOT EXISTS idx_log_entries_user_habit_date
		ON log_entries(user_id, habit_name, calendar_date);

	CREATE INDEX IF NOT EXISTS idx_log_entries_user_recency
		ON log_entries(user_id, occurred_at DESC, calendar_date DESC, seq DESC);

	-- Aggregates (projection of log_entries)
	CREATE TABLE IF NOT EXISTS aggregates (
		user_id TEXT PRIMARY KEY,
		total_points INTEGER NOT NULL,
		level INTEGER NOT NULL,
		streak INTEGER NOT NULL,
		last_action_date TEXT NOT NULL DEFAULT '',
		day_points INTEGER NOT NULL DEFAULT 0,
		previous_action_date TEXT NOT NULL DEFAULT '',
		previous_streak INTEGER NOT NULL DEFAULT 0,
		updated_at TEXT NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// CATALOG (habit.Catalog interface)
// =============================================================================

func (s *Store) Lookup(ctx context.Context, name string) (habit.HabitDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var def habit.HabitDefinition
	var kind string
	err := s.db.QueryRowContext(ctx,
		`SELECT name, kind, points FROM habits WHERE name = ?`, name,
	).Scan(&def.Name, &kind, &def.PointValue)
	if errors.Is(err, sql.ErrNoRows) {
		return habit.HabitDefinition{}, habit.ErrHabitNotFound
	}
	if err != nil {
		return habit.HabitDefinition{}, fmt.Errorf("failed to lookup habit: %w", err)
	}
	def.Kind = habit.Kind(kind)
	return def, nil
}

func (s *Store) Upsert(ctx context.Context, def habit.HabitDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO habits (name, kind, points, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			kind = excluded.kind,
			points = excluded.points,
			updated_at = excluded.updated_at
	`, def.Name, string(def.Kind), def.PointValue, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to upsert habit: %w", err)
	}
	return nil
}

// List returns good habits first, then by points descending.
func (s *Store) List(ctx context.Context) ([]habit.HabitDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT name, kind, points FROM habits
		ORDER BY CASE kind WHEN 'good' THEN 0 ELSE 1 END, points DESC, name ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list habits: %w", err)
	}
	defer rows.Close()

	var defs []habit.HabitDefinition
	for rows.Next() {
		var def habit.HabitDefinition
		var kind string
		if err := rows.Scan(&def.Name, &kind, &def.PointValue); err != nil {
			return nil, fmt.Errorf("failed to scan habit: %w", err)
		}
		def.Kind = habit.Kind(kind)
		defs = append(defs, def)
	}
	return defs, rows.Err()
}

// =============================================================================
// EVENT LOG + AGGREGATES (habit.Store interface)
// =============================================================================

func (s *Store) Append(ctx context.Context, entry habit.LogEntry) (habit.LogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendEntry(ctx, s.db, entry)
}

func (s *Store) ListByUser(ctx context.Context, user habit.UserID) ([]habit.LogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listByUser(ctx, s.db, user)
}

func (s *Store) ListRange(ctx context.Context, user habit.UserID, from, to habit.Date) ([]habit.LogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listRange(ctx, s.db, user, from, to)
}

func (s *Store) HasEntry(ctx context.Context, user habit.UserID, habitName string, date habit.Date) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return hasEntry(ctx, s.db, user, habitName, date)
}

func (s *Store) Recent(ctx context.Context, user habit.UserID, limit int) ([]habit.LogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return recent(ctx, s.db, user, limit)
}

func (s *Store) DeleteMostRecent(ctx context.Context, user habit.UserID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deleteMostRecent(ctx, s.db, user)
}

func (s *Store) GetAggregate(ctx context.Context, user habit.UserID) (habit.UserAggregate, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getAggregate(ctx, s.db, user)
}

func (s *Store) PutAggregate(ctx context.Context, user habit.UserID, agg habit.UserAggregate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return putAggregate(ctx, s.db, user, agg)
}

func (s *Store) ListUsers(ctx context.Context) ([]habit.UserID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listUsers(ctx, s.db)
}

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(tx habit.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// txStore runs every call on the open transaction. It never takes s.mu,
// which WithTx already holds.
type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) Append(ctx context.Context, entry habit.LogEntry) (habit.LogEntry, error) {
	return appendEntry(ctx, ts.tx, entry)
}

func (ts *txStore) ListByUser(ctx context.Context, user habit.UserID) ([]habit.LogEntry, error) {
	return listByUser(ctx, ts.tx, user)
}

func (ts *txStore) ListRange(ctx context.Context, user habit.UserID, from, to habit.Date) ([]habit.LogEntry, error) {
	return listRange(ctx, ts.tx, user, from, to)
}

func (ts *txStore) HasEntry(ctx context.Context, user habit.UserID, habitName string, date habit.Date) (bool, error) {
	return hasEntry(ctx, ts.tx, user, habitName, date)
}

func (ts *txStore) Recent(ctx context.Context, user habit.UserID, limit int) ([]habit.LogEntry, error) {
	return recent(ctx, ts.tx, user, limit)
}

func (ts *txStore) DeleteMostRecent(ctx context.Context, user habit.UserID) (bool, error) {
	return deleteMostRecent(ctx, ts.tx, user)
}

func (ts *txStore) GetAggregate(ctx context.Context, user habit.UserID) (habit.UserAggregate, bool, error) {
	return getAggregate(ctx, ts.tx, user)
}

func (ts *txStore) PutAggregate(ctx context.Context, user habit.UserID, agg habit.UserAggregate) error {
	return putAggregate(ctx, ts.tx, user, agg)
}

func (ts *txStore) ListUsers(ctx context.Context) ([]habit.UserID, error) {
	return listUsers(ctx, ts.tx)
}

// =============================================================================
// QUERIES
// =============================================================================

const entryColumns = `seq, id, user_id, habit_name, point_value, calendar_date, occurred_at`

func appendEntry(ctx context.Context, db querier, entry habit.LogEntry) (habit.LogEntry, error) {
	res, err := db.ExecContext(ctx, `
		INSERT INTO log_entries (id, user_id, habit_name, point_value, calendar_date, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		string(entry.ID),
		string(entry.Owner),
		entry.HabitName,
		entry.PointValue,
		entry.CalendarDate.String(),
		entry.OccurredAt.UnixNano(),
	)
	if err != nil {
		return habit.LogEntry{}, fmt.Errorf("failed to append log entry: %w", err)
	}

	seq, err := res.LastInsertId()
	if err != nil {
		return habit.LogEntry{}, fmt.Errorf("failed to read log entry seq: %w", err)
	}
	entry.Seq = seq
	return entry, nil
}

func listByUser(ctx context.Context, db querier, user habit.UserID) ([]habit.LogEntry, error) {
	return queryEntries(ctx, db, `
		SELECT `+entryColumns+` FROM log_entries
		WHERE user_id = ?
		ORDER BY calendar_date ASC, occurred_at ASC, seq ASC
	`, string(user))
}

func listRange(ctx context.Context, db querier, user habit.UserID, from, to habit.Date) ([]habit.LogEntry, error) {
	return queryEntries(ctx, db, `
		SELECT `+entryColumns+` FROM log_entries
		WHERE user_id = ? AND calendar_date >= ? AND calendar_date <= ?
		ORDER BY calendar_date ASC, occurred_at ASC, seq ASC
	`, string(user), from.String(), to.String())
}

func hasEntry(ctx context.Context, db querier, user habit.UserID, habitName string, date habit.Date) (bool, error) {
	var exists bool
	err := db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM log_entries
			WHERE user_id = ? AND habit_name = ? AND calendar_date = ?
		)
	`, string(user), habitName, date.String()).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check log entry: %w", err)
	}
	return exists, nil
}

func recent(ctx context.Context, db querier, user habit.UserID, limit int) ([]habit.LogEntry, error) {
	return queryEntries(ctx, db, `
		SELECT `+entryColumns+` FROM log_entries
		WHERE user_id = ?
		ORDER BY calendar_date DESC, occurred_at DESC, seq DESC
		LIMIT ?
	`, string(user), limit)
}

func deleteMostRecent(ctx context.Context, db querier, user habit.UserID) (bool, error) {
	res, err := db.ExecContext(ctx, `
		DELETE FROM log_entries WHERE seq = (
			SELECT seq FROM log_entries
			WHERE user_id = ?
			ORDER BY occurred_at DESC, calendar_date DESC, seq DESC
			LIMIT 1
		)
	`, string(user))
	if err != nil {
		return false, fmt.Errorf("failed to delete log entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to delete log entry: %w", err)
	}
	return n > 0, nil
}

func queryEntries(ctx context.Context, db querier, query string, args ...any) ([]habit.LogEntry, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query log entries: %w", err)
	}
	defer rows.Close()

	var entries []habit.LogEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func scanEntry(rows *sql.Rows) (habit.LogEntry, error) {
	var (
		entry          habit.LogEntry
		id, user, date string
		occurredAt     int64
	)
	if err := rows.Scan(&entry.Seq, &id, &user, &entry.HabitName, &entry.PointValue, &date, &occurredAt); err != nil {
		return habit.LogEntry{}, fmt.Errorf("failed to scan log entry: %w", err)
	}

	calendarDate, err := habit.ParseDate(date)
	if err != nil {
		return habit.LogEntry{}, fmt.Errorf("log entry %s: %w", id, err)
	}
	entry.ID = habit.EntryID(id)
	entry.Owner = habit.UserID(user)
	entry.CalendarDate = calendarDate
	entry.OccurredAt = time.Unix(0, occurredAt).UTC()
	return entry, nil
}

func getAggregate(ctx context.Context, db querier, user habit.UserID) (habit.UserAggregate, bool, error) {
	var (
		agg                    habit.UserAggregate
		lastAction, prevAction string
	)
	err := db.QueryRowContext(ctx, `
		SELECT total_points, level, streak, last_action_date,
		       day_points, previous_action_date, previous_streak
		FROM aggregates WHERE user_id = ?
	`, string(user)).Scan(
		&agg.TotalPoints, &agg.Level, &agg.Streak, &lastAction,
		&agg.DayPoints, &prevAction, &agg.PreviousStreak,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return habit.UserAggregate{}, false, nil
	}
	if err != nil {
		return habit.UserAggregate{}, false, fmt.Errorf("failed to get aggregate: %w", err)
	}

	if agg.LastActionDate, err = parseOptionalDate(lastAction); err != nil {
		return habit.UserAggregate{}, false, err
	}
	if agg.PreviousActionDate, err = parseOptionalDate(prevAction); err != nil {
		return habit.UserAggregate{}, false, err
	}
	return agg, true, nil
}

func putAggregate(ctx context.Context, db querier, user habit.UserID, agg habit.UserAggregate) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO aggregates
		(user_id, total_points, level, streak, last_action_date,
		 day_points, previous_action_date, previous_streak, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			total_points = excluded.total_points,
			level = excluded.level,
			streak = excluded.streak,
			last_action_date = excluded.last_action_date,
			day_points = excluded.day_points,
			previous_action_date = excluded.previous_action_date,
			previous_streak = excluded.previous_streak,
			updated_at = excluded.updated_at
	`,
		string(user),
		agg.TotalPoints,
		agg.Level,
		agg.Streak,
		agg.LastActionDate.String(),
		agg.DayPoints,
		agg.PreviousActionDate.String(),
		agg.PreviousStreak,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to put aggregate: %w", err)
	}
	return nil
}

func listUsers(ctx context.Context, db querier) ([]habit.UserID, error) {
	rows, err := db.QueryContext(ctx, `SELECT user_id FROM aggregates ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []habit.UserID
	for rows.Next() {
		var user string
		if err := rows.Scan(&user); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, habit.UserID(user))
	}
	return users, rows.Err()
}

// =============================================================================
// MAINTENANCE
// =============================================================================

// Reset removes every log entry and aggregate. The catalog is kept.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `DELETE FROM log_entries; DELETE FROM aggregates;`)
	if err != nil {
		return fmt.Errorf("failed to reset store: %w", err)
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func parseOptionalDate(s string) (habit.Date, error) {
	if s == "" {
		return habit.Date{}, nil
	}
	return habit.ParseDate(s)
}
