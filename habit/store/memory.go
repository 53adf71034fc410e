// Package store provides in-memory implementations of the habit storage
// interfaces.
package store

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"

	"github.com/warp/habit-engine/habit"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

const shardCount = 32

// Memory implements habit.Catalog and habit.Store. Users are spread over
// shards by hash so writers for different users rarely share a lock.
type Memory struct {
	shards [shardCount]*shard
	seq    atomic.Int64

	catalogMu sync.RWMutex
	habits    map[string]habit.HabitDefinition
}

type shard struct {
	mu         sync.RWMutex
	entries    map[habit.UserID][]habit.LogEntry
	aggregates map[habit.UserID]habit.UserAggregate
}

func NewMemory() *Memory {
	m := &Memory{habits: make(map[string]habit.HabitDefinition)}
	for i := range m.shards {
		m.shards[i] = &shard{
			entries:    make(map[habit.UserID][]habit.LogEntry),
			aggregates: make(map[habit.UserID]habit.UserAggregate),
		}
	}
	return m
}

func (m *Memory) shardFor(user habit.UserID) *shard {
	return m.shards[xxhash.Sum64String(string(user))%shardCount]
}

// =============================================================================
// CATALOG
// =============================================================================

func (m *Memory) Lookup(_ context.Context, name string) (habit.HabitDefinition, error) {
	m.catalogMu.RLock()
	defer m.catalogMu.RUnlock()

	def, ok := m.habits[name]
	if !ok {
		return habit.HabitDefinition{}, habit.ErrHabitNotFound
	}
	return def, nil
}

func (m *Memory) Upsert(_ context.Context, def habit.HabitDefinition) error {
	m.catalogMu.Lock()
	defer m.catalogMu.Unlock()
	m.habits[def.Name] = def
	return nil
}

func (m *Memory) List(_ context.Context) ([]habit.HabitDefinition, error) {
	m.catalogMu.RLock()
	defer m.catalogMu.RUnlock()

	defs := make([]habit.HabitDefinition, 0, len(m.habits))
	for _, def := range m.habits {
		defs = append(defs, def)
	}
	SortDefinitions(defs)
	return defs, nil
}

// SortDefinitions orders good habits first, then by points descending, then
// by name.
func SortDefinitions(defs []habit.HabitDefinition) {
	sort.Slice(defs, func(i, j int) bool {
		a, b := defs[i], defs[j]
		if a.Kind != b.Kind {
			return a.Kind == habit.KindGood
		}
		if a.PointValue != b.PointValue {
			return a.PointValue > b.PointValue
		}
		return a.Name < b.Name
	})
}

// =============================================================================
// EVENT LOG
// =============================================================================

// Append assigns Seq and appends. Append-only.
func (m *Memory) Append(_ context.Context, entry habit.LogEntry) (habit.LogEntry, error) {
	s := m.shardFor(entry.Owner)
	s.mu.Lock()
	defer s.mu.Unlock()
	return m.appendLocked(s, entry), nil
}

func (m *Memory) appendLocked(s *shard, entry habit.LogEntry) habit.LogEntry {
	entry.Seq = m.seq.Add(1)
	s.entries[entry.Owner] = append(s.entries[entry.Owner], entry)
	return entry
}

func (m *Memory) ListByUser(_ context.Context, user habit.UserID) ([]habit.LogEntry, error) {
	s := m.shardFor(user)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.list(user), nil
}

func (m *Memory) ListRange(_ context.Context, user habit.UserID, from, to habit.Date) ([]habit.LogEntry, error) {
	s := m.shardFor(user)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listRange(user, from, to), nil
}

func (m *Memory) HasEntry(_ context.Context, user habit.UserID, habitName string, date habit.Date) (bool, error) {
	s := m.shardFor(user)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hasEntry(user, habitName, date), nil
}

func (m *Memory) Recent(_ context.Context, user habit.UserID, limit int) ([]habit.LogEntry, error) {
	s := m.shardFor(user)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.recent(user, limit), nil
}

func (m *Memory) DeleteMostRecent(_ context.Context, user habit.UserID) (bool, error) {
	s := m.shardFor(user)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteMostRecent(user), nil
}

func (s *shard) list(user habit.UserID) []habit.LogEntry {
	result := make([]habit.LogEntry, len(s.entries[user]))
	copy(result, s.entries[user])
	return result
}

func (s *shard) listRange(user habit.UserID, from, to habit.Date) []habit.LogEntry {
	var result []habit.LogEntry
	for _, e := range s.entries[user] {
		if !e.CalendarDate.Before(from) && !e.CalendarDate.After(to) {
			result = append(result, e)
		}
	}
	return result
}

func (s *shard) hasEntry(user habit.UserID, habitName string, date habit.Date) bool {
	for _, e := range s.entries[user] {
		if e.HabitName == habitName && e.CalendarDate.Equal(date) {
			return true
		}
	}
	return false
}

func (s *shard) recent(user habit.UserID, limit int) []habit.LogEntry {
	result := s.list(user)
	sort.SliceStable(result, func(i, j int) bool {
		a, b := result[i], result[j]
		if !a.CalendarDate.Equal(b.CalendarDate) {
			return a.CalendarDate.After(b.CalendarDate)
		}
		return habit.RecencyLess(b, a)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result
}

func (s *shard) deleteMostRecent(user habit.UserID) bool {
	entries := s.entries[user]
	if len(entries) == 0 {
		return false
	}

	newest := 0
	for i := 1; i < len(entries); i++ {
		if habit.RecencyLess(entries[newest], entries[i]) {
			newest = i
		}
	}

	remaining := make([]habit.LogEntry, 0, len(entries)-1)
	remaining = append(remaining, entries[:newest]...)
	remaining = append(remaining, entries[newest+1:]...)
	s.entries[user] = remaining
	return true
}

// =============================================================================
// AGGREGATE STORE
// =============================================================================

func (m *Memory) GetAggregate(_ context.Context, user habit.UserID) (habit.UserAggregate, bool, error) {
	s := m.shardFor(user)
	s.mu.RLock()
	defer s.mu.RUnlock()
	agg, ok := s.aggregates[user]
	return agg, ok, nil
}

func (m *Memory) PutAggregate(_ context.Context, user habit.UserID, agg habit.UserAggregate) error {
	s := m.shardFor(user)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.aggregates[user] = agg
	return nil
}

func (m *Memory) ListUsers(_ context.Context) ([]habit.UserID, error) {
	var users []habit.UserID
	for _, s := range m.shards {
		s.mu.RLock()
		for user := range s.aggregates {
			users = append(users, user)
		}
		s.mu.RUnlock()
	}
	sort.Slice(users, func(i, j int) bool { return users[i] < users[j] })
	return users, nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a transaction. Shards are locked on first use
// and held until fn returns; on error every touched user is restored.
// A transaction should touch a single user: two concurrent transactions
// locking shards in opposite order would deadlock.
func (m *Memory) WithTx(ctx context.Context, fn func(habit.Tx) error) error {
	tx := &memTx{
		parent: m,
		held:   make(map[*shard]bool),
		saved:  make(map[habit.UserID]userSnapshot),
	}
	defer tx.release()

	if err := fn(tx); err != nil {
		tx.rollback()
		return err
	}
	return nil
}

type userSnapshot struct {
	entries    []habit.LogEntry
	hadEntries bool
	aggregate  habit.UserAggregate
	hadAgg     bool
}

type memTx struct {
	parent *Memory
	held   map[*shard]bool
	saved  map[habit.UserID]userSnapshot
}

func (t *memTx) lock(user habit.UserID) *shard {
	s := t.parent.shardFor(user)
	if !t.held[s] {
		s.mu.Lock()
		t.held[s] = true
	}
	if _, ok := t.saved[user]; !ok {
		entries, hadEntries := s.entries[user]
		agg, hadAgg := s.aggregates[user]
		t.saved[user] = userSnapshot{
			entries:    append([]habit.LogEntry(nil), entries...),
			hadEntries: hadEntries,
			aggregate:  agg,
			hadAgg:     hadAgg,
		}
	}
	return s
}

func (t *memTx) rollback() {
	for user, snap := range t.saved {
		s := t.parent.shardFor(user)
		if snap.hadEntries {
			s.entries[user] = snap.entries
		} else {
			delete(s.entries, user)
		}
		if snap.hadAgg {
			s.aggregates[user] = snap.aggregate
		} else {
			delete(s.aggregates, user)
		}
	}
}

func (t *memTx) release() {
	for s := range t.held {
		s.mu.Unlock()
	}
	t.held = nil
}

func (t *memTx) Append(_ context.Context, entry habit.LogEntry) (habit.LogEntry, error) {
	return t.parent.appendLocked(t.lock(entry.Owner), entry), nil
}

func (t *memTx) ListByUser(_ context.Context, user habit.UserID) ([]habit.LogEntry, error) {
	return t.lock(user).list(user), nil
}

func (t *memTx) ListRange(_ context.Context, user habit.UserID, from, to habit.Date) ([]habit.LogEntry, error) {
	return t.lock(user).listRange(user, from, to), nil
}

func (t *memTx) HasEntry(_ context.Context, user habit.UserID, habitName string, date habit.Date) (bool, error) {
	return t.lock(user).hasEntry(user, habitName, date), nil
}

func (t *memTx) Recent(_ context.Context, user habit.UserID, limit int) ([]habit.LogEntry, error) {
	return t.lock(user).recent(user, limit), nil
}

func (t *memTx) DeleteMostRecent(_ context.Context, user habit.UserID) (bool, error) {
	return t.lock(user).deleteMostRecent(user), nil
}

func (t *memTx) GetAggregate(_ context.Context, user habit.UserID) (habit.UserAggregate, bool, error) {
	agg, ok := t.lock(user).aggregates[user]
	return agg, ok, nil
}

func (t *memTx) PutAggregate(_ context.Context, user habit.UserID, agg habit.UserAggregate) error {
	t.lock(user).aggregates[user] = agg
	return nil
}

func (t *memTx) ListUsers(_ context.Context) ([]habit.UserID, error) {
	var users []habit.UserID
	for _, s := range t.parent.shards {
		if !t.held[s] {
			s.mu.RLock()
		}
		for user := range s.aggregates {
			users = append(users, user)
		}
		if !t.held[s] {
			s.mu.RUnlock()
		}
	}
	sort.Slice(users, func(i, j int) bool { return users[i] < users[j] })
	return users, nil
}

// =============================================================================
// MAINTENANCE
// =============================================================================

// Reset removes every log entry and aggregate. The catalog is kept.
func (m *Memory) Reset(_ context.Context) error {
	for _, s := range m.shards {
		s.mu.Lock()
		s.entries = make(map[habit.UserID][]habit.LogEntry)
		s.aggregates = make(map[habit.UserID]habit.UserAggregate)
		s.mu.Unlock()
	}
	return nil
}
