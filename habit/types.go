/*
Package habit provides the habit ledger and aggregate recomputation engine.

PURPOSE:
  Tracks per-user habit events (good or bad actions carrying a point value)
  and derives a running score, a level and a day-streak from them. The
  per-user event log is the source of truth; the aggregate is a cached
  projection that must always equal a full replay of the log.

KEY CONCEPTS IN THIS FILE (types.go):
  - HabitDefinition: Catalog entry (name, kind, point value)
  - LogEntry: An immutable ledger event for one user
  - UserAggregate: Derived summary (points, level, streak, last action)
  - UserID: Type-safe user identifier

DESIGN PRINCIPLES:
  1. Append-only: Entries are never edited, only appended or undone (tail only)
  2. Captured values: An entry keeps the point value it was logged with
  3. Replay equivalence: Incremental updates never drift from Compute()

USAGE:
  engine := habit.NewEngine(store, store)
  delta, err := engine.LogHabit(ctx, "alice", "Stayed hydrated", habit.Today())
  agg, err := engine.GetAggregate(ctx, "alice")

SEE ALSO:
  - calculator.go: Compute and the incremental Apply rule
  - engine.go: LogHabit, UndoLast, GetAggregate orchestration
  - store.go: Persistence interfaces
*/
package habit

import (
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type UserID string

type EntryID string

// =============================================================================
// HABIT DEFINITION - Catalog entry
// =============================================================================

type Kind string

const (
	KindGood Kind = "good"
	KindBad  Kind = "bad"
)

// ParseKind accepts "good" or "bad" in any case.
func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case KindGood:
		return KindGood, nil
	case KindBad:
		return KindBad, nil
	}
	return "", fmt.Errorf("%w: unknown kind %q", ErrInvalidHabit, s)
}

// HabitDefinition maps a habit name to its kind and point value.
// Name is the only identity.
type HabitDefinition struct {
	Name       string
	Kind       Kind
	PointValue int
}

// Validate checks the definition before it is written to the catalog.
// Good habits must carry positive points and bad habits negative points.
func (d HabitDefinition) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidHabit)
	}
	switch d.Kind {
	case KindGood:
		if d.PointValue <= 0 {
			return &SignError{Name: d.Name, Kind: d.Kind, PointValue: d.PointValue}
		}
	case KindBad:
		if d.PointValue >= 0 {
			return &SignError{Name: d.Name, Kind: d.Kind, PointValue: d.PointValue}
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidHabit, d.Kind)
	}
	return nil
}

// =============================================================================
// LOG ENTRY - Immutable ledger event
// =============================================================================

type LogEntry struct {
	ID         EntryID
	Owner      UserID
	HabitName  string
	PointValue int

	// CalendarDate is the local day bucket used for streaks and calendars.
	CalendarDate Date

	// OccurredAt totally orders entries that share a calendar day.
	OccurredAt time.Time

	// Seq is assigned by the store on append. Final tie-break when
	// OccurredAt collides.
	Seq int64
}

// IsPositive reports whether the entry adds points.
func (e LogEntry) IsPositive() bool { return e.PointValue > 0 }

// =============================================================================
// USER AGGREGATE - Derived, cached summary
// =============================================================================

// UserAggregate is the projection of a user's log.
//
// INVARIANTS:
//   - Level == Level(TotalPoints)
//   - The aggregate equals Compute(all entries of the user)
//
// DayPoints, PreviousActionDate and PreviousStreak carry just enough state
// for Apply to fold another entry into the current day exactly as a replay
// would.
type UserAggregate struct {
	TotalPoints    int
	Level          int
	Streak         int
	LastActionDate Date

	DayPoints          int
	PreviousActionDate Date
	PreviousStreak     int
}

// ZeroAggregate is the state of a user with an empty log.
func ZeroAggregate() UserAggregate {
	return UserAggregate{Level: 1}
}

// HasActivity reports whether the user has logged anything.
func (a UserAggregate) HasActivity() bool { return !a.LastActionDate.IsZero() }

// Equal compares every field, dates by calendar day.
func (a UserAggregate) Equal(b UserAggregate) bool {
	return a.TotalPoints == b.TotalPoints &&
		a.Level == b.Level &&
		a.Streak == b.Streak &&
		a.LastActionDate.Equal(b.LastActionDate) &&
		a.DayPoints == b.DayPoints &&
		a.PreviousActionDate.Equal(b.PreviousActionDate) &&
		a.PreviousStreak == b.PreviousStreak
}
