/*
calculator.go - Aggregate derivation from the event log

PURPOSE:
  The single source of truth for turning a user's log into points, level
  and streak. Compute() replays a full log; Apply() folds one more entry
  into an existing aggregate. Both produce the same result for the same
  log, which is what lets LogHabit update incrementally and UndoLast replay.

ORDERING:
  Entries are replayed by (CalendarDate, OccurredAt, Seq) ascending.

LEVEL:
  level = max(1, floor(points / 100) + 1)

    points:  -50   0   99   100   250
    level:     1   1    1     2     3

STREAK:
  Entries are folded into distinct calendar days. A day is positive when its
  NET points are > 0. Walking the days in order:

    first day            positive -> 1      otherwise -> 0
    gap of exactly 1 day positive -> +1     otherwise -> 0
    gap of 2+ days       positive -> 1      otherwise -> 0

  Example (net points per day):
    d0 +13, d1 +13, d2 -12, d3 +9, d5 +18
    streak:  1 -> 2 -> 0 -> 1 -> 1

SEE ALSO:
  - engine.go: Chooses between Apply and Compute
*/
package habit

import (
	"sort"

	"github.com/shopspring/decimal"
)

const pointsPerLevel = 100

// Level returns the level reached with points.
func Level(points int) int {
	return max(1, floorDiv(points, pointsPerLevel)+1)
}

// LevelProgress returns the fraction of the current level already earned,
// in [0, 1). Negative totals report zero.
func LevelProgress(points int) decimal.Decimal {
	if points < 0 {
		return decimal.Zero
	}
	into := points - floorDiv(points, pointsPerLevel)*pointsPerLevel
	return decimal.NewFromInt(int64(into)).Div(decimal.NewFromInt(pointsPerLevel))
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// =============================================================================
// COMPUTE - Full replay
// =============================================================================

// Compute derives the aggregate of a complete log. entries may be in any
// order; Compute sorts a copy.
func Compute(entries []LogEntry) UserAggregate {
	ordered := SortChronological(entries)

	agg := ZeroAggregate()
	for _, e := range ordered {
		agg = fold(agg, e)
	}
	return agg
}

// SortChronological returns a copy ordered by (CalendarDate, OccurredAt, Seq).
func SortChronological(entries []LogEntry) []LogEntry {
	ordered := make([]LogEntry, len(entries))
	copy(ordered, entries)
	sort.SliceStable(ordered, func(i, j int) bool {
		return chronoLess(ordered[i], ordered[j])
	})
	return ordered
}

func chronoLess(a, b LogEntry) bool {
	if !a.CalendarDate.Equal(b.CalendarDate) {
		return a.CalendarDate.Before(b.CalendarDate)
	}
	if !a.OccurredAt.Equal(b.OccurredAt) {
		return a.OccurredAt.Before(b.OccurredAt)
	}
	return a.Seq < b.Seq
}

// RecencyLess orders by (OccurredAt, CalendarDate, Seq): the key that
// decides which entry UndoLast removes.
func RecencyLess(a, b LogEntry) bool {
	if !a.OccurredAt.Equal(b.OccurredAt) {
		return a.OccurredAt.Before(b.OccurredAt)
	}
	if !a.CalendarDate.Equal(b.CalendarDate) {
		return a.CalendarDate.Before(b.CalendarDate)
	}
	return a.Seq < b.Seq
}

// =============================================================================
// APPLY - Incremental single step
// =============================================================================

// Apply folds one new entry into prev. It returns false when the entry is
// dated before prev.LastActionDate: a back-dated entry can change every
// later streak step, so the caller must Compute instead.
func Apply(prev UserAggregate, e LogEntry) (UserAggregate, bool) {
	if prev.HasActivity() && e.CalendarDate.Before(prev.LastActionDate) {
		return prev, false
	}
	return fold(prev, e), true
}

// fold assumes e is not dated before agg.LastActionDate.
func fold(agg UserAggregate, e LogEntry) UserAggregate {
	next := agg
	next.TotalPoints = agg.TotalPoints + e.PointValue
	next.Level = Level(next.TotalPoints)

	switch {
	case !agg.HasActivity():
		next.PreviousActionDate = Date{}
		next.PreviousStreak = 0
		next.DayPoints = e.PointValue
	case e.CalendarDate.Equal(agg.LastActionDate):
		next.DayPoints = agg.DayPoints + e.PointValue
	default:
		next.PreviousActionDate = agg.LastActionDate
		next.PreviousStreak = agg.Streak
		next.DayPoints = e.PointValue
	}

	next.LastActionDate = e.CalendarDate
	next.Streak = streakStep(next.PreviousActionDate, next.PreviousStreak, e.CalendarDate, next.DayPoints)
	return next
}

// streakStep is the transition from the previous active day to day.
func streakStep(prevDate Date, prevStreak int, day Date, net int) int {
	if net <= 0 {
		return 0
	}
	if prevDate.IsZero() {
		return 1
	}
	if DaysBetween(prevDate, day) == 1 {
		return prevStreak + 1
	}
	return 1
}
