// Package storetest is a behavioural test suite shared by every
// habit.Catalog + habit.Store implementation.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/habit-engine/habit"
)

// Backend is what the suite exercises.
type Backend interface {
	habit.Catalog
	habit.Store
}

// Run runs the suite against fresh backends from newBackend.
func Run(t *testing.T, newBackend func(t *testing.T) Backend) {
	tests := []struct {
		name string
		fn   func(t *testing.T, b Backend)
	}{
		{"Catalog", testCatalog},
		{"AppendAndList", testAppendAndList},
		{"ListRange", testListRange},
		{"HasEntry", testHasEntry},
		{"Recent", testRecent},
		{"DeleteMostRecent", testDeleteMostRecent},
		{"Aggregates", testAggregates},
		{"TxCommit", testTxCommit},
		{"TxRollback", testTxRollback},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newBackend(t))
		})
	}
}

var base = habit.NewDate(2025, time.March, 10)

func logEntry(user habit.UserID, name string, points int, day int, at time.Duration) habit.LogEntry {
	date := base.AddDays(day)
	return habit.LogEntry{
		ID:           habit.EntryID(string(user) + "/" + name + "/" + date.String()),
		Owner:        user,
		HabitName:    name,
		PointValue:   points,
		CalendarDate: date,
		OccurredAt:   base.Time.Add(at).UTC(),
	}
}

func mustAppend(t *testing.T, b Backend, entries ...habit.LogEntry) []habit.LogEntry {
	t.Helper()
	stored := make([]habit.LogEntry, len(entries))
	for i, e := range entries {
		var err error
		stored[i], err = b.Append(context.Background(), e)
		require.NoError(t, err)
	}
	return stored
}

func names(entries []habit.LogEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.HabitName
	}
	return out
}

// =============================================================================
// CATALOG
// =============================================================================

func testCatalog(t *testing.T, b Backend) {
	ctx := context.Background()

	_, err := b.Lookup(ctx, "Walked")
	require.ErrorIs(t, err, habit.ErrHabitNotFound)

	require.NoError(t, b.Upsert(ctx, habit.HabitDefinition{Name: "Walked", Kind: habit.KindGood, PointValue: 5}))
	require.NoError(t, b.Upsert(ctx, habit.HabitDefinition{Name: "Ran", Kind: habit.KindGood, PointValue: 9}))
	require.NoError(t, b.Upsert(ctx, habit.HabitDefinition{Name: "Slept in", Kind: habit.KindBad, PointValue: -3}))

	def, err := b.Lookup(ctx, "Walked")
	require.NoError(t, err)
	assert.Equal(t, habit.HabitDefinition{Name: "Walked", Kind: habit.KindGood, PointValue: 5}, def)

	// Overwrite by name
	require.NoError(t, b.Upsert(ctx, habit.HabitDefinition{Name: "Walked", Kind: habit.KindGood, PointValue: 7}))
	def, err = b.Lookup(ctx, "Walked")
	require.NoError(t, err)
	assert.Equal(t, 7, def.PointValue)

	defs, err := b.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []habit.HabitDefinition{
		{Name: "Ran", Kind: habit.KindGood, PointValue: 9},
		{Name: "Walked", Kind: habit.KindGood, PointValue: 7},
		{Name: "Slept in", Kind: habit.KindBad, PointValue: -3},
	}, defs)
}

// =============================================================================
// EVENT LOG
// =============================================================================

func testAppendAndList(t *testing.T, b Backend) {
	ctx := context.Background()

	stored := mustAppend(t, b,
		logEntry("alice", "a", 10, 0, time.Hour),
		logEntry("bob", "b", 5, 0, 2*time.Hour),
		logEntry("alice", "c", -3, 1, 3*time.Hour),
	)
	assert.Less(t, stored[0].Seq, stored[1].Seq)
	assert.Less(t, stored[1].Seq, stored[2].Seq)

	entries, err := b.ListByUser(ctx, "alice")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "c"}, names(entries))
	for _, e := range entries {
		assert.Equal(t, habit.UserID("alice"), e.Owner)
		if e.HabitName == "c" {
			assert.Equal(t, -3, e.PointValue)
			assert.Equal(t, base.AddDays(1), e.CalendarDate)
			assert.True(t, e.OccurredAt.Equal(base.Time.Add(3*time.Hour)))
			assert.Equal(t, stored[2].ID, e.ID)
		}
	}

	none, err := b.ListByUser(ctx, "carol")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func testListRange(t *testing.T, b Backend) {
	ctx := context.Background()

	mustAppend(t, b,
		logEntry("u", "before", 1, -1, time.Hour),
		logEntry("u", "first", 1, 0, 2*time.Hour),
		logEntry("u", "middle", 1, 3, 3*time.Hour),
		logEntry("u", "last", 1, 6, 4*time.Hour),
		logEntry("u", "after", 1, 7, 5*time.Hour),
		logEntry("other", "first", 1, 0, 6*time.Hour),
	)

	entries, err := b.ListRange(ctx, "u", base, base.AddDays(6))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"first", "middle", "last"}, names(entries))
}

func testHasEntry(t *testing.T, b Backend) {
	ctx := context.Background()
	mustAppend(t, b, logEntry("u", "read", 9, 0, time.Hour))

	ok, err := b.HasEntry(ctx, "u", "read", base)
	require.NoError(t, err)
	assert.True(t, ok)

	for _, tc := range []struct {
		user  habit.UserID
		habit string
		date  habit.Date
	}{
		{"u", "read", base.AddDays(1)},
		{"u", "write", base},
		{"v", "read", base},
	} {
		ok, err := b.HasEntry(ctx, tc.user, tc.habit, tc.date)
		require.NoError(t, err)
		assert.False(t, ok, "%+v", tc)
	}
}

func testRecent(t *testing.T, b Backend) {
	ctx := context.Background()

	mustAppend(t, b,
		logEntry("u", "d0-early", 1, 0, time.Hour),
		logEntry("u", "d0-late", 1, 0, 2*time.Hour),
		logEntry("u", "d2", 1, 2, 3*time.Hour),
		logEntry("u", "d1-backdated", 1, 1, 4*time.Hour),
	)

	entries, err := b.Recent(ctx, "u", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"d2", "d1-backdated", "d0-late", "d0-early"}, names(entries))

	entries, err = b.Recent(ctx, "u", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"d2", "d1-backdated"}, names(entries))
}

func testDeleteMostRecent(t *testing.T, b Backend) {
	ctx := context.Background()

	deleted, err := b.DeleteMostRecent(ctx, "u")
	require.NoError(t, err)
	assert.False(t, deleted)

	// GIVEN: A back-dated entry recorded last, and a tie on OccurredAt
	tieA := logEntry("u", "tie-a", 1, 0, 5*time.Hour)
	tieB := logEntry("u", "tie-b", 1, 0, 5*time.Hour)
	mustAppend(t, b,
		logEntry("u", "d3", 1, 3, time.Hour),
		logEntry("u", "d1-backdated", 1, 1, 2*time.Hour),
		tieA,
		tieB,
		logEntry("v", "other-user", 1, 0, 9*time.Hour),
	)

	// THEN: Ties on OccurredAt and date fall back to Seq
	order := []string{"tie-b", "tie-a", "d1-backdated", "d3"}
	for i, want := range order {
		deleted, err := b.DeleteMostRecent(ctx, "u")
		require.NoError(t, err)
		require.True(t, deleted)

		entries, err := b.ListByUser(ctx, "u")
		require.NoError(t, err)
		assert.NotContains(t, names(entries), want)
		assert.Len(t, entries, len(order)-i-1)
	}

	deleted, err = b.DeleteMostRecent(ctx, "u")
	require.NoError(t, err)
	assert.False(t, deleted)

	other, err := b.ListByUser(ctx, "v")
	require.NoError(t, err)
	assert.Len(t, other, 1)
}

// =============================================================================
// AGGREGATES
// =============================================================================

func testAggregates(t *testing.T, b Backend) {
	ctx := context.Background()

	_, found, err := b.GetAggregate(ctx, "u")
	require.NoError(t, err)
	assert.False(t, found)

	agg := habit.UserAggregate{
		TotalPoints:        113,
		Level:              2,
		Streak:             4,
		LastActionDate:     base,
		DayPoints:          25,
		PreviousActionDate: base.AddDays(-1),
		PreviousStreak:     3,
	}
	require.NoError(t, b.PutAggregate(ctx, "u", agg))
	require.NoError(t, b.PutAggregate(ctx, "a", habit.ZeroAggregate()))

	got, found, err := b.GetAggregate(ctx, "u")
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, agg.Equal(got), "%+v", got)

	zero, found, err := b.GetAggregate(ctx, "a")
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, habit.ZeroAggregate().Equal(zero))

	// Overwrite
	agg.TotalPoints = 90
	agg.Level = 1
	require.NoError(t, b.PutAggregate(ctx, "u", agg))
	got, _, err = b.GetAggregate(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, 90, got.TotalPoints)

	users, err := b.ListUsers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []habit.UserID{"a", "u"}, users)
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func testTxCommit(t *testing.T, b Backend) {
	ctx := context.Background()

	err := b.WithTx(ctx, func(tx habit.Tx) error {
		if _, err := tx.Append(ctx, logEntry("u", "a", 10, 0, time.Hour)); err != nil {
			return err
		}
		entries, err := tx.ListByUser(ctx, "u")
		if err != nil {
			return err
		}
		return tx.PutAggregate(ctx, "u", habit.Compute(entries))
	})
	require.NoError(t, err)

	entries, err := b.ListByUser(ctx, "u")
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	agg, found, err := b.GetAggregate(ctx, "u")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 10, agg.TotalPoints)
}

func testTxRollback(t *testing.T, b Backend) {
	ctx := context.Background()
	boom := errors.New("boom")

	mustAppend(t, b,
		logEntry("u", "keep", 10, 0, time.Hour),
		logEntry("u", "newest", 5, 1, 2*time.Hour),
	)
	require.NoError(t, b.PutAggregate(ctx, "u", habit.UserAggregate{TotalPoints: 15, Level: 1, Streak: 2}))

	// WHEN: A transaction appends, deletes and overwrites, then fails
	err := b.WithTx(ctx, func(tx habit.Tx) error {
		if _, err := tx.Append(ctx, logEntry("u", "added", 3, 2, 3*time.Hour)); err != nil {
			return err
		}
		if _, err := tx.DeleteMostRecent(ctx, "u"); err != nil {
			return err
		}
		if _, err := tx.DeleteMostRecent(ctx, "u"); err != nil {
			return err
		}
		if err := tx.PutAggregate(ctx, "u", habit.UserAggregate{TotalPoints: -1}); err != nil {
			return err
		}
		if err := tx.PutAggregate(ctx, "new-user", habit.ZeroAggregate()); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	// THEN: Nothing of it is visible
	entries, err := b.ListByUser(ctx, "u")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"keep", "newest"}, names(entries))

	agg, _, err := b.GetAggregate(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, 15, agg.TotalPoints)

	_, found, err := b.GetAggregate(ctx, "new-user")
	require.NoError(t, err)
	assert.False(t, found)
}
