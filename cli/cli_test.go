package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// run executes habitctl against db with the clock fixed on 2025-03-10.
func run(t *testing.T, db string, args ...string) (string, error) {
	t.Helper()
	now := time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)
	opts := &RootOptions{now: func() time.Time {
		now = now.Add(time.Second)
		return now
	}}

	cmd := newRootCommand(opts)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--db", db}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func tempDB(t *testing.T) string {
	return filepath.Join(t.TempDir(), "habits.db")
}

func TestHabitsList(t *testing.T) {
	db := tempDB(t)

	out, err := run(t, db, "habits", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "Studied for 2 hours")
	assert.Contains(t, out, "+18")

	out, err = run(t, db, "--format", "json", "habits", "list")
	require.NoError(t, err)
	var habits []habitOutput
	require.NoError(t, json.Unmarshal([]byte(out), &habits))
	assert.Len(t, habits, 12)
}

func TestHabitsSet(t *testing.T) {
	db := tempDB(t)

	_, err := run(t, db, "habits", "set", "Meditated", "--kind", "good", "--points", "8")
	require.NoError(t, err)

	out, err := run(t, db, "log", "alice", "Meditated")
	require.NoError(t, err)
	assert.Contains(t, out, "+8 points")

	_, err = run(t, db, "habits", "set", "Doomscrolled", "--kind", "bad", "--points", "3")
	require.Error(t, err)

	_, err = run(t, db, "habits", "set", "Doomscrolled", "--points", "-3")
	require.Error(t, err, "kind is required")
}

func TestLogUndoStats(t *testing.T) {
	db := tempDB(t)

	_, err := run(t, db, "user", "create", "alice")
	require.NoError(t, err)

	_, err = run(t, db, "log", "alice", "Exercise / Physical Activity")
	require.NoError(t, err)
	_, err = run(t, db, "log", "alice", "Exercise / Physical Activity", "--date", "2025-03-11")
	require.NoError(t, err)

	out, err := run(t, db, "--format", "json", "stats", "alice")
	require.NoError(t, err)
	var stats statsOutput
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	assert.Equal(t, 26, stats.TotalPoints)
	assert.Equal(t, 2, stats.Streak)
	assert.Equal(t, "2025-03-11", stats.LastActionDate)
	assert.Equal(t, "0.26", stats.LevelProgress)

	out, err = run(t, db, "undo", "alice")
	require.NoError(t, err)
	assert.Contains(t, out, "13 points")
	assert.Contains(t, out, "streak 1")

	_, err = run(t, db, "log", "alice", "Exercise / Physical Activity")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already logged")

	_, err = run(t, db, "log", "alice", "Juggled")
	require.Error(t, err)

	_, err = run(t, db, "user", "create", "alice")
	require.Error(t, err)
}

func TestCalendar(t *testing.T) {
	db := tempDB(t)

	_, err := run(t, db, "log", "bob", "Studied for 2 hours", "--date", "2025-03-02")
	require.NoError(t, err)

	out, err := run(t, db, "--format", "json", "calendar", "bob", "--year", "2025", "--month", "3")
	require.NoError(t, err)
	var days []dayOutput
	require.NoError(t, json.Unmarshal([]byte(out), &days))
	require.Len(t, days, 31)
	assert.Equal(t, "2025-03-02", days[1].Date)
	assert.Equal(t, 18, days[1].Points)
	assert.Equal(t, "low", days[1].Class)
	assert.Equal(t, []string{"Studied for 2 hours"}, days[1].Habits)
	assert.Equal(t, "future", days[30].Class)

	out, err = run(t, db, "calendar", "bob")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "DATE"))

	_, err = run(t, db, "calendar", "bob", "--month", "13")
	require.Error(t, err)
}

func TestRebuild(t *testing.T) {
	db := tempDB(t)

	_, err := run(t, db, "log", "alice", "Stayed hydrated")
	require.NoError(t, err)
	_, err = run(t, db, "log", "bob", "Skipped meal")
	require.NoError(t, err)

	out, err := run(t, db, "rebuild")
	require.NoError(t, err)
	assert.Contains(t, out, "2 users checked, 0 repaired")

	out, err = run(t, db, "--format", "json", "rebuild", "alice")
	require.NoError(t, err)
	var results []rebuildOutput
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	require.Len(t, results, 1)
	assert.Equal(t, 12, results[0].Total)
}

func TestInvalidFormat(t *testing.T) {
	_, err := run(t, tempDB(t), "--format", "xml", "habits", "list")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}
