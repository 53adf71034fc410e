package catalog

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/habit-engine/habit"
	"github.com/warp/habit-engine/habit/store"
)

func TestDefaults_AreValid(t *testing.T) {
	defs := Defaults()
	require.Len(t, defs, 12)

	names := make(map[string]bool)
	for _, def := range defs {
		assert.NoError(t, def.Validate(), def.Name)
		assert.False(t, names[def.Name], "duplicate %q", def.Name)
		names[def.Name] = true
	}
}

func TestParse(t *testing.T) {
	defs, err := Parse([]byte(`
habits:
  - name: Meditated
    kind: good
    points: 7
  - name: Doomscrolled
    kind: BAD
    points: -4
`))
	require.NoError(t, err)
	assert.Equal(t, []habit.HabitDefinition{
		{Name: "Meditated", Kind: habit.KindGood, PointValue: 7},
		{Name: "Doomscrolled", Kind: habit.KindBad, PointValue: -4},
	}, defs)
}

func TestParse_JSON(t *testing.T) {
	defs, err := Parse([]byte(`{"habits": [{"name": "Walked", "kind": "good", "points": 5}]}`))
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, "Walked", defs[0].Name)
}

func TestParse_Rejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want error
	}{
		{"empty", "habits: []", habit.ErrInvalidHabit},
		{"bad sign", "habits: [{name: X, kind: good, points: -3}]", habit.ErrInvalidSign},
		{"unknown kind", "habits: [{name: X, kind: meh, points: 3}]", habit.ErrInvalidHabit},
		{"duplicate", "habits: [{name: X, kind: good, points: 3}, {name: X, kind: good, points: 4}]", habit.ErrInvalidHabit},
		{"missing name", "habits: [{kind: good, points: 3}]", habit.ErrInvalidHabit},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestLoadFile_RoundTrip(t *testing.T) {
	data, err := Marshal(Defaults())
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "habits.yaml")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	defs, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, Defaults(), defs)
}

func TestLoadFile_Missing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestSeed_OnlyWhenEmpty(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()

	n, err := Seed(ctx, mem, Defaults())
	require.NoError(t, err)
	assert.Equal(t, 12, n)

	require.NoError(t, mem.Upsert(ctx, habit.HabitDefinition{Name: "Stayed hydrated", Kind: habit.KindGood, PointValue: 20}))

	n, err = Seed(ctx, mem, Defaults())
	require.NoError(t, err)
	assert.Zero(t, n)

	def, err := mem.Lookup(ctx, "Stayed hydrated")
	require.NoError(t, err)
	assert.Equal(t, 20, def.PointValue, "reseeding must not overwrite edits")
}
