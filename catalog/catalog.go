/*
Package catalog provides the default habit catalog and catalog files.

PURPOSE:
  Supplies habit definitions to seed an empty habit.Catalog, either the
  built-in defaults or a YAML file, so the catalog can change without a
  code change.

FILE FORMAT (YAML, JSON is accepted as well):
  habits:
    - name: Studied for 2 hours
      kind: good
      points: 18
    - name: Stayed up late
      kind: bad
      points: -12

USAGE:
  defs := catalog.Defaults()
  if path != "" {
      defs, err = catalog.LoadFile(path)
  }
  n, err := catalog.Seed(ctx, store, defs)

SEE ALSO:
  - habit/types.go: HabitDefinition and its validation
  - habit/store.go: Catalog interface
*/
package catalog

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/warp/habit-engine/habit"
)

// =============================================================================
// DEFAULTS
// =============================================================================

// Defaults returns the predefined habits.
func Defaults() []habit.HabitDefinition {
	return []habit.HabitDefinition{
		{Name: "Studied for 2 hours", Kind: habit.KindGood, PointValue: 18},
		{Name: "Exercise / Physical Activity", Kind: habit.KindGood, PointValue: 13},
		{Name: "Practiced a hobby or skill", Kind: habit.KindGood, PointValue: 12},
		{Name: "Stayed hydrated", Kind: habit.KindGood, PointValue: 12},
		{Name: "Attended lectures on time", Kind: habit.KindGood, PointValue: 11},
		{Name: "Read books or articles", Kind: habit.KindGood, PointValue: 9},
		{Name: "Overused social media", Kind: habit.KindBad, PointValue: -6},
		{Name: "Skipped class", Kind: habit.KindBad, PointValue: -7},
		{Name: "Skipped meal", Kind: habit.KindBad, PointValue: -9},
		{Name: "Avoided studying or practicing skills", Kind: habit.KindBad, PointValue: -9},
		{Name: "Getting angry / losing cool", Kind: habit.KindBad, PointValue: -10},
		{Name: "Stayed up late", Kind: habit.KindBad, PointValue: -12},
	}
}

// =============================================================================
// FILE FORMAT
// =============================================================================

type fileFormat struct {
	Habits []habitYAML `yaml:"habits"`
}

type habitYAML struct {
	Name   string `yaml:"name"`
	Kind   string `yaml:"kind"`
	Points int    `yaml:"points"`
}

// LoadFile reads and validates a catalog file.
func LoadFile(path string) ([]habit.HabitDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog file: %w", err)
	}
	defs, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return defs, nil
}

// Parse decodes catalog YAML. Names must be unique and every definition
// must pass validation.
func Parse(data []byte) ([]habit.HabitDefinition, error) {
	var f fileFormat
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if len(f.Habits) == 0 {
		return nil, fmt.Errorf("%w: catalog has no habits", habit.ErrInvalidHabit)
	}

	seen := make(map[string]bool, len(f.Habits))
	defs := make([]habit.HabitDefinition, 0, len(f.Habits))
	for i, h := range f.Habits {
		kind, err := habit.ParseKind(h.Kind)
		if err != nil {
			return nil, fmt.Errorf("habit %d (%q): %w", i, h.Name, err)
		}
		def := habit.HabitDefinition{Name: h.Name, Kind: kind, PointValue: h.Points}
		if err := def.Validate(); err != nil {
			return nil, fmt.Errorf("habit %d: %w", i, err)
		}
		if seen[def.Name] {
			return nil, fmt.Errorf("%w: duplicate habit %q", habit.ErrInvalidHabit, def.Name)
		}
		seen[def.Name] = true
		defs = append(defs, def)
	}
	return defs, nil
}

// Marshal encodes defs in the catalog file format.
func Marshal(defs []habit.HabitDefinition) ([]byte, error) {
	f := fileFormat{Habits: make([]habitYAML, 0, len(defs))}
	for _, def := range defs {
		f.Habits = append(f.Habits, habitYAML{Name: def.Name, Kind: string(def.Kind), Points: def.PointValue})
	}
	return yaml.Marshal(f)
}

// =============================================================================
// SEEDING
// =============================================================================

// Seed writes defs into cat when cat is empty and returns how many were
// written. A catalog that already has definitions is left untouched.
func Seed(ctx context.Context, cat habit.Catalog, defs []habit.HabitDefinition) (int, error) {
	existing, err := cat.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list catalog: %w", err)
	}
	if len(existing) > 0 {
		return 0, nil
	}

	for _, def := range defs {
		if err := def.Validate(); err != nil {
			return 0, err
		}
	}
	for _, def := range defs {
		if err := cat.Upsert(ctx, def); err != nil {
			return 0, fmt.Errorf("seed %q: %w", def.Name, err)
		}
	}
	return len(defs), nil
}
