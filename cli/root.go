// Package cli implements habitctl, a command line client that runs the
// habit engine directly against a SQLite database.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/warp/habit-engine/catalog"
	"github.com/warp/habit-engine/habit"
	"github.com/warp/habit-engine/store/sqlite"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Database string
	Format   string // "json" | "text"
	Timezone string

	// now overrides the clock in tests.
	now func() time.Time
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for habitctl.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "habitctl",
		Short: "habitctl - habit ledger from the command line",
		Long:  "Log habits, undo, and inspect points, levels and streaks in a habit ledger database.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			if opts.Timezone != "" {
				if _, err := time.LoadLocation(opts.Timezone); err != nil {
					return fmt.Errorf("invalid timezone: %w", err)
				}
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags
	cmd.PersistentFlags().StringVar(&opts.Database, "db", "habits.db", "path to SQLite database")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.Timezone, "tz", "", "timezone deciding today's date (default local)")

	// Add subcommands
	cmd.AddCommand(newHabitsCommand(opts))
	cmd.AddCommand(newUserCommand(opts))
	cmd.AddCommand(newLogCommand(opts))
	cmd.AddCommand(newUndoCommand(opts))
	cmd.AddCommand(newStatsCommand(opts))
	cmd.AddCommand(newCalendarCommand(opts))
	cmd.AddCommand(newRebuildCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

// session is an open database with an engine over it.
type session struct {
	engine *habit.Engine
	store  *sqlite.Store
}

func (s *session) Close() error { return s.store.Close() }

// open opens the database, seeds an empty catalog with the defaults and
// builds an engine.
func (opts *RootOptions) open(ctx context.Context) (*session, error) {
	st, err := sqlite.New(opts.Database)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := catalog.Seed(ctx, st, catalog.Defaults()); err != nil {
		st.Close()
		return nil, fmt.Errorf("seed catalog: %w", err)
	}
	return &session{engine: habit.NewEngine(st, st, habit.WithClock(opts.clock())), store: st}, nil
}

func (opts *RootOptions) clock() habit.Clock {
	if opts.now != nil {
		return habit.ClockFunc(opts.now)
	}
	loc := time.Local
	if opts.Timezone != "" {
		if l, err := time.LoadLocation(opts.Timezone); err == nil {
			loc = l
		}
	}
	return habit.SystemClock{Location: loc}
}

// emit writes v as JSON, or calls text for the text format.
func (opts *RootOptions) emit(w io.Writer, v any, text func(io.Writer) error) error {
	if opts.Format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	return text(w)
}
