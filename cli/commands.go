package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/warp/habit-engine/habit"
)

// =============================================================================
// HABITS
// =============================================================================

type habitOutput struct {
	Name   string `json:"name"`
	Kind   string `json:"kind"`
	Points int    `json:"points"`
}

func newHabitsCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "habits",
		Short: "List or edit the habit catalog",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List habit definitions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			defs, err := s.engine.Habits(ctx)
			if err != nil {
				return err
			}
			out := make([]habitOutput, len(defs))
			for i, d := range defs {
				out[i] = habitOutput{Name: d.Name, Kind: string(d.Kind), Points: d.PointValue}
			}
			return opts.emit(cmd.OutOrStdout(), out, func(w io.Writer) error {
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "HABIT\tKIND\tPOINTS")
				for _, h := range out {
					fmt.Fprintf(tw, "%s\t%s\t%+d\n", h.Name, h.Kind, h.Points)
				}
				return tw.Flush()
			})
		},
	})

	var kind string
	var points int
	set := &cobra.Command{
		Use:   "set NAME",
		Short: "Create or update a habit definition",
		Example: `  habitctl habits set "Meditated" --kind good --points 8
  habitctl habits set "Doomscrolled" --kind bad --points -5`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			k, err := habit.ParseKind(kind)
			if err != nil {
				return err
			}
			s, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.engine.UpsertHabitDefinition(ctx, args[0], k, points); err != nil {
				return err
			}
			out := habitOutput{Name: args[0], Kind: string(k), Points: points}
			return opts.emit(cmd.OutOrStdout(), out, func(w io.Writer) error {
				_, err := fmt.Fprintf(w, "saved %q (%s, %+d)\n", out.Name, out.Kind, out.Points)
				return err
			})
		},
	}
	set.Flags().StringVar(&kind, "kind", "", "good or bad")
	set.Flags().IntVar(&points, "points", 0, "point value (positive for good, negative for bad)")
	_ = set.MarkFlagRequired("kind")
	_ = set.MarkFlagRequired("points")
	cmd.AddCommand(set)

	return cmd
}

// =============================================================================
// USERS
// =============================================================================

func newUserCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage users",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "create ID",
		Short: "Create a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			user := habit.UserID(strings.TrimSpace(args[0]))
			if user == "" {
				return fmt.Errorf("user id is required")
			}
			if err := s.engine.CreateUser(ctx, user); err != nil {
				return err
			}
			return writeStats(ctx, opts, cmd.OutOrStdout(), s, user)
		},
	})
	return cmd
}

// =============================================================================
// LOG / UNDO
// =============================================================================

func newLogCommand(opts *RootOptions) *cobra.Command {
	var date string
	cmd := &cobra.Command{
		Use:   "log USER HABIT",
		Short: "Log a habit for today (or --date)",
		Example: `  habitctl log alice "Stayed hydrated"
  habitctl log alice "Skipped meal" --date 2025-03-10`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			day := s.engine.Today()
			if date != "" {
				if day, err = habit.ParseDate(date); err != nil {
					return err
				}
			}

			user := habit.UserID(args[0])
			delta, err := s.engine.LogHabit(ctx, user, args[1], day)
			if err != nil {
				return err
			}
			if opts.Format == "text" {
				fmt.Fprintf(cmd.OutOrStdout(), "%+d points for %q on %s\n", delta, args[1], day)
			}
			return writeStats(ctx, opts, cmd.OutOrStdout(), s, user)
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "calendar date YYYY-MM-DD (default today)")
	return cmd
}

func newUndoCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "undo USER",
		Short: "Undo the user's most recent log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			user := habit.UserID(args[0])
			if _, err := s.engine.UndoLast(ctx, user); err != nil {
				return err
			}
			return writeStats(ctx, opts, cmd.OutOrStdout(), s, user)
		},
	}
}

// =============================================================================
// STATS
// =============================================================================

type statsOutput struct {
	User           string `json:"user"`
	TotalPoints    int    `json:"total_points"`
	Level          int    `json:"level"`
	LevelProgress  string `json:"level_progress"`
	Streak         int    `json:"streak"`
	LastActionDate string `json:"last_action_date,omitempty"`
}

func newStatsCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats USER",
		Short: "Show points, level and streak",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer s.Close()
			return writeStats(ctx, opts, cmd.OutOrStdout(), s, habit.UserID(args[0]))
		},
	}
}

func writeStats(ctx context.Context, opts *RootOptions, w io.Writer, s *session, user habit.UserID) error {
	agg, err := s.engine.GetAggregate(ctx, user)
	if err != nil {
		return err
	}
	out := statsOutput{
		User:           string(user),
		TotalPoints:    agg.TotalPoints,
		Level:          agg.Level,
		LevelProgress:  habit.LevelProgress(agg.TotalPoints).StringFixed(2),
		Streak:         agg.Streak,
		LastActionDate: agg.LastActionDate.String(),
	}
	return opts.emit(w, out, func(w io.Writer) error {
		last := out.LastActionDate
		if last == "" {
			last = "never"
		}
		_, err := fmt.Fprintf(w, "%s: %d points, level %d (%s%%), streak %d, last action %s\n",
			out.User, out.TotalPoints, out.Level,
			habit.LevelProgress(agg.TotalPoints).Shift(2).StringFixed(0),
			out.Streak, last)
		return err
	})
}

// =============================================================================
// CALENDAR
// =============================================================================

type dayOutput struct {
	Date   string   `json:"date"`
	Points int      `json:"points"`
	Class  string   `json:"class"`
	Habits []string `json:"habits,omitempty"`
}

func newCalendarCommand(opts *RootOptions) *cobra.Command {
	var year, month int
	cmd := &cobra.Command{
		Use:   "calendar USER",
		Short: "Show a month of daily point sums",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			today := s.engine.Today()
			if year == 0 {
				year = today.Year()
			}
			if month == 0 {
				month = int(today.Month())
			}
			if month < 1 || month > 12 {
				return fmt.Errorf("month must be 1-12, got %d", month)
			}

			buckets, err := s.engine.GetDayBuckets(ctx, habit.UserID(args[0]), year, time.Month(month))
			if err != nil {
				return err
			}

			var out []dayOutput
			start := habit.StartOfMonth(year, time.Month(month))
			end := habit.EndOfMonth(year, time.Month(month))
			for day := start; !day.After(end); day = day.AddDays(1) {
				b := buckets[day]
				d := dayOutput{Date: day.String(), Points: b.Points, Class: string(b.Class)}
				for _, e := range b.Entries {
					d.Habits = append(d.Habits, e.HabitName)
				}
				out = append(out, d)
			}

			return opts.emit(cmd.OutOrStdout(), out, func(w io.Writer) error {
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "DATE\tPOINTS\tCLASS\tHABITS")
				for _, d := range out {
					fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", d.Date, d.Points, d.Class, strings.Join(d.Habits, ", "))
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().IntVar(&year, "year", 0, "year (default current)")
	cmd.Flags().IntVar(&month, "month", 0, "month 1-12 (default current)")
	return cmd
}

// =============================================================================
// REBUILD
// =============================================================================

type rebuildOutput struct {
	User    string `json:"user"`
	Drifted bool   `json:"drifted"`
	Total   int    `json:"total_points"`
	Streak  int    `json:"streak"`
}

func newRebuildCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rebuild [USER...]",
		Short: "Replay logs and repair drifted aggregates (all users by default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			users := make([]habit.UserID, 0, len(args))
			for _, a := range args {
				users = append(users, habit.UserID(a))
			}
			if len(users) == 0 {
				if users, err = s.engine.Users(ctx); err != nil {
					return err
				}
			}

			out := make([]rebuildOutput, 0, len(users))
			for _, user := range users {
				agg, drifted, err := s.engine.Rebuild(ctx, user)
				if err != nil {
					return err
				}
				out = append(out, rebuildOutput{User: string(user), Drifted: drifted, Total: agg.TotalPoints, Streak: agg.Streak})
			}

			return opts.emit(cmd.OutOrStdout(), out, func(w io.Writer) error {
				repaired := 0
				for _, r := range out {
					if r.Drifted {
						repaired++
						fmt.Fprintf(w, "repaired %s: %d points, streak %d\n", r.User, r.Total, r.Streak)
					}
				}
				_, err := fmt.Fprintf(w, "%d users checked, %d repaired\n", len(out), repaired)
				return err
			})
		},
	}
}
