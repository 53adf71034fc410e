/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:
  Provides pre-built scenarios that populate the store with realistic
  habit histories. Each scenario creates users and logs habits on dates
  relative to today so streaks and calendars look alive.

AVAILABLE SCENARIOS:
  fresh-start:   One user, one habit logged today
  steady-streak: A week of consecutive good days
  broken-streak: A streak interrupted by a gap and a bad day
  level-up:      Enough history to cross a level boundary

HOW SCENARIOS WORK:
  1. Reset the store (logs and aggregates, the catalog is kept)
  2. Create users
  3. Log habits through the engine, oldest day first

USAGE VIA API:
  POST /api/scenarios/load
  {"scenario_id": "steady-streak"}

ADDING NEW SCENARIOS:
  1. Add to 'scenarios' slice with ID, name, description
  2. Add its history to scenarioHistories

NOTE:
  Scenarios reset the store. Only use in development/demo environments.
  They log default catalog habits and fail if those were removed.
  Loads are serialised with each other but not with other writes: a log
  made during a load is either wiped by the reset or kept alongside the
  scenario's history, and a log of one of the scenario's own habits on
  the same day makes the load fail as a duplicate.

SEE ALSO:
  - handlers.go: Handler and error mapping
  - catalog/catalog.go: Default habit names
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/warp/habit-engine/habit"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "fresh-start",
		Name:        "Fresh Start",
		Description: "A new user logs their first habit today",
		Users:       []string{"alex"},
	},
	{
		ID:          "steady-streak",
		Name:        "Steady Streak",
		Description: "Seven consecutive good days ending today",
		Users:       []string{"sam"},
	},
	{
		ID:          "broken-streak",
		Name:        "Broken Streak",
		Description: "A streak reset by a missed day, then by a net-negative day",
		Users:       []string{"jordan"},
	},
	{
		ID:          "level-up",
		Name:        "Level Up",
		Description: "Three weeks of mixed habits crossing level 2",
		Users:       []string{"riley", "casey"},
	},
}

// scenarioLog is one habit logged daysAgo days before today.
type scenarioLog struct {
	user    habit.UserID
	daysAgo int
	habit   string
}

var scenarioHistories = map[string][]scenarioLog{
	"fresh-start": {
		{"alex", 0, "Exercise / Physical Activity"},
	},
	"steady-streak": steadyStreak("sam", 7),
	"broken-streak": {
		{"jordan", 6, "Studied for 2 hours"},
		{"jordan", 5, "Stayed hydrated"},
		// day 4 missed
		{"jordan", 3, "Read books or articles"},
		{"jordan", 2, "Attended lectures on time"},
		{"jordan", 1, "Stayed hydrated"},
		{"jordan", 1, "Stayed up late"},
		{"jordan", 1, "Skipped meal"},
		{"jordan", 0, "Exercise / Physical Activity"},
	},
	"level-up": append(mixedWeeks("riley", 21), mixedWeeks("casey", 10)...),
}

func steadyStreak(user habit.UserID, days int) []scenarioLog {
	good := []string{"Studied for 2 hours", "Exercise / Physical Activity", "Stayed hydrated"}
	var logs []scenarioLog
	for ago := days - 1; ago >= 0; ago-- {
		logs = append(logs, scenarioLog{user, ago, good[ago%len(good)]})
	}
	return logs
}

func mixedWeeks(user habit.UserID, days int) []scenarioLog {
	var logs []scenarioLog
	for ago := days - 1; ago >= 0; ago-- {
		logs = append(logs,
			scenarioLog{user, ago, "Studied for 2 hours"},
			scenarioLog{user, ago, "Stayed hydrated"},
		)
		if ago%3 == 0 {
			logs = append(logs, scenarioLog{user, ago, "Overused social media"})
		}
		if ago%5 == 0 {
			logs = append(logs, scenarioLog{user, ago, "Exercise / Physical Activity"})
		}
	}
	return logs
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario resets the store and loads a scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", "invalid_body", err)
		return
	}

	scenario, ok := findScenario(req.ScenarioID)
	if !ok {
		writeError(w, http.StatusNotFound, "Unknown scenario", "scenario_not_found", nil)
		return
	}

	if err := h.loadScenario(r.Context(), scenario); err != nil {
		h.writeEngineError(w, "Failed to load scenario", err)
		return
	}

	writeJSON(w, http.StatusOK, scenario)
}

func findScenario(id string) (ScenarioDTO, bool) {
	for _, s := range scenarios {
		if s.ID == id {
			return s, true
		}
	}
	return ScenarioDTO{}, false
}

func (h *Handler) loadScenario(ctx context.Context, scenario ScenarioDTO) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	previous, err := h.Engine.Users(ctx)
	if err != nil {
		return err
	}
	if err := h.Store.Reset(ctx); err != nil {
		return fmt.Errorf("reset store: %w", err)
	}
	if err := h.Engine.PurgeCache(ctx); err != nil {
		h.Logger.Warn("scenario: cache purge failed, evicting users", zap.Error(err))
		for _, user := range previous {
			h.Engine.EvictCache(ctx, user)
		}
	}
	h.currentScenario = ""

	for _, user := range scenario.Users {
		// A concurrent log may have created the user since the reset
		err := h.Engine.CreateUser(ctx, habit.UserID(user))
		if err != nil && !errors.Is(err, habit.ErrUserExists) {
			return err
		}
	}

	today := h.Engine.Today()
	for _, l := range scenarioHistories[scenario.ID] {
		if _, err := h.Engine.LogHabit(ctx, l.user, l.habit, today.AddDays(-l.daysAgo)); err != nil {
			return fmt.Errorf("log %q for %s: %w", l.habit, l.user, err)
		}
	}

	h.currentScenario = scenario.ID
	h.Logger.Info("scenario loaded", zap.String("scenario", scenario.ID))
	return nil
}
