/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the habit domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

TYPES:
  Catalog:
    HabitDTO

  Users:
    CreateUserRequest, AggregateDTO, RebuildResponse

  Logs:
    LogHabitRequest, LogHabitResponse, LogEntryDTO

  Calendar:
    CalendarDTO, DayBucketDTO, DayDTO

  Scenarios:
    ScenarioDTO, LoadScenarioRequest

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/habit-engine/habit"
)

// =============================================================================
// CATALOG
// =============================================================================

// HabitDTO is a catalog entry in requests and responses.
type HabitDTO struct {
	Name   string `json:"name"`
	Kind   string `json:"kind"` // "good" | "bad"
	Points int    `json:"points"`
}

func toHabitDTO(def habit.HabitDefinition) HabitDTO {
	return HabitDTO{Name: def.Name, Kind: string(def.Kind), Points: def.PointValue}
}

// =============================================================================
// USERS & AGGREGATES
// =============================================================================

// CreateUserRequest is the request to create a user.
type CreateUserRequest struct {
	ID string `json:"id"`
}

// AggregateDTO is a user's points, level and streak.
type AggregateDTO struct {
	User           string          `json:"user"`
	TotalPoints    int             `json:"total_points"`
	Level          int             `json:"level"`
	LevelProgress  decimal.Decimal `json:"level_progress"`
	Streak         int             `json:"streak"`
	LastActionDate string          `json:"last_action_date,omitempty"`
}

func toAggregateDTO(user habit.UserID, agg habit.UserAggregate) AggregateDTO {
	return AggregateDTO{
		User:           string(user),
		TotalPoints:    agg.TotalPoints,
		Level:          agg.Level,
		LevelProgress:  habit.LevelProgress(agg.TotalPoints),
		Streak:         agg.Streak,
		LastActionDate: agg.LastActionDate.String(),
	}
}

// RebuildResponse reports the replayed aggregate and whether it had drifted.
type RebuildResponse struct {
	Aggregate AggregateDTO `json:"aggregate"`
	Drifted   bool         `json:"drifted"`
}

// =============================================================================
// LOGS
// =============================================================================

// LogHabitRequest logs a habit. Date defaults to the server's today.
type LogHabitRequest struct {
	Habit string `json:"habit"`
	Date  string `json:"date,omitempty"`
}

// LogHabitResponse carries the point delta and the updated aggregate.
type LogHabitResponse struct {
	Delta     int          `json:"delta"`
	Aggregate AggregateDTO `json:"aggregate"`
}

// LogEntryDTO is one ledger entry.
type LogEntryDTO struct {
	ID         string `json:"id"`
	Habit      string `json:"habit"`
	Points     int    `json:"points"`
	Date       string `json:"date"`
	OccurredAt string `json:"occurred_at"`
}

func toLogEntryDTO(e habit.LogEntry) LogEntryDTO {
	return LogEntryDTO{
		ID:         string(e.ID),
		Habit:      e.HabitName,
		Points:     e.PointValue,
		Date:       e.CalendarDate.String(),
		OccurredAt: e.OccurredAt.Format(time.RFC3339Nano),
	}
}

// =============================================================================
// CALENDAR
// =============================================================================

// CalendarDTO is one month of day buckets, in date order.
type CalendarDTO struct {
	User  string         `json:"user"`
	Year  int            `json:"year"`
	Month int            `json:"month"`
	Days  []DayBucketDTO `json:"days"`
}

// DayBucketDTO is one calendar cell.
type DayBucketDTO struct {
	Date    string        `json:"date"`
	Points  int           `json:"points"`
	Class   string        `json:"class"` // empty | low | mid | high | future
	Entries []LogEntryDTO `json:"entries"`
}

// DayDTO describes what a user logged on one day.
type DayDTO struct {
	Date      string          `json:"date"`
	Habits    []string        `json:"habits"`
	Good      int             `json:"good"`
	Bad       int             `json:"bad"`
	Points    int             `json:"points"`
	GoodShare decimal.Decimal `json:"good_share"`
}

// =============================================================================
// SCENARIOS
// =============================================================================

// ScenarioDTO describes a demo scenario.
type ScenarioDTO struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Users       []string `json:"users"`
}

// LoadScenarioRequest is the request to load a scenario.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}
