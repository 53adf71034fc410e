/*
handlers.go - HTTP API handlers for the habit ledger

PURPOSE:
  Exposes the habit engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to habit.Engine.

ENDPOINTS:
  Catalog:
    GET    /api/habits                      List habit definitions
    PUT    /api/habits                      Create or update a definition

  Users:
    GET    /api/users                       List users
    POST   /api/users                       Create user
    GET    /api/users/{id}/aggregate        Points, level, streak
    POST   /api/users/{id}/rebuild          Replay the log, repair drift

  Logs:
    POST   /api/users/{id}/logs             Log a habit
    DELETE /api/users/{id}/logs/last        Undo the most recent log
    GET    /api/users/{id}/logs             Recent log entries

  Calendar:
    GET    /api/users/{id}/calendar         Month of day buckets
    GET    /api/users/{id}/days/{date}      Habits and breakdown of one day

REQUEST FLOW:
  1. Parse HTTP request
  2. Validate input
  3. Call habit.Engine
  4. Serialize response
  5. Map engine errors to status codes

ERROR HANDLING:
  - 400: Invalid input, invalid habit definition
  - 404: Unknown habit, nothing to undo
  - 409: Already logged today, user exists
  - 503: Storage unavailable (retryable)
  - 500: Anything else

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/warp/habit-engine/habit"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Resetter clears every user's log and aggregate. Both stores implement it.
type Resetter interface {
	Reset(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine *habit.Engine
	Store  Resetter
	Logger *zap.Logger

	// Track currently loaded scenario
	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a new handler over engine. store is used only by
// scenario loading.
func NewHandler(engine *habit.Engine, store Resetter, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{Engine: engine, Store: store, Logger: logger}
}

// =============================================================================
// CATALOG HANDLERS
// =============================================================================

// ListHabits returns the catalog.
func (h *Handler) ListHabits(w http.ResponseWriter, r *http.Request) {
	defs, err := h.Engine.Habits(r.Context())
	if err != nil {
		h.writeEngineError(w, "Failed to list habits", err)
		return
	}

	dtos := make([]HabitDTO, len(defs))
	for i, def := range defs {
		dtos[i] = toHabitDTO(def)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// UpsertHabit creates or updates a habit definition.
func (h *Handler) UpsertHabit(w http.ResponseWriter, r *http.Request) {
	var req HabitDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", "invalid_body", err)
		return
	}

	kind, err := habit.ParseKind(req.Kind)
	if err != nil {
		h.writeEngineError(w, "Invalid habit kind", err)
		return
	}

	if err := h.Engine.UpsertHabitDefinition(r.Context(), strings.TrimSpace(req.Name), kind, req.Points); err != nil {
		h.writeEngineError(w, "Failed to save habit", err)
		return
	}

	writeJSON(w, http.StatusOK, HabitDTO{Name: strings.TrimSpace(req.Name), Kind: string(kind), Points: req.Points})
}

// =============================================================================
// USER HANDLERS
// =============================================================================

// ListUsers returns all user IDs.
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.Engine.Users(r.Context())
	if err != nil {
		h.writeEngineError(w, "Failed to list users", err)
		return
	}

	ids := make([]string, len(users))
	for i, u := range users {
		ids[i] = string(u)
	}
	writeJSON(w, http.StatusOK, ids)
}

// CreateUser creates a user with a zeroed aggregate.
func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", "invalid_body", err)
		return
	}
	user := habit.UserID(strings.TrimSpace(req.ID))
	if user == "" {
		writeError(w, http.StatusBadRequest, "id is required", "invalid_user", nil)
		return
	}

	if err := h.Engine.CreateUser(r.Context(), user); err != nil {
		h.writeEngineError(w, "Failed to create user", err)
		return
	}

	agg, err := h.Engine.GetAggregate(r.Context(), user)
	if err != nil {
		h.writeEngineError(w, "Failed to get aggregate", err)
		return
	}
	writeJSON(w, http.StatusCreated, toAggregateDTO(user, agg))
}

// GetAggregate returns a user's points, level and streak.
func (h *Handler) GetAggregate(w http.ResponseWriter, r *http.Request) {
	user := userParam(r)

	agg, err := h.Engine.GetAggregate(r.Context(), user)
	if err != nil {
		h.writeEngineError(w, "Failed to get aggregate", err)
		return
	}
	writeJSON(w, http.StatusOK, toAggregateDTO(user, agg))
}

// Rebuild replays a user's log and repairs a drifted aggregate.
func (h *Handler) Rebuild(w http.ResponseWriter, r *http.Request) {
	user := userParam(r)

	agg, drifted, err := h.Engine.Rebuild(r.Context(), user)
	if err != nil {
		h.writeEngineError(w, "Failed to rebuild aggregate", err)
		return
	}
	writeJSON(w, http.StatusOK, RebuildResponse{Aggregate: toAggregateDTO(user, agg), Drifted: drifted})
}

// =============================================================================
// LOG HANDLERS
// =============================================================================

// LogHabit records a habit for the user.
func (h *Handler) LogHabit(w http.ResponseWriter, r *http.Request) {
	user := userParam(r)

	var req LogHabitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", "invalid_body", err)
		return
	}
	if strings.TrimSpace(req.Habit) == "" {
		writeError(w, http.StatusBadRequest, "habit is required", "invalid_habit", nil)
		return
	}

	day := h.Engine.Today()
	if req.Date != "" {
		parsed, err := habit.ParseDate(req.Date)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid date format (use YYYY-MM-DD)", "invalid_date", err)
			return
		}
		day = parsed
	}

	delta, err := h.Engine.LogHabit(r.Context(), user, req.Habit, day)
	if err != nil {
		h.writeEngineError(w, "Failed to log habit", err)
		return
	}

	agg, err := h.Engine.GetAggregate(r.Context(), user)
	if err != nil {
		h.writeEngineError(w, "Failed to get aggregate", err)
		return
	}
	writeJSON(w, http.StatusCreated, LogHabitResponse{Delta: delta, Aggregate: toAggregateDTO(user, agg)})
}

// UndoLast removes the user's most recent log.
func (h *Handler) UndoLast(w http.ResponseWriter, r *http.Request) {
	user := userParam(r)

	agg, err := h.Engine.UndoLast(r.Context(), user)
	if err != nil {
		h.writeEngineError(w, "Failed to undo", err)
		return
	}
	writeJSON(w, http.StatusOK, toAggregateDTO(user, agg))
}

// ListLogs returns recent entries, newest day first.
func (h *Handler) ListLogs(w http.ResponseWriter, r *http.Request) {
	user := userParam(r)

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer", "invalid_limit", err)
			return
		}
		limit = n
	}

	entries, err := h.Engine.RecentEntries(r.Context(), user, limit)
	if err != nil {
		h.writeEngineError(w, "Failed to list logs", err)
		return
	}
	writeJSON(w, http.StatusOK, toLogEntryDTOs(entries))
}

// =============================================================================
// CALENDAR HANDLERS
// =============================================================================

// GetCalendar returns one month of day buckets. year and month default to
// the current month.
func (h *Handler) GetCalendar(w http.ResponseWriter, r *http.Request) {
	user := userParam(r)
	today := h.Engine.Today()

	year, err := intQuery(r, "year", today.Year())
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid year", "invalid_year", err)
		return
	}
	month, err := intQuery(r, "month", int(today.Month()))
	if err != nil || month < 1 || month > 12 {
		writeError(w, http.StatusBadRequest, "month must be 1-12", "invalid_month", err)
		return
	}

	buckets, err := h.Engine.GetDayBuckets(r.Context(), user, year, time.Month(month))
	if err != nil {
		h.writeEngineError(w, "Failed to build calendar", err)
		return
	}

	days := make([]DayBucketDTO, 0, len(buckets))
	for _, b := range buckets {
		days = append(days, DayBucketDTO{
			Date:    b.Date.String(),
			Points:  b.Points,
			Class:   string(b.Class),
			Entries: toLogEntryDTOs(b.Entries),
		})
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Date < days[j].Date })

	writeJSON(w, http.StatusOK, CalendarDTO{User: string(user), Year: year, Month: month, Days: days})
}

// GetDay returns the habits a user logged on one day with the good/bad split.
func (h *Handler) GetDay(w http.ResponseWriter, r *http.Request) {
	user := userParam(r)

	day, err := habit.ParseDate(chi.URLParam(r, "date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date format (use YYYY-MM-DD)", "invalid_date", err)
		return
	}

	names, err := h.Engine.LoggedOn(r.Context(), user, day)
	if err != nil {
		h.writeEngineError(w, "Failed to list habits", err)
		return
	}
	breakdown, err := h.Engine.DailyBreakdown(r.Context(), user, day)
	if err != nil {
		h.writeEngineError(w, "Failed to build breakdown", err)
		return
	}

	writeJSON(w, http.StatusOK, DayDTO{
		Date:      day.String(),
		Habits:    names,
		Good:      breakdown.Good,
		Bad:       breakdown.Bad,
		Points:    breakdown.Points,
		GoodShare: breakdown.GoodShare,
	})
}

// =============================================================================
// HELPERS
// =============================================================================

func userParam(r *http.Request) habit.UserID {
	return habit.UserID(chi.URLParam(r, "id"))
}

func intQuery(r *http.Request, key string, def int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

func toLogEntryDTOs(entries []habit.LogEntry) []LogEntryDTO {
	dtos := make([]LogEntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toLogEntryDTO(e)
	}
	return dtos
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message, code string, err error) {
	resp := ErrorResponse{Error: message, Code: code}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeEngineError maps engine errors to status codes.
func (h *Handler) writeEngineError(w http.ResponseWriter, message string, err error) {
	status, code := http.StatusInternalServerError, "internal"
	switch {
	case errors.Is(err, habit.ErrHabitNotFound):
		status, code = http.StatusNotFound, "habit_not_found"
	case errors.Is(err, habit.ErrNothingToUndo):
		status, code = http.StatusNotFound, "nothing_to_undo"
	case errors.Is(err, habit.ErrAlreadyLoggedToday):
		status, code = http.StatusConflict, "already_logged_today"
	case errors.Is(err, habit.ErrUserExists):
		status, code = http.StatusConflict, "user_exists"
	case errors.Is(err, habit.ErrInvalidSign):
		status, code = http.StatusBadRequest, "invalid_sign"
	case errors.Is(err, habit.ErrInvalidHabit):
		status, code = http.StatusBadRequest, "invalid_habit"
	case errors.Is(err, habit.ErrInvalidDate):
		status, code = http.StatusBadRequest, "invalid_date"
	case errors.Is(err, habit.ErrStorageUnavailable):
		status, code = http.StatusServiceUnavailable, "storage_unavailable"
	}

	if status >= http.StatusInternalServerError {
		h.Logger.Error(message, zap.Error(err))
	}
	writeError(w, status, message, code, err)
}
