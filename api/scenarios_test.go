/*
scenarios_test.go - Unit tests for demo scenarios

PURPOSE:
	Tests that each scenario sets up the expected state:
	- Users are created
	- Histories produce the expected points, levels and streaks
	- Loading a scenario replaces the previous one

These tests double as integration tests of the engine over SQLite.
*/
package api

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/warp/habit-engine/catalog"
	"github.com/warp/habit-engine/habit"
	"github.com/warp/habit-engine/store/sqlite"
)

func loadTestScenario(t *testing.T, h *Handler, id string) {
	t.Helper()
	scenario, ok := findScenario(id)
	require.True(t, ok, id)
	require.NoError(t, h.loadScenario(context.Background(), scenario))
}

func requireAggregate(t *testing.T, h *Handler, user habit.UserID, total, level, streak int) {
	t.Helper()
	agg, err := h.Engine.GetAggregate(context.Background(), user)
	require.NoError(t, err)
	assert.Equal(t, total, agg.TotalPoints, "total points of %s", user)
	assert.Equal(t, level, agg.Level, "level of %s", user)
	assert.Equal(t, streak, agg.Streak, "streak of %s", user)
}

// afterReset runs hook once the wrapped store has been reset.
type afterReset struct {
	Resetter
	hook func(ctx context.Context)
}

func (r afterReset) Reset(ctx context.Context) error {
	if err := r.Resetter.Reset(ctx); err != nil {
		return err
	}
	r.hook(ctx)
	return nil
}

// mapCache is an in-process habit.AggregateCache.
type mapCache struct {
	mu     sync.Mutex
	values map[habit.UserID]habit.UserAggregate
}

func newMapCache() *mapCache {
	return &mapCache{values: make(map[habit.UserID]habit.UserAggregate)}
}

func (c *mapCache) Get(_ context.Context, user habit.UserID) (habit.UserAggregate, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	agg, ok := c.values[user]
	return agg, ok, nil
}

func (c *mapCache) Put(_ context.Context, user habit.UserID, agg habit.UserAggregate) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[user] = agg
	return nil
}

func (c *mapCache) Invalidate(_ context.Context, user habit.UserID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.values, user)
	return nil
}

func (c *mapCache) Purge(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values = make(map[habit.UserID]habit.UserAggregate)
	return nil
}

func TestScenario_FreshStart(t *testing.T) {
	h := setupTestHandler(t)
	loadTestScenario(t, h, "fresh-start")

	requireAggregate(t, h, "alex", 13, 1, 1)
}

func TestScenario_SteadyStreak(t *testing.T) {
	// GIVEN: Seven good days ending today
	// THEN: The streak covers all of them and crosses into level 2
	h := setupTestHandler(t)
	loadTestScenario(t, h, "steady-streak")

	requireAggregate(t, h, "sam", 104, 2, 7)
}

func TestScenario_BrokenStreak(t *testing.T) {
	// GIVEN: Two days, a missed day, two days, a net-negative day, one day
	// THEN: Only today counts towards the streak
	h := setupTestHandler(t)
	loadTestScenario(t, h, "broken-streak")

	requireAggregate(t, h, "jordan", 54, 1, 1)

	agg, err := h.Engine.GetAggregate(context.Background(), "jordan")
	require.NoError(t, err)
	assert.Equal(t, testToday, agg.LastActionDate)
}

func TestScenario_LevelUp(t *testing.T) {
	h := setupTestHandler(t)
	loadTestScenario(t, h, "level-up")

	requireAggregate(t, h, "riley", 653, 7, 21)
	requireAggregate(t, h, "casey", 302, 4, 10)
}

func TestScenario_ReplacesPrevious(t *testing.T) {
	ctx := context.Background()
	h := setupTestHandler(t)

	loadTestScenario(t, h, "level-up")
	loadTestScenario(t, h, "fresh-start")

	users, err := h.Engine.Users(ctx)
	require.NoError(t, err)
	assert.Equal(t, []habit.UserID{"alex"}, users)

	requireAggregate(t, h, "riley", 0, 1, 0)
	entries, err := h.Engine.RecentEntries(ctx, "riley", 0)
	require.NoError(t, err)
	assert.Empty(t, entries)

	// Reloading the same scenario is repeatable
	loadTestScenario(t, h, "fresh-start")
	requireAggregate(t, h, "alex", 13, 1, 1)
}

func TestScenario_AllConsistent(t *testing.T) {
	ctx := context.Background()
	for _, s := range scenarios {
		t.Run(s.ID, func(t *testing.T) {
			h := setupTestHandler(t)
			loadTestScenario(t, h, s.ID)

			for _, user := range s.Users {
				_, drifted, err := h.Engine.Rebuild(ctx, habit.UserID(user))
				require.NoError(t, err)
				assert.False(t, drifted, user)
			}
		})
	}
}

func TestScenarioEndpoints(t *testing.T) {
	router, _ := setupTestRouter(t)

	rec := doRequest(t, router, http.MethodGet, "/api/scenarios", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]ScenarioDTO](t, rec), len(scenarios))

	rec = doRequest(t, router, http.MethodGet, "/api/scenarios/current", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "null", strings.TrimSpace(rec.Body.String()))

	rec = doRequest(t, router, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "steady-streak"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doRequest(t, router, http.MethodGet, "/api/scenarios/current", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "steady-streak", decode[ScenarioDTO](t, rec).ID)

	rec = doRequest(t, router, http.MethodGet, "/api/users/sam/aggregate", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 7, decode[AggregateDTO](t, rec).Streak)

	rec = doRequest(t, router, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "nope"})
	requireErrorCode(t, rec, http.StatusNotFound, "scenario_not_found")
}

func TestScenario_LogDuringLoad(t *testing.T) {
	ctx := context.Background()
	h := setupTestHandler(t)

	// GIVEN: Another request logs for a scenario user right after the reset
	h.Store = afterReset{Resetter: h.Store, hook: func(ctx context.Context) {
		_, err := h.Engine.LogHabit(ctx, "alex", "Stayed hydrated", h.Engine.Today())
		require.NoError(t, err)
	}}

	// WHEN: Loading the scenario
	loadTestScenario(t, h, "fresh-start")

	// THEN: The load succeeds and both logs count
	requireAggregate(t, h, "alex", 25, 1, 1)
	_, drifted, err := h.Engine.Rebuild(ctx, "alex")
	require.NoError(t, err)
	assert.False(t, drifted)
}

func TestScenario_PurgesCache(t *testing.T) {
	ctx := context.Background()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	_, err = catalog.Seed(ctx, store, catalog.Defaults())
	require.NoError(t, err)

	cache := newMapCache()
	engine := habit.NewEngine(store, store, habit.WithClock(testClock()), habit.WithCache(cache))
	h := NewHandler(engine, store, zap.NewNop())

	// GIVEN: A cached aggregate for a user the store does not know
	require.NoError(t, cache.Put(ctx, "ghost", habit.UserAggregate{TotalPoints: 500, Level: 6, Streak: 9}))

	// WHEN: Loading a scenario
	loadTestScenario(t, h, "fresh-start")

	// THEN: The stale entry is gone and the scenario user is cached
	agg, err := h.Engine.GetAggregate(ctx, "ghost")
	require.NoError(t, err)
	assert.True(t, habit.ZeroAggregate().Equal(agg), "got %+v", agg)

	cached, ok, err := cache.Get(ctx, "alex")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 13, cached.TotalPoints)
}
