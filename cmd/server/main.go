/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the habit ledger server. Handles configuration,
  dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags and load config (file + env)
  2. Build the zap logger
  3. Open the store (SQLite or memory) and seed the catalog
  4. Connect the optional Redis aggregate cache
  5. Create the engine and purge the cache, then the handler and router
  6. Start the day rollover scheduler
  7. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -config  YAML config file (default: habit.yaml, optional)
  -port    HTTP server port, overrides config
  -db      SQLite database path, overrides config
           Use ":memory:" for an in-memory database

ENVIRONMENT:
  HABIT_PORT, HABIT_STORAGE, HABIT_DB_PATH, HABIT_REDIS_ADDR,
  HABIT_LOG_LEVEL, HABIT_TIMEZONE

CACHE:
  The Redis cache requires SQLite storage. Its keys are purged at startup,
  so restart the server after editing the database with habitctl.

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the scheduler
  2. Stop accepting new connections
  3. Wait for active requests to complete (shutdown_timeout)
  4. Close cache and database connections

EXAMPLES:
  ./server -db="./data/habits.db"
  ./server -db=":memory:" -port=3000
  HABIT_REDIS_ADDR=localhost:6379 ./server

SEE ALSO:
  - api/server.go: Router configuration
  - config/config.go: Configuration sections
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/warp/habit-engine/api"
	"github.com/warp/habit-engine/catalog"
	"github.com/warp/habit-engine/config"
	"github.com/warp/habit-engine/habit"
	"github.com/warp/habit-engine/habit/store"
	"github.com/warp/habit-engine/logging"
	"github.com/warp/habit-engine/metrics"
	"github.com/warp/habit-engine/store/redis"
	"github.com/warp/habit-engine/store/sqlite"
)

// backend is what the server needs from a store.
type backend interface {
	habit.Catalog
	habit.Store
	api.Resetter
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "server: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Flags
	configPath := flag.String("config", "habit.yaml", "YAML config file")
	port := flag.Int("port", 0, "HTTP server port (overrides config)")
	dbPath := flag.String("db", "", "SQLite database path (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *dbPath != "" {
		cfg.Storage.Driver = config.StorageSQLite
		cfg.Storage.Path = *dbPath
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx := context.Background()

	// Initialize store
	var st backend
	switch cfg.Storage.Driver {
	case config.StorageMemory:
		st = store.NewMemory()
	default:
		sq, err := sqlite.New(cfg.Storage.Path)
		if err != nil {
			return fmt.Errorf("initialize database: %w", err)
		}
		defer sq.Close()
		st = sq
	}
	logger.Info("store ready", zap.String("driver", cfg.Storage.Driver), zap.String("path", cfg.Storage.Path))

	defs := catalog.Defaults()
	if cfg.Catalog.File != "" {
		if defs, err = catalog.LoadFile(cfg.Catalog.File); err != nil {
			return err
		}
	}
	seeded, err := catalog.Seed(ctx, st, defs)
	if err != nil {
		return fmt.Errorf("seed catalog: %w", err)
	}
	if seeded > 0 {
		logger.Info("catalog seeded", zap.Int("habits", seeded))
	}

	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	clock := habit.SystemClock{Location: loc}

	observer := metrics.New(prometheus.DefaultRegisterer)
	opts := []habit.Option{
		habit.WithClock(clock),
		habit.WithLogger(logger.Named("engine")),
		habit.WithObserver(observer),
	}

	if cfg.Cache.Addr != "" {
		cache, err := redis.New(ctx, redis.Options{
			Addr:     cfg.Cache.Addr,
			Password: cfg.Cache.Password,
			DB:       cfg.Cache.DB,
			Prefix:   cfg.Cache.Prefix,
			TTL:      cfg.Cache.TTL,
		})
		if err != nil {
			return err
		}
		defer cache.Close()
		opts = append(opts, habit.WithCache(cache))
		logger.Info("aggregate cache enabled", zap.String("addr", cfg.Cache.Addr))
	}

	engine := habit.NewEngine(st, st, opts...)

	// Cached aggregates may come from an earlier store or from before
	// offline edits to the database.
	if err := engine.PurgeCache(ctx); err != nil {
		return err
	}

	// Initialize handler
	handler := api.NewHandler(engine, st, logger.Named("api"))

	// Create router
	router := api.NewRouter(handler, api.RouterOptions{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Gatherer:       prometheus.DefaultGatherer,
	})

	scheduler := api.NewDayRolloverScheduler(engine, logger.Named("scheduler"))
	scheduler.Clock = clock
	scheduler.Counter = observer
	scheduler.Enabled = cfg.Scheduler.Enabled
	scheduler.Reminders = cfg.Scheduler.Reminders
	if cfg.Scheduler.CheckInterval > 0 {
		scheduler.CheckInterval = cfg.Scheduler.CheckInterval
	}
	scheduler.Start()
	defer scheduler.Stop()

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serverErr:
		return fmt.Errorf("server failed: %w", err)
	}

	logger.Info("shutting down server")
	scheduler.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}
