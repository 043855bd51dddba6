/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the stock ledger server. Handles configuration,
  dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load config (LEDGER_* env, optional file), apply flag overrides
  2. Build the zerolog logger
  3. Open the store (memory, sqlite or postgres)
  4. Wrap the checkpoint log in the LRU cache
  5. Create engine, gateway, handler and router
  6. Start the integrity sweep
  7. Serve until SIGINT/SIGTERM

COMMAND-LINE FLAGS (override config):
  -config  Config file path (yaml, json, toml or env)
  -port    HTTP server port
  -db      SQLite database path; selects the sqlite driver.
           Use ":memory:" for an in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the integrity sweep
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close the store

EXAMPLES:
  ./server -db="./data/ledger.db"
  LEDGER_STORE_DRIVER=postgres LEDGER_STORE_DATABASE_URL=postgres://... ./server
  ./server -config=./ledger.yaml -port=3000

SEE ALSO:
  - config/config.go: Settings and defaults
  - api/server.go: Router configuration
*/
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/warp/stock-ledger/api"
	"github.com/warp/stock-ledger/config"
	"github.com/warp/stock-ledger/inventory"
	"github.com/warp/stock-ledger/inventory/store"
	"github.com/warp/stock-ledger/logging"
	"github.com/warp/stock-ledger/store/postgres"
	"github.com/warp/stock-ledger/store/sqlite"
)

type backend interface {
	inventory.Store
	Close() error
}

func main() {
	configPath := flag.String("config", "", "Config file path")
	port := flag.Int("port", 0, "HTTP server port (overrides config)")
	dbPath := flag.String("db", "", "SQLite database path (overrides config, selects sqlite)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if *port != 0 {
		cfg.HTTP.Port = *port
	}
	if *dbPath != "" {
		cfg.Store.Driver = config.DriverSQLite
		cfg.Store.SQLitePath = *dbPath
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	logger := logging.New(logging.Config{Env: cfg.Env, Level: cfg.LogLevel})

	ctx := context.Background()
	st, err := openStore(ctx, cfg.Store, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.Store.Driver).Msg("failed to initialize store")
	}
	defer st.Close()

	checkpoints, err := inventory.NewCachedCheckpoints(st, cfg.Cache.SnapshotSize)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create checkpoint cache")
	}

	engine := inventory.NewEngine(st, checkpoints, logger)
	gateway := inventory.NewGateway(st, checkpoints, inventory.GatewayConfig{
		MaxFutureSkew: cfg.Ingest.MaxFutureSkew,
		AppendTimeout: cfg.Ingest.AppendTimeout,
	}, logger)

	handler := api.NewHandler(engine, gateway, logger)
	if p, ok := st.(api.Pinger); ok {
		handler.Store = p
	}
	router := api.NewRouter(handler, api.RouterOptions{AllowedOrigins: cfg.HTTP.AllowedOrigins})

	scheduler := api.NewIntegrityScheduler(engine, logger)
	scheduler.Enabled = cfg.Integrity.Enabled
	scheduler.CheckInterval = cfg.Integrity.Interval
	scheduler.Start()

	server := &http.Server{
		Addr:         cfg.HTTP.Addr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().
			Str("addr", server.Addr).
			Str("driver", cfg.Store.Driver).
			Msg("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	scheduler.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
	}

	logger.Info().Msg("server stopped")
}

func openStore(ctx context.Context, cfg config.StoreConfig, logger zerolog.Logger) (backend, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		logger.Warn().Msg("using in-memory store, data is lost on exit")
		return memoryBackend{store.NewMemory()}, nil
	case config.DriverPostgres:
		return postgres.New(ctx, postgres.Config{
			DatabaseURL: cfg.DatabaseURL,
			MaxConns:    int32(cfg.MaxConns),
		})
	default:
		if cfg.SQLitePath != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755); err != nil {
				return nil, err
			}
		}
		return sqlite.New(cfg.SQLitePath)
	}
}

type memoryBackend struct {
	*store.Memory
}

func (memoryBackend) Close() error { return nil }
