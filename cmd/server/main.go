/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the Tablecraft payout settlement server. Handles
  configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags, set up logging
  2. Load engine configuration (flags, bonus table, tier rules)
  3. Initialize SQLite store
  4. Wire the settlement engine (signals provider, payment processor)
  5. Configure HTTP router
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (default: 8080)
  -db      SQLite database path (default: payouts.db)
           Use ":memory:" for in-memory database
  -config  Engine config JSON path (default: built-in defaults)
  -demo    Enable scenario loading and the fake payment processor

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close database connection
  4. Exit

EXAMPLES:
  # Run with file database and demo scenarios
  ./server -db="./data/payouts.db" -demo

  # Run with config overrides
  ./server -config=./config.json

ENVIRONMENT:
  LOG_LEVEL: debug, info, warn, error (default: info)

SEE ALSO:
  - api/server.go: Router configuration
  - settlement/gate.go: Release orchestration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tablecraft/payout-engine/api"
	"github.com/tablecraft/payout-engine/config"
	"github.com/tablecraft/payout-engine/pkg/logging"
	"github.com/tablecraft/payout-engine/settlement"
	"github.com/tablecraft/payout-engine/store/sqlite"
)

func main() {
	// Flags
	port := flag.Int("port", 8080, "HTTP server port")
	dbPath := flag.String("db", "payouts.db", "SQLite database path")
	configPath := flag.String("config", "", "engine config JSON path")
	demo := flag.Bool("demo", false, "enable demo scenarios and fake payment processor")
	flag.Parse()

	logger := logging.Setup()

	// Engine configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "path", *configPath, "error", err)
		os.Exit(1)
	}

	// Initialize store
	st, err := sqlite.New(*dbPath)
	if err != nil {
		logger.Error("failed to initialize database", "path", *dbPath, "error", err)
		os.Exit(1)
	}
	defer st.Close()

	// In demo mode the signals provider and payment processor are in-process
	// fakes seeded by scenarios. Production wires the real badge/training
	// service and the payment provider client here.
	signals := &settlement.StaticSignals{
		BadgeSet: make(map[settlement.WorkerID]map[string]bool),
		Trained:  make(map[settlement.WorkerID]bool),
		Ratios:   make(map[settlement.WorkerID]float64),
	}
	processor := settlement.NewFakeProcessor()

	engine := settlement.NewEngine(st, signals, processor, settlement.Static(cfg), logger)

	// Initialize handler
	handler := api.NewHandler(engine)
	if *demo {
		handler.Signals = signals
		handler.Resetter = st
	}

	// Create router
	router := api.NewRouter(handler)

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("server starting", "addr", fmt.Sprintf("http://localhost:%d", *port), "demo", *demo)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}
