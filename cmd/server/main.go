/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the rice mill stock and ledger server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (defaults, YAML, .env, environment, flags)
  2. Build the logger
  3. Open the SQL store and run migrations
  4. Create the engine with metrics wired in
  5. Configure HTTP router
  6. Start the audit scheduler (when audit.interval > 0)
  7. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -config    YAML configuration file
  -env-file  dotenv file (default: .env, ignored when missing)
  -port      HTTP server port (default: 8080)
  -db-driver sqlite3, mysql or postgres (default: sqlite3)
  -db        Database DSN (default: mill.db)
             Use ":memory:" for an in-memory SQLite database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the audit scheduler
  2. Stop accepting new connections
  3. Wait for active requests to complete (http.shutdown_timeout)
  4. Close database connection
  5. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/mill.db"

  # Run against MySQL
  ./server -db-driver=mysql -db="mill:secret@tcp(localhost:3306)/mill"

  # Run with in-memory database
  ./server -db=":memory:"

SEE ALSO:
  - config/config.go: All settings and LEDGER_* variables
  - api/server.go: Router configuration
  - store/sqlstore: Database implementation
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/ricemill/stock-ledger/api"
	"github.com/ricemill/stock-ledger/config"
	"github.com/ricemill/stock-ledger/ledger"
	"github.com/ricemill/stock-ledger/logging"
	"github.com/ricemill/stock-ledger/metrics"
	"github.com/ricemill/stock-ledger/store/sqlstore"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "server:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load("server", os.Args[1:])
	if err != nil {
		return err
	}

	log, err := logging.New(cfg.LoggingConfig())
	if err != nil {
		return err
	}

	collector := metrics.New()

	// Initialize store
	storeCfg := cfg.StoreConfig()
	storeCfg.Logger = log
	storeCfg.OnRetry = collector.ObserveRetry
	store, err := sqlstore.Open(context.Background(), storeCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer store.Close()

	// Initialize engine and handler
	opts := cfg.EngineOptions()
	opts.Logger = log
	opts.Observer = collector
	engine := ledger.NewEngine(store, opts)

	handler := api.NewHandler(engine, log)
	handler.Pinger = store

	router := api.NewRouter(handler, api.RouterOptions{
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		Metrics:        collector,
	})

	scheduler := api.NewAuditScheduler(engine, log, cfg.Audit.Interval)
	scheduler.OnReport = collector.ObserveAudit
	scheduler.Start()
	defer scheduler.Stop()

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	// Start server in goroutine
	serveErr := make(chan error, 1)
	go func() {
		log.WithFields(logrus.Fields{
			"port":        cfg.HTTP.Port,
			"db_driver":   store.Driver(),
			"overpayment": engine.OverpaymentPolicy(),
			"strict":      cfg.Ledger.StrictStock,
		}).Info("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err, ok := <-serveErr:
		if ok {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case sig := <-quit:
		log.WithField("signal", sig.String()).Info("shutting down server")
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Info("server stopped")
	return nil
}
