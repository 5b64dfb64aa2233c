/*
Package sqlstore provides a database/sql implementation of ledger.Store.

PURPOSE:
  Persists the ledger in a relational database. One schema, three
  dialects:

    sqlite3   mattn/go-sqlite3, default; tests use ":memory:"
    mysql     go-sql-driver/mysql, production
    postgres  lib/pq

TRANSACTIONS:
  WithTx opens one database transaction per call. Reads the engine marks
  ForUpdate become SELECT ... FOR UPDATE on MySQL and PostgreSQL. SQLite
  has no row locks: every write transaction is BEGIN IMMEDIATE on a single
  connection behind a mutex, which serializes writers.

RETRY:
  Deadlocks (MySQL 1213), lock wait timeouts (1205), serialization failures
  (PostgreSQL 40001, 40P01), SQLITE_BUSY and errors the engine marks with
  ledger.Conflict restart the whole transaction with exponential backoff. When attempts run out the error is returned as
  ledger.TransactionFailed. fn must therefore only touch the Tx.

VALUES:
  Decimals are written with decimal.Decimal's driver.Valuer (a string)
  and scanned back with its sql.Scanner, so no amount passes through a
  float. Timestamps are fixed-width UTC strings, which sort correctly as
  text on every dialect.

USAGE:
  st, err := sqlstore.Open(ctx, sqlstore.Config{Driver: "sqlite3", DSN: "./data/mill.db"})
  if err != nil { ... }
  defer st.Close()
  engine := ledger.NewEngine(st, ledger.Options{})

MIGRATION:
  Schema is auto-migrated on Open. For production, use a proper migration
  tool with versioned migrations.
*/
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/ricemill/stock-ledger/ledger"
)

type Config struct {
	Driver string // sqlite3 (default), mysql, postgres
	DSN    string

	MaxOpenConns int
	MaxIdleConns int

	// RetryAttempts bounds how often a conflicting transaction is rerun.
	// Default 5.
	RetryAttempts int
	// RetryInitialInterval is the first backoff delay. Default 10ms.
	RetryInitialInterval time.Duration

	// OnRetry is called before every rerun.
	OnRetry func(err error, wait time.Duration)
	Logger  logrus.FieldLogger
}

type Store struct {
	db  *sql.DB
	d   dialect
	cfg Config
	log logrus.FieldLogger

	// writeMu serializes write transactions on SQLite.
	writeMu sync.Mutex
}

var _ ledger.Store = (*Store)(nil)

// Open connects, migrates and returns a ready store.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Driver == "" {
		cfg.Driver = DriverSQLite
	}
	d, ok := dialects[cfg.Driver]
	if !ok {
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
	if cfg.DSN == "" {
		return nil, errors.New("database DSN is required")
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 5
	}
	if cfg.RetryInitialInterval <= 0 {
		cfg.RetryInitialInterval = 10 * time.Millisecond
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}

	dsn := cfg.DSN
	if d.name == DriverSQLite {
		dsn = sqliteDSN(dsn)
	}
	db, err := sql.Open(d.name, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if d.name == DriverSQLite {
		// One connection: ":memory:" databases are per connection, and it
		// makes BEGIN IMMEDIATE the only writer.
		db.SetMaxOpenConns(1)
	} else {
		if cfg.MaxOpenConns > 0 {
			db.SetMaxOpenConns(cfg.MaxOpenConns)
		}
		if cfg.MaxIdleConns > 0 {
			db.SetMaxIdleConns(cfg.MaxIdleConns)
		}
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &Store{db: db, d: d, cfg: cfg, log: cfg.Logger.WithField("component", "sqlstore")}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

func sqliteDSN(dsn string) string {
	params := "_journal_mode=WAL&_txlock=immediate&_busy_timeout=5000"
	if strings.Contains(dsn, "?") {
		return dsn + "&" + params
	}
	return dsn + "?" + params
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Driver returns the dialect name.
func (s *Store) Driver() string { return s.d.name }

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a database transaction, rerunning it on
// conflicts.
func (s *Store) WithTx(ctx context.Context, fn func(ledger.Tx) error) error {
	if !s.d.rowLocks {
		s.writeMu.Lock()
		defer s.writeMu.Unlock()
	}

	b := backoff.WithContext(
		backoff.WithMaxRetries(
			backoff.NewExponentialBackOff(backoff.WithInitialInterval(s.cfg.RetryInitialInterval)),
			uint64(s.cfg.RetryAttempts-1),
		),
		ctx,
	)

	err := backoff.RetryNotify(func() error {
		err := s.runTx(ctx, nil, fn)
		if isRetryable(err) || errors.Is(err, ledger.ErrWriteConflict) {
			return err
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}, b, func(err error, wait time.Duration) {
		s.log.WithError(err).WithField("wait", wait).Warn("transaction conflict, retrying")
		if s.cfg.OnRetry != nil {
			s.cfg.OnRetry(err, wait)
		}
	})

	if isRetryable(err) {
		return ledger.TransactionFailed(err)
	}
	return err
}

// View runs fn in a read-only transaction. Nothing is retried.
func (s *Store) View(ctx context.Context, fn func(ledger.Tx) error) error {
	var opts *sql.TxOptions
	if s.d.readOnlyTx {
		opts = &sql.TxOptions{ReadOnly: true}
	}
	return s.runTx(ctx, opts, func(tx ledger.Tx) error {
		return fn(readOnly{tx})
	})
}

func (s *Store) runTx(ctx context.Context, opts *sql.TxOptions, fn func(ledger.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, opts)
	if err != nil {
		if isRetryable(err) {
			return err
		}
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx, d: s.d}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		if isRetryable(err) {
			return err
		}
		return ledger.TransactionFailed(err)
	}
	return nil
}

// readOnly drops lock requests so View never blocks writers.
type readOnly struct {
	ledger.Tx
}

func (r readOnly) GetVariety(ctx context.Context, id string, _ ledger.Lock) (*ledger.Variety, error) {
	return r.Tx.GetVariety(ctx, id, ledger.NoLock)
}

func (r readOnly) GetCounterparty(ctx context.Context, id string, _ ledger.Lock) (*ledger.Counterparty, error) {
	return r.Tx.GetCounterparty(ctx, id, ledger.NoLock)
}

func (r readOnly) FindCounterpartyByPhone(ctx context.Context, role ledger.CounterpartyRole, phone string, _ ledger.Lock) (*ledger.Counterparty, error) {
	return r.Tx.FindCounterpartyByPhone(ctx, role, phone, ledger.NoLock)
}

func (r readOnly) GetInvoice(ctx context.Context, id string, _ ledger.Lock) (*ledger.Invoice, error) {
	return r.Tx.GetInvoice(ctx, id, ledger.NoLock)
}

func (r readOnly) GetProcess(ctx context.Context, id string, _ ledger.Lock) (*ledger.ConversionProcess, error) {
	return r.Tx.GetProcess(ctx, id, ledger.NoLock)
}

func (r readOnly) GetCashEntry(ctx context.Context, id string, _ ledger.Lock) (*ledger.CashEntry, error) {
	return r.Tx.GetCashEntry(ctx, id, ledger.NoLock)
}

func (r readOnly) ListInvoices(ctx context.Context, f ledger.InvoiceFilter) ([]ledger.Invoice, error) {
	f.Lock = ledger.NoLock
	return r.Tx.ListInvoices(ctx, f)
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	for i := len(tables) - 1; i >= 0; i-- {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+tables[i].name); err != nil {
			return fmt.Errorf("failed to reset %s: %w", tables[i].name, err)
		}
	}
	return nil
}

// Ping checks the connection, for health endpoints.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
