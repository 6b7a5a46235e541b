package ratestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"github.com/shopspring/decimal"

	"ibkrTax/internal/ports"
)

// SQLiteStore implements the ports.RateStore interface using SQLite. It is
// the backend of choice when several runs share one cache, since concurrent
// writers go through the database instead of racing on a file.
type SQLiteStore struct {
	db     *sql.DB
	logger ports.Logger
}

// SQLiteConfig holds configuration for the SQLite rate store.
type SQLiteConfig struct {
	DBPath string
	Logger ports.Logger
}

// NewSQLite creates a new SQLite rate store instance.
func NewSQLite(cfg SQLiteConfig) (*SQLiteStore, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite rate store")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/exchange_rates.db" // Default path
	}

	// Create data directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
		cfg.Logger.Error(context.Background(), err, "SQLite rate store initialization failed")
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000") // WAL mode for better concurrency
	if err != nil {
		err = fmt.Errorf("failed to open database at '%s': %w: %w", dbPath, ports.ErrDBConnection, err)
		cfg.Logger.Error(context.Background(), err, "SQLite rate store initialization failed")
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		err = fmt.Errorf("failed to ping database at '%s': %w: %w", dbPath, ports.ErrDBConnection, err)
		cfg.Logger.Error(context.Background(), err, "SQLite rate store initialization failed")
		return nil, err
	}

	// SQLite handles concurrency internally, but the Go driver benefits from
	// limiting connections.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	store := &SQLiteStore{db: db, logger: cfg.Logger}

	if err := store.initializeSchema(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize rate store schema: %w", err)
		cfg.Logger.Error(context.Background(), err, "SQLite rate store initialization failed")
		return nil, err
	}

	cfg.Logger.Info(context.Background(), "SQLite rate store ready", map[string]interface{}{"path": dbPath})
	return store, nil
}

// initializeSchema creates the rates table if it doesn't exist. Rates are
// stored as text so no precision is lost on the round trip.
func (s *SQLiteStore) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS fx_rates (
		day TEXT PRIMARY KEY,
		rate TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w", err)
	}
	return nil
}

// Get returns the stored rate for key, reporting whether it was present.
func (s *SQLiteStore) Get(ctx context.Context, key string) (decimal.Decimal, bool, error) {
	const query = `SELECT rate FROM fx_rates WHERE day = ?`

	var raw string
	err := s.db.QueryRowContext(ctx, query, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("failed to query rate for '%s': %w: %w", key, ports.ErrQueryFailed, err)
	}

	rate, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("stored rate for '%s' is not a number: %w: %w", key, ports.ErrQueryFailed, err)
	}
	return rate, true, nil
}

// Put stores the rate under key, replacing any existing value.
func (s *SQLiteStore) Put(ctx context.Context, key string, rate decimal.Decimal) error {
	const query = `
	INSERT INTO fx_rates (day, rate, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
	ON CONFLICT(day) DO UPDATE SET rate = excluded.rate, updated_at = CURRENT_TIMESTAMP`

	if _, err := s.db.ExecContext(ctx, query, key, rate.String()); err != nil {
		return fmt.Errorf("failed to store rate for '%s': %w: %w", key, ports.ErrUpdateFailed, err)
	}
	s.logger.Debug(ctx, "Rate stored", map[string]interface{}{"key": key, "rate": rate.String()})
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		s.logger.Info(context.Background(), "Closing SQLite rate store")
		return s.db.Close()
	}
	return nil
}
