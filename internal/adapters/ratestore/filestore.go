package ratestore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/shopspring/decimal"

	"ibkrTax/internal/ports"
)

// FileStore implements the ports.RateStore interface on a flat JSON file, one
// entry per day key. The whole file is rewritten on every Put so a crash never
// leaves a half-written cache behind.
type FileStore struct {
	path   string
	logger ports.Logger

	mu    sync.Mutex
	rates map[string]decimal.Decimal
}

// FileConfig holds configuration for the JSON file rate store.
type FileConfig struct {
	Path   string
	Logger ports.Logger
}

// NewFile creates a file-backed rate store, loading any existing cache. A
// missing or corrupt cache file is not an error; the store simply starts
// empty.
func NewFile(cfg FileConfig) (*FileStore, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for file rate store")
	}
	path := cfg.Path
	if path == "" {
		path = "./data/exchange_rate_cache.json" // Default path
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		err = fmt.Errorf("failed to create cache directory '%s': %w", filepath.Dir(path), err)
		cfg.Logger.Error(context.Background(), err, "File rate store initialization failed")
		return nil, err
	}

	store := &FileStore{
		path:   path,
		logger: cfg.Logger,
		rates:  make(map[string]decimal.Decimal),
	}
	store.load(context.Background())
	return store, nil
}

// load reads the cache file into memory, tolerating absence and corruption.
func (s *FileStore) load(ctx context.Context) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn(ctx, "Could not read rate cache file, starting empty", map[string]interface{}{"path": s.path, "error": err.Error()})
		}
		return
	}

	var rates map[string]decimal.Decimal
	if err := json.Unmarshal(data, &rates); err != nil {
		s.logger.Warn(ctx, "Rate cache file is corrupt, starting empty", map[string]interface{}{"path": s.path, "error": err.Error()})
		return
	}

	s.rates = rates
	s.logger.Info(ctx, "Loaded exchange rate cache", map[string]interface{}{"path": s.path, "entries": len(rates)})
}

// Get returns the cached rate for key, reporting whether it was present.
func (s *FileStore) Get(ctx context.Context, key string) (decimal.Decimal, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rate, ok := s.rates[key]
	return rate, ok, nil
}

// Put stores the rate under key and rewrites the cache file.
func (s *FileStore) Put(ctx context.Context, key string, rate decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rates[key] = rate
	return s.flushLocked(ctx)
}

// Close releases the store. All writes are flushed eagerly, so there is
// nothing left to do.
func (s *FileStore) Close() error { return nil }

// flushLocked writes the in-memory rates to disk via a temp file rename.
// Callers must hold the mutex.
func (s *FileStore) flushLocked(ctx context.Context) error {
	// Keep entries another process may have written since we loaded. Our own
	// values win on conflict.
	if data, err := os.ReadFile(s.path); err == nil {
		var onDisk map[string]decimal.Decimal
		if err := json.Unmarshal(data, &onDisk); err == nil {
			for key, rate := range onDisk {
				if _, ok := s.rates[key]; !ok {
					s.rates[key] = rate
				}
			}
		}
	}

	data, err := json.MarshalIndent(s.rates, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode rate cache: %w: %w", ports.ErrUpdateFailed, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".rates-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp cache file in '%s': %w: %w", filepath.Dir(s.path), ports.ErrUpdateFailed, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write rate cache '%s': %w: %w", s.path, ports.ErrUpdateFailed, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to close rate cache '%s': %w: %w", s.path, ports.ErrUpdateFailed, err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to replace rate cache '%s': %w: %w", s.path, ports.ErrUpdateFailed, err)
	}

	s.logger.Debug(ctx, "Rate cache flushed", map[string]interface{}{"path": s.path, "entries": len(s.rates)})
	return nil
}
