// Package store persists portfolio metrics to a single JSON file using
// atomic file replacement (write to .tmp, then rename) to prevent
// corruption from partial writes or crashes mid-save. The portfolio
// controller loads metrics on startup and saves them periodically and on
// shutdown.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"polymarket-mm/internal/metrics"
)

const metricsFileName = "metrics.json"

// Store persists PortfolioMetrics to a JSON file in a designated directory.
// All operations are mutex-protected to prevent concurrent file corruption.
type Store struct {
	dir string
	mu  sync.Mutex
}

// Open creates a store backed by the given directory, creating it if needed.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Close is a no-op for file-based storage.
func (s *Store) Close() error {
	return nil
}

// SaveMetrics atomically persists the portfolio's metrics. It writes to a
// .tmp file first, then renames over the target so the file is never left
// in a partial state.
func (s *Store) SaveMetrics(m *metrics.PortfolioMetrics) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal metrics: %w", err)
	}

	path := filepath.Join(s.dir, metricsFileName)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write metrics: %w", err)
	}
	return os.Rename(tmp, path)
}

// LoadMetrics restores portfolio metrics from disk. If no file exists yet
// (first run), it returns a fresh, empty PortfolioMetrics rather than an error.
func (s *Store) LoadMetrics() (*metrics.PortfolioMetrics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dir, metricsFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return metrics.NewPortfolioMetrics(), nil
		}
		return nil, fmt.Errorf("read metrics: %w", err)
	}

	var m metrics.PortfolioMetrics
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal metrics: %w", err)
	}
	return &m, nil
}
