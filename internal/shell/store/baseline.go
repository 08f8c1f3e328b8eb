package store

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// =============================================================================
// Drift Baselines
// =============================================================================

// baselineFile is the on-disk shape: host -> file path -> expected hash.
type baselineFile map[string]map[string]string

// BaselineStore holds the operator-recorded expected file hashes used for
// drift detection. Baselines are recorded explicitly, not by deployment.
type BaselineStore struct {
	path   string
	lock   *fileLock
	logger *slog.Logger
}

// NewBaselineStore creates a baseline store backed by dir/drift_state.json.
func NewBaselineStore(dir string, logger *slog.Logger) *BaselineStore {
	if dir == "" {
		dir = DefaultDir()
	}
	if logger == nil {
		logger = slog.Default()
	}
	path := filepath.Join(dir, BaselineFileName)
	return &BaselineStore{
		path:   path,
		lock:   newFileLock(path),
		logger: logger,
	}
}

func (b *BaselineStore) load() baselineFile {
	raw, err := os.ReadFile(b.path)
	if err != nil {
		return baselineFile{}
	}
	var state baselineFile
	if err := json.Unmarshal(raw, &state); err != nil {
		b.logger.Warn("invalid drift baseline file, treating as empty", "path", b.path, "error", err)
		return baselineFile{}
	}
	if state == nil {
		state = baselineFile{}
	}
	return state
}

func (b *BaselineStore) save(state baselineFile) error {
	if err := ensureDir(b.path); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}
	raw, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal drift baselines: %w", err)
	}
	if err := os.WriteFile(b.path, raw, 0644); err != nil {
		return fmt.Errorf("write drift baseline file: %w", err)
	}
	return nil
}

// Record upserts the expected hash for one file on a host.
func (b *BaselineStore) Record(host, filePath, expectedHash string) error {
	if err := b.lock.Acquire(); err != nil {
		return err
	}
	defer b.lock.Release()

	state := b.load()
	if state[host] == nil {
		state[host] = map[string]string{}
	}
	state[host][filePath] = expectedHash

	if err := b.save(state); err != nil {
		return err
	}
	b.logger.Info("recorded drift baseline", "host", host, "file", filePath)
	return nil
}

// ForHost returns all recorded baselines for a host. An empty map means no
// baseline exists, which is not an error.
func (b *BaselineStore) ForHost(host string) map[string]string {
	entries := b.load()[host]
	if entries == nil {
		return map[string]string{}
	}
	return entries
}
