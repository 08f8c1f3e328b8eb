package store

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/artpar/shipmate/internal/core/digest"
	"github.com/artpar/shipmate/internal/core/domain"
)

// =============================================================================
// Deployment State Store
// =============================================================================

// stateFile is the on-disk shape: host -> service -> entry.
type stateFile map[string]map[string]domain.StateEntry

// StateStore tracks the last-applied descriptor digest per (host, service) so
// unchanged descriptors can skip redeployment.
type StateStore struct {
	path   string
	lock   *fileLock
	logger *slog.Logger

	// RedeployAfterFailure makes NeedsUpdate report true whenever the prior
	// attempt failed, even on a digest match. Off by default: the permissive
	// behavior short-circuits on any prior entry regardless of its status.
	RedeployAfterFailure bool
}

// NewStateStore creates a state store backed by dir/deployment_state.json.
func NewStateStore(dir string, logger *slog.Logger) *StateStore {
	if dir == "" {
		dir = DefaultDir()
	}
	if logger == nil {
		logger = slog.Default()
	}
	path := filepath.Join(dir, StateFileName)
	return &StateStore{
		path:   path,
		lock:   newFileLock(path),
		logger: logger,
	}
}

// load reads the full state file. A missing or malformed file reads as an
// empty store rather than an error (self-healing read).
func (s *StateStore) load() stateFile {
	b, err := os.ReadFile(s.path)
	if err != nil {
		return stateFile{}
	}
	var state stateFile
	if err := json.Unmarshal(b, &state); err != nil {
		s.logger.Warn("invalid state file, treating as empty", "path", s.path, "error", err)
		return stateFile{}
	}
	if state == nil {
		state = stateFile{}
	}
	return state
}

// save writes the full state file.
func (s *StateStore) save(state stateFile) error {
	if err := ensureDir(s.path); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}
	b, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	if err := os.WriteFile(s.path, b, 0644); err != nil {
		return fmt.Errorf("write state file: %w", err)
	}
	return nil
}

// Get returns the state entry for (host, service), or nil if none exists.
func (s *StateStore) Get(host, service string) *domain.StateEntry {
	if service == "" {
		service = domain.DefaultServiceName
	}
	services, ok := s.load()[host]
	if !ok {
		return nil
	}
	entry, ok := services[service]
	if !ok {
		return nil
	}
	return &entry
}

// NeedsUpdate reports whether (host, service) requires a deployment for the
// given descriptor digest. True when no entry exists or the stored digest
// differs. The empty sentinel digest never matches a stored digest, so an
// unreadable descriptor always forces an update.
func (s *StateStore) NeedsUpdate(host, descriptorHash, service string) bool {
	if service == "" {
		service = domain.DefaultServiceName
	}
	entry := s.Get(host, service)
	if entry == nil {
		s.logger.Info("no previous deployment found", "host", host, "service", service)
		return true
	}
	if s.RedeployAfterFailure && entry.Status == domain.StateFailed {
		s.logger.Info("previous attempt failed, redeploying", "host", host, "service", service)
		return true
	}
	if entry.DescriptorHash != descriptorHash || descriptorHash == "" {
		s.logger.Info("descriptor changed",
			"host", host,
			"service", service,
			"old", digest.Short(entry.DescriptorHash),
			"new", digest.Short(descriptorHash),
		)
		return true
	}
	s.logger.Info("no changes detected", "host", host, "service", service)
	return false
}

// RecordDeployment overwrites the entry for (host, service) with a successful
// deployment at the current time.
func (s *StateStore) RecordDeployment(host, descriptorPath, descriptorHash, service string) error {
	if service == "" {
		service = domain.DefaultServiceName
	}
	if err := s.lock.Acquire(); err != nil {
		return err
	}
	defer s.lock.Release()

	state := s.load()
	if state[host] == nil {
		state[host] = map[string]domain.StateEntry{}
	}
	now := time.Now()
	state[host][service] = domain.StateEntry{
		DescriptorPath: descriptorPath,
		DescriptorHash: descriptorHash,
		Status:         domain.StateDeployed,
		DeployedAt:     &now,
	}
	if err := s.save(state); err != nil {
		return err
	}
	s.logger.Info("recorded deployment", "host", host, "service", service, "digest", digest.Short(descriptorHash))
	return nil
}

// MarkFailed overwrites (or creates) the entry for (host, service) with a
// failed status. Descriptor fields from a prior entry are preserved so the
// last known-applied context survives the failure.
func (s *StateStore) MarkFailed(host, service, errMsg string) error {
	if service == "" {
		service = domain.DefaultServiceName
	}
	if err := s.lock.Acquire(); err != nil {
		return err
	}
	defer s.lock.Release()

	state := s.load()
	if state[host] == nil {
		state[host] = map[string]domain.StateEntry{}
	}
	now := time.Now()
	entry := state[host][service] // zero value if absent
	entry.Status = domain.StateFailed
	entry.Error = errMsg
	entry.FailedAt = &now
	state[host][service] = entry

	if err := s.save(state); err != nil {
		return err
	}
	s.logger.Error("marked deployment as failed", "host", host, "service", service, "error", errMsg)
	return nil
}
