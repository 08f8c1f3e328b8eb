package store

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/artpar/shipmate/internal/core/domain"
	"github.com/google/uuid"
)

// =============================================================================
// Deployment History Log
// =============================================================================

// MaxHistoryEntries caps the journal; the oldest entries are evicted first.
// A bounded-memory policy, not a bug.
const MaxHistoryEntries = 100

// HistoryLog is the append-only journal of every deployment attempt.
// Records are stored in chronological append order and never mutated.
type HistoryLog struct {
	path   string
	lock   *fileLock
	logger *slog.Logger
}

// NewHistoryLog creates a history log backed by dir/deployment_history.json.
func NewHistoryLog(dir string, logger *slog.Logger) *HistoryLog {
	if dir == "" {
		dir = DefaultDir()
	}
	if logger == nil {
		logger = slog.Default()
	}
	path := filepath.Join(dir, HistoryFileName)
	return &HistoryLog{
		path:   path,
		lock:   newFileLock(path),
		logger: logger,
	}
}

func (h *HistoryLog) load() []domain.Record {
	b, err := os.ReadFile(h.path)
	if err != nil {
		return nil
	}
	var records []domain.Record
	if err := json.Unmarshal(b, &records); err != nil {
		h.logger.Warn("invalid history file, treating as empty", "path", h.path, "error", err)
		return nil
	}
	return records
}

func (h *HistoryLog) save(records []domain.Record) error {
	if err := ensureDir(h.path); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}
	b, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal history: %w", err)
	}
	if err := os.WriteFile(h.path, b, 0644); err != nil {
		return fmt.Errorf("write history file: %w", err)
	}
	return nil
}

// newRecordID builds a sortable timestamp-derived ID with a random suffix so
// two attempts within the same second stay distinct.
func newRecordID(now time.Time) string {
	return fmt.Sprintf("%s_%s", now.Format("20060102_150405"), uuid.NewString()[:8])
}

// Record appends a deployment attempt and returns its ID. The journal is
// truncated to the most recent MaxHistoryEntries after the append.
func (h *HistoryLog) Record(rec domain.Record) (string, error) {
	if rec.ServiceName == "" {
		rec.ServiceName = domain.DefaultServiceName
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	rec.ID = newRecordID(rec.Timestamp)

	if err := h.lock.Acquire(); err != nil {
		return "", err
	}
	defer h.lock.Release()

	records := append(h.load(), rec)
	if len(records) > MaxHistoryEntries {
		records = records[len(records)-MaxHistoryEntries:]
	}
	if err := h.save(records); err != nil {
		return "", err
	}

	h.logger.Info("recorded deployment in history",
		"id", rec.ID,
		"host", rec.Host,
		"service", rec.ServiceName,
		"status", rec.Status,
	)
	return rec.ID, nil
}

// List returns records most-recent-first, optionally filtered by host.
// A limit <= 0 defaults to 10.
func (h *HistoryLog) List(host string, limit int) []domain.Record {
	if limit <= 0 {
		limit = 10
	}
	records := h.load()

	var out []domain.Record
	for i := len(records) - 1; i >= 0 && len(out) < limit; i-- {
		if host != "" && records[i].Host != host {
			continue
		}
		out = append(out, records[i])
	}
	return out
}

// Get returns the record with the given ID, or nil if not found.
func (h *HistoryLog) Get(id string) *domain.Record {
	for _, rec := range h.load() {
		if rec.ID == id {
			return &rec
		}
	}
	return nil
}

// PreviousSuccessful returns the second-most-recent successful record for
// (host, service) - the deployment immediately preceding the current one.
// Returns nil when fewer than two successful records exist; that is the
// signal that there is nothing to roll back to.
func (h *HistoryLog) PreviousSuccessful(host, service string) *domain.Record {
	if service == "" {
		service = domain.DefaultServiceName
	}
	var matching []domain.Record
	for _, rec := range h.load() {
		if rec.Host == host && rec.ServiceName == service && rec.Status == domain.RecordSuccess {
			matching = append(matching, rec)
		}
	}
	if len(matching) < 2 {
		return nil
	}
	prev := matching[len(matching)-2]
	return &prev
}

// RollbackTarget resolves the record to roll back to. With an explicit ID it
// is a direct lookup; otherwise it is the previous successful deployment of
// the default service on the host.
func (h *HistoryLog) RollbackTarget(host, id string) *domain.Record {
	if id != "" {
		return h.Get(id)
	}
	return h.PreviousSuccessful(host, domain.DefaultServiceName)
}
