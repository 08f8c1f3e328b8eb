// Package drift detects out-of-band changes on deployed hosts by comparing
// operator-recorded baseline file hashes against live remote hashes.
package drift

import (
	"context"
	"log/slog"
	"sort"

	"github.com/artpar/shipmate/internal/core/domain"
	"github.com/artpar/shipmate/internal/shell/store"
)

// RemoteHasher fetches the content hash of a file on a remote host.
type RemoteHasher interface {
	FileSHA256(ctx context.Context, path string) (string, error)
}

// Detector compares recorded baselines against live remote state.
type Detector struct {
	baselines *store.BaselineStore
	logger    *slog.Logger
}

// NewDetector creates a drift detector over the given baseline store.
func NewDetector(baselines *store.BaselineStore, logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{
		baselines: baselines,
		logger:    logger,
	}
}

// RecordBaseline records the expected hash for one file on a host.
func (d *Detector) RecordBaseline(host, filePath, expectedHash string) error {
	return d.baselines.Record(host, filePath, expectedHash)
}

// Check scans every baseline entry for host and classifies divergences.
// A failed or empty remote fetch degrades to a "deleted" classification for
// that file only; the scan always continues through the remaining files.
// A host without baselines yields an empty result, not an error.
func (d *Detector) Check(ctx context.Context, host string, remote RemoteHasher) []domain.DriftEntry {
	baseline := d.baselines.ForHost(host)
	if len(baseline) == 0 {
		d.logger.Info("no baseline recorded for host", "host", host)
		return nil
	}

	// Stable scan order keeps reports diffable.
	files := make([]string, 0, len(baseline))
	for f := range baseline {
		files = append(files, f)
	}
	sort.Strings(files)

	var drifts []domain.DriftEntry
	for _, file := range files {
		expected := baseline[file]
		actual, err := remote.FileSHA256(ctx, file)
		if err != nil || actual == "" {
			if err != nil {
				d.logger.Warn("failed to fetch remote file hash", "host", host, "file", file, "error", err)
			}
			drifts = append(drifts, domain.DriftEntry{
				File:     file,
				Expected: expected,
				Status:   domain.DriftDeleted,
			})
			continue
		}
		if actual != expected {
			drifts = append(drifts, domain.DriftEntry{
				File:     file,
				Expected: expected,
				Actual:   actual,
				Status:   domain.DriftModified,
			})
		}
	}

	d.logger.Info("drift check complete", "host", host, "files", len(files), "drifts", len(drifts))
	return drifts
}
