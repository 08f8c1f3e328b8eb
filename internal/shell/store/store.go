// Package store persists deployment state, history and drift baselines as
// human-diffable JSON files. Every mutation follows a load-full/mutate/save-full
// discipline guarded by an advisory lock file; there is no finer-grained
// concurrency protocol, so at most one orchestrator process per state directory
// is assumed.
package store

import (
	"os"
	"path/filepath"
)

// Default file names within the state directory.
const (
	StateFileName    = "deployment_state.json"
	HistoryFileName  = "deployment_history.json"
	BaselineFileName = "drift_state.json"
)

// DefaultDir returns the default state directory (~/.shipmate).
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".shipmate"
	}
	return filepath.Join(home, ".shipmate")
}

// ensureDir creates the parent directory of path if it does not exist.
func ensureDir(path string) error {
	return os.MkdirAll(filepath.Dir(path), 0755)
}
