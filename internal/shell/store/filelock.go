package store

import (
	"fmt"
	"os"
	"time"
)

// =============================================================================
// Advisory File Lock
// =============================================================================

const (
	lockRetryInterval = 50 * time.Millisecond
	lockAcquireBudget = 2 * time.Second
	lockStaleAfter    = 10 * time.Second
)

// fileLock is an advisory lock scoped to one store file. It serializes the
// load/mutate/save cycle across processes sharing a state directory. Locks
// older than lockStaleAfter are treated as leftovers from a dead process and
// taken over.
type fileLock struct {
	path string
}

func newFileLock(storePath string) *fileLock {
	return &fileLock{path: storePath + ".lock"}
}

// Acquire takes the lock, waiting up to lockAcquireBudget.
func (l *fileLock) Acquire() error {
	deadline := time.Now().Add(lockAcquireBudget)
	for {
		f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if err == nil {
			fmt.Fprintf(f, "%d\n", os.Getpid())
			return f.Close()
		}
		if !os.IsExist(err) {
			return fmt.Errorf("create lock file %s: %w", l.path, err)
		}

		if info, statErr := os.Stat(l.path); statErr == nil && time.Since(info.ModTime()) > lockStaleAfter {
			// Holder likely died; take the lock over.
			_ = os.Remove(l.path)
			continue
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("timed out acquiring lock %s", l.path)
		}
		time.Sleep(lockRetryInterval)
	}
}

// Release removes the lock file.
func (l *fileLock) Release() {
	_ = os.Remove(l.path)
}
