// Package domain defines the core types shared across the deployment engine.
package domain

import (
	"errors"
	"time"
)

// =============================================================================
// Errors
// =============================================================================

var (
	ErrNoRollbackTarget  = errors.New("no previous successful deployment to roll back to")
	ErrRecordNotFound    = errors.New("deployment record not found")
	ErrHostRequired      = errors.New("host is required")
	ErrDescriptorMissing = errors.New("descriptor file is required")
)

// DefaultServiceName is used when a deployment does not name a service.
const DefaultServiceName = "default"

// =============================================================================
// History Records
// =============================================================================

// RecordStatus is the terminal outcome of a deployment attempt.
type RecordStatus string

const (
	RecordSuccess RecordStatus = "success"
	RecordFailed  RecordStatus = "failed"
)

// Record is one entry in the append-only deployment history.
// Records are immutable once written.
type Record struct {
	ID             string       `json:"id"`
	Timestamp      time.Time    `json:"timestamp"`
	Host           string       `json:"host"`
	ServiceName    string       `json:"service_name"`
	DescriptorPath string       `json:"descriptor_path"`
	DescriptorHash string       `json:"descriptor_hash"`
	SourceRevision string       `json:"source_revision,omitempty"`
	Status         RecordStatus `json:"status"`
	Error          string       `json:"error,omitempty"`
}

// =============================================================================
// Current State
// =============================================================================

// StateStatus is the status of the last deployment attempt to a (host, service).
type StateStatus string

const (
	StateDeployed StateStatus = "deployed"
	StateFailed   StateStatus = "failed"
)

// StateEntry is the last-applied deployment state for one (host, service) pair.
// Exactly one entry exists per pair; every attempt overwrites it.
type StateEntry struct {
	DescriptorPath string      `json:"descriptor_path,omitempty"`
	DescriptorHash string      `json:"descriptor_hash,omitempty"`
	Status         StateStatus `json:"status"`
	DeployedAt     *time.Time  `json:"deployed_at,omitempty"`
	FailedAt       *time.Time  `json:"failed_at,omitempty"`
	Error          string      `json:"error,omitempty"`
}

// =============================================================================
// Drift
// =============================================================================

// DriftStatus classifies a divergence between baseline and remote state.
type DriftStatus string

const (
	DriftModified DriftStatus = "modified"
	DriftDeleted  DriftStatus = "deleted"
)

// DriftEntry reports one file that diverged from its recorded baseline.
type DriftEntry struct {
	File     string      `json:"file"`
	Expected string      `json:"expected"`
	Actual   string      `json:"actual,omitempty"`
	Status   DriftStatus `json:"status"`
}

// =============================================================================
// Target
// =============================================================================

// Target describes the remote host a deployment is executed against.
// It is rendered into a transient inventory file consumed by the executor.
type Target struct {
	Host           string `json:"host"`
	Port           int    `json:"port,omitempty"` // Default: 22
	User           string `json:"user,omitempty"`
	PrivateKeyPath string `json:"private_key_path,omitempty"`
	Password       string `json:"password,omitempty"`
	WorkDir        string `json:"work_dir,omitempty"`
	EnvFile        string `json:"env_file,omitempty"`
	DeployCommand  string `json:"deploy_command,omitempty"`
}

// Addr returns the host with port applied, defaulting to 22.
func (t Target) Addr() (string, int) {
	port := t.Port
	if port == 0 {
		port = 22
	}
	return t.Host, port
}
