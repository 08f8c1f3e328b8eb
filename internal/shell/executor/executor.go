// Package executor defines the contract with the external configuration
// management run. The orchestrator hands over a playbook, an inventory and
// extra variables, and interprets nothing but the terminal status string
// coming back.
package executor

import (
	"context"
)

// Terminal status strings reported by an executor run. Only StatusSuccessful
// counts as success; every other value, including partial or unknown states,
// is failure.
const (
	StatusSuccessful = "successful"
	StatusFailed     = "failed"
	StatusTimeout    = "timeout"
)

// Request describes one executor invocation.
type Request struct {
	Playbook  string            // Path to the playbook-equivalent configuration
	Inventory string            // Path to the rendered target inventory
	ExtraVars map[string]string // Key-value variables passed through verbatim
}

// Result is the terminal outcome of an executor run.
type Result struct {
	Status   string // One of the Status* constants
	Output   string // Captured combined output, surfaced as error detail on failure
	ExitCode int
}

// Successful reports whether the run reached the one status that counts.
func (r *Result) Successful() bool {
	return r != nil && r.Status == StatusSuccessful
}

// Runner executes a configuration run against a rendered inventory.
// Run blocks for the duration of the remote execution; implementations must
// honor context cancellation.
type Runner interface {
	Run(ctx context.Context, req Request) (*Result, error)
}
