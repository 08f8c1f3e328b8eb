package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"sort"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Playbook Runner
// =============================================================================

// DefaultBinary is the configuration-management entry point invoked per run.
const DefaultBinary = "ansible-playbook"

// PlaybookRunner shells out to an ansible-playbook compatible binary.
// It is the default Runner implementation; the engine itself never inspects
// the playbook content, only the process exit status.
type PlaybookRunner struct {
	binary  string
	timeout time.Duration
	logger  *slog.Logger
}

// PlaybookRunnerConfig configures the process-based runner.
type PlaybookRunnerConfig struct {
	Binary  string        // Default: ansible-playbook
	Timeout time.Duration // Default: 15 minutes
}

// NewPlaybookRunner creates a process-based executor.
func NewPlaybookRunner(cfg PlaybookRunnerConfig, logger *slog.Logger) *PlaybookRunner {
	if cfg.Binary == "" {
		cfg.Binary = DefaultBinary
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PlaybookRunner{
		binary:  cfg.Binary,
		timeout: cfg.Timeout,
		logger:  logger,
	}
}

// Run invokes the binary with the rendered inventory and extra variables and
// maps the process outcome onto the executor status contract.
func (r *PlaybookRunner) Run(ctx context.Context, req Request) (*Result, error) {
	if req.Playbook == "" {
		return nil, fmt.Errorf("playbook path is required")
	}
	if req.Inventory == "" {
		return nil, fmt.Errorf("inventory path is required")
	}

	runID := uuid.NewString()[:8]
	args := []string{"-i", req.Inventory}
	for _, k := range sortedKeys(req.ExtraVars) {
		args = append(args, "-e", fmt.Sprintf("%s=%s", k, req.ExtraVars[k]))
	}
	args = append(args, req.Playbook)

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	r.logger.Info("invoking executor",
		"run_id", runID,
		"binary", r.binary,
		"playbook", req.Playbook,
		"extra_vars", len(req.ExtraVars),
	)

	cmd := exec.CommandContext(ctx, r.binary, args...)
	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	result := &Result{Output: output.String()}
	switch {
	case err == nil:
		result.Status = StatusSuccessful
	case ctx.Err() != nil:
		result.Status = StatusTimeout
		result.ExitCode = -1
	default:
		result.Status = StatusFailed
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		} else {
			// Binary missing or not startable; still a terminal failure.
			result.ExitCode = -1
			fmt.Fprintf(&output, "executor start error: %v", err)
			result.Output = output.String()
		}
	}

	r.logger.Info("executor finished",
		"run_id", runID,
		"status", result.Status,
		"exit_code", result.ExitCode,
		"elapsed", elapsed,
	)
	return result, nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
