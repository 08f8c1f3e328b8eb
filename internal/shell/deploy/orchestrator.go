// Package deploy coordinates the deployment lifecycle: change detection,
// target description, executor hand-off, outcome recording and the optional
// post-deploy health gate.
package deploy

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/artpar/shipmate/internal/core/digest"
	"github.com/artpar/shipmate/internal/core/domain"
	"github.com/artpar/shipmate/internal/core/inventory"
	"github.com/artpar/shipmate/internal/shell/executor"
	"github.com/artpar/shipmate/internal/shell/store"
	"github.com/artpar/shipmate/internal/shell/vcs"
)

// =============================================================================
// Results
// =============================================================================

// Outcome is the terminal state of one orchestration.
type Outcome string

const (
	// OutcomeSkipped means no change was detected; not an error, and
	// reported distinctly from a fresh deployment.
	OutcomeSkipped Outcome = "skipped"
	// OutcomeDeployed means the executor succeeded and, when requested,
	// the health gate passed.
	OutcomeDeployed Outcome = "deployed"
	// OutcomeDeployFailed means the executor reported non-success.
	OutcomeDeployFailed Outcome = "deploy_failed"
	// OutcomeHealthCheckFailed means the deployment succeeded but the
	// post-deploy verification did not: deployed, not verified healthy.
	OutcomeHealthCheckFailed Outcome = "health_check_failed"
)

// Result reports one orchestration run.
type Result struct {
	Outcome        Outcome
	RecordID       string // History record ID, when one was written
	DescriptorHash string
	Detail         string // Captured executor output on failure
}

// Success reports whether the run should map to a zero exit code.
func (r Result) Success() bool {
	return r.Outcome == OutcomeDeployed || r.Outcome == OutcomeSkipped
}

// =============================================================================
// Request
// =============================================================================

// HealthGate is the post-deploy verification battery. A nil gate or an empty
// suite skips verification.
type HealthGate interface {
	RunAll(ctx context.Context) bool
	Len() int
}

// Request describes one deployment to orchestrate.
type Request struct {
	Target         domain.Target
	DescriptorPath string
	ServiceName    string            // Default: "default"
	Force          bool              // Bypass change detection
	ExtraVars      map[string]string // Passed through to the executor
	Gate           HealthGate        // Optional post-deploy probes
}

// =============================================================================
// Orchestrator
// =============================================================================

// Config configures the orchestrator.
type Config struct {
	Playbook string // Path to the configuration run handed to the executor
}

// Orchestrator drives a deployment request through change check, executor
// hand-off, recording and health verification. It caches nothing between
// operations; every state read goes back to the stores.
type Orchestrator struct {
	state     *store.StateStore
	history   *store.HistoryLog
	runner    executor.Runner
	playbook  string
	listeners []domain.Listener
	logger    *slog.Logger

	// revision resolves the current VCS revision; swapped in tests.
	revision func(ctx context.Context) string
}

// New creates an orchestrator over the given stores and executor.
func New(cfg Config, state *store.StateStore, history *store.HistoryLog, runner executor.Runner, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		state:    state,
		history:  history,
		runner:   runner,
		playbook: cfg.Playbook,
		logger:   logger,
		revision: vcs.HeadRevision,
	}
}

// Subscribe registers a listener for deployment lifecycle events.
func (o *Orchestrator) Subscribe(l domain.Listener) {
	o.listeners = append(o.listeners, l)
}

func (o *Orchestrator) emit(eventType domain.EventType, host, service, recordID, errMsg string) {
	event := domain.Event{
		Type:        eventType,
		Timestamp:   time.Now(),
		Host:        host,
		ServiceName: service,
		RecordID:    recordID,
		Error:       errMsg,
	}
	for _, l := range o.listeners {
		l.OnEvent(event)
	}
}

// Deploy runs the full pipeline for one request.
//
// States: ChangeCheck -> (Skip | Prepare -> Execute -> Interpret -> Record ->
// HealthCheck) -> Done | Failed. Execute is the only long-blocking stage and
// is bounded by ctx.
func (o *Orchestrator) Deploy(ctx context.Context, req Request) (Result, error) {
	if req.Target.Host == "" {
		return Result{}, domain.ErrHostRequired
	}
	if req.DescriptorPath == "" {
		return Result{}, domain.ErrDescriptorMissing
	}
	service := req.ServiceName
	if service == "" {
		service = domain.DefaultServiceName
	}
	host := req.Target.Host

	// ChangeCheck. The sentinel digest of an unreadable descriptor never
	// matches a stored digest, so it always proceeds.
	hash := digest.File(req.DescriptorPath)
	if !req.Force && !o.state.NeedsUpdate(host, hash, service) {
		o.logger.Info("deployment is up to date",
			"host", host,
			"service", service,
			"digest", digest.Short(hash),
		)
		o.emit(domain.EventDeploymentSkipped, host, service, "", "")
		return Result{Outcome: OutcomeSkipped, DescriptorHash: hash}, nil
	}

	o.emit(domain.EventDeploymentStarted, host, service, "", "")

	// Prepare: render the transient target description.
	inventoryPath, cleanup, err := inventory.WriteTransient([]domain.Target{req.Target})
	if err != nil {
		return Result{}, fmt.Errorf("build inventory: %w", err)
	}
	defer cleanup()

	// Execute: the external configuration run. This can take arbitrarily
	// long; ctx is the only bound.
	o.logger.Info("starting deployment",
		"host", host,
		"service", service,
		"descriptor", req.DescriptorPath,
		"digest", digest.Short(hash),
		"force", req.Force,
	)
	result, err := o.runner.Run(ctx, executor.Request{
		Playbook:  o.playbook,
		Inventory: inventoryPath,
		ExtraVars: o.buildExtraVars(req),
	})

	// Interpret: only a successful terminal status counts.
	if err != nil || !result.Successful() {
		detail := ""
		if err != nil {
			detail = err.Error()
		} else {
			detail = fmt.Sprintf("deployment failed with status: %s", result.Status)
			if result.Output != "" {
				detail = fmt.Sprintf("%s\n%s", detail, result.Output)
			}
		}
		recordID := o.recordFailure(host, service, req.DescriptorPath, hash, detail)
		o.emit(domain.EventDeploymentFailed, host, service, recordID, detail)
		o.logger.Error("deployment failed", "host", host, "service", service, "error", detail)
		return Result{
			Outcome:        OutcomeDeployFailed,
			RecordID:       recordID,
			DescriptorHash: hash,
			Detail:         detail,
		}, nil
	}

	// Record: state and history, before anything else can fail.
	recordID := o.recordSuccess(ctx, host, service, req.DescriptorPath, hash)

	// HealthCheck: optional, and a distinct failure class when it fails.
	if req.Gate != nil && req.Gate.Len() > 0 {
		if !req.Gate.RunAll(ctx) {
			detail := "deployment succeeded but smoke tests failed"
			o.emit(domain.EventDeploymentFailed, host, service, recordID, detail)
			o.logger.Error("health gate failed", "host", host, "service", service)
			return Result{
				Outcome:        OutcomeHealthCheckFailed,
				RecordID:       recordID,
				DescriptorHash: hash,
				Detail:         detail,
			}, nil
		}
	}

	o.emit(domain.EventDeploymentSucceeded, host, service, recordID, "")
	o.logger.Info("deployment completed", "host", host, "service", service, "record_id", recordID)
	return Result{
		Outcome:        OutcomeDeployed,
		RecordID:       recordID,
		DescriptorHash: hash,
	}, nil
}

// buildExtraVars assembles the key-value variables handed to the executor.
func (o *Orchestrator) buildExtraVars(req Request) map[string]string {
	vars := map[string]string{
		"DEPLOY_MODE":              "push",
		"DOCKER_COMPOSE_FILE_PATH": req.DescriptorPath,
	}
	if cwd, err := os.Getwd(); err == nil {
		vars["SOURCE_PATH"] = cwd
	}
	workDir := req.Target.WorkDir
	if workDir == "" {
		workDir = "~/app"
	}
	vars["PROJECT_DEST_DIR"] = workDir
	if req.Target.EnvFile != "" {
		vars["ENV_FILE_PATH"] = req.Target.EnvFile
	}
	if req.Target.DeployCommand != "" {
		vars["DEPLOY_COMMAND"] = req.Target.DeployCommand
	}
	for k, v := range req.ExtraVars {
		vars[k] = v
	}
	return vars
}

// recordSuccess updates state and history after a successful executor run.
// Failures here are logged, never propagated: the deployment itself is done.
func (o *Orchestrator) recordSuccess(ctx context.Context, host, service, descriptorPath, hash string) string {
	if err := o.state.RecordDeployment(host, descriptorPath, hash, service); err != nil {
		o.logger.Warn("failed to record deployment state", "host", host, "error", err)
	}
	recordID, err := o.history.Record(domain.Record{
		Host:           host,
		ServiceName:    service,
		DescriptorPath: descriptorPath,
		DescriptorHash: hash,
		SourceRevision: o.revision(ctx), // Best-effort metadata
		Status:         domain.RecordSuccess,
	})
	if err != nil {
		o.logger.Warn("failed to record deployment history", "host", host, "error", err)
	}
	return recordID
}

// recordFailure updates state and history on the error path. Recording is
// never skipped before the failure is surfaced to the caller.
func (o *Orchestrator) recordFailure(host, service, descriptorPath, hash, detail string) string {
	if err := o.state.MarkFailed(host, service, detail); err != nil {
		o.logger.Warn("failed to record failure state", "host", host, "error", err)
	}
	recordID, err := o.history.Record(domain.Record{
		Host:           host,
		ServiceName:    service,
		DescriptorPath: descriptorPath,
		DescriptorHash: hash,
		Status:         domain.RecordFailed,
		Error:          detail,
	})
	if err != nil {
		o.logger.Warn("failed to record failure history", "host", host, "error", err)
	}
	return recordID
}

// Rollback redeploys the descriptor from a prior history record. With an
// explicit id the record is looked up directly; otherwise the previous
// successful deployment for the host is the target.
func (o *Orchestrator) Rollback(ctx context.Context, target domain.Target, id string, gate HealthGate) (Result, error) {
	rec := o.history.RollbackTarget(target.Host, id)
	if rec == nil {
		if id != "" {
			return Result{}, fmt.Errorf("%w: %s", domain.ErrRecordNotFound, id)
		}
		return Result{}, domain.ErrNoRollbackTarget
	}

	o.logger.Info("rolling back",
		"host", target.Host,
		"record_id", rec.ID,
		"descriptor", rec.DescriptorPath,
		"digest", digest.Short(rec.DescriptorHash),
	)

	// Force: the rollback target's digest may match current state even
	// though the remote has moved on.
	return o.Deploy(ctx, Request{
		Target:         target,
		DescriptorPath: rec.DescriptorPath,
		ServiceName:    rec.ServiceName,
		Force:          true,
		Gate:           gate,
	})
}
