package deploy

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/artpar/shipmate/internal/core/domain"
	"github.com/artpar/shipmate/internal/shell/executor"
	"github.com/artpar/shipmate/internal/shell/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeRunner records every executor invocation and replays canned results.
type fakeRunner struct {
	results []*executor.Result
	err     error
	calls   []executor.Request
}

func (f *fakeRunner) Run(_ context.Context, req executor.Request) (*executor.Result, error) {
	f.calls = append(f.calls, req)
	if f.err != nil {
		return nil, f.err
	}
	idx := len(f.calls) - 1
	if idx >= len(f.results) {
		idx = len(f.results) - 1
	}
	return f.results[idx], nil
}

func successRunner() *fakeRunner {
	return &fakeRunner{results: []*executor.Result{{Status: executor.StatusSuccessful}}}
}

type fakeGate struct {
	pass  bool
	count int
	calls int
}

func (g *fakeGate) RunAll(_ context.Context) bool { g.calls++; return g.pass }
func (g *fakeGate) Len() int                      { return g.count }

type harness struct {
	orch    *Orchestrator
	runner  *fakeRunner
	state   *store.StateStore
	history *store.HistoryLog
	events  []domain.Event
}

func newHarness(t *testing.T, runner *fakeRunner) *harness {
	t.Helper()
	dir := t.TempDir()
	h := &harness{
		runner:  runner,
		state:   store.NewStateStore(dir, testLogger()),
		history: store.NewHistoryLog(dir, testLogger()),
	}
	h.orch = New(Config{Playbook: "setup/push_code.yml"}, h.state, h.history, runner, testLogger())
	h.orch.revision = func(context.Context) string { return "deadbeef" }
	h.orch.Subscribe(domain.ListenerFunc(func(e domain.Event) {
		h.events = append(h.events, e)
	}))
	return h
}

func (h *harness) eventTypes() []domain.EventType {
	types := make([]domain.EventType, 0, len(h.events))
	for _, e := range h.events {
		types = append(types, e.Type)
	}
	return types
}

func writeDescriptor(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "docker-compose.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func basicRequest(descriptor string) Request {
	return Request{
		Target:         domain.Target{Host: "10.0.0.5", User: "deploy"},
		DescriptorPath: descriptor,
	}
}

// =============================================================================
// Deploy Tests
// =============================================================================

func TestOrchestrator_Deploy_Success(t *testing.T) {
	h := newHarness(t, successRunner())
	desc := writeDescriptor(t, "services:\n  web:\n    image: app:v1\n")

	res, err := h.orch.Deploy(context.Background(), basicRequest(desc))
	require.NoError(t, err)
	assert.Equal(t, OutcomeDeployed, res.Outcome)
	assert.True(t, res.Success())
	assert.NotEmpty(t, res.RecordID)

	// State reflects the deployment.
	entry := h.state.Get("10.0.0.5", "")
	require.NotNil(t, entry)
	assert.Equal(t, domain.StateDeployed, entry.Status)
	assert.Equal(t, res.DescriptorHash, entry.DescriptorHash)

	// History holds one successful record with revision metadata.
	records := h.history.List("10.0.0.5", 0)
	require.Len(t, records, 1)
	assert.Equal(t, domain.RecordSuccess, records[0].Status)
	assert.Equal(t, "deadbeef", records[0].SourceRevision)

	assert.Equal(t, []domain.EventType{
		domain.EventDeploymentStarted,
		domain.EventDeploymentSucceeded,
	}, h.eventTypes())
}

func TestOrchestrator_Deploy_UnchangedDescriptorSkips(t *testing.T) {
	h := newHarness(t, successRunner())
	desc := writeDescriptor(t, "services:\n  web:\n    image: app:v1\n")

	_, err := h.orch.Deploy(context.Background(), basicRequest(desc))
	require.NoError(t, err)
	require.Len(t, h.runner.calls, 1)

	// Second run with the identical descriptor: no executor invocation at all.
	res, err := h.orch.Deploy(context.Background(), basicRequest(desc))
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, res.Outcome)
	assert.True(t, res.Success())
	assert.Len(t, h.runner.calls, 1)

	// Skips leave no history record behind.
	assert.Len(t, h.history.List("10.0.0.5", 0), 1)
	assert.Contains(t, h.eventTypes(), domain.EventDeploymentSkipped)
}

func TestOrchestrator_Deploy_ChangedDescriptorRedeploys(t *testing.T) {
	h := newHarness(t, &fakeRunner{results: []*executor.Result{
		{Status: executor.StatusSuccessful},
		{Status: executor.StatusSuccessful},
	}})
	desc := writeDescriptor(t, "services:\n  web:\n    image: app:v1\n")

	first, err := h.orch.Deploy(context.Background(), basicRequest(desc))
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(desc, []byte("services:\n  web:\n    image: app:v2\n"), 0644))
	second, err := h.orch.Deploy(context.Background(), basicRequest(desc))
	require.NoError(t, err)

	assert.Equal(t, OutcomeDeployed, second.Outcome)
	assert.Len(t, h.runner.calls, 2)
	assert.NotEqual(t, first.DescriptorHash, second.DescriptorHash)

	// The v1 record is now the previous successful deployment.
	prev := h.history.PreviousSuccessful("10.0.0.5", "")
	require.NotNil(t, prev)
	assert.Equal(t, first.RecordID, prev.ID)
	assert.Equal(t, first.DescriptorHash, prev.DescriptorHash)
}

func TestOrchestrator_Deploy_ForceBypassesChangeCheck(t *testing.T) {
	h := newHarness(t, &fakeRunner{results: []*executor.Result{
		{Status: executor.StatusSuccessful},
		{Status: executor.StatusSuccessful},
	}})
	desc := writeDescriptor(t, "services: {}\n")

	_, err := h.orch.Deploy(context.Background(), basicRequest(desc))
	require.NoError(t, err)

	req := basicRequest(desc)
	req.Force = true
	res, err := h.orch.Deploy(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDeployed, res.Outcome)
	assert.Len(t, h.runner.calls, 2)
}

func TestOrchestrator_Deploy_ExecutorFailureRecorded(t *testing.T) {
	h := newHarness(t, &fakeRunner{results: []*executor.Result{
		{Status: "failed", Output: "unreachable", ExitCode: 4},
	}})
	desc := writeDescriptor(t, "services: {}\n")

	res, err := h.orch.Deploy(context.Background(), basicRequest(desc))
	require.NoError(t, err)
	assert.Equal(t, OutcomeDeployFailed, res.Outcome)
	assert.False(t, res.Success())
	assert.Contains(t, res.Detail, "unreachable")

	// Failure lands in both stores before the caller sees it.
	entry := h.state.Get("10.0.0.5", "")
	require.NotNil(t, entry)
	assert.Equal(t, domain.StateFailed, entry.Status)

	records := h.history.List("10.0.0.5", 0)
	require.Len(t, records, 1)
	assert.Equal(t, domain.RecordFailed, records[0].Status)
	assert.Contains(t, records[0].Error, "unreachable")

	assert.Equal(t, []domain.EventType{
		domain.EventDeploymentStarted,
		domain.EventDeploymentFailed,
	}, h.eventTypes())
}

func TestOrchestrator_Deploy_RunnerErrorRecorded(t *testing.T) {
	h := newHarness(t, &fakeRunner{err: errors.New("executor binary not found")})
	desc := writeDescriptor(t, "services: {}\n")

	res, err := h.orch.Deploy(context.Background(), basicRequest(desc))
	require.NoError(t, err)
	assert.Equal(t, OutcomeDeployFailed, res.Outcome)
	assert.Contains(t, res.Detail, "executor binary not found")

	records := h.history.List("10.0.0.5", 0)
	require.Len(t, records, 1)
	assert.Equal(t, domain.RecordFailed, records[0].Status)
}

func TestOrchestrator_Deploy_MissingDescriptorForcesUpdate(t *testing.T) {
	// An unreadable descriptor digests to the empty sentinel, which never
	// matches stored state, so the deployment proceeds rather than skipping.
	h := newHarness(t, successRunner())

	res, err := h.orch.Deploy(context.Background(), basicRequest("/nonexistent/compose.yml"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeDeployed, res.Outcome)
	assert.Empty(t, res.DescriptorHash)
	assert.Len(t, h.runner.calls, 1)
}

func TestOrchestrator_Deploy_ValidatesRequest(t *testing.T) {
	h := newHarness(t, successRunner())

	_, err := h.orch.Deploy(context.Background(), Request{DescriptorPath: "x.yml"})
	assert.ErrorIs(t, err, domain.ErrHostRequired)

	_, err = h.orch.Deploy(context.Background(), Request{Target: domain.Target{Host: "h"}})
	assert.ErrorIs(t, err, domain.ErrDescriptorMissing)

	assert.Empty(t, h.runner.calls)
}

func TestOrchestrator_Deploy_ExtraVarsReachExecutor(t *testing.T) {
	h := newHarness(t, successRunner())
	desc := writeDescriptor(t, "services: {}\n")

	req := basicRequest(desc)
	req.Target.EnvFile = "/etc/app/.env"
	req.Target.DeployCommand = "docker compose up -d --build"
	req.ExtraVars = map[string]string{"RELEASE": "r42"}

	_, err := h.orch.Deploy(context.Background(), req)
	require.NoError(t, err)

	require.Len(t, h.runner.calls, 1)
	got := h.runner.calls[0]
	assert.Equal(t, "setup/push_code.yml", got.Playbook)
	assert.NotEmpty(t, got.Inventory)
	assert.Equal(t, "push", got.ExtraVars["DEPLOY_MODE"])
	assert.Equal(t, desc, got.ExtraVars["DOCKER_COMPOSE_FILE_PATH"])
	assert.Equal(t, "/etc/app/.env", got.ExtraVars["ENV_FILE_PATH"])
	assert.Equal(t, "docker compose up -d --build", got.ExtraVars["DEPLOY_COMMAND"])
	assert.Equal(t, "r42", got.ExtraVars["RELEASE"])
	assert.Equal(t, "~/app", got.ExtraVars["PROJECT_DEST_DIR"])
}

// =============================================================================
// Health Gate Tests
// =============================================================================

func TestOrchestrator_Deploy_HealthGatePasses(t *testing.T) {
	h := newHarness(t, successRunner())
	desc := writeDescriptor(t, "services: {}\n")

	gate := &fakeGate{pass: true, count: 2}
	req := basicRequest(desc)
	req.Gate = gate

	res, err := h.orch.Deploy(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDeployed, res.Outcome)
	assert.Equal(t, 1, gate.calls)
}

func TestOrchestrator_Deploy_HealthGateFailureIsDistinct(t *testing.T) {
	h := newHarness(t, successRunner())
	desc := writeDescriptor(t, "services: {}\n")

	gate := &fakeGate{pass: false, count: 1}
	req := basicRequest(desc)
	req.Gate = gate

	res, err := h.orch.Deploy(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, OutcomeHealthCheckFailed, res.Outcome)
	assert.False(t, res.Success())

	// The deployment itself was recorded as successful; only verification
	// failed afterwards.
	entry := h.state.Get("10.0.0.5", "")
	require.NotNil(t, entry)
	assert.Equal(t, domain.StateDeployed, entry.Status)

	records := h.history.List("10.0.0.5", 0)
	require.Len(t, records, 1)
	assert.Equal(t, domain.RecordSuccess, records[0].Status)
}

func TestOrchestrator_Deploy_EmptyGateSkipsVerification(t *testing.T) {
	h := newHarness(t, successRunner())
	desc := writeDescriptor(t, "services: {}\n")

	gate := &fakeGate{pass: false, count: 0}
	req := basicRequest(desc)
	req.Gate = gate

	res, err := h.orch.Deploy(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDeployed, res.Outcome)
	assert.Zero(t, gate.calls)
}

// =============================================================================
// Rollback Tests
// =============================================================================

func TestOrchestrator_Rollback_ToPreviousSuccessful(t *testing.T) {
	h := newHarness(t, &fakeRunner{results: []*executor.Result{
		{Status: executor.StatusSuccessful},
		{Status: executor.StatusSuccessful},
		{Status: executor.StatusSuccessful},
	}})

	v1 := writeDescriptor(t, "services:\n  web:\n    image: app:v1\n")
	v2 := writeDescriptor(t, "services:\n  web:\n    image: app:v2\n")
	target := domain.Target{Host: "10.0.0.5", User: "deploy"}

	_, err := h.orch.Deploy(context.Background(), Request{Target: target, DescriptorPath: v1})
	require.NoError(t, err)
	_, err = h.orch.Deploy(context.Background(), Request{Target: target, DescriptorPath: v2})
	require.NoError(t, err)

	res, err := h.orch.Rollback(context.Background(), target, "", nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDeployed, res.Outcome)
	assert.Len(t, h.runner.calls, 3)

	// The rollback re-ran the v1 descriptor.
	assert.Equal(t, v1, h.runner.calls[2].ExtraVars["DOCKER_COMPOSE_FILE_PATH"])

	// Current state is back on the v1 digest.
	entry := h.state.Get("10.0.0.5", "")
	require.NotNil(t, entry)
	assert.Equal(t, v1, entry.DescriptorPath)
}

func TestOrchestrator_Rollback_ByExplicitID(t *testing.T) {
	h := newHarness(t, &fakeRunner{results: []*executor.Result{
		{Status: executor.StatusSuccessful},
		{Status: executor.StatusSuccessful},
	}})
	desc := writeDescriptor(t, "services: {}\n")
	target := domain.Target{Host: "10.0.0.5"}

	first, err := h.orch.Deploy(context.Background(), Request{Target: target, DescriptorPath: desc})
	require.NoError(t, err)

	res, err := h.orch.Rollback(context.Background(), target, first.RecordID, nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDeployed, res.Outcome)
	// Force is implied; the digest still matches the stored state.
	assert.Len(t, h.runner.calls, 2)
}

func TestOrchestrator_Rollback_NoTarget(t *testing.T) {
	h := newHarness(t, successRunner())
	target := domain.Target{Host: "10.0.0.5"}

	_, err := h.orch.Rollback(context.Background(), target, "", nil)
	assert.ErrorIs(t, err, domain.ErrNoRollbackTarget)

	_, err = h.orch.Rollback(context.Background(), target, "20240101_000000_deadbeef", nil)
	assert.ErrorIs(t, err, domain.ErrRecordNotFound)

	assert.Empty(t, h.runner.calls)
}

func TestOrchestrator_Rollback_SingleDeploymentHasNoPrevious(t *testing.T) {
	h := newHarness(t, successRunner())
	desc := writeDescriptor(t, "services: {}\n")
	target := domain.Target{Host: "10.0.0.5"}

	_, err := h.orch.Deploy(context.Background(), Request{Target: target, DescriptorPath: desc})
	require.NoError(t, err)

	_, err = h.orch.Rollback(context.Background(), target, "", nil)
	assert.ErrorIs(t, err, domain.ErrNoRollbackTarget)
}
