// Package health runs post-deployment readiness probes. Port and HTTP probes
// poll with a bounded attempt budget to tolerate service warm-up; custom
// probes run a remote command once.
package health

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"
)

// RemoteRunner runs a command on the deployment target. Custom checks use it;
// port and HTTP checks probe the host directly from here.
type RemoteRunner interface {
	Output(ctx context.Context, command string) (string, error)
}

// =============================================================================
// Health Checker
// =============================================================================

// Checker performs individual readiness probes against one host.
type Checker struct {
	host       string
	attempts   int           // Polling budget for port/HTTP probes
	interval   time.Duration // Spacing between polls
	probeLimit time.Duration // Per-probe connection/request timeout
	httpClient *http.Client
	logger     *slog.Logger
}

// CheckerConfig configures probe timing.
type CheckerConfig struct {
	Attempts   int           // Default: 30 (total budget = Attempts x Interval)
	Interval   time.Duration // Default: 1 second
	ProbeLimit time.Duration // Default: 5 seconds
}

// NewChecker creates a health checker for the given host.
func NewChecker(host string, cfg CheckerConfig, logger *slog.Logger) *Checker {
	if cfg.Attempts <= 0 {
		cfg.Attempts = 30
	}
	if cfg.Interval == 0 {
		cfg.Interval = time.Second
	}
	if cfg.ProbeLimit == 0 {
		cfg.ProbeLimit = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Checker{
		host:       host,
		attempts:   cfg.Attempts,
		interval:   cfg.Interval,
		probeLimit: cfg.ProbeLimit,
		httpClient: &http.Client{Timeout: cfg.ProbeLimit},
		logger:     logger,
	}
}

// CheckPort reports whether the host accepts TCP connections on the port.
func (c *Checker) CheckPort(port int) bool {
	addr := net.JoinHostPort(c.host, strconv.Itoa(port))
	conn, err := net.DialTimeout("tcp", addr, c.probeLimit)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// CheckHTTP reports whether the URL responds with exactly expectedStatus.
func (c *Checker) CheckHTTP(ctx context.Context, url string, expectedStatus int) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		c.logger.Warn("invalid health check URL", "url", url, "error", err)
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == expectedStatus
}

// WaitForPort polls until the port accepts connections or the attempt budget
// is exhausted.
func (c *Checker) WaitForPort(ctx context.Context, port int) bool {
	c.logger.Info("waiting for port", "host", c.host, "port", port, "attempts", c.attempts)
	for attempt := 0; attempt < c.attempts; attempt++ {
		if c.CheckPort(port) {
			c.logger.Info("port is available", "host", c.host, "port", port)
			return true
		}
		if attempt < c.attempts-1 {
			select {
			case <-ctx.Done():
				return false
			case <-time.After(c.interval):
			}
		}
	}
	c.logger.Error("port did not become available", "host", c.host, "port", port, "attempts", c.attempts)
	return false
}

// WaitForHTTP polls until the URL returns the expected status or the attempt
// budget is exhausted.
func (c *Checker) WaitForHTTP(ctx context.Context, url string, expectedStatus int) bool {
	c.logger.Info("waiting for HTTP endpoint", "url", url, "expected_status", expectedStatus)
	for attempt := 0; attempt < c.attempts; attempt++ {
		if c.CheckHTTP(ctx, url, expectedStatus) {
			c.logger.Info("endpoint is responding", "url", url)
			return true
		}
		if attempt < c.attempts-1 {
			select {
			case <-ctx.Done():
				return false
			case <-time.After(c.interval):
			}
		}
	}
	c.logger.Error("endpoint did not respond with expected status", "url", url, "attempts", c.attempts)
	return false
}

// RunCustom executes a remote command once; exit zero is a pass.
func (c *Checker) RunCustom(ctx context.Context, remote RemoteRunner, command string) bool {
	if remote == nil {
		c.logger.Warn("no remote transport configured, custom check skipped", "command", command)
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, c.probeLimit*2)
	defer cancel()

	if _, err := remote.Output(ctx, command); err != nil {
		c.logger.Error("custom check failed", "command", command, "error", err)
		return false
	}
	c.logger.Info("custom check passed", "command", command)
	return true
}

// =============================================================================
// Smoke Test Suite
// =============================================================================

type probeKind string

const (
	probePort   probeKind = "port"
	probeHTTP   probeKind = "http"
	probeCustom probeKind = "custom"
)

type probe struct {
	kind           probeKind
	name           string
	port           int
	url            string
	expectedStatus int
	command        string
}

// ProbeResult is the outcome of one smoke test.
type ProbeResult struct {
	Name   string
	Passed bool
}

// Suite is an ordered battery of smoke tests. Order of addition is order of
// execution, and every probe runs even after a failure so the report is
// complete.
type Suite struct {
	checker *Checker
	remote  RemoteRunner
	probes  []probe
	results []ProbeResult
	logger  *slog.Logger
}

// NewSuite creates a smoke test suite for the given host.
// remote may be nil when no custom checks are added.
func NewSuite(checker *Checker, remote RemoteRunner, logger *slog.Logger) *Suite {
	if logger == nil {
		logger = slog.Default()
	}
	return &Suite{
		checker: checker,
		remote:  remote,
		logger:  logger,
	}
}

// AddPortCheck appends a TCP reachability probe.
func (s *Suite) AddPortCheck(port int) {
	s.probes = append(s.probes, probe{
		kind: probePort,
		name: fmt.Sprintf("Port %d", port),
		port: port,
	})
}

// AddHTTPCheck appends an HTTP status probe. expectedStatus <= 0 defaults to 200.
func (s *Suite) AddHTTPCheck(url string, expectedStatus int) {
	if expectedStatus <= 0 {
		expectedStatus = http.StatusOK
	}
	s.probes = append(s.probes, probe{
		kind:           probeHTTP,
		name:           fmt.Sprintf("HTTP %s", url),
		url:            url,
		expectedStatus: expectedStatus,
	})
}

// AddCustomCheck appends a remote command probe.
func (s *Suite) AddCustomCheck(command, name string) {
	s.probes = append(s.probes, probe{
		kind:    probeCustom,
		name:    name,
		command: command,
	})
}

// Len returns the number of configured probes.
func (s *Suite) Len() int { return len(s.probes) }

// RunAll executes every probe in order and returns the logical AND of their
// results. An empty suite trivially passes.
func (s *Suite) RunAll(ctx context.Context) bool {
	s.results = s.results[:0]
	if len(s.probes) == 0 {
		s.logger.Info("no smoke tests configured")
		return true
	}

	s.logger.Info("running smoke tests", "count", len(s.probes))

	passed := 0
	for _, p := range s.probes {
		var ok bool
		switch p.kind {
		case probePort:
			ok = s.checker.WaitForPort(ctx, p.port)
		case probeHTTP:
			ok = s.checker.WaitForHTTP(ctx, p.url, p.expectedStatus)
		case probeCustom:
			ok = s.checker.RunCustom(ctx, s.remote, p.command)
		}
		s.results = append(s.results, ProbeResult{Name: p.name, Passed: ok})
		if ok {
			passed++
		}
	}

	failed := len(s.probes) - passed
	if failed > 0 {
		s.logger.Error("smoke tests failed", "passed", passed, "failed", failed)
		return false
	}
	s.logger.Info("all smoke tests passed", "passed", passed)
	return true
}

// Results returns the per-probe report from the last RunAll.
func (s *Suite) Results() []ProbeResult {
	return s.results
}
