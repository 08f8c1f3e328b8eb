// Package bench measures deployment and endpoint performance: timed single
// runs plus a bounded-concurrency load test with summary statistics.
package bench

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

// Result is the outcome of one timed benchmark run.
type Result struct {
	Name     string
	Duration time.Duration
	Success  bool
	Error    string
}

// Benchmark collects timed runs and renders a summary report.
type Benchmark struct {
	mu      sync.Mutex
	results []Result
	logger  *slog.Logger
}

// New creates an empty benchmark collector.
func New(logger *slog.Logger) *Benchmark {
	if logger == nil {
		logger = slog.Default()
	}
	return &Benchmark{logger: logger}
}

// Run times fn and records the outcome under name.
func (b *Benchmark) Run(ctx context.Context, name string, fn func(ctx context.Context) error) Result {
	b.logger.Info("benchmarking", "name", name)

	start := time.Now()
	err := fn(ctx)
	duration := time.Since(start)

	result := Result{
		Name:     name,
		Duration: duration,
		Success:  err == nil,
	}
	if err != nil {
		result.Error = err.Error()
		b.logger.Error("benchmark run failed", "name", name, "error", err)
	}

	b.mu.Lock()
	b.results = append(b.results, result)
	b.mu.Unlock()

	b.logger.Info("benchmark complete", "name", name, "duration", duration, "success", result.Success)
	return result
}

// Results returns a copy of all recorded runs.
func (b *Benchmark) Results() []Result {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Result, len(b.results))
	copy(out, b.results)
	return out
}

// Report renders a plain-text summary of every recorded run.
func (b *Benchmark) Report() string {
	results := b.Results()
	if len(results) == 0 {
		return "No benchmark results available"
	}

	var successful []time.Duration
	failed := 0
	for _, r := range results {
		if r.Success {
			successful = append(successful, r.Duration)
		} else {
			failed++
		}
	}

	var sb strings.Builder
	sb.WriteString("Performance Benchmark Report\n")
	sb.WriteString("===========================\n")
	fmt.Fprintf(&sb, "Total Benchmarks: %d\n", len(results))
	fmt.Fprintf(&sb, "Successful: %d\n", len(successful))
	fmt.Fprintf(&sb, "Failed: %d\n\nResults:\n", failed)

	for _, r := range results {
		status := "PASS"
		if !r.Success {
			status = "FAIL"
		}
		fmt.Fprintf(&sb, "%s %s: %.3fs\n", status, r.Name, r.Duration.Seconds())
	}

	if len(successful) > 0 {
		stats := summarize(successful)
		sb.WriteString("\nStatistics (successful runs):\n")
		fmt.Fprintf(&sb, "  Average: %.3fs\n", stats.Avg.Seconds())
		fmt.Fprintf(&sb, "  Median: %.3fs\n", stats.Median.Seconds())
		fmt.Fprintf(&sb, "  Min: %.3fs\n", stats.Min.Seconds())
		fmt.Fprintf(&sb, "  Max: %.3fs\n", stats.Max.Seconds())
		if len(successful) > 1 {
			fmt.Fprintf(&sb, "  Std Dev: %.3fs\n", stats.StdDev.Seconds())
		}
	}

	return sb.String()
}

// =============================================================================
// Load Test
// =============================================================================

// LoadTestConfig configures the load test.
type LoadTestConfig struct {
	URL        string
	Requests   int           // Default: 100
	Concurrent int           // Default: 10
	Timeout    time.Duration // Per-request timeout, default: 10 seconds
}

// LoadTestStats summarizes a load test run.
type LoadTestStats struct {
	TotalRequests int
	Successful    int
	Failed        int
	SuccessRate   float64 // Percentage
	Avg           time.Duration
	Median        time.Duration
	Min           time.Duration
	Max           time.Duration
	StdDev        time.Duration
}

// RunLoadTest fires Requests GET requests at the URL with at most Concurrent
// in flight and returns response time statistics. A response counts as
// successful on HTTP 200.
func (b *Benchmark) RunLoadTest(ctx context.Context, cfg LoadTestConfig) LoadTestStats {
	if cfg.Requests <= 0 {
		cfg.Requests = 100
	}
	if cfg.Concurrent <= 0 {
		cfg.Concurrent = 10
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}

	b.logger.Info("running load test",
		"url", cfg.URL,
		"requests", cfg.Requests,
		"concurrent", cfg.Concurrent,
	)

	client := &http.Client{Timeout: cfg.Timeout}
	durations := make([]time.Duration, cfg.Requests)
	successes := make([]bool, cfg.Requests)

	sem := make(chan struct{}, cfg.Concurrent)
	var wg sync.WaitGroup
	for i := 0; i < cfg.Requests; i++ {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()
			durations[i], successes[i] = timedGet(ctx, client, cfg.URL)
		}(i)
	}
	wg.Wait()

	stats := LoadTestStats{TotalRequests: cfg.Requests}
	var successful []time.Duration
	for i := range durations {
		if successes[i] {
			stats.Successful++
			successful = append(successful, durations[i])
		} else {
			stats.Failed++
		}
	}
	stats.SuccessRate = float64(stats.Successful) / float64(cfg.Requests) * 100

	if len(successful) > 0 {
		s := summarize(successful)
		stats.Avg, stats.Median, stats.Min, stats.Max, stats.StdDev = s.Avg, s.Median, s.Min, s.Max, s.StdDev
	}

	b.logger.Info("load test complete",
		"success_rate", fmt.Sprintf("%.1f%%", stats.SuccessRate),
		"avg", stats.Avg,
	)
	return stats
}

func timedGet(ctx context.Context, client *http.Client, url string) (time.Duration, bool) {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return time.Since(start), false
	}
	resp, err := client.Do(req)
	if err != nil {
		return time.Since(start), false
	}
	resp.Body.Close()
	return time.Since(start), resp.StatusCode == http.StatusOK
}

// =============================================================================
// Statistics
// =============================================================================

type summary struct {
	Avg    time.Duration
	Median time.Duration
	Min    time.Duration
	Max    time.Duration
	StdDev time.Duration
}

func summarize(durations []time.Duration) summary {
	sorted := make([]time.Duration, len(durations))
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var total time.Duration
	for _, d := range sorted {
		total += d
	}
	avg := total / time.Duration(len(sorted))

	var median time.Duration
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		median = (sorted[mid-1] + sorted[mid]) / 2
	} else {
		median = sorted[mid]
	}

	var stddev time.Duration
	if len(sorted) > 1 {
		var sumSq float64
		for _, d := range sorted {
			diff := float64(d - avg)
			sumSq += diff * diff
		}
		// Sample standard deviation, matching the reporting convention.
		stddev = time.Duration(math.Sqrt(sumSq / float64(len(sorted)-1)))
	}

	return summary{
		Avg:    avg,
		Median: median,
		Min:    sorted[0],
		Max:    sorted[len(sorted)-1],
		StdDev: stddev,
	}
}
