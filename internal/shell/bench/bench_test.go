package bench

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// =============================================================================
// Run Tests
// =============================================================================

func TestBenchmark_Run_RecordsOutcome(t *testing.T) {
	b := New(testLogger())

	res := b.Run(context.Background(), "deploy_10.0.0.5", func(context.Context) error {
		time.Sleep(5 * time.Millisecond)
		return nil
	})
	assert.True(t, res.Success)
	assert.GreaterOrEqual(t, res.Duration, 5*time.Millisecond)

	res = b.Run(context.Background(), "deploy_10.0.0.6", func(context.Context) error {
		return errors.New("host unreachable")
	})
	assert.False(t, res.Success)
	assert.Equal(t, "host unreachable", res.Error)

	results := b.Results()
	require.Len(t, results, 2)
	assert.Equal(t, "deploy_10.0.0.5", results[0].Name)
}

// =============================================================================
// Report Tests
// =============================================================================

func TestBenchmark_Report_Empty(t *testing.T) {
	b := New(testLogger())
	assert.Equal(t, "No benchmark results available", b.Report())
}

func TestBenchmark_Report_IncludesStatistics(t *testing.T) {
	b := New(testLogger())
	b.Run(context.Background(), "first", func(context.Context) error { return nil })
	b.Run(context.Background(), "second", func(context.Context) error { return nil })
	b.Run(context.Background(), "third", func(context.Context) error { return errors.New("boom") })

	report := b.Report()
	assert.Contains(t, report, "Total Benchmarks: 3")
	assert.Contains(t, report, "Successful: 2")
	assert.Contains(t, report, "Failed: 1")
	assert.Contains(t, report, "PASS first")
	assert.Contains(t, report, "FAIL third")
	assert.Contains(t, report, "Average:")
	assert.Contains(t, report, "Std Dev:")
}

// =============================================================================
// Load Test Tests
// =============================================================================

func TestBenchmark_RunLoadTest_AllSucceed(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	b := New(testLogger())
	stats := b.RunLoadTest(context.Background(), LoadTestConfig{
		URL:        srv.URL,
		Requests:   20,
		Concurrent: 4,
	})

	assert.Equal(t, 20, stats.TotalRequests)
	assert.Equal(t, 20, stats.Successful)
	assert.Zero(t, stats.Failed)
	assert.Equal(t, float64(100), stats.SuccessRate)
	assert.Equal(t, int32(20), atomic.LoadInt32(&hits))
	assert.Greater(t, stats.Avg, time.Duration(0))
	assert.LessOrEqual(t, stats.Min, stats.Median)
	assert.LessOrEqual(t, stats.Median, stats.Max)
}

func TestBenchmark_RunLoadTest_CountsFailures(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if atomic.AddInt32(&hits, 1)%2 == 0 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	b := New(testLogger())
	stats := b.RunLoadTest(context.Background(), LoadTestConfig{
		URL:        srv.URL,
		Requests:   10,
		Concurrent: 2,
	})

	assert.Equal(t, 5, stats.Successful)
	assert.Equal(t, 5, stats.Failed)
	assert.Equal(t, float64(50), stats.SuccessRate)
}

func TestBenchmark_RunLoadTest_UnreachableHost(t *testing.T) {
	b := New(testLogger())
	stats := b.RunLoadTest(context.Background(), LoadTestConfig{
		URL:        "http://127.0.0.1:1/",
		Requests:   5,
		Concurrent: 5,
		Timeout:    time.Second,
	})

	assert.Equal(t, 5, stats.Failed)
	assert.Zero(t, stats.Successful)
	assert.Zero(t, stats.SuccessRate)
}
