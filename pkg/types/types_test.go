package types_test

import (
	"testing"
	"time"

	"github.com/framesmith/framesmith/pkg/types"
)

func TestFrameStatus_Terminal(t *testing.T) {
	terminal := []types.FrameStatus{
		types.FrameStatusCompleted,
		types.FrameStatusFailedFatal,
		types.FrameStatusFailedMaxRetries,
	}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}

	nonTerminal := []types.FrameStatus{
		types.FrameStatusPending,
		types.FrameStatusProcessing,
		types.FrameStatusFailedTransient,
	}
	for _, s := range nonTerminal {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestErrorKind_Retryable(t *testing.T) {
	if !types.ErrorKindTransient.Retryable() {
		t.Error("transient failures must be retryable")
	}
	for _, k := range []types.ErrorKind{
		types.ErrorKindFrameFatal,
		types.ErrorKindWorkerFatal,
		types.ErrorKindWorkerException,
		types.ErrorKindShutdown,
	} {
		if k.Retryable() {
			t.Errorf("%s must not be retryable", k)
		}
	}
}

func TestRenderingConfig_MaxInFlight(t *testing.T) {
	cfg := &types.RenderingConfig{MaxWorkers: 4, BackpressureMultiplier: 2}
	if got := cfg.MaxInFlight(); got != 8 {
		t.Errorf("expected 8, got %d", got)
	}
}

func TestRenderingConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*types.RenderingConfig)
		wantErr bool
	}{
		{"defaults are valid", func(c *types.RenderingConfig) {}, false},
		{"zero workers", func(c *types.RenderingConfig) { c.MaxWorkers = 0 }, true},
		{"negative retries", func(c *types.RenderingConfig) { c.MaxRetriesTransient = -1 }, true},
		{"zero retries allowed", func(c *types.RenderingConfig) { c.MaxRetriesTransient = 0 }, false},
		{"zero breaker threshold", func(c *types.RenderingConfig) { c.MaxWorkerFailures = 0 }, true},
		{"zero multiplier", func(c *types.RenderingConfig) { c.BackpressureMultiplier = 0 }, true},
		{"zero shutdown timeout", func(c *types.RenderingConfig) { c.GracefulShutdownTimeout = 0 }, true},
		{"unbounded task budget allowed", func(c *types.RenderingConfig) { c.WorkerTaskBudget = 0 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := types.DefaultRenderingConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr && err == nil {
				t.Error("expected a validation error")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestRunStats_Finalize(t *testing.T) {
	stats := &types.RunStats{
		StartTime:     time.Now().Add(-time.Minute),
		Completed:     4,
		TotalDuration: 2 * time.Second,
	}
	stats.Finalize()

	if stats.EndTime.IsZero() {
		t.Error("Finalize should stamp the end time")
	}
	if stats.AvgFrameTime != 500*time.Millisecond {
		t.Errorf("expected 500ms average frame time, got %s", stats.AvgFrameTime)
	}
}

func TestRunStats_FinalizeWithNoCompletions(t *testing.T) {
	stats := &types.RunStats{StartTime: time.Now()}
	stats.Finalize()
	if stats.AvgFrameTime != 0 {
		t.Errorf("expected zero average with no completions, got %s", stats.AvgFrameTime)
	}
}

func TestRunReport_FrameFilters(t *testing.T) {
	report := &types.RunReport{
		Results: map[int]*types.FrameResult{
			0: {FrameIndex: 0, Status: types.FrameStatusCompleted},
			1: {FrameIndex: 1, Status: types.FrameStatusFailedFatal},
			2: {FrameIndex: 2, Status: types.FrameStatusCompleted},
			3: {FrameIndex: 3, Status: types.FrameStatusFailedMaxRetries},
		},
	}

	if got := len(report.CompletedFrames()); got != 2 {
		t.Errorf("expected 2 completed frames, got %d", got)
	}
	if got := len(report.FailedFrames()); got != 2 {
		t.Errorf("expected 2 failed frames, got %d", got)
	}
}
