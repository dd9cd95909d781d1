// Package types provides core types and configurations for Framesmith
package types

import (
	"encoding/json"
	"fmt"
	"runtime"
	"time"
)

// FrameStatus represents the processing state of a single frame
type FrameStatus string

const (
	FrameStatusPending          FrameStatus = "pending"
	FrameStatusProcessing       FrameStatus = "processing"
	FrameStatusCompleted        FrameStatus = "completed"
	FrameStatusFailedTransient  FrameStatus = "failed_transient"
	FrameStatusFailedFatal      FrameStatus = "failed_fatal"
	FrameStatusFailedMaxRetries FrameStatus = "failed_max_retries"
)

// Terminal reports whether the status is final for a frame
func (s FrameStatus) Terminal() bool {
	switch s {
	case FrameStatusCompleted, FrameStatusFailedFatal, FrameStatusFailedMaxRetries:
		return true
	}
	return false
}

// ErrorKind classifies frame processing failures
type ErrorKind string

const (
	// ErrorKindTransient is expected to succeed on retry
	ErrorKindTransient ErrorKind = "transient"
	// ErrorKindFrameFatal means the frame itself is unsalvageable
	ErrorKindFrameFatal ErrorKind = "frame_fatal"
	// ErrorKindWorkerFatal means the worker process is suspect; counts
	// toward the run-level circuit breaker
	ErrorKindWorkerFatal ErrorKind = "worker_fatal"
	// ErrorKindWorkerException is an uncaught fault surfaced across the
	// process boundary
	ErrorKindWorkerException ErrorKind = "worker_exception"
	// ErrorKindShutdown marks a frame cancelled during graceful shutdown
	ErrorKindShutdown ErrorKind = "shutdown"
)

// Retryable reports whether a failure of this kind may be resubmitted
func (k ErrorKind) Retryable() bool {
	return k == ErrorKindTransient
}

// RunStatus represents the final status of a render run
type RunStatus string

const (
	RunStatusCompleted   RunStatus = "completed"
	RunStatusInterrupted RunStatus = "interrupted"
	RunStatusError       RunStatus = "error"
)

// FrameSpec describes one frame to render. The index is the stable ordering
// key assigned by the frame source; the payload is opaque to the supervisor
// and handed to the worker verbatim.
type FrameSpec struct {
	FrameIndex  int             `json:"frameIndex" yaml:"frameIndex"`
	TotalFrames int             `json:"totalFrames,omitempty" yaml:"totalFrames,omitempty"`
	Timestamp   string          `json:"timestamp,omitempty" yaml:"timestamp,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty" yaml:"payload,omitempty"`
}

// OutcomeStatus discriminates worker outcomes
type OutcomeStatus string

const (
	OutcomeSuccess OutcomeStatus = "success"
	OutcomeError   OutcomeStatus = "error"
)

// Outcome is the tagged result a worker returns for one submitted frame.
// It is the only value that crosses the worker process boundary, so it must
// stay JSON-serializable.
type Outcome struct {
	FrameIndex   int           `json:"frameIndex"`
	Status       OutcomeStatus `json:"status"`
	ArtifactPath string        `json:"artifactPath,omitempty"`
	ErrorKind    ErrorKind     `json:"errorKind,omitempty"`
	Message      string        `json:"message,omitempty"`
	Duration     time.Duration `json:"duration,omitempty"`
	WorkerID     int           `json:"workerId,omitempty"`
}

// SuccessOutcome builds a success outcome for a frame
func SuccessOutcome(frameIndex int, artifactPath string, duration time.Duration, workerID int) *Outcome {
	return &Outcome{
		FrameIndex:   frameIndex,
		Status:       OutcomeSuccess,
		ArtifactPath: artifactPath,
		Duration:     duration,
		WorkerID:     workerID,
	}
}

// FailureOutcome builds a failure outcome for a frame
func FailureOutcome(frameIndex int, kind ErrorKind, message string, duration time.Duration, workerID int) *Outcome {
	return &Outcome{
		FrameIndex: frameIndex,
		Status:     OutcomeError,
		ErrorKind:  kind,
		Message:    message,
		Duration:   duration,
		WorkerID:   workerID,
	}
}

// TaskOutcome pairs an outcome with the pending handle it belongs to
type TaskOutcome struct {
	Handle  string
	Outcome *Outcome
}

// FrameResult is the permanent terminal record for one frame index.
// Exactly one exists per frame once the run finishes with it.
type FrameResult struct {
	FrameIndex   int           `json:"frameIndex"`
	Status       FrameStatus   `json:"status"`
	ArtifactPath string        `json:"artifactPath,omitempty"`
	ErrorKind    ErrorKind     `json:"errorKind,omitempty"`
	ErrorMessage string        `json:"errorMessage,omitempty"`
	RetryCount   int           `json:"retryCount"`
	Duration     time.Duration `json:"duration,omitempty"`
	WorkerID     int           `json:"workerId,omitempty"`
}

// RenderingConfig controls the parallel processing behaviour of a run.
// It is immutable for the duration of the run.
type RenderingConfig struct {
	MaxWorkers              int           `json:"maxWorkers,omitempty" yaml:"maxWorkers,omitempty"`
	MaxRetriesTransient     int           `json:"maxRetriesTransient" yaml:"maxRetriesTransient"`
	MaxWorkerFailures       int           `json:"maxWorkerFailures" yaml:"maxWorkerFailures"`
	BackpressureMultiplier  int           `json:"backpressureMultiplier" yaml:"backpressureMultiplier"`
	ProgressUpdateInterval  int           `json:"progressUpdateInterval" yaml:"progressUpdateInterval"`
	WorkerTaskBudget        int           `json:"workerTaskBudget,omitempty" yaml:"workerTaskBudget,omitempty"`
	GracefulShutdownTimeout time.Duration `json:"gracefulShutdownTimeout" yaml:"gracefulShutdownTimeout"`
	SaveCompletionManifest  bool          `json:"saveCompletionManifest" yaml:"saveCompletionManifest"`
	ManifestPath            string        `json:"manifestPath,omitempty" yaml:"manifestPath,omitempty"`
}

// DefaultRenderingConfig returns a config with production defaults
func DefaultRenderingConfig() *RenderingConfig {
	return &RenderingConfig{
		MaxWorkers:              runtime.NumCPU(),
		MaxRetriesTransient:     3,
		MaxWorkerFailures:       3,
		BackpressureMultiplier:  2,
		ProgressUpdateInterval:  10,
		WorkerTaskBudget:        1000,
		GracefulShutdownTimeout: 30 * time.Second,
		SaveCompletionManifest:  true,
		ManifestPath:            "render_completion_manifest.json",
	}
}

// MaxInFlight is the backpressure cap on concurrently submitted frames
func (c *RenderingConfig) MaxInFlight() int {
	return c.MaxWorkers * c.BackpressureMultiplier
}

// Validate checks the configuration for invalid values
func (c *RenderingConfig) Validate() error {
	if c.MaxWorkers < 1 {
		return fmt.Errorf("maxWorkers must be at least 1, got %d", c.MaxWorkers)
	}
	if c.MaxRetriesTransient < 0 {
		return fmt.Errorf("maxRetriesTransient must not be negative, got %d", c.MaxRetriesTransient)
	}
	if c.MaxWorkerFailures < 1 {
		return fmt.Errorf("maxWorkerFailures must be at least 1, got %d", c.MaxWorkerFailures)
	}
	if c.BackpressureMultiplier < 1 {
		return fmt.Errorf("backpressureMultiplier must be at least 1, got %d", c.BackpressureMultiplier)
	}
	if c.ProgressUpdateInterval < 1 {
		return fmt.Errorf("progressUpdateInterval must be at least 1, got %d", c.ProgressUpdateInterval)
	}
	if c.WorkerTaskBudget < 0 {
		return fmt.Errorf("workerTaskBudget must not be negative, got %d", c.WorkerTaskBudget)
	}
	if c.GracefulShutdownTimeout <= 0 {
		return fmt.Errorf("gracefulShutdownTimeout must be positive, got %s", c.GracefulShutdownTimeout)
	}
	return nil
}

// WorkerConfig is the immutable snapshot handed to each worker process
// exactly once at startup. The render settings inside are opaque to the
// supervisor; only the output directory is interpreted by the default
// renderer.
type WorkerConfig struct {
	OutputDir string            `json:"outputDir" yaml:"outputDir"`
	Width     int               `json:"width,omitempty" yaml:"width,omitempty"`
	Height    int               `json:"height,omitempty" yaml:"height,omitempty"`
	DPI       int               `json:"dpi,omitempty" yaml:"dpi,omitempty"`
	TargetFPS int               `json:"targetFps,omitempty" yaml:"targetFps,omitempty"`
	FontPaths map[string]string `json:"fontPaths,omitempty" yaml:"fontPaths,omitempty"`
	Extra     json.RawMessage   `json:"extra,omitempty" yaml:"extra,omitempty"`
}

// RunStats accumulates counters over a render run. Owned solely by the
// supervisor loop; consumers get copies, never the live value.
type RunStats struct {
	StartTime      time.Time     `json:"startTime"`
	EndTime        time.Time     `json:"endTime,omitempty"`
	Total          int           `json:"total"`
	Completed      int           `json:"completed"`
	Failed         int           `json:"failed"`
	Retried        int           `json:"retried"`
	WorkerFailures int           `json:"workerFailures"`
	TotalDuration  time.Duration `json:"totalDuration"`
	AvgFrameTime   time.Duration `json:"avgFrameTime,omitempty"`
}

// Finalize stamps the end time and derives the average frame time
func (s *RunStats) Finalize() {
	s.EndTime = time.Now()
	if s.Completed > 0 {
		s.AvgFrameTime = s.TotalDuration / time.Duration(s.Completed)
	}
}

// ProgressInfo is a point-in-time summary of run progress delivered to the
// progress callback
type ProgressInfo struct {
	Total             int           `json:"total"`
	Completed         int           `json:"completed"`
	Failed            int           `json:"failed"`
	InProgress        int           `json:"inProgress"`
	Pending           int           `json:"pending"`
	SuccessRate       float64       `json:"successRate"`
	EstTimeRemaining  time.Duration `json:"estTimeRemaining,omitempty"`
	CurrentThroughput float64       `json:"currentThroughput,omitempty"`
}

// RunReport is the final accounting returned by a run. It is always
// produced, even when the run aborts or is interrupted.
type RunReport struct {
	Status       RunStatus            `json:"status"`
	ErrorMessage string               `json:"errorMessage,omitempty"`
	Stats        RunStats             `json:"stats"`
	Results      map[int]*FrameResult `json:"results"`
}

// CompletedFrames returns the results that finished successfully
func (r *RunReport) CompletedFrames() []*FrameResult {
	var out []*FrameResult
	for _, fr := range r.Results {
		if fr.Status == FrameStatusCompleted {
			out = append(out, fr)
		}
	}
	return out
}

// FailedFrames returns the results that ended in a terminal failure
func (r *RunReport) FailedFrames() []*FrameResult {
	var out []*FrameResult
	for _, fr := range r.Results {
		switch fr.Status {
		case FrameStatusFailedFatal, FrameStatusFailedMaxRetries, FrameStatusFailedTransient:
			out = append(out, fr)
		}
	}
	return out
}
