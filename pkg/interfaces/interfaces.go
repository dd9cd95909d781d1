// Package interfaces provides abstractions for dependency injection and testability
package interfaces

import (
	"context"
	"time"

	"github.com/framesmith/framesmith/pkg/types"
)

// FrameSource is a lazy, finite, non-restartable sequence of frame specs.
// Next returns the next spec, or false once the source is exhausted.
// Implementations are not required to be safe for concurrent use; the
// supervisor is the only consumer.
type FrameSource interface {
	Next() (*types.FrameSpec, bool)
	Total() int
}

// WorkerPool is a fixed-size set of isolated workers. Each worker is
// initialized exactly once with an immutable configuration snapshot and
// processes one frame spec at a time.
type WorkerPool interface {
	// Start brings up the workers. A worker that fails to initialize must
	// surface as a worker_fatal-class error here or on its first outcome.
	Start(ctx context.Context) error

	// Submit hands one frame spec to the pool under the given pending
	// handle. It must not block beyond transient queue handoff; the caller
	// enforces the backpressure cap.
	Submit(handle string, spec *types.FrameSpec) error

	// Outcomes delivers exactly one TaskOutcome per non-cancelled
	// submission, in completion order.
	Outcomes() <-chan types.TaskOutcome

	// Cancel withdraws a submission that has not started executing.
	// It returns true if the submission was withdrawn; a submission already
	// on a worker cannot be cancelled and finishes naturally.
	Cancel(handle string) bool

	// Stop shuts the pool down and releases worker resources.
	Stop(ctx context.Context) error
}

// RenderFunc processes one frame inside a worker and returns a tagged
// outcome. It must never propagate a panic; the pool translates uncaught
// faults to worker_exception outcomes.
type RenderFunc func(spec *types.FrameSpec) *types.Outcome

// WorkerInitFunc runs once per worker at startup with the immutable worker
// config snapshot. A returned error prevents the worker from accepting work.
type WorkerInitFunc func(cfg *types.WorkerConfig) error

// ProgressFunc receives progress snapshots from the supervisor's own
// goroutine and must not block significantly.
type ProgressFunc func(info types.ProgressInfo)

// RunMetrics receives per-frame observations and queue depth updates.
// Implementations must be safe for use from the supervisor loop.
type RunMetrics interface {
	ObserveFrame(status types.FrameStatus, duration time.Duration)
	ObserveRetry()
	ObserveWorkerFailure()
	SetInFlight(n int)
}

// RunNotifier surfaces run-level events to the user (desktop notification,
// console, or nothing at all).
type RunNotifier interface {
	NotifyRunStart(total int)
	NotifyRunComplete(stats types.RunStats)
	NotifyRunFailed(reason string)
	NotifyBreakerTripped(failures int)
}
