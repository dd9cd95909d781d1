// Package supervisor implements the parallel render orchestration loop
package supervisor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/framesmith/framesmith/pkg/interfaces"
	"github.com/framesmith/framesmith/pkg/logger"
	"github.com/framesmith/framesmith/pkg/types"
)

// defaultPollInterval bounds how long the loop waits on the outcome channel
// before re-checking the shutdown flag
const defaultPollInterval = time.Second

// taskContext is the bookkeeping for one in-flight submission. At most one
// live taskContext exists per in-flight submission of a given frame.
type taskContext struct {
	spec        *types.FrameSpec
	retryCount  int
	submittedAt time.Time
}

// Options carries the optional collaborators of a Supervisor
type Options struct {
	Progress     interfaces.ProgressFunc
	Metrics      interfaces.RunMetrics
	PollInterval time.Duration
}

// Supervisor drives a frame source through a worker pool: it submits up to
// the backpressure cap, classifies outcomes, retries transient failures,
// trips the circuit breaker on repeated worker-fatal failures, and drains
// gracefully on shutdown.
//
// The loop is single-goroutine: the task registry, the result map and the
// counters are owned by Run exclusively. The only synchronization is the
// snapshot mutex that lets Progress() readers take a copy without stalling
// the loop.
type Supervisor struct {
	cfg    *types.RenderingConfig
	source interfaces.FrameSource
	pool   interfaces.WorkerPool
	log    logger.Logger

	progress     interfaces.ProgressFunc
	metrics      interfaces.RunMetrics
	pollInterval time.Duration

	shutdown atomic.Bool

	// Loop-owned state. Never touched outside Run and its callees.
	pending        map[string]*taskContext
	results        map[int]*types.FrameResult
	workerFailures int
	lastReported   int
	startTime      time.Time

	snapMu   sync.RWMutex
	stats    types.RunStats
	inFlight int
}

// New creates a supervisor over the given source and pool
func New(cfg *types.RenderingConfig, source interfaces.FrameSource, pool interfaces.WorkerPool, log logger.Logger, opts Options) *Supervisor {
	pollInterval := opts.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}

	return &Supervisor{
		cfg:          cfg,
		source:       source,
		pool:         pool,
		log:          log.WithScope("supervisor"),
		progress:     opts.Progress,
		metrics:      opts.Metrics,
		pollInterval: pollInterval,
		pending:      make(map[string]*taskContext),
		results:      make(map[int]*types.FrameResult),
	}
}

// RequestShutdown flips the one-way shutdown flag. Safe to call from any
// goroutine, including a signal handler. The loop observes it on its next
// poll; in-flight work is never preempted.
func (s *Supervisor) RequestShutdown() {
	if s.shutdown.CompareAndSwap(false, true) {
		s.log.Info("Shutdown requested, finishing in-flight frames...")
	}
}

// Run executes the render run to completion and always returns a report,
// even when the run aborts or is interrupted.
func (s *Supervisor) Run(ctx context.Context) *types.RunReport {
	s.startTime = time.Now()

	s.snapMu.Lock()
	s.stats.StartTime = s.startTime
	s.stats.Total = s.source.Total()
	s.snapMu.Unlock()

	s.log.Info("Starting parallel frame rendering",
		logger.WithField("total", s.source.Total()),
		logger.WithField("maxWorkers", s.cfg.MaxWorkers),
		logger.WithField("maxInFlight", s.cfg.MaxInFlight()))

	if err := s.pool.Start(ctx); err != nil {
		// A worker that cannot initialize is a worker_fatal-class
		// condition at the pool level.
		return s.finalReport(types.RunStatusError, fmt.Sprintf("worker pool failed to start: %v", err))
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), s.cfg.GracefulShutdownTimeout)
		defer cancel()
		s.pool.Stop(stopCtx)
	}()

	submitted := s.submitInitial(s.cfg.MaxInFlight())
	s.log.Debug("Submitted initial batch", logger.WithField("count", submitted))

	for len(s.pending) > 0 && !s.shutdown.Load() {
		select {
		case <-ctx.Done():
			s.RequestShutdown()

		case to, ok := <-s.pool.Outcomes():
			if !ok {
				return s.finalReport(types.RunStatusError, "worker pool closed unexpectedly")
			}
			if abort, reason := s.onOutcome(to.Handle, to.Outcome); abort {
				s.reportProgress()
				return s.finalReport(types.RunStatusError, reason)
			}
			s.maybeReportProgress()

		case <-time.After(s.pollInterval):
			// Idle wakeup so the shutdown flag is observed even when no
			// outcome arrives.
		}
	}

	interrupted := s.shutdown.Load()
	if interrupted && len(s.pending) > 0 {
		s.drainOnShutdown()
	}

	s.reportProgress()

	if interrupted {
		return s.finalReport(types.RunStatusInterrupted, "")
	}
	return s.finalReport(types.RunStatusCompleted, "")
}

// Progress returns a point-in-time snapshot of run progress. Safe to call
// from any goroutine.
func (s *Supervisor) Progress() types.ProgressInfo {
	s.snapMu.RLock()
	stats := s.stats
	inProgress := s.inFlight
	s.snapMu.RUnlock()

	pendingFrames := stats.Total - stats.Completed - stats.Failed - inProgress
	if pendingFrames < 0 {
		pendingFrames = 0
	}

	info := types.ProgressInfo{
		Total:      stats.Total,
		Completed:  stats.Completed,
		Failed:     stats.Failed,
		InProgress: inProgress,
		Pending:    pendingFrames,
	}

	processed := stats.Completed + stats.Failed
	if processed > 0 {
		info.SuccessRate = float64(stats.Completed) / float64(processed)
	}

	elapsed := time.Since(stats.StartTime)
	if stats.Completed > 0 && elapsed > 0 {
		info.CurrentThroughput = float64(stats.Completed) / elapsed.Seconds()
		remaining := stats.Total - stats.Completed - stats.Failed
		if info.CurrentThroughput > 0 {
			info.EstTimeRemaining = time.Duration(float64(remaining)/info.CurrentThroughput) * time.Second
		}
	}

	return info
}

// submitInitial pulls up to n frames from the source and submits each.
// Source exhaustion is not an error; the count actually submitted is
// returned.
func (s *Supervisor) submitInitial(n int) int {
	submitted := 0
	for i := 0; i < n; i++ {
		if !s.submitNext() {
			break
		}
		submitted++
	}
	return submitted
}

// submitNext pulls one frame from the source and submits it with a fresh
// task context. Returns false on source exhaustion or submit failure.
func (s *Supervisor) submitNext() bool {
	spec, ok := s.source.Next()
	if !ok {
		return false
	}
	return s.submit(spec, 0)
}

// submit creates a task context and hands a frame to the pool
func (s *Supervisor) submit(spec *types.FrameSpec, retryCount int) bool {
	handle := uuid.New().String()

	if err := s.pool.Submit(handle, spec); err != nil {
		s.log.Error("Failed to submit frame",
			logger.WithField("frame", spec.FrameIndex),
			logger.WithField("error", err))
		s.finalize(&taskContext{spec: spec, retryCount: retryCount}, &types.FrameResult{
			FrameIndex:   spec.FrameIndex,
			Status:       types.FrameStatusFailedFatal,
			ErrorKind:    types.ErrorKindWorkerFatal,
			ErrorMessage: err.Error(),
			RetryCount:   retryCount,
		})
		return true
	}

	s.pending[handle] = &taskContext{
		spec:        spec,
		retryCount:  retryCount,
		submittedAt: time.Now(),
	}
	s.syncInFlight()
	return true
}

// syncInFlight mirrors the registry size into the snapshot state
func (s *Supervisor) syncInFlight() {
	n := len(s.pending)
	s.snapMu.Lock()
	s.inFlight = n
	s.snapMu.Unlock()
	if s.metrics != nil {
		s.metrics.SetInFlight(n)
	}
}

// onOutcome classifies one completed submission. It returns abort=true with
// a reason when the circuit breaker trips; the check happens synchronously
// at the moment the threshold is reached.
func (s *Supervisor) onOutcome(handle string, outcome *types.Outcome) (abort bool, reason string) {
	tc, ok := s.pending[handle]
	if !ok {
		s.log.Warn("Outcome for unknown handle dropped", logger.WithField("handle", handle))
		return false, ""
	}
	delete(s.pending, handle)

	frameIndex := tc.spec.FrameIndex

	if outcome.Status == types.OutcomeSuccess {
		s.finalize(tc, &types.FrameResult{
			FrameIndex:   frameIndex,
			Status:       types.FrameStatusCompleted,
			ArtifactPath: outcome.ArtifactPath,
			RetryCount:   tc.retryCount,
			Duration:     outcome.Duration,
			WorkerID:     outcome.WorkerID,
		})
		s.refill()
		return false, ""
	}

	switch outcome.ErrorKind {
	case types.ErrorKindTransient:
		if tc.retryCount < s.cfg.MaxRetriesTransient {
			s.retry(tc)
			return false, ""
		}
		s.log.Warn("Max retries exceeded",
			logger.WithField("frame", frameIndex),
			logger.WithField("retries", tc.retryCount))
		s.finalize(tc, &types.FrameResult{
			FrameIndex:   frameIndex,
			Status:       types.FrameStatusFailedMaxRetries,
			ErrorKind:    types.ErrorKindTransient,
			ErrorMessage: outcome.Message,
			RetryCount:   tc.retryCount,
			Duration:     outcome.Duration,
			WorkerID:     outcome.WorkerID,
		})

	case types.ErrorKindWorkerFatal:
		s.finalize(tc, &types.FrameResult{
			FrameIndex:   frameIndex,
			Status:       types.FrameStatusFailedFatal,
			ErrorKind:    types.ErrorKindWorkerFatal,
			ErrorMessage: outcome.Message,
			RetryCount:   tc.retryCount,
			Duration:     outcome.Duration,
			WorkerID:     outcome.WorkerID,
		})
		s.workerFailures++
		s.snapMu.Lock()
		s.stats.WorkerFailures = s.workerFailures
		s.snapMu.Unlock()
		if s.metrics != nil {
			s.metrics.ObserveWorkerFailure()
		}

		if s.workerFailures >= s.cfg.MaxWorkerFailures {
			s.log.Error("Circuit breaker tripped",
				logger.WithField("workerFailures", s.workerFailures))
			return true, fmt.Sprintf("too many worker failures (%d)", s.workerFailures)
		}

	default:
		// frame_fatal, worker_exception, and anything unrecognized: the
		// frame is abandoned, the run continues.
		kind := outcome.ErrorKind
		if kind == "" {
			kind = types.ErrorKindFrameFatal
		}
		s.finalize(tc, &types.FrameResult{
			FrameIndex:   frameIndex,
			Status:       types.FrameStatusFailedFatal,
			ErrorKind:    kind,
			ErrorMessage: outcome.Message,
			RetryCount:   tc.retryCount,
			Duration:     outcome.Duration,
			WorkerID:     outcome.WorkerID,
		})
	}

	s.refill()
	return false, ""
}

// retry resubmits the same frame with an incremented retry count. Retries
// of one frame are strictly sequential; the slot the frame occupied stays
// occupied, so the backpressure cap holds.
func (s *Supervisor) retry(tc *taskContext) {
	s.log.Info("Retrying frame",
		logger.WithField("frame", tc.spec.FrameIndex),
		logger.WithField("attempt", tc.retryCount+1))

	s.snapMu.Lock()
	s.stats.Retried++
	s.snapMu.Unlock()
	if s.metrics != nil {
		s.metrics.ObserveRetry()
	}

	s.submit(tc.spec, tc.retryCount+1)
}

// refill submits exactly one new frame after a finalization, unless
// shutdown has been requested. Pull-based flow control: one in, one out.
func (s *Supervisor) refill() {
	if s.shutdown.Load() {
		return
	}
	s.submitNext()
}

// finalize records the permanent FrameResult for a frame index and updates
// the counters. Called exactly once per frame.
func (s *Supervisor) finalize(tc *taskContext, result *types.FrameResult) {
	s.results[result.FrameIndex] = result

	s.snapMu.Lock()
	switch result.Status {
	case types.FrameStatusCompleted:
		s.stats.Completed++
		s.stats.TotalDuration += result.Duration
	default:
		s.stats.Failed++
	}
	s.snapMu.Unlock()

	s.syncInFlight()

	if s.metrics != nil {
		s.metrics.ObserveFrame(result.Status, result.Duration)
	}
}

// drainOnShutdown cancels every submission the pool has not started and
// lets the rest finish naturally, up to the graceful shutdown timeout.
// Every frame ends with exactly one terminal result.
func (s *Supervisor) drainOnShutdown() {
	s.log.Info("Graceful shutdown: cancelling pending frames",
		logger.WithField("pending", len(s.pending)))

	cancelled := 0
	for handle, tc := range s.pending {
		if s.pool.Cancel(handle) {
			delete(s.pending, handle)
			s.finalize(tc, &types.FrameResult{
				FrameIndex:   tc.spec.FrameIndex,
				Status:       types.FrameStatusFailedFatal,
				ErrorKind:    types.ErrorKindShutdown,
				ErrorMessage: "cancelled due to shutdown",
				RetryCount:   tc.retryCount,
			})
			cancelled++
		}
	}
	s.log.Info("Cancelled frames during shutdown", logger.WithField("count", cancelled))

	deadline := time.NewTimer(s.cfg.GracefulShutdownTimeout)
	defer deadline.Stop()

	for len(s.pending) > 0 {
		select {
		case to, ok := <-s.pool.Outcomes():
			if !ok {
				s.abandonPending()
				return
			}
			s.finalizeDraining(to.Handle, to.Outcome)

		case <-deadline.C:
			s.log.Warn("Graceful shutdown timeout, abandoning in-flight frames",
				logger.WithField("remaining", len(s.pending)))
			s.abandonPending()
			return
		}
	}
}

// finalizeDraining records a terminal result for an outcome arriving during
// shutdown. No retries and no refills happen here; a transient failure is
// finalized as failed_transient.
func (s *Supervisor) finalizeDraining(handle string, outcome *types.Outcome) {
	tc, ok := s.pending[handle]
	if !ok {
		return
	}
	delete(s.pending, handle)

	result := &types.FrameResult{
		FrameIndex: tc.spec.FrameIndex,
		RetryCount: tc.retryCount,
		Duration:   outcome.Duration,
		WorkerID:   outcome.WorkerID,
	}

	switch {
	case outcome.Status == types.OutcomeSuccess:
		result.Status = types.FrameStatusCompleted
		result.ArtifactPath = outcome.ArtifactPath
	case outcome.ErrorKind == types.ErrorKindTransient:
		result.Status = types.FrameStatusFailedTransient
		result.ErrorKind = types.ErrorKindTransient
		result.ErrorMessage = outcome.Message
	default:
		result.Status = types.FrameStatusFailedFatal
		result.ErrorKind = outcome.ErrorKind
		result.ErrorMessage = outcome.Message
	}

	s.finalize(tc, result)
}

// abandonPending finalizes whatever is still in flight once the shutdown
// timeout expires, so no frame is silently dropped.
func (s *Supervisor) abandonPending() {
	for handle, tc := range s.pending {
		delete(s.pending, handle)
		s.finalize(tc, &types.FrameResult{
			FrameIndex:   tc.spec.FrameIndex,
			Status:       types.FrameStatusFailedFatal,
			ErrorKind:    types.ErrorKindShutdown,
			ErrorMessage: "abandoned at shutdown timeout",
			RetryCount:   tc.retryCount,
		})
	}
}

// maybeReportProgress invokes the callback only when enough frames have
// completed since the last report
func (s *Supervisor) maybeReportProgress() {
	if s.progress == nil {
		return
	}

	s.snapMu.RLock()
	completed := s.stats.Completed
	s.snapMu.RUnlock()

	if completed-s.lastReported >= s.cfg.ProgressUpdateInterval {
		s.progress(s.Progress())
		s.lastReported = completed
	}
}

// reportProgress invokes the callback unconditionally (used once at run end)
func (s *Supervisor) reportProgress() {
	if s.progress == nil {
		return
	}
	s.progress(s.Progress())
}

func (s *Supervisor) finalReport(status types.RunStatus, errorMessage string) *types.RunReport {
	s.snapMu.Lock()
	s.stats.Finalize()
	stats := s.stats
	s.snapMu.Unlock()

	s.log.Info("Render run finished",
		logger.WithField("status", status),
		logger.WithField("completed", stats.Completed),
		logger.WithField("failed", stats.Failed),
		logger.WithField("retried", stats.Retried))

	return &types.RunReport{
		Status:       status,
		ErrorMessage: errorMessage,
		Stats:        stats,
		Results:      s.results,
	}
}
