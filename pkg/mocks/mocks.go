// Package mocks provides mock implementations of interfaces for testing.
// These follow Go best practices for test doubles.
package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/framesmith/framesmith/pkg/interfaces"
	"github.com/framesmith/framesmith/pkg/types"
)

// MockWorkerPool is a scripted worker pool for supervisor tests. Tests
// decide per submission whether the outcome is delivered, held in flight,
// or left for explicit release.
type MockWorkerPool struct {
	mu          sync.Mutex
	outcomes    chan types.TaskOutcome
	submissions []Submission
	held        map[string]*types.FrameSpec
	executing   map[string]*types.FrameSpec
	cancelCalls int
	startErr    error
	stopped     bool

	// Script returns the outcome for a submission, or nil to hold the
	// submission in flight until Release is called.
	Script func(handle string, spec *types.FrameSpec) *types.Outcome
}

// Submission records one Submit call
type Submission struct {
	Handle string
	Spec   *types.FrameSpec
}

// NewMockWorkerPool creates a scripted pool with the given outcome buffer
func NewMockWorkerPool(buffer int) *MockWorkerPool {
	return &MockWorkerPool{
		outcomes:  make(chan types.TaskOutcome, buffer),
		held:      make(map[string]*types.FrameSpec),
		executing: make(map[string]*types.FrameSpec),
	}
}

// SetStartError makes Start fail
func (m *MockWorkerPool) SetStartError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.startErr = err
}

// Start implements interfaces.WorkerPool
func (m *MockWorkerPool) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.startErr
}

// Submit records the submission and either delivers the scripted outcome
// or holds the task in flight
func (m *MockWorkerPool) Submit(handle string, spec *types.FrameSpec) error {
	m.mu.Lock()
	m.submissions = append(m.submissions, Submission{Handle: handle, Spec: spec})
	script := m.Script
	m.mu.Unlock()

	var outcome *types.Outcome
	if script != nil {
		outcome = script(handle, spec)
	}

	if outcome == nil {
		m.mu.Lock()
		m.held[handle] = spec
		m.mu.Unlock()
		return nil
	}

	m.outcomes <- types.TaskOutcome{Handle: handle, Outcome: outcome}
	return nil
}

// Outcomes implements interfaces.WorkerPool
func (m *MockWorkerPool) Outcomes() <-chan types.TaskOutcome {
	return m.outcomes
}

// Cancel withdraws a held submission. Executing submissions cannot be
// withdrawn, matching a real pool where a worker already picked them up.
func (m *MockWorkerPool) Cancel(handle string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelCalls++
	if _, ok := m.held[handle]; ok {
		delete(m.held, handle)
		return true
	}
	return false
}

// CancelCalls returns how many times Cancel was invoked
func (m *MockWorkerPool) CancelCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancelCalls
}

// MarkExecuting moves a held submission into the executing state, where
// Cancel no longer withdraws it
func (m *MockWorkerPool) MarkExecuting(handle string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	spec, ok := m.held[handle]
	if !ok {
		return false
	}
	delete(m.held, handle)
	m.executing[handle] = spec
	return true
}

// Release delivers an outcome for a held or executing submission,
// simulating a task that finishes after shutdown began
func (m *MockWorkerPool) Release(handle string, outcome *types.Outcome) bool {
	m.mu.Lock()
	_, ok := m.held[handle]
	if ok {
		delete(m.held, handle)
	} else if _, ok = m.executing[handle]; ok {
		delete(m.executing, handle)
	}
	m.mu.Unlock()

	if !ok {
		return false
	}
	m.outcomes <- types.TaskOutcome{Handle: handle, Outcome: outcome}
	return true
}

// Held returns the handles currently held in flight
func (m *MockWorkerPool) Held() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	handles := make([]string, 0, len(m.held))
	for h := range m.held {
		handles = append(handles, h)
	}
	return handles
}

// Submissions returns all recorded submissions
func (m *MockWorkerPool) Submissions() []Submission {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Submission, len(m.submissions))
	copy(out, m.submissions)
	return out
}

// Stop implements interfaces.WorkerPool
func (m *MockWorkerPool) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.stopped {
		m.stopped = true
		close(m.outcomes)
	}
	return nil
}

var _ interfaces.WorkerPool = (*MockWorkerPool)(nil)

// MockRunMetrics counts metric observations for assertions
type MockRunMetrics struct {
	mu             sync.Mutex
	Frames         map[types.FrameStatus]int
	Retries        int
	WorkerFailures int
	MaxInFlight    int
}

// NewMockRunMetrics creates a counting metrics sink
func NewMockRunMetrics() *MockRunMetrics {
	return &MockRunMetrics{Frames: make(map[types.FrameStatus]int)}
}

// ObserveFrame implements interfaces.RunMetrics
func (m *MockRunMetrics) ObserveFrame(status types.FrameStatus, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Frames[status]++
}

// ObserveRetry implements interfaces.RunMetrics
func (m *MockRunMetrics) ObserveRetry() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Retries++
}

// ObserveWorkerFailure implements interfaces.RunMetrics
func (m *MockRunMetrics) ObserveWorkerFailure() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.WorkerFailures++
}

// SetInFlight implements interfaces.RunMetrics
func (m *MockRunMetrics) SetInFlight(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n > m.MaxInFlight {
		m.MaxInFlight = n
	}
}

var _ interfaces.RunMetrics = (*MockRunMetrics)(nil)

// MockRunNotifier records run-level notifications
type MockRunNotifier struct {
	mu             sync.Mutex
	Started        []int
	Completed      []types.RunStats
	Failed         []string
	BreakerTripped []int
}

// NewMockRunNotifier creates a recording notifier
func NewMockRunNotifier() *MockRunNotifier {
	return &MockRunNotifier{}
}

// NotifyRunStart implements interfaces.RunNotifier
func (m *MockRunNotifier) NotifyRunStart(total int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Started = append(m.Started, total)
}

// NotifyRunComplete implements interfaces.RunNotifier
func (m *MockRunNotifier) NotifyRunComplete(stats types.RunStats) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Completed = append(m.Completed, stats)
}

// NotifyRunFailed implements interfaces.RunNotifier
func (m *MockRunNotifier) NotifyRunFailed(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Failed = append(m.Failed, reason)
}

// NotifyBreakerTripped implements interfaces.RunNotifier
func (m *MockRunNotifier) NotifyBreakerTripped(failures int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.BreakerTripped = append(m.BreakerTripped, failures)
}

var _ interfaces.RunNotifier = (*MockRunNotifier)(nil)
