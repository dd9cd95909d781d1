package pool

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/framesmith/framesmith/pkg/logger"
	"github.com/framesmith/framesmith/pkg/types"
)

// ProcessPool runs each worker as a separate OS process so that a frame
// that crashes or corrupts its worker takes down only that worker. Workers
// are the `framesmith worker` subcommand speaking the line protocol over
// stdin/stdout.
//
// A non-zero task budget recycles a worker process after that many frames,
// which bounds the damage of slow memory leaks in render code.
type ProcessPool struct {
	size       int
	queueCap   int
	taskBudget int
	workerCfg  *types.WorkerConfig
	command    string
	args       []string
	log        logger.Logger

	tasks    chan submission
	outcomes chan types.TaskOutcome

	mu        sync.Mutex
	queued    map[string]bool
	cancelled map[string]bool
	stopped   bool

	grp    *errgroup.Group
	cancel context.CancelFunc
}

// ProcessPoolOptions configures a ProcessPool
type ProcessPoolOptions struct {
	Size       int
	QueueCap   int
	TaskBudget int
	WorkerCfg  *types.WorkerConfig
	// Command and Args launch one worker process. When Command is empty the
	// pool re-invokes the current binary with the `worker` subcommand.
	Command string
	Args    []string
	Logger  logger.Logger
}

// NewProcessPool creates a pool of isolated worker processes
func NewProcessPool(opts ProcessPoolOptions) (*ProcessPool, error) {
	if opts.Size < 1 {
		return nil, fmt.Errorf("pool size must be at least 1, got %d", opts.Size)
	}
	if opts.QueueCap < opts.Size {
		opts.QueueCap = opts.Size
	}

	command := opts.Command
	args := opts.Args
	if command == "" {
		self, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve own executable: %w", err)
		}
		command = self
		args = []string{"worker"}
	}

	return &ProcessPool{
		size:       opts.Size,
		queueCap:   opts.QueueCap,
		taskBudget: opts.TaskBudget,
		workerCfg:  opts.WorkerCfg,
		command:    command,
		args:       args,
		log:        opts.Logger,
		tasks:      make(chan submission, opts.QueueCap),
		outcomes:   make(chan types.TaskOutcome, opts.QueueCap),
		queued:     make(map[string]bool),
		cancelled:  make(map[string]bool),
	}, nil
}

// Start launches the worker processes. A worker that fails to initialize is
// a worker_fatal-class condition and aborts pool startup.
func (p *ProcessPool) Start(ctx context.Context) error {
	poolCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.grp, poolCtx = errgroup.WithContext(poolCtx)

	// Bring the first generation up synchronously so initialization
	// failures surface before any frame is submitted.
	procs := make([]*workerProc, p.size)
	for i := 0; i < p.size; i++ {
		proc, err := p.spawn(poolCtx, i+1)
		if err != nil {
			cancel()
			for _, running := range procs[:i] {
				running.kill()
			}
			return fmt.Errorf("worker %d failed to start: %w", i+1, err)
		}
		procs[i] = proc
	}

	for i := 0; i < p.size; i++ {
		proc := procs[i]
		workerID := i + 1
		p.grp.Go(func() error {
			p.runWorker(poolCtx, workerID, proc)
			return nil
		})
	}

	p.log.Debug("Process pool started",
		logger.WithField("workers", p.size),
		logger.WithField("taskBudget", p.taskBudget))
	return nil
}

// Submit queues one frame under the given handle
func (p *ProcessPool) Submit(handle string, spec *types.FrameSpec) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return fmt.Errorf("pool is stopped")
	}
	p.queued[handle] = true
	p.mu.Unlock()

	select {
	case p.tasks <- submission{handle: handle, spec: spec}:
		return nil
	default:
		p.mu.Lock()
		delete(p.queued, handle)
		p.mu.Unlock()
		return fmt.Errorf("pool queue is full")
	}
}

// Outcomes delivers completed task outcomes
func (p *ProcessPool) Outcomes() <-chan types.TaskOutcome {
	return p.outcomes
}

// Cancel withdraws a submission still waiting in the queue
func (p *ProcessPool) Cancel(handle string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.queued[handle] {
		delete(p.queued, handle)
		p.cancelled[handle] = true
		return true
	}
	return false
}

// Stop shuts down all worker processes
func (p *ProcessPool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	p.mu.Unlock()

	close(p.tasks)

	done := make(chan struct{})
	go func() {
		p.grp.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		p.cancel()
		<-done
	}

	close(p.outcomes)
	return nil
}

// workerProc is one live worker subprocess
type workerProc struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser
	codec *codec
}

func (w *workerProc) kill() {
	if w.cmd != nil && w.cmd.Process != nil {
		w.cmd.Process.Kill()
		w.cmd.Wait()
	}
}

func (w *workerProc) shutdown() {
	// Closing stdin lets the worker drain and exit on its own.
	w.stdin.Close()
	if w.cmd != nil {
		w.cmd.Wait()
	}
}

// spawn starts one worker process and completes its init handshake
func (p *ProcessPool) spawn(ctx context.Context, workerID int) (*workerProc, error) {
	cmd := exec.CommandContext(ctx, p.command, p.args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open worker stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open worker stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open worker stderr: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to launch worker process: %w", err)
	}

	// Forward worker diagnostics to the pool log.
	workerLog := p.log.WithWorker(workerID)
	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			workerLog.Debug(scanner.Text())
		}
	}()

	proc := &workerProc{
		cmd:   cmd,
		stdin: stdin,
		codec: newCodec(stdout, stdin),
	}

	if err := proc.codec.write(&envelope{Type: msgInit, Config: p.workerCfg}); err != nil {
		proc.kill()
		return nil, err
	}

	env, err := proc.codec.read()
	if err != nil {
		proc.kill()
		return nil, fmt.Errorf("worker did not complete init handshake: %w", err)
	}
	switch env.Type {
	case msgReady:
	case msgInitError:
		proc.kill()
		return nil, fmt.Errorf("worker initialization failed: %s", env.Message)
	default:
		proc.kill()
		return nil, fmt.Errorf("unexpected handshake message %q", env.Type)
	}

	workerLog.Debug("Worker process ready", logger.WithField("pid", cmd.Process.Pid))
	return proc, nil
}

// runWorker feeds tasks to one worker slot, recycling the subprocess on
// crash or when the task budget is spent
func (p *ProcessPool) runWorker(ctx context.Context, workerID int, proc *workerProc) {
	defer func() {
		if proc != nil {
			proc.shutdown()
		}
	}()

	tasksServed := 0

	for {
		select {
		case <-ctx.Done():
			return
		case sub, ok := <-p.tasks:
			if !ok {
				return
			}

			p.mu.Lock()
			if p.cancelled[sub.handle] {
				delete(p.cancelled, sub.handle)
				p.mu.Unlock()
				continue
			}
			delete(p.queued, sub.handle)
			p.mu.Unlock()

			if proc == nil {
				respawned, err := p.spawn(ctx, workerID)
				if err != nil {
					// The replacement worker itself is suspect.
					p.emit(ctx, sub.handle, types.FailureOutcome(
						sub.spec.FrameIndex,
						types.ErrorKindWorkerFatal,
						fmt.Sprintf("worker respawn failed: %v", err),
						0,
						workerID,
					))
					continue
				}
				proc = respawned
				tasksServed = 0
			}

			outcome, alive := p.dispatch(proc, workerID, sub)
			p.emit(ctx, sub.handle, outcome)

			if !alive {
				proc.kill()
				proc = nil
				continue
			}

			tasksServed++
			if p.taskBudget > 0 && tasksServed >= p.taskBudget {
				p.log.WithWorker(workerID).Debug("Task budget spent, recycling worker",
					logger.WithField("tasks", tasksServed))
				proc.shutdown()
				proc = nil
			}
		}
	}
}

// dispatch sends one task to the worker and waits for its result. The
// second return value reports whether the worker is still usable.
func (p *ProcessPool) dispatch(proc *workerProc, workerID int, sub submission) (*types.Outcome, bool) {
	start := time.Now()

	if err := proc.codec.write(&envelope{Type: msgTask, Spec: sub.spec}); err != nil {
		return types.FailureOutcome(
			sub.spec.FrameIndex,
			types.ErrorKindWorkerException,
			fmt.Sprintf("failed to hand frame to worker: %v", err),
			time.Since(start),
			workerID,
		), false
	}

	env, err := proc.codec.read()
	if err != nil {
		// The worker died mid-frame. That is an uncaught fault crossing
		// the process boundary, never silently dropped.
		return types.FailureOutcome(
			sub.spec.FrameIndex,
			types.ErrorKindWorkerException,
			fmt.Sprintf("worker process exited unexpectedly: %v", err),
			time.Since(start),
			workerID,
		), false
	}
	if env.Type != msgResult || env.Outcome == nil {
		return types.FailureOutcome(
			sub.spec.FrameIndex,
			types.ErrorKindWorkerException,
			fmt.Sprintf("worker sent unexpected message %q", env.Type),
			time.Since(start),
			workerID,
		), false
	}

	return env.Outcome, true
}

func (p *ProcessPool) emit(ctx context.Context, handle string, outcome *types.Outcome) {
	select {
	case p.outcomes <- types.TaskOutcome{Handle: handle, Outcome: outcome}:
	case <-ctx.Done():
	}
}
