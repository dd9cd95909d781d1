package pool

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/framesmith/framesmith/pkg/interfaces"
	"github.com/framesmith/framesmith/pkg/logger"
	"github.com/framesmith/framesmith/pkg/types"
)

// submission is one queued frame with its pending handle
type submission struct {
	handle string
	spec   *types.FrameSpec
}

// LocalPool executes render functions on in-process goroutines. It trades
// the blast-radius containment of ProcessPool for the ability to run an
// arbitrary injected Go function, which makes it the pool of choice for
// tests and for embedding the supervisor in a larger program.
type LocalPool struct {
	size      int
	queueCap  int
	workerCfg *types.WorkerConfig
	init      interfaces.WorkerInitFunc
	render    interfaces.RenderFunc
	log       logger.Logger

	tasks    chan submission
	outcomes chan types.TaskOutcome

	mu        sync.Mutex
	queued    map[string]bool
	cancelled map[string]bool

	grp     *errgroup.Group
	cancel  context.CancelFunc
	started bool
	stopped bool
}

// NewLocalPool creates a goroutine-backed pool of the given size. queueCap
// bounds the internal task queue; callers size it to their backpressure cap.
func NewLocalPool(size, queueCap int, workerCfg *types.WorkerConfig, init interfaces.WorkerInitFunc, render interfaces.RenderFunc, log logger.Logger) *LocalPool {
	if queueCap < size {
		queueCap = size
	}
	return &LocalPool{
		size:      size,
		queueCap:  queueCap,
		workerCfg: workerCfg,
		init:      init,
		render:    render,
		log:       log,
		tasks:     make(chan submission, queueCap),
		outcomes:  make(chan types.TaskOutcome, queueCap),
		queued:    make(map[string]bool),
		cancelled: make(map[string]bool),
	}
}

// Start initializes each worker once and spawns the worker goroutines.
// An initializer error aborts startup; that worker never accepts work.
func (p *LocalPool) Start(ctx context.Context) error {
	if p.started {
		return fmt.Errorf("pool already started")
	}
	p.started = true

	poolCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.grp, poolCtx = errgroup.WithContext(poolCtx)

	for i := 0; i < p.size; i++ {
		if p.init != nil {
			if err := p.init(p.workerCfg); err != nil {
				cancel()
				return fmt.Errorf("worker %d initialization failed: %w", i, err)
			}
		}

		workerID := i + 1
		p.grp.Go(func() error {
			p.runWorker(poolCtx, workerID)
			return nil
		})
	}

	p.log.Debug("Local pool started", logger.WithField("workers", p.size))
	return nil
}

// Submit queues one frame under the given handle
func (p *LocalPool) Submit(handle string, spec *types.FrameSpec) error {
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
func (p *LocalPool) Outcomes() <-chan types.TaskOutcome {
	return p.outcomes
}

// Cancel withdraws a submission that has not started executing yet.
// Cancelled submissions never produce an outcome.
func (p *LocalPool) Cancel(handle string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.queued[handle] {
		delete(p.queued, handle)
		p.cancelled[handle] = true
		return true
	}
	return false
}

// Stop drains the workers and closes the outcome channel
func (p *LocalPool) Stop(ctx context.Context) error {
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

func (p *LocalPool) runWorker(ctx context.Context, workerID int) {
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

			outcome := safeRender(p.render, sub.spec, workerID)
			outcome.WorkerID = workerID

			select {
			case p.outcomes <- types.TaskOutcome{Handle: sub.handle, Outcome: outcome}:
			case <-ctx.Done():
				return
			}
		}
	}
}
