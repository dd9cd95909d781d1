package pool

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/framesmith/framesmith/pkg/interfaces"
	"github.com/framesmith/framesmith/pkg/types"
)

// WorkerSetup initializes a worker from its config snapshot and returns
// the render function the worker will execute. Runs exactly once per
// worker process.
type WorkerSetup func(cfg *types.WorkerConfig) (interfaces.RenderFunc, error)

// RunWorker is the worker-process side of the pool protocol. It reads the
// init message, runs the setup once, then processes task messages until
// stdin closes. It is invoked by the `framesmith worker` subcommand inside
// each pool subprocess.
//
// The render function is executed behind a panic guard: an uncaught fault
// becomes a worker_exception outcome rather than killing the process.
func RunWorker(r io.Reader, w io.Writer, setup WorkerSetup) error {
	c := newCodec(r, w)

	env, err := c.read()
	if err != nil {
		return fmt.Errorf("failed to read init message: %w", err)
	}
	if env.Type != msgInit || env.Config == nil {
		return fmt.Errorf("expected init message, got %q", env.Type)
	}

	render, err := setup(env.Config)
	if err != nil {
		// Initialization failures must prevent the worker from accepting
		// any work.
		c.write(&envelope{Type: msgInitError, Message: err.Error()})
		return fmt.Errorf("worker initialization failed: %w", err)
	}

	if err := c.write(&envelope{Type: msgReady}); err != nil {
		return err
	}

	for {
		env, err := c.read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if env.Type != msgTask || env.Spec == nil {
			return fmt.Errorf("expected task message, got %q", env.Type)
		}

		outcome := safeRender(render, env.Spec, os.Getpid())
		if err := c.write(&envelope{Type: msgResult, Outcome: outcome}); err != nil {
			return err
		}
	}
}

// safeRender runs the render function with panic containment. The returned
// outcome always carries the spec's frame index and the worker id.
func safeRender(render interfaces.RenderFunc, spec *types.FrameSpec, workerID int) (outcome *types.Outcome) {
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			outcome = types.FailureOutcome(
				spec.FrameIndex,
				types.ErrorKindWorkerException,
				fmt.Sprintf("panic in render function: %v", r),
				time.Since(start),
				workerID,
			)
		}
	}()

	outcome = render(spec)
	if outcome == nil {
		return types.FailureOutcome(
			spec.FrameIndex,
			types.ErrorKindWorkerException,
			"render function returned no outcome",
			time.Since(start),
			workerID,
		)
	}

	outcome.FrameIndex = spec.FrameIndex
	if outcome.WorkerID == 0 {
		outcome.WorkerID = workerID
	}
	return outcome
}
