package pool

import (
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/framesmith/framesmith/pkg/logger"
	"github.com/framesmith/framesmith/pkg/types"
)

func testLogger() logger.Logger {
	return logger.CreateLoggerWithOutput("error", io.Discard)
}

func collectOutcomes(t *testing.T, p *LocalPool, n int) map[string]*types.Outcome {
	t.Helper()
	got := make(map[string]*types.Outcome, n)
	timeout := time.After(5 * time.Second)
	for len(got) < n {
		select {
		case to := <-p.Outcomes():
			got[to.Handle] = to.Outcome
		case <-timeout:
			t.Fatalf("timed out waiting for outcomes, got %d of %d", len(got), n)
		}
	}
	return got
}

func TestLocalPool_RendersSubmissions(t *testing.T) {
	render := func(spec *types.FrameSpec) *types.Outcome {
		return types.SuccessOutcome(spec.FrameIndex, fmt.Sprintf("frame_%d.png", spec.FrameIndex), time.Millisecond, 0)
	}
	p := NewLocalPool(2, 8, &types.WorkerConfig{}, nil, render, testLogger())

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("failed to start pool: %v", err)
	}

	for i := 0; i < 5; i++ {
		if err := p.Submit(fmt.Sprintf("h%d", i), &types.FrameSpec{FrameIndex: i}); err != nil {
			t.Fatalf("submit %d failed: %v", i, err)
		}
	}

	got := collectOutcomes(t, p, 5)
	for handle, outcome := range got {
		if outcome.Status != types.OutcomeSuccess {
			t.Errorf("%s: expected success, got %s (%s)", handle, outcome.Status, outcome.Message)
		}
		if outcome.WorkerID < 1 || outcome.WorkerID > 2 {
			t.Errorf("%s: worker id out of range: %d", handle, outcome.WorkerID)
		}
	}

	if err := p.Stop(context.Background()); err != nil {
		t.Errorf("stop failed: %v", err)
	}
}

func TestLocalPool_PanicContained(t *testing.T) {
	render := func(spec *types.FrameSpec) *types.Outcome {
		if spec.FrameIndex == 1 {
			panic("nil dereference in compositor")
		}
		return types.SuccessOutcome(spec.FrameIndex, "out.png", 0, 0)
	}
	p := NewLocalPool(1, 4, &types.WorkerConfig{}, nil, render, testLogger())

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("failed to start pool: %v", err)
	}
	defer p.Stop(context.Background())

	for i := 0; i < 3; i++ {
		if err := p.Submit(fmt.Sprintf("h%d", i), &types.FrameSpec{FrameIndex: i}); err != nil {
			t.Fatalf("submit %d failed: %v", i, err)
		}
	}

	got := collectOutcomes(t, p, 3)
	if got["h1"].ErrorKind != types.ErrorKindWorkerException {
		t.Errorf("expected worker_exception for the panicking frame, got %s", got["h1"].ErrorKind)
	}
	if got["h0"].Status != types.OutcomeSuccess || got["h2"].Status != types.OutcomeSuccess {
		t.Error("frames around a panic should still succeed")
	}
}

func TestLocalPool_InitFailureAbortsStart(t *testing.T) {
	initErr := fmt.Errorf("missing output directory")
	init := func(cfg *types.WorkerConfig) error { return initErr }
	render := func(spec *types.FrameSpec) *types.Outcome { return nil }

	p := NewLocalPool(2, 4, &types.WorkerConfig{}, init, render, testLogger())
	if err := p.Start(context.Background()); err == nil {
		t.Fatal("expected Start to fail when a worker cannot initialize")
	}
}

func TestLocalPool_QueueFullRejectsSubmit(t *testing.T) {
	gate := make(chan struct{})
	started := make(chan struct{}, 8)
	render := func(spec *types.FrameSpec) *types.Outcome {
		started <- struct{}{}
		<-gate
		return types.SuccessOutcome(spec.FrameIndex, "out.png", 0, 0)
	}

	p := NewLocalPool(1, 1, &types.WorkerConfig{}, nil, render, testLogger())
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("failed to start pool: %v", err)
	}
	defer func() {
		close(gate)
		go func() {
			for range p.Outcomes() {
			}
		}()
		p.Stop(context.Background())
	}()

	if err := p.Submit("h0", &types.FrameSpec{FrameIndex: 0}); err != nil {
		t.Fatalf("first submit failed: %v", err)
	}
	<-started // worker is busy with h0; the queue slot is free again

	if err := p.Submit("h1", &types.FrameSpec{FrameIndex: 1}); err != nil {
		t.Fatalf("second submit failed: %v", err)
	}
	if err := p.Submit("h2", &types.FrameSpec{FrameIndex: 2}); err == nil {
		t.Error("expected the third submit to be rejected with a full queue")
	}
}

func TestLocalPool_CancelQueuedSubmission(t *testing.T) {
	gate := make(chan struct{})
	started := make(chan struct{}, 8)
	render := func(spec *types.FrameSpec) *types.Outcome {
		started <- struct{}{}
		<-gate
		return types.SuccessOutcome(spec.FrameIndex, "out.png", 0, 0)
	}

	p := NewLocalPool(1, 4, &types.WorkerConfig{}, nil, render, testLogger())
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("failed to start pool: %v", err)
	}

	if err := p.Submit("executing", &types.FrameSpec{FrameIndex: 0}); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	<-started

	if err := p.Submit("queued", &types.FrameSpec{FrameIndex: 1}); err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	if !p.Cancel("queued") {
		t.Error("a queued submission should be cancellable")
	}
	if p.Cancel("executing") {
		t.Error("an executing submission must not be cancellable")
	}

	close(gate)

	// Only the executing frame produces an outcome; the cancelled one is
	// withdrawn silently.
	select {
	case to := <-p.Outcomes():
		if to.Handle != "executing" {
			t.Errorf("expected outcome for the executing frame, got %s", to.Handle)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for outcome")
	}

	if err := p.Stop(context.Background()); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if _, ok := <-p.Outcomes(); ok {
		t.Error("no further outcomes expected after stop")
	}
}

func TestLocalPool_StopClosesOutcomes(t *testing.T) {
	render := func(spec *types.FrameSpec) *types.Outcome {
		return types.SuccessOutcome(spec.FrameIndex, "out.png", 0, 0)
	}
	p := NewLocalPool(2, 4, &types.WorkerConfig{}, nil, render, testLogger())

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("failed to start pool: %v", err)
	}
	if err := p.Stop(context.Background()); err != nil {
		t.Fatalf("stop failed: %v", err)
	}

	if _, ok := <-p.Outcomes(); ok {
		t.Error("outcomes channel should be closed after Stop")
	}

	if err := p.Submit("late", &types.FrameSpec{FrameIndex: 0}); err == nil {
		t.Error("submit after stop should fail")
	}
}
