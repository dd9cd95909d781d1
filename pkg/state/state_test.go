package state_test

import (
	"context"
	"io"
	"os"
	"testing"
	"time"

	"github.com/framesmith/framesmith/pkg/logger"
	"github.com/framesmith/framesmith/pkg/state"
	"github.com/framesmith/framesmith/pkg/types"
)

type fakeProgress struct {
	info types.ProgressInfo
}

func (f *fakeProgress) Progress() types.ProgressInfo { return f.info }

func testLogger() logger.Logger {
	return logger.CreateLoggerWithOutput("error", io.Discard)
}

func TestManager_BeginWritesState(t *testing.T) {
	tmpDir := t.TempDir()
	m := state.NewManager(tmpDir, testLogger())
	provider := &fakeProgress{info: types.ProgressInfo{Total: 10, Completed: 3}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := m.Begin(ctx, "frames.jsonl", provider); err != nil {
		t.Fatalf("failed to begin run state: %v", err)
	}
	defer m.Finish(types.RunStatusCompleted, provider.Progress())

	rs, err := state.Read(tmpDir)
	if err != nil {
		t.Fatalf("failed to read run state: %v", err)
	}

	if rs.SpecFile != "frames.jsonl" {
		t.Errorf("expected spec file frames.jsonl, got %s", rs.SpecFile)
	}
	if rs.ProcessID != os.Getpid() {
		t.Errorf("expected current PID, got %d", rs.ProcessID)
	}
	if !rs.Alive() {
		t.Error("freshly begun run should be alive")
	}
	if rs.Progress.Total != 10 || rs.Progress.Completed != 3 {
		t.Errorf("progress not recorded: %+v", rs.Progress)
	}
}

func TestManager_FinishRecordsStatus(t *testing.T) {
	tmpDir := t.TempDir()
	m := state.NewManager(tmpDir, testLogger())
	provider := &fakeProgress{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := m.Begin(ctx, "frames.jsonl", provider); err != nil {
		t.Fatalf("failed to begin run state: %v", err)
	}
	if err := m.Finish(types.RunStatusInterrupted, types.ProgressInfo{Completed: 5}); err != nil {
		t.Fatalf("failed to finish run state: %v", err)
	}

	rs, err := state.Read(tmpDir)
	if err != nil {
		t.Fatalf("failed to read run state: %v", err)
	}
	if rs.Status != types.RunStatusInterrupted {
		t.Errorf("expected interrupted status, got %s", rs.Status)
	}
	if rs.Alive() {
		t.Error("finished run must not report alive")
	}
	if rs.Progress.Completed != 5 {
		t.Errorf("final progress not recorded: %+v", rs.Progress)
	}
}

func TestRead_Missing(t *testing.T) {
	_, err := state.Read(t.TempDir())
	if err == nil {
		t.Fatal("expected an error when no state file exists")
	}
	if !os.IsNotExist(err) {
		t.Errorf("missing state must satisfy os.IsNotExist, got %v", err)
	}
}

func TestRemove(t *testing.T) {
	tmpDir := t.TempDir()
	m := state.NewManager(tmpDir, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := m.Begin(ctx, "frames.jsonl", &fakeProgress{}); err != nil {
		t.Fatalf("failed to begin run state: %v", err)
	}
	m.Finish(types.RunStatusCompleted, types.ProgressInfo{})

	if err := state.Remove(tmpDir); err != nil {
		t.Fatalf("failed to remove run state: %v", err)
	}
	if _, err := state.Read(tmpDir); err == nil {
		t.Error("state should be gone after Remove")
	}
}

func TestRunState_AliveStaleness(t *testing.T) {
	rs := &state.RunState{Heartbeat: time.Now().Add(-time.Hour)}
	if rs.Alive() {
		t.Error("an hour-old heartbeat must be stale")
	}

	rs = &state.RunState{Heartbeat: time.Now()}
	if !rs.Alive() {
		t.Error("a fresh heartbeat should be alive")
	}
}
