// Package state provides persistent run state for Framesmith
package state

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/framesmith/framesmith/pkg/logger"
	"github.com/framesmith/framesmith/pkg/types"
)

// heartbeatInterval is how often a live run refreshes its state file
const heartbeatInterval = 5 * time.Second

// staleAfter is how old a heartbeat may be before the run is presumed dead
const staleAfter = 3 * heartbeatInterval

// RunState is the persistent record of a render run, written under the
// project's .framesmith directory so `framesmith status` can report on a
// run owned by another process.
type RunState struct {
	SpecFile  string             `json:"specFile,omitempty"`
	Status    types.RunStatus    `json:"status,omitempty"`
	ProcessID int                `json:"processId"`
	StartedAt time.Time          `json:"startedAt"`
	Heartbeat time.Time          `json:"heartbeat"`
	Progress  types.ProgressInfo `json:"progress"`
}

// Alive reports whether the owning process appears to still be running
func (s *RunState) Alive() bool {
	return s.Status == "" && time.Since(s.Heartbeat) < staleAfter
}

// ProgressProvider yields progress snapshots for the heartbeat
type ProgressProvider interface {
	Progress() types.ProgressInfo
}

// Manager owns the run state file for one process
type Manager struct {
	statePath string
	logger    logger.Logger

	mu      sync.Mutex
	current *RunState
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewManager creates a state manager rooted at the project directory
func NewManager(projectRoot string, log logger.Logger) *Manager {
	stateDir := filepath.Join(projectRoot, ".framesmith")
	return &Manager{
		statePath: filepath.Join(stateDir, "run.json"),
		logger:    log,
	}
}

// Begin records the start of a run and launches the heartbeat
func (m *Manager) Begin(ctx context.Context, specFile string, provider ProgressProvider) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.current = &RunState{
		SpecFile:  specFile,
		ProcessID: os.Getpid(),
		StartedAt: time.Now(),
		Heartbeat: time.Now(),
	}
	if provider != nil {
		m.current.Progress = provider.Progress()
	}
	if err := m.write(); err != nil {
		return err
	}

	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})

	go func() {
		defer close(m.done)
		ticker := time.NewTicker(heartbeatInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.beat(provider)
			}
		}
	}()

	return nil
}

// Finish stamps the final status and stops the heartbeat
func (m *Manager) Finish(status types.RunStatus, progress types.ProgressInfo) error {
	m.mu.Lock()
	if m.cancel != nil {
		m.cancel()
		m.mu.Unlock()
		<-m.done
		m.mu.Lock()
		m.cancel = nil
	}

	defer m.mu.Unlock()
	if m.current == nil {
		return nil
	}
	m.current.Status = status
	m.current.Heartbeat = time.Now()
	m.current.Progress = progress
	return m.write()
}

// Read loads the run state for a project. When no state file exists the
// raw error is returned so callers can branch on os.IsNotExist.
func Read(projectRoot string) (*RunState, error) {
	path := filepath.Join(projectRoot, ".framesmith", "run.json")
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read run state: %w", err)
	}

	var state RunState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to parse run state: %w", err)
	}
	return &state, nil
}

// Remove deletes the run state file for a project
func Remove(projectRoot string) error {
	path := filepath.Join(projectRoot, ".framesmith", "run.json")
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove run state: %w", err)
	}
	return nil
}

func (m *Manager) beat(provider ProgressProvider) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return
	}
	m.current.Heartbeat = time.Now()
	if provider != nil {
		m.current.Progress = provider.Progress()
	}
	if err := m.write(); err != nil {
		m.logger.Debug("Failed to write heartbeat", logger.WithField("error", err))
	}
}

// write persists the state file atomically. Caller holds the lock.
func (m *Manager) write() error {
	data, err := json.MarshalIndent(m.current, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal run state: %w", err)
	}

	dir := filepath.Dir(m.statePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	tmp := m.statePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write run state: %w", err)
	}
	if err := os.Rename(tmp, m.statePath); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to move run state into place: %w", err)
	}
	return nil
}
