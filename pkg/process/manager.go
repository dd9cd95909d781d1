// Package process provides process lifecycle and signal handling
package process

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/framesmith/framesmith/pkg/logger"
)

// Manager translates OS termination signals into registered shutdown
// handlers. Handlers must be non-blocking flag flips (the supervisor's
// RequestShutdown); the actual drain happens cooperatively in the run loop.
type Manager struct {
	logger           logger.Logger
	shutdownHandlers []func()
	wg               sync.WaitGroup
	mu               sync.Mutex
	running          bool
	stop             chan struct{}
}

// NewManager creates a new process manager
func NewManager(log logger.Logger) *Manager {
	return &Manager{
		logger: log,
		stop:   make(chan struct{}),
	}
}

// RegisterShutdownHandler adds a shutdown handler. Handlers run in
// registration order, once, on the first signal or context cancellation.
func (m *Manager) RegisterShutdownHandler(handler func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shutdownHandlers = append(m.shutdownHandlers, handler)
}

// Start begins watching for SIGINT and SIGTERM. The context bounds the
// manager's lifetime.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.mu.Unlock()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer signal.Stop(sigChan)

		select {
		case sig := <-sigChan:
			m.logger.Info("Received signal", logger.WithField("signal", sig))
			m.handleShutdown()
		case <-ctx.Done():
			m.handleShutdown()
		case <-m.stop:
		}
	}()
}

// Stop detaches the signal watcher without invoking the handlers
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	m.mu.Unlock()

	close(m.stop)
	m.wg.Wait()
}

// IsRunning reports whether the manager is watching for signals
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *Manager) handleShutdown() {
	m.mu.Lock()
	handlers := make([]func(), len(m.shutdownHandlers))
	copy(handlers, m.shutdownHandlers)
	m.running = false
	m.mu.Unlock()

	for _, handler := range handlers {
		handler()
	}
}
