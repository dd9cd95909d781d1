// Package notifier provides render run notification functionality
package notifier

import (
	"fmt"
	"time"

	"github.com/gen2brain/beeep"

	"github.com/framesmith/framesmith/pkg/interfaces"
	"github.com/framesmith/framesmith/pkg/logger"
	"github.com/framesmith/framesmith/pkg/types"
)

// RunNotifier surfaces run-level events as desktop notifications
type RunNotifier struct {
	enabled      bool
	successSound bool
	failureSound bool
	logger       logger.Logger
}

// Config represents notification configuration
type Config struct {
	Enabled      bool
	SuccessSound bool
	FailureSound bool
}

// New creates a new run notifier
func New(config Config, log logger.Logger) *RunNotifier {
	return &RunNotifier{
		enabled:      config.Enabled,
		successSound: config.SuccessSound,
		failureSound: config.FailureSound,
		logger:       log,
	}
}

var _ interfaces.RunNotifier = (*RunNotifier)(nil)

// NotifyRunStart announces the beginning of a render run
func (n *RunNotifier) NotifyRunStart(total int) {
	if !n.enabled {
		return
	}
	n.send("🎬 Framesmith", fmt.Sprintf("Rendering %d frames...", total), false)
}

// NotifyRunComplete announces a finished run
func (n *RunNotifier) NotifyRunComplete(stats types.RunStats) {
	if !n.enabled {
		return
	}

	elapsed := stats.EndTime.Sub(stats.StartTime)
	if stats.Failed == 0 {
		n.send("✅ Render Complete",
			fmt.Sprintf("%d frames in %s", stats.Completed, formatDuration(elapsed)),
			n.successSound)
		return
	}
	n.send("⚠️ Render Finished With Failures",
		fmt.Sprintf("%d completed, %d failed in %s", stats.Completed, stats.Failed, formatDuration(elapsed)),
		n.failureSound)
}

// NotifyRunFailed announces an aborted run
func (n *RunNotifier) NotifyRunFailed(reason string) {
	if !n.enabled {
		return
	}
	n.send("❌ Render Failed", reason, n.failureSound)
}

// NotifyBreakerTripped announces a circuit-breaker abort
func (n *RunNotifier) NotifyBreakerTripped(failures int) {
	if !n.enabled {
		return
	}
	n.send("🛑 Worker Pool Unhealthy",
		fmt.Sprintf("Aborted after %d worker failures", failures),
		n.failureSound)
}

func (n *RunNotifier) send(title, message string, sound bool) {
	if err := beeep.Notify(title, message, ""); err != nil {
		n.logger.Debug("Failed to send notification", logger.WithField("error", err))
	}
	if sound {
		if err := beeep.Beep(beeep.DefaultFreq, beeep.DefaultDuration); err != nil {
			n.logger.Debug("Failed to play sound", logger.WithField("error", err))
		}
	}
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
}
