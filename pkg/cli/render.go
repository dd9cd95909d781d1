package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/framesmith/framesmith/internal/pool"
	"github.com/framesmith/framesmith/internal/supervisor"
	"github.com/framesmith/framesmith/pkg/config"
	"github.com/framesmith/framesmith/pkg/frames"
	"github.com/framesmith/framesmith/pkg/interfaces"
	"github.com/framesmith/framesmith/pkg/logger"
	"github.com/framesmith/framesmith/pkg/manifest"
	"github.com/framesmith/framesmith/pkg/metrics"
	"github.com/framesmith/framesmith/pkg/notifier"
	"github.com/framesmith/framesmith/pkg/process"
	"github.com/framesmith/framesmith/pkg/state"
	"github.com/framesmith/framesmith/pkg/types"
)

func newRenderCmd() *cobra.Command {
	var (
		watch       bool
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:   "render [spec-file]",
		Short: "Render all frames from a spec file",
		Long: `Render every frame described in a JSON-lines spec file using the
configured worker pool. Interrupting the run with Ctrl-C triggers a graceful
shutdown: queued frames are cancelled, executing frames finish, and the
completion manifest records what happened to every frame.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadProjectConfig()
			if err != nil {
				return err
			}

			specFile := cfg.SpecFile
			if len(args) > 0 {
				specFile = args[0]
			}
			if specFile == "" {
				return fmt.Errorf("no spec file given and none configured")
			}
			if metricsAddr == "" {
				metricsAddr = cfg.MetricsAddr
			}

			if watch {
				return watchAndRender(cfg, specFile, metricsAddr)
			}

			report, err := renderOnce(cfg, specFile, metricsAddr)
			if err != nil {
				return err
			}
			return exitForReport(report)
		},
	}

	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "re-render whenever the spec file changes")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "expose Prometheus metrics on this address (e.g. :9090)")

	return cmd
}

// renderOnce executes one full render run for a spec file
func renderOnce(cfg *config.ProjectConfig, specFile, metricsAddr string) (*types.RunReport, error) {
	log := logger.CreateLogger(cfg.Logging.File, effectiveLogLevel(cfg))

	source, err := frames.OpenSpecFile(specFile)
	if err != nil {
		return nil, err
	}
	defer source.Close()

	rendering := cfg.Rendering
	workerPool, err := pool.NewProcessPool(pool.ProcessPoolOptions{
		Size:       rendering.MaxWorkers,
		QueueCap:   rendering.MaxInFlight(),
		TaskBudget: rendering.WorkerTaskBudget,
		WorkerCfg:  cfg.Worker,
		Logger:     log,
	})
	if err != nil {
		return nil, err
	}

	opts := supervisor.Options{
		Progress: consoleProgress(log),
	}

	registry := prometheus.NewRegistry()
	if metricsAddr != "" {
		exporter, err := metrics.NewExporter(registry, metrics.ExporterOptions{})
		if err != nil {
			return nil, err
		}
		opts.Metrics = exporter
	}

	sup := supervisor.New(rendering, source, workerPool, log, opts)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// OS signals flip the supervisor's shutdown flag; the loop drains
	// cooperatively.
	procMgr := process.NewManager(log)
	procMgr.RegisterShutdownHandler(sup.RequestShutdown)
	procMgr.Start(ctx)
	defer procMgr.Stop()

	var poller *metrics.SnapshotPoller
	if metricsAddr != "" {
		poller, err = metrics.NewSnapshotPoller(registry, sup, time.Second)
		if err != nil {
			return nil, err
		}
		poller.Start(ctx)
		defer poller.Stop()

		go serveMetrics(metricsAddr, registry, log)
	}

	runState := state.NewManager(projectRoot, log)
	if err := runState.Begin(ctx, specFile, sup); err != nil {
		log.Warn("Failed to write run state", logger.WithField("error", err))
	}

	notify := notifier.New(notifier.Config{
		Enabled:      cfg.Notifications.Enabled,
		SuccessSound: cfg.Notifications.SuccessSound != "",
		FailureSound: cfg.Notifications.FailureSound != "",
	}, log)
	notify.NotifyRunStart(source.Total())

	report := sup.Run(ctx)

	runState.Finish(report.Status, sup.Progress())

	notifyRunOutcome(notify, report, rendering.MaxWorkerFailures)

	if rendering.SaveCompletionManifest && rendering.ManifestPath != "" {
		if err := manifest.Write(rendering.ManifestPath, report); err != nil {
			log.Error("Failed to write completion manifest", logger.WithField("error", err))
		} else {
			log.Info("Completion manifest written", logger.WithField("path", rendering.ManifestPath))
		}
	}

	printRunSummary(report)
	return report, nil
}

// notifyRunOutcome routes the final report to the right notification. A
// breaker abort is told apart from other run errors by the recorded worker
// failure count.
func notifyRunOutcome(n interfaces.RunNotifier, report *types.RunReport, maxWorkerFailures int) {
	switch report.Status {
	case types.RunStatusError:
		if report.Stats.WorkerFailures >= maxWorkerFailures {
			n.NotifyBreakerTripped(report.Stats.WorkerFailures)
		} else {
			n.NotifyRunFailed(report.ErrorMessage)
		}
	default:
		n.NotifyRunComplete(report.Stats)
	}
}

// consoleProgress returns a progress callback that logs a one-line summary
func consoleProgress(log logger.Logger) interfaces.ProgressFunc {
	return func(info types.ProgressInfo) {
		fields := []logger.Field{
			logger.WithField("completed", info.Completed),
			logger.WithField("failed", info.Failed),
			logger.WithField("inFlight", info.InProgress),
			logger.WithField("pending", info.Pending),
		}
		if info.CurrentThroughput > 0 {
			fields = append(fields,
				logger.WithField("fps", fmt.Sprintf("%.2f", info.CurrentThroughput)),
				logger.WithField("eta", info.EstTimeRemaining.Round(time.Second)))
		}
		log.Info(fmt.Sprintf("Progress %d/%d", info.Completed+info.Failed, info.Total), fields...)
	}
}

func serveMetrics(addr string, registry *prometheus.Registry, log logger.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	log.Info("Serving metrics", logger.WithField("addr", addr))
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Warn("Metrics server stopped", logger.WithField("error", err))
	}
}

func printRunSummary(report *types.RunReport) {
	stats := report.Stats
	elapsed := stats.EndTime.Sub(stats.StartTime).Round(time.Millisecond)

	switch report.Status {
	case types.RunStatusCompleted:
		if stats.Failed == 0 {
			printSuccess(fmt.Sprintf("Rendered %d frames in %s", stats.Completed, elapsed))
		} else {
			printError(fmt.Sprintf("Finished with failures: %d completed, %d failed in %s",
				stats.Completed, stats.Failed, elapsed))
		}
	case types.RunStatusInterrupted:
		printInfo(fmt.Sprintf("Interrupted: %d completed, %d failed, %d retried",
			stats.Completed, stats.Failed, stats.Retried))
	case types.RunStatusError:
		printError(fmt.Sprintf("Aborted: %s (%d completed, %d failed)",
			report.ErrorMessage, stats.Completed, stats.Failed))
	}

	if stats.AvgFrameTime > 0 {
		printInfo(fmt.Sprintf("Average frame time: %s", stats.AvgFrameTime.Round(time.Millisecond)))
	}
}

func exitForReport(report *types.RunReport) error {
	switch report.Status {
	case types.RunStatusError:
		return fmt.Errorf("render run failed: %s", report.ErrorMessage)
	case types.RunStatusInterrupted:
		// Interrupted runs already wrote a coherent report; a non-zero
		// exit tells callers the sequence is incomplete.
		os.Exit(130)
	}
	if report.Stats.Failed > 0 {
		return fmt.Errorf("%d frames failed", report.Stats.Failed)
	}
	return nil
}

func effectiveLogLevel(cfg *config.ProjectConfig) string {
	if verbosity != "" && verbosity != "info" {
		return verbosity
	}
	if cfg.Logging.Level != "" {
		return cfg.Logging.Level
	}
	return "info"
}
