package metrics

import (
	"context"
	"fmt"
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/framesmith/framesmith/pkg/types"
)

// ProgressProvider yields point-in-time progress snapshots without blocking
// the supervisor loop
type ProgressProvider interface {
	Progress() types.ProgressInfo
}

// SnapshotPoller periodically exports progress snapshots into Prometheus
// gauges. It reads through the provider's snapshot path, so it never
// contends with the orchestration loop.
type SnapshotPoller struct {
	interval time.Duration
	provider ProgressProvider

	completed   prom.Gauge
	failed      prom.Gauge
	pending     prom.Gauge
	successRate prom.Gauge
	throughput  prom.Gauge

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewSnapshotPoller creates a progress poller and registers its collectors
func NewSnapshotPoller(reg prom.Registerer, provider ProgressProvider, interval time.Duration) (*SnapshotPoller, error) {
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	if interval <= 0 {
		interval = time.Second
	}

	completed := prom.NewGauge(prom.GaugeOpts{
		Namespace: "framesmith",
		Name:      "progress_completed",
		Help:      "Completed frame count snapshot.",
	})
	failed := prom.NewGauge(prom.GaugeOpts{
		Namespace: "framesmith",
		Name:      "progress_failed",
		Help:      "Failed frame count snapshot.",
	})
	pending := prom.NewGauge(prom.GaugeOpts{
		Namespace: "framesmith",
		Name:      "progress_pending",
		Help:      "Frames not yet submitted.",
	})
	successRate := prom.NewGauge(prom.GaugeOpts{
		Namespace: "framesmith",
		Name:      "progress_success_rate",
		Help:      "Fraction of processed frames that completed.",
	})
	throughput := prom.NewGauge(prom.GaugeOpts{
		Namespace: "framesmith",
		Name:      "progress_throughput_fps",
		Help:      "Current rendering throughput in frames per second.",
	})

	for _, c := range []prom.Collector{completed, failed, pending, successRate, throughput} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register collector: %w", err)
		}
	}

	return &SnapshotPoller{
		interval:    interval,
		provider:    provider,
		completed:   completed,
		failed:      failed,
		pending:     pending,
		successRate: successRate,
		throughput:  throughput,
	}, nil
}

// Start begins polling until Stop is called or the context ends
func (p *SnapshotPoller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	p.running = true

	ctx, p.cancel = context.WithCancel(ctx)
	p.done = make(chan struct{})

	go func() {
		defer close(p.done)
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.observe()
			}
		}
	}()
}

// Stop halts polling and takes one final observation
func (p *SnapshotPoller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return
	}
	p.running = false
	p.cancel()
	<-p.done
	p.observe()
}

func (p *SnapshotPoller) observe() {
	info := p.provider.Progress()
	p.completed.Set(float64(info.Completed))
	p.failed.Set(float64(info.Failed))
	p.pending.Set(float64(info.Pending))
	p.successRate.Set(info.SuccessRate)
	p.throughput.Set(info.CurrentThroughput)
}
