package metrics

import (
	"context"
	"time"

	"github.com/majiddarvishan/vex/registry"
)

// Poller periodically samples a registry.Manager's aggregate counters
// into a Sink through ReportRegistry. It owns no session-level detail;
// nothing in this module calls ReportSession, which is left to callers.
type Poller struct {
	manager  *registry.Manager
	sink     Sink
	interval time.Duration
}

// NewPoller constructs a Poller. interval must be positive.
func NewPoller(manager *registry.Manager, sink Sink, interval time.Duration) *Poller {
	return &Poller{manager: manager, sink: sink, interval: interval}
}

// Run samples on a fixed tick until ctx is canceled.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.sample()
		}
	}
}

func (p *Poller) sample() {
	agg := p.manager.GetMetrics()
	p.sink.ReportRegistry(RegistrySample{
		TotalBytesSent:        agg.TotalBytesSent,
		TotalBytesReceived:    agg.TotalBytesReceived,
		TotalMessagesSent:     agg.TotalMessagesSent,
		TotalMessagesReceived: agg.TotalMessagesReceived,
		TotalErrors:           agg.TotalErrors,
		ActiveSessions:        agg.ActiveSessions,
		OpenSessions:          agg.OpenSessions,
		ClosedSessions:        agg.ClosedSessions,
	})
}
