// Package metrics defines the sink interface session and registry
// counters are pushed through. It stays deliberately thin: no
// registry of named metrics, no HTTP exposition, no histogram types.
// A process that wants Prometheus or StatsD wires its own adapter
// against Sink; this package only owns the shape of what gets reported.
package metrics

import "time"

// SessionSample is a point-in-time report of one session's counters,
// built from session.Metrics.Snapshot(). It's a plain struct rather
// than an import of the session package, so a sink adapter can be
// written without importing session. (The package itself imports
// registry, for Poller.)
type SessionSample struct {
	SessionID         string
	BytesSent         uint64
	BytesReceived     uint64
	MessagesSent      uint64
	MessagesReceived  uint64
	Errors            uint64
	BufferCompactions uint64
	Uptime            time.Duration
	Closed            bool
}

// RegistrySample is a point-in-time report of a registry.Manager's
// aggregate counters, built from registry.AggregateMetrics.
type RegistrySample struct {
	TotalBytesSent        uint64
	TotalBytesReceived    uint64
	TotalMessagesSent     uint64
	TotalMessagesReceived uint64
	TotalErrors           uint64
	ActiveSessions        int
	OpenSessions          int
	ClosedSessions        int
}

// Sink receives metrics samples as a caller chooses to push them. A
// caller decides when and how often to sample; Poller is the one
// provided here, calling ReportRegistry on a ticker for a
// registry.Manager.
type Sink interface {
	ReportSession(sample SessionSample)
	ReportRegistry(sample RegistrySample)
}

// Discard is a Sink that drops every sample, useful as a default when
// no metrics backend is configured.
type Discard struct{}

func (Discard) ReportSession(SessionSample)   {}
func (Discard) ReportRegistry(RegistrySample) {}

// Multi fans a sample out to every sink it wraps, in order. A panic in
// one sink is not recovered; callers composing untrusted sinks should
// guard them individually.
type Multi []Sink

func (m Multi) ReportSession(sample SessionSample) {
	for _, s := range m {
		s.ReportSession(sample)
	}
}

func (m Multi) ReportRegistry(sample RegistrySample) {
	for _, s := range m {
		s.ReportRegistry(sample)
	}
}
