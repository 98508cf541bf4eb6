package session

import (
	"sync/atomic"
	"time"
)

// Metrics accumulates per-session counters, mirroring session_metrics.
// All fields are accessed through atomics so the framing loop, the
// send pipeline, and a concurrent metrics reader never race.
type Metrics struct {
	bytesSent         atomic.Uint64
	bytesReceived     atomic.Uint64
	messagesSent      atomic.Uint64
	messagesReceived  atomic.Uint64
	errors            atomic.Uint64
	bufferCompactions atomic.Uint64
	closed            atomic.Bool
	createdAt         time.Time
}

func newMetrics() *Metrics {
	return &Metrics{createdAt: time.Now()}
}

func (m *Metrics) BytesSent() uint64         { return m.bytesSent.Load() }
func (m *Metrics) BytesReceived() uint64     { return m.bytesReceived.Load() }
func (m *Metrics) MessagesSent() uint64      { return m.messagesSent.Load() }
func (m *Metrics) MessagesReceived() uint64  { return m.messagesReceived.Load() }
func (m *Metrics) Errors() uint64            { return m.errors.Load() }
func (m *Metrics) BufferCompactions() uint64 { return m.bufferCompactions.Load() }
func (m *Metrics) IsClosed() bool            { return m.closed.Load() }

// Uptime returns how long ago this Metrics (and its Session) was
// created, mirroring session_metrics::uptime().
func (m *Metrics) Uptime() time.Duration {
	return time.Since(m.createdAt)
}

// Snapshot is a point-in-time copy of a Metrics, suitable for
// aggregation across many sessions (see the registry package).
type Snapshot struct {
	BytesSent, BytesReceived       uint64
	MessagesSent, MessagesReceived uint64
	Errors, BufferCompactions      uint64
	Uptime                         time.Duration
	Closed                         bool
}

// Snapshot captures the current values of every counter.
func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		BytesSent:         m.BytesSent(),
		BytesReceived:     m.BytesReceived(),
		MessagesSent:      m.MessagesSent(),
		MessagesReceived:  m.MessagesReceived(),
		Errors:            m.Errors(),
		BufferCompactions: m.BufferCompactions(),
		Uptime:            m.Uptime(),
		Closed:            m.IsClosed(),
	}
}
