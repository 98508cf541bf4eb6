// Package registry tracks the set of live sessions a client or server
// has handed off to the application, keyed by an opaque id assigned at
// registration time. It exists so a long-running process has one place
// to ask "how many sessions are open", shut all of them down, or
// aggregate their metrics, without every caller re-implementing a
// session map of its own.
package registry

import (
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/majiddarvishan/vex/session"
)

// ID identifies a session within a Manager. It's assigned at Add time
// and has no meaning outside the Manager that issued it.
type ID uint64

// Manager is a concurrency-safe registry of sessions. The zero value is
// not usable; construct with New.
type Manager struct {
	mu       sync.Mutex
	sessions map[ID]*session.Session
	nextID   atomic.Uint64
}

// New constructs an empty Manager.
func New() *Manager {
	return &Manager{sessions: make(map[ID]*session.Session)}
}

// Add registers s and installs a close handler that removes it from
// the registry automatically. If onClose is non-nil, it runs first,
// composing with whatever handling the caller already wants; this
// mirrors session_manager::add_session's existing-handler wrapping,
// made explicit since Session exposes no getter for whatever close
// handler might already be installed.
func (m *Manager) Add(s *session.Session, onClose session.CloseHandler) ID {
	id := ID(m.nextID.Add(1))

	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()

	s.SetCloseHandler(func(sess *session.Session, reason *string) {
		if onClose != nil {
			onClose(sess, reason)
		}
		m.Remove(id)
	})

	return id
}

// Remove drops id from the registry without touching the session
// itself.
func (m *Manager) Remove(id ID) {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
}

// Get retrieves the session registered under id.
func (m *Manager) Get(id ID) (*session.Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// ForEach applies fn to a snapshot of the currently registered
// sessions. fn runs outside the registry's lock, so it may safely call
// back into Remove, Get, or any Session method.
func (m *Manager) ForEach(fn func(id ID, s *session.Session)) {
	for id, s := range m.snapshot() {
		fn(id, s)
	}
}

// AllIDs returns every currently registered id.
func (m *Manager) AllIDs() []ID {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]ID, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	return ids
}

// ActiveCount returns how many sessions are currently registered.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *Manager) snapshot() map[ID]*session.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[ID]*session.Session, len(m.sessions))
	for id, s := range m.sessions {
		out[id] = s
	}
	return out
}

// CloseAll begins a graceful unbind on every registered session
// concurrently, mirroring session_manager::close_all. It returns once
// every Unbind call has been issued; it does not wait for the unbind
// handshakes themselves to finish (those surface through each
// session's own close handler, same as close_all's fire-and-forget
// loop).
func (m *Manager) CloseAll() {
	var g errgroup.Group
	for _, s := range m.snapshot() {
		s := s
		g.Go(func() error {
			s.Unbind()
			return nil
		})
	}
	_ = g.Wait()
}

// CloseAllNow forcibly closes every registered session concurrently
// with reason, mirroring session_manager::close_all_immediate.
func (m *Manager) CloseAllNow(reason string) {
	var g errgroup.Group
	for _, s := range m.snapshot() {
		s := s
		g.Go(func() error {
			s.Close(reason)
			return nil
		})
	}
	_ = g.Wait()
}

// AggregateMetrics summarizes every registered session's counters,
// mirroring session_manager::aggregate_metrics.
type AggregateMetrics struct {
	TotalBytesSent        uint64
	TotalBytesReceived    uint64
	TotalMessagesSent     uint64
	TotalMessagesReceived uint64
	TotalErrors           uint64
	ActiveSessions        int
	OpenSessions          int
	ClosedSessions        int
}

// GetMetrics aggregates every registered session's Metrics snapshot.
func (m *Manager) GetMetrics() AggregateMetrics {
	snap := m.snapshot()
	agg := AggregateMetrics{ActiveSessions: len(snap)}
	for _, s := range snap {
		ms := s.Metrics().Snapshot()
		agg.TotalBytesSent += ms.BytesSent
		agg.TotalBytesReceived += ms.BytesReceived
		agg.TotalMessagesSent += ms.MessagesSent
		agg.TotalMessagesReceived += ms.MessagesReceived
		agg.TotalErrors += ms.Errors
		if ms.Closed {
			agg.ClosedSessions++
		} else {
			agg.OpenSessions++
		}
	}
	return agg
}

// CleanupClosed removes every registered session whose metrics report
// it closed, returning the number removed. This catches sessions a
// caller closed directly without ever going through CloseAll/CloseAllNow,
// whose close handler may not have run yet at the time of the call.
func (m *Manager) CleanupClosed() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, s := range m.sessions {
		if s.Metrics().IsClosed() {
			delete(m.sessions, id)
			removed++
		}
	}
	return removed
}
