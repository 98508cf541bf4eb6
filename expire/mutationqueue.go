package expire

import (
	"sync"
	"time"

	"github.com/eapache/queue"
)

type mutationKind uint8

const (
	mutationAdd mutationKind = iota
	mutationRemove
)

type mutation[K comparable, V any] struct {
	kind   mutationKind
	key    K
	info   V
	expiry time.Duration
}

// MutationQueue decouples producers from the heap that actually tracks
// deadlines: Add/Remove only need to push an
// operation onto a FIFO guarded by a small mutex, rather than take the
// heap's own lock and touch its tree. A single drain goroutine applies
// queued operations to the underlying Heap. This suits callers that
// add and remove keys from several goroutines at a high rate and don't
// want every one of them contending on heap maintenance.
//
// Grounded on lockfree_expirator.hpp's single-producer ring buffer of
// operations drained by the timer goroutine into the real index;
// eapache/queue's growable ring buffer stands in for that array here.
type MutationQueue[K comparable, V any] struct {
	qmu     sync.Mutex
	ops     *queue.Queue
	notify  chan struct{}
	done    chan struct{}
	heap    *Heap[K, V]
	started bool
}

// NewMutationQueue constructs a MutationQueue index.
func NewMutationQueue[K comparable, V any](handler Handler[K, V], onPanic func(recovered any)) *MutationQueue[K, V] {
	return &MutationQueue[K, V]{
		ops:    queue.New(),
		notify: make(chan struct{}, 1),
		heap:   NewHeap[K, V](handler, onPanic),
	}
}

func (m *MutationQueue[K, V]) Start() {
	m.qmu.Lock()
	if m.started {
		m.qmu.Unlock()
		return
	}
	m.started = true
	m.done = make(chan struct{})
	m.qmu.Unlock()

	m.heap.Start()
	go m.drainLoop(m.done)
}

func (m *MutationQueue[K, V]) Stop() {
	m.qmu.Lock()
	if !m.started {
		m.qmu.Unlock()
		return
	}
	m.started = false
	done := m.done
	m.qmu.Unlock()

	close(done)
	m.heap.Stop()
}

func (m *MutationQueue[K, V]) drainLoop(done chan struct{}) {
	for {
		select {
		case <-done:
			m.drainPending()
			return
		case <-m.notify:
			m.drainPending()
		}
	}
}

func (m *MutationQueue[K, V]) drainPending() {
	for {
		m.qmu.Lock()
		if m.ops.Length() == 0 {
			m.qmu.Unlock()
			return
		}
		op := m.ops.Remove().(mutation[K, V])
		m.qmu.Unlock()

		switch op.kind {
		case mutationAdd:
			m.heap.Add(op.key, op.expiry, op.info)
		case mutationRemove:
			m.heap.Remove(op.key)
		}
	}
}

func (m *MutationQueue[K, V]) enqueue(op mutation[K, V]) {
	m.qmu.Lock()
	m.ops.Add(op)
	m.qmu.Unlock()

	select {
	case m.notify <- struct{}{}:
	default:
	}
}

// Add enqueues an add operation. Because the operation is applied
// asynchronously by the drain goroutine, Add cannot report whether key
// was already tracked the way Heap.Add can; it always returns true,
// and a duplicate key's operation is simply dropped by the underlying
// Heap once drained.
func (m *MutationQueue[K, V]) Add(key K, d time.Duration, info V) bool {
	m.qmu.Lock()
	started := m.started
	m.qmu.Unlock()
	if !started {
		m.Start()
	}
	m.enqueue(mutation[K, V]{kind: mutationAdd, key: key, info: info, expiry: d})
	return true
}

// Remove enqueues a remove operation and, like Add, always returns
// true: it does not report whether key was tracked.
func (m *MutationQueue[K, V]) Remove(key K) bool {
	m.enqueue(mutation[K, V]{kind: mutationRemove, key: key})
	return true
}

// UpdateExpiry and Refresh bypass the mutation queue and mutate the
// underlying heap directly: both require the key to already be
// present, so there's no ordering hazard with a concurrently-draining
// Add for the same key to protect against the way the two-phase
// Add/Remove pair would have.
func (m *MutationQueue[K, V]) UpdateExpiry(key K, d time.Duration) bool {
	return m.heap.UpdateExpiry(key, d)
}

func (m *MutationQueue[K, V]) Refresh(key K, d time.Duration) bool {
	return m.heap.Refresh(key, d)
}

func (m *MutationQueue[K, V]) Clear() {
	m.qmu.Lock()
	m.ops = queue.New()
	m.qmu.Unlock()
	m.heap.Clear()
}

// ExpireAll drains any operations still in flight before delegating to
// the underlying Heap, so a key that was Add-ed moments before close
// still fires rather than being silently dropped with the queue.
func (m *MutationQueue[K, V]) ExpireAll() {
	m.drainPending()
	m.heap.ExpireAll()
}

// GetInfo and GetRemainingTime read straight through to the underlying
// Heap without draining pending operations first: they're best-effort
// queries and a key Add-ed moments ago may not be visible yet, the
// same staleness window Contains already has.
func (m *MutationQueue[K, V]) GetInfo(key K) (V, time.Time, bool) {
	return m.heap.GetInfo(key)
}

func (m *MutationQueue[K, V]) GetRemainingTime(key K) (time.Duration, bool) {
	return m.heap.GetRemainingTime(key)
}

func (m *MutationQueue[K, V]) Contains(key K) bool { return m.heap.Contains(key) }
func (m *MutationQueue[K, V]) Size() int           { return m.heap.Size() }
func (m *MutationQueue[K, V]) Empty() bool         { return m.heap.Empty() }
func (m *MutationQueue[K, V]) IsRunning() bool     { return m.heap.IsRunning() }
