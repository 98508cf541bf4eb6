// Package expire tracks per-key expiration deadlines and invokes a
// callback once a key's deadline passes. Sessions use it to time out
// outstanding requests (keyed by their outbound sequence number).
//
// Three interchangeable implementations are provided, matching the
// admissible designs: Heap (binary min-heap, the default), TimingWheel
// (hierarchical cascading wheel for workloads with many short, similar
// timeouts), and MutationQueue (single-producer queue draining into a
// heap, for callers that add/remove from multiple goroutines without
// taking a lock on the hot path).
package expire

import "time"

// Handler is invoked, once, for every key whose deadline has passed.
// It runs on the Index's own timer goroutine; implementations recover
// a panicking Handler and route it to onPanic rather than letting it
// take the timer goroutine down, mirroring a session's error handler.
type Handler[K comparable, V any] func(key K, info V)

// Index is the interface all three expiration-tracking implementations
// satisfy. K is typically a session's outbound sequence number
// (uint32); V carries whatever context the caller wants back when a
// key expires (e.g. the pending request's PDU).
type Index[K comparable, V any] interface {
	// Start begins firing the handler for keys whose deadlines pass.
	// Add implicitly starts the index if it wasn't running.
	Start()
	// Stop halts the timer. Existing entries are retained.
	Stop()
	// Add registers key to expire after d, unless key is already
	// tracked (Add returns false without modifying its deadline).
	Add(key K, d time.Duration, info V) bool
	// UpdateExpiry re-arms an existing key to expire after d from now,
	// returning false if key isn't tracked.
	UpdateExpiry(key K, d time.Duration) bool
	// Refresh extends an existing key's deadline by d from its current
	// deadline (rather than from now), returning false if untracked.
	Refresh(key K, d time.Duration) bool
	// Remove untracks key before it expires, returning false if it
	// wasn't tracked (already fired or never added).
	Remove(key K) bool
	// Clear untracks every key without firing the handler for any of
	// them, and stops the timer.
	Clear()
	// ExpireAll fires the handler once for every currently tracked
	// key, in unspecified order, then clears and stops the timer. A
	// session calls this on close so every request it never got a
	// response for still surfaces as a user-visible timeout.
	ExpireAll()
	Contains(key K) bool
	// GetInfo returns the info a tracked key was registered with and
	// its current deadline, without mutating or removing the entry. ok
	// is false if key isn't tracked.
	GetInfo(key K) (info V, expiry time.Time, ok bool)
	// GetRemainingTime returns how long is left until key's deadline,
	// or a negative duration if the deadline has already passed but
	// the entry hasn't fired yet. ok is false if key isn't tracked.
	GetRemainingTime(key K) (remaining time.Duration, ok bool)
	Size() int
	Empty() bool
	IsRunning() bool
}
