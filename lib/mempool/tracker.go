package mempool

import (
	"errors"
	"sync/atomic"

	"github.com/ValentinKolb/cedar/lib/concurrent"
)

var (
	// ErrInvalidSize is returned for allocation requests of zero or negative size.
	ErrInvalidSize = errors.New("mempool: allocation size must be positive")

	// ErrExceedsLimit is returned for requests larger than the tracker's limit;
	// such a request could never be admitted and must not park the caller.
	ErrExceedsLimit = errors.New("mempool: allocation size exceeds pool limit")
)

// Tracker counts bytes claimed against a fixed limit. It is the admission
// gate of a pool: TryAllocate admits bytes only while used+size stays within
// the limit, release paths wake parked writers, and crossing the cleaning
// threshold pokes the pool's cleaner.
//
// Thread-safety: all methods are safe for concurrent use. Counters are
// mutated exclusively through atomic compare-and-swap, never under a mutex.
type Tracker struct {
	limit          int64 // immutable hard ceiling in bytes
	cleanThreshold int64 // immutable high-water mark in bytes

	used       atomic.Int64 // bytes currently claimed
	reclaiming atomic.Int64 // bytes promised to be freed soon

	// hasRoom is signalled whenever capacity is released, so blocked
	// allocators can register on it before re-checking TryAllocate
	hasRoom *concurrent.WaitQueue

	// onNeedsCleaning is invoked (if set) whenever usage may have crossed
	// the cleaning threshold; the pool wires it to its cleaner's Trigger
	onNeedsCleaning func()
}

// NewTracker creates a tracker with the given byte limit and cleaning
// threshold (bytes). A zero threshold disables cleaner triggering.
func NewTracker(limit, cleanThreshold int64) *Tracker {
	return &Tracker{
		limit:          limit,
		cleanThreshold: cleanThreshold,
		hasRoom:        concurrent.NewWaitQueue(),
	}
}

// TryAllocate atomically claims size bytes if and only if used+size does not
// exceed the limit. It never blocks.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (t *Tracker) TryAllocate(size int64) bool {
	for {
		cur := t.used.Load()
		next := cur + size
		if next > t.limit {
			return false
		}
		if t.used.CompareAndSwap(cur, next) {
			t.maybeClean()
			return true
		}
	}
}

// AdjustAcquired applies a signed delta to used outside the admission gate.
// Retroactive deltas are overshoot grants (the MustSucceed path): usage only
// grew, so parked allocators are left alone and only the cleaner is poked.
// Non-retroactive deltas are releases; they wake parked allocators so the
// freed capacity can be re-claimed.
func (t *Tracker) AdjustAcquired(delta int64, retroactive bool) {
	t.used.Add(delta)
	if retroactive {
		t.maybeClean()
		return
	}
	if delta < 0 {
		t.hasRoom.SignalAll()
	}
	t.maybeClean()
}

// AdjustReclaiming tracks bytes promised to be freed soon. Reclaiming bytes
// are subtracted from the usage the cleaner considers, so concurrent
// reclamation triggers are not duplicated.
func (t *Tracker) AdjustReclaiming(delta int64) {
	t.reclaiming.Add(delta)
}

// NeedsCleaning reports whether usage not already being reclaimed exceeds
// the high-water mark.
func (t *Tracker) NeedsCleaning() bool {
	if t.cleanThreshold <= 0 {
		return false
	}
	return t.used.Load()-t.reclaiming.Load() > t.cleanThreshold
}

// HasRoom exposes the queue blocked allocators register on before
// re-checking TryAllocate.
func (t *Tracker) HasRoom() *concurrent.WaitQueue {
	return t.hasRoom
}

// Used returns the bytes currently claimed against the limit.
func (t *Tracker) Used() int64 {
	return t.used.Load()
}

// Reclaiming returns the bytes currently promised to be freed.
func (t *Tracker) Reclaiming() int64 {
	return t.reclaiming.Load()
}

// Limit returns the immutable byte ceiling of this tracker.
func (t *Tracker) Limit() int64 {
	return t.limit
}

// UsedRatio returns used/limit. Diagnostic only.
func (t *Tracker) UsedRatio() float64 {
	if t.limit == 0 {
		return 0
	}
	return float64(t.used.Load()) / float64(t.limit)
}

// maybeClean pokes the cleaner if usage crossed the high-water mark. The
// cleaner re-checks the condition itself, so a spurious poke is harmless.
func (t *Tracker) maybeClean() {
	if t.onNeedsCleaning != nil && t.NeedsCleaning() {
		t.onNeedsCleaning()
	}
}
