package mempool

import (
	"sync/atomic"
)

// --------------------------------------------------------------------------
// Blocking policy
// --------------------------------------------------------------------------

// Policy controls what happens when an allocation cannot be admitted
// immediately.
type Policy int

const (
	// BlockUntilAvailable parks the caller until released capacity admits
	// the request. This is the normal write-path policy.
	BlockUntilAvailable Policy = iota

	// MustSucceed grants the allocation retroactively past the limit
	// instead of blocking. Only callers that must make progress to free
	// memory (the flush path itself) may use it: blocking them would
	// deadlock the pool. The flag is deliberately explicit at every call
	// site so overshoot grants stay auditable.
	MustSucceed
)

// --------------------------------------------------------------------------
// Owner
// --------------------------------------------------------------------------

// Owner attributes tracked bytes to one logical object (a memtable, a
// buffer, ...). An owner is bound to exactly one tracker for its lifetime
// and is retired with ReleaseAll, after which any further use is a
// programming error.
//
// Thread-safety: all methods are safe for concurrent use except
// MarkAllReclaiming, which requires exclusive access to the owner (it is
// called during flush handoff, when no new allocations can arrive).
type Owner struct {
	tracker *Tracker

	owns       atomic.Int64 // bytes currently attributed to this owner
	reclaiming atomic.Int64 // subset of owns already reported as reclaiming
	released   atomic.Bool  // set once by ReleaseAll
}

// NewOwner creates an owner bound to the given tracker.
func NewOwner(tracker *Tracker) *Owner {
	return &Owner{tracker: tracker}
}

// Allocate claims size bytes from the tracker and attributes them to this
// owner. Requests of non-positive size are rejected synchronously. Otherwise
// the call succeeds, blocking under BlockUntilAvailable for as long as the
// pool is full. Note that a request larger than the limit can never be
// admitted and parks its caller indefinitely; the allocator facades reject
// such requests up front via their MaxAllocSize cap.
func (o *Owner) Allocate(size int64, policy Policy) error {
	o.assertLive("Allocate")

	if size <= 0 {
		return ErrInvalidSize
	}

	for {
		if o.tracker.TryAllocate(size) {
			o.acquired(size)
			return nil
		}

		// full: register before re-checking so a racing release is either
		// observed by the retry or delivered to the registered handle
		signal := o.tracker.hasRoom.Register()

		if o.tracker.TryAllocate(size) {
			signal.Cancel()
			o.acquired(size)
			return nil
		}

		if policy == MustSucceed {
			// reclaimer path: overshoot the limit rather than deadlock
			signal.Cancel()
			o.allocated(size)
			return nil
		}

		signal.Await()
	}
}

// Transfer atomically moves size bytes of ownership from this owner to
// another owner of the same tracker. The tracker's totals are untouched.
// It returns false, with no partial effect, if this owner holds fewer than
// size bytes.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (o *Owner) Transfer(size int64, to *Owner) bool {
	for {
		cur := o.owns.Load()
		next := cur - size
		if next < 0 {
			return false
		}
		if o.owns.CompareAndSwap(cur, next) {
			to.owns.Add(size)
			return true
		}
	}
}

// MarkAllReclaiming reports everything this owner holds as about to be
// freed. Must be called with exclusive access to the owner; safe to call
// multiple times (repeated calls report only the new delta).
func (o *Owner) MarkAllReclaiming() {
	prev := o.reclaiming.Load()
	cur := o.owns.Load()
	o.reclaiming.Store(cur)
	o.tracker.AdjustReclaiming(cur - prev)
}

// ReleaseAll returns everything this owner holds to the tracker and
// resolves its reclaiming contribution. It must be the last operation on
// the owner; calling it twice, or allocating afterwards, panics.
func (o *Owner) ReleaseAll() {
	if !o.released.CompareAndSwap(false, true) {
		panic("mempool: ReleaseAll called twice on the same owner")
	}
	o.tracker.AdjustAcquired(-o.owns.Swap(0), false)
	o.tracker.AdjustReclaiming(-o.reclaiming.Swap(0))
}

// Release returns size bytes to the tracker and removes them from this
// owner. Used by allocator facades when individual buffers are freed.
func (o *Owner) Release(size int64) {
	o.assertLive("Release")
	o.owns.Add(-size)
	o.tracker.AdjustAcquired(-size, false)
}

// Owns returns the bytes currently attributed to this owner.
func (o *Owner) Owns() int64 {
	return o.owns.Load()
}

// Reclaiming returns the bytes this owner has reported as reclaiming.
func (o *Owner) Reclaiming() int64 {
	return o.reclaiming.Load()
}

// OwnershipRatio returns owns/limit. Diagnostic only; the cleaner uses it
// to pick the owner most worth flushing.
func (o *Owner) OwnershipRatio() float64 {
	if o.tracker.limit == 0 {
		return 0
	}
	return float64(o.owns.Load()) / float64(o.tracker.limit)
}

// acquired attributes bytes that already passed the admission gate.
func (o *Owner) acquired(size int64) {
	o.owns.Add(size)
}

// allocated retroactively accounts bytes granted past the limit and
// attributes them to this owner.
func (o *Owner) allocated(size int64) {
	o.tracker.AdjustAcquired(size, true)
	o.owns.Add(size)
}

// assertLive panics if the owner has already been retired.
func (o *Owner) assertLive(op string) {
	if o.released.Load() {
		panic("mempool: " + op + " on owner after ReleaseAll")
	}
}
