// Package mempool implements the bounded memory budget that gates the write
// path: a shared byte-budget tracker with blocking backpressure, per-object
// ownership accounting, and asynchronous reclamation.
//
// The package focuses on:
//   - Hard memory ceilings: the tracked byte count never exceeds the
//     configured limit except through the explicit, auditable MustSucceed
//     escape valve used by reclamation itself
//   - Lock-free accounting: all byte counters are mutated via atomic
//     compare-and-swap loops, never under a mutex
//   - Blocking backpressure: writers that cannot be admitted park on a
//     concurrent.WaitQueue and are woken when capacity is released
//   - Asynchronous reclamation: a dedicated cleaner goroutine per pool runs
//     a supplied reclamation action whenever usage crosses the high-water
//     mark
//
// Key Components:
//
//   - Tracker: a byte counter bound by a fixed limit. TryAllocate is the
//     admission gate; release paths signal the tracker's hasRoom queue so
//     parked writers can retry. A tracker also knows its cleaning threshold
//     and pokes the pool's cleaner when usage crosses it.
//
//   - Owner: a per-object handle (one per memtable, buffer, ...) that
//     attributes tracked bytes to a logical owner. Ownership can move
//     between owners without touching the tracker (Transfer), be marked as
//     about-to-be-freed (MarkAllReclaiming) so concurrent reclamation
//     triggers are not duplicated, and be resolved in one shot (ReleaseAll).
//
//   - Pool: a named accounting domain with an on-heap and an off-heap
//     tracker sharing one cleaner. The cleaner invokes the reclamation
//     action supplied by the storage layer; the action must cause
//     used-reclaiming to drop (typically by flushing the largest owner) or
//     the cleaner will run again immediately.
//
//   - HeapAllocator / OffHeapAllocator: thin facades that turn a size
//     request into owner operations and hand out usable buffers. The heap
//     flavor returns tracker credit as soon as a buffer is freed (the GC
//     reclaims the bytes); the off-heap flavor returns credit only when the
//     buffer is explicitly released, mirroring manually managed memory.
//
// Deadlock note: an allocation made on behalf of the entity that frees
// memory (the flush path) must never block waiting for memory. Such callers
// pass MustSucceed, which grants the allocation retroactively past the
// limit. The overshoot is transient and bounded by the reclamation in
// flight.
package mempool
