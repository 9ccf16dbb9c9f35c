// Package engine ties the write-path primitives together: every write is
// admitted against the memory pool, applied to an in-memory ordered
// container (the memtable), appended to the commit log and acknowledged
// only when the configured durability policy is satisfied.
//
// Write flow:
//
//  1. The write allocates its memory footprint on a request-scoped owner.
//     This may park the caller (backpressure) but happens outside all
//     locks, so a parked writer can never stall a flush.
//  2. The entry is inserted into the table's memtable and the allocated
//     bytes are transferred to the memtable's owner (pure accounting move,
//     the tracker totals are untouched).
//  3. The encoded record is appended to the commit log.
//  4. The caller blocks in SyncScheduler.WaitIfNeeded until the write is
//     acknowledgeable under the durability policy.
//
// Reclamation: the pool's cleaner flushes the memtable whose owner holds
// the largest share of the budget. A flush swaps in a fresh container and
// owner under a short lock, marks the old owner reclaiming, drains the
// snapshot to the flush sink and finally releases the owner. The flush
// path itself allocates with MustSucceed so it can always make progress.
//
// Recovery: flush completion markers are written to the commit log, so
// replay applies only the records that had not reached the sink before the
// crash.
//
// The ordered container is a consumed collaborator: the engine relies only
// on ordered insert/lookup/range iteration, a constant-time snapshot with
// structural sharing, and the allocation-size callback. The default adapter
// is backed by google/btree, whose Clone provides the snapshot semantics.
package engine
