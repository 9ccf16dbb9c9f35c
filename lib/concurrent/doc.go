// Package concurrent provides the low-level notification primitive used by
// the write path: a race-free, multi-waiter wait queue.
//
// The queue exists to close the classic check-then-park race. A goroutine
// that wants to block until some condition becomes true must:
//
//  1. Call Register() to obtain a Signal handle
//  2. Re-check the condition
//  3. If the condition is now satisfied, call Cancel() on the handle
//  4. Otherwise call Await() to park until signalled
//
// Because registration happens before the re-check, any state change that
// races with the check is guaranteed to either be observed by the re-check
// or to trigger a wakeup that the already-registered handle will receive.
// This register -> recheck -> park-or-cancel sequence is the only correct
// usage of the queue; skipping the re-check reintroduces the race.
//
// Guarantees:
//
//   - No lost wakeups: a Signal()/SignalAll() issued after Register() is
//     delivered even if the waiter has not yet parked in Await().
//   - Cancel() never blocks, and a wakeup that raced with Cancel() is
//     passed on to another registered waiter instead of being dropped.
//   - No fairness: Signal() wakes some registered waiter, not necessarily
//     the longest-waiting one.
//
// Handles are single-use: each transitions registered -> signalled or
// registered -> cancelled exactly once and is then dead.
package concurrent
