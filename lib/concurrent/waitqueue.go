package concurrent

import (
	"sync"
	"sync/atomic"
	"time"
)

// --------------------------------------------------------------------------
// Signal states
// --------------------------------------------------------------------------

const (
	stateRegistered int32 = iota // handle is in the queue, waiting
	stateSignalled               // handle has been woken
	stateCancelled               // handle was withdrawn by its owner
)

// --------------------------------------------------------------------------
// WaitQueue
// --------------------------------------------------------------------------

// WaitQueue is a multi-waiter notification queue. The zero value is ready
// for use.
//
// Thread-safety: all methods are safe for concurrent use; Register, Signal,
// SignalAll and Cancel never block each other for more than the duration of
// a short critical section.
type WaitQueue struct {
	mu      sync.Mutex
	waiters []*Signal
}

// NewWaitQueue creates a new, empty wait queue.
func NewWaitQueue() *WaitQueue {
	return &WaitQueue{}
}

// Register adds a new handle to the queue and returns it. The caller must
// re-check its condition after registering and then either Cancel or Await
// the handle.
//
// Thread-safety: This method is thread-safe and never blocks.
func (q *WaitQueue) Register() *Signal {
	s := &Signal{
		q:  q,
		ch: make(chan struct{}, 1),
	}
	q.mu.Lock()
	q.waiters = append(q.waiters, s)
	q.mu.Unlock()
	return s
}

// Signal wakes exactly one registered waiter, if any. Handles registered
// after this call returns are unaffected by it.
//
// Thread-safety: This method is thread-safe and never blocks.
func (q *WaitQueue) Signal() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.signalOneLocked()
}

// SignalAll wakes every waiter currently registered on the queue.
//
// Thread-safety: This method is thread-safe and never blocks.
func (q *WaitQueue) SignalAll() {
	q.mu.Lock()
	waiters := q.waiters
	q.waiters = nil
	q.mu.Unlock()

	for _, s := range waiters {
		if s.state.CompareAndSwap(stateRegistered, stateSignalled) {
			s.ch <- struct{}{}
		}
	}
}

// Waiting returns the number of handles currently registered. Diagnostic
// only; the value may be stale by the time it is read.
func (q *WaitQueue) Waiting() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.waiters)
}

// signalOneLocked pops waiters until one accepts the wakeup. Handles that
// were cancelled concurrently are skipped and dropped.
func (q *WaitQueue) signalOneLocked() {
	for len(q.waiters) > 0 {
		s := q.waiters[0]
		q.waiters = q.waiters[1:]
		if s.state.CompareAndSwap(stateRegistered, stateSignalled) {
			s.ch <- struct{}{}
			return
		}
	}
}

// remove withdraws a cancelled handle from the queue.
func (q *WaitQueue) remove(s *Signal) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, w := range q.waiters {
		if w == s {
			q.waiters = append(q.waiters[:i], q.waiters[i+1:]...)
			return
		}
	}
}

// --------------------------------------------------------------------------
// Signal
// --------------------------------------------------------------------------

// Signal is a single-use waiter handle obtained from WaitQueue.Register.
// Only the goroutine that registered the handle may call Await, AwaitTimeout
// or Cancel on it.
type Signal struct {
	q     *WaitQueue
	state atomic.Int32
	ch    chan struct{} // buffered (cap 1) so a wakeup issued before Await is not lost
}

// Await parks the calling goroutine until the handle is signalled. If the
// handle was signalled before Await is called, it returns immediately.
func (s *Signal) Await() {
	<-s.ch
}

// AwaitTimeout parks like Await but gives up after d. It returns true if the
// handle was signalled and false if the wait timed out (in which case the
// handle has been cancelled).
func (s *Signal) AwaitTimeout(d time.Duration) bool {
	select {
	case <-s.ch:
		return true
	case <-time.After(d):
		if s.state.CompareAndSwap(stateRegistered, stateCancelled) {
			s.q.remove(s)
			return false
		}
		// a signal won the race against the timeout; consume it
		<-s.ch
		return true
	}
}

// Cancel withdraws the handle from the queue without blocking. If a wakeup
// raced with the cancellation, it is passed on to another waiter so that no
// signal is lost.
func (s *Signal) Cancel() {
	if s.state.CompareAndSwap(stateRegistered, stateCancelled) {
		s.q.remove(s)
		return
	}
	if s.state.Load() == stateSignalled {
		// the sender has already passed the CAS, so the token is either in
		// the channel or about to be; consume it and re-issue the wakeup
		<-s.ch
		s.q.Signal()
	}
}

// Signalled reports whether the handle has been woken. Diagnostic only.
func (s *Signal) Signalled() bool {
	return s.state.Load() == stateSignalled
}
