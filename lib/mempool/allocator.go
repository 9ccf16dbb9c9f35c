package mempool

import "sync/atomic"

// --------------------------------------------------------------------------
// Heap allocator
// --------------------------------------------------------------------------

// HeapAllocator hands out garbage-collected byte buffers charged against a
// pool's on-heap tracker. Because the GC reclaims the memory itself, the
// tracker credit is returned as soon as a buffer is freed.
//
// Thread-safety: This type is thread-safe; a single allocator may serve
// concurrent writers.
type HeapAllocator struct {
	pool  *Pool
	owner *Owner
}

// NewHeapAllocator creates an allocator with a fresh owner bound to the
// pool's on-heap tracker.
func (p *Pool) NewHeapAllocator() *HeapAllocator {
	return &HeapAllocator{pool: p, owner: NewOwner(p.OnHeap)}
}

// Allocate returns a buffer of exactly size bytes, blocking (or, under
// MustSucceed, overshooting) until the owner allocation is admitted. The
// buffer is never handed out before its bytes are accounted for.
func (a *HeapAllocator) Allocate(size int64, policy Policy) ([]byte, error) {
	if err := a.pool.checkSize(size); err != nil {
		return nil, err
	}
	if err := a.owner.Allocate(size, policy); err != nil {
		return nil, err
	}
	return make([]byte, size), nil
}

// Free releases the buffer's bytes back through the owner. The caller must
// not retain the buffer afterwards.
func (a *HeapAllocator) Free(buf []byte) {
	a.owner.Release(int64(len(buf)))
}

// Owner exposes the allocator's owner for flush handoff (MarkAllReclaiming,
// ReleaseAll, Transfer).
func (a *HeapAllocator) Owner() *Owner {
	return a.owner
}

// --------------------------------------------------------------------------
// Off-heap allocator
// --------------------------------------------------------------------------

// OffHeapAllocator hands out manually managed buffers charged against the
// pool's off-heap tracker. Credit returns to the tracker only when a buffer
// is explicitly released, mirroring memory that must truly be handed back
// before it can be reused.
type OffHeapAllocator struct {
	pool  *Pool
	owner *Owner
}

// NewOffHeapAllocator creates an allocator with a fresh owner bound to the
// pool's off-heap tracker.
func (p *Pool) NewOffHeapAllocator() *OffHeapAllocator {
	return &OffHeapAllocator{pool: p, owner: NewOwner(p.OffHeap)}
}

// Allocate returns a buffer of exactly size bytes. The caller owns the
// buffer until it calls Release on it.
func (a *OffHeapAllocator) Allocate(size int64, policy Policy) (*OffHeapBuffer, error) {
	if err := a.pool.checkSize(size); err != nil {
		return nil, err
	}
	if err := a.owner.Allocate(size, policy); err != nil {
		return nil, err
	}
	return &OffHeapBuffer{data: make([]byte, size), owner: a.owner}, nil
}

// Owner exposes the allocator's owner for flush handoff.
func (a *OffHeapAllocator) Owner() *Owner {
	return a.owner
}

// OffHeapBuffer is a buffer whose tracker credit is returned only on an
// explicit Release call.
type OffHeapBuffer struct {
	data     []byte
	owner    *Owner
	released atomic.Bool
}

// Bytes returns the underlying buffer. Must not be called after Release.
func (b *OffHeapBuffer) Bytes() []byte {
	return b.data
}

// Len returns the buffer size in bytes.
func (b *OffHeapBuffer) Len() int64 {
	return int64(len(b.data))
}

// Release returns the buffer's bytes to the tracker. Releasing twice is a
// programming error.
func (b *OffHeapBuffer) Release() {
	if !b.released.CompareAndSwap(false, true) {
		panic("mempool: OffHeapBuffer released twice")
	}
	b.owner.Release(int64(len(b.data)))
	b.data = nil
}
