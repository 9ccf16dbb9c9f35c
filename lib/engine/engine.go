package engine

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/ValentinKolb/cedar/lib/commitlog"
	"github.com/ValentinKolb/cedar/lib/logging"
	"github.com/ValentinKolb/cedar/lib/mempool"
)

var log = logging.CreateLogger("engine")

// --------------------------------------------------------------------------
// Engine Options
// --------------------------------------------------------------------------

// Options configures the engine during initialization.
type Options struct {
	// Dir is the directory holding the commit log. Required.
	Dir string

	// PoolName identifies the engine's memory pool in logs and metrics.
	PoolName string

	// OnHeapLimit is the byte budget shared by all memtables.
	OnHeapLimit int64

	// OffHeapLimit is the byte budget for off-heap buffers handed to flush
	// sinks. Zero disables the domain.
	OffHeapLimit int64

	// CleanThresholdRatio is the fraction of the budget above which the
	// pool cleaner starts flushing memtables.
	CleanThresholdRatio float64

	// MaxWriteSize caps a single write's memory footprint. Zero applies
	// a default of 1/8 of the on-heap limit.
	MaxWriteSize int64

	// SyncPollInterval is the commit log sync period.
	SyncPollInterval time.Duration

	// WaitOnDiskSync selects the strict durability policy (every write
	// waits for the sync covering its own record).
	WaitOnDiskSync bool

	// FlushSink receives flushed memtable snapshots. Nil discards them
	// (the commit log alone then carries durability).
	FlushSink FlushSink

	// ContainerFactory creates memtable containers. Nil uses the B-tree
	// default.
	ContainerFactory ContainerFactory
}

// DefaultOptions returns a balanced configuration for the given directory.
func DefaultOptions(dir string) Options {
	return Options{
		Dir:                 dir,
		PoolName:            "engine",
		OnHeapLimit:         64 * 1024 * 1024,
		CleanThresholdRatio: 0.75,
		SyncPollInterval:    200 * time.Millisecond,
		WaitOnDiskSync:      false,
	}
}

// --------------------------------------------------------------------------
// Engine
// --------------------------------------------------------------------------

// Engine is the write-path facade: memory-admitted, commit-log-durable
// writes into per-table ordered memtables.
//
// Thread-safety: all methods are safe for concurrent use.
type Engine struct {
	opts Options

	pool      *mempool.Pool
	scratch   *mempool.HeapAllocator
	wal       *commitlog.Log
	scheduler *commitlog.SyncScheduler

	tables *xsync.MapOf[string, *memtable]

	// flushMu serializes flushes so overlapping cleaner runs cannot swap
	// the same memtable twice
	flushMu sync.Mutex

	closed atomic.Bool
}

// New opens the commit log in opts.Dir, replays it into memtables and
// starts the background sync scheduler and pool cleaner.
func New(opts Options) (*Engine, error) {
	if opts.Dir == "" {
		return nil, NewError(RetCInvalidArgument, "engine directory must be set")
	}
	if opts.OnHeapLimit <= 0 {
		return nil, NewError(RetCInvalidArgument, "on-heap limit must be positive")
	}
	if opts.PoolName == "" {
		opts.PoolName = "engine"
	}
	if opts.ContainerFactory == nil {
		opts.ContainerFactory = NewBTreeContainer
	}
	if opts.MaxWriteSize <= 0 {
		opts.MaxWriteSize = opts.OnHeapLimit / 8
	}
	if opts.SyncPollInterval <= 0 {
		opts.SyncPollInterval = DefaultOptions(opts.Dir).SyncPollInterval
	}

	e := &Engine{
		opts:   opts,
		tables: xsync.NewMapOf[string, *memtable](),
	}

	e.pool = mempool.NewPool(mempool.PoolOptions{
		Name:                opts.PoolName,
		OnHeapLimit:         opts.OnHeapLimit,
		OffHeapLimit:        opts.OffHeapLimit,
		CleanThresholdRatio: opts.CleanThresholdRatio,
		MaxAllocSize:        opts.MaxWriteSize,
		CleanFn:             func() { e.flushLargest() },
	})

	wal, err := commitlog.Open(opts.Dir, commitlog.DefaultLogOptions())
	if err != nil {
		e.pool.Close()
		return nil, err
	}
	e.wal = wal

	scheduler, err := commitlog.NewSyncScheduler(wal, opts.PoolName, commitlog.SchedulerOptions{
		PollInterval:   opts.SyncPollInterval,
		WaitOnDiskSync: opts.WaitOnDiskSync,
	})
	if err != nil {
		wal.Close()
		e.pool.Close()
		return nil, err
	}
	e.scheduler = scheduler

	e.scratch = e.pool.NewHeapAllocator()

	if err := e.recover(); err != nil {
		e.Close()
		return nil, err
	}
	return e, nil
}

// Write admits, applies and logs one key-value write, then blocks until the
// configured durability policy acknowledges it.
func (e *Engine) Write(table, key string, value []byte) error {
	if e.closed.Load() {
		return NewError(RetCClosed, "write on closed engine")
	}
	if table == "" || key == "" {
		return NewError(RetCInvalidArgument, "table and key must be non-empty")
	}

	mt := e.table(table)
	size := mt.container.SizeOf(key, value)
	if size > e.opts.MaxWriteSize {
		return NewError(RetCInvalidArgument,
			fmt.Sprintf("write of %d bytes exceeds the maximum of %d", size, e.opts.MaxWriteSize))
	}

	// admit the write against the pool on a request-scoped owner. This may
	// park the caller (backpressure), but no locks are held, so a parked
	// writer never stalls the flush that will free capacity.
	writeOp := mempool.NewOwner(e.pool.OnHeap)
	if err := writeOp.Allocate(size, mempool.BlockUntilAvailable); err != nil {
		return NewError(RetCInvalidArgument, err.Error())
	}

	stored := append([]byte(nil), value...)

	mt.mu.Lock()
	record := encodeSet(make([]byte, int(setRecordSize(table, key, value))), table, key, value)
	alloc, err := e.wal.Append(record)
	if err != nil {
		mt.mu.Unlock()
		writeOp.ReleaseAll()
		return NewError(RetCInternalError, err.Error())
	}
	prev, replaced := mt.container.Upsert(key, stored)
	writeOp.Transfer(size, mt.owner)
	if replaced {
		mt.owner.Release(mt.container.SizeOf(key, prev))
	}
	if alloc.LSN() > mt.maxLSN {
		mt.maxLSN = alloc.LSN()
	}
	mt.mu.Unlock()

	writeOp.ReleaseAll()

	e.scheduler.WaitIfNeeded(alloc)
	return nil
}

// Get returns the value for key in table, including data currently being
// flushed.
func (e *Engine) Get(table, key string) ([]byte, bool) {
	mt, ok := e.tables.Load(table)
	if !ok {
		return nil, false
	}
	return mt.get(key)
}

// AscendRange iterates table entries with from <= key < to in ascending
// key order until fn returns false.
func (e *Engine) AscendRange(table, from, to string, fn func(key string, value []byte) bool) error {
	mt, ok := e.tables.Load(table)
	if !ok {
		return NewError(RetCUnknownTable, fmt.Sprintf("table %q not found", table))
	}
	mt.ascendRange(from, to, fn)
	return nil
}

// Flush drains the named table's memtable to the flush sink.
func (e *Engine) Flush(table string) error {
	mt, ok := e.tables.Load(table)
	if !ok {
		return NewError(RetCUnknownTable, fmt.Sprintf("table %q not found", table))
	}
	e.flushTable(mt)
	return nil
}

// Pool exposes the engine's memory pool for diagnostics.
func (e *Engine) Pool() *mempool.Pool {
	return e.pool
}

// Scheduler exposes the engine's sync scheduler for diagnostics.
func (e *Engine) Scheduler() *commitlog.SyncScheduler {
	return e.scheduler
}

// Close flushes every memtable, runs the final commit log sync and stops
// the background workers. The engine is unusable afterwards.
func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}

	e.tables.Range(func(_ string, mt *memtable) bool {
		e.flushTable(mt)
		return true
	})

	e.scheduler.Shutdown()
	e.scheduler.AwaitTermination()

	err := e.wal.Close()
	e.pool.Close()
	return err
}

// --------------------------------------------------------------------------
// Internal: tables, flush, recovery
// --------------------------------------------------------------------------

// table returns the memtable for name, creating it on first use.
func (e *Engine) table(name string) *memtable {
	mt, _ := e.tables.LoadOrCompute(name, func() *memtable {
		return newMemtable(name, e.opts.ContainerFactory, e.pool.OnHeap)
	})
	return mt
}

// flushLargest is the pool's reclamation action: flush the memtable whose
// owner holds the largest share of the budget. Per the cleaner contract it
// marks memory reclaiming before returning.
func (e *Engine) flushLargest() {
	var largest *memtable
	var largestRatio float64

	e.tables.Range(func(_ string, mt *memtable) bool {
		if ratio := mt.ownershipRatio(); ratio > largestRatio {
			largest, largestRatio = mt, ratio
		}
		return true
	})

	if largest == nil {
		// nothing to reclaim; scratch buffers must be freed by their
		// writers, there is no owner worth flushing
		return
	}
	e.flushTable(largest)
}

// flushTable swaps the memtable's container and owner under its lock, then
// drains the snapshot to the sink and releases the old owner.
func (e *Engine) flushTable(mt *memtable) {
	e.flushMu.Lock()
	defer e.flushMu.Unlock()

	mt.mu.Lock()
	if mt.container.Len() == 0 {
		mt.mu.Unlock()
		return
	}
	snapshot := mt.container.Snapshot()
	oldOwner := mt.owner
	covered := mt.maxLSN
	mt.flushing = snapshot
	mt.container = e.opts.ContainerFactory()
	mt.owner = mempool.NewOwner(e.pool.OnHeap)
	oldOwner.MarkAllReclaiming()
	mt.mu.Unlock()

	log.Debugf("flushing table %s (%d entries, %d bytes, covering LSN %d)",
		mt.name, snapshot.Len(), oldOwner.Owns(), covered)

	// a flush marker is written only when a sink actually consumed the
	// snapshot; otherwise the commit log alone carries the data and a
	// marker would make recovery skip it
	if e.opts.FlushSink == nil {
		log.Debugf("no flush sink configured, table %s stays replay-only", mt.name)
	} else if err := e.opts.FlushSink(mt.name, snapshot); err != nil {
		// the records are still in the commit log, so releasing the memory
		// without a flush marker is safe: recovery will replay them
		log.Errorf("flush sink failed for table %s: %v", mt.name, err)
	} else {
		e.writeFlushMarker(mt.name, covered)
	}

	mt.mu.Lock()
	mt.flushing = nil
	mt.mu.Unlock()

	oldOwner.ReleaseAll()
}

// writeFlushMarker logs that every record of the table up to coveredLSN has
// reached the sink. The marker's buffer is allocated with MustSucceed: the
// flush path must never block waiting for the memory it is about to free.
func (e *Engine) writeFlushMarker(table string, coveredLSN uint64) {
	buf, err := e.scratch.Allocate(flushMarkerSize(table), mempool.MustSucceed)
	if err != nil {
		log.Errorf("allocating flush marker for table %s: %v", table, err)
		return
	}
	defer e.scratch.Free(buf)

	if _, err := e.wal.Append(encodeFlushMarker(buf, table, coveredLSN)); err != nil {
		log.Errorf("appending flush marker for table %s: %v", table, err)
		return
	}
	e.scheduler.RequestExtraSync()
}

// recover replays the commit log: the first pass collects flush markers,
// the second applies every set record the sink had not received.
func (e *Engine) recover() error {
	covered := make(map[string]uint64)
	if _, err := commitlog.Replay(e.opts.Dir, func(_ uint64, payload []byte) error {
		rec, err := decodeRecord(payload)
		if err != nil {
			return err
		}
		if rec.kind == recordFlush && rec.coveredLSN > covered[rec.table] {
			covered[rec.table] = rec.coveredLSN
		}
		return nil
	}); err != nil {
		return err
	}

	applied := 0
	n, err := commitlog.Replay(e.opts.Dir, func(lsn uint64, payload []byte) error {
		rec, err := decodeRecord(payload)
		if err != nil {
			return err
		}
		if rec.kind != recordSet || lsn <= covered[rec.table] {
			return nil
		}

		mt := e.table(rec.table)
		size := mt.container.SizeOf(rec.key, rec.value)

		// recovery competes with the cleaner for the budget like any other
		// writer; the cleaner frees capacity by flushing what was applied
		writeOp := mempool.NewOwner(e.pool.OnHeap)
		if err := writeOp.Allocate(size, mempool.BlockUntilAvailable); err != nil {
			return err
		}

		stored := append([]byte(nil), rec.value...)

		mt.mu.Lock()
		prev, replaced := mt.container.Upsert(rec.key, stored)
		writeOp.Transfer(size, mt.owner)
		if replaced {
			mt.owner.Release(mt.container.SizeOf(rec.key, prev))
		}
		if lsn > mt.maxLSN {
			mt.maxLSN = lsn
		}
		mt.mu.Unlock()

		writeOp.ReleaseAll()
		applied++
		return nil
	})
	if err != nil {
		return err
	}

	if n > 0 {
		log.Infof("recovered %d commit log records, applied %d", n, applied)
	}
	return nil
}
