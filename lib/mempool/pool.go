package mempool

import (
	"fmt"
	"sync/atomic"

	"github.com/VictoriaMetrics/metrics"

	"github.com/ValentinKolb/cedar/lib/concurrent"
	"github.com/ValentinKolb/cedar/lib/logging"
)

var log = logging.CreateLogger("mempool")

// --------------------------------------------------------------------------
// Pool Options
// --------------------------------------------------------------------------

// PoolOptions configures a pool during construction.
type PoolOptions struct {
	// Name identifies the pool in logs and metrics. Must be unique per
	// process.
	Name string

	// OnHeapLimit / OffHeapLimit are the byte budgets of the two accounting
	// domains. A zero limit disables the domain (allocations fail).
	OnHeapLimit  int64
	OffHeapLimit int64

	// CleanThresholdRatio is the fraction of a domain's limit above which
	// the cleaner is woken (e.g. 0.75). Zero disables cleaning.
	CleanThresholdRatio float64

	// MaxAllocSize caps individual allocation requests made through the
	// allocator facades. Requests above the cap are rejected synchronously
	// instead of parking a caller that could never be admitted.
	// Zero means no cap.
	MaxAllocSize int64

	// CleanFn is the reclamation action (supplied by the storage layer).
	// Contract: before returning it must cause used-reclaiming to decrease,
	// typically by flushing the owner holding the most memory and marking
	// it reclaiming. Nil disables the cleaner.
	CleanFn func()
}

// --------------------------------------------------------------------------
// Pool
// --------------------------------------------------------------------------

// Pool is a named accounting domain pair (on-heap and off-heap trackers
// sharing one byte-budget discipline and one cleaner).
type Pool struct {
	name         string
	maxAllocSize int64

	// OnHeap and OffHeap are the two admission gates of the pool.
	OnHeap  *Tracker
	OffHeap *Tracker

	cleaner *cleaner
}

// NewPool creates a pool and, if a reclamation action is supplied, starts
// its cleaner goroutine. Close must be called to stop the cleaner.
func NewPool(opts PoolOptions) *Pool {
	p := &Pool{
		name:         opts.Name,
		maxAllocSize: opts.MaxAllocSize,
		OnHeap:       NewTracker(opts.OnHeapLimit, threshold(opts.OnHeapLimit, opts.CleanThresholdRatio)),
		OffHeap:      NewTracker(opts.OffHeapLimit, threshold(opts.OffHeapLimit, opts.CleanThresholdRatio)),
	}

	if opts.CleanFn != nil {
		p.cleaner = newCleaner(p, opts.CleanFn)
		p.OnHeap.onNeedsCleaning = p.cleaner.Trigger
		p.OffHeap.onNeedsCleaning = p.cleaner.Trigger
		p.cleaner.start()
	}

	p.registerMetrics()
	return p
}

// Name returns the pool's identifier.
func (p *Pool) Name() string {
	return p.name
}

// NeedsCleaning reports whether either domain of the pool is above its
// high-water mark.
func (p *Pool) NeedsCleaning() bool {
	return p.OnHeap.NeedsCleaning() || p.OffHeap.NeedsCleaning()
}

// Close stops the pool's cleaner goroutine (final wake plus join). The
// trackers themselves carry no background state and need no teardown.
func (p *Pool) Close() {
	if p.cleaner != nil {
		p.cleaner.stop()
	}
}

// checkSize validates an allocation request against the facade-level cap.
func (p *Pool) checkSize(size int64) error {
	if size <= 0 {
		return ErrInvalidSize
	}
	if p.maxAllocSize > 0 && size > p.maxAllocSize {
		return ErrExceedsLimit
	}
	return nil
}

// registerMetrics exposes the pool's usage as process-wide gauges.
func (p *Pool) registerMetrics() {
	for domain, tracker := range map[string]*Tracker{"on_heap": p.OnHeap, "off_heap": p.OffHeap} {
		t := tracker
		metrics.GetOrCreateGauge(
			fmt.Sprintf(`cedar_mempool_used_bytes{pool=%q,domain=%q}`, p.name, domain),
			func() float64 { return float64(t.Used()) },
		)
		metrics.GetOrCreateGauge(
			fmt.Sprintf(`cedar_mempool_reclaiming_bytes{pool=%q,domain=%q}`, p.name, domain),
			func() float64 { return float64(t.Reclaiming()) },
		)
		metrics.GetOrCreateGauge(
			fmt.Sprintf(`cedar_mempool_used_ratio{pool=%q,domain=%q}`, p.name, domain),
			func() float64 { return t.UsedRatio() },
		)
	}
}

func threshold(limit int64, ratio float64) int64 {
	if ratio <= 0 {
		return 0
	}
	return int64(float64(limit) * ratio)
}

// --------------------------------------------------------------------------
// Cleaner
// --------------------------------------------------------------------------

// cleaner is the pool's dedicated reclamation worker. It parks on its own
// wait queue until a tracker reports needsCleaning, runs the reclamation
// action exactly once, and loops.
type cleaner struct {
	pool  *Pool
	clean func()

	// signalled whenever NeedsCleaning may have become true
	wait *concurrent.WaitQueue

	shutdown atomic.Bool
	done     chan struct{}
	runs     *metrics.Counter
}

func newCleaner(pool *Pool, clean func()) *cleaner {
	return &cleaner{
		pool:  pool,
		clean: clean,
		wait:  concurrent.NewWaitQueue(),
		done:  make(chan struct{}),
		runs:  metrics.GetOrCreateCounter(fmt.Sprintf(`cedar_mempool_cleaner_runs_total{pool=%q}`, pool.name)),
	}
}

func (c *cleaner) start() {
	go c.run()
}

// Trigger wakes the cleaner. Should only be called when needsCleaning is
// believed to be true; the cleaner re-checks regardless.
func (c *cleaner) Trigger() {
	c.wait.Signal()
}

// stop requests shutdown, wakes the worker and joins it.
func (c *cleaner) stop() {
	c.shutdown.Store(true)
	c.wait.SignalAll()
	<-c.done
}

func (c *cleaner) run() {
	defer close(c.done)

	for {
		for !c.pool.NeedsCleaning() {
			signal := c.wait.Register()
			if c.shutdown.Load() {
				signal.Cancel()
				return
			}
			if !c.pool.NeedsCleaning() {
				signal.Await()
			} else {
				signal.Cancel()
			}
		}
		if c.shutdown.Load() {
			return
		}

		log.Debugf("pool %s above high-water mark (on-heap %d/%d, off-heap %d/%d), cleaning",
			c.pool.name,
			c.pool.OnHeap.Used(), c.pool.OnHeap.Limit(),
			c.pool.OffHeap.Used(), c.pool.OffHeap.Limit())

		c.runs.Inc()
		c.clean()
	}
}
