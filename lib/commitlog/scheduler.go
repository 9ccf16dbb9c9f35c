package commitlog

import (
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/VictoriaMetrics/metrics"

	"github.com/ValentinKolb/cedar/lib/concurrent"
)

// --------------------------------------------------------------------------
// Scheduler Options
// --------------------------------------------------------------------------

// SchedulerOptions configures a SyncScheduler.
type SchedulerOptions struct {
	// PollInterval is the period between durability syncs. Must be at
	// least one millisecond; anything lower is a configuration error.
	PollInterval time.Duration

	// WaitOnDiskSync selects the strict policy: every write blocks until
	// the sync covering its own record completes. When false, writes block
	// only while the scheduler lags its schedule beyond a fixed slack
	// (bounded staleness).
	WaitOnDiskSync bool
}

// DefaultSchedulerOptions returns a balanced configuration.
func DefaultSchedulerOptions() SchedulerOptions {
	return SchedulerOptions{
		PollInterval:   200 * time.Millisecond,
		WaitOnDiskSync: false,
	}
}

// syncLagSlack is the fixed slack added to the poll interval before the
// bounded-staleness policy considers the scheduler lagging.
const syncLagSlack = 10 * time.Millisecond

// --------------------------------------------------------------------------
// SyncScheduler
// --------------------------------------------------------------------------

// SyncScheduler runs periodic durability syncs on a single background
// goroutine and exposes the blocking wait contract every write invokes
// after appending to the log.
type SyncScheduler struct {
	log  *Log
	name string

	pollInterval      time.Duration
	blockWhenSyncLags time.Duration
	waitOnDiskSync    bool

	// heartbeat, updated before and after every sync (unix millis)
	lastAliveAt atomic.Int64

	// counts of total written and currently waiting log messages
	written atomic.Int64
	pending atomic.Int64

	// signalled after every completed sync cycle; lag-policy waiters park here
	syncComplete *concurrent.WaitQueue

	// work-request semaphore: a token shortens the current sleep
	haveWork chan struct{}

	shutdown atomic.Bool
	done     chan struct{}

	completedSyncs *metrics.Counter
	missedCycles   *metrics.Counter
	syncErrors     *metrics.Counter
}

// NewSyncScheduler creates the scheduler and starts its background
// goroutine. A poll interval below one millisecond is rejected immediately;
// no goroutine is started in that case.
func NewSyncScheduler(l *Log, name string, opts SchedulerOptions) (*SyncScheduler, error) {
	if opts.PollInterval < time.Millisecond {
		return nil, fmt.Errorf("commitlog: sync poll interval must be positive, got %s", opts.PollInterval)
	}

	s := &SyncScheduler{
		log:               l,
		name:              name,
		pollInterval:      opts.PollInterval,
		blockWhenSyncLags: opts.PollInterval + syncLagSlack,
		waitOnDiskSync:    opts.WaitOnDiskSync,
		syncComplete:      concurrent.NewWaitQueue(),
		haveWork:          make(chan struct{}, 1),
		done:              make(chan struct{}),
		completedSyncs:    metrics.GetOrCreateCounter(fmt.Sprintf(`cedar_commitlog_syncs_total{scheduler=%q}`, name)),
		missedCycles:      metrics.GetOrCreateCounter(fmt.Sprintf(`cedar_commitlog_missed_cycles_total{scheduler=%q}`, name)),
		syncErrors:        metrics.GetOrCreateCounter(fmt.Sprintf(`cedar_commitlog_sync_errors_total{scheduler=%q}`, name)),
	}
	s.lastAliveAt.Store(time.Now().UnixMilli())

	metrics.GetOrCreateGauge(
		fmt.Sprintf(`cedar_commitlog_pending_waiters{scheduler=%q}`, name),
		func() float64 { return float64(s.pending.Load()) },
	)

	go s.run()
	return s, nil
}

// run is the scheduler loop. It always runs one final sync after shutdown
// is signalled so records appended before Shutdown become durable.
func (s *SyncScheduler) run() {
	defer close(s.done)

	run := true
	for run {
		run = !s.shutdown.Load()

		// heartbeat and the time we plan to sleep until
		now := time.Now()
		s.lastAliveAt.Store(now.UnixMilli())
		nextSync := now.Add(s.pollInterval)

		if err := s.log.Sync(!run); err != nil {
			s.syncErrors.Inc()
			log.Errorf("commit log sync failed: %v", err)
			// sleep for the full poll interval after an error so a hot
			// failure loop does not spam the log; waiters stay parked
			s.sleep(s.pollInterval)
			continue
		}

		// heartbeat
		s.lastAliveAt.Store(time.Now().UnixMilli())
		s.completedSyncs.Inc()

		// release any writers blocking on a slow sync
		s.syncComplete.SignalAll()

		sleep := time.Until(nextSync)
		if sleep < 0 {
			s.missedCycles.Inc()
			log.Warningf("commit log sync took longer than the poll interval (by %.2fs), indicating it is a bottleneck", -sleep.Seconds())
			// don't sleep, we probably have work to do
			continue
		}

		s.sleep(sleep)
	}
}

// sleep blocks for up to d, returning early if extra work is requested.
func (s *SyncScheduler) sleep(d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-s.haveWork:
	case <-timer.C:
	}
}

// WaitIfNeeded blocks the calling writer according to the configured
// durability policy. Invoked by every write after its log append.
func (s *SyncScheduler) WaitIfNeeded(alloc *Allocation) {
	if s.waitOnDiskSync {
		// wait until the record is safely persisted to disk
		s.pending.Add(1)
		alloc.AwaitDiskSync()
		s.pending.Add(-1)
	} else if s.waitForSyncToCatchUp(math.MaxInt64) {
		// wait until the periodic sync catches up with its schedule
		started := time.Now().UnixMilli()
		s.pending.Add(1)
		for s.waitForSyncToCatchUp(started) {
			signal := s.syncComplete.Register()
			if s.waitForSyncToCatchUp(started) {
				signal.Await()
			} else {
				signal.Cancel()
			}
		}
		s.pending.Add(-1)
	}
	s.written.Add(1)
}

// waitForSyncToCatchUp tests whether a wait started at the given time (unix
// millis) should still block on the lagging sync.
func (s *SyncScheduler) waitForSyncToCatchUp(started int64) bool {
	alive := s.lastAliveAt.Load()
	return started > alive && alive+s.blockWhenSyncLags.Milliseconds() < time.Now().UnixMilli()
}

// RequestExtraSync asks the scheduler to run a sync cycle as soon as
// possible instead of sleeping out its poll interval.
func (s *SyncScheduler) RequestExtraSync() {
	select {
	case s.haveWork <- struct{}{}:
	default:
	}
}

// Shutdown signals the scheduler to stop after one more sync cycle.
func (s *SyncScheduler) Shutdown() {
	s.shutdown.Store(true)
	s.RequestExtraSync()
}

// AwaitTermination blocks until the scheduler goroutine has exited.
func (s *SyncScheduler) AwaitTermination() {
	<-s.done
}

// CompletedTasks returns the number of writes acknowledged so far.
func (s *SyncScheduler) CompletedTasks() int64 {
	return s.written.Load()
}

// PendingTasks returns the number of writes currently blocked on the
// durability policy.
func (s *SyncScheduler) PendingTasks() int64 {
	return s.pending.Load()
}
