package commitlog

import (
	"testing"
	"time"
)

func openTestLog(t *testing.T) (*Log, string) {
	t.Helper()
	dir := t.TempDir()
	l, err := Open(dir, DefaultLogOptions())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	return l, dir
}

// TestInvalidPollInterval verifies the configuration error is fatal at
// construction: no scheduler, no goroutine.
func TestInvalidPollInterval(t *testing.T) {
	l, _ := openTestLog(t)
	defer l.Close()

	for _, interval := range []time.Duration{0, -time.Second, 500 * time.Microsecond} {
		if _, err := NewSyncScheduler(l, "bad-interval", SchedulerOptions{PollInterval: interval}); err == nil {
			t.Errorf("Expected configuration error for poll interval %s", interval)
		}
	}
}

// TestStrictPolicyDurability verifies the core durability contract: under
// WaitOnDiskSync, WaitIfNeeded does not return before a sync covering the
// record has completed, and afterwards a crash-and-recover simulation finds
// the data.
func TestStrictPolicyDurability(t *testing.T) {
	l, dir := openTestLog(t)

	s, err := NewSyncScheduler(l, "strict", SchedulerOptions{
		PollInterval:   50 * time.Millisecond,
		WaitOnDiskSync: true,
	})
	if err != nil {
		t.Fatalf("NewSyncScheduler failed: %v", err)
	}

	alloc, err := l.Append([]byte("must survive a crash"))
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	s.WaitIfNeeded(alloc)
	if !alloc.IsDurable() {
		t.Fatal("WaitIfNeeded returned before the record was durable")
	}

	// crash simulation: the file is fsynced, so replay must see the record
	// even though the log was never cleanly closed
	found := false
	if _, err := Replay(dir, func(_ uint64, payload []byte) error {
		if string(payload) == "must survive a crash" {
			found = true
		}
		return nil
	}); err != nil {
		t.Fatalf("Replay failed: %v", err)
	}
	if !found {
		t.Fatal("Acknowledged record not found after crash-and-recover")
	}

	s.Shutdown()
	s.AwaitTermination()
	l.Close()

	if got := s.CompletedTasks(); got != 1 {
		t.Errorf("Expected 1 completed task, got %d", got)
	}
}

// TestStalenessBound verifies the bounded-staleness policy: with a healthy
// scheduler the wait returns within poll interval + slack.
func TestStalenessBound(t *testing.T) {
	l, _ := openTestLog(t)

	s, err := NewSyncScheduler(l, "staleness", SchedulerOptions{
		PollInterval:   100 * time.Millisecond,
		WaitOnDiskSync: false,
	})
	if err != nil {
		t.Fatalf("NewSyncScheduler failed: %v", err)
	}
	defer func() {
		s.Shutdown()
		s.AwaitTermination()
		l.Close()
	}()

	alloc, err := l.Append([]byte("bounded staleness"))
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	start := time.Now()
	s.WaitIfNeeded(alloc)
	elapsed := time.Since(start)

	// spec bound is poll interval + 10ms slack; allow generous scheduling
	// jitter on loaded CI machines
	if elapsed > 300*time.Millisecond {
		t.Errorf("Bounded-staleness wait took %s, expected at most ~110ms", elapsed)
	}
}

// TestLaggingSchedulerBlocksWriters verifies writers park while the
// scheduler is behind schedule and are released once a sync cycle catches
// up.
func TestLaggingSchedulerBlocksWriters(t *testing.T) {
	l, _ := openTestLog(t)

	// a long poll interval keeps the scheduler asleep so the test controls
	// when the next sync cycle happens
	s, err := NewSyncScheduler(l, "lagging", SchedulerOptions{
		PollInterval:   10 * time.Second,
		WaitOnDiskSync: false,
	})
	if err != nil {
		t.Fatalf("NewSyncScheduler failed: %v", err)
	}
	defer func() {
		s.Shutdown()
		s.AwaitTermination()
		l.Close()
	}()

	// give the first cycle a moment to complete, then backdate the
	// heartbeat so the scheduler appears far behind schedule
	time.Sleep(50 * time.Millisecond)
	s.lastAliveAt.Store(time.Now().Add(-time.Minute).UnixMilli())

	alloc, err := l.Append([]byte("blocked by lag"))
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	released := make(chan struct{})
	go func() {
		s.WaitIfNeeded(alloc)
		close(released)
	}()

	select {
	case <-released:
		t.Fatal("Writer was not blocked although the scheduler lags")
	case <-time.After(100 * time.Millisecond):
	}

	if got := s.PendingTasks(); got != 1 {
		t.Errorf("Expected 1 pending task while blocked, got %d", got)
	}

	// an extra sync catches the scheduler up and must release the writer
	s.RequestExtraSync()

	select {
	case <-released:
	case <-time.After(2 * time.Second):
		t.Fatal("Writer stayed parked after the scheduler caught up")
	}
}

// TestShutdownRunsFinalSync verifies the run-once-more-after-shutdown
// behavior: records appended before Shutdown become durable.
func TestShutdownRunsFinalSync(t *testing.T) {
	l, _ := openTestLog(t)

	s, err := NewSyncScheduler(l, "final-sync", SchedulerOptions{
		PollInterval:   10 * time.Second, // no periodic cycle during the test
		WaitOnDiskSync: false,
	})
	if err != nil {
		t.Fatalf("NewSyncScheduler failed: %v", err)
	}

	// wait out the initial cycle so the append below is only covered by
	// the final shutdown sync
	time.Sleep(50 * time.Millisecond)

	alloc, err := l.Append([]byte("covered by the final sync"))
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if alloc.IsDurable() {
		t.Fatal("Record durable before any covering sync")
	}

	s.Shutdown()
	s.AwaitTermination()

	if !alloc.IsDurable() {
		t.Error("Final shutdown sync did not cover the record")
	}
	l.Close()
}
