package mempool

import (
	"sync"
	"testing"
	"time"
)

// TestBackpressure runs the canonical admission scenario: limit 1,000,000;
// owner A takes 600,000; owner B's request for 500,000 parks until A
// releases everything.
func TestBackpressure(t *testing.T) {
	tracker := NewTracker(1_000_000, 0)
	ownerA := NewOwner(tracker)
	ownerB := NewOwner(tracker)

	if err := ownerA.Allocate(600_000, BlockUntilAvailable); err != nil {
		t.Fatalf("Owner A allocation failed: %v", err)
	}

	unblocked := make(chan struct{})
	go func() {
		if err := ownerB.Allocate(500_000, BlockUntilAvailable); err != nil {
			t.Errorf("Owner B allocation failed: %v", err)
		}
		close(unblocked)
	}()

	// B must stay parked while the pool is full
	select {
	case <-unblocked:
		t.Fatal("Owner B was admitted past the limit")
	case <-time.After(100 * time.Millisecond):
	}

	ownerA.ReleaseAll()

	select {
	case <-unblocked:
	case <-time.After(2 * time.Second):
		t.Fatal("Owner B stayed parked after capacity was released")
	}

	if got := ownerB.Owns(); got != 500_000 {
		t.Errorf("Expected owner B to own 500000 bytes, got %d", got)
	}
	if got := tracker.Used(); got != 500_000 {
		t.Errorf("Expected tracker used=500000, got %d", got)
	}
}

// TestMustSucceedOvershoots verifies the reclaimer-path exemption: the
// allocation is granted past the limit instead of parking.
func TestMustSucceedOvershoots(t *testing.T) {
	tracker := NewTracker(1000, 0)
	owner := NewOwner(tracker)

	if err := owner.Allocate(900, BlockUntilAvailable); err != nil {
		t.Fatalf("Initial allocation failed: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- owner.Allocate(500, MustSucceed)
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("MustSucceed allocation failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("MustSucceed allocation blocked")
	}

	if got := tracker.Used(); got != 1400 {
		t.Errorf("Expected retroactive overshoot used=1400, got %d", got)
	}
}

// TestInvalidSizeRejected verifies non-positive sizes fail synchronously.
func TestInvalidSizeRejected(t *testing.T) {
	owner := NewOwner(NewTracker(1000, 0))

	for _, size := range []int64{0, -1} {
		if err := owner.Allocate(size, BlockUntilAvailable); err != ErrInvalidSize {
			t.Errorf("Allocate(%d) = %v, expected ErrInvalidSize", size, err)
		}
	}
}

// TestTransfer verifies ownership moves between owners without touching the
// tracker, and fails cleanly on insufficient funds.
func TestTransfer(t *testing.T) {
	tracker := NewTracker(1000, 0)
	from := NewOwner(tracker)
	to := NewOwner(tracker)

	if err := from.Allocate(400, BlockUntilAvailable); err != nil {
		t.Fatalf("Allocation failed: %v", err)
	}
	usedBefore := tracker.Used()

	if !from.Transfer(150, to) {
		t.Fatal("Transfer within funds must succeed")
	}
	if from.Owns() != 250 || to.Owns() != 150 {
		t.Errorf("Expected owns 250/150, got %d/%d", from.Owns(), to.Owns())
	}
	if tracker.Used() != usedBefore {
		t.Errorf("Transfer must not change tracker usage: %d -> %d", usedBefore, tracker.Used())
	}

	if from.Transfer(9999, to) {
		t.Error("Transfer beyond funds must fail")
	}
	if from.Owns() != 250 || to.Owns() != 150 {
		t.Error("Failed transfer must have no partial effect")
	}
}

// TestTransferConcurrent moves ownership back and forth under contention and
// checks the total is conserved.
func TestTransferConcurrent(t *testing.T) {
	tracker := NewTracker(1_000_000, 0)
	a := NewOwner(tracker)
	b := NewOwner(tracker)

	if err := a.Allocate(100_000, BlockUntilAvailable); err != nil {
		t.Fatalf("Allocation failed: %v", err)
	}

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(forward bool) {
			defer wg.Done()
			for i := 0; i < 5000; i++ {
				if forward {
					a.Transfer(1, b)
				} else {
					b.Transfer(1, a)
				}
			}
		}(g%2 == 0)
	}
	wg.Wait()

	if total := a.Owns() + b.Owns(); total != 100_000 {
		t.Errorf("Ownership not conserved: %d + %d = %d", a.Owns(), b.Owns(), total)
	}
	if tracker.Used() != 100_000 {
		t.Errorf("Tracker usage changed by transfers: %d", tracker.Used())
	}
}

// TestMarkAllReclaiming verifies repeated calls report only the new delta.
func TestMarkAllReclaiming(t *testing.T) {
	tracker := NewTracker(1000, 0)
	owner := NewOwner(tracker)

	owner.Allocate(300, BlockUntilAvailable)
	owner.MarkAllReclaiming()
	if got := tracker.Reclaiming(); got != 300 {
		t.Errorf("Expected reclaiming=300, got %d", got)
	}

	// idempotent in effect
	owner.MarkAllReclaiming()
	if got := tracker.Reclaiming(); got != 300 {
		t.Errorf("Repeated mark must not double-count: got %d", got)
	}

	// growing the owner and re-marking reports only the delta
	owner.Allocate(200, BlockUntilAvailable)
	owner.MarkAllReclaiming()
	if got := tracker.Reclaiming(); got != 500 {
		t.Errorf("Expected reclaiming=500 after delta, got %d", got)
	}
}

// TestReleaseAllResolvesReclaiming verifies ReleaseAll returns both the owned
// bytes and the owner's reclaiming contribution.
func TestReleaseAllResolvesReclaiming(t *testing.T) {
	tracker := NewTracker(1000, 0)
	owner := NewOwner(tracker)

	owner.Allocate(400, BlockUntilAvailable)
	owner.MarkAllReclaiming()
	owner.ReleaseAll()

	if got := tracker.Used(); got != 0 {
		t.Errorf("Expected used=0 after ReleaseAll, got %d", got)
	}
	if got := tracker.Reclaiming(); got != 0 {
		t.Errorf("Expected reclaiming=0 after ReleaseAll, got %d", got)
	}
}

// TestDoubleReleaseAllPanics verifies retiring an owner twice is caught as a
// programming error.
func TestDoubleReleaseAllPanics(t *testing.T) {
	owner := NewOwner(NewTracker(1000, 0))
	owner.Allocate(100, BlockUntilAvailable)
	owner.ReleaseAll()

	defer func() {
		if recover() == nil {
			t.Error("Expected panic on second ReleaseAll")
		}
	}()
	owner.ReleaseAll()
}

// TestAllocateAfterReleaseAllPanics verifies use-after-retire is caught.
func TestAllocateAfterReleaseAllPanics(t *testing.T) {
	owner := NewOwner(NewTracker(1000, 0))
	owner.ReleaseAll()

	defer func() {
		if recover() == nil {
			t.Error("Expected panic on Allocate after ReleaseAll")
		}
	}()
	owner.Allocate(1, BlockUntilAvailable)
}
