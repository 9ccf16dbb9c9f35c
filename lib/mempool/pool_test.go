package mempool

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"
)

var poolSeq atomic.Int64

// uniquePoolName avoids metric registration collisions between tests.
func uniquePoolName(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, poolSeq.Add(1))
}

// TestCleanerLiveness verifies the cleaner runs the reclamation action once
// usage crosses the high-water mark, and that the action clearing the
// condition parks it again.
func TestCleanerLiveness(t *testing.T) {
	var owner *Owner
	cleaned := make(chan struct{}, 16)

	pool := NewPool(PoolOptions{
		Name:                uniquePoolName("cleaner-liveness"),
		OnHeapLimit:         1000,
		CleanThresholdRatio: 0.5,
		CleanFn: func() {
			// contract: cause used-reclaiming to drop before returning
			owner.MarkAllReclaiming()
			cleaned <- struct{}{}
		},
	})
	defer pool.Close()

	owner = NewOwner(pool.OnHeap)

	// below the mark: the cleaner must stay parked
	if err := owner.Allocate(400, BlockUntilAvailable); err != nil {
		t.Fatalf("Allocation failed: %v", err)
	}
	select {
	case <-cleaned:
		t.Fatal("Cleaner ran below the high-water mark")
	case <-time.After(50 * time.Millisecond):
	}

	// crossing the mark must wake it
	if err := owner.Allocate(200, BlockUntilAvailable); err != nil {
		t.Fatalf("Allocation failed: %v", err)
	}
	select {
	case <-cleaned:
	case <-time.After(2 * time.Second):
		t.Fatal("Cleaner never ran after crossing the high-water mark")
	}
}

// TestCleanerStops verifies Close performs the final wake and join without
// hanging.
func TestCleanerStops(t *testing.T) {
	pool := NewPool(PoolOptions{
		Name:                uniquePoolName("cleaner-stop"),
		OnHeapLimit:         1000,
		CleanThresholdRatio: 0.9,
		CleanFn:             func() {},
	})

	done := make(chan struct{})
	go func() {
		pool.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Pool.Close did not join the cleaner")
	}
}

// TestPoolNeedsCleaning verifies the pool aggregates both domains.
func TestPoolNeedsCleaning(t *testing.T) {
	pool := NewPool(PoolOptions{
		Name:                uniquePoolName("needs-cleaning"),
		OnHeapLimit:         1000,
		OffHeapLimit:        1000,
		CleanThresholdRatio: 0.5,
	})
	defer pool.Close()

	if pool.NeedsCleaning() {
		t.Fatal("Fresh pool must not need cleaning")
	}

	pool.OffHeap.TryAllocate(600)
	if !pool.NeedsCleaning() {
		t.Fatal("Off-heap domain above the mark must surface at the pool")
	}
}
