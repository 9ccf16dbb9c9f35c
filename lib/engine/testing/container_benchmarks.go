package testing

import (
	"fmt"
	"testing"

	"github.com/ValentinKolb/cedar/lib/engine"
)

// RunContainerBenchmarks runs all benchmarks for a Container implementation
func RunContainerBenchmarks(b *testing.B, name string, factory engine.ContainerFactory) {

	b.Run("Upsert", func(b *testing.B) {
		benchmarkUpsert(b, factory())
	})

	b.Run("UpsertExisting", func(b *testing.B) {
		benchmarkUpsertExisting(b, factory())
	})

	b.Run("Get", func(b *testing.B) {
		benchmarkGet(b, factory())
	})

	b.Run("Ascend", func(b *testing.B) {
		benchmarkAscend(b, factory())
	})

	b.Run("Snapshot", func(b *testing.B) {
		benchmarkSnapshot(b, factory())
	})

	b.Run("MixedUsage", func(b *testing.B) {
		benchmarkMixedUsage(b, factory())
	})
}

// --------------------------------------------------------------------------
// Benchmark functions
// --------------------------------------------------------------------------

// Benchmark for Upsert with distinct keys
func benchmarkUpsert(b *testing.B, c engine.Container) {
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		counter := 0
		for pb.Next() {
			key := fmt.Sprintf("test-key-%d", counter)
			value := []byte(fmt.Sprintf("test-value-%d", counter))
			c.Upsert(key, value)
			counter++
		}
	})
}

// Benchmark for Upsert on a fixed key set (every call replaces)
func benchmarkUpsertExisting(b *testing.B, c engine.Container) {
	numKeys := 1000
	for i := 0; i < numKeys; i++ {
		c.Upsert(fmt.Sprintf("test-key-%d", i), []byte("initial"))
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		counter := 0
		for pb.Next() {
			c.Upsert(fmt.Sprintf("test-key-%d", counter%numKeys), []byte("replaced"))
			counter++
		}
	})
}

// Benchmark for Get operations
func benchmarkGet(b *testing.B, c engine.Container) {
	numKeys := 1000
	for i := 0; i < numKeys; i++ {
		c.Upsert(fmt.Sprintf("test-key-%d", i), []byte("test-value"))
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		counter := 0
		for pb.Next() {
			c.Get(fmt.Sprintf("test-key-%d", counter%numKeys))
			counter++
		}
	})
}

// Benchmark for a bounded ordered scan
func benchmarkAscend(b *testing.B, c engine.Container) {
	numKeys := 10000
	for i := 0; i < numKeys; i++ {
		c.Upsert(fmt.Sprintf("test-key-%06d", i), []byte("test-value"))
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			count := 0
			c.AscendRange("test-key-005000", "test-key-\xff", func(string, []byte) bool {
				count++
				return count < 100
			})
		}
	})
}

// Benchmark for Snapshot while the container keeps growing
func benchmarkSnapshot(b *testing.B, c engine.Container) {
	numKeys := 10000
	for i := 0; i < numKeys; i++ {
		c.Upsert(fmt.Sprintf("test-key-%06d", i), []byte("test-value"))
	}

	b.ResetTimer()
	counter := 0
	for i := 0; i < b.N; i++ {
		snap := c.Snapshot()
		if snap.Len() < numKeys {
			b.Fatalf("snapshot lost entries: %d < %d", snap.Len(), numKeys)
		}
		c.Upsert(fmt.Sprintf("grow-key-%d", counter), []byte("test-value"))
		counter++
	}
}

// Benchmark mixing writes, reads and scans
func benchmarkMixedUsage(b *testing.B, c engine.Container) {
	numKeys := 1000
	for i := 0; i < numKeys; i++ {
		c.Upsert(fmt.Sprintf("test-key-%d", i), []byte("test-value"))
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		counter := 0
		for pb.Next() {
			key := fmt.Sprintf("test-key-%d", counter%numKeys)
			switch counter % 4 {
			case 0:
				c.Upsert(key, []byte("test-value"))
			case 1, 2:
				c.Get(key)
			case 3:
				count := 0
				c.AscendRange(key, "test-key-\xff", func(string, []byte) bool {
					count++
					return count < 10
				})
			}
			counter++
		}
	})
}
