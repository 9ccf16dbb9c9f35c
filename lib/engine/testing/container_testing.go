package testing

import (
	"bytes"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/ValentinKolb/cedar/lib/engine"
)

// RunContainerTests runs a comprehensive test suite for a Container
// implementation.
func RunContainerTests(t *testing.T, name string, factory engine.ContainerFactory) {
	t.Run(name, func(t *testing.T) {
		t.Run("Upsert&Get", func(t *testing.T) {
			testUpsertGet(t, factory())
		})

		t.Run("Ordering", func(t *testing.T) {
			testOrdering(t, factory())
		})

		t.Run("AscendRange", func(t *testing.T) {
			testAscendRange(t, factory())
		})

		t.Run("Snapshot", func(t *testing.T) {
			testSnapshot(t, factory())
		})

		t.Run("SizeOf", func(t *testing.T) {
			testSizeOf(t, factory())
		})

		t.Run("EdgeCases", func(t *testing.T) {
			testEdgeCases(t, factory())
		})

		t.Run("ConcurrentReaders", func(t *testing.T) {
			testConcurrentReaders(t, factory())
		})
	})
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testUpsertGet(t *testing.T, c engine.Container) {
	testKey := "test-key"
	testValue1 := []byte("test-value1")
	testValue2 := []byte("test-value2")

	if _, replaced := c.Upsert(testKey, testValue1); replaced {
		t.Errorf("First Upsert of %s must not report a replacement", testKey)
	}

	result, exists := c.Get(testKey)
	if !exists {
		t.Errorf("Expected key %s to exist after Upsert", testKey)
	}
	if !bytes.Equal(result, testValue1) {
		t.Errorf("Expected value %s, got %s", testValue1, result)
	}

	prev, replaced := c.Upsert(testKey, testValue2)
	if !replaced {
		t.Errorf("Second Upsert of %s must report a replacement", testKey)
	}
	if !bytes.Equal(prev, testValue1) {
		t.Errorf("Expected previous value %s, got %s", testValue1, prev)
	}

	result, exists = c.Get(testKey)
	if !exists || !bytes.Equal(result, testValue2) {
		t.Errorf("Expected updated value %s, got %s (exists=%v)", testValue2, result, exists)
	}

	if _, exists := c.Get("nonexistent-key"); exists {
		t.Errorf("Expected nonexistent key to return exists=false")
	}

	if c.Len() != 1 {
		t.Errorf("Expected Len()=1, got %d", c.Len())
	}
}

func testOrdering(t *testing.T, c engine.Container) {
	keys := []string{"melon", "apple", "zucchini", "banana", "kiwi"}
	for _, k := range keys {
		c.Upsert(k, []byte(k))
	}

	var got []string
	c.Ascend(func(key string, _ []byte) bool {
		got = append(got, key)
		return true
	})

	want := append([]string(nil), keys...)
	sort.Strings(want)
	if len(got) != len(want) {
		t.Fatalf("Ascend visited %d keys, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Ascend order: got %v, want %v", got, want)
			break
		}
	}

	// early exit
	count := 0
	c.Ascend(func(string, []byte) bool {
		count++
		return count < 2
	})
	if count != 2 {
		t.Errorf("Ascend did not stop when fn returned false: visited %d", count)
	}
}

func testAscendRange(t *testing.T, c engine.Container) {
	for i := 0; i < 10; i++ {
		key := fmt.Sprintf("key-%d", i)
		c.Upsert(key, []byte(key))
	}

	var got []string
	c.AscendRange("key-3", "key-7", func(key string, _ []byte) bool {
		got = append(got, key)
		return true
	})

	// from is inclusive, to is exclusive
	want := []string{"key-3", "key-4", "key-5", "key-6"}
	if len(got) != len(want) {
		t.Fatalf("AscendRange returned %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("AscendRange returned %v, want %v", got, want)
		}
	}

	got = nil
	c.AscendRange("x", "z", func(key string, _ []byte) bool {
		got = append(got, key)
		return true
	})
	if len(got) != 0 {
		t.Errorf("AscendRange over an empty window returned %v", got)
	}
}

func testSnapshot(t *testing.T, c engine.Container) {
	c.Upsert("a", []byte("1"))
	c.Upsert("b", []byte("2"))

	snap := c.Snapshot()

	// mutations after the snapshot must not be visible in it
	c.Upsert("c", []byte("3"))
	c.Upsert("a", []byte("changed"))

	if snap.Len() != 2 {
		t.Errorf("Snapshot Len()=%d, want 2", snap.Len())
	}
	if v, ok := snap.Get("a"); !ok || !bytes.Equal(v, []byte("1")) {
		t.Errorf("Snapshot saw a later mutation: Get(a) = %q, %v", v, ok)
	}
	if _, ok := snap.Get("c"); ok {
		t.Errorf("Snapshot saw a key inserted after it was taken")
	}

	// the live container keeps its own state
	if v, ok := c.Get("a"); !ok || !bytes.Equal(v, []byte("changed")) {
		t.Errorf("Live container lost a mutation: Get(a) = %q, %v", v, ok)
	}
}

func testSizeOf(t *testing.T, c engine.Container) {
	small := c.SizeOf("k", []byte("v"))
	large := c.SizeOf("k", make([]byte, 4096))

	if small <= 0 {
		t.Errorf("SizeOf must be positive, got %d", small)
	}
	if large < small+4095 {
		t.Errorf("SizeOf must grow with the value: small=%d large=%d", small, large)
	}
	if c.SizeOf("k", []byte("v")) != small {
		t.Errorf("SizeOf must be deterministic")
	}
}

func testEdgeCases(t *testing.T, c engine.Container) {
	// empty value
	c.Upsert("empty", []byte{})
	if v, ok := c.Get("empty"); !ok || len(v) != 0 {
		t.Errorf("Get(empty) = %q, %v; want empty value", v, ok)
	}

	// binary keys and values
	binKey := string([]byte{0x00, 0xff, 0x10})
	binVal := []byte{0xde, 0xad, 0xbe, 0xef}
	c.Upsert(binKey, binVal)
	if v, ok := c.Get(binKey); !ok || !bytes.Equal(v, binVal) {
		t.Errorf("binary key round trip failed: %q, %v", v, ok)
	}

	// iteration over an empty container
	empty := 0
	cEmptyCheck := func(string, []byte) bool { empty++; return true }
	c.AscendRange("zzz", "zzzz", cEmptyCheck)
	if empty != 0 {
		t.Errorf("AscendRange on empty window visited %d entries", empty)
	}
}

func testConcurrentReaders(t *testing.T, c engine.Container) {
	numKeys := 100
	for i := 0; i < numKeys; i++ {
		c.Upsert(fmt.Sprintf("key-%03d", i), []byte("value"))
	}

	var wg sync.WaitGroup
	for r := 0; r < 8; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < numKeys; i++ {
				if _, ok := c.Get(fmt.Sprintf("key-%03d", i)); !ok {
					t.Errorf("key-%03d missing during concurrent reads", i)
					return
				}
			}
			count := 0
			c.AscendRange("key-", "key-\xff", func(string, []byte) bool {
				count++
				return true
			})
			if count != numKeys {
				t.Errorf("AscendRange visited %d keys, want %d", count, numKeys)
			}
		}()
	}

	// concurrent writer on a disjoint key range
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < numKeys; i++ {
			c.Upsert(fmt.Sprintf("other-%03d", i), []byte("value"))
		}
	}()

	wg.Wait()
}
