package engine

import (
	"sync"

	"github.com/google/btree"
)

// entryOverhead approximates the per-entry bookkeeping cost (tree node
// share, string header, slice header) charged on top of the raw bytes.
const entryOverhead = 48

// item is the element type stored in the btree.
type item struct {
	key   string
	value []byte
}

func itemLess(a, b item) bool {
	return a.key < b.key
}

// BTreeContainer is the default Container implementation, backed by a
// copy-on-write B-tree. Snapshot uses the tree's Clone, which shares all
// nodes with the original until either side writes (O(1) amortized).
//
// Thread-safety: all methods are safe for concurrent use.
type BTreeContainer struct {
	mu   sync.RWMutex
	tree *btree.BTreeG[item]
}

// NewBTreeContainer creates an empty container.
func NewBTreeContainer() Container {
	return &BTreeContainer{tree: btree.NewG(32, itemLess)}
}

func (c *BTreeContainer) Upsert(key string, value []byte) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev, replaced := c.tree.ReplaceOrInsert(item{key: key, value: value})
	return prev.value, replaced
}

func (c *BTreeContainer) Get(key string) ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	found, ok := c.tree.Get(item{key: key})
	if !ok {
		return nil, false
	}
	return found.value, true
}

func (c *BTreeContainer) Ascend(fn func(key string, value []byte) bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	c.tree.Ascend(func(it item) bool {
		return fn(it.key, it.value)
	})
}

func (c *BTreeContainer) AscendRange(from, to string, fn func(key string, value []byte) bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	c.tree.AscendRange(item{key: from}, item{key: to}, func(it item) bool {
		return fn(it.key, it.value)
	})
}

func (c *BTreeContainer) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tree.Len()
}

func (c *BTreeContainer) Snapshot() Container {
	c.mu.Lock()
	defer c.mu.Unlock()
	return &BTreeContainer{tree: c.tree.Clone()}
}

func (c *BTreeContainer) SizeOf(key string, value []byte) int64 {
	return int64(len(key)) + int64(len(value)) + entryOverhead
}
