package engine

import (
	"sync"

	"github.com/ValentinKolb/cedar/lib/mempool"
)

// memtable is the in-memory write target of one table: an ordered container
// plus the owner its bytes are charged to. The mutex guards the
// container/owner pair so a flush can swap both atomically; writers hold it
// only for the insert itself, never while blocked on memory.
type memtable struct {
	name string

	mu        sync.RWMutex
	container Container
	owner     *mempool.Owner

	// flushing holds the previous container between the flush swap and the
	// sink completing, so reads do not lose sight of the data in between
	flushing Container

	// maxLSN is the highest commit log sequence number applied to the
	// current container; a flush marker covers everything up to it
	maxLSN uint64
}

func newMemtable(name string, factory ContainerFactory, tracker *mempool.Tracker) *memtable {
	return &memtable{
		name:      name,
		container: factory(),
		owner:     mempool.NewOwner(tracker),
	}
}

// get looks up key in the active container, falling back to a snapshot
// currently being flushed.
func (m *memtable) get(key string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if value, ok := m.container.Get(key); ok {
		return value, true
	}
	if m.flushing != nil {
		return m.flushing.Get(key)
	}
	return nil, false
}

// ascendRange iterates the active container (and, during a flush, the
// snapshot being drained) over [from, to).
func (m *memtable) ascendRange(from, to string, fn func(key string, value []byte) bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.flushing == nil {
		m.container.AscendRange(from, to, fn)
		return
	}

	// a flush is in flight: merge the two generations, newer writes win
	type kv struct {
		key   string
		value []byte
	}
	var newer, older []kv
	m.container.AscendRange(from, to, func(key string, value []byte) bool {
		newer = append(newer, kv{key, value})
		return true
	})
	m.flushing.AscendRange(from, to, func(key string, value []byte) bool {
		older = append(older, kv{key, value})
		return true
	})

	i, j := 0, 0
	for i < len(newer) || j < len(older) {
		switch {
		case j == len(older) || (i < len(newer) && newer[i].key < older[j].key):
			if !fn(newer[i].key, newer[i].value) {
				return
			}
			i++
		case i == len(newer) || older[j].key < newer[i].key:
			if !fn(older[j].key, older[j].value) {
				return
			}
			j++
		default: // same key, the newer generation shadows the older
			if !fn(newer[i].key, newer[i].value) {
				return
			}
			i++
			j++
		}
	}
}

// ownershipRatio reports the share of the pool the active owner holds.
func (m *memtable) ownershipRatio() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.owner.OwnershipRatio()
}
