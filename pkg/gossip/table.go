package gossip

import (
	"slices"
	"sync"
)

// Table maps a discovered node id to the round in which it was first learned.
// Entries are append-only: once an id has a distance it keeps it. The owner
// id is seeded at distance 0.
type Table struct {
	mu   sync.RWMutex
	data map[NodeID]int
	max  int
}

func NewTable(self NodeID) *Table {
	return &Table{data: map[NodeID]int{self: 0}}
}

// Set records d for id unless id is already known. It reports whether the
// entry was added.
func (t *Table) Set(id NodeID, d int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.data[id]; ok {
		return false
	}
	t.data[id] = d
	if d > t.max {
		t.max = d
	}
	return true
}

func (t *Table) Get(id NodeID) (int, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	d, ok := t.data[id]
	return d, ok
}

func (t *Table) Has(id NodeID) bool {
	_, ok := t.Get(id)
	return ok
}

func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.data)
}

// Max returns the largest recorded distance.
func (t *Table) Max() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.max
}

// Keys returns the known ids in ascending order.
func (t *Table) Keys() []NodeID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]NodeID, 0, len(t.data))
	for id := range t.data {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// Snapshot copies the table.
func (t *Table) Snapshot() map[NodeID]int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[NodeID]int, len(t.data))
	for id, d := range t.data {
		out[id] = d
	}
	return out
}

// Missing returns the ids of set that are not in the table, ascending.
func (t *Table) Missing(set map[NodeID]struct{}) []NodeID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []NodeID
	for id := range set {
		if _, ok := t.data[id]; !ok {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return out
}

// Hops groups ids by distance: Hops()[d] holds the sorted ids at distance d,
// for d in 0..Max().
func (t *Table) Hops() [][]NodeID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([][]NodeID, t.max+1)
	for id, d := range t.data {
		out[d] = append(out[d], id)
	}
	for _, ids := range out {
		slices.Sort(ids)
	}
	return out
}
