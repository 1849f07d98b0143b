package topology

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/ryandielhenn/zephyrmesh/pkg/gossip"
)

// ErrMalformed is wrapped by every topology validation or parse error.
var ErrMalformed = errors.New("topology: malformed")

// Provider supplies, once at startup, who this process is and whom it talks to.
type Provider interface {
	SelfID() gossip.NodeID
	ActiveNeighbors() []gossip.Member
}

// Graph is an address book plus adjacency lists. It is filled once and then
// only read, but guards itself so loaders can fill it from several goroutines.
type Graph struct {
	mu    sync.RWMutex
	hosts map[gossip.NodeID]string
	adj   map[gossip.NodeID][]gossip.NodeID
}

func NewGraph() *Graph {
	return &Graph{
		hosts: make(map[gossip.NodeID]string),
		adj:   make(map[gossip.NodeID][]gossip.NodeID),
	}
}

// AddHost registers id at addr. Re-adding an id replaces its address.
func (g *Graph) AddHost(id gossip.NodeID, addr string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.hosts[id] = addr
}

// SetNeighbors replaces the adjacency list of id. Duplicates and self loops
// are dropped.
func (g *Graph) SetNeighbors(id gossip.NodeID, neighbors []gossip.NodeID) {
	ns := make([]gossip.NodeID, 0, len(neighbors))
	for _, n := range neighbors {
		if n != id {
			ns = append(ns, n)
		}
	}
	slices.Sort(ns)
	ns = slices.Compact(ns)

	g.mu.Lock()
	defer g.mu.Unlock()
	g.adj[id] = ns
}

// Connect adds the undirected edge a-b.
func (g *Graph) Connect(a, b gossip.NodeID) {
	if a == b {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, e := range [][2]gossip.NodeID{{a, b}, {b, a}} {
		ns := g.adj[e[0]]
		if i, found := slices.BinarySearch(ns, e[1]); !found {
			g.adj[e[0]] = slices.Insert(ns, i, e[1])
		}
	}
}

func (g *Graph) Addr(id gossip.NodeID) (string, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	a, ok := g.hosts[id]
	return a, ok
}

// IDs returns every host id in ascending order.
func (g *Graph) IDs() []gossip.NodeID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]gossip.NodeID, 0, len(g.hosts))
	for id := range g.hosts {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.hosts)
}

// Adjacency copies the neighbor lists.
func (g *Graph) Adjacency() map[gossip.NodeID][]gossip.NodeID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make(map[gossip.NodeID][]gossip.NodeID, len(g.hosts))
	for id := range g.hosts {
		out[id] = slices.Clone(g.adj[id])
	}
	return out
}

// Neighbors resolves the neighbor list of id into members.
func (g *Graph) Neighbors(id gossip.NodeID) ([]gossip.Member, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if _, ok := g.hosts[id]; !ok {
		return nil, fmt.Errorf("%w: unknown node %d", ErrMalformed, id)
	}
	out := make([]gossip.Member, 0, len(g.adj[id]))
	for _, n := range g.adj[id] {
		addr, ok := g.hosts[n]
		if !ok {
			return nil, fmt.Errorf("%w: node %d lists unknown neighbor %d", ErrMalformed, id, n)
		}
		out = append(out, gossip.Member{ID: n, Addr: addr})
	}
	return out, nil
}

// Validate checks that every neighbor is a known host and that adjacency is
// symmetric, which the round protocol relies on: a node only waits for
// neighbors that also send to it.
func (g *Graph) Validate() error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for id, ns := range g.adj {
		if _, ok := g.hosts[id]; !ok {
			return fmt.Errorf("%w: adjacency for unknown node %d", ErrMalformed, id)
		}
		for _, n := range ns {
			if _, ok := g.hosts[n]; !ok {
				return fmt.Errorf("%w: node %d lists unknown neighbor %d", ErrMalformed, id, n)
			}
			if _, found := slices.BinarySearch(g.adj[n], id); !found {
				return fmt.Errorf("%w: edge %d-%d is not listed by %d", ErrMalformed, id, n, n)
			}
		}
	}
	return nil
}

// View is the Provider for one node of the graph.
type View struct {
	self      gossip.NodeID
	neighbors []gossip.Member
}

func (v View) SelfID() gossip.NodeID { return v.self }

func (v View) ActiveNeighbors() []gossip.Member { return slices.Clone(v.neighbors) }

// View resolves the Provider for self.
func (g *Graph) View(self gossip.NodeID) (View, error) {
	ns, err := g.Neighbors(self)
	if err != nil {
		return View{}, err
	}
	return View{self: self, neighbors: ns}, nil
}

// Distances is the reference breadth-first hop count from src.
func (g *Graph) Distances(src gossip.NodeID) map[gossip.NodeID]int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	dist := map[gossip.NodeID]int{src: 0}
	queue := []gossip.NodeID{src}
	for len(queue) > 0 {
		u := queue[0]
		queue = queue[1:]
		for _, v := range g.adj[u] {
			if _, ok := dist[v]; !ok {
				dist[v] = dist[u] + 1
				queue = append(queue, v)
			}
		}
	}
	return dist
}
