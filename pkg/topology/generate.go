package topology

import (
	"fmt"

	"github.com/ryandielhenn/zephyrmesh/pkg/gossip"
)

// AddrFunc names the address of a generated node.
type AddrFunc func(id gossip.NodeID) string

// MemAddr is the address scheme used with the in-memory transport.
func MemAddr(id gossip.NodeID) string { return fmt.Sprintf("node%d", id) }

func withHosts(n int, addr AddrFunc) *Graph {
	if addr == nil {
		addr = MemAddr
	}
	g := NewGraph()
	for i := 1; i <= n; i++ {
		g.AddHost(gossip.NodeID(i), addr(gossip.NodeID(i)))
	}
	return g
}

// Line is 1-2-...-n.
func Line(n int, addr AddrFunc) *Graph {
	g := withHosts(n, addr)
	for i := 1; i < n; i++ {
		g.Connect(gossip.NodeID(i), gossip.NodeID(i+1))
	}
	return g
}

// Ring is a line with n joined back to 1.
func Ring(n int, addr AddrFunc) *Graph {
	g := Line(n, addr)
	if n > 2 {
		g.Connect(gossip.NodeID(n), 1)
	}
	return g
}

// Star connects 1 to every other node.
func Star(n int, addr AddrFunc) *Graph {
	g := withHosts(n, addr)
	for i := 2; i <= n; i++ {
		g.Connect(1, gossip.NodeID(i))
	}
	return g
}

// Grid is a w x h lattice numbered row by row from 1.
func Grid(w, h int, addr AddrFunc) *Graph {
	g := withHosts(w*h, addr)
	id := func(x, y int) gossip.NodeID { return gossip.NodeID(y*w + x + 1) }
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if x+1 < w {
				g.Connect(id(x, y), id(x+1, y))
			}
			if y+1 < h {
				g.Connect(id(x, y), id(x, y+1))
			}
		}
	}
	return g
}
