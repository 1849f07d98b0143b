package render

import (
	"strings"
	"testing"
	"time"

	"github.com/pterm/pterm"

	"github.com/ryandielhenn/zephyrmesh/pkg/gossip"
)

func init() { pterm.DisableColor() }

var sample = gossip.Report{
	Node:    1,
	Rounds:  4,
	Elapsed: 3 * time.Millisecond,
	Hops:    [][]gossip.NodeID{{1}, {2, 5}, {3}, {4}},
}

func TestBoxListsEveryDistance(t *testing.T) {
	out := Box(sample)
	for _, want := range []string{"node1", "--- 1 Hops => [2, 5]", "--- 3 Hops => [4]", "4 rounds in 3ms"} {
		if !strings.Contains(out, want) {
			t.Fatalf("box missing %q:\n%s", want, out)
		}
	}
}

func TestTableMarksMismatches(t *testing.T) {
	other := sample
	other.Node = 2
	out, err := Table([]gossip.Report{sample, other}, map[gossip.NodeID]bool{1: true})
	if err != nil {
		t.Fatalf("Table: %v", err)
	}
	if !strings.Contains(out, "BFS") || !strings.Contains(out, "ok") || !strings.Contains(out, "MISMATCH") {
		t.Fatalf("table:\n%s", out)
	}

	plain, err := Table([]gossip.Report{sample}, nil)
	if err != nil {
		t.Fatalf("Table: %v", err)
	}
	if strings.Contains(plain, "BFS") {
		t.Fatalf("verification column shown without results:\n%s", plain)
	}
}
