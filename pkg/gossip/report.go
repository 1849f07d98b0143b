package gossip

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// Report is the result of a finished run on one node.
type Report struct {
	Node    NodeID        `json:"node"`
	Rounds  int           `json:"rounds"`
	Elapsed time.Duration `json:"elapsed_ns"`
	// Hops[d] holds the ids at distance d in ascending order; Hops[0] is the
	// node itself.
	Hops [][]NodeID `json:"hops"`
}

// Distances flattens the report back into id -> hop count.
func (r Report) Distances() map[NodeID]int {
	out := make(map[NodeID]int)
	for d, ids := range r.Hops {
		for _, id := range ids {
			out[id] = d
		}
	}
	return out
}

// MaxHops is the eccentricity of the node within its component.
func (r Report) MaxHops() int {
	if len(r.Hops) == 0 {
		return 0
	}
	return len(r.Hops) - 1
}

// Format writes the per-distance listing, one line per hop count 1..MaxHops.
func (r Report) Format(w io.Writer) error {
	var sb strings.Builder
	fmt.Fprintf(&sb, "***** Output for node%d *****\n", r.Node)
	for d := 1; d < len(r.Hops); d++ {
		sb.WriteString(r.HopLine(d))
		sb.WriteByte('\n')
	}
	fmt.Fprintf(&sb, "***** %d rounds in %s *****\n", r.Rounds, r.Elapsed.Round(time.Microsecond))
	_, err := io.WriteString(w, sb.String())
	return err
}

// HopLine renders the ids at distance d as "--- d Hops => [a, b, c]".
func (r Report) HopLine(d int) string {
	var ids []NodeID
	if d >= 0 && d < len(r.Hops) {
		ids = r.Hops[d]
	}
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.Itoa(int(id))
	}
	return fmt.Sprintf("--- %d Hops => [%s]", d, strings.Join(parts, ", "))
}

func (r Report) String() string {
	var sb strings.Builder
	_ = r.Format(&sb)
	return sb.String()
}
