package topology

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/ryandielhenn/zephyrmesh/pkg/gossip"
)

// Load reads a topology file. See Parse for the format.
func Load(path string) (*Graph, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open topology: %w", err)
	}
	defer f.Close()
	g, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return g, nil
}

// Parse reads the topology format:
//
//	# comments run to end of line, blank lines are skipped
//	4                 # number of nodes N
//	1 dc01 3332       # N lines: id host port
//	...
//	1 2               # N lines: id followed by its neighbor ids
//	...
func Parse(r io.Reader) (*Graph, error) {
	sc := bufio.NewScanner(r)
	lineNo := 0
	next := func() ([]string, bool) {
		for sc.Scan() {
			lineNo++
			line, _, _ := strings.Cut(sc.Text(), "#")
			if fields := strings.Fields(line); len(fields) > 0 {
				return fields, true
			}
		}
		return nil, false
	}
	bad := func(format string, args ...any) error {
		return fmt.Errorf("%w: line %d: %s", ErrMalformed, lineNo, fmt.Sprintf(format, args...))
	}

	fields, ok := next()
	if !ok {
		return nil, fmt.Errorf("%w: empty file", ErrMalformed)
	}
	n, err := strconv.Atoi(fields[0])
	if err != nil || len(fields) != 1 || n <= 0 {
		return nil, bad("expected a positive node count, got %q", strings.Join(fields, " "))
	}

	g := NewGraph()
	for i := 0; i < n; i++ {
		fields, ok := next()
		if !ok {
			return nil, fmt.Errorf("%w: expected %d host lines, found %d", ErrMalformed, n, i)
		}
		if len(fields) != 3 {
			return nil, bad("expected \"id host port\", got %q", strings.Join(fields, " "))
		}
		id, err := strconv.Atoi(fields[0])
		if err != nil {
			return nil, bad("node id %q: %v", fields[0], err)
		}
		port, err := strconv.Atoi(fields[2])
		if err != nil || port <= 0 || port > 65535 {
			return nil, bad("port %q out of range", fields[2])
		}
		if _, dup := g.Addr(gossip.NodeID(id)); dup {
			return nil, bad("node %d listed twice", id)
		}
		g.AddHost(gossip.NodeID(id), fields[1]+":"+fields[2])
	}

	for i := 0; i < n; i++ {
		fields, ok := next()
		if !ok {
			return nil, fmt.Errorf("%w: expected %d neighbor lines, found %d", ErrMalformed, n, i)
		}
		ids := make([]gossip.NodeID, 0, len(fields))
		for _, f := range fields {
			v, err := strconv.Atoi(f)
			if err != nil {
				return nil, bad("node id %q: %v", f, err)
			}
			ids = append(ids, gossip.NodeID(v))
		}
		if _, ok := g.Addr(ids[0]); !ok {
			return nil, bad("neighbors listed for unknown node %d", ids[0])
		}
		g.SetNeighbors(ids[0], ids[1:])
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read topology: %w", err)
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}
