package main

import (
	"cmp"
	"context"
	"flag"
	"fmt"
	"maps"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/pterm/pterm"
	"go.uber.org/zap"

	"github.com/ryandielhenn/zephyrmesh/internal/logging"
	"github.com/ryandielhenn/zephyrmesh/internal/render"
	"github.com/ryandielhenn/zephyrmesh/pkg/gossip"
	"github.com/ryandielhenn/zephyrmesh/pkg/node"
	"github.com/ryandielhenn/zephyrmesh/pkg/topology"
	"github.com/ryandielhenn/zephyrmesh/pkg/transport"
)

const kindMem = "mem"

func main() {
	file := flag.String("topology", "", "topology file; overrides -graph")
	shape := flag.String("graph", "line", "generated graph: line, ring, star or grid")
	n := flag.Int("n", 16, "nodes in a generated graph")
	width := flag.Int("width", 4, "columns of a generated grid")
	kind := flag.String("transport", kindMem, "mem, udp, tcp or http")
	timeout := flag.Duration("timeout", time.Minute, "give up after this long")
	verbose := flag.Bool("v", false, "print every node's report")
	level := flag.String("log-level", "warn", "log level")
	flag.Parse()

	log, err := logging.New(*level, true)
	if err != nil {
		pterm.Error.Println(err)
		os.Exit(2)
	}
	defer log.Sync()

	g, err := buildGraph(*file, *shape, *n, *width)
	if err != nil {
		pterm.Error.Println(err)
		os.Exit(2)
	}
	trs, g, err := bindAll(g, *kind, log)
	if err != nil {
		pterm.Error.Println(err)
		os.Exit(2)
	}

	pterm.DefaultHeader.WithFullWidth().Printfln("zephyrmesh simulation: %d nodes over %s", g.Len(), *kind)
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	start := time.Now()
	reports, errs := runAll(ctx, g, trs, log)
	dur := time.Since(start)

	verified := make(map[gossip.NodeID]bool, len(reports))
	ok := len(errs) == 0
	for _, r := range reports {
		verified[r.Node] = maps.Equal(r.Distances(), g.Distances(r.Node))
		ok = ok && verified[r.Node]
		if *verbose {
			fmt.Println(render.Box(r))
		}
	}
	table, err := render.Table(reports, verified)
	if err != nil {
		pterm.Error.Println(err)
	} else {
		fmt.Println(table)
	}
	for _, err := range errs {
		pterm.Error.Println(err)
	}

	if !ok {
		pterm.Error.Printfln("%d/%d nodes match BFS after %s", countTrue(verified), g.Len(), dur)
		os.Exit(1)
	}
	pterm.Success.Printfln("Completed %d nodes in %s, all distances match BFS", g.Len(), dur)
}

func buildGraph(file, shape string, n, width int) (*topology.Graph, error) {
	if file != "" {
		return topology.Load(file)
	}
	if n < 1 {
		return nil, fmt.Errorf("need at least one node, got %d", n)
	}
	switch shape {
	case "line":
		return topology.Line(n, nil), nil
	case "ring":
		return topology.Ring(n, nil), nil
	case "star":
		return topology.Star(n, nil), nil
	case "grid":
		if width < 1 || n%width != 0 {
			return nil, fmt.Errorf("grid of %d nodes cannot have %d columns", n, width)
		}
		return topology.Grid(width, n/width, nil), nil
	default:
		return nil, fmt.Errorf("unknown graph %q", shape)
	}
}

// bindAll creates one transport per node. For socket transports every node
// is rebound to a loopback port and the graph is rewritten with those
// addresses.
func bindAll(g *topology.Graph, kind string, log *zap.Logger) (map[gossip.NodeID]transport.Transport, *topology.Graph, error) {
	trs := make(map[gossip.NodeID]transport.Transport, g.Len())
	if kind == kindMem {
		net := transport.NewMemNetwork()
		for _, id := range g.IDs() {
			addr, _ := g.Addr(id)
			trs[id] = net.Endpoint(addr)
		}
		return trs, g, nil
	}

	rebound := topology.NewGraph()
	for _, id := range g.IDs() {
		tr, err := transport.New(kind, "127.0.0.1:0", transport.WithLogger(log))
		if err != nil {
			for _, t := range trs {
				t.Close()
			}
			return nil, nil, fmt.Errorf("bind node %d: %w", id, err)
		}
		trs[id] = tr
		rebound.AddHost(id, tr.Addr())
	}
	for id, ns := range g.Adjacency() {
		rebound.SetNeighbors(id, ns)
	}
	return trs, rebound, nil
}

func runAll(ctx context.Context, g *topology.Graph, trs map[gossip.NodeID]transport.Transport, log *zap.Logger) ([]gossip.Report, []error) {
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		reports []gossip.Report
		errs    []error
	)
	for _, id := range g.IDs() {
		view, err := g.View(id)
		if err != nil {
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
			continue
		}
		nd := node.New(node.Config{Provider: view, Transport: trs[id], Logger: log})
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := nd.Run(ctx)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, fmt.Errorf("node %d: %w", id, err))
			}
			reports = append(reports, r)
		}()
	}
	wg.Wait()
	slices.SortFunc(reports, func(a, b gossip.Report) int { return cmp.Compare(a.Node, b.Node) })
	return reports, errs
}

func countTrue(m map[gossip.NodeID]bool) int {
	c := 0
	for _, v := range m {
		if v {
			c++
		}
	}
	return c
}
