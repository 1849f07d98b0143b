package gossip

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"slices"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

func addrOf(id NodeID) string { return fmt.Sprintf("node%d:7000", id) }

func idOf(addr string) (NodeID, error) {
	host, _, ok := strings.Cut(addr, ":")
	if !ok || !strings.HasPrefix(host, "node") {
		return 0, fmt.Errorf("%w: %s", ErrUnreachable, addr)
	}
	n, err := strconv.Atoi(strings.TrimPrefix(host, "node"))
	if err != nil {
		return 0, fmt.Errorf("%w: %s", ErrUnreachable, addr)
	}
	return NodeID(n), nil
}

var errTimeout = errors.New("simulated timeout")

// loopback delivers messages by calling the destination engine directly. It
// can delay deliveries, lose the first attempt of every send, and deliver
// every message twice.
type loopback struct {
	mu       sync.Mutex
	engines  map[NodeID]*Engine
	maxDelay time.Duration
	rng      *rand.Rand
	dropOnce map[string]bool
	drop     bool
	dup      bool
}

func (l *loopback) delay() time.Duration {
	if l.maxDelay <= 0 {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return time.Duration(l.rng.Int63n(int64(l.maxDelay)))
}

func (l *loopback) Send(ctx context.Context, addr string, msg Message) (Message, error) {
	id, err := idOf(addr)
	if err != nil {
		return Message{}, err
	}
	l.mu.Lock()
	dst, ok := l.engines[id]
	key := fmt.Sprintf("%d/%d/%d", msg.Src, msg.Dst, msg.Round)
	lose := l.drop && !l.dropOnce[key]
	if lose {
		l.dropOnce[key] = true
	}
	l.mu.Unlock()
	if !ok {
		return Message{}, fmt.Errorf("%w: %s", ErrUnreachable, addr)
	}

	select {
	case <-time.After(l.delay()):
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
	if lose {
		// Delivered, but the reply never makes it back.
		dst.OnMessage(msg)
		return Message{}, errTimeout
	}
	reply, ok := dst.OnMessage(msg)
	if l.dup {
		dst.OnMessage(msg)
	}
	if !ok {
		return Message{}, errTimeout
	}
	return reply, nil
}

type cluster struct {
	engines map[NodeID]*Engine
	net     *loopback
}

func newCluster(t *testing.T, adj map[NodeID][]NodeID, tweak func(*loopback)) *cluster {
	t.Helper()
	lb := &loopback{
		engines:  make(map[NodeID]*Engine),
		rng:      rand.New(rand.NewSource(1)),
		dropOnce: make(map[string]bool),
	}
	if tweak != nil {
		tweak(lb)
	}
	c := &cluster{engines: lb.engines, net: lb}
	for id, ns := range adj {
		members := make([]Member, 0, len(ns))
		for _, n := range ns {
			members = append(members, Member{ID: n, Addr: addrOf(n)})
		}
		lb.engines[id] = New(Config{Self: id, Neighbors: members, Logger: zaptest.NewLogger(t)})
	}
	return c
}

func (c *cluster) run(t *testing.T) map[NodeID]Report {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	errs := make(chan error, len(c.engines))
	var wg sync.WaitGroup
	for _, e := range c.engines {
		b := NewBroadcaster(e, c.net, BroadcastConfig{
			SendTimeout:  time.Second,
			RetryInitial: time.Millisecond,
			RetryMax:     5 * time.Millisecond,
			Logger:       zaptest.NewLogger(t),
		})
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := b.Run(ctx); err != nil {
				errs <- fmt.Errorf("node %d: %w", e.Self(), err)
			}
		}()
	}
	for _, e := range c.engines {
		e.Init()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("broadcaster failed: %v", err)
	}

	out := make(map[NodeID]Report, len(c.engines))
	for id, e := range c.engines {
		r, ok := e.Report()
		if !ok {
			t.Fatalf("node %d did not stop", id)
		}
		out[id] = r
	}
	return out
}

// bfs is the reference hop count from src.
func bfs(adj map[NodeID][]NodeID, src NodeID) map[NodeID]int {
	dist := map[NodeID]int{src: 0}
	queue := []NodeID{src}
	for len(queue) > 0 {
		u := queue[0]
		queue = queue[1:]
		for _, v := range adj[u] {
			if _, ok := dist[v]; !ok {
				dist[v] = dist[u] + 1
				queue = append(queue, v)
			}
		}
	}
	return dist
}

func checkDistances(t *testing.T, adj map[NodeID][]NodeID, reports map[NodeID]Report) {
	t.Helper()
	for id, r := range reports {
		want := bfs(adj, id)
		got := r.Distances()
		if len(got) != len(want) {
			t.Fatalf("node %d knows %d hosts, want %d (%v)", id, len(got), len(want), got)
		}
		for v, d := range want {
			if got[v] != d {
				t.Fatalf("node %d: distance to %d = %d, want %d", id, v, got[v], d)
			}
		}
	}
}

func lineGraph() map[NodeID][]NodeID {
	return map[NodeID][]NodeID{1: {2}, 2: {1, 3}, 3: {2, 4}, 4: {3}}
}

func TestLineGraph(t *testing.T) {
	adj := lineGraph()
	reports := newCluster(t, adj, nil).run(t)
	checkDistances(t, adj, reports)

	// Three rounds of new knowledge at the ends plus one to confirm quiescence.
	for _, id := range []NodeID{1, 4} {
		if reports[id].Rounds != 4 {
			t.Fatalf("node %d finished after %d rounds, want 4", id, reports[id].Rounds)
		}
	}
	if got := reports[1].Hops; !slices.Equal(got[3], []NodeID{4}) {
		t.Fatalf("node 1 hops = %v", got)
	}
}

func TestLineGraphWithRetransmissions(t *testing.T) {
	adj := lineGraph()
	reports := newCluster(t, adj, func(l *loopback) {
		l.drop = true
		l.dup = true
	}).run(t)
	checkDistances(t, adj, reports)
}

func TestRandomGraphsMatchBFS(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for trial := range 6 {
		n := 5 + rng.Intn(8)
		adj := randomConnected(rng, n, n/2)
		t.Run(fmt.Sprintf("n%d_trial%d", n, trial), func(t *testing.T) {
			reports := newCluster(t, adj, func(l *loopback) {
				l.maxDelay = 3 * time.Millisecond
				l.rng = rand.New(rand.NewSource(int64(trial)))
			}).run(t)
			checkDistances(t, adj, reports)
		})
	}
}

func TestDisconnectedComponents(t *testing.T) {
	adj := map[NodeID][]NodeID{
		1: {2}, 2: {1},
		3: {4, 5}, 4: {3, 5}, 5: {3, 4},
		6: {},
	}
	reports := newCluster(t, adj, nil).run(t)
	checkDistances(t, adj, reports)
}

func TestUnreachableNeighborIsFatal(t *testing.T) {
	e := New(Config{
		Self:      1,
		Neighbors: []Member{{ID: 2, Addr: "nowhere"}},
		Logger:    zaptest.NewLogger(t),
	})
	lb := &loopback{engines: map[NodeID]*Engine{1: e}, dropOnce: map[string]bool{}}
	b := NewBroadcaster(e, lb, BroadcastConfig{Logger: zaptest.NewLogger(t)})
	e.Init()

	err := b.Run(context.Background())
	if !errors.Is(err, ErrUnreachable) {
		t.Fatalf("Run = %v, want ErrUnreachable", err)
	}
}

func TestBroadcasterStopsOnCancel(t *testing.T) {
	e := newTestEngine(t, 1, 2)
	lb := &loopback{engines: map[NodeID]*Engine{1: e}, dropOnce: map[string]bool{}}
	lb.engines[2] = newTestEngine(t, 2, 1)
	b := NewBroadcaster(e, lb, BroadcastConfig{Logger: zaptest.NewLogger(t)})

	ctx, cancel := context.WithCancel(context.Background())
	res := make(chan error, 1)
	go func() { res <- b.Run(ctx) }()
	e.Init()
	cancel()

	select {
	case err := <-res:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Run did not return after cancel")
	}
}

// randomConnected builds a random spanning tree over 1..n plus extra edges.
func randomConnected(rng *rand.Rand, n, extra int) map[NodeID][]NodeID {
	edges := map[[2]NodeID]bool{}
	add := func(a, b NodeID) {
		if a == b {
			return
		}
		if a > b {
			a, b = b, a
		}
		edges[[2]NodeID{a, b}] = true
	}
	for i := 2; i <= n; i++ {
		add(NodeID(i), NodeID(1+rng.Intn(i-1)))
	}
	for range extra {
		add(NodeID(1+rng.Intn(n)), NodeID(1+rng.Intn(n)))
	}
	adj := make(map[NodeID][]NodeID, n)
	for i := 1; i <= n; i++ {
		adj[NodeID(i)] = nil
	}
	for e := range edges {
		adj[e[0]] = append(adj[e[0]], e[1])
		adj[e[1]] = append(adj[e[1]], e[0])
	}
	return adj
}
