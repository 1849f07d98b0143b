package gossip

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ryandielhenn/zephyrmesh/internal/telemetry"
)

// Config describes one node before the protocol starts.
type Config struct {
	Self      NodeID
	Neighbors []Member
	Logger    *zap.Logger
	// OnShutdown, if set, runs exactly once while the engine stops. It is
	// called with the engine lock held and must not call back into the engine.
	OnShutdown func(Report)
}

// Engine owns all round state of one node: the current round, the distance
// table, the active neighbor set and the per-round bookkeeping. Every
// mutation happens under mu, so admitting a message and deciding whether its
// round is complete is a single atomic step.
type Engine struct {
	self  NodeID
	log   *zap.Logger
	label string
	table *Table

	mu               sync.Mutex
	round            int
	active           *MemberList
	received         map[NodeID]struct{}
	frontier         map[NodeID]struct{}
	buffer           []Message
	term             terminationDetector
	broadcastEnabled bool
	initialized      bool
	stopped          bool
	rounds           int
	started          time.Time
	roundStarted     time.Time
	report           Report
	onShutdown       func(Report)

	release chan struct{}
	done    chan struct{}
}

func New(cfg Config) *Engine {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	e := &Engine{
		self:       cfg.Self,
		log:        log.With(zap.Int("node", int(cfg.Self))),
		label:      telemetry.NodeLabel(int(cfg.Self)),
		table:      NewTable(cfg.Self),
		round:      1,
		active:     NewMemberList(cfg.Neighbors),
		received:   make(map[NodeID]struct{}),
		frontier:   make(map[NodeID]struct{}),
		onShutdown: cfg.OnShutdown,
		// The first broadcast is pending until Init releases it, so no
		// round can complete before the node has sent anything.
		broadcastEnabled: true,
		release:          make(chan struct{}, 1),
		done:             make(chan struct{}),
	}
	telemetry.CurrentRound.WithLabelValues(e.label).Set(1)
	telemetry.KnownHosts.WithLabelValues(e.label).Set(1)
	telemetry.ActiveNeighbors.WithLabelValues(e.label).Set(float64(e.active.Len()))
	telemetry.Terminated.WithLabelValues(e.label).Set(0)
	return e
}

// Init releases the Broadcaster for round 1. Calling it again has no effect.
func (e *Engine) Init() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.initialized || e.stopped {
		return
	}
	e.initialized = true
	e.started = time.Now()
	e.roundStarted = e.started
	e.log.Info("protocol started", zap.Ints("neighbors", toInts(e.active.IDs())))
	e.signal()
}

// Shutdown stops the engine and publishes the report. It is idempotent and
// also runs on its own once the protocol has terminated.
func (e *Engine) Shutdown() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.shutdownLocked()
}

// Done is closed once the engine has shut down.
func (e *Engine) Done() <-chan struct{} { return e.done }

func (e *Engine) shutdownLocked() {
	if e.stopped {
		return
	}
	e.stopped = true
	e.broadcastEnabled = false

	var elapsed time.Duration
	if !e.started.IsZero() {
		elapsed = time.Since(e.started)
	}
	e.report = Report{
		Node:    e.self,
		Rounds:  e.rounds,
		Elapsed: elapsed,
		Hops:    e.table.Hops(),
	}
	telemetry.BufferedMessages.WithLabelValues(e.label).Set(0)
	e.log.Info("protocol finished",
		zap.Int("rounds", e.rounds),
		zap.Int("known_hosts", e.table.Len()),
		zap.Duration("elapsed", elapsed),
	)
	close(e.done)
	if e.onShutdown != nil {
		e.onShutdown(e.report)
	}
}

// signal wakes the Broadcaster without blocking; one pending token is enough.
func (e *Engine) signal() {
	select {
	case e.release <- struct{}{}:
	default:
	}
}

func (e *Engine) Self() NodeID { return e.self }

// Table exposes the distance table for reading.
func (e *Engine) Table() *Table { return e.table }

func (e *Engine) Round() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.round
}

func (e *Engine) Terminated() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.term.terminated
}

func (e *Engine) Stopped() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stopped
}

func (e *Engine) ActiveNeighbors() []NodeID {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active.IDs()
}

// Buffered returns how many messages wait for a later round.
func (e *Engine) Buffered() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.buffer)
}

// Report returns the final report once the engine has stopped.
func (e *Engine) Report() (Report, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.report, e.stopped
}

func toInts(ids []NodeID) []int {
	out := make([]int, len(ids))
	for i, id := range ids {
		out[i] = int(id)
	}
	return out
}
