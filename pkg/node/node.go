// Package node runs one discovery participant: the round engine, its
// broadcaster and a transport, plus the admin HTTP endpoints.
package node

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ryandielhenn/zephyrmesh/pkg/gossip"
	"github.com/ryandielhenn/zephyrmesh/pkg/topology"
	"github.com/ryandielhenn/zephyrmesh/pkg/transport"
)

// DefaultLinger is how long a stopped node keeps acknowledging late
// retransmissions before its transport closes.
const DefaultLinger = time.Second

type Config struct {
	Provider  topology.Provider
	Transport transport.Transport
	Broadcast gossip.BroadcastConfig
	// Linger keeps the transport open after shutdown so neighbors whose
	// replies were lost can still finish their last round. Negative disables.
	Linger     time.Duration
	Logger     *zap.Logger
	OnShutdown func(gossip.Report)
}

type Node struct {
	engine *gossip.Engine
	bcast  *gossip.Broadcaster
	tr     transport.Transport
	linger time.Duration
	log    *zap.Logger
}

func New(cfg Config) *Node {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Broadcast.Logger == nil {
		cfg.Broadcast.Logger = log
	}
	linger := cfg.Linger
	if linger == 0 {
		linger = DefaultLinger
	}
	e := gossip.New(gossip.Config{
		Self:       cfg.Provider.SelfID(),
		Neighbors:  cfg.Provider.ActiveNeighbors(),
		Logger:     log,
		OnShutdown: cfg.OnShutdown,
	})
	return &Node{
		engine: e,
		bcast:  gossip.NewBroadcaster(e, cfg.Transport, cfg.Broadcast),
		tr:     cfg.Transport,
		linger: linger,
		log:    log.With(zap.Int("node", int(e.Self()))),
	}
}

func (n *Node) Engine() *gossip.Engine { return n.engine }

func (n *Node) Addr() string { return n.tr.Addr() }

// Run serves inbound messages, starts the protocol and blocks until the
// engine stops or ctx is cancelled. The transport is closed before Run
// returns, and the report holds whatever the node learned by then.
func (n *Node) Run(ctx context.Context) (gossip.Report, error) {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := n.tr.Listen(gctx, n.engine); err != nil {
			return fmt.Errorf("listen on %s: %w", n.tr.Addr(), err)
		}
		return nil
	})
	g.Go(func() error { return n.bcast.Run(gctx) })
	g.Go(func() error {
		select {
		case <-n.engine.Done():
			n.lingerFor(gctx)
		case <-gctx.Done():
		}
		return n.tr.Close()
	})

	n.log.Info("node started", zap.String("addr", n.tr.Addr()))
	n.engine.Init()

	err := g.Wait()
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		err = ctx.Err()
	}
	// Unblock anything still waiting on the engine.
	n.engine.Shutdown()
	err = multierr.Append(err, n.tr.Close())

	report, _ := n.engine.Report()
	if err != nil {
		n.log.Error("node stopped with error", zap.Error(err))
		return report, err
	}
	return report, nil
}

func (n *Node) lingerFor(ctx context.Context) {
	if n.linger <= 0 {
		return
	}
	t := time.NewTimer(n.linger)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
