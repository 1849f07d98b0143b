package gossip

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ryandielhenn/zephyrmesh/internal/telemetry"
)

// BroadcastConfig tunes the outbound side of a node.
type BroadcastConfig struct {
	// SendTimeout bounds one delivery attempt to one neighbor.
	SendTimeout time.Duration
	// RetryInitial and RetryMax bound the exponential backoff between
	// attempts to the same neighbor.
	RetryInitial time.Duration
	RetryMax     time.Duration
	// RetryMaxElapsed gives up on a neighbor after this long. Zero retries
	// until the node shuts down.
	RetryMaxElapsed time.Duration
	Logger          *zap.Logger
}

const (
	DefaultSendTimeout  = 500 * time.Millisecond
	DefaultRetryInitial = 20 * time.Millisecond
	DefaultRetryMax     = 2 * time.Second
)

func (c BroadcastConfig) withDefaults() BroadcastConfig {
	if c.SendTimeout <= 0 {
		c.SendTimeout = DefaultSendTimeout
	}
	if c.RetryInitial <= 0 {
		c.RetryInitial = DefaultRetryInitial
	}
	if c.RetryMax <= 0 {
		c.RetryMax = DefaultRetryMax
	}
	if c.RetryMax < c.RetryInitial {
		c.RetryMax = c.RetryInitial
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

// Broadcaster is the outbound task of a node. Each time the engine opens a
// round it sends that round's message to every active neighbor, concurrently
// and with independent retries, then reports the broadcast as finished.
type Broadcaster struct {
	engine *Engine
	sender Sender
	cfg    BroadcastConfig
	log    *zap.Logger
}

func NewBroadcaster(e *Engine, s Sender, cfg BroadcastConfig) *Broadcaster {
	cfg = cfg.withDefaults()
	return &Broadcaster{
		engine: e,
		sender: s,
		cfg:    cfg,
		log:    cfg.Logger.With(zap.Int("node", int(e.self))),
	}
}

// Run loops until the engine shuts down (returning nil), ctx is cancelled, or
// a neighbor turns out to be unreachable.
func (b *Broadcaster) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-b.engine.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		select {
		case <-ctx.Done():
			if b.engine.Stopped() {
				return nil
			}
			return ctx.Err()
		case <-b.engine.release:
		}

		round, batch, ok := b.engine.nextBroadcast()
		if !ok {
			continue
		}
		b.log.Debug("broadcasting", zap.Int("round", round), zap.Int("targets", len(batch)))
		if err := b.sendAll(ctx, batch); err != nil {
			if b.engine.Stopped() {
				return nil
			}
			return err
		}
		b.engine.broadcastFinished(round)
	}
}

func (b *Broadcaster) sendAll(ctx context.Context, batch []outbound) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, ob := range batch {
		g.Go(func() error { return b.sendOne(gctx, ob) })
	}
	return g.Wait()
}

func (b *Broadcaster) sendOne(ctx context.Context, ob outbound) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = b.cfg.RetryInitial
	bo.MaxInterval = b.cfg.RetryMax
	bo.MaxElapsedTime = b.cfg.RetryMaxElapsed

	attempt := func() error {
		actx, cancel := context.WithTimeout(ctx, b.cfg.SendTimeout)
		defer cancel()
		reply, err := b.sender.Send(actx, ob.to.Addr, ob.msg)
		switch {
		case err == nil:
		case errors.Is(err, ErrUnreachable):
			return backoff.Permanent(err)
		case ctx.Err() != nil:
			return backoff.Permanent(ctx.Err())
		default:
			return err
		}
		if reply.Status != StatusRespond || reply.Round != ob.msg.Round {
			b.log.Debug("unexpected reply", zap.Stringer("reply", reply), zap.Stringer("sent", ob.msg))
		}
		return nil
	}
	notify := func(err error, wait time.Duration) {
		telemetry.SendRetries.WithLabelValues(b.engine.label).Inc()
		b.log.Warn("send failed, retrying",
			zap.Int("to", int(ob.to.ID)),
			zap.String("addr", ob.to.Addr),
			zap.Int("round", ob.msg.Round),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
	}

	if err := backoff.RetryNotify(attempt, backoff.WithContext(bo, ctx), notify); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b.log.Error("giving up on neighbor", zap.Int("to", int(ob.to.ID)), zap.Error(err))
		return fmt.Errorf("send round %d to node %d (%s): %w", ob.msg.Round, ob.to.ID, ob.to.Addr, err)
	}
	return nil
}
