package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/ryandielhenn/zephyrmesh/internal/telemetry"
	"github.com/ryandielhenn/zephyrmesh/pkg/gossip"
)

// Transport is the full capability a node needs: sending to neighbors and
// serving inbound messages.
type Transport interface {
	gossip.Sender
	// Listen serves inbound messages until ctx is done or Close is called.
	// It returns nil on an orderly stop.
	Listen(ctx context.Context, h gossip.Handler) error
	// Addr is the address neighbors should send to.
	Addr() string
	// Close stops listening after in-flight replies have been written.
	Close() error
}

const (
	KindUDP  = "udp"
	KindTCP  = "tcp"
	KindHTTP = "http"
)

const (
	DefaultMaxPacket = 64 * 1024
	DefaultIOTimeout = 5 * time.Second
)

type options struct {
	log       *zap.Logger
	maxPacket int
	ioTimeout time.Duration
}

type Option func(*options)

func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

// WithMaxPacket bounds the size of one UDP datagram.
func WithMaxPacket(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxPacket = n
		}
	}
}

// WithIOTimeout bounds how long a server side exchange may take.
func WithIOTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.ioTimeout = d
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{
		log:       zap.NewNop(),
		maxPacket: DefaultMaxPacket,
		ioTimeout: DefaultIOTimeout,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// New binds a transport of the given kind on addr.
func New(kind, addr string, opts ...Option) (Transport, error) {
	switch kind {
	case KindUDP:
		return NewUDP(addr, opts...)
	case KindTCP:
		return NewTCP(addr, opts...)
	case KindHTTP:
		return NewHTTP(addr, opts...)
	default:
		return nil, fmt.Errorf("unknown transport %q", kind)
	}
}

// classify marks address errors as fatal; everything else (timeouts, refused
// connections, resets) stays retryable.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var dnsErr *net.DNSError
	var addrErr *net.AddrError
	if (errors.As(err, &dnsErr) && dnsErr.IsNotFound) || errors.As(err, &addrErr) {
		return fmt.Errorf("%w: %v", gossip.ErrUnreachable, err)
	}
	return err
}

// decodeInbound decodes a request, counting and logging payloads it drops.
func decodeInbound(kind string, log *zap.Logger, b []byte) (gossip.Message, bool) {
	m, err := Decode(b)
	if err != nil {
		telemetry.DecodeErrors.WithLabelValues(kind).Inc()
		log.Debug("dropping undecodable message", zap.Int("bytes", len(b)), zap.Error(err))
		return gossip.Message{}, false
	}
	return m, true
}

// deadline applies ctx's deadline to conn and interrupts blocked I/O when ctx
// is cancelled. The returned func must be called when the exchange is over.
func deadline(ctx context.Context, conn net.Conn) func() bool {
	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
	}
	return context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
}

// ctxErr prefers the context's error when the exchange was cut short by it.
func ctxErr(ctx context.Context, err error) error {
	if cerr := ctx.Err(); cerr != nil {
		return cerr
	}
	return err
}
