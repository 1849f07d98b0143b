package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ryandielhenn/zephyrmesh/pkg/gossip"
)

// TCP opens one connection per exchange: the client writes a request, the
// server answers with a reply and both sides close.
type TCP struct {
	ln   net.Listener
	opts options
	log  *zap.Logger

	wg   sync.WaitGroup
	once sync.Once
}

func NewTCP(addr string, opts ...Option) (*TCP, error) {
	o := buildOptions(opts)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen tcp %s: %w", addr, err)
	}
	return &TCP{ln: ln, opts: o, log: o.log.With(zap.String("transport", KindTCP))}, nil
}

func (t *TCP) Addr() string { return t.ln.Addr().String() }

func (t *TCP) Listen(ctx context.Context, h gossip.Handler) error {
	stop := context.AfterFunc(ctx, func() { _ = t.Close() })
	defer stop()

	for {
		conn, err := t.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				t.wg.Wait()
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		t.wg.Add(1)
		go func() {
			defer t.wg.Done()
			t.serve(conn, h)
		}()
	}
}

func (t *TCP) serve(conn net.Conn, h gossip.Handler) {
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(t.opts.ioTimeout))

	var raw json.RawMessage
	if err := json.NewDecoder(conn).Decode(&raw); err != nil {
		t.log.Debug("read request", zap.Stringer("from", conn.RemoteAddr()), zap.Error(err))
		return
	}
	req, ok := decodeInbound(KindTCP, t.log, raw)
	if !ok {
		return
	}
	reply, ok := h.OnMessage(req)
	if !ok {
		return
	}
	if err := json.NewEncoder(conn).Encode(reply); err != nil {
		t.log.Debug("write reply", zap.Stringer("to", conn.RemoteAddr()), zap.Error(err))
	}
}

func (t *TCP) Send(ctx context.Context, addr string, msg gossip.Message) (gossip.Message, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return gossip.Message{}, ctxErr(ctx, classify(err))
	}
	defer conn.Close()
	stop := deadline(ctx, conn)
	defer stop()

	if err := json.NewEncoder(conn).Encode(msg); err != nil {
		return gossip.Message{}, ctxErr(ctx, err)
	}
	var raw json.RawMessage
	if err := json.NewDecoder(conn).Decode(&raw); err != nil {
		return gossip.Message{}, ctxErr(ctx, fmt.Errorf("read reply from %s: %w", addr, err))
	}
	reply, err := Decode(raw)
	if err != nil {
		return gossip.Message{}, err
	}
	return reply, nil
}

// Close stops accepting; Listen returns once in-flight exchanges finish.
func (t *TCP) Close() error {
	var err error
	t.once.Do(func() { err = t.ln.Close() })
	return err
}
