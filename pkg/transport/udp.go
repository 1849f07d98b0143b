package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"go.uber.org/zap"

	"github.com/ryandielhenn/zephyrmesh/pkg/gossip"
)

// UDP exchanges one datagram each way. The listening socket also writes the
// replies; every Send uses a fresh socket.
type UDP struct {
	conn *net.UDPConn
	opts options
	log  *zap.Logger

	mu      sync.Mutex
	closing bool
	wg      sync.WaitGroup
	once    sync.Once
}

func NewUDP(addr string, opts ...Option) (*UDP, error) {
	o := buildOptions(opts)
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("listen udp %s: %w", addr, err)
	}
	return &UDP{conn: conn, opts: o, log: o.log.With(zap.String("transport", KindUDP))}, nil
}

func (u *UDP) Addr() string { return u.conn.LocalAddr().String() }

func (u *UDP) Listen(ctx context.Context, h gossip.Handler) error {
	stop := context.AfterFunc(ctx, func() { _ = u.Close() })
	defer stop()

	buf := make([]byte, u.opts.maxPacket)
	for {
		n, src, err := u.conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("read udp: %w", err)
		}
		pkt := append([]byte(nil), buf[:n]...)

		u.mu.Lock()
		if u.closing {
			u.mu.Unlock()
			continue
		}
		u.wg.Add(1)
		u.mu.Unlock()

		go func() {
			defer u.wg.Done()
			u.serve(pkt, src, h)
		}()
	}
}

func (u *UDP) serve(pkt []byte, src *net.UDPAddr, h gossip.Handler) {
	req, ok := decodeInbound(KindUDP, u.log, pkt)
	if !ok {
		return
	}
	reply, ok := h.OnMessage(req)
	if !ok {
		return
	}
	b, err := Encode(reply)
	if err != nil {
		u.log.Warn("encode reply", zap.Error(err))
		return
	}
	if _, err := u.conn.WriteToUDP(b, src); err != nil {
		u.log.Debug("write reply", zap.Stringer("to", src), zap.Error(err))
	}
}

func (u *UDP) Send(ctx context.Context, addr string, msg gossip.Message) (gossip.Message, error) {
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return gossip.Message{}, classify(err)
	}
	b, err := Encode(msg)
	if err != nil {
		return gossip.Message{}, err
	}
	if len(b) > u.opts.maxPacket {
		// Resending cannot shrink the message, so this is as fatal as a bad address.
		return gossip.Message{}, fmt.Errorf("%w: message of %d bytes exceeds datagram limit %d", gossip.ErrUnreachable, len(b), u.opts.maxPacket)
	}

	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return gossip.Message{}, classify(err)
	}
	defer conn.Close()
	stop := deadline(ctx, conn)
	defer stop()

	if _, err := conn.Write(b); err != nil {
		return gossip.Message{}, ctxErr(ctx, err)
	}
	buf := make([]byte, u.opts.maxPacket)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			return gossip.Message{}, ctxErr(ctx, err)
		}
		reply, err := Decode(buf[:n])
		if err != nil || reply.Status != gossip.StatusRespond || reply.Round != msg.Round {
			// Not the acknowledgement for this request; keep waiting.
			continue
		}
		return reply, nil
	}
}

// Close stops accepting datagrams, waits for in-flight replies and closes
// the socket.
func (u *UDP) Close() error {
	var err error
	u.once.Do(func() {
		u.mu.Lock()
		u.closing = true
		u.mu.Unlock()
		u.wg.Wait()
		err = u.conn.Close()
	})
	return err
}
