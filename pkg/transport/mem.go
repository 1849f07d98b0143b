package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ryandielhenn/zephyrmesh/pkg/gossip"
)

// ErrNoListener is returned by Mem.Send when nothing listens on the address
// yet. It is retryable, like a refused connection.
var ErrNoListener = errors.New("transport: no listener")

// MemNetwork connects Mem endpoints inside one process.
type MemNetwork struct {
	mu        sync.RWMutex
	listeners map[string]gossip.Handler
	next      int
}

func NewMemNetwork() *MemNetwork {
	return &MemNetwork{listeners: make(map[string]gossip.Handler)}
}

// Endpoint returns a transport reachable at addr; an empty addr picks a
// fresh one.
func (n *MemNetwork) Endpoint(addr string) *Mem {
	n.mu.Lock()
	defer n.mu.Unlock()
	if addr == "" {
		n.next++
		addr = fmt.Sprintf("mem-%d", n.next)
	}
	return &Mem{net: n, addr: addr, closed: make(chan struct{})}
}

func (n *MemNetwork) lookup(addr string) (gossip.Handler, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	h, ok := n.listeners[addr]
	return h, ok
}

// Mem is an in-process transport. Messages still pass through the wire
// codec so anything that works here round-trips on a real network.
type Mem struct {
	net    *MemNetwork
	addr   string
	closed chan struct{}
	once   sync.Once
}

func (m *Mem) Addr() string { return m.addr }

func (m *Mem) Listen(ctx context.Context, h gossip.Handler) error {
	m.net.mu.Lock()
	if _, taken := m.net.listeners[m.addr]; taken {
		m.net.mu.Unlock()
		return fmt.Errorf("mem address %s already in use", m.addr)
	}
	m.net.listeners[m.addr] = h
	m.net.mu.Unlock()

	defer func() {
		m.net.mu.Lock()
		delete(m.net.listeners, m.addr)
		m.net.mu.Unlock()
	}()
	select {
	case <-ctx.Done():
	case <-m.closed:
	}
	return nil
}

func (m *Mem) Send(ctx context.Context, addr string, msg gossip.Message) (gossip.Message, error) {
	if err := ctx.Err(); err != nil {
		return gossip.Message{}, err
	}
	h, ok := m.net.lookup(addr)
	if !ok {
		return gossip.Message{}, fmt.Errorf("%w at %s", ErrNoListener, addr)
	}
	b, err := Encode(msg)
	if err != nil {
		return gossip.Message{}, err
	}
	req, err := Decode(b)
	if err != nil {
		return gossip.Message{}, err
	}
	reply, ok := h.OnMessage(req)
	if !ok {
		return gossip.Message{}, fmt.Errorf("%s rejected %v", addr, msg)
	}
	return reply, nil
}

func (m *Mem) Close() error {
	m.once.Do(func() { close(m.closed) })
	return nil
}
