package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/ryandielhenn/zephyrmesh/internal/telemetry"
	"github.com/ryandielhenn/zephyrmesh/pkg/gossip"
)

// MessagePath is where HTTP transports accept messages.
const MessagePath = "/gossip"

// HTTP carries each exchange as a POST of the request with the reply in the
// response body.
type HTTP struct {
	ln     net.Listener
	opts   options
	log    *zap.Logger
	client *http.Client

	mu     sync.Mutex
	server *http.Server
	once   sync.Once
}

func NewHTTP(addr string, opts ...Option) (*HTTP, error) {
	o := buildOptions(opts)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen http %s: %w", addr, err)
	}
	return &HTTP{
		ln:   ln,
		opts: o,
		log:  o.log.With(zap.String("transport", KindHTTP)),
		// Per-request context deadlines bound each exchange; keep-alives are
		// off so every exchange uses its own connection.
		client: &http.Client{Transport: &http.Transport{DisableKeepAlives: true}},
	}, nil
}

func (t *HTTP) Addr() string { return t.ln.Addr().String() }

// Handler returns the http.Handler serving MessagePath for h.
func (t *HTTP) Handler(h gossip.Handler) http.Handler {
	mux := http.NewServeMux()
	mux.Handle(MessagePath, telemetry.Instrument("gossip", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		body, err := io.ReadAll(io.LimitReader(r.Body, int64(t.opts.maxPacket)))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		req, ok := decodeInbound(KindHTTP, t.log, body)
		if !ok {
			http.Error(w, "invalid message", http.StatusBadRequest)
			return
		}
		reply, ok := h.OnMessage(req)
		if !ok {
			http.Error(w, "message rejected", http.StatusBadRequest)
			return
		}
		b, err := Encode(reply)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(b)
	})))
	return mux
}

func (t *HTTP) Listen(ctx context.Context, h gossip.Handler) error {
	srv := &http.Server{
		Handler:      t.Handler(h),
		ReadTimeout:  t.opts.ioTimeout,
		WriteTimeout: t.opts.ioTimeout,
	}
	t.mu.Lock()
	t.server = srv
	t.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { _ = t.Close() })
	defer stop()

	if err := srv.Serve(t.ln); err != nil && !errors.Is(err, http.ErrServerClosed) && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("serve http: %w", err)
	}
	return nil
}

func (t *HTTP) Send(ctx context.Context, addr string, msg gossip.Message) (gossip.Message, error) {
	b, err := Encode(msg)
	if err != nil {
		return gossip.Message{}, err
	}
	url := addr
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		url = "http://" + url
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url+MessagePath, bytes.NewReader(b))
	if err != nil {
		return gossip.Message{}, fmt.Errorf("%w: %v", gossip.ErrUnreachable, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return gossip.Message{}, ctxErr(ctx, classify(err))
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, int64(t.opts.maxPacket)))
	if err != nil {
		return gossip.Message{}, ctxErr(ctx, err)
	}
	if resp.StatusCode != http.StatusOK {
		return gossip.Message{}, fmt.Errorf("post %s: %s: %s", url, resp.Status, strings.TrimSpace(string(body)))
	}
	return Decode(body)
}

// Close shuts the server down, letting in-flight requests finish.
func (t *HTTP) Close() error {
	var err error
	t.once.Do(func() {
		t.mu.Lock()
		srv := t.server
		t.mu.Unlock()
		if srv == nil {
			err = t.ln.Close()
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), t.opts.ioTimeout)
		defer cancel()
		err = srv.Shutdown(ctx)
	})
	return err
}
