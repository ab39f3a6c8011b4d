// Package bridge forwards HTTP requests to a single WebSocket peer and
// correlates the peer's responses back to the waiting callers.
//
// At most one peer is attached at a time. A newly attached peer
// supersedes the previous one: the old peer receives a close control
// message and its pending requests fail as disconnected.
package bridge

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/c360/embedatlas/errors"
	"github.com/c360/embedatlas/metric"
)

// DefaultRequestTimeout bounds how long a forwarded request waits for
// the peer's response.
const DefaultRequestTimeout = 30 * time.Second

// request/response envelopes on the wire.
type envelope struct {
	ID       string          `json:"id,omitempty"`
	Request  json.RawMessage `json:"request,omitempty"`
	Response json.RawMessage `json:"response,omitempty"`
	Control  string          `json:"control,omitempty"`
}

type peer struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan json.RawMessage
	closed  bool
}

// Bridge owns the peer connection and the request correlation state.
type Bridge struct {
	upgrader websocket.Upgrader
	timeout  time.Duration
	logger   *slog.Logger
	metrics  *metric.Metrics

	mu      sync.Mutex
	current *peer
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithRequestTimeout overrides DefaultRequestTimeout.
func WithRequestTimeout(d time.Duration) Option {
	return func(b *Bridge) {
		if d > 0 {
			b.timeout = d
		}
	}
}

// WithMetrics records connection state and request outcomes.
func WithMetrics(m *metric.Metrics) Option {
	return func(b *Bridge) { b.metrics = m }
}

// New creates a bridge.
func New(logger *slog.Logger, opts ...Option) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Bridge{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Peers connect from the frontend's origin or from local
			// tools; the HTTP layer already applies CORS policy.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		timeout: DefaultRequestTimeout,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// ServeWS upgrades the request and attaches the connection as the
// current peer, blocking until the peer disconnects.
func (b *Bridge) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.Warn("bridge upgrade failed", "error", err)
		return
	}
	b.attach(conn)
}

// attach installs conn as the current peer, superseding any previous
// one, and runs its read loop to completion.
func (b *Bridge) attach(conn *websocket.Conn) {
	p := &peer{
		conn:    conn,
		pending: make(map[string]chan json.RawMessage),
	}

	b.mu.Lock()
	old := b.current
	b.current = p
	b.mu.Unlock()

	if old != nil {
		old.sendClose()
		old.fail()
	}

	if b.metrics != nil {
		b.metrics.BridgeConnected.Set(1)
	}
	b.logger.Info("bridge peer attached", "remote", conn.RemoteAddr())

	b.readLoop(p)

	p.fail()
	_ = conn.Close()

	b.mu.Lock()
	if b.current == p {
		b.current = nil
		if b.metrics != nil {
			b.metrics.BridgeConnected.Set(0)
		}
	}
	b.mu.Unlock()

	b.logger.Info("bridge peer detached", "remote", conn.RemoteAddr())
}

// readLoop fulfills pending requests from incoming messages until the
// connection fails. Each pending id is fulfilled at most once; unknown
// ids and malformed frames are dropped.
func (b *Bridge) readLoop(p *peer) {
	for {
		_, message, err := p.conn.ReadMessage()
		if err != nil {
			return
		}
		var env envelope
		if err := json.Unmarshal(message, &env); err != nil || env.ID == "" {
			continue
		}

		p.mu.Lock()
		ch, ok := p.pending[env.ID]
		if ok {
			delete(p.pending, env.ID)
		}
		p.mu.Unlock()

		if ok {
			ch <- env.Response
		}
	}
}

// Connected reports whether a peer is attached.
func (b *Bridge) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current != nil
}

// SendRequest forwards payload to the peer and waits for the correlated
// response. Without a peer it fails immediately with ErrNoPeer; waiting
// longer than the configured timeout fails with ErrPeerTimeout; a peer
// that disconnects mid-request fails with ErrPeerDisconnected.
func (b *Bridge) SendRequest(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
	b.mu.Lock()
	p := b.current
	b.mu.Unlock()
	if p == nil {
		b.countRequest("no_peer")
		return nil, errors.ErrNoPeer
	}

	id := uuid.NewString()
	ch := make(chan json.RawMessage, 1)

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		b.countRequest("disconnected")
		return nil, errors.ErrPeerDisconnected
	}
	p.pending[id] = ch
	p.mu.Unlock()

	env := envelope{ID: id, Request: payload}
	if err := p.writeJSON(env); err != nil {
		p.drop(id)
		b.countRequest("disconnected")
		return nil, errors.WrapTransient(errors.ErrPeerDisconnected,
			"Bridge", "SendRequest", "write to peer")
	}

	timer := time.NewTimer(b.timeout)
	defer timer.Stop()

	select {
	case resp, ok := <-ch:
		if !ok {
			b.countRequest("disconnected")
			return nil, errors.ErrPeerDisconnected
		}
		b.countRequest("ok")
		return resp, nil
	case <-timer.C:
		p.drop(id)
		b.countRequest("timeout")
		return nil, errors.ErrPeerTimeout
	case <-ctx.Done():
		p.drop(id)
		b.countRequest("cancelled")
		return nil, ctx.Err()
	}
}

func (b *Bridge) countRequest(status string) {
	if b.metrics != nil {
		b.metrics.BridgeRequestsTotal.WithLabelValues(status).Inc()
	}
}

func (p *peer) writeJSON(v any) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	return p.conn.WriteJSON(v)
}

// sendClose tells a superseded peer to shut down. Failures are ignored;
// the peer is going away either way.
func (p *peer) sendClose() {
	_ = p.writeJSON(envelope{Control: "close"})
}

// fail closes all pending channels so waiting callers see a disconnect.
func (p *peer) fail() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	for id, ch := range p.pending {
		close(ch)
		delete(p.pending, id)
	}
}

func (p *peer) drop(id string) {
	p.mu.Lock()
	delete(p.pending, id)
	p.mu.Unlock()
}
