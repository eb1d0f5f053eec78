// Copyright 2025 The Go ESI SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package esi

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/net/http2"
)

// DefaultURL is the production ESI base URL.
const DefaultURL = "https://esi.evetech.net"

// defaultMaxPendingTime bounds how long a request may wait for a
// reconnecting session before it is evicted from the queue.
const defaultMaxPendingTime = 10 * time.Second

const defaultDialTimeout = 10 * time.Second

// ConnectionSettings configures a [Connection].
type ConnectionSettings struct {
	// URL is the base URL of the ESI server. If empty, [DefaultURL] is used.
	// The scheme must be https: the transport is HTTP/2 over TLS.
	URL string

	// TLSConfig is the TLS configuration for dialing. A nil config is valid;
	// the dialer fills in the server name and h2 ALPN in either case.
	TLSConfig *tls.Config

	// Transport is the HTTP/2 transport used to establish sessions. If nil, a
	// zero transport is used. The transport's TLSClientConfig is not consulted;
	// set TLSConfig instead.
	Transport *http2.Transport

	// ReconnectDelay produces the backoff policy for one invocation of the
	// reconnect loop. A fresh policy is drawn for each invocation so that
	// backoff starts over after a period of connectivity. If nil, an
	// exponential policy starting at 500ms and capped at 32s is used.
	ReconnectDelay func() backoff.BackOff

	// MaxPendingTime bounds how long a queued request may wait for a session.
	// 0 means the 10s default; negative means no limit.
	MaxPendingTime time.Duration

	// DialTimeout bounds a single connection attempt. 0 means a 10s default.
	DialTimeout time.Duration

	// Logger receives debug records for session lifecycle events.
	// If nil, nothing is logged.
	Logger *slog.Logger
}

func defaultReconnectDelay() backoff.BackOff {
	e := backoff.NewExponentialBackOff()
	e.InitialInterval = 500 * time.Millisecond
	e.Multiplier = 2
	e.MaxInterval = 32 * time.Second
	e.RandomizationFactor = 0.25
	return e
}

// effectiveMaxPendingTime converts the user-configured MaxPendingTime to an
// effective limit, following the same zero/negative convention as the other
// settings: 0 selects the default, negative disables the limit.
func effectiveMaxPendingTime(d time.Duration) time.Duration {
	switch {
	case d == 0:
		return defaultMaxPendingTime
	case d < 0:
		return 1<<63 - 1
	default:
		return d
	}
}

// A sessionSource hands out ready HTTP/2 sessions. Both [Connection] and
// [ConnectionPool] implement it.
type sessionSource interface {
	acquire(ctx context.Context) (*http2.ClientConn, error)
	base() *url.URL
	Close() error
}

// A Connection maintains one HTTP/2 session to the ESI host. Requests issued
// while the session is absent are queued in FIFO order and resolved when the
// reconnect loop establishes a new session; entries that wait longer than
// MaxPendingTime are rejected.
type Connection struct {
	baseURL        *url.URL
	addr           string
	transport      *http2.Transport
	tlsConfig      *tls.Config
	reconnectDelay func() backoff.BackOff
	maxPendingTime time.Duration
	dialTimeout    time.Duration
	logger         *slog.Logger

	closedCh chan struct{}

	mu         sync.Mutex
	cc         *http2.ClientConn
	conn       net.Conn // the notifyConn under cc
	connecting bool
	closed     bool
	pending    []*pendingConn
}

// pendingConn is a queued acquire waiting for a session. The result channel
// is 1-buffered so resolution never blocks on an abandoned caller.
type pendingConn struct {
	enqueued time.Time
	ch       chan connResult
}

type connResult struct {
	cc  *http2.ClientConn
	err error
}

// NewConnection returns a Connection that immediately begins connecting in
// the background. It never fails fast on an unreachable host: requests queue
// until the session is ready or they age out.
func NewConnection(settings *ConnectionSettings) (*Connection, error) {
	if settings == nil {
		settings = &ConnectionSettings{}
	}
	rawURL := settings.URL
	if rawURL == "" {
		rawURL = DefaultURL
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, configErrorf("invalid ESI URL %q: %v", rawURL, err)
	}
	if u.Scheme != "https" {
		return nil, configErrorf("ESI URL %q: scheme must be https", rawURL)
	}
	addr := u.Host
	if u.Port() == "" {
		addr = net.JoinHostPort(u.Hostname(), "443")
	}
	transport := settings.Transport
	if transport == nil {
		transport = &http2.Transport{}
	}
	reconnectDelay := settings.ReconnectDelay
	if reconnectDelay == nil {
		reconnectDelay = defaultReconnectDelay
	}
	dialTimeout := settings.DialTimeout
	if dialTimeout == 0 {
		dialTimeout = defaultDialTimeout
	}
	logger := settings.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	c := &Connection{
		baseURL:        u,
		addr:           addr,
		transport:      transport,
		tlsConfig:      settings.TLSConfig,
		reconnectDelay: reconnectDelay,
		maxPendingTime: effectiveMaxPendingTime(settings.MaxPendingTime),
		dialTimeout:    dialTimeout,
		logger:         logger,
		closedCh:       make(chan struct{}),
	}
	go c.reconnect()
	return c, nil
}

func (c *Connection) base() *url.URL { return c.baseURL }

// acquire returns a session that can take a new request. If none is ready,
// the call joins the pending queue and blocks until the reconnect loop
// resolves it, the entry ages out, or ctx is done.
func (c *Connection) acquire(ctx context.Context) (*http2.ClientConn, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	var stale *http2.ClientConn
	if cc := c.cc; cc != nil && !c.connecting {
		if cc.CanTakeNewRequest() {
			c.mu.Unlock()
			return cc, nil
		}
		// The session took a GOAWAY or ran out of stream IDs but the
		// underlying conn has not died yet. Retire it and fall through to the
		// queue; the reconnect loop will resolve us.
		stale = cc
		c.cc = nil
		c.conn = nil
	}
	p := &pendingConn{enqueued: time.Now(), ch: make(chan connResult, 1)}
	c.pending = append(c.pending, p)
	c.mu.Unlock()
	if stale != nil {
		go stale.Close()
	}
	go c.reconnect()

	select {
	case r := <-p.ch:
		return r.cc, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// reconnect runs one invocation of the reconnect loop. At most one loop runs
// at a time; redundant calls return immediately.
func (c *Connection) reconnect() {
	c.mu.Lock()
	if c.connecting || c.closed {
		c.mu.Unlock()
		return
	}
	c.connecting = true
	c.cc = nil
	c.mu.Unlock()

	policy := c.reconnectDelay()
	for attempt := 1; ; attempt++ {
		c.mu.Lock()
		if c.closed {
			pending := c.pending
			c.pending = nil
			c.connecting = false
			c.mu.Unlock()
			failPending(pending, ErrClosed)
			return
		}
		c.mu.Unlock()

		cc, conn, err := c.dial()
		if err == nil {
			c.mu.Lock()
			if c.closed {
				pending := c.pending
				c.pending = nil
				c.connecting = false
				c.mu.Unlock()
				cc.Close()
				failPending(pending, ErrClosed)
				return
			}
			c.cc = cc
			c.conn = conn
			c.connecting = false
			pending := c.pending
			c.pending = nil
			c.mu.Unlock()
			c.logger.Debug("esi: session established", "addr", c.addr, "attempt", attempt)
			// Drain in FIFO order.
			for _, p := range pending {
				p.ch <- connResult{cc: cc}
			}
			return
		}
		c.logger.Debug("esi: connect failed", "addr", c.addr, "attempt", attempt, "error", err)
		c.rejectOld()
		d := policy.NextBackOff()
		if d == backoff.Stop {
			policy.Reset()
			d = policy.NextBackOff()
		}
		select {
		case <-time.After(d):
		case <-c.closedCh:
		}
	}
}

// dial establishes a TLS connection with h2 ALPN and binds an HTTP/2 session
// to it. The returned net.Conn notifies the Connection when it dies, which
// re-enters the reconnect loop.
func (c *Connection) dial() (*http2.ClientConn, net.Conn, error) {
	cfg := c.tlsConfig.Clone()
	if cfg == nil {
		cfg = &tls.Config{}
	}
	if cfg.ServerName == "" {
		cfg.ServerName = c.baseURL.Hostname()
	}
	if len(cfg.NextProtos) == 0 {
		cfg.NextProtos = []string{"h2"}
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.dialTimeout)
	defer cancel()
	dialer := &tls.Dialer{Config: cfg}
	raw, err := dialer.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return nil, nil, err
	}
	tlsConn := raw.(*tls.Conn)
	if proto := tlsConn.ConnectionState().NegotiatedProtocol; proto != "h2" {
		tlsConn.Close()
		return nil, nil, fmt.Errorf("server negotiated %q, want h2", proto)
	}
	nc := &notifyConn{Conn: tlsConn}
	nc.onClose = func() { c.sessionClosed(nc) }
	cc, err := c.transport.NewClientConn(nc)
	if err != nil {
		nc.Close()
		return nil, nil, err
	}
	return cc, nc, nil
}

// sessionClosed is invoked when the wire under the current session dies.
// Errors at this level are not surfaced anywhere; in-flight streams observe
// them individually, and the reconnect loop takes over.
func (c *Connection) sessionClosed(conn net.Conn) {
	c.mu.Lock()
	if c.closed || c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.cc = nil
	c.conn = nil
	c.mu.Unlock()
	c.logger.Debug("esi: session lost", "addr", c.addr)
	go c.reconnect()
}

// rejectOld evicts queued entries older than MaxPendingTime. The queue is in
// enqueue order, so the over-aged entries form a prefix and the survivors
// keep their FIFO order.
func (c *Connection) rejectOld() {
	now := time.Now()
	c.mu.Lock()
	i := 0
	for i < len(c.pending) && now.Sub(c.pending[i].enqueued) >= c.maxPendingTime {
		i++
	}
	expired := c.pending[:i:i]
	c.pending = c.pending[i:]
	c.mu.Unlock()
	for _, p := range expired {
		p.ch <- connResult{err: &ConnTimeoutError{Age: now.Sub(p.enqueued)}}
	}
}

// Close tears down the session and rejects all queued and future requests.
// It is idempotent.
func (c *Connection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.closedCh)
	cc := c.cc
	pending := c.pending
	c.cc = nil
	c.conn = nil
	c.pending = nil
	c.mu.Unlock()
	failPending(pending, ErrClosed)
	if cc != nil {
		cc.Close()
	}
	return nil
}

func failPending(pending []*pendingConn, err error) {
	for _, p := range pending {
		p.ch <- connResult{err: err}
	}
}

// notifyConn wraps a net.Conn and fires onClose exactly once when the
// connection errors or is closed. The HTTP/2 transport reads from the conn
// for the lifetime of the session, so a dead peer surfaces here promptly.
type notifyConn struct {
	net.Conn
	onClose func()
	once    sync.Once
}

func (c *notifyConn) Read(p []byte) (int, error) {
	n, err := c.Conn.Read(p)
	if err != nil {
		c.fire()
	}
	return n, err
}

func (c *notifyConn) Close() error {
	err := c.Conn.Close()
	c.fire()
	return err
}

func (c *notifyConn) fire() {
	c.once.Do(func() {
		if c.onClose != nil {
			c.onClose()
		}
	})
}

// A ConnectionPool distributes requests round-robin over several Connections
// with identical settings, to exceed the concurrent-stream limit of a single
// session. Dispatch is not health-aware.
type ConnectionPool struct {
	conns []*Connection
	next  atomic.Uint64
}

// NewConnectionPool creates size Connections from settings.
func NewConnectionPool(size int, settings *ConnectionSettings) (*ConnectionPool, error) {
	if size < 1 {
		return nil, configErrorf("pool size must be at least 1, got %d", size)
	}
	p := &ConnectionPool{}
	for range size {
		c, err := NewConnection(settings)
		if err != nil {
			p.Close()
			return nil, err
		}
		p.conns = append(p.conns, c)
	}
	return p, nil
}

func (p *ConnectionPool) base() *url.URL { return p.conns[0].base() }

func (p *ConnectionPool) acquire(ctx context.Context) (*http2.ClientConn, error) {
	i := p.next.Add(1) - 1
	return p.conns[i%uint64(len(p.conns))].acquire(ctx)
}

// Close closes every Connection in the pool.
func (p *ConnectionPool) Close() error {
	var first error
	for _, c := range p.conns {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
