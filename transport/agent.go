package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Agent owns the reusable sockets bound to one host. Implementations must
// be safe for concurrent use; the Transport shares one Agent across all
// in-flight requests.
type Agent interface {
	// Get hands out a socket, reusing an idle one when possible. It
	// fails with ErrAgentClosed once the pool has been drained.
	Get(ctx context.Context) (net.Conn, error)

	// Put returns a socket after a request. A non-reusable socket is
	// closed instead of rejoining the idle set.
	Put(conn net.Conn, reusable bool)

	// Drain force-closes every tracked socket and rejects all further
	// acquisition. Idempotent.
	Drain()

	Stats() AgentStats
}

// AgentStats is a point-in-time snapshot of pool state.
type AgentStats struct {
	Open       int // tracked sockets, in-use plus idle
	Idle       int
	InUse      int
	MaxSockets int // zero while unbounded, and after a drain
	Closed     bool
}

type idleConn struct {
	conn  net.Conn
	since time.Time
}

// keepAliveAgent is the built-in pool. Sockets move between the in-use
// map and the idle list; when MaxSockets is reached, acquisition queues
// behind the waiters list until a slot frees up.
type keepAliveAgent struct {
	host    *Host
	cfg     Config
	dial    func(ctx context.Context) (net.Conn, error)
	metrics *agentMetrics

	mu      sync.Mutex
	closed  bool
	limit   int
	maxFree int
	dialing int
	inUse   map[net.Conn]struct{}
	idle    []idleConn
	waiters []chan net.Conn
}

func newKeepAliveAgent(host *Host, cfg Config) *keepAliveAgent {
	a := &keepAliveAgent{
		host:    host,
		cfg:     cfg,
		limit:   cfg.MaxSockets,
		maxFree: cfg.KeepAliveMaxFreeSockets,
		inUse:   make(map[net.Conn]struct{}),
		metrics: newAgentMetrics(host.Addr()),
	}
	a.dial = a.dialHost
	return a
}

// dialHost opens and configures one socket to the host. TCP no-delay and
// keep-alive probing are enabled on the underlying transport; the host
// TLS options are applied only for https.
func (a *keepAliveAgent) dialHost(ctx context.Context) (net.Conn, error) {
	d := net.Dialer{KeepAlive: a.cfg.KeepAliveInterval}
	if a.cfg.DisableKeepAlive {
		d.KeepAlive = -1
	}
	conn, err := d.DialContext(ctx, "tcp", a.host.Addr())
	if err != nil {
		if IsHostResponded(err) {
			return nil, fmt.Errorf("host %s refused the connection: %w", a.host.Addr(), err)
		}
		return nil, fmt.Errorf("could not dial %s: %w", a.host.Addr(), err)
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
	if a.host.secure() {
		tlsConn := tls.Client(conn, a.host.tlsConfig())
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			conn.Close()
			return nil, fmt.Errorf("tls handshake with %s: %w", a.host.Addr(), err)
		}
		return tlsConn, nil
	}
	return conn, nil
}

func (a *keepAliveAgent) Get(ctx context.Context) (net.Conn, error) {
	for {
		a.mu.Lock()
		if a.closed {
			a.mu.Unlock()
			return nil, ErrAgentClosed
		}

		if conn := a.popIdleLocked(); conn != nil {
			a.inUse[conn] = struct{}{}
			a.updateGaugesLocked()
			a.mu.Unlock()
			a.metrics.reuses.Inc()
			return conn, nil
		}

		if a.limit == 0 || a.openLocked() < a.limit {
			a.dialing++
			a.mu.Unlock()

			conn, err := a.dial(ctx)

			a.mu.Lock()
			a.dialing--
			if err != nil {
				a.notifyLocked()
				a.mu.Unlock()
				return nil, err
			}
			if a.closed {
				a.mu.Unlock()
				conn.Close()
				return nil, ErrAgentClosed
			}
			a.inUse[conn] = struct{}{}
			a.updateGaugesLocked()
			a.mu.Unlock()
			a.metrics.dials.Inc()
			return conn, nil
		}

		// Pool saturated, queue behind the waiters list.
		w := make(chan net.Conn, 1)
		a.waiters = append(a.waiters, w)
		a.mu.Unlock()

		select {
		case conn, ok := <-w:
			if !ok {
				return nil, ErrAgentClosed
			}
			if conn == nil {
				// A slot freed up without a reusable socket, retry.
				continue
			}
			a.metrics.reuses.Inc()
			return conn, nil
		case <-ctx.Done():
			a.mu.Lock()
			removed := a.removeWaiterLocked(w)
			a.mu.Unlock()
			if !removed {
				// A socket was handed over (or the pool drained)
				// concurrently with the cancellation.
				if conn, ok := <-w; ok && conn != nil {
					a.Put(conn, true)
				}
			}
			return nil, fmt.Errorf("awaiting socket: %w", ctx.Err())
		}
	}
}

func (a *keepAliveAgent) Put(conn net.Conn, reusable bool) {
	if conn == nil {
		return
	}
	a.mu.Lock()
	delete(a.inUse, conn)

	if a.closed {
		a.updateGaugesLocked()
		a.mu.Unlock()
		conn.Close()
		return
	}

	if !reusable || a.cfg.DisableKeepAlive {
		a.notifyLocked()
		a.updateGaugesLocked()
		a.mu.Unlock()
		conn.Close()
		return
	}

	if w := a.nextWaiterLocked(); w != nil {
		// The socket is re-registered as in-use before the handoff, so a
		// Drain racing with the send force-terminates it like any other
		// in-use socket; the waiter then fails on first use.
		a.inUse[conn] = struct{}{}
		a.updateGaugesLocked()
		a.mu.Unlock()
		w <- conn
		return
	}

	now := time.Now()
	victims := a.evictStaleLocked(now)
	a.idle = append(a.idle, idleConn{conn: conn, since: now})
	if a.maxFree > 0 && len(a.idle) > a.maxFree {
		victims = append(victims, a.idle[0].conn)
		a.idle = a.idle[1:]
	}
	a.updateGaugesLocked()
	a.mu.Unlock()
	for _, victim := range victims {
		victim.Close()
	}
}

// evictStaleLocked drops idle sockets that have outlived the free-socket
// timeout. The idle list is ordered by park time, oldest first, so the
// sweep stops at the first entry still within the timeout.
func (a *keepAliveAgent) evictStaleLocked(now time.Time) []net.Conn {
	timeout := a.cfg.KeepAliveFreeSocketTimeout
	if timeout <= 0 {
		return nil
	}
	var stale []net.Conn
	for len(a.idle) > 0 && now.Sub(a.idle[0].since) > timeout {
		stale = append(stale, a.idle[0].conn)
		a.idle = a.idle[1:]
	}
	return stale
}

// Drain rejects further allocation, clears the waiter queue and
// force-terminates every tracked socket. Per-socket close failures are
// logged and skipped so the remaining sockets still get torn down.
func (a *keepAliveAgent) Drain() {
	a.mu.Lock()
	a.closed = true
	a.limit = 0
	a.maxFree = 0
	waiters := a.waiters
	a.waiters = nil
	conns := make([]net.Conn, 0, len(a.inUse)+len(a.idle))
	for c := range a.inUse {
		conns = append(conns, c)
	}
	for _, ic := range a.idle {
		conns = append(conns, ic.conn)
	}
	a.inUse = make(map[net.Conn]struct{})
	a.idle = nil
	a.updateGaugesLocked()
	a.mu.Unlock()

	for _, w := range waiters {
		close(w)
	}
	if len(conns) == 0 {
		return
	}

	var g errgroup.Group
	for _, conn := range conns {
		conn := conn
		g.Go(func() error {
			abortConn(conn)
			return nil
		})
	}
	_ = g.Wait()

	a.metrics.drained.Add(float64(len(conns)))
	log.Debug().Str("host", a.host.Addr()).Int("sockets", len(conns)).Msg("connection pool drained")
}

func (a *keepAliveAgent) Stats() AgentStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return AgentStats{
		Open:       len(a.inUse) + len(a.idle),
		Idle:       len(a.idle),
		InUse:      len(a.inUse),
		MaxSockets: a.limit,
		Closed:     a.closed,
	}
}

// popIdleLocked takes the most recently parked socket, discarding any
// that have sat idle past the free-socket timeout.
func (a *keepAliveAgent) popIdleLocked() net.Conn {
	now := time.Now()
	for len(a.idle) > 0 {
		ic := a.idle[len(a.idle)-1]
		a.idle = a.idle[:len(a.idle)-1]
		if timeout := a.cfg.KeepAliveFreeSocketTimeout; timeout > 0 && now.Sub(ic.since) > timeout {
			ic.conn.Close()
			continue
		}
		return ic.conn
	}
	return nil
}

func (a *keepAliveAgent) openLocked() int {
	return len(a.inUse) + len(a.idle) + a.dialing
}

func (a *keepAliveAgent) nextWaiterLocked() chan net.Conn {
	if len(a.waiters) == 0 {
		return nil
	}
	w := a.waiters[0]
	a.waiters = a.waiters[1:]
	return w
}

// notifyLocked wakes one queued waiter after a slot freed up without a
// socket to hand over.
func (a *keepAliveAgent) notifyLocked() {
	if w := a.nextWaiterLocked(); w != nil {
		w <- nil
	}
}

func (a *keepAliveAgent) removeWaiterLocked(w chan net.Conn) bool {
	for i, x := range a.waiters {
		if x == w {
			a.waiters = append(a.waiters[:i], a.waiters[i+1:]...)
			return true
		}
	}
	return false
}

func (a *keepAliveAgent) updateGaugesLocked() {
	a.metrics.open.Set(float64(len(a.inUse) + len(a.idle)))
	a.metrics.idle.Set(float64(len(a.idle)))
}

// abortConn force-terminates a socket. Plain TCP gets an RST instead of
// a lingering FIN so a wedged peer cannot stall the drain.
func abortConn(conn net.Conn) {
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetLinger(0)
	}
	if err := conn.Close(); err != nil && !IsUseOfClosedNetworkError(err) {
		log.Warn().Err(err).Str("remote", remoteAddr(conn)).Msg("could not close pooled socket")
	}
}

func remoteAddr(conn net.Conn) string {
	if addr := conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return "unknown"
}
