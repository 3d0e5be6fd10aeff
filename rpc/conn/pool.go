package conn

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/VictoriaMetrics/metrics"

	"github.com/ValentinKolb/skv/lib/policy"
)

var (
	// ErrPoolExhausted is returned when all connections are in use and
	// none became available within the acquire timeout
	ErrPoolExhausted = errors.New("connection pool exhausted")

	// ErrPoolClosed is returned for operations on a closed pool
	ErrPoolClosed = errors.New("connection pool closed")
)

var metricPoolExhausted = metrics.NewCounter("skv_pool_exhausted_total")

// Pool is a bounded connection pool for a single node. Connections are
// dialed lazily up to the configured capacity. A caller that hits the
// capacity limit waits for a returned connection until the acquire
// timeout expires.
type Pool struct {
	address string
	auth    *Authenticator

	capacity       int
	idleTimeout    time.Duration
	loginTimeout   time.Duration
	acquireTimeout time.Duration

	free     chan *Connection
	total    atomic.Int32
	closed   atomic.Bool
	loggedIn atomic.Bool
	stopCh   chan struct{}
}

// NewPool creates a pool for the given node address. auth may be nil for
// clusters without security.
func NewPool(address string, cp *policy.ClientPolicy, auth *Authenticator) *Pool {
	capacity := cp.ConnectionQueueSize
	if capacity <= 0 {
		capacity = 1
	}
	acquireTimeout := cp.AcquireTimeout
	if acquireTimeout <= 0 {
		acquireTimeout = cp.Timeout
	}
	p := &Pool{
		address:        address,
		auth:           auth,
		capacity:       capacity,
		idleTimeout:    cp.IdleTimeout,
		loginTimeout:   cp.LoginTimeout,
		acquireTimeout: acquireTimeout,
		free:           make(chan *Connection, capacity),
		stopCh:         make(chan struct{}),
	}
	if p.idleTimeout > 0 {
		go p.janitor()
	}
	return p
}

// janitor periodically closes idle connections so the pool does not hand
// out sockets the server has silently timed out
func (p *Pool) janitor() {
	interval := p.idleTimeout / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.sweep()
		case <-p.stopCh:
			return
		}
	}
}

// sweep drops the idle connections currently sitting in the free queue
func (p *Pool) sweep() {
	n := len(p.free)
	for i := 0; i < n; i++ {
		select {
		case c := <-p.free:
			if c.IsIdle(p.idleTimeout) {
				p.discard(c)
			} else {
				p.Put(c)
			}
		default:
			return
		}
	}
}

// Get returns a connection from the pool, dialing a new one when below
// capacity. Returns ErrPoolExhausted when the pool is at capacity and no
// connection is returned in time.
func (p *Pool) Get() (*Connection, error) {
	if p.closed.Load() {
		return nil, ErrPoolClosed
	}

	// fast path, reuse an idle connection
	for {
		select {
		case c := <-p.free:
			if c.IsIdle(p.idleTimeout) {
				p.discard(c)
				continue
			}
			return c, nil
		default:
		}
		break
	}

	if c, err, created := p.tryDial(); created {
		return c, err
	}

	// at capacity, wait for a returned connection
	timer := time.NewTimer(p.acquireTimeout)
	defer timer.Stop()
	for {
		select {
		case c := <-p.free:
			if c.IsIdle(p.idleTimeout) {
				p.discard(c)
				// the discarded connection freed a slot
				if c, err, created := p.tryDial(); created {
					return c, err
				}
				continue
			}
			return c, nil
		case <-timer.C:
			metricPoolExhausted.Inc()
			return nil, ErrPoolExhausted
		}
	}
}

// tryDial attempts to claim a capacity slot and dial a new connection.
// The third return value reports whether a slot was claimed.
func (p *Pool) tryDial() (*Connection, error, bool) {
	for {
		n := p.total.Load()
		if int(n) >= p.capacity {
			return nil, nil, false
		}
		if !p.total.CompareAndSwap(n, n+1) {
			continue
		}

		c, err := NewConnection(p.address, p.loginTimeout)
		if err != nil {
			p.total.Add(-1)
			return nil, err, true
		}
		if err := p.handshake(c); err != nil {
			c.Close()
			p.total.Add(-1)
			return nil, err, true
		}
		return c, nil, true
	}
}

// handshake authenticates a fresh connection. The first connection of a
// pool performs the full login, later ones the cheaper authenticate.
func (p *Pool) handshake(c *Connection) error {
	if p.auth == nil {
		return nil
	}
	if p.loggedIn.CompareAndSwap(false, true) {
		if err := p.auth.Login(c); err != nil {
			// allow the next connection to retry the login
			p.loggedIn.Store(false)
			return err
		}
		return nil
	}
	return p.auth.Authenticate(c)
}

// Put returns a healthy connection to the pool. Connections that saw a
// protocol or io error must go through Invalidate instead, a desynced
// stream would poison the next caller.
func (p *Pool) Put(c *Connection) {
	if p.closed.Load() {
		p.discard(c)
		return
	}
	select {
	case p.free <- c:
	default:
		p.discard(c)
	}
}

// Invalidate closes a broken connection and frees its capacity slot
func (p *Pool) Invalidate(c *Connection) {
	p.discard(c)
}

func (p *Pool) discard(c *Connection) {
	c.Close()
	p.total.Add(-1)
}

// Len returns the number of currently open connections
func (p *Pool) Len() int {
	return int(p.total.Load())
}

// Address returns the node address this pool dials
func (p *Pool) Address() string {
	return p.address
}

// Close shuts the pool down and closes all idle connections. Connections
// currently handed out are closed when they are returned.
func (p *Pool) Close() {
	if !p.closed.CompareAndSwap(false, true) {
		return
	}
	close(p.stopCh)
	for {
		select {
		case c := <-p.free:
			p.discard(c)
		default:
			return
		}
	}
}
