// Package pool provides the bounded connection pool: acquire and
// release with FIFO waiters, LIFO idle reuse, validation on acquire
// and periodic idle eviction.
package pool

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Pool errors.
var (
	// ErrClosed is returned when acquiring from a destroyed pool.
	ErrClosed = errors.New("pool is closed")

	// ErrAcquireTimeout is returned when no connection became
	// available within the acquire timeout.
	ErrAcquireTimeout = errors.New("pool acquire timeout")
)

// Connection wraps one adapter-owned handle with process-unique
// identifiers for logging and transaction affinity.
type Connection struct {
	// UID identifies the connection in logs and events.
	UID string

	// TxID is set while the connection is pinned to a transaction;
	// pinned connections never return to the idle list.
	TxID string

	// Depth ref-counts nested savepoints on a pinned connection.
	Depth int

	// Raw is the adapter's opaque handle.
	Raw interface{}

	idleSince time.Time
}

// Config parameterizes a pool. Create, Destroy and Validate bridge
// to the driver adapter.
type Config struct {
	Min int
	Max int

	IdleTimeout         time.Duration
	AcquireTimeout      time.Duration
	CreateTimeout       time.Duration
	DestroyTimeout      time.Duration
	CreateRetryInterval time.Duration
	ReapInterval        time.Duration

	// PropagateCreateError surfaces the first create failure to the
	// waiting acquirer instead of retrying until timeout.
	PropagateCreateError bool

	Create   func(ctx context.Context) (interface{}, error)
	Destroy  func(raw interface{}) error
	Validate func(ctx context.Context, raw interface{}) bool

	// AfterCreate runs once per fresh connection before first use.
	AfterCreate func(ctx context.Context, conn *Connection) error
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.Max <= 0 {
		out.Max = 10
	}
	if out.Min < 0 {
		out.Min = 0
	}
	if out.Min > out.Max {
		out.Min = out.Max
	}
	if out.AcquireTimeout <= 0 {
		out.AcquireTimeout = 60 * time.Second
	}
	if out.CreateTimeout <= 0 {
		out.CreateTimeout = 30 * time.Second
	}
	if out.IdleTimeout <= 0 {
		out.IdleTimeout = 30 * time.Minute
	}
	if out.CreateRetryInterval <= 0 {
		out.CreateRetryInterval = 200 * time.Millisecond
	}
	if out.ReapInterval <= 0 {
		out.ReapInterval = time.Minute
	}
	return out
}

// Stats is a point-in-time snapshot of pool state.
type Stats struct {
	Open     int
	InUse    int
	Idle     int
	Waiters  int
	Served   int64
	TimedOut int64
}

type waiter struct {
	ch chan *Connection
}

// Pool is a bounded connection pool. At most Max connections are
// live; waiters are served in FIFO order; the idle list is LIFO so
// warm connections are reused first.
type Pool struct {
	cfg Config

	mu      sync.Mutex
	idle    []*Connection
	inUse   map[*Connection]bool
	waiters []*waiter
	total   int
	closed  bool

	served   int64
	timedOut int64

	stop chan struct{}
	wg   sync.WaitGroup
}

// New builds a pool and starts its idle reaper. Connections are
// created on demand, not eagerly; Min only bounds eviction.
func New(cfg Config) *Pool {
	p := &Pool{
		cfg:   cfg.withDefaults(),
		inUse: map[*Connection]bool{},
		stop:  make(chan struct{}),
	}
	p.wg.Add(1)
	go p.reapLoop()
	return p
}

// Acquire returns an exclusive connection: an idle one, a freshly
// created one, or — at capacity — the next released one, FIFO.
func (p *Pool) Acquire(ctx context.Context) (*Connection, error) {
	deadline := time.Now().Add(p.cfg.AcquireTimeout)
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, ErrClosed
		}
		if n := len(p.idle); n > 0 {
			conn := p.idle[n-1]
			p.idle = p.idle[:n-1]
			p.inUse[conn] = true
			p.mu.Unlock()
			if p.cfg.Validate != nil && !p.cfg.Validate(ctx, conn.Raw) {
				p.destroyConn(conn)
				continue
			}
			p.mu.Lock()
			p.served++
			p.mu.Unlock()
			return conn, nil
		}
		if p.total < p.cfg.Max {
			p.total++
			p.mu.Unlock()
			conn, err := p.create(ctx)
			if err != nil {
				p.mu.Lock()
				p.total--
				p.mu.Unlock()
				if p.cfg.PropagateCreateError {
					return nil, err
				}
				if time.Now().Add(p.cfg.CreateRetryInterval).After(deadline) {
					p.markTimeout()
					return nil, ErrAcquireTimeout
				}
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				case <-time.After(p.cfg.CreateRetryInterval):
				}
				continue
			}
			p.mu.Lock()
			p.inUse[conn] = true
			p.served++
			p.mu.Unlock()
			return conn, nil
		}

		w := &waiter{ch: make(chan *Connection, 1)}
		p.waiters = append(p.waiters, w)
		p.mu.Unlock()

		wait := time.Until(deadline)
		timer := time.NewTimer(wait)
		select {
		case conn := <-w.ch:
			timer.Stop()
			if conn == nil {
				return nil, ErrClosed
			}
			p.mu.Lock()
			p.served++
			p.mu.Unlock()
			return conn, nil
		case <-ctx.Done():
			timer.Stop()
			p.dropWaiter(w)
			return nil, ctx.Err()
		case <-timer.C:
			p.dropWaiter(w)
			p.markTimeout()
			return nil, ErrAcquireTimeout
		}
	}
}

// Release returns a connection to the pool, handing it to the oldest
// waiter when one is queued. Transaction-pinned connections must be
// unpinned before release.
func (p *Pool) Release(conn *Connection) {
	p.mu.Lock()
	if !p.inUse[conn] {
		p.mu.Unlock()
		return
	}
	if p.closed {
		delete(p.inUse, conn)
		p.total--
		p.mu.Unlock()
		p.destroyRaw(conn)
		return
	}
	if len(p.waiters) > 0 {
		w := p.waiters[0]
		p.waiters = p.waiters[1:]
		p.mu.Unlock()
		w.ch <- conn
		return
	}
	delete(p.inUse, conn)
	conn.idleSince = time.Now()
	p.idle = append(p.idle, conn)
	p.mu.Unlock()
}

// Destroy removes a connection from the pool permanently, e.g. after
// a failed validation or a connection-kind error.
func (p *Pool) Destroy(conn *Connection) {
	p.destroyConn(conn)
	p.serveWaiterWithFresh()
}

func (p *Pool) destroyConn(conn *Connection) {
	p.mu.Lock()
	delete(p.inUse, conn)
	p.total--
	p.mu.Unlock()
	p.destroyRaw(conn)
}

func (p *Pool) destroyRaw(conn *Connection) {
	if p.cfg.Destroy == nil {
		return
	}
	done := make(chan struct{})
	go func() {
		_ = p.cfg.Destroy(conn.Raw)
		close(done)
	}()
	if p.cfg.DestroyTimeout > 0 {
		select {
		case <-done:
		case <-time.After(p.cfg.DestroyTimeout):
		}
		return
	}
	<-done
}

// serveWaiterWithFresh backfills capacity freed by Destroy while
// acquirers are queued.
func (p *Pool) serveWaiterWithFresh() {
	p.mu.Lock()
	if p.closed || len(p.waiters) == 0 || p.total >= p.cfg.Max {
		p.mu.Unlock()
		return
	}
	w := p.waiters[0]
	p.waiters = p.waiters[1:]
	p.total++
	p.mu.Unlock()

	conn, err := p.create(context.Background())
	if err != nil {
		p.mu.Lock()
		p.total--
		p.mu.Unlock()
		w.ch <- nil
		return
	}
	p.mu.Lock()
	p.inUse[conn] = true
	p.mu.Unlock()
	w.ch <- conn
}

func (p *Pool) create(ctx context.Context) (*Connection, error) {
	cctx, cancel := context.WithTimeout(ctx, p.cfg.CreateTimeout)
	defer cancel()
	raw, err := p.cfg.Create(cctx)
	if err != nil {
		return nil, err
	}
	conn := &Connection{UID: uuid.NewString(), Raw: raw}
	if p.cfg.AfterCreate != nil {
		if err := p.cfg.AfterCreate(cctx, conn); err != nil {
			_ = p.cfg.Destroy(raw)
			return nil, err
		}
	}
	return conn, nil
}

func (p *Pool) dropWaiter(w *waiter) {
	p.mu.Lock()
	for i, queued := range p.waiters {
		if queued == w {
			p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
			break
		}
	}
	p.mu.Unlock()
	// a hand-off may have raced the timeout; return it
	select {
	case conn := <-w.ch:
		if conn != nil {
			p.Release(conn)
		}
	default:
	}
}

func (p *Pool) markTimeout() {
	p.mu.Lock()
	p.timedOut++
	p.mu.Unlock()
}

// Stats returns a snapshot of the pool.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Open:     p.total,
		InUse:    len(p.inUse),
		Idle:     len(p.idle),
		Waiters:  len(p.waiters),
		Served:   p.served,
		TimedOut: p.timedOut,
	}
}

// reapLoop evicts connections idle past IdleTimeout, keeping Min.
func (p *Pool) reapLoop() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.ReapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			p.reap()
		}
	}
}

func (p *Pool) reap() {
	cutoff := time.Now().Add(-p.cfg.IdleTimeout)
	var evict []*Connection
	p.mu.Lock()
	for len(p.idle) > 0 && p.total > p.cfg.Min {
		// oldest idle entries sit at the front of the LIFO list
		conn := p.idle[0]
		if conn.idleSince.After(cutoff) {
			break
		}
		p.idle = p.idle[1:]
		p.total--
		evict = append(evict, conn)
	}
	p.mu.Unlock()
	for _, conn := range evict {
		p.destroyRaw(conn)
	}
}

// Close destroys idle connections, fails queued waiters and marks
// the pool unusable. In-use connections are destroyed on release.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	idle := p.idle
	p.idle = nil
	waiters := p.waiters
	p.waiters = nil
	p.total -= len(idle)
	p.mu.Unlock()

	close(p.stop)
	for _, w := range waiters {
		w.ch <- nil
	}
	for _, conn := range idle {
		p.destroyRaw(conn)
	}
	p.wg.Wait()
}
