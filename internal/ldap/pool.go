package ldap

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

var errPoolClosed = errors.New("connection pool is closed")

// pooledConnection is a bound Connection owned by an identityPool.
type pooledConnection struct {
	conn     *Connection
	lastUsed time.Time
	uses     int
}

type poolOptions struct {
	size        int           // Upper bound on sessions checked out and idle
	idleTimeout time.Duration // 0 keeps idle sessions until the pool closes
}

// identityPool holds the bound sessions of one credential identity.
type identityPool struct {
	ctx      context.Context // Logging context with pool subsystem
	identity string
	config   *ConnectionConfig
	options  poolOptions
	open     func(ctx context.Context) (*Connection, error)

	idle  chan *pooledConnection
	slots chan struct{}
	mu    sync.RWMutex

	closed bool

	// Statistics
	activeConns  atomic.Int64
	totalCreated atomic.Int64
	totalErrors  atomic.Int64
	totalEvicted atomic.Int64
	startTime    time.Time

	// Idle eviction
	evictTicker *time.Ticker
	evictStop   chan struct{}
	evictWg     sync.WaitGroup
}

func newIdentityPool(ctx context.Context, identity string, config *ConnectionConfig, options poolOptions,
	open func(ctx context.Context) (*Connection, error),
) *identityPool {
	if options.size <= 0 {
		options.size = 1
	}

	p := &identityPool{
		ctx:       ctx,
		identity:  identity,
		config:    config,
		options:   options,
		open:      open,
		idle:      make(chan *pooledConnection, options.size),
		slots:     make(chan struct{}, options.size),
		startTime: time.Now(),
		evictStop: make(chan struct{}),
	}

	if options.idleTimeout > 0 {
		p.startEvictor()
	}

	return p
}

func (p *identityPool) fields(extra map[string]any) map[string]any {
	fields := map[string]any{
		"identity":  identityForLog(p.identity),
		"pool_size": p.options.size,
	}
	for k, v := range extra {
		fields[k] = v
	}
	return fields
}

func (p *identityPool) isClosed() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.closed
}

// Get checks a session out, waiting for a free slot when the pool is at capacity.
func (p *identityPool) Get(ctx context.Context) (*pooledConnection, error) {
	if p.isClosed() {
		return nil, errPoolClosed
	}

	select {
	case p.slots <- struct{}{}:
	default:
		LogPoolEvent(ctx, "pool_exhausted", p.fields(map[string]any{
			"active": p.activeConns.Load(),
		}))
		select {
		case p.slots <- struct{}{}:
		case <-ctx.Done():
			return nil, Classify("acquire", ctx.Err())
		}
	}

	if pc := p.takeIdle(ctx); pc != nil {
		pc.lastUsed = time.Now()
		pc.uses++
		p.activeConns.Add(1)
		LogPoolEvent(ctx, "connection_acquired", p.fields(map[string]any{
			"connection_id": pc.conn.ID(),
			"reused":        true,
		}))
		return pc, nil
	}

	pc, err := p.create(ctx)
	if err != nil {
		<-p.slots
		return nil, err
	}

	pc.uses = 1
	p.activeConns.Add(1)
	LogPoolEvent(ctx, "connection_acquired", p.fields(map[string]any{
		"connection_id": pc.conn.ID(),
		"reused":        false,
	}))
	return pc, nil
}

// takeIdle returns the first usable idle session, discarding stale ones on the way.
func (p *identityPool) takeIdle(ctx context.Context) *pooledConnection {
	for {
		select {
		case pc, ok := <-p.idle:
			if !ok {
				return nil
			}
			if p.usable(pc) {
				return pc
			}
			p.discard(ctx, pc, "idle_timeout")
		default:
			return nil
		}
	}
}

// create opens and binds a new session, retrying retryable failures with
// exponential backoff.
func (p *identityPool) create(ctx context.Context) (*pooledConnection, error) {
	var lastErr error
	backoff := p.config.InitialBackoff

	for attempt := 0; attempt <= p.config.MaxRetries; attempt++ {
		conn, err := p.open(ctx)
		if err == nil {
			p.totalCreated.Add(1)
			return &pooledConnection{conn: conn, lastUsed: time.Now()}, nil
		}

		lastErr = err
		p.totalErrors.Add(1)
		LogPoolEvent(ctx, "connection_failed", p.fields(map[string]any{
			"attempt": attempt + 1,
			"error":   err.Error(),
		}))

		if !IsRetryableError(err) {
			return nil, err
		}

		if attempt < p.config.MaxRetries {
			select {
			case <-ctx.Done():
				return nil, Classify("acquire", ctx.Err())
			case <-time.After(backoff):
				backoff = min(time.Duration(float64(backoff)*p.config.BackoffFactor), p.config.MaxBackoff)
			}
		}
	}

	LogPoolEvent(ctx, "all_connections_failed", p.fields(map[string]any{
		"attempts": p.config.MaxRetries + 1,
	}))
	return nil, lastErr
}

// prewarm opens up to n idle sessions. Failures are logged and stop the warm up.
func (p *identityPool) prewarm(ctx context.Context, n int) {
	for range n {
		pc, err := p.create(ctx)
		if err != nil {
			LogPoolEvent(ctx, "prewarm_failed", p.fields(map[string]any{"error": err.Error()}))
			return
		}
		if !p.offer(pc) {
			p.discard(ctx, pc, "pool_full")
			return
		}
	}
	LogPoolEvent(ctx, "pool_initialized", p.fields(map[string]any{"idle": len(p.idle)}))
}

// Put returns a session. Broken sessions are closed instead of pooled.
func (p *identityPool) Put(ctx context.Context, pc *pooledConnection, broken bool) {
	if pc == nil {
		return
	}
	p.activeConns.Add(-1)
	defer func() { <-p.slots }()

	if broken || pc.conn.IsClosed() {
		p.discard(ctx, pc, "broken")
		return
	}

	pc.lastUsed = time.Now()
	if !p.offer(pc) {
		p.discard(ctx, pc, "pool_closed")
		return
	}

	LogPoolEvent(ctx, "connection_released", p.fields(map[string]any{
		"connection_id": pc.conn.ID(),
	}))
}

// offer puts pc back on the idle channel unless the pool is closed or full.
func (p *identityPool) offer(pc *pooledConnection) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return false
	}
	select {
	case p.idle <- pc:
		return true
	default:
		return false
	}
}

func (p *identityPool) usable(pc *pooledConnection) bool {
	if pc == nil || pc.conn == nil || pc.conn.IsClosed() {
		return false
	}
	return p.options.idleTimeout <= 0 || time.Since(pc.lastUsed) < p.options.idleTimeout
}

func (p *identityPool) discard(ctx context.Context, pc *pooledConnection, reason string) {
	if pc == nil || pc.conn == nil {
		return
	}
	if reason == "idle_timeout" {
		p.totalEvicted.Add(1)
	}
	if err := pc.conn.Close(); err != nil {
		LogPoolEvent(ctx, "connection_close_failed", p.fields(map[string]any{
			"connection_id": pc.conn.ID(),
			"error":         err.Error(),
		}))
	}
	LogPoolEvent(ctx, "connection_discarded", p.fields(map[string]any{
		"connection_id": pc.conn.ID(),
		"reason":        reason,
	}))
}

// Close closes every idle session. Sessions still checked out are closed
// when they are returned.
func (p *identityPool) Close(ctx context.Context) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	if p.evictTicker != nil {
		close(p.evictStop)
		p.evictWg.Wait()
		p.evictTicker.Stop()
	}

	p.mu.Lock()
	close(p.idle)
	p.mu.Unlock()

	for pc := range p.idle {
		p.discard(ctx, pc, "pool_closed")
	}
}

// Stats returns pool statistics.
func (p *identityPool) Stats() PoolStats {
	idle := len(p.idle)
	active := p.activeConns.Load()

	return PoolStats{
		Total:   idle + int(active),
		Active:  active,
		Idle:    idle,
		Created: p.totalCreated.Load(),
		Errors:  p.totalErrors.Load(),
		Evicted: p.totalEvicted.Load(),
		Uptime:  time.Since(p.startTime),
	}
}

// startEvictor checks idle sessions twice per idle timeout.
func (p *identityPool) startEvictor() {
	interval := max(p.options.idleTimeout/2, 100*time.Millisecond)
	p.evictTicker = time.NewTicker(interval)

	p.evictWg.Go(func() {
		for {
			select {
			case <-p.evictTicker.C:
				p.evictIdle()
			case <-p.evictStop:
				return
			}
		}
	})
}

// evictIdle closes expired idle sessions and pings up to three of the others.
func (p *identityPool) evictIdle() {
	ctx, cancel := context.WithTimeout(p.ctx, p.config.Timeout)
	defer cancel()

	var toCheck []*pooledConnection
drain:
	for range cap(p.idle) {
		select {
		case pc, ok := <-p.idle:
			if !ok {
				break drain
			}
			toCheck = append(toCheck, pc)
		default:
			break drain
		}
	}

	pinged := 0
	for _, pc := range toCheck {
		if !p.usable(pc) {
			p.discard(ctx, pc, "idle_timeout")
			continue
		}
		if pinged < 3 {
			pinged++
			if err := pc.conn.Ping(ctx); err != nil {
				LogPoolEvent(ctx, "health_check_failed", p.fields(map[string]any{
					"connection_id": pc.conn.ID(),
					"error":         err.Error(),
				}))
				p.discard(ctx, pc, "health_check_failed")
				continue
			}
		}
		if !p.offer(pc) {
			p.discard(ctx, pc, "pool_closed")
		}
	}
}
