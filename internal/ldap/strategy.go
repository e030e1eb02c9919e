package ldap

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// StrategyMode names how sessions are shared between callers.
type StrategyMode string

const (
	// StrategySingle keeps one session per identity.
	StrategySingle StrategyMode = "single"
	// StrategyPooled keeps a bounded pool of sessions per identity.
	StrategyPooled StrategyMode = "pooled"
	// StrategyTLS keeps one StartTLS session per identity.
	StrategyTLS StrategyMode = "tls"
)

// Credentials identify the principal a session binds as.
type Credentials struct {
	DN       string
	Password string
	Mode     AuthMode // Empty uses the configured mode
}

// key distinguishes identities. The password is hashed so it never appears in a map key.
func (c Credentials) key(defaultMode AuthMode) string {
	mode := c.Mode
	if mode == "" {
		mode = defaultMode
	}
	if mode == AuthModeNone {
		return string(AuthModeNone)
	}
	sum := sha256.Sum256([]byte(c.Password))
	return string(mode) + "|" + strings.ToLower(c.DN) + "|" + hex.EncodeToString(sum[:])
}

// Strategy hands out bound sessions per credential identity. It is safe for
// concurrent use; each Session it returns belongs to one caller until released.
type Strategy struct {
	ctx      context.Context // Logging context for background eviction
	mode     StrategyMode
	config   *ConnectionConfig
	connOpts []ConnectionOption

	mu     sync.Mutex
	pools  map[string]*identityPool
	closed bool
}

// NewStrategy resolves the configured provider from registry and selects the
// strategy mode: TLS when TLSEnabled, pooled when InitialPoolSize > 0, single otherwise.
// A nil registry uses NewRegistry. Options apply to every Connection the strategy opens.
func NewStrategy(ctx context.Context, config *ConnectionConfig, registry *Registry, opts ...ConnectionOption) (*Strategy, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if registry == nil {
		registry = NewRegistry()
	}

	dialer, err := registry.Resolve(config.Type)
	if err != nil {
		return nil, err
	}

	mode := StrategySingle
	switch {
	case config.TLSEnabled:
		mode = StrategyTLS
	case config.InitialPoolSize > 0:
		mode = StrategyPooled
	}

	s := &Strategy{
		ctx:      ctx,
		mode:     mode,
		config:   config,
		connOpts: append([]ConnectionOption{WithDialer(dialer)}, opts...),
		pools:    make(map[string]*identityPool),
	}

	LogPoolEvent(ctx, "strategy_created", map[string]any{
		"mode":          string(mode),
		"provider_type": config.Type,
		"max_pool_size": config.MaxPoolSize,
	})
	return s, nil
}

// Mode returns the strategy mode.
func (s *Strategy) Mode() StrategyMode {
	return s.mode
}

// Config returns the configuration sessions are opened with.
func (s *Strategy) Config() *ConnectionConfig {
	return s.config
}

func (s *Strategy) poolOptions() poolOptions {
	if s.mode == StrategyPooled {
		return poolOptions{
			size:        s.config.MaxPoolSize,
			idleTimeout: s.config.PoolTimeout(),
		}
	}
	return poolOptions{size: 1}
}

// pool returns the pool of an identity, creating it on first use.
func (s *Strategy) pool(creds Credentials) (*identityPool, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, false, errPoolClosed
	}

	key := creds.key(s.config.Authentication)
	if p, ok := s.pools[key]; ok {
		return p, false, nil
	}

	config := *s.config
	if creds.Mode != "" {
		config.Authentication = creds.Mode
	}

	p := newIdentityPool(s.ctx, creds.DN, &config, s.poolOptions(), func(ctx context.Context) (*Connection, error) {
		conn, err := NewConnection(&config, s.connOpts...)
		if err != nil {
			return nil, err
		}
		if err := conn.Bind(ctx, creds.DN, creds.Password); err != nil {
			return nil, err
		}
		return conn, nil
	})
	s.pools[key] = p
	return p, true, nil
}

// dropPool forgets and closes p if it is still registered under key.
func (s *Strategy) dropPool(ctx context.Context, key string, p *identityPool) {
	s.mu.Lock()
	if s.pools[key] == p {
		delete(s.pools, key)
	}
	s.mu.Unlock()
	p.Close(ctx)
}

// Acquire checks out a session bound as creds. The first acquisition for an
// identity binds, so credential failures surface here. Release the session when done.
func (s *Strategy) Acquire(ctx context.Context, creds Credentials) (*Session, error) {
	p, created, err := s.pool(creds)
	if err != nil {
		return nil, NewLDAPError("acquire", err)
	}

	pc, err := p.Get(ctx)
	if err != nil {
		if created {
			s.dropPool(ctx, creds.key(s.config.Authentication), p)
		}
		return nil, err
	}

	if created && s.mode == StrategyPooled && s.config.InitialPoolSize > 1 {
		p.prewarm(ctx, s.config.InitialPoolSize-1)
	}

	return &Session{pool: p, pc: pc}, nil
}

// Disconnect closes every session of an identity.
func (s *Strategy) Disconnect(ctx context.Context, creds Credentials) {
	key := creds.key(s.config.Authentication)

	s.mu.Lock()
	p, ok := s.pools[key]
	delete(s.pools, key)
	s.mu.Unlock()

	if ok {
		LogPoolEvent(ctx, "identity_disconnected", p.fields(nil))
		p.Close(ctx)
	}
}

// Close closes every pool. Acquire fails afterwards.
func (s *Strategy) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	pools := s.pools
	s.pools = make(map[string]*identityPool)
	s.mu.Unlock()

	for _, p := range pools {
		p.Close(ctx)
	}

	LogPoolEvent(ctx, "strategy_closed", map[string]any{
		"mode":       string(s.mode),
		"identities": len(pools),
	})
	return nil
}

// Stats returns pool statistics keyed by bound DN ("anonymous" for anonymous sessions).
func (s *Strategy) Stats() map[string]PoolStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := make(map[string]PoolStats, len(s.pools))
	for _, p := range s.pools {
		name := identityForLog(p.identity)
		current := p.Stats()
		if prev, ok := stats[name]; ok {
			current = mergePoolStats(prev, current)
		}
		stats[name] = current
	}
	return stats
}

func mergePoolStats(a, b PoolStats) PoolStats {
	return PoolStats{
		Total:   a.Total + b.Total,
		Active:  a.Active + b.Active,
		Idle:    a.Idle + b.Idle,
		Created: a.Created + b.Created,
		Errors:  a.Errors + b.Errors,
		Evicted: a.Evicted + b.Evicted,
		Uptime:  max(a.Uptime, b.Uptime),
	}
}

// Session is a bound Connection checked out of a Strategy.
type Session struct {
	pool     *identityPool
	pc       *pooledConnection
	released bool
}

// Connection returns the bound connection. It must not be used after Release.
func (s *Session) Connection() *Connection {
	return s.pc.conn
}

// Reused reports whether the session was bound by an earlier acquisition.
func (s *Session) Reused() bool {
	return s.pc.uses > 1
}

// Release hands the session back. A communication failure in opErr closes the
// session instead of returning it to the pool. Releasing twice is a no-op.
func (s *Session) Release(ctx context.Context, opErr error) {
	if s == nil || s.released {
		return
	}
	s.released = true
	s.pool.Put(ctx, s.pc, IsCommunicationError(opErr) || errors.Is(opErr, errPoolClosed))
}
