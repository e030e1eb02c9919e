// Package connector exposes the caller-facing LDAP operations on top of a
// connection strategy.
package connector

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/terraform-plugin-log/tflog"
	"github.com/redis/go-redis/v9"

	ldapclient "github.com/isometry/ldap-connector/internal/ldap"
)

// Connector runs directory operations as the identity established by Bind.
// It is safe for concurrent use.
type Connector struct {
	config   *ldapclient.ConnectionConfig
	strategy *ldapclient.Strategy

	mu    sync.RWMutex
	creds *ldapclient.Credentials
}

// Option configures a Connector.
type Option func(*options)

type options struct {
	registry    *ldapclient.Registry
	schemaStore ldapclient.SchemaStore
}

// WithRegistry resolves the configured provider type from registry instead of
// the built-in one.
func WithRegistry(registry *ldapclient.Registry) Option {
	return func(o *options) {
		o.registry = registry
	}
}

// WithSchemaStore shares attribute type definitions between sessions through store.
func WithSchemaStore(store ldapclient.SchemaStore) Option {
	return func(o *options) {
		o.schemaStore = store
	}
}

// WithRedisSchemaStore shares attribute type definitions through Redis.
func WithRedisSchemaStore(rdb redis.Cmdable, ttl time.Duration) Option {
	return func(o *options) {
		o.schemaStore = ldapclient.NewRedisSchemaStore(rdb, ttl)
	}
}

// New creates an unbound Connector. No network traffic happens until Bind.
func New(ctx context.Context, config *ldapclient.ConnectionConfig, opts ...Option) (*Connector, error) {
	ctx = initializeLogging(ctx)

	// Only a config without a provider type was built by hand; one from
	// DefaultConfig keeps its explicit zero values, such as InitialPoolSize 0.
	if config == nil {
		config = ldapclient.DefaultConfig()
	} else if config.Type == "" {
		if err := config.ApplyDefaults(); err != nil {
			return nil, err
		}
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	var connOpts []ldapclient.ConnectionOption
	if o.schemaStore != nil {
		connOpts = append(connOpts, ldapclient.WithSharedSchemaStore(o.schemaStore))
	}

	strategy, err := ldapclient.NewStrategy(ctx, config, o.registry, connOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection strategy: %w", err)
	}

	tflog.SubsystemInfo(ctx, "connector", "Connector created", map[string]any{
		"url":            config.URL,
		"domain":         config.Domain,
		"strategy":       string(strategy.Mode()),
		"schema_enabled": config.SchemaEnabled,
	})

	return &Connector{
		config:   config,
		strategy: strategy,
	}, nil
}

// Config returns the connector configuration.
func (c *Connector) Config() *ldapclient.ConnectionConfig {
	return c.config
}

// Stats returns session pool statistics per bound identity.
func (c *Connector) Stats() map[string]ldapclient.PoolStats {
	return c.strategy.Stats()
}

// Bind authenticates as dn and makes it the identity for later operations.
// An empty mode uses the configured authentication mode. The bound identity's
// entry is returned when it can be read; anonymous binds return nil.
func (c *Connector) Bind(ctx context.Context, dn, password string, mode ldapclient.AuthMode) (*ldapclient.Entry, error) {
	ctx = initializeLogging(ctx)
	creds := ldapclient.Credentials{DN: dn, Password: password, Mode: mode}

	c.mu.Lock()
	previous := c.creds
	c.mu.Unlock()

	session, err := c.strategy.Acquire(ctx, creds)
	if err != nil {
		return nil, err
	}
	conn := session.Connection()

	if session.Reused() {
		if err := conn.Rebind(ctx); err != nil {
			session.Release(ctx, err)
			return nil, err
		}
	}

	boundDN := conn.BoundDN()
	tflog.SubsystemInfo(ctx, "connector", "Bind was successful", map[string]any{
		"bound_dn": identityForLog(boundDN),
	})

	var entry *ldapclient.Entry
	if boundDN != "" {
		// Some directories accept bind names that are not DNs, such as user@domain
		entry, err = conn.Lookup(ctx, boundDN)
		if err != nil {
			tflog.SubsystemWarn(ctx, "connector", "Cannot retrieve entry for bound identity", map[string]any{
				"bound_dn": boundDN,
				"error":    err.Error(),
			})
			entry = nil
		}
	} else {
		tflog.SubsystemDebug(ctx, "connector", "Anonymous bind returns no entry")
	}
	session.Release(ctx, nil)

	c.mu.Lock()
	c.creds = &creds
	c.mu.Unlock()

	if previous != nil && !sameIdentity(*previous, creds) {
		tflog.SubsystemInfo(ctx, "connector", "Replacing bound identity", map[string]any{
			"previous_dn": identityForLog(previous.DN),
			"bound_dn":    identityForLog(boundDN),
		})
		c.strategy.Disconnect(ctx, *previous)
	}

	return entry, nil
}

// Unbind closes the sessions of the bound identity. Later operations fail
// with a NotBound error until the next Bind.
func (c *Connector) Unbind(ctx context.Context) {
	ctx = initializeLogging(ctx)

	c.mu.Lock()
	creds := c.creds
	c.creds = nil
	c.mu.Unlock()

	if creds == nil {
		return
	}

	tflog.SubsystemDebug(ctx, "connector", "About to disconnect", map[string]any{
		"bound_dn": identityForLog(creds.DN),
	})
	c.strategy.Disconnect(ctx, *creds)
}

// Close unbinds and closes every session.
func (c *Connector) Close(ctx context.Context) error {
	ctx = initializeLogging(ctx)

	c.mu.Lock()
	c.creds = nil
	c.mu.Unlock()

	return c.strategy.Close(ctx)
}

func (c *Connector) credentials(operation string) (ldapclient.Credentials, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.creds == nil {
		return ldapclient.Credentials{}, ldapclient.NewLDAPError(operation, ldapclient.ErrNotBound)
	}
	return *c.creds, nil
}

// withSession runs fn on a session of the bound identity and releases it.
func withSession[T any](ctx context.Context, c *Connector, operation string, fn func(*ldapclient.Connection) (T, error)) (T, error) {
	var zero T

	creds, err := c.credentials(operation)
	if err != nil {
		return zero, err
	}

	session, err := c.strategy.Acquire(ctx, creds)
	if err != nil {
		return zero, err
	}

	result, err := fn(session.Connection())
	session.Release(ctx, err)
	return result, err
}

// run is withSession for operations without a result.
func (c *Connector) run(ctx context.Context, operation string, fn func(*ldapclient.Connection) error) error {
	_, err := withSession(ctx, c, operation, func(conn *ldapclient.Connection) (struct{}, error) {
		return struct{}{}, fn(conn)
	})
	return err
}

func sameIdentity(a, b ldapclient.Credentials) bool {
	return ldapclient.DNEqual(a.DN, b.DN) && a.Password == b.Password && a.Mode == b.Mode
}

func identityForLog(dn string) string {
	if dn == "" {
		return "anonymous"
	}
	return dn
}
