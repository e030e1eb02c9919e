package ldap

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/hashicorp/terraform-plugin-log/tflog"
	"golang.org/x/sync/singleflight"
)

// DefaultSchemaCacheSize bounds the number of cached attribute type definitions.
const DefaultSchemaCacheSize = 1000

// AttributeTypeLoader fetches one attribute type definition from the directory.
type AttributeTypeLoader func(ctx context.Context, name string) (*AttributeTypeDefinition, error)

// SchemaCacheStats reports cache effectiveness.
type SchemaCacheStats struct {
	Size   int
	Hits   int64
	Misses int64
	Loads  int64
	Errors int64
}

// SchemaCache is a bounded, concurrency-safe cache of attribute type
// definitions. Concurrent misses for the same name share one load, and a
// failed load is never stored.
type SchemaCache struct {
	entries   *lru.Cache[string, *AttributeTypeDefinition]
	loads     singleflight.Group
	load      AttributeTypeLoader
	store     SchemaStore
	namespace string

	hits       atomic.Int64
	misses     atomic.Int64
	loadCount  atomic.Int64
	loadErrors atomic.Int64
}

// SchemaCacheOption configures a SchemaCache.
type SchemaCacheOption func(*SchemaCache)

// WithSchemaStore adds a shared second-level store. Keys are scoped by
// namespace, typically the directory URL, since schemas differ per server.
func WithSchemaStore(store SchemaStore, namespace string) SchemaCacheOption {
	return func(c *SchemaCache) {
		c.store = store
		c.namespace = namespace
	}
}

// NewSchemaCache creates a cache holding at most size definitions.
func NewSchemaCache(size int, load AttributeTypeLoader, opts ...SchemaCacheOption) (*SchemaCache, error) {
	if load == nil {
		return nil, fmt.Errorf("schema cache requires a loader")
	}
	if size <= 0 {
		size = DefaultSchemaCacheSize
	}

	entries, err := lru.New[string, *AttributeTypeDefinition](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create schema cache: %w", err)
	}

	c := &SchemaCache{
		entries: entries,
		load:    load,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// AttributeTypeDefinition returns the definition for name, loading it on a miss.
func (c *SchemaCache) AttributeTypeDefinition(ctx context.Context, name string) (*AttributeTypeDefinition, error) {
	key := strings.ToLower(name)

	if def, ok := c.entries.Get(key); ok {
		c.hits.Add(1)
		return def, nil
	}
	c.misses.Add(1)

	// The shared load must outlive the caller that started it, so it runs
	// detached from cancellation and each caller waits on its own context.
	loadCtx := context.WithoutCancel(ctx)
	loaded := c.loads.DoChan(key, func() (any, error) {
		// Another caller may have completed the load while we waited
		if def, ok := c.entries.Peek(key); ok {
			return def, nil
		}

		def, err := c.loadThrough(loadCtx, key, name)
		if err != nil {
			return nil, err
		}
		c.entries.Add(key, def)
		return def, nil
	})

	var res singleflight.Result
	select {
	case res = <-loaded:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if res.Err != nil {
		c.loadErrors.Add(1)
		tflog.SubsystemWarn(ctx, "schema", "Attribute type definition load failed", map[string]any{
			"attribute": name,
			"shared":    res.Shared,
			"error":     res.Err.Error(),
		})
		return nil, res.Err
	}

	return res.Val.(*AttributeTypeDefinition), nil
}

func (c *SchemaCache) loadThrough(ctx context.Context, key, name string) (*AttributeTypeDefinition, error) {
	storeKey := c.namespace + "/" + key

	if c.store != nil {
		def, ok, err := c.store.GetAttributeType(ctx, storeKey)
		switch {
		case err != nil:
			tflog.SubsystemWarn(ctx, "schema", "Schema store read failed, loading from directory", map[string]any{
				"attribute": name,
				"error":     err.Error(),
			})
		case ok:
			tflog.SubsystemTrace(ctx, "schema", "Attribute type definition served from schema store", map[string]any{
				"attribute": name,
			})
			return def, nil
		}
	}

	c.loadCount.Add(1)
	def, err := c.load(ctx, name)
	if err != nil {
		return nil, err
	}

	tflog.SubsystemDebug(ctx, "schema", "Attribute type definition loaded", map[string]any{
		"attribute":     name,
		"oid":           def.NumericOID,
		"single_valued": def.SingleValued,
	})

	if c.store != nil {
		if err := c.store.PutAttributeType(ctx, storeKey, def); err != nil {
			tflog.SubsystemWarn(ctx, "schema", "Schema store write failed", map[string]any{
				"attribute": name,
				"error":     err.Error(),
			})
		}
	}

	return def, nil
}

// Purge drops every cached definition.
func (c *SchemaCache) Purge() {
	c.entries.Purge()
}

// Len returns the number of cached definitions.
func (c *SchemaCache) Len() int {
	return c.entries.Len()
}

// Stats returns cache statistics.
func (c *SchemaCache) Stats() SchemaCacheStats {
	return SchemaCacheStats{
		Size:   c.entries.Len(),
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
		Loads:  c.loadCount.Load(),
		Errors: c.loadErrors.Load(),
	}
}
