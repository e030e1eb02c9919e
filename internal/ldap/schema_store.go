package ldap

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// Cache key prefix
	schemaStorePrefix = "ldap:schema:attributeType:"

	defaultSchemaStoreTTL = time.Hour
)

// SchemaStore is a second-level attribute type definition store shared
// between processes. A miss is reported as (nil, false, nil).
type SchemaStore interface {
	GetAttributeType(ctx context.Context, key string) (*AttributeTypeDefinition, bool, error)
	PutAttributeType(ctx context.Context, key string, def *AttributeTypeDefinition) error
}

// RedisSchemaStore provides Redis-backed storage for attribute type definitions.
type RedisSchemaStore struct {
	rdb redis.Cmdable
	ttl time.Duration
}

// NewRedisSchemaStore creates a schema store backed by Redis.
func NewRedisSchemaStore(rdb redis.Cmdable, ttl time.Duration) *RedisSchemaStore {
	if ttl == 0 {
		ttl = defaultSchemaStoreTTL
	}
	return &RedisSchemaStore{
		rdb: rdb,
		ttl: ttl,
	}
}

// GetAttributeType retrieves a cached definition.
func (s *RedisSchemaStore) GetAttributeType(ctx context.Context, key string) (*AttributeTypeDefinition, bool, error) {
	if s.rdb == nil {
		return nil, false, nil
	}

	data, err := s.rdb.Get(ctx, schemaStorePrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get: %w", err)
	}

	var def AttributeTypeDefinition
	if err := json.Unmarshal([]byte(data), &def); err != nil {
		return nil, false, fmt.Errorf("unmarshal attribute type: %w", err)
	}

	return &def, true, nil
}

// PutAttributeType caches a definition for the store TTL.
func (s *RedisSchemaStore) PutAttributeType(ctx context.Context, key string, def *AttributeTypeDefinition) error {
	if s.rdb == nil {
		return nil
	}

	data, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("marshal attribute type: %w", err)
	}

	if err := s.rdb.Set(ctx, schemaStorePrefix+key, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}

	return nil
}

// Invalidate removes a cached definition.
func (s *RedisSchemaStore) Invalidate(ctx context.Context, key string) error {
	if s.rdb == nil {
		return nil
	}
	return s.rdb.Del(ctx, schemaStorePrefix+key).Err()
}
