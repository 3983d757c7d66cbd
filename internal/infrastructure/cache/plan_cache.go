package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/voxsuite/backend/internal/domain/metering"
)

const (
	planKeyPrefix  = "vox:plans:"
	planCatalogKey = "vox:plans:catalog"
)

// RedisPlanCache is a read-through cache in front of a PlanRepository. The
// plan catalog is small and changes rarely, so entries live for a short TTL
// and cache failures fall back to the inner repository.
type RedisPlanCache struct {
	client *redis.Client
	inner  metering.PlanRepository
	ttl    time.Duration
	logger *zap.Logger
}

// RedisPlanCacheOption is a functional option for configuring the cache
type RedisPlanCacheOption func(*RedisPlanCache)

// WithPlanCacheTTL sets the cache entry lifetime
func WithPlanCacheTTL(ttl time.Duration) RedisPlanCacheOption {
	return func(c *RedisPlanCache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithPlanCacheLogger sets the logger for the cache
func WithPlanCacheLogger(logger *zap.Logger) RedisPlanCacheOption {
	return func(c *RedisPlanCache) {
		c.logger = logger
	}
}

// NewRedisPlanCache creates a plan cache with an existing Redis client.
// The caller retains ownership of the client.
func NewRedisPlanCache(client *redis.Client, inner metering.PlanRepository, opts ...RedisPlanCacheOption) *RedisPlanCache {
	cache := &RedisPlanCache{
		client: client,
		inner:  inner,
		ttl:    5 * time.Minute,
		logger: zap.NewNop(),
	}

	for _, opt := range opts {
		opt(cache)
	}

	return cache
}

func (c *RedisPlanCache) planKey(id string) string {
	return planKeyPrefix + id
}

// FindByID returns the cached plan or reads through to the inner repository
func (c *RedisPlanCache) FindByID(ctx context.Context, id string) (*metering.Plan, error) {
	key := c.planKey(id)

	data, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		var plan metering.Plan
		if err := json.Unmarshal(data, &plan); err == nil {
			return &plan, nil
		}
		c.logger.Warn("Dropping corrupt plan cache entry", zap.String("plan_id", id))
		c.client.Del(ctx, key)
	} else if err != redis.Nil {
		c.logger.Warn("Plan cache read failed, falling back to repository",
			zap.String("plan_id", id),
			zap.Error(err))
	}

	plan, err := c.inner.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	c.store(ctx, key, plan)
	return plan, nil
}

// FindAll returns the cached catalog or reads through to the inner repository
func (c *RedisPlanCache) FindAll(ctx context.Context) ([]*metering.Plan, error) {
	data, err := c.client.Get(ctx, planCatalogKey).Bytes()
	if err == nil {
		var plans []*metering.Plan
		if err := json.Unmarshal(data, &plans); err == nil {
			return plans, nil
		}
		c.logger.Warn("Dropping corrupt plan catalog cache entry")
		c.client.Del(ctx, planCatalogKey)
	} else if err != redis.Nil {
		c.logger.Warn("Plan catalog cache read failed, falling back to repository", zap.Error(err))
	}

	plans, err := c.inner.FindAll(ctx)
	if err != nil {
		return nil, err
	}

	c.store(ctx, planCatalogKey, plans)
	return plans, nil
}

// Invalidate removes a single plan from the cache along with the catalog entry
func (c *RedisPlanCache) Invalidate(ctx context.Context, id string) error {
	if err := c.client.Del(ctx, c.planKey(id), planCatalogKey).Err(); err != nil {
		return fmt.Errorf("failed to invalidate plan cache: %w", err)
	}
	return nil
}

// store writes a cache entry, logging failures instead of surfacing them
func (c *RedisPlanCache) store(ctx context.Context, key string, value interface{}) {
	data, err := json.Marshal(value)
	if err != nil {
		c.logger.Warn("Failed to marshal plan cache entry", zap.String("key", key), zap.Error(err))
		return
	}
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.logger.Warn("Failed to write plan cache entry", zap.String("key", key), zap.Error(err))
	}
}

// Ensure RedisPlanCache implements the interface
var _ metering.PlanRepository = (*RedisPlanCache)(nil)
