package backend

import (
	"context"
	"slices"
	"time"

	"github.com/mselser95/venuecoord/pkg/cache"
	"github.com/mselser95/venuecoord/pkg/types"
)

// CachedClient wraps a Client and memoizes instance discovery per exchange.
// Every other call passes straight through.
type CachedClient struct {
	Client
	cache cache.Cache
	ttl   time.Duration
}

// NewCachedClient creates a client that caches instance lookups for ttl.
func NewCachedClient(client Client, c cache.Cache, ttl time.Duration) *CachedClient {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}

	return &CachedClient{
		Client: client,
		cache:  c,
		ttl:    ttl,
	}
}

func instancesKey(exchange string) string {
	return "instances:" + exchange
}

// GetInstancesByExchange returns cached instances when fresh, otherwise asks the backend.
func (c *CachedClient) GetInstancesByExchange(ctx context.Context, exchange string) ([]types.Instance, error) {
	if c.cache != nil {
		if cached, ok := c.cache.Get(instancesKey(exchange)); ok {
			if instances, ok := cached.([]types.Instance); ok {
				InstanceCacheTotal.WithLabelValues("hit").Inc()
				return slices.Clone(instances), nil
			}
		}
		InstanceCacheTotal.WithLabelValues("miss").Inc()
	}

	instances, err := c.Client.GetInstancesByExchange(ctx, exchange)
	if err != nil {
		return nil, err
	}

	// Empty answers are not cached so a recovering exchange is picked up on the next call.
	if c.cache != nil && len(instances) > 0 {
		c.cache.Set(instancesKey(exchange), slices.Clone(instances), c.ttl)
	}

	return instances, nil
}

// DeployStrategy deploys through the wrapped client and drops the cached
// instances of the strategy's exchange. Either outcome changes instance load.
func (c *CachedClient) DeployStrategy(ctx context.Context, instanceID string, spec types.StrategySpec) (*types.StrategyExecutionRecord, error) {
	record, err := c.Client.DeployStrategy(ctx, instanceID, spec)
	c.Invalidate(spec.Exchange)
	if err != nil {
		return nil, err
	}
	return record, nil
}

// Invalidate forgets the cached instances of exchange.
func (c *CachedClient) Invalidate(exchange string) {
	if c.cache != nil {
		c.cache.Delete(instancesKey(exchange))
	}
}

var _ Client = (*CachedClient)(nil)
