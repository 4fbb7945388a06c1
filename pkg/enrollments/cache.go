package enrollments

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/platinummonkey/registrar/pkg/config"
	"github.com/platinummonkey/registrar/pkg/observability"
)

// DetailsFetcher fetches program details from the provider.
type DetailsFetcher interface {
	GetProgramDetails(ctx context.Context, programKey string) (ProgramDetails, error)
}

// DetailsCache caches provider program details behind an in-process
// expirable LRU with an optional Redis layer shared across replicas.
// Misses fall through to the underlying fetcher.
type DetailsCache struct {
	source DetailsFetcher
	l1     *lru.LRU[string, ProgramDetails]
	redis  *redis.Client
	ttl    time.Duration
	logger *observability.Logger
}

// NewDetailsCache creates a details cache in front of source. A Redis
// layer is added when cfg.RedisURL is set; its connectivity is
// verified up front.
func NewDetailsCache(source DetailsFetcher, cfg config.CacheConfig, logger *observability.Logger) (*DetailsCache, error) {
	cache := &DetailsCache{
		source: source,
		l1:     lru.NewLRU[string, ProgramDetails](cfg.L1Size, nil, cfg.TTL),
		ttl:    cfg.TTL,
		logger: logger,
	}

	if cfg.RedisURL != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisURL,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(context.Background()).Err(); err != nil {
			return nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
		cache.redis = client
	}

	return cache, nil
}

// GetProgramDetails returns cached details for programKey, fetching
// and populating both layers on a miss.
func (c *DetailsCache) GetProgramDetails(ctx context.Context, programKey string) (ProgramDetails, error) {
	if details, ok := c.l1.Get(programKey); ok {
		return details, nil
	}

	if c.redis != nil {
		cached, err := c.redis.Get(ctx, cacheKey(programKey)).Result()
		if err == nil {
			var details ProgramDetails
			if err := json.Unmarshal([]byte(cached), &details); err == nil {
				c.l1.Add(programKey, details)
				return details, nil
			}
		}
	}

	details, err := c.source.GetProgramDetails(ctx, programKey)
	if err != nil {
		return ProgramDetails{}, err
	}

	c.l1.Add(programKey, details)
	if c.redis != nil {
		// Population is best-effort; a Redis hiccup must not fail the
		// read.
		data, err := json.Marshal(details)
		if err == nil {
			if err := c.redis.Set(ctx, cacheKey(programKey), data, c.ttl).Err(); err != nil {
				c.logger.WithError(err).Warn("failed to populate Redis details cache")
			}
		}
	}

	return details, nil
}

// Invalidate drops programKey from both cache layers.
func (c *DetailsCache) Invalidate(ctx context.Context, programKey string) {
	c.l1.Remove(programKey)
	if c.redis != nil {
		c.redis.Del(ctx, cacheKey(programKey))
	}
}

// Close releases the Redis connection if one is held.
func (c *DetailsCache) Close() error {
	if c.redis != nil {
		return c.redis.Close()
	}
	return nil
}

func cacheKey(programKey string) string {
	return "program-details:" + programKey
}
