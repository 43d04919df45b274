package merchant

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mneepay/checkout/logger"
	"github.com/mneepay/checkout/types"
)

const defaultProductTTL = 5 * time.Minute

// ProductKey returns the cache key of a product config.
func ProductKey(productID string) string {
	return "mneepay:product:" + productID
}

// CachedResolver serves product configs from redis and falls back to next
// on a miss. Cache failures are logged and never fail the lookup.
func CachedResolver(client redis.Cmdable, ttl time.Duration, next ProductResolver, log logger.Logger) ProductResolver {
	if ttl <= 0 {
		ttl = defaultProductTTL
	}
	log = logger.OrNoop(log)

	return func(ctx context.Context, productID string) (*types.ProductConfig, error) {
		key := ProductKey(productID)
		raw, err := client.Get(ctx, key).Bytes()
		switch {
		case err == nil:
			var p types.ProductConfig
			if jerr := json.Unmarshal(raw, &p); jerr == nil {
				return &p, nil
			}
			log.Warn("discarding unreadable cached product", map[string]any{"product_id": productID})
		case !errors.Is(err, redis.Nil):
			log.Warn("product cache read failed", map[string]any{"product_id": productID, "error": err})
		}

		p, err := next(ctx, productID)
		if err != nil || p == nil {
			return p, err
		}
		if data, err := json.Marshal(p); err == nil {
			if err := client.Set(ctx, key, data, ttl).Err(); err != nil {
				log.Warn("product cache write failed", map[string]any{"product_id": productID, "error": err})
			}
		}
		return p, nil
	}
}
