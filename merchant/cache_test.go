package merchant

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mneepay/checkout/types"
)

func TestCachedResolver(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	calls := 0
	next := func(_ context.Context, id string) (*types.ProductConfig, error) {
		calls++
		if id == "ghost" {
			return nil, types.NewError(types.ErrNotFound, "checkout button ghost not found")
		}
		return &types.ProductConfig{ID: id, PriceCents: 2500, TaxRatePercent: 5}, nil
	}
	resolve := CachedResolver(client, time.Minute, next, nil)
	ctx := context.Background()

	p, err := resolve(ctx, "tee")
	require.NoError(t, err)
	assert.Equal(t, int64(2500), p.PriceCents)
	assert.True(t, mr.Exists(ProductKey("tee")))
	assert.Equal(t, time.Minute, mr.TTL(ProductKey("tee")))

	p, err = resolve(ctx, "tee")
	require.NoError(t, err)
	assert.Equal(t, 5.0, p.TaxRatePercent)
	assert.Equal(t, 1, calls)

	mr.FastForward(2 * time.Minute)
	_, err = resolve(ctx, "tee")
	require.NoError(t, err)
	assert.Equal(t, 2, calls)

	_, err = resolve(ctx, "ghost")
	assert.True(t, types.IsCode(err, types.ErrNotFound))
	assert.False(t, mr.Exists(ProductKey("ghost")))

	require.NoError(t, mr.Set(ProductKey("broken"), "{"))
	p, err = resolve(ctx, "broken")
	require.NoError(t, err)
	assert.Equal(t, "broken", p.ID)
}

func TestCachedResolverSurvivesRedisOutage(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	mr.Close()

	resolve := CachedResolver(client, 0, func(_ context.Context, id string) (*types.ProductConfig, error) {
		return &types.ProductConfig{ID: id}, nil
	}, nil)

	p, err := resolve(context.Background(), "tee")
	require.NoError(t, err)
	assert.Equal(t, "tee", p.ID)
}
