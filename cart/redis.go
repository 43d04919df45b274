package cart

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mneepay/checkout/logger"
)

const (
	keyNamespace = "mneepay"
	cartPrefix   = "cart"
	eventsSuffix = "events"

	defaultCartTTL = 30 * 24 * time.Hour
)

type cmdable interface {
	Get(context.Context, string) *redis.StringCmd
	Set(context.Context, string, any, time.Duration) *redis.StatusCmd
	Del(context.Context, ...string) *redis.IntCmd
}

type pubSubber interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
	Subscribe(ctx context.Context, channels ...string) *redis.PubSub
}

// Key returns the namespaced storage key of a cart scope.
func Key(scope string) string {
	return buildKey(cartPrefix, scope)
}

// Channel returns the pub/sub channel of a cart scope.
func Channel(scope string) string {
	return buildKey(cartPrefix, scope, eventsSuffix)
}

func buildKey(parts ...string) string {
	filtered := make([]string, 0, len(parts)+1)
	filtered = append(filtered, keyNamespace)
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			filtered = append(filtered, p)
		}
	}
	return strings.Join(filtered, ":")
}

// RedisStorage persists cart snapshots as JSON strings.
type RedisStorage struct {
	store cmdable
	ttl   time.Duration
}

// NewRedisStorage wraps a redis client. A ttl of zero uses 30 days.
func NewRedisStorage(client redis.Cmdable, ttl time.Duration) *RedisStorage {
	if ttl <= 0 {
		ttl = defaultCartTTL
	}
	return &RedisStorage{store: client, ttl: ttl}
}

func (r *RedisStorage) Load(ctx context.Context, scope string) (*Snapshot, error) {
	data, err := r.store.Get(ctx, Key(scope)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}
	return DecodeSnapshot(data)
}

func (r *RedisStorage) Save(ctx context.Context, scope string, snap Snapshot) error {
	raw, err := EncodeSnapshot(snap)
	if err != nil {
		return err
	}
	if err := r.store.Set(ctx, Key(scope), string(raw), r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// Delete removes a scope's snapshot.
func (r *RedisStorage) Delete(ctx context.Context, scope string) error {
	if err := r.store.Del(ctx, Key(scope)).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

// RedisBroadcaster publishes snapshots on a per-scope pub/sub channel so
// stores in separate processes stay in sync.
type RedisBroadcaster struct {
	client pubSubber
	logger logger.Logger
}

func NewRedisBroadcaster(client *redis.Client, log logger.Logger) *RedisBroadcaster {
	return &RedisBroadcaster{client: client, logger: logger.OrNoop(log)}
}

func (b *RedisBroadcaster) Publish(ctx context.Context, scope string, snap Snapshot) error {
	raw, err := EncodeSnapshot(snap)
	if err != nil {
		return err
	}
	if err := b.client.Publish(ctx, Channel(scope), string(raw)).Err(); err != nil {
		return fmt.Errorf("redis publish failed: %w", err)
	}
	return nil
}

func (b *RedisBroadcaster) Subscribe(ctx context.Context, scope string, fn func(Snapshot)) (func(), error) {
	ps := b.client.Subscribe(ctx, Channel(scope))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis subscribe failed: %w", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for msg := range ps.Channel() {
			snap, err := DecodeSnapshot([]byte(msg.Payload))
			if err != nil {
				b.logger.Warn("dropping undecodable cart event", map[string]any{
					"scope": scope,
					"error": err,
				})
				continue
			}
			fn(*snap)
		}
	}()

	return func() {
		_ = ps.Close()
		<-done
	}, nil
}
