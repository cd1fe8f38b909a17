package cachetier

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Remote is the L2 durable tier contract. A nil Remote disables L2 entirely;
// the composed Cache treats every call as a miss in that case.
type Remote interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	DeletePattern(ctx context.Context, pattern string) error
}

// RedisConfig configures the L2 client.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// RedisRemote implements Remote over a Redis client, giving the enrichment
// core a concrete durable L2 tier shared across process instances.
type RedisRemote struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisRemote dials Redis and verifies connectivity with a short-lived
// ping before returning, so configuration mistakes surface at startup
// rather than on the first cache lookup.
func NewRedisRemote(cfg RedisConfig) (*RedisRemote, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "enrichment:"
	}

	return &RedisRemote{client: client, keyPrefix: prefix}, nil
}

func (r *RedisRemote) namespaced(key string) string {
	return r.keyPrefix + key
}

// Get returns the stored value, reporting (nil, false, nil) on a cache miss
// and (nil, false, err) only on an actual Redis failure.
func (r *RedisRemote) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := r.client.Get(ctx, r.namespaced(key)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

// Set stores value with the given ttl. A ttl of zero means no expiration.
func (r *RedisRemote) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.client.Set(ctx, r.namespaced(key), value, ttl).Err()
}

// Delete removes a single key.
func (r *RedisRemote) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.namespaced(key)).Err()
}

// DeletePattern scans for keys matching a "prefix*" glob and deletes them in
// a batch. Uses SCAN rather than KEYS to avoid blocking the Redis event loop
// on large keyspaces.
func (r *RedisRemote) DeletePattern(ctx context.Context, pattern string) error {
	fullPattern := r.namespaced(pattern)
	var cursor uint64
	var keys []string

	for {
		batch, next, err := r.client.Scan(ctx, cursor, fullPattern, 100).Result()
		if err != nil {
			return err
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			break
		}
	}

	if len(keys) == 0 {
		return nil
	}
	return r.client.Del(ctx, keys...).Err()
}

// Close releases the underlying connection pool.
func (r *RedisRemote) Close() error {
	return r.client.Close()
}
