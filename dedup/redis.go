package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultKeyPrefix namespaces dedup keys in Redis.
const DefaultKeyPrefix = "pushrelay:dedup:"

// MarkSuffix is appended to a store prefix to namespace open marks.
const MarkSuffix = "marks:"

// RedisStore is a first-seen set backed by Redis SET NX, shared between
// processes and durable across restarts.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore wraps an existing client. ttl of zero keeps keys forever.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: DefaultKeyPrefix,
		ttl:    ttl,
	}
}

// DialRedis parses redisURL, connects and verifies the connection.
func DialRedis(ctx context.Context, redisURL string, ttl time.Duration) (*RedisStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return NewRedisStore(client, ttl), nil
}

// WithPrefix returns a copy of the store writing under prefix.
func (s *RedisStore) WithPrefix(prefix string) *RedisStore {
	cpy := *s
	cpy.prefix = prefix
	return &cpy
}

// WithTTL returns a copy of the store whose keys expire after ttl. Zero keeps
// them forever.
func (s *RedisStore) WithTTL(ttl time.Duration) *RedisStore {
	cpy := *s
	cpy.ttl = ttl
	return &cpy
}

// Claim sets the key only if absent; Redis serialises concurrent callers.
func (s *RedisStore) Claim(ctx context.Context, key string) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.prefix+key, 1, s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedup claim: %w", err)
	}
	return ok, nil
}

// Seen reports whether the key exists.
func (s *RedisStore) Seen(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, s.prefix+key).Result()
	if err != nil {
		return false, fmt.Errorf("dedup seen: %w", err)
	}
	return n > 0, nil
}

// Record sets the key, refreshing its TTL.
func (s *RedisStore) Record(ctx context.Context, key string) error {
	if err := s.client.Set(ctx, s.prefix+key, 1, s.ttl).Err(); err != nil {
		return fmt.Errorf("dedup record: %w", err)
	}
	return nil
}

// Close closes the underlying client.
func (s *RedisStore) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}
