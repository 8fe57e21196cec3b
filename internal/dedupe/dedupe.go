package dedupe

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

const (
	// DefaultTTL bounds how long a processed delivery is remembered.
	DefaultTTL       = 24 * time.Hour
	defaultKeyPrefix = "settlement:webhook:"
	processedMarker  = "1"
)

// ErrEmptyKey is returned when a delivery key is blank.
var ErrEmptyKey = errors.New("empty dedupe key")

// Cache remembers gateway deliveries that reached a terminal outcome so
// redeliveries can be answered without touching the database. It is an
// optimization only: settlement stays idempotent without it.
type Cache interface {
	Seen(ctx context.Context, key string) bool
	Remember(ctx context.Context, key string)
}

// Nop never remembers anything.
type Nop struct{}

// Seen always reports false.
func (Nop) Seen(context.Context, string) bool { return false }

// Remember does nothing.
func (Nop) Remember(context.Context, string) {}

// RedisCache stores delivery markers in redis with a TTL. Redis failures are
// logged and treated as a miss.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
	logger *zap.Logger
}

// NewRedisCache builds a RedisCache. A non-positive ttl selects DefaultTTL.
func NewRedisCache(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisCache{client: client, ttl: ttl, prefix: defaultKeyPrefix, logger: logger}
}

// Seen reports whether key was remembered and has not expired.
func (cache *RedisCache) Seen(ctx context.Context, key string) bool {
	redisKey, err := cache.key(key)
	if err != nil {
		return false
	}
	count, err := cache.client.Exists(ctx, redisKey).Result()
	if err != nil {
		cache.logger.Warn("dedupe lookup failed", zap.String("key", redisKey), zap.Error(err))
		return false
	}
	return count > 0
}

// Remember records key for the configured TTL.
func (cache *RedisCache) Remember(ctx context.Context, key string) {
	redisKey, err := cache.key(key)
	if err != nil {
		return
	}
	if err := cache.client.SetNX(ctx, redisKey, processedMarker, cache.ttl).Err(); err != nil {
		cache.logger.Warn("dedupe store failed", zap.String("key", redisKey), zap.Error(err))
	}
}

func (cache *RedisCache) key(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", ErrEmptyKey
	}
	return cache.prefix + trimmed, nil
}

// Open connects to redis at url (redis://host:port/db). The connection is
// checked with PING.
func Open(ctx context.Context, url string) (*redis.Client, error) {
	options, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(options)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}
