package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/tickerboard/tickerboard-backend/internal/metrics"
	"github.com/tickerboard/tickerboard-backend/pkg/kv"
	memkv "github.com/tickerboard/tickerboard-backend/pkg/kv/memory"
	rediskv "github.com/tickerboard/tickerboard-backend/pkg/kv/redis"
	"go.uber.org/zap"
)

// Cache is the JSON cache and pub/sub bus shared by the fetchers and the
// board publisher. It runs on Redis when reachable and in memory otherwise.
type Cache struct {
	kv kv.Store
	// nil in memory mode
	client *redis.Client
	hub    *PubSubHub

	logger  *zap.SugaredLogger
	metrics *metrics.Metrics
}

// NewCache connects to Redis at addr. An empty addr, or a server that does
// not answer a ping, yields an in-memory cache.
func NewCache(addr string, logger *zap.SugaredLogger, m *metrics.Metrics) (*Cache, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if addr == "" {
		logger.Infow("No Redis address configured; using in-memory cache")
		return NewMemoryCache(logger, m), nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warnw("Redis unavailable; using in-memory cache with local pubsub", "addr", addr, "error", err)
		client.Close()
		return NewMemoryCache(logger, m), nil
	}

	logger.Infow("Connected to Redis", "addr", addr)
	return &Cache{
		kv:      rediskv.NewFromClient(client),
		client:  client,
		logger:  logger,
		metrics: m,
	}, nil
}

// NewMemoryCache builds a cache that never touches the network.
func NewMemoryCache(logger *zap.SugaredLogger, m *metrics.Metrics) *Cache {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Cache{
		kv:      memkv.New(30 * time.Second),
		hub:     NewPubSubHub(),
		logger:  logger,
		metrics: m,
	}
}

// Cache key prefixes and channels
const (
	KeyCatalog  = "tb:catalog"
	KeyHistory  = "tb:history"
	ChannelRows = "tb:board:rows"
)

// CatalogKey is the key of the filtered pair catalog for a quote asset.
func CatalogKey(quote string) string {
	return fmt.Sprintf("%s:%s", KeyCatalog, quote)
}

// HistoryKey is the key of the sparkline closes for a symbol.
func HistoryKey(symbol string) string {
	return fmt.Sprintf("%s:%s", KeyHistory, symbol)
}

// Get decodes the JSON value under key into dest, or returns ErrCacheMiss.
func (c *Cache) Get(ctx context.Context, key string, dest any) error {
	data, err := c.kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			c.metrics.RecordCacheMiss(ctx, keyPrefix(key))
			return ErrCacheMiss
		}
		c.logger.Errorw("Cache get error", "key", key, "error", err)
		return fmt.Errorf("cache get error: %w", err)
	}
	c.metrics.RecordCacheHit(ctx, keyPrefix(key))
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("cache unmarshal error: %w", err)
	}
	return nil
}

func (c *Cache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache marshal error: %w", err)
	}
	if err := c.kv.Set(ctx, key, data, ttl); err != nil {
		c.logger.Errorw("Cache set error", "key", key, "error", err)
		return fmt.Errorf("cache set error: %w", err)
	}
	return nil
}

func (c *Cache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if _, err := c.kv.Del(ctx, keys...); err != nil {
		c.logger.Errorw("Cache delete error", "keys", keys, "error", err)
		return fmt.Errorf("cache delete error: %w", err)
	}
	return nil
}

func (c *Cache) Exists(ctx context.Context, key string) (bool, error) {
	n, err := c.kv.Exists(ctx, key)
	if err != nil {
		return false, fmt.Errorf("cache exists error: %w", err)
	}
	return n > 0, nil
}

// Publish sends the JSON encoding of message to channel.
func (c *Cache) Publish(ctx context.Context, channel string, message any) error {
	data, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("pubsub marshal error: %w", err)
	}

	if c.client != nil {
		if err := c.client.Publish(ctx, channel, data).Err(); err != nil {
			c.logger.Errorw("Publish error", "channel", channel, "error", err)
			return fmt.Errorf("pubsub publish error: %w", err)
		}
		return nil
	}

	c.hub.Publish(channel, string(data))
	return nil
}

// Subscribe listens on channels until ctx is done or the subscription is
// closed.
func (c *Cache) Subscribe(ctx context.Context, channels ...string) Subscription {
	if c.client != nil {
		return newRedisSubscription(ctx, c.client.Subscribe(ctx, channels...))
	}
	return c.hub.Subscribe(ctx, channels...)
}

// IsInMemoryMode reports whether the cache runs without Redis.
func (c *Cache) IsInMemoryMode() bool {
	return c.client == nil
}

func (c *Cache) Ping(ctx context.Context) error {
	return c.kv.Ping(ctx)
}

func (c *Cache) Close() error {
	err := c.kv.Close()
	if c.client != nil {
		if cerr := c.client.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

func keyPrefix(key string) string {
	for i := len(key) - 1; i >= 0; i-- {
		if key[i] == ':' {
			return key[:i]
		}
	}
	return key
}

var ErrCacheMiss = errors.New("cache miss")
