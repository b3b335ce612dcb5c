package redis

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/tickerboard/tickerboard-backend/pkg/kv"
)

// Store adapts a go-redis client to kv.Store.
type Store struct {
	client *redis.Client
	owned  bool
}

var _ kv.Store = (*Store)(nil)

// IsConnectionError reports whether err means the server could not be
// reached, as opposed to a missing key or caller cancellation.
func IsConnectionError(err error) bool {
	if err == nil || errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	var sysErr syscall.Errno
	if errors.As(err, &sysErr) {
		switch sysErr {
		case syscall.ECONNREFUSED, syscall.ECONNRESET, syscall.ECONNABORTED, syscall.ETIMEDOUT:
			return true
		}
	}

	msg := err.Error()
	for _, s := range []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"no such host",
		"network is unreachable",
		"i/o timeout",
		"connection closed",
		"EOF",
	} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

func wrap(err error) error {
	if err == nil {
		return nil
	}
	if IsConnectionError(err) {
		return fmt.Errorf("%w: %v", kv.ErrBackendUnavailable, err)
	}
	return err
}

// New dials redisURL (redis://host:port/db or a bare host:port) and checks
// the connection. The returned store owns the client.
func New(ctx context.Context, redisURL string) (*Store, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		opt, err = redis.ParseURL("redis://" + redisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
	}

	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, wrap(err)
	}
	return &Store{client: client, owned: true}, nil
}

// NewFromClient wraps an existing client. Close leaves the client open.
func NewFromClient(client *redis.Client) *Store {
	return &Store{client: client}
}

func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return wrap(s.client.Set(ctx, key, value, ttl).Err())
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, kv.ErrNotFound
		}
		return nil, wrap(err)
	}
	return data, nil
}

func (s *Store) Del(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	n, err := s.client.Del(ctx, keys...).Result()
	return n, wrap(err)
}

func (s *Store) Exists(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	n, err := s.client.Exists(ctx, keys...).Result()
	return n, wrap(err)
}

func (s *Store) TTL(ctx context.Context, key string) (time.Duration, error) {
	ttl, err := s.client.TTL(ctx, key).Result()
	if err != nil {
		return 0, wrap(err)
	}
	// -2 missing, -1 no expiry
	switch ttl {
	case -2:
		return 0, kv.ErrNotFound
	case -1:
		return -1, nil
	}
	return ttl, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return wrap(s.client.Ping(ctx).Err())
}

func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	return s.client.Close()
}
