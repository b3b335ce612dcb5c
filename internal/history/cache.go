// Package history caches sparkline closes per symbol in front of a fetcher.
package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tickerboard/tickerboard-backend/internal/store"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultTTL   = time.Minute
	fetchTimeout = 15 * time.Second
)

// Fetcher loads the closing prices for one symbol, most recent last.
type Fetcher interface {
	FetchHistory(ctx context.Context, symbol string) ([]float64, error)
}

// Cache serves closes from the store and collapses concurrent misses for the
// same symbol into one fetch.
type Cache struct {
	fetcher Fetcher
	store   *store.Cache
	ttl     time.Duration
	logger  *zap.SugaredLogger
	group   singleflight.Group
}

func New(fetcher Fetcher, st *store.Cache, ttl time.Duration, logger *zap.SugaredLogger) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Cache{
		fetcher: fetcher,
		store:   st,
		ttl:     ttl,
		logger:  logger,
	}
}

// Peek returns cached closes without fetching.
func (c *Cache) Peek(ctx context.Context, symbol string) ([]float64, bool) {
	var closes []float64
	if err := c.store.Get(ctx, store.HistoryKey(symbol), &closes); err != nil {
		return nil, false
	}
	return closes, true
}

// Get returns the closes for symbol, fetching on a miss. If ctx ends first
// the caller gets ctx.Err() while the shared fetch still fills the cache.
func (c *Cache) Get(ctx context.Context, symbol string) ([]float64, error) {
	if symbol == "" {
		return nil, fmt.Errorf("history: empty symbol")
	}
	if closes, ok := c.Peek(ctx, symbol); ok {
		return closes, nil
	}

	ch := c.group.DoChan(symbol, func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), fetchTimeout)
		defer cancel()

		closes, err := c.fetcher.FetchHistory(fetchCtx, symbol)
		if err != nil {
			return nil, err
		}
		if err := c.store.Set(fetchCtx, store.HistoryKey(symbol), closes, c.ttl); err != nil {
			c.logger.Warnw("History cache write failed", "symbol", symbol, "error", err)
		}
		return closes, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			if !errors.Is(res.Err, context.Canceled) {
				c.logger.Warnw("History fetch failed", "symbol", symbol, "error", res.Err)
			}
			return nil, res.Err
		}
		return res.Val.([]float64), nil
	}
}
