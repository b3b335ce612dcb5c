// Package mock is an offline market: a synthetic pair catalog, daily history
// and a ticker feed that speaks the same frames as the exchange stream.
package mock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tickerboard/tickerboard-backend/internal/market"
	"github.com/tickerboard/tickerboard-backend/internal/prices"
	"github.com/tickerboard/tickerboard-backend/internal/stream"
	"go.uber.org/zap"
)

// ErrUnknownSymbol is returned for history of a symbol the generator does not list.
var ErrUnknownSymbol = errors.New("unknown symbol")

type Asset struct {
	Base  string
	Price float64
}

// DefaultAssets spans a few pages at the default page size.
var DefaultAssets = []Asset{
	{"BTC", 50000}, {"ETH", 3000}, {"BNB", 600}, {"SOL", 150},
	{"XRP", 0.62}, {"ADA", 0.45}, {"DOGE", 0.082}, {"TRX", 0.11},
	{"DOT", 7.1}, {"LINK", 14.3}, {"MATIC", 0.91}, {"LTC", 72},
	{"AVAX", 36}, {"ATOM", 9.8}, {"UNI", 6.4}, {"XLM", 0.12},
	{"NEAR", 5.2}, {"APT", 8.7}, {"ARB", 1.1}, {"OP", 2.3},
	{"FIL", 5.6}, {"ICP", 12.5}, {"SUI", 1.02}, {"PEPE", 0.0000112},
}

type assetState struct {
	symbol string
	base   string
	open   float64
	last   float64
	high   float64
	low    float64
	volume float64
}

type Config struct {
	QuoteAsset string
	Assets     []Asset
	// Volatility is the per-tick standard deviation of returns.
	Volatility float64
	// TickInterval spaces frames on the feed.
	TickInterval time.Duration
	Seed         int64
}

// Generator provides mock market data for development without network access
type Generator struct {
	logger     *zap.SugaredLogger
	quote      string
	volatility float64
	interval   time.Duration

	mu     sync.Mutex
	rng    *rand.Rand
	assets []*assetState
	index  map[string]*assetState
}

func NewGenerator(cfg Config, logger *zap.SugaredLogger) *Generator {
	if cfg.QuoteAsset == "" {
		cfg.QuoteAsset = market.DefaultQuoteAsset
	}
	if len(cfg.Assets) == 0 {
		cfg.Assets = DefaultAssets
	}
	if cfg.Volatility <= 0 {
		cfg.Volatility = 0.002
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UnixNano()
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	g := &Generator{
		logger:     logger,
		quote:      cfg.QuoteAsset,
		volatility: cfg.Volatility,
		interval:   cfg.TickInterval,
		rng:        rand.New(rand.NewSource(cfg.Seed)),
		index:      make(map[string]*assetState, len(cfg.Assets)),
	}
	for _, a := range cfg.Assets {
		s := &assetState{
			symbol: a.Base + cfg.QuoteAsset,
			base:   a.Base,
			open:   a.Price,
			last:   a.Price,
			high:   a.Price,
			low:    a.Price,
		}
		g.assets = append(g.assets, s)
		g.index[s.symbol] = s
	}
	return g
}

func (g *Generator) Name() string {
	return "mock"
}

// Health is always healthy; the generator never talks to the network.
func (g *Generator) Health() prices.ProviderHealth {
	return prices.ProviderHealth{Healthy: true, LastSuccess: time.Now()}
}

// FetchPairs pages over the configured assets.
func (g *Generator) FetchPairs(ctx context.Context, page, pageSize int) ([]market.PairMeta, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if page < 0 || pageSize <= 0 {
		return nil, fmt.Errorf("invalid page %d size %d", page, pageSize)
	}
	catalog := make([]market.PairMeta, len(g.assets))
	for i, a := range g.assets {
		catalog[i] = market.PairMeta{Symbol: a.symbol, BaseAsset: a.base}
	}
	return market.Page(catalog, page, pageSize), nil
}

// FetchHistory walks backwards from the current price to produce ten daily
// closes, most recent last.
func (g *Generator) FetchHistory(ctx context.Context, symbol string) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	a, ok := g.index[symbol]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
	}

	const days = 10
	daily := g.volatility * math.Sqrt(24*60)
	closes := make([]float64, days)
	closes[days-1] = a.last
	for i := days - 2; i >= 0; i-- {
		closes[i] = closes[i+1] / (1 + g.rng.NormFloat64()*daily)
	}
	return closes, nil
}

// Dial satisfies stream.Dialer. The url is ignored.
func (g *Generator) Dial(ctx context.Context, url string) (stream.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.logger.Infow("Starting mock ticker feed", "assets", len(g.assets), "interval", g.interval)
	return &feedConn{
		gen:    g,
		ticker: time.NewTicker(g.interval),
		done:   make(chan struct{}),
	}, nil
}

// step advances every asset one tick and returns the frame.
func (g *Generator) step(now time.Time) []byte {
	g.mu.Lock()
	defer g.mu.Unlock()

	frame := make([]map[string]any, 0, len(g.assets))
	for _, a := range g.assets {
		a.last *= 1 + g.priceChange()
		// keep within ±50% of the open
		a.last = math.Min(math.Max(a.last, a.open*0.5), a.open*1.5)
		a.high = math.Max(a.high, a.last)
		a.low = math.Min(a.low, a.last)
		a.volume += (1 + g.rng.Float64()) * 1000 / math.Max(a.last, 1e-8) * 0.01

		change := a.last - a.open
		frame = append(frame, map[string]any{
			"e": "24hrTicker",
			"E": now.UnixMilli(),
			"s": a.symbol,
			"o": fixed(a.open),
			"c": fixed(a.last),
			"h": fixed(a.high),
			"l": fixed(a.low),
			"p": fixed(change),
			"P": decimal.NewFromFloat(change / a.open * 100).StringFixed(3),
			"v": fixed(a.volume),
			"q": fixed(a.volume * a.last),
		})
	}
	data, _ := json.Marshal(frame)
	return data
}

// priceChange draws a clamped normal return with an occasional drift.
func (g *Generator) priceChange() float64 {
	change := g.rng.NormFloat64() * g.volatility
	if g.rng.Float64() < 0.1 {
		change += (g.rng.Float64() - 0.5) * g.volatility * 2
	}
	limit := g.volatility * 5
	return math.Min(math.Max(change, -limit), limit)
}

func fixed(v float64) string {
	return decimal.NewFromFloat(v).StringFixed(8)
}

type feedConn struct {
	gen    *Generator
	ticker *time.Ticker
	once   sync.Once
	done   chan struct{}
}

func (c *feedConn) WriteJSON(v any) error {
	select {
	case <-c.done:
		return io.ErrClosedPipe
	default:
		return nil
	}
}

func (c *feedConn) ReadMessage() ([]byte, error) {
	select {
	case now := <-c.ticker.C:
		return c.gen.step(now), nil
	case <-c.done:
		return nil, io.EOF
	}
}

func (c *feedConn) Close() error {
	c.once.Do(func() {
		c.ticker.Stop()
		close(c.done)
	})
	return nil
}
