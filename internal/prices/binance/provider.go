package binance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/tickerboard/tickerboard-backend/internal/market"
	"github.com/tickerboard/tickerboard-backend/internal/metrics"
	"github.com/tickerboard/tickerboard-backend/internal/prices"
	"github.com/tickerboard/tickerboard-backend/internal/store"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultRestURL    = "https://api.binance.com"
	DefaultCatalogTTL = 5 * time.Minute
	requestTimeout    = 10 * time.Second
)

// ErrFetch wraps every failed REST call: transport errors, non-200
// responses and undecodable bodies.
var ErrFetch = errors.New("fetch failure")

type Config struct {
	BaseURL    string
	QuoteAsset string
	CatalogTTL time.Duration
	HTTPClient *http.Client
}

// Provider talks to the Binance public REST API. It serves the paginated
// pair catalog and daily kline history.
type Provider struct {
	logger     *zap.SugaredLogger
	client     *http.Client
	baseURL    string
	quote      string
	catalogTTL time.Duration
	cache      *store.Cache
	metrics    *metrics.Metrics
	group      singleflight.Group

	mu     sync.RWMutex
	health prices.ProviderHealth
}

// NewProvider creates a provider. cache may be nil, in which case every
// catalog read goes to the exchange.
func NewProvider(cfg Config, cache *store.Cache, logger *zap.SugaredLogger, m *metrics.Metrics) *Provider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultRestURL
	}
	if cfg.QuoteAsset == "" {
		cfg.QuoteAsset = market.DefaultQuoteAsset
	}
	if cfg.CatalogTTL <= 0 {
		cfg.CatalogTTL = DefaultCatalogTTL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: requestTimeout}
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Provider{
		logger:     logger,
		client:     cfg.HTTPClient,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		quote:      strings.ToUpper(cfg.QuoteAsset),
		catalogTTL: cfg.CatalogTTL,
		cache:      cache,
		metrics:    m,
		health: prices.ProviderHealth{
			Healthy:     true,
			LastSuccess: time.Now(),
		},
	}
}

func (p *Provider) Name() string {
	return "binance"
}

// QuoteAsset is the quote currency the catalog is restricted to.
func (p *Provider) QuoteAsset() string {
	return p.quote
}

func (p *Provider) Health() prices.ProviderHealth {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.health
}

func (p *Provider) updateHealth(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.health.Healthy = err == nil
	if err == nil {
		p.health.LastSuccess = time.Now()
		p.health.LastError = ""
	} else {
		p.health.LastError = err.Error()
	}
}

// getJSON performs a GET on path and decodes the JSON body into out.
func (p *Provider) getJSON(ctx context.Context, path string, params url.Values, out any) error {
	requestURL := p.baseURL + path
	if len(params) > 0 {
		requestURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return fmt.Errorf("%w: build request: %v", ErrFetch, err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		if ctx.Err() == nil {
			p.updateHealth(err)
		}
		return fmt.Errorf("%w: GET %s: %w", ErrFetch, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := fmt.Errorf("%w: GET %s: status %d: %s", ErrFetch, path, resp.StatusCode, strings.TrimSpace(string(body)))
		p.updateHealth(err)
		return err
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		err = fmt.Errorf("%w: decode %s: %v", ErrFetch, path, err)
		p.updateHealth(err)
		return err
	}

	p.updateHealth(nil)
	return nil
}

// shared runs fn once per key across concurrent callers. The work is
// detached from any single caller; each caller stops waiting when its own
// context ends.
func (p *Provider) shared(ctx context.Context, key string, fn func(context.Context) (any, error)) (any, error) {
	ch := p.group.DoChan(key, func() (any, error) {
		workCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), requestTimeout)
		defer cancel()
		return fn(workCtx)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		return res.Val, res.Err
	}
}
