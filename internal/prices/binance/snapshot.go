package binance

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tickerboard/tickerboard-backend/internal/market"
	"github.com/tickerboard/tickerboard-backend/internal/store"
)

type exchangeInfo struct {
	Symbols []symbolInfo `json:"symbols"`
}

type symbolInfo struct {
	Symbol     string `json:"symbol"`
	Status     string `json:"status"`
	BaseAsset  string `json:"baseAsset"`
	QuoteAsset string `json:"quoteAsset"`
}

const statusTrading = "TRADING"

// FetchPairs returns page `page` of the catalog. A page past the end is
// empty, which callers read as exhaustion.
func (p *Provider) FetchPairs(ctx context.Context, page, pageSize int) ([]market.PairMeta, error) {
	if page < 0 || pageSize <= 0 {
		return nil, fmt.Errorf("%w: invalid page %d size %d", ErrFetch, page, pageSize)
	}

	catalog, err := p.Catalog(ctx)
	if err != nil {
		return nil, err
	}

	return market.Page(catalog, page, pageSize), nil
}

// Catalog returns every tradable pair for the quote asset, in exchange
// order. The list is cached and concurrent loads share one request.
func (p *Provider) Catalog(ctx context.Context) ([]market.PairMeta, error) {
	key := store.CatalogKey(p.quote)
	if p.cache != nil {
		var cached []market.PairMeta
		err := p.cache.Get(ctx, key, &cached)
		if err == nil {
			return cached, nil
		}
		if !errors.Is(err, store.ErrCacheMiss) {
			p.logger.Warnw("Catalog cache read failed", "key", key, "error", err)
		}
	}
	return p.loadCatalog(ctx)
}

// Refresh reloads the catalog from the exchange and replaces the cached copy.
func (p *Provider) Refresh(ctx context.Context) ([]market.PairMeta, error) {
	p.group.Forget(catalogFlight)
	return p.loadCatalog(ctx)
}

const catalogFlight = "catalog"

func (p *Provider) loadCatalog(ctx context.Context) ([]market.PairMeta, error) {
	v, err := p.shared(ctx, catalogFlight, func(ctx context.Context) (any, error) {
		var info exchangeInfo
		if err := p.getJSON(ctx, "/api/v3/exchangeInfo", nil, &info); err != nil {
			return nil, err
		}
		catalog := filterCatalog(info.Symbols, p.quote)

		if p.cache != nil {
			if err := p.cache.Set(ctx, store.CatalogKey(p.quote), catalog, p.catalogTTL); err != nil {
				p.logger.Warnw("Catalog cache write failed", "error", err)
			}
		}
		p.logger.Infow("Loaded pair catalog",
			"quote", p.quote,
			"symbols", len(info.Symbols),
			"pairs", len(catalog),
		)
		return catalog, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]market.PairMeta), nil
}

// filterCatalog keeps trading symbols quoted in quote. When the exchange
// omits quoteAsset the symbol suffix decides.
func filterCatalog(symbols []symbolInfo, quote string) []market.PairMeta {
	out := make([]market.PairMeta, 0, len(symbols))
	seen := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		if s.Symbol == "" {
			continue
		}
		if s.Status != "" && s.Status != statusTrading {
			continue
		}

		base := s.BaseAsset
		if s.QuoteAsset != "" {
			if !strings.EqualFold(s.QuoteAsset, quote) {
				continue
			}
		} else {
			if !strings.HasSuffix(s.Symbol, quote) || len(s.Symbol) == len(quote) {
				continue
			}
			if base == "" {
				base = strings.TrimSuffix(s.Symbol, quote)
			}
		}

		if _, dup := seen[s.Symbol]; dup {
			continue
		}
		seen[s.Symbol] = struct{}{}
		out = append(out, market.PairMeta{Symbol: s.Symbol, BaseAsset: base})
	}
	return out
}
