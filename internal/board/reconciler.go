// Package board reconciles the paginated pair catalog with the live ticker
// feed into the single row set the dashboard displays.
package board

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/tickerboard/tickerboard-backend/internal/market"
	"github.com/tickerboard/tickerboard-backend/internal/metrics"
	"go.uber.org/zap"
)

const (
	DefaultPageSize        = 10
	DefaultScrollThreshold = 2.0
)

// ErrInvalidConfig is returned by NewReconciler for a non-positive page size.
var ErrInvalidConfig = errors.New("invalid board config")

// SnapshotFetcher returns one page of pair metadata. An empty page means the
// catalog is exhausted.
type SnapshotFetcher interface {
	FetchPairs(ctx context.Context, page, pageSize int) ([]market.PairMeta, error)
}

type Config struct {
	PageSize        int
	ScrollThreshold float64
}

// ScrollPosition is what the browser reports on a scroll event.
type ScrollPosition struct {
	ScrollY        float64 `json:"scrollY"`
	ViewportHeight float64 `json:"viewportHeight"`
	DocumentHeight float64 `json:"documentHeight"`
}

type Status struct {
	Cursor        int    `json:"cursor"`
	Pairs         int    `json:"pairs"`
	CachedTickers int    `json:"cachedTickers"`
	Loading       bool   `json:"loading"`
	Exhausted     bool   `json:"exhausted"`
	InitialError  string `json:"initialError,omitempty"`
}

// Reconciler owns the ordered pair sequence and the per-symbol ticker cache.
// All mutation goes through it; readers get fresh projections.
type Reconciler struct {
	fetcher SnapshotFetcher
	cfg     Config
	logger  *zap.SugaredLogger
	metrics *metrics.Metrics

	mu         sync.RWMutex
	pairs      []market.PairMeta
	index      map[string]int // symbol -> position in pairs
	tickers    map[string]market.Fields
	cursor     int
	loading    bool
	exhausted  bool
	partial    bool // exhausted by a short, non-empty page
	initialErr error
}

func NewReconciler(fetcher SnapshotFetcher, cfg Config, logger *zap.SugaredLogger, m *metrics.Metrics) (*Reconciler, error) {
	if cfg.PageSize <= 0 {
		return nil, fmt.Errorf("%w: page size must be positive, got %d", ErrInvalidConfig, cfg.PageSize)
	}
	if cfg.ScrollThreshold < 0 {
		cfg.ScrollThreshold = DefaultScrollThreshold
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Reconciler{
		fetcher: fetcher,
		cfg:     cfg,
		logger:  logger,
		metrics: m,
		index:   make(map[string]int),
		tickers: make(map[string]market.Fields),
	}, nil
}

// AppendPage appends the pairs not yet known, in order. The cursor moves
// forward only for a non-empty page. It returns how many pairs were new.
func (r *Reconciler) AppendPage(pairs []market.PairMeta) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.appendLocked(pairs)
}

func (r *Reconciler) appendLocked(pairs []market.PairMeta) int {
	if len(pairs) == 0 {
		return 0
	}
	added := 0
	for _, p := range pairs {
		if p.Symbol == "" {
			continue
		}
		if _, ok := r.index[p.Symbol]; ok {
			continue
		}
		r.index[p.Symbol] = len(r.pairs)
		r.pairs = append(r.pairs, p)
		added++
	}
	r.cursor++
	return added
}

// ApplyTickers merges each update into the cached fields for its symbol and
// returns the symbols touched, in arrival order without repeats. Updates for
// symbols not in the catalog yet are cached all the same.
func (r *Reconciler) ApplyTickers(updates []market.TickerUpdate) []string {
	if len(updates) == 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	touched := make([]string, 0, len(updates))
	seen := make(map[string]struct{}, len(updates))
	for _, u := range updates {
		if u.Symbol == "" {
			continue
		}
		cached, ok := r.tickers[u.Symbol]
		if !ok {
			cached = make(market.Fields, len(u.Fields))
			r.tickers[u.Symbol] = cached
		}
		cached.Merge(u.Fields)
		if _, dup := seen[u.Symbol]; !dup {
			seen[u.Symbol] = struct{}{}
			touched = append(touched, u.Symbol)
		}
	}
	return touched
}

// ComputeView returns the filtered, sorted rows for the current state.
func (r *Reconciler) ComputeView(query string, order *market.SortState) []market.RowViewModel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Project(r.pairs, r.tickers, query, order)
}

// Rows returns the rows for the given symbols that are in the catalog, in the
// order asked for.
func (r *Reconciler) Rows(symbols []string) []market.RowViewModel {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rows := make([]market.RowViewModel, 0, len(symbols))
	for _, sym := range symbols {
		if row, ok := r.rowLocked(sym); ok {
			rows = append(rows, row)
		}
	}
	return rows
}

// Row returns the row for one catalog symbol.
func (r *Reconciler) Row(symbol string) (market.RowViewModel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rowLocked(symbol)
}

func (r *Reconciler) rowLocked(symbol string) (market.RowViewModel, bool) {
	pos, ok := r.index[symbol]
	if !ok {
		return market.RowViewModel{}, false
	}
	p := r.pairs[pos]
	return market.RowViewModel{
		Symbol:    p.Symbol,
		BaseAsset: p.BaseAsset,
		Fields:    r.tickers[symbol].Clone(),
	}, true
}

// ShouldLoadMore reports whether a scroll position is close enough to the
// bottom of the document to fetch the next page.
func (r *Reconciler) ShouldLoadMore(pos ScrollPosition) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.loading || r.exhausted {
		return false
	}
	return pos.ScrollY+pos.ViewportHeight >= pos.DocumentHeight-r.cfg.ScrollThreshold
}

// RequestNextPage fetches the page at the cursor and appends it. It is a
// no-op returning false while another page is in flight or once the catalog
// is exhausted. A page shorter than the page size marks exhaustion.
func (r *Reconciler) RequestNextPage(ctx context.Context) (bool, error) {
	r.mu.Lock()
	if r.loading || r.exhausted {
		r.mu.Unlock()
		return false, nil
	}
	r.loading = true
	page := r.cursor
	r.mu.Unlock()

	pairs, err := r.fetcher.FetchPairs(ctx, page, r.cfg.PageSize)
	r.metrics.RecordPageFetch(ctx, err)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.loading = false

	if err != nil {
		if errors.Is(err, context.Canceled) {
			// the caller went away; the page stays at the cursor for the next request
			return true, fmt.Errorf("load page %d: %w", page, err)
		}
		if page == 0 {
			r.initialErr = err
		}
		r.logger.Warnw("Snapshot page fetch failed", "page", page, "error", err)
		return true, fmt.Errorf("load page %d: %w", page, err)
	}

	if page == 0 {
		r.initialErr = nil
	}
	added := r.appendLocked(pairs)
	if len(pairs) < r.cfg.PageSize {
		r.exhausted = true
		r.partial = len(pairs) > 0
	}
	r.logger.Debugw("Snapshot page applied",
		"page", page,
		"received", len(pairs),
		"added", added,
		"exhausted", r.exhausted,
	)
	return true, nil
}

// Resume clears exhaustion after the catalog has grown. A trailing short page
// is fetched again so pairs listed into it are picked up; duplicates are
// dropped on append as usual.
func (r *Reconciler) Resume() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.exhausted {
		return
	}
	r.exhausted = false
	if r.partial {
		r.cursor--
		r.partial = false
	}
}

// InitialError is the table-level error: set only when the first page fails.
func (r *Reconciler) InitialError() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.initialErr
}

func (r *Reconciler) Status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s := Status{
		Cursor:        r.cursor,
		Pairs:         len(r.pairs),
		CachedTickers: len(r.tickers),
		Loading:       r.loading,
		Exhausted:     r.exhausted,
	}
	if r.initialErr != nil {
		s.InitialError = r.initialErr.Error()
	}
	return s
}
