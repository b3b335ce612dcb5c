package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/tickerboard/tickerboard-backend/internal/board"
	"github.com/tickerboard/tickerboard-backend/internal/market"
	"github.com/tickerboard/tickerboard-backend/internal/metrics"
	"github.com/tickerboard/tickerboard-backend/internal/render"
	"github.com/tickerboard/tickerboard-backend/internal/store"
	"github.com/tickerboard/tickerboard-backend/internal/stream"
	"github.com/tickerboard/tickerboard-backend/internal/ws"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Board is the part of the reconciler the publisher drives.
type Board interface {
	ApplyTickers(updates []market.TickerUpdate) []string
	Rows(symbols []string) []market.RowViewModel
	ComputeView(query string, order *market.SortState) []market.RowViewModel
	Status() board.Status
}

// HistorySource serves sparkline closes.
type HistorySource interface {
	Peek(ctx context.Context, symbol string) ([]float64, bool)
	Get(ctx context.Context, symbol string) ([]float64, error)
}

// Publisher is the pubsub side of store.Cache.
type Publisher interface {
	Publish(ctx context.Context, channel string, message any) error
}

type BoardPublisherConfig struct {
	Interval           time.Duration // how often pending rows are pushed
	HistoryConcurrency int           // parallel history fetches after a page lands
	// HistoryRetry spaces prefetch runs triggered by rows rendered without
	// history, so an expired or failing entry is fetched again.
	HistoryRetry time.Duration
}

// BoardPublisher collects the symbols touched by the ticker stream and
// periodically publishes their rendered rows on store.ChannelRows, where the
// websocket hub and SSE handlers pick them up.
type BoardPublisher struct {
	board    Board
	history  HistorySource
	renderer *render.Renderer
	cache    Publisher
	logger   *zap.SugaredLogger
	metrics  *metrics.Metrics
	config   BoardPublisherConfig

	mu        sync.Mutex
	pending   map[string]struct{}
	order     []string
	pageDirty bool
	pageCh    chan struct{}
	retry     *rate.Limiter
}

func NewBoardPublisher(b Board, history HistorySource, renderer *render.Renderer, cache Publisher, logger *zap.SugaredLogger, m *metrics.Metrics, config BoardPublisherConfig) *BoardPublisher {
	if config.Interval <= 0 {
		config.Interval = 500 * time.Millisecond
	}
	if config.HistoryConcurrency <= 0 {
		config.HistoryConcurrency = 4
	}
	if config.HistoryRetry <= 0 {
		config.HistoryRetry = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &BoardPublisher{
		board:    b,
		history:  history,
		renderer: renderer,
		cache:    cache,
		logger:   logger,
		metrics:  m,
		config:   config,
		pending:  make(map[string]struct{}),
		pageCh:   make(chan struct{}, 1),
		retry:    rate.NewLimiter(rate.Every(config.HistoryRetry), 1),
	}
}

// Listener applies stream updates to the board and queues the touched
// symbols for the next publish.
func (p *BoardPublisher) Listener() stream.Listener {
	return func(updates []market.TickerUpdate) {
		p.mark(p.board.ApplyTickers(updates))
	}
}

// PageLoaded records that a catalog page was appended. The next flush sends
// a page event and history is prefetched for rows that lack it.
func (p *BoardPublisher) PageLoaded() {
	p.mu.Lock()
	p.pageDirty = true
	p.mu.Unlock()

	p.wakePrefetch()
}

// HistoryMissed is called when a row was rendered without cached history.
// It schedules a prefetch, at most once per HistoryRetry.
func (p *BoardPublisher) HistoryMissed() {
	if p.retry.Allow() {
		p.wakePrefetch()
	}
}

func (p *BoardPublisher) wakePrefetch() {
	select {
	case p.pageCh <- struct{}{}:
	default:
	}
}

func (p *BoardPublisher) mark(symbols []string) {
	if len(symbols) == 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range symbols {
		if _, ok := p.pending[s]; ok {
			continue
		}
		p.pending[s] = struct{}{}
		p.order = append(p.order, s)
	}
}

func (p *BoardPublisher) take() ([]string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	symbols, page := p.order, p.pageDirty
	p.order = nil
	p.pending = make(map[string]struct{})
	p.pageDirty = false
	return symbols, page
}

// restore puts back what take removed after a failed publish.
func (p *BoardPublisher) restore(symbols []string, page bool) {
	p.mark(symbols)
	if page {
		p.mu.Lock()
		p.pageDirty = true
		p.mu.Unlock()
	}
}

// Start publishes every Interval until ctx is cancelled.
func (p *BoardPublisher) Start(ctx context.Context) error {
	p.logger.Infow("Starting board publisher", "interval", p.config.Interval)

	go p.prefetchLoop(ctx)

	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Infow("Board publisher stopping due to context cancellation")
			return ctx.Err()
		case <-ticker.C:
			if _, err := p.Flush(ctx); err != nil {
				p.logger.Warnw("Board publish failed", "error", err)
			}
		}
	}
}

// Flush publishes the pending rows, and a page event when a page landed since
// the last flush. It returns the number of rows sent.
func (p *BoardPublisher) Flush(ctx context.Context) (int, error) {
	symbols, page := p.take()
	now := time.Now().Unix()

	if page {
		status := p.board.Status()
		if err := p.cache.Publish(ctx, store.ChannelRows, ws.BoardEvent{
			Type:      ws.EventPage,
			Status:    &status,
			Timestamp: now,
		}); err != nil {
			p.restore(symbols, true)
			return 0, err
		}
	}

	rows := p.board.Rows(symbols)
	if len(rows) == 0 {
		return 0, nil
	}
	missed := false
	rendered := p.renderer.Rows(rows, func(symbol string) render.HistoryState {
		closes, ok := p.history.Peek(ctx, symbol)
		if !ok {
			missed = true
			return render.HistoryState{Loading: true}
		}
		return render.HistoryState{Closes: closes}
	})
	if missed {
		p.HistoryMissed()
	}

	if err := p.cache.Publish(ctx, store.ChannelRows, ws.BoardEvent{
		Type:      ws.EventRows,
		Rows:      rendered,
		Timestamp: now,
	}); err != nil {
		// put them back for the next tick
		p.restore(symbols, false)
		return 0, err
	}
	p.metrics.RecordRowsPublished(ctx, len(rendered))
	return len(rendered), nil
}

func (p *BoardPublisher) prefetchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.pageCh:
			p.PrefetchHistory(ctx)
		}
	}
}

// PrefetchHistory fetches history for every loaded row that has none cached
// and queues the rows that got it. Failures stay row-local.
func (p *BoardPublisher) PrefetchHistory(ctx context.Context) int {
	var missing []string
	for _, row := range p.board.ComputeView("", nil) {
		if _, ok := p.history.Peek(ctx, row.Symbol); !ok {
			missing = append(missing, row.Symbol)
		}
	}
	if len(missing) == 0 {
		return 0
	}

	var (
		mu      sync.Mutex
		fetched []string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.config.HistoryConcurrency)
	for _, symbol := range missing {
		symbol := symbol
		g.Go(func() error {
			if _, err := p.history.Get(gctx, symbol); err != nil {
				p.logger.Debugw("History prefetch failed", "symbol", symbol, "error", err)
				return nil
			}
			mu.Lock()
			fetched = append(fetched, symbol)
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	p.mark(fetched)
	p.logger.Debugw("History prefetched", "requested", len(missing), "fetched", len(fetched))
	return len(fetched)
}
