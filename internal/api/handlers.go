package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/tickerboard/tickerboard-backend/internal/assets"
	"github.com/tickerboard/tickerboard-backend/internal/board"
	"github.com/tickerboard/tickerboard-backend/internal/market"
	"github.com/tickerboard/tickerboard-backend/internal/prices"
	"github.com/tickerboard/tickerboard-backend/internal/render"
	"github.com/tickerboard/tickerboard-backend/internal/store"
	"github.com/tickerboard/tickerboard-backend/internal/stream"
	"github.com/tickerboard/tickerboard-backend/internal/ws"
	"go.uber.org/zap"
)

// MetricsInterface defines the interface for metrics recording
type MetricsInterface interface {
	RecordHTTPRequest(ctx context.Context, method, path string, status int, duration time.Duration)
}

// Board is the reconciler as the HTTP surface sees it.
type Board interface {
	ComputeView(query string, order *market.SortState) []market.RowViewModel
	Row(symbol string) (market.RowViewModel, bool)
	ShouldLoadMore(pos board.ScrollPosition) bool
	RequestNextPage(ctx context.Context) (bool, error)
	Status() board.Status
}

type HistoryService interface {
	Peek(ctx context.Context, symbol string) ([]float64, bool)
	Get(ctx context.Context, symbol string) ([]float64, error)
}

type IconSource interface {
	Open(asset string) ([]byte, error)
}

// SourceHealth is the market data source as the status endpoint reports it.
type SourceHealth interface {
	Name() string
	Health() prices.ProviderHealth
}

type StreamStatus interface {
	State() stream.State
	Stats() stream.Stats
}

// PageListener is told when a request appended a catalog page, and when a
// row was rendered without history so it can be fetched again.
type PageListener interface {
	PageLoaded()
	HistoryMissed()
}

type Handler struct {
	board      Board
	history    HistoryService
	renderer   *render.Renderer
	icons      IconSource
	source     SourceHealth
	stream     StreamStatus
	pages      PageListener
	wsHub      *ws.Hub
	sseHandler *ws.SSEHandler
	cache      *store.Cache
	logger     *zap.SugaredLogger
	metrics    MetricsInterface
}

func NewHandler(
	b Board,
	history HistoryService,
	renderer *render.Renderer,
	icons IconSource,
	source SourceHealth,
	streamStatus StreamStatus,
	pages PageListener,
	wsHub *ws.Hub,
	sseHandler *ws.SSEHandler,
	cache *store.Cache,
	logger *zap.SugaredLogger,
	metrics MetricsInterface,
) *Handler {
	return &Handler{
		board:      b,
		history:    history,
		renderer:   renderer,
		icons:      icons,
		source:     source,
		stream:     streamStatus,
		pages:      pages,
		wsHub:      wsHub,
		sseHandler: sseHandler,
		cache:      cache,
		logger:     logger,
		metrics:    metrics,
	}
}

var symbolPattern = regexp.MustCompile(`^[A-Z0-9]{2,30}$`)

// Board endpoints

// ListPairs renders the current view for a search and sort.
func (h *Handler) ListPairs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	order, err := parseSort(q.Get("sort"), q.Get("dir"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "INVALID_SORT", err.Error())
		return
	}

	search := strings.TrimSpace(q.Get("search"))
	h.writeJSON(w, http.StatusOK, h.view(r.Context(), search, order))
}

func (h *Handler) view(ctx context.Context, search string, order *market.SortState) PairsDTO {
	rows := h.board.ComputeView(search, order)
	return PairsDTO{
		Rows:   h.renderer.Rows(rows, h.historyLookup(ctx)),
		Search: search,
		Sort:   order,
		Status: h.board.Status(),
	}
}

// historyLookup reads cached closes only; missing history renders as loading
// and the publisher is asked to fetch it.
func (h *Handler) historyLookup(ctx context.Context) func(string) render.HistoryState {
	return func(symbol string) render.HistoryState {
		closes, ok := h.history.Peek(ctx, symbol)
		if !ok {
			if h.pages != nil {
				h.pages.HistoryMissed()
			}
			return render.HistoryState{Loading: true}
		}
		return render.HistoryState{Closes: closes}
	}
}

// NextPage asks for the next catalog page, as the load-more button does.
func (h *Handler) NextPage(w http.ResponseWriter, r *http.Request) {
	requested, err := h.requestNextPage(r.Context())
	if err != nil {
		h.writeFetchError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, NextPageDTO{Requested: requested, Status: h.board.Status()})
}

// Scroll loads the next page when the reported position is near the bottom.
func (h *Handler) Scroll(w http.ResponseWriter, r *http.Request) {
	var pos board.ScrollPosition
	if err := json.NewDecoder(r.Body).Decode(&pos); err != nil {
		h.writeError(w, http.StatusBadRequest, "INVALID_BODY", "expected {scrollY, viewportHeight, documentHeight}")
		return
	}

	resp := ScrollDTO{LoadMore: h.board.ShouldLoadMore(pos)}
	if resp.LoadMore {
		requested, err := h.requestNextPage(r.Context())
		if err != nil {
			h.writeFetchError(w, err)
			return
		}
		resp.Requested = requested
	}
	resp.Status = h.board.Status()
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) requestNextPage(ctx context.Context) (bool, error) {
	requested, err := h.board.RequestNextPage(ctx)
	if err != nil {
		return requested, err
	}
	if requested && h.pages != nil {
		h.pages.PageLoaded()
	}
	return requested, nil
}

// NextSort returns the sort state after clicking a column header.
func (h *Handler) NextSort(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	key := q.Get("key")
	if key == "" {
		h.writeError(w, http.StatusBadRequest, "INVALID_SORT", "key is required")
		return
	}
	current, err := parseSort(q.Get("current"), q.Get("dir"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "INVALID_SORT", err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, SortDTO{Sort: market.NextSort(current, key)})
}

func parseSort(key, dir string) (*market.SortState, error) {
	if key == "" {
		return nil, nil
	}
	d, err := market.ParseDirection(dir)
	if err != nil {
		return nil, err
	}
	return &market.SortState{Key: key, Direction: d}, nil
}

// GetHistory returns the sparkline for one symbol, fetching if needed. A
// failure only affects that row.
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(chi.URLParam(r, "symbol"))
	if !symbolPattern.MatchString(symbol) {
		h.writeError(w, http.StatusBadRequest, "INVALID_SYMBOL", "symbol must be alphanumeric")
		return
	}

	closes, err := h.history.Get(r.Context(), symbol)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		h.writeErrorWithDetails(w, http.StatusBadGateway, "HISTORY_UNAVAILABLE", "history is still loading", err.Error())
		return
	}

	spark := render.NewSparkline(closes, h.trendColor(symbol))
	h.writeJSON(w, http.StatusOK, HistoryDTO{
		Symbol:       symbol,
		Closes:       closes,
		Sparkline:    spark,
		SparklineSVG: spark.SVG(),
	})
}

// trendColor is the sparkline colour for a loaded row, neutral otherwise.
func (h *Handler) trendColor(symbol string) string {
	if row, ok := h.board.Row(symbol); ok {
		return render.TrendOf(row.Field(market.FieldChangePercent)).Color()
	}
	return render.ColorNeutral
}

// GetIcon serves the icon for a base asset, or the generic one.
func (h *Handler) GetIcon(w http.ResponseWriter, r *http.Request) {
	asset := strings.TrimSuffix(chi.URLParam(r, "asset"), ".svg")
	data, err := h.icons.Open(asset)
	if err != nil {
		if errors.Is(err, assets.ErrAssetNotFound) {
			h.writeError(w, http.StatusNotFound, "ICON_NOT_FOUND", err.Error())
			return
		}
		h.writeError(w, http.StatusInternalServerError, "ICON_ERROR", err.Error())
		return
	}
	w.Header().Set("Content-Type", "image/svg+xml")
	w.Header().Set("Cache-Control", "public, max-age=86400")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// GetStatus reports the reconciler and the ticker stream.
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	dto := StatusDTO{
		Board:     h.board.Status(),
		CacheMode: "redis",
		AsOf:      time.Now().Unix(),
	}
	if h.source != nil {
		health := h.source.Health()
		dto.Source = h.source.Name()
		dto.SourceHealth = &health
	}
	if h.stream != nil {
		dto.Stream = h.stream.Stats()
	}
	if h.cache == nil || h.cache.IsInMemoryMode() {
		dto.CacheMode = "memory"
	}
	if h.wsHub != nil {
		dto.Clients = h.wsHub.ClientCount()
	}
	h.writeJSON(w, http.StatusOK, dto)
}

// Health endpoints
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// Readyz is ready once the cache answers and the stream is subscribed.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			h.writeError(w, http.StatusServiceUnavailable, "CACHE_UNAVAILABLE", err.Error())
			return
		}
	}
	if h.stream != nil && h.stream.State() != stream.StateSubscribed {
		h.writeError(w, http.StatusServiceUnavailable, "STREAM_NOT_READY", "ticker stream is "+h.stream.State().String())
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("READY"))
}

// WebSocket endpoint
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	h.wsHub.HandleWebSocket(w, r)
}

// SSE endpoint
func (h *Handler) HandleSSE(w http.ResponseWriter, r *http.Request) {
	h.sseHandler.HandleSSE(w, r)
}

// Utility methods
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, code, message string) {
	h.writeErrorWithDetails(w, status, code, message, "")
}

func (h *Handler) writeErrorWithDetails(w http.ResponseWriter, status int, code, message, details string) {
	if status >= http.StatusInternalServerError {
		h.logger.Errorw("API error", "code", code, "message", message, "details", details, "status", status)
	} else {
		h.logger.Debugw("API error", "code", code, "message", message, "status", status)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Code:    code,
		Message: message,
		Details: details,
	})
}

func (h *Handler) writeFetchError(w http.ResponseWriter, err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	h.writeErrorWithDetails(w, http.StatusBadGateway, "FETCH_FAILED", "could not load the next page", err.Error())
}
