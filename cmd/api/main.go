package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tickerboard/tickerboard-backend/internal/api"
	"github.com/tickerboard/tickerboard-backend/internal/assets"
	"github.com/tickerboard/tickerboard-backend/internal/board"
	"github.com/tickerboard/tickerboard-backend/internal/config"
	"github.com/tickerboard/tickerboard-backend/internal/history"
	"github.com/tickerboard/tickerboard-backend/internal/jobs"
	"github.com/tickerboard/tickerboard-backend/internal/log"
	"github.com/tickerboard/tickerboard-backend/internal/metrics"
	"github.com/tickerboard/tickerboard-backend/internal/prices/binance"
	"github.com/tickerboard/tickerboard-backend/internal/prices/mock"
	"github.com/tickerboard/tickerboard-backend/internal/render"
	"github.com/tickerboard/tickerboard-backend/internal/store"
	"github.com/tickerboard/tickerboard-backend/internal/stream"
	"github.com/tickerboard/tickerboard-backend/internal/ws"
)

// marketSource is what the board needs from an exchange: catalog pages and
// daily closes.
type marketSource interface {
	board.SnapshotFetcher
	history.Fetcher
	api.SourceHealth
}

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Setup logger
	logger, err := log.NewSugar(cfg.Env, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Infow("Starting ticker board server",
		"env", cfg.Env,
		"addr", cfg.HTTPAddr,
		"source", cfg.Market.Source,
		"quote", cfg.Market.QuoteAsset,
	)

	// Setup metrics
	metricsObj, metricsHandler, err := metrics.Setup("tickerboard")
	if err != nil {
		logger.Fatalw("Failed to setup metrics", "error", err)
	}

	// Setup cache; an empty Redis address runs in memory
	cache, err := store.NewCache(cfg.Cache.RedisAddr, logger, metricsObj)
	if err != nil {
		logger.Fatalw("Failed to setup cache", "error", err)
	}
	defer cache.Close()

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := cache.Ping(pingCtx); err != nil {
		logger.Fatalw("Cache ping failed", "error", err)
	}
	pingCancel()
	logger.Infow("Cache ready", "in_memory", cache.IsInMemoryMode())

	// Market source and ticker stream transport
	var (
		source   marketSource
		dialer   stream.Dialer
		provider *binance.Provider
	)
	switch cfg.Market.Source {
	case config.SourceMock:
		gen := mock.NewGenerator(mock.Config{QuoteAsset: cfg.Market.QuoteAsset}, logger)
		source, dialer = gen, gen
	default:
		provider = binance.NewProvider(binance.Config{
			BaseURL:    cfg.Market.RestURL,
			QuoteAsset: cfg.Market.QuoteAsset,
			CatalogTTL: cfg.Market.CatalogTTL,
		}, cache, logger, metricsObj)
		source = provider
		dialer = stream.WebsocketDialer{ReadTimeout: 2 * time.Minute}
	}

	historyCache := history.New(source, cache, cfg.Market.HistoryTTL, logger)

	reconciler, err := board.NewReconciler(source, board.Config{
		PageSize:        cfg.Board.PageSize,
		ScrollThreshold: cfg.Board.ScrollThreshold,
	}, logger, metricsObj)
	if err != nil {
		logger.Fatalw("Invalid board config", "error", err)
	}

	icons := assets.NewResolver(assets.DirFS(cfg.Assets.IconDir), "/v1/icons")
	renderer := render.NewRenderer(icons, cfg.Market.QuoteAsset)

	tickerStream := stream.NewClient(dialer, stream.Config{
		URL:        cfg.Market.WSURL,
		Reconnect:  cfg.Stream.Reconnect,
		MaxBackoff: cfg.Stream.MaxBackoff,
	}, log.Component(logger, "stream"), metricsObj)
	publisher := jobs.NewBoardPublisher(reconciler, historyCache, renderer, cache, log.Component(logger, "publisher"), metricsObj, jobs.BoardPublisherConfig{
		Interval: cfg.Board.PublishInterval,
	})
	tickerStream.Register(publisher.Listener())

	// Create context for background services
	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()

	// Setup WebSocket hub and SSE handler
	wsHub := ws.NewHub(cache, cfg.Security.CORSAllowedOrigins, logger, metricsObj)
	sseHandler := ws.NewSSEHandler(cache, logger)
	go wsHub.Run(bgCtx)

	go func() {
		if err := publisher.Start(bgCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Errorw("Board publisher error", "error", err)
		}
	}()

	if provider != nil {
		refresh := jobs.NewCatalogRefresh(provider, reconciler, cfg.Market.CatalogRefresh, logger)
		go func() {
			if err := refresh.Start(bgCtx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Errorw("Catalog refresh error", "error", err)
			}
		}()
	}

	// First page; a failure is kept as the table error and retried by the client
	if requested, err := reconciler.RequestNextPage(bgCtx); err != nil {
		logger.Warnw("Initial page failed", "error", err)
	} else if requested {
		publisher.PageLoaded()
	}

	if err := tickerStream.Connect(bgCtx); err != nil {
		logger.Warnw("Ticker stream connect failed", "error", err, "reconnect", cfg.Stream.Reconnect)
	}
	defer tickerStream.Close()

	// Setup API handler and middleware
	handler := api.NewHandler(reconciler, historyCache, renderer, icons, source, tickerStream, publisher, wsHub, sseHandler, cache, logger, metricsObj)
	middleware := api.NewMiddleware(logger, metricsObj)

	router := handler.Routes(middleware, cfg.Security.CORSAllowedOrigins, cfg.Security.RateLimitRPM)
	logger.Infow("CORS configured", "allowed_origins", cfg.Security.CORSAllowedOrigins)

	// Add metrics endpoint
	router.Handle("/metrics", metricsHandler)

	// No write timeout: SSE and WebSocket responses stay open.
	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Infow("API server starting", "addr", server.Addr)
		serverErrors <- server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Fatalw("Server startup failed", "error", err)
	case sig := <-shutdown:
		logger.Infow("Shutdown signal received", "signal", sig.String())

		// Stop background work first; the hub closes WebSocket clients
		bgCancel()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			logger.Errorw("Graceful shutdown failed", "error", err)
			server.Close()
		}

		logger.Infow("Server stopped")
	}
}
