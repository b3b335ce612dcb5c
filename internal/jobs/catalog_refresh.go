package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/tickerboard/tickerboard-backend/internal/board"
	"github.com/tickerboard/tickerboard-backend/internal/market"
	"go.uber.org/zap"
)

// CatalogSource reloads the pair catalog, bypassing its cache.
type CatalogSource interface {
	Refresh(ctx context.Context) ([]market.PairMeta, error)
}

// Resumable is a board that can leave the exhausted state.
type Resumable interface {
	Status() board.Status
	Resume()
}

// CatalogRefresh reloads the exchange catalog on a schedule so listings that
// appear after start-up become reachable by scrolling.
type CatalogRefresh struct {
	source   CatalogSource
	board    Resumable
	interval time.Duration
	logger   *zap.SugaredLogger
}

func NewCatalogRefresh(source CatalogSource, b Resumable, interval time.Duration, logger *zap.SugaredLogger) *CatalogRefresh {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &CatalogRefresh{source: source, board: b, interval: interval, logger: logger}
}

// RunOnce refreshes the catalog and resumes an exhausted board when the
// catalog now holds more pairs than the board has loaded.
func (c *CatalogRefresh) RunOnce(ctx context.Context) error {
	catalog, err := c.source.Refresh(ctx)
	if err != nil {
		return fmt.Errorf("refresh catalog: %w", err)
	}

	st := c.board.Status()
	if st.Exhausted && len(catalog) > st.Pairs {
		c.board.Resume()
		c.logger.Infow("Catalog grew; pagination resumed", "catalog", len(catalog), "loaded", st.Pairs)
	} else {
		c.logger.Debugw("Catalog refreshed", "catalog", len(catalog), "loaded", st.Pairs)
	}
	return nil
}

// Start runs the refresh every interval until ctx is cancelled.
func (c *CatalogRefresh) Start(ctx context.Context) error {
	s, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("create scheduler: %w", err)
	}

	_, err = s.NewJob(
		gocron.DurationJob(c.interval),
		gocron.NewTask(func() {
			if err := c.RunOnce(ctx); err != nil && ctx.Err() == nil {
				c.logger.Warnw("Catalog refresh failed", "error", err)
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		s.Shutdown()
		return fmt.Errorf("schedule catalog refresh: %w", err)
	}

	c.logger.Infow("Starting catalog refresh", "interval", c.interval)
	s.Start()

	<-ctx.Done()
	if err := s.Shutdown(); err != nil {
		c.logger.Warnw("Scheduler shutdown failed", "error", err)
	}
	return ctx.Err()
}
