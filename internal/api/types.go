package api

import (
	"github.com/tickerboard/tickerboard-backend/internal/board"
	"github.com/tickerboard/tickerboard-backend/internal/market"
	"github.com/tickerboard/tickerboard-backend/internal/prices"
	"github.com/tickerboard/tickerboard-backend/internal/render"
	"github.com/tickerboard/tickerboard-backend/internal/stream"
)

type PairsDTO struct {
	Rows   []render.RenderedRow `json:"rows"`
	Search string               `json:"search,omitempty"`
	Sort   *market.SortState    `json:"sort,omitempty"`
	Status board.Status         `json:"status"`
}

type NextPageDTO struct {
	Requested bool         `json:"requested"`
	Status    board.Status `json:"status"`
}

type ScrollDTO struct {
	LoadMore  bool         `json:"loadMore"`
	Requested bool         `json:"requested"`
	Status    board.Status `json:"status"`
}

type SortDTO struct {
	Sort *market.SortState `json:"sort"`
}

type HistoryDTO struct {
	Symbol       string            `json:"symbol"`
	Closes       []float64         `json:"closes"`
	Sparkline    *render.Sparkline `json:"sparkline"`
	SparklineSVG string            `json:"sparklineSvg"`
}

type StatusDTO struct {
	Board        board.Status           `json:"board"`
	Source       string                 `json:"source,omitempty"`
	SourceHealth *prices.ProviderHealth `json:"sourceHealth,omitempty"`
	Stream       stream.Stats           `json:"stream"`
	CacheMode    string                 `json:"cacheMode"`
	Clients      int                    `json:"clients"`
	AsOf         int64                  `json:"asOf"`
}

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}
