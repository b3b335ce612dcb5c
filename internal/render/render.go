// Package render turns row view models into display-ready rows: formatted
// price and volume, trend colouring, icon URL and sparkline.
package render

import (
	"github.com/tickerboard/tickerboard-backend/internal/market"
)

// IconResolver maps a base asset to an icon URL.
type IconResolver interface {
	URL(asset string) string
}

// HistoryState is what is known about a row's sparkline data.
type HistoryState struct {
	Closes  []float64
	Loading bool
	Err     error
}

// Ready reports whether the closes can be drawn.
func (h HistoryState) Ready() bool {
	return !h.Loading && h.Err == nil && h.Closes != nil
}

// RenderedRow is one table row as the dashboard shows it.
type RenderedRow struct {
	Symbol        string `json:"symbol"`
	BaseAsset     string `json:"baseAsset"`
	QuoteAsset    string `json:"quoteAsset"`
	IconURL       string `json:"iconUrl"`
	Price         string `json:"price"`
	Volume        string `json:"volume"`
	ChangePercent string `json:"changePercent"`
	Trend         Trend  `json:"trend"`
	TrendIcon     string `json:"trendIcon,omitempty"`
	ChangeClass   string `json:"changeClass"`

	Sparkline        *Sparkline `json:"sparkline,omitempty"`
	SparklineSVG     string     `json:"sparklineSvg,omitempty"`
	SparklineLoading bool       `json:"sparklineLoading"`
}

type Renderer struct {
	icons IconResolver
	quote string
}

func NewRenderer(icons IconResolver, quote string) *Renderer {
	if quote == "" {
		quote = market.DefaultQuoteAsset
	}
	return &Renderer{icons: icons, quote: quote}
}

// Row renders one row. A sparkline is drawn only when history is ready;
// otherwise the row carries a loading placeholder.
func (r *Renderer) Row(row market.RowViewModel, history HistoryState) RenderedRow {
	change := row.Field(market.FieldChangePercent)
	trend := TrendOf(change)

	out := RenderedRow{
		Symbol:        row.Symbol,
		BaseAsset:     row.BaseAsset,
		QuoteAsset:    r.quote,
		Price:         FormatPrice(row.Field(market.FieldLastPrice)),
		Volume:        FormatVolume(row.Field(market.FieldVolume)),
		ChangePercent: FormatChange(change),
		Trend:         trend,
		TrendIcon:     trendIcon(change),
		ChangeClass:   trend.Class(),
	}
	if r.icons != nil {
		out.IconURL = r.icons.URL(row.BaseAsset)
	}

	if history.Ready() {
		out.Sparkline = NewSparkline(history.Closes, trend.Color())
		out.SparklineSVG = out.Sparkline.SVG()
	} else {
		out.SparklineLoading = true
	}
	return out
}

// Rows renders rows in order, looking each one's history up with lookup.
func (r *Renderer) Rows(rows []market.RowViewModel, lookup func(symbol string) HistoryState) []RenderedRow {
	out := make([]RenderedRow, len(rows))
	for i, row := range rows {
		var h HistoryState
		if lookup != nil {
			h = lookup(row.Symbol)
		} else {
			h.Loading = true
		}
		out[i] = r.Row(row, h)
	}
	return out
}
