package render

import (
	"github.com/tickerboard/tickerboard-backend/internal/market"
)

type Trend string

const (
	TrendDown Trend = "down"
	TrendFlat Trend = "flat"
	TrendUp   Trend = "up"
)

const (
	ColorDown    = "red"
	ColorUp      = "green"
	ColorNeutral = "#a1a1aa"
)

// TrendOf classifies a change percentage. Zero, absent and non-numeric
// values are flat.
func TrendOf(v market.Value) Trend {
	d, ok := v.Decimal()
	if !ok {
		return TrendFlat
	}
	switch d.Sign() {
	case -1:
		return TrendDown
	case 1:
		return TrendUp
	default:
		return TrendFlat
	}
}

// Color is the sparkline stroke for the trend.
func (t Trend) Color() string {
	switch t {
	case TrendDown:
		return ColorDown
	case TrendUp:
		return ColorUp
	default:
		return ColorNeutral
	}
}

// Class is the text colour class of the change cell.
func (t Trend) Class() string {
	switch t {
	case TrendDown:
		return "text-red-600"
	case TrendUp:
		return "text-green-600"
	default:
		return "text-zinc-400"
	}
}

// trendIcon names the arrow shown next to the change. A change that is
// present but not a number gets no icon.
func trendIcon(v market.Value) string {
	if v.IsAbsent() {
		return "stable"
	}
	if _, ok := v.Decimal(); !ok {
		return ""
	}
	switch TrendOf(v) {
	case TrendDown:
		return "decreasing"
	case TrendUp:
		return "increasing"
	default:
		return "stable"
	}
}
