package render

import (
	"sync"

	"github.com/shopspring/decimal"
	"github.com/tickerboard/tickerboard-backend/internal/market"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

var (
	printerOnce sync.Once
	printer     *message.Printer

	thousand = decimal.NewFromInt(1_000)
	million  = decimal.NewFromInt(1_000_000)
	billion  = decimal.NewFromInt(1_000_000_000)
)

func enPrinter() *message.Printer {
	printerOnce.Do(func() {
		printer = message.NewPrinter(language.AmericanEnglish)
	})
	return printer
}

// FormatPrice renders a price with two fraction digits and thousands
// separators ("50,000.00"). Non-numeric input renders as "0".
func FormatPrice(v market.Value) string {
	d, ok := v.Decimal()
	if !ok {
		return "0"
	}
	rounded := d.Round(2).InexactFloat64()
	return enPrinter().Sprint(number.Decimal(rounded, number.Scale(2)))
}

// FormatVolume abbreviates large volumes to one decimal with a K, M or B
// suffix. Smaller values are printed as they are; non-numeric input is "0".
func FormatVolume(v market.Value) string {
	d, ok := v.Decimal()
	if !ok {
		return "0"
	}
	switch {
	case d.GreaterThanOrEqual(billion):
		return d.Div(billion).StringFixed(1) + "B"
	case d.GreaterThanOrEqual(million):
		return d.Div(million).StringFixed(1) + "M"
	case d.GreaterThanOrEqual(thousand):
		return d.Div(thousand).StringFixed(1) + "K"
	default:
		return d.String()
	}
}

// FormatChange is the raw change percentage, or "0" when absent.
func FormatChange(v market.Value) string {
	if v.IsAbsent() || v.String() == "" {
		return "0"
	}
	return v.String()
}
