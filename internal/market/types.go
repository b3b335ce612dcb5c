package market

import "strings"

// DefaultQuoteAsset is the quote currency every listed pair trades against.
const DefaultQuoteAsset = "USDT"

// PairMeta is the static catalog entry for a tradable pair.
type PairMeta struct {
	Symbol    string `json:"symbol"`
	BaseAsset string `json:"baseAsset"`
}

// TickerUpdate is a sparse set of live fields for one symbol, keyed by the
// short field names used on the ticker stream (c, P, v, ...).
type TickerUpdate struct {
	Symbol string `json:"symbol"`
	Fields Fields `json:"fields"`
}

// Fields maps a ticker field name to its last known value.
type Fields map[string]Value

// Clone returns a copy of f. A nil receiver yields an empty, non-nil map.
func (f Fields) Clone() Fields {
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// Merge overwrites the fields of f with those of update, leaving fields the
// update does not carry untouched.
func (f Fields) Merge(update Fields) {
	for k, v := range update {
		f[k] = v
	}
}

// RowViewModel is the projection of a pair joined with its cached ticker
// fields. Ticker fields win over pair metadata on a key collision.
type RowViewModel struct {
	Symbol    string `json:"symbol"`
	BaseAsset string `json:"baseAsset"`
	Fields    Fields `json:"fields"`
}

// Field returns the value stored under key, resolving aliases first.
func (r RowViewModel) Field(key string) Value {
	key = ResolveField(key)
	if v, ok := r.Fields[key]; ok {
		return v
	}
	switch key {
	case FieldSymbol:
		return Text(r.Symbol)
	case FieldBaseAsset:
		return Text(r.BaseAsset)
	}
	return Value{}
}

// Ticker stream field names.
const (
	FieldSymbol        = "s"
	FieldBaseAsset     = "baseAsset"
	FieldLastPrice     = "c"
	FieldChangePercent = "P"
	FieldPriceChange   = "p"
	FieldVolume        = "v"
	FieldQuoteVolume   = "q"
	FieldHigh          = "h"
	FieldLow           = "l"
	FieldOpen          = "o"
	FieldTrades        = "n"
)

var fieldAliases = map[string]string{
	"symbol":        FieldSymbol,
	"baseasset":     FieldBaseAsset,
	"asset":         FieldBaseAsset,
	"price":         FieldLastPrice,
	"lastprice":     FieldLastPrice,
	"change":        FieldChangePercent,
	"changepercent": FieldChangePercent,
	"pricechange":   FieldPriceChange,
	"volume":        FieldVolume,
	"quotevolume":   FieldQuoteVolume,
	"high":          FieldHigh,
	"low":           FieldLow,
	"open":          FieldOpen,
	"trades":        FieldTrades,
}

// ResolveField maps a friendly sort key onto the stream field name. Short
// names are case-sensitive (p and P differ) and are returned unchanged.
func ResolveField(key string) string {
	if len(key) <= 1 {
		return key
	}
	if short, ok := fieldAliases[strings.ToLower(key)]; ok {
		return short
	}
	return key
}
