package board

import (
	"sort"
	"strings"

	"github.com/tickerboard/tickerboard-backend/internal/market"
)

// Project joins pairs with their cached ticker fields, filters by a
// case-insensitive substring of the symbol and, when order is set, stably
// sorts on the named field. Inputs are never modified; every returned row
// owns its Fields map.
func Project(pairs []market.PairMeta, tickers map[string]market.Fields, query string, order *market.SortState) []market.RowViewModel {
	needle := strings.ToLower(query)

	rows := make([]market.RowViewModel, 0, len(pairs))
	for _, p := range pairs {
		if needle != "" && !strings.Contains(strings.ToLower(p.Symbol), needle) {
			continue
		}
		rows = append(rows, market.RowViewModel{
			Symbol:    p.Symbol,
			BaseAsset: p.BaseAsset,
			Fields:    tickers[p.Symbol].Clone(),
		})
	}

	if order == nil || order.Key == "" {
		return rows
	}

	key := market.ResolveField(order.Key)
	desc := order.Direction == market.Descending
	sort.SliceStable(rows, func(i, j int) bool {
		c := market.Compare(rows[i].Field(key), rows[j].Field(key))
		if desc {
			return c > 0
		}
		return c < 0
	})
	return rows
}
