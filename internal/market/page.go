package market

// Page returns a copy of the page-th slice of size pageSize from catalog.
// Pages past the end are empty but non-nil.
func Page(catalog []PairMeta, page, pageSize int) []PairMeta {
	start := page * pageSize
	if page < 0 || pageSize <= 0 || start >= len(catalog) {
		return []PairMeta{}
	}
	end := start + pageSize
	if end > len(catalog) {
		end = len(catalog)
	}
	out := make([]PairMeta, end-start)
	copy(out, catalog[start:end])
	return out
}
