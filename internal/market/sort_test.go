package market

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextSortToggles(t *testing.T) {
	first := NextSort(nil, "price")
	require.NotNil(t, first)
	assert.Equal(t, Ascending, first.Direction)

	second := NextSort(first, "price")
	assert.Equal(t, Descending, second.Direction)

	third := NextSort(second, "c")
	assert.Equal(t, Ascending, third.Direction, "alias and short name are the same key")

	other := NextSort(third, "volume")
	assert.Equal(t, "volume", other.Key)
	assert.Equal(t, Ascending, other.Direction)

	assert.Nil(t, NextSort(other, ""))
	assert.Equal(t, Ascending, first.Direction, "input state is not mutated")
}

func TestParseDirection(t *testing.T) {
	d, err := ParseDirection("DESC")
	require.NoError(t, err)
	assert.Equal(t, Descending, d)

	d, err = ParseDirection("")
	require.NoError(t, err)
	assert.Equal(t, Ascending, d)

	_, err = ParseDirection("sideways")
	assert.Error(t, err)
}

func TestResolveField(t *testing.T) {
	assert.Equal(t, "c", ResolveField("price"))
	assert.Equal(t, "P", ResolveField("Change"))
	assert.Equal(t, "p", ResolveField("p"))
	assert.Equal(t, "customField", ResolveField("customField"))
}

func TestPage(t *testing.T) {
	catalog := []PairMeta{{Symbol: "AUSDT"}, {Symbol: "BUSDT"}, {Symbol: "CUSDT"}}

	assert.Equal(t, catalog[:2], Page(catalog, 0, 2))
	assert.Equal(t, catalog[2:], Page(catalog, 1, 2))
	assert.Equal(t, []PairMeta{}, Page(catalog, 2, 2))
	assert.Equal(t, []PairMeta{}, Page(catalog, -1, 2))

	p := Page(catalog, 0, 1)
	p[0].Symbol = "changed"
	assert.Equal(t, "AUSDT", catalog[0].Symbol)
}
