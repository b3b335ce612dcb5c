package assets

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFS() fstest.MapFS {
	return fstest.MapFS{
		"btc.svg":     {Data: []byte("<svg>btc</svg>")},
		"generic.svg": {Data: []byte("<svg>generic</svg>")},
	}
}

func TestResolveKnownAndFallback(t *testing.T) {
	r := NewResolver(testFS(), "/v1/icons/")

	name, err := r.Resolve("BTC")
	require.NoError(t, err)
	assert.Equal(t, "btc", name)

	name, err = r.Resolve("DOGE")
	require.NoError(t, err)
	assert.Equal(t, GenericIcon, name)

	assert.Equal(t, "/v1/icons/btc.svg", r.URL("btc"))
	assert.Equal(t, "/v1/icons/generic.svg", r.URL("doge"))
}

func TestOpenServesFileContents(t *testing.T) {
	r := NewResolver(testFS(), "")

	data, err := r.Open("btc.svg")
	require.NoError(t, err)
	assert.Equal(t, "<svg>btc</svg>", string(data))

	data, err = r.Open("unknown")
	require.NoError(t, err)
	assert.Equal(t, "<svg>generic</svg>", string(data))
}

func TestRejectsPathTraversal(t *testing.T) {
	r := NewResolver(testFS(), "")
	for _, asset := range []string{"../etc/passwd", "a/b", ".hidden", ""} {
		name, err := r.Resolve(asset)
		require.NoError(t, err)
		assert.Equal(t, GenericIcon, name, asset)
	}
}

func TestMissingGenericIsAnError(t *testing.T) {
	r := NewResolver(fstest.MapFS{"eth.svg": {Data: []byte("e")}}, "")

	_, err := r.Resolve("btc")
	assert.ErrorIs(t, err, ErrAssetNotFound)

	_, err = r.Open("btc")
	assert.ErrorIs(t, err, ErrAssetNotFound)

	name, err := r.Resolve("eth")
	require.NoError(t, err)
	assert.Equal(t, "eth", name)

	assert.Equal(t, "/generic.svg", r.URL("btc"))
}

func TestResolutionIsMemoised(t *testing.T) {
	fsys := testFS()
	r := NewResolver(fsys, "")

	name, _ := r.Resolve("sol")
	assert.Equal(t, GenericIcon, name)

	fsys["sol.svg"] = &fstest.MapFile{Data: []byte("sol")}
	name, _ = r.Resolve("sol")
	assert.Equal(t, GenericIcon, name, "first answer sticks")
}

func TestDefaultFSHasGenericIcon(t *testing.T) {
	r := NewResolver(DefaultFS(), "/v1/icons")
	data, err := r.Open("nonexistent")
	require.NoError(t, err)
	assert.Contains(t, string(data), "<svg")
	assert.Equal(t, "/v1/icons/btc.svg", r.URL("BTC"))
}
