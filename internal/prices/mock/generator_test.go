package mock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tickerboard/tickerboard-backend/internal/market"
	"github.com/tickerboard/tickerboard-backend/internal/stream"
)

func newTestGenerator() *Generator {
	return NewGenerator(Config{
		Assets:       []Asset{{"BTC", 50000}, {"ETH", 3000}, {"SOL", 150}},
		TickInterval: 5 * time.Millisecond,
		Seed:         42,
	}, nil)
}

func TestFetchPairsPages(t *testing.T) {
	g := newTestGenerator()
	ctx := context.Background()

	page, err := g.FetchPairs(ctx, 0, 2)
	require.NoError(t, err)
	assert.Equal(t, []market.PairMeta{{Symbol: "BTCUSDT", BaseAsset: "BTC"}, {Symbol: "ETHUSDT", BaseAsset: "ETH"}}, page)

	page, err = g.FetchPairs(ctx, 1, 2)
	require.NoError(t, err)
	assert.Len(t, page, 1)

	page, err = g.FetchPairs(ctx, 2, 2)
	require.NoError(t, err)
	assert.Empty(t, page)
}

func TestFetchHistoryEndsAtLastPrice(t *testing.T) {
	g := newTestGenerator()

	closes, err := g.FetchHistory(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	require.Len(t, closes, 10)
	assert.Equal(t, 50000.0, closes[9])
	for _, c := range closes {
		assert.Greater(t, c, 0.0)
	}

	_, err = g.FetchHistory(context.Background(), "NOPEUSDT")
	assert.ErrorIs(t, err, ErrUnknownSymbol)
}

func TestFramesDecodeAsTickerUpdates(t *testing.T) {
	g := newTestGenerator()
	conn, err := g.Dial(context.Background(), "")
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]any{"method": "SUBSCRIBE"}))
	raw, err := conn.ReadMessage()
	require.NoError(t, err)

	updates, err := stream.Decode(raw)
	require.NoError(t, err)
	require.Len(t, updates, 3)
	assert.Equal(t, "BTCUSDT", updates[0].Symbol)
	assert.Equal(t, market.KindNumber, updates[0].Fields[market.FieldLastPrice].Kind())
	assert.Equal(t, market.KindNumber, updates[0].Fields[market.FieldChangePercent].Kind())

	last, ok := updates[0].Fields[market.FieldLastPrice].Decimal()
	require.True(t, ok)
	assert.InDelta(t, 50000, last.InexactFloat64(), 50000*0.5)
}

func TestFeedStopsOnClose(t *testing.T) {
	g := newTestGenerator()
	conn, err := g.Dial(context.Background(), "")
	require.NoError(t, err)

	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close())
	_, err = conn.ReadMessage()
	assert.Error(t, err)
	assert.Error(t, conn.WriteJSON(nil))
}

func TestGeneratorDrivesStreamClient(t *testing.T) {
	g := newTestGenerator()
	c := stream.NewClient(g, stream.Config{}, nil, nil)
	defer c.Close()

	got := make(chan []market.TickerUpdate, 1)
	c.Register(func(u []market.TickerUpdate) {
		select {
		case got <- u:
		default:
		}
	})
	require.NoError(t, c.Connect(context.Background()))

	select {
	case u := <-got:
		assert.Len(t, u, 3)
	case <-time.After(2 * time.Second):
		t.Fatal("no frames from mock feed")
	}
}

func TestGeneratorIsAlwaysHealthy(t *testing.T) {
	g := newTestGenerator()
	assert.Equal(t, "mock", g.Name())
	assert.True(t, g.Health().Healthy)
}
