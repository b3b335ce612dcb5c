package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tickerboard/tickerboard-backend/internal/market"
)

func TestDecodeArray(t *testing.T) {
	updates, err := Decode([]byte(`[
		{"s":"BTCUSDT","c":"50000.00","P":"-1.2","E":1700000000000},
		{"s":"ETHUSDT","c":"3000"}
	]`))
	require.NoError(t, err)
	require.Len(t, updates, 2)

	assert.Equal(t, "BTCUSDT", updates[0].Symbol)
	assert.Equal(t, "-1.2", updates[0].Fields["P"].String())
	assert.Equal(t, market.KindNumber, updates[0].Fields["E"].Kind())
	assert.Equal(t, "ETHUSDT", updates[1].Symbol)
	assert.NotContains(t, updates[1].Fields, "P", "absent fields stay absent")
}

func TestDecodeSingleObject(t *testing.T) {
	updates, err := Decode([]byte(`{"s":"SOLUSDT","c":"150.1","x":"n/a"}`))
	require.NoError(t, err)
	require.Len(t, updates, 1)
	assert.Equal(t, market.KindText, updates[0].Fields["x"].Kind())
}

func TestDecodeCombinedEnvelope(t *testing.T) {
	updates, err := Decode([]byte(`{"stream":"!ticker@arr","data":[{"s":"BNBUSDT","c":"600"}]}`))
	require.NoError(t, err)
	require.Len(t, updates, 1)
	assert.Equal(t, "BNBUSDT", updates[0].Symbol)
}

func TestDecodeSkipsControlAndSymbolless(t *testing.T) {
	updates, err := Decode([]byte(`{"result":null,"id":1}`))
	require.NoError(t, err)
	assert.Empty(t, updates)

	updates, err = Decode([]byte(`[{"c":"1"},{"s":"","c":"2"},{"s":"XRPUSDT","c":"0.5"}]`))
	require.NoError(t, err)
	require.Len(t, updates, 1)
	assert.Equal(t, "XRPUSDT", updates[0].Symbol)
}

func TestDecodeFailures(t *testing.T) {
	for name, frame := range map[string]string{
		"empty":          ``,
		"garbage":        `not json`,
		"scalar":         `42`,
		"broken array":   `[{"s":"BTCUSDT"`,
		"non-object":     `[1,2]`,
		"numeric symbol": `{"s":5}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Decode([]byte(frame))
			assert.ErrorIs(t, err, ErrDecode)
		})
	}
}
