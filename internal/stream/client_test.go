package stream

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tickerboard/tickerboard-backend/internal/market"
	"go.uber.org/zap"
)

const btcFrame = `[{"e":"24hrTicker","s":"BTCUSDT","c":"50000.00","P":"2.5","v":"1234.5"}]`

func newTestClient(t *testing.T, d Dialer, cfg Config) *Client {
	t.Helper()
	logger, _ := zap.NewDevelopment()
	c := NewClient(d, cfg, logger.Sugar(), nil)
	t.Cleanup(func() { c.Close() })
	return c
}

func recv(t *testing.T, ch <-chan []market.TickerUpdate) []market.TickerUpdate {
	t.Helper()
	select {
	case u := <-ch:
		return u
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for updates")
		return nil
	}
}

func TestConnectSendsSubscribe(t *testing.T) {
	conn := newFakeConn()
	d := &fakeDialer{conns: []*fakeConn{conn}}
	c := newTestClient(t, d, Config{URL: "ws://example.test/ws"})

	require.NoError(t, c.Connect(context.Background()))
	assert.Equal(t, StateSubscribed, c.State())
	assert.Equal(t, []string{"ws://example.test/ws"}, d.urls)

	writes := conn.writes()
	require.Len(t, writes, 1)
	assert.JSONEq(t, `{"method":"SUBSCRIBE","params":["!ticker@arr"],"id":1}`, string(writes[0]))

	require.NoError(t, c.Connect(context.Background()))
	assert.Equal(t, 1, d.dialCount(), "connecting twice reuses the live subscription")
}

func TestConnectDialFailure(t *testing.T) {
	d := &fakeDialer{errs: []error{errors.New("refused")}}
	c := newTestClient(t, d, Config{})

	err := c.Connect(context.Background())
	assert.ErrorIs(t, err, ErrStream)
	assert.Equal(t, StateDisconnected, c.State())
}

func TestListenersReceiveInRegistrationOrder(t *testing.T) {
	conn := newFakeConn()
	c := newTestClient(t, &fakeDialer{conns: []*fakeConn{conn}}, Config{})

	var mu sync.Mutex
	var order []string
	done := make(chan []market.TickerUpdate, 1)
	c.Register(func(u []market.TickerUpdate) {
		mu.Lock()
		order = append(order, "first")
		mu.Unlock()
	})
	c.Register(func(u []market.TickerUpdate) {
		mu.Lock()
		order = append(order, "second")
		mu.Unlock()
		done <- u
	})

	require.NoError(t, c.Connect(context.Background()))
	conn.frames <- []byte(btcFrame)

	updates := recv(t, done)
	require.Len(t, updates, 1)
	assert.Equal(t, "BTCUSDT", updates[0].Symbol)
	assert.Equal(t, "50000.00", updates[0].Fields["c"].String())
	assert.Equal(t, market.KindNumber, updates[0].Fields["c"].Kind())

	mu.Lock()
	assert.Equal(t, []string{"first", "second"}, order)
	mu.Unlock()
}

func TestUnregisterStopsDelivery(t *testing.T) {
	conn := newFakeConn()
	c := newTestClient(t, &fakeDialer{conns: []*fakeConn{conn}}, Config{})

	removed := make(chan []market.TickerUpdate, 4)
	kept := make(chan []market.TickerUpdate, 4)
	id := c.Register(func(u []market.TickerUpdate) { removed <- u })
	c.Register(func(u []market.TickerUpdate) { kept <- u })
	c.Unregister(id)
	c.Unregister(ListenerID(999))

	require.NoError(t, c.Connect(context.Background()))
	conn.frames <- []byte(btcFrame)
	recv(t, kept)

	assert.Empty(t, removed)
	assert.Equal(t, 1, c.Stats().Listeners)
}

func TestListenerPanicDoesNotStopOthers(t *testing.T) {
	conn := newFakeConn()
	c := newTestClient(t, &fakeDialer{conns: []*fakeConn{conn}}, Config{})

	got := make(chan []market.TickerUpdate, 2)
	c.Register(func([]market.TickerUpdate) { panic("listener bug") })
	c.Register(func(u []market.TickerUpdate) { got <- u })

	require.NoError(t, c.Connect(context.Background()))
	conn.frames <- []byte(btcFrame)
	conn.frames <- []byte(btcFrame)
	recv(t, got)
	recv(t, got)

	assert.Equal(t, int64(2), c.Stats().ListenerPanics)
}

func TestDecodeFailureIsDroppedAndStreamContinues(t *testing.T) {
	conn := newFakeConn()
	c := newTestClient(t, &fakeDialer{conns: []*fakeConn{conn}}, Config{})

	got := make(chan []market.TickerUpdate, 2)
	c.Register(func(u []market.TickerUpdate) { got <- u })
	require.NoError(t, c.Connect(context.Background()))

	conn.frames <- []byte(`{"result":null,"id":1}`)
	conn.frames <- []byte(`not json`)
	conn.frames <- []byte(btcFrame)

	updates := recv(t, got)
	assert.Equal(t, "BTCUSDT", updates[0].Symbol)

	st := c.Stats()
	assert.Equal(t, int64(1), st.DecodeFailures)
	assert.Equal(t, int64(1), st.Messages)
	assert.Equal(t, int64(1), st.Updates)
}

func TestCloseIsIdempotentAndStopsDelivery(t *testing.T) {
	conn := newFakeConn()
	c := newTestClient(t, &fakeDialer{conns: []*fakeConn{conn}}, Config{})

	got := make(chan []market.TickerUpdate, 4)
	c.Register(func(u []market.TickerUpdate) { got <- u })
	require.NoError(t, c.Connect(context.Background()))

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.True(t, conn.isClosed())
	assert.Equal(t, StateDisconnected, c.State())

	c.handle([]byte(btcFrame))
	assert.Empty(t, got)

	assert.ErrorIs(t, c.Connect(context.Background()), ErrClosed)
}

func TestCloseFromInsideListener(t *testing.T) {
	conn := newFakeConn()
	c := newTestClient(t, &fakeDialer{conns: []*fakeConn{conn}}, Config{})

	after := make(chan []market.TickerUpdate, 1)
	closed := make(chan struct{})
	c.Register(func([]market.TickerUpdate) {
		c.Unsubscribe()
		close(closed)
	})
	c.Register(func(u []market.TickerUpdate) { after <- u })

	require.NoError(t, c.Connect(context.Background()))
	conn.frames <- []byte(btcFrame)

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("listener never ran")
	}
	assert.Empty(t, after, "listeners after a close are skipped")
	assert.True(t, conn.isClosed())
}

func TestDropWithoutReconnectStaysDisconnected(t *testing.T) {
	conn := newFakeConn()
	d := &fakeDialer{conns: []*fakeConn{conn}}
	c := newTestClient(t, d, Config{})
	require.NoError(t, c.Connect(context.Background()))

	conn.drop()
	require.Eventually(t, func() bool { return c.State() == StateDisconnected }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, d.dialCount())
}

func TestDropWithReconnectResubscribes(t *testing.T) {
	first, second := newFakeConn(), newFakeConn()
	d := &fakeDialer{
		conns: []*fakeConn{first, nil, second},
		errs:  []error{nil, errors.New("still down"), nil},
	}
	c := newTestClient(t, d, Config{Reconnect: true, BaseBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond})

	got := make(chan []market.TickerUpdate, 1)
	c.Register(func(u []market.TickerUpdate) { got <- u })
	require.NoError(t, c.Connect(context.Background()))

	first.drop()
	require.Eventually(t, func() bool {
		return d.dialCount() == 3 && c.State() == StateSubscribed
	}, 2*time.Second, 5*time.Millisecond)

	require.Len(t, second.writes(), 1)
	second.frames <- []byte(btcFrame)
	assert.Equal(t, "BTCUSDT", recv(t, got)[0].Symbol)
	assert.Equal(t, int64(2), c.Stats().Reconnects)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "disconnected", StateDisconnected.String())
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "subscribed", StateSubscribed.String())
}

func TestFailedConnectRetriesWhenReconnectEnabled(t *testing.T) {
	conn := newFakeConn()
	d := &fakeDialer{
		conns: []*fakeConn{nil, nil, conn},
		errs:  []error{errors.New("refused"), errors.New("still down"), nil},
	}
	c := newTestClient(t, d, Config{Reconnect: true, BaseBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond})

	got := make(chan []market.TickerUpdate, 1)
	c.Register(func(u []market.TickerUpdate) { got <- u })

	err := c.Connect(context.Background())
	assert.ErrorIs(t, err, ErrStream)
	require.Eventually(t, func() bool {
		return d.dialCount() == 3 && c.State() == StateSubscribed
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, c.Connect(context.Background()))
	assert.Equal(t, 3, d.dialCount(), "connect while subscribed does not dial")

	conn.frames <- []byte(btcFrame)
	assert.Equal(t, "BTCUSDT", recv(t, got)[0].Symbol)
}

func TestCloseStopsBackgroundConnect(t *testing.T) {
	d := &fakeDialer{}
	c := newTestClient(t, d, Config{Reconnect: true, BaseBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond})

	assert.Error(t, c.Connect(context.Background()))
	require.Eventually(t, func() bool { return d.dialCount() >= 3 }, 2*time.Second, time.Millisecond)

	require.NoError(t, c.Close())
	time.Sleep(20 * time.Millisecond)
	settled := d.dialCount()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, settled, d.dialCount())
	assert.Equal(t, StateDisconnected, c.State())
}
