package history

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tickerboard/tickerboard-backend/internal/store"
	"go.uber.org/zap"
)

type MockFetcher struct {
	mock.Mock
}

func (m *MockFetcher) FetchHistory(ctx context.Context, symbol string) ([]float64, error) {
	args := m.Called(ctx, symbol)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]float64), args.Error(1)
}

var _ Fetcher = (*MockFetcher)(nil)

func newTestCache(t *testing.T, f Fetcher) *Cache {
	t.Helper()
	logger, _ := zap.NewDevelopment()
	st := store.NewMemoryCache(logger.Sugar(), nil)
	t.Cleanup(func() { st.Close() })
	return New(f, st, time.Minute, logger.Sugar())
}

func TestGetFetchesOnceThenServesCache(t *testing.T) {
	f := &MockFetcher{}
	f.On("FetchHistory", mock.Anything, "BTCUSDT").Return([]float64{1, 2, 3}, nil).Once()
	c := newTestCache(t, f)
	ctx := context.Background()

	_, ok := c.Peek(ctx, "BTCUSDT")
	assert.False(t, ok)

	closes, err := c.Get(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3}, closes)

	closes, err = c.Get(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3}, closes)

	peeked, ok := c.Peek(ctx, "BTCUSDT")
	assert.True(t, ok)
	assert.Equal(t, closes, peeked)
	f.AssertExpectations(t)
}

func TestConcurrentMissesShareOneFetch(t *testing.T) {
	release := make(chan time.Time)
	f := &MockFetcher{}
	f.On("FetchHistory", mock.Anything, "ETHUSDT").
		WaitUntil(release).
		Return([]float64{10, 11}, nil).
		Once()
	c := newTestCache(t, f)

	var wg sync.WaitGroup
	results := make([][]float64, 6)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			closes, err := c.Get(context.Background(), "ETHUSDT")
			assert.NoError(t, err)
			results[i] = closes
		}(i)
	}

	time.Sleep(30 * time.Millisecond)
	close(release)
	wg.Wait()

	for _, r := range results {
		assert.Equal(t, []float64{10, 11}, r)
	}
	f.AssertNumberOfCalls(t, "FetchHistory", 1)
}

func TestFetchErrorIsNotCached(t *testing.T) {
	boom := errors.New("klines unavailable")
	f := &MockFetcher{}
	f.On("FetchHistory", mock.Anything, "SOLUSDT").Return(nil, boom).Once()
	f.On("FetchHistory", mock.Anything, "SOLUSDT").Return([]float64{5}, nil).Once()
	c := newTestCache(t, f)

	_, err := c.Get(context.Background(), "SOLUSDT")
	assert.ErrorIs(t, err, boom)

	closes, err := c.Get(context.Background(), "SOLUSDT")
	require.NoError(t, err)
	assert.Equal(t, []float64{5}, closes)
}

func TestCallerCancellationStillFillsCache(t *testing.T) {
	release := make(chan time.Time)
	f := &MockFetcher{}
	f.On("FetchHistory", mock.Anything, "BNBUSDT").
		WaitUntil(release).
		Return([]float64{7, 8}, nil).
		Once()
	c := newTestCache(t, f)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := c.Get(ctx, "BNBUSDT")
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	close(release)
	assert.Eventually(t, func() bool {
		_, ok := c.Peek(context.Background(), "BNBUSDT")
		return ok
	}, time.Second, 5*time.Millisecond)
}

func TestEmptySymbol(t *testing.T) {
	c := newTestCache(t, &MockFetcher{})
	_, err := c.Get(context.Background(), "")
	assert.Error(t, err)
}
