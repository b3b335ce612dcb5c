package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/tickerboard/tickerboard-backend/internal/prices"
)

const (
	HistoryInterval = 24 * time.Hour
	HistoryLimit    = 10
)

// FetchCandles retrieves up to limit klines for symbol, oldest first.
func (p *Provider) FetchCandles(ctx context.Context, symbol string, interval time.Duration, limit int) ([]prices.Candle, error) {
	if symbol == "" {
		return nil, fmt.Errorf("%w: empty symbol", ErrFetch)
	}
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("interval", prices.IntervalString(interval))
	params.Set("limit", strconv.Itoa(limit))

	var klines [][]json.RawMessage
	err := p.getJSON(ctx, "/api/v3/klines", params, &klines)
	p.metrics.RecordHistoryFetch(ctx, err)
	if err != nil {
		return nil, err
	}

	candles := make([]prices.Candle, 0, len(klines))
	for _, k := range klines {
		candle, err := parseKline(k)
		if err != nil {
			p.logger.Warnw("Failed to parse kline", "symbol", symbol, "error", err)
			continue
		}
		candles = append(candles, candle)
	}

	p.logger.Debugw("Fetched klines", "symbol", symbol, "interval", interval, "candles", len(candles))
	return candles, nil
}

// FetchHistory returns the closing prices of the last ten daily candles,
// most recent last.
func (p *Provider) FetchHistory(ctx context.Context, symbol string) ([]float64, error) {
	candles, err := p.FetchCandles(ctx, symbol, HistoryInterval, HistoryLimit)
	if err != nil {
		return nil, err
	}
	closes := prices.Closes(candles)
	if len(closes) > HistoryLimit {
		closes = closes[len(closes)-HistoryLimit:]
	}
	return closes, nil
}

// parseKline reads [openTime, open, high, low, close, volume, ...].
func parseKline(kline []json.RawMessage) (prices.Candle, error) {
	if len(kline) < 6 {
		return prices.Candle{}, fmt.Errorf("invalid kline: expected at least 6 fields, got %d", len(kline))
	}

	var openTime int64
	if err := json.Unmarshal(kline[0], &openTime); err != nil {
		return prices.Candle{}, fmt.Errorf("invalid open time: %w", err)
	}

	var vals [5]float64
	names := [5]string{"open", "high", "low", "close", "volume"}
	for i := range vals {
		v, err := parseFloat(kline[i+1])
		if err != nil {
			return prices.Candle{}, fmt.Errorf("invalid %s: %w", names[i], err)
		}
		vals[i] = v
	}

	return prices.Candle{
		Time:   openTime / 1000,
		Open:   vals[0],
		High:   vals[1],
		Low:    vals[2],
		Close:  vals[3],
		Volume: vals[4],
	}, nil
}

// parseFloat accepts a quoted or bare JSON number.
func parseFloat(raw json.RawMessage) (float64, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strconv.ParseFloat(s, 64)
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0, err
	}
	return f, nil
}
