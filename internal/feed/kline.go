// Package feed delivers exchange kline data to the engine: a websocket
// stream for live bars, a REST client for backfill, and an assembler that
// groups per-asset bars into ticks.
package feed

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"corrdiv/internal/domain"
)

// Kline is one candlestick as reported by the exchange.
type Kline struct {
	Symbol      string
	Interval    string
	OpenTimeMs  int64
	CloseTimeMs int64
	Open        float64
	High        float64
	Low         float64
	Close       float64
	Volume      float64
	Closed      bool // false while the bar is still forming
}

// PricePoint converts the kline to a bar keyed by its open time.
func (k Kline) PricePoint() domain.PricePoint {
	return domain.PricePoint{
		TimestampMs: k.OpenTimeMs,
		Open:        k.Open,
		High:        k.High,
		Low:         k.Low,
		Close:       k.Close,
		Volume:      k.Volume,
	}
}

var intervalNames = []struct {
	d    time.Duration
	name string
}{
	{time.Minute, "1m"},
	{3 * time.Minute, "3m"},
	{5 * time.Minute, "5m"},
	{15 * time.Minute, "15m"},
	{30 * time.Minute, "30m"},
	{time.Hour, "1h"},
	{2 * time.Hour, "2h"},
	{4 * time.Hour, "4h"},
	{6 * time.Hour, "6h"},
	{8 * time.Hour, "8h"},
	{12 * time.Hour, "12h"},
	{24 * time.Hour, "1d"},
}

// IntervalName returns the exchange interval code for d, e.g. "1m" or "4h".
func IntervalName(d time.Duration) (string, error) {
	for _, in := range intervalNames {
		if in.d == d {
			return in.name, nil
		}
	}
	return "", fmt.Errorf("unsupported kline interval %s", d)
}

// streamName is the kline stream for symbol, e.g. "btcusdt@kline_1m".
func streamName(symbol, interval string) string {
	return strings.ToLower(symbol) + "@kline_" + interval
}

// parseDecimal parses an exchange price or quantity string.
func parseDecimal(field, s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s %q: %w", field, s, err)
	}
	return v, nil
}

// parseOHLCV fills the price fields of k from their string forms.
func parseOHLCV(k *Kline, open, high, low, closePrice, volume string) error {
	var err error
	if k.Open, err = parseDecimal("open", open); err != nil {
		return err
	}
	if k.High, err = parseDecimal("high", high); err != nil {
		return err
	}
	if k.Low, err = parseDecimal("low", low); err != nil {
		return err
	}
	if k.Close, err = parseDecimal("close", closePrice); err != nil {
		return err
	}
	if k.Volume, err = parseDecimal("volume", volume); err != nil {
		return err
	}
	return nil
}
