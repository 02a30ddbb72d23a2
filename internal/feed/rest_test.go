package feed

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const restBase = int64(1_700_000_040_000)

func klineRow(openTime int64, closePrice string) []interface{} {
	return []interface{}{
		openTime, "100.0", "102.0", "98.0", closePrice, "10.0",
		openTime + 59_999, "1000.0", 42, "5.0", "500.0", "0",
	}
}

func fixedClock(ms int64) func() time.Time {
	return func() time.Time { return time.UnixMilli(ms) }
}

func TestRESTClient_Klines(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/klines", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "ETHUSDT", q.Get("symbol"))
		assert.Equal(t, "1m", q.Get("interval"))
		assert.Equal(t, strconv.FormatInt(restBase, 10), q.Get("startTime"))
		assert.Equal(t, "2", q.Get("limit"))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode([][]interface{}{
			klineRow(restBase, "101.0"),
			klineRow(restBase+60_000, "102.0"),
		})
	}))
	defer server.Close()

	// The second bar is still forming at this clock.
	client := NewRESTClient(server.URL, WithClock(fixedClock(restBase+90_000)))
	klines, err := client.Klines(context.Background(), "ETHUSDT", "1m", restBase, 0, 2)
	require.NoError(t, err)
	require.Len(t, klines, 2)

	assert.Equal(t, restBase, klines[0].OpenTimeMs)
	assert.Equal(t, 101.0, klines[0].Close)
	assert.Equal(t, 102.0, klines[0].High)
	assert.Equal(t, 98.0, klines[0].Low)
	assert.Equal(t, 10.0, klines[0].Volume)
	assert.Equal(t, "ETHUSDT", klines[0].Symbol)
	assert.True(t, klines[0].Closed)
	assert.False(t, klines[1].Closed)
}

func TestRESTClient_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode([][]interface{}{klineRow(restBase, "101.0")})
	}))
	defer server.Close()

	client := NewRESTClient(server.URL,
		WithRetryDelay(time.Millisecond),
		WithMaxDelay(5*time.Millisecond),
		WithClock(fixedClock(restBase+120_000)),
	)
	klines, err := client.Klines(context.Background(), "ETHUSDT", "1m", 0, 0, 0)
	require.NoError(t, err)
	assert.Len(t, klines, 1)
	assert.Equal(t, int32(3), calls.Load())
}

func TestRESTClient_MaxRetriesExceeded(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := NewRESTClient(server.URL, WithMaxRetries(2), WithRetryDelay(time.Millisecond))
	_, err := client.Klines(context.Background(), "ETHUSDT", "1m", 0, 0, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max retries exceeded")
	assert.Equal(t, int32(3), calls.Load())
}

func TestRESTClient_APIErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":-1121,"msg":"Invalid symbol."}`))
	}))
	defer server.Close()

	client := NewRESTClient(server.URL, WithRetryDelay(time.Millisecond))
	_, err := client.Klines(context.Background(), "NOPE", "1m", 0, 0, 0)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, -1121, apiErr.Code)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.Equal(t, "Invalid symbol.", apiErr.Msg)
	assert.Equal(t, int32(1), calls.Load())
}

func TestRESTClient_HistoryPaginates(t *testing.T) {
	const total = MaxKlinesPerRequest + 5
	end := restBase + int64(total-1)*60_000

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		start, _ := strconv.ParseInt(r.URL.Query().Get("startTime"), 10, 64)
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

		var rows [][]interface{}
		for ts := restBase; ts <= end && len(rows) < limit; ts += 60_000 {
			if ts >= start {
				rows = append(rows, klineRow(ts, "100.0"))
			}
		}
		_ = json.NewEncoder(w).Encode(rows)
	}))
	defer server.Close()

	// The final bar is still open and must be excluded.
	client := NewRESTClient(server.URL, WithClock(fixedClock(end+30_000)))
	klines, err := client.History(context.Background(), "BTCUSDT", "1m", restBase, end)
	require.NoError(t, err)

	assert.Len(t, klines, total-1)
	assert.Equal(t, int32(2), calls.Load())
	for i := 1; i < len(klines); i++ {
		require.Equal(t, klines[i-1].OpenTimeMs+60_000, klines[i].OpenTimeMs)
	}
}
