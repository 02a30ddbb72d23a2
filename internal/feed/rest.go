package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"corrdiv/internal/observability"
)

// Default configuration values.
const (
	DefaultTimeout     = 30 * time.Second
	DefaultMaxRetries  = 3
	DefaultRetryDelay  = 1 * time.Second
	DefaultMaxDelay    = 10 * time.Second
	DefaultBackoffMult = 2.0

	// MaxKlinesPerRequest is the exchange page size limit.
	MaxKlinesPerRequest = 1000
)

const klinesPath = "/api/v3/klines"

// RESTClient fetches historical klines over HTTP.
type RESTClient struct {
	baseURL     string
	client      *http.Client
	maxRetries  int
	retryDelay  time.Duration
	maxDelay    time.Duration
	backoffMult float64
	now         func() time.Time
	logger      zerolog.Logger
	metrics     *observability.Metrics
}

// ClientOption configures RESTClient.
type ClientOption func(*RESTClient)

// WithTimeout sets HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *RESTClient) {
		c.client.Timeout = d
	}
}

// WithMaxRetries sets maximum retry attempts.
func WithMaxRetries(n int) ClientOption {
	return func(c *RESTClient) {
		c.maxRetries = n
	}
}

// WithRetryDelay sets initial retry delay.
func WithRetryDelay(d time.Duration) ClientOption {
	return func(c *RESTClient) {
		c.retryDelay = d
	}
}

// WithMaxDelay sets maximum retry delay.
func WithMaxDelay(d time.Duration) ClientOption {
	return func(c *RESTClient) {
		c.maxDelay = d
	}
}

// WithHTTPClient sets custom http.Client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *RESTClient) {
		c.client = client
	}
}

// WithClock sets the clock used to decide whether the last kline has closed.
func WithClock(now func() time.Time) ClientOption {
	return func(c *RESTClient) {
		c.now = now
	}
}

// WithLogger sets the client logger.
func WithLogger(logger zerolog.Logger) ClientOption {
	return func(c *RESTClient) {
		c.logger = logger.With().Str("component", "feed.rest").Logger()
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *observability.Metrics) ClientOption {
	return func(c *RESTClient) {
		c.metrics = m
	}
}

// NewRESTClient creates a kline REST client for baseURL, e.g. "https://api.binance.com".
func NewRESTClient(baseURL string, opts ...ClientOption) *RESTClient {
	c := &RESTClient{
		baseURL:     baseURL,
		client:      &http.Client{Timeout: DefaultTimeout},
		maxRetries:  DefaultMaxRetries,
		retryDelay:  DefaultRetryDelay,
		maxDelay:    DefaultMaxDelay,
		backoffMult: DefaultBackoffMult,
		now:         time.Now,
		logger:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// APIError is an error body returned by the exchange. Not retried.
type APIError struct {
	Status int
	Code   int    `json:"code"`
	Msg    string `json:"msg"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d (status %d): %s", e.Code, e.Status, e.Msg)
}

// get performs a GET with retries and exponential backoff.
// Transport failures, 429 and 5xx responses are retried; other statuses are not.
func (c *RESTClient) get(ctx context.Context, path string, query url.Values, result interface{}) error {
	endpoint := c.baseURL + path + "?" + query.Encode()

	delay := c.retryDelay
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay = time.Duration(float64(delay) * c.backoffMult)
			if delay > c.maxDelay {
				delay = c.maxDelay
			}
			c.logger.Debug().Err(lastErr).Int("attempt", attempt).Str("path", path).Msg("retrying request")
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}

		start := time.Now()
		resp, err := c.client.Do(req)
		c.metrics.RecordRESTLatency(path, time.Since(start).Seconds())
		if err != nil {
			lastErr = fmt.Errorf("http request: %w", err)
			continue
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("read response: %w", err)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
			lastErr = fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
			continue
		}

		if resp.StatusCode != http.StatusOK {
			apiErr := &APIError{Status: resp.StatusCode}
			if err := json.Unmarshal(body, apiErr); err != nil || apiErr.Msg == "" {
				apiErr.Msg = string(body)
			}
			return apiErr
		}

		if err := json.Unmarshal(body, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
		return nil
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

// Klines fetches up to limit klines for symbol whose open time lies in
// [startMs, endMs]. Zero bounds are omitted from the request.
func (c *RESTClient) Klines(ctx context.Context, symbol, interval string, startMs, endMs int64, limit int) ([]Kline, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("interval", interval)
	if startMs > 0 {
		q.Set("startTime", strconv.FormatInt(startMs, 10))
	}
	if endMs > 0 {
		q.Set("endTime", strconv.FormatInt(endMs, 10))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	var rows [][]json.RawMessage
	if err := c.get(ctx, klinesPath, q, &rows); err != nil {
		return nil, err
	}

	nowMs := c.now().UnixMilli()
	klines := make([]Kline, 0, len(rows))
	for i, row := range rows {
		k, err := parseKlineRow(row)
		if err != nil {
			return nil, fmt.Errorf("kline %d: %w", i, err)
		}
		k.Symbol = symbol
		k.Interval = interval
		k.Closed = k.CloseTimeMs < nowMs
		klines = append(klines, k)
	}
	return klines, nil
}

// History pages through Klines until endMs and returns closed klines only,
// ascending by open time.
func (c *RESTClient) History(ctx context.Context, symbol, interval string, startMs, endMs int64) ([]Kline, error) {
	var out []Kline
	cursor := startMs
	for cursor <= endMs {
		page, err := c.Klines(ctx, symbol, interval, cursor, endMs, MaxKlinesPerRequest)
		if err != nil {
			return nil, err
		}
		if len(page) == 0 {
			break
		}
		for _, k := range page {
			if k.Closed {
				out = append(out, k)
			}
		}
		last := page[len(page)-1].OpenTimeMs
		if len(page) < MaxKlinesPerRequest || last < cursor {
			break
		}
		cursor = last + 1
	}
	return out, nil
}

// parseKlineRow decodes one row of the klines array:
// [openTime, open, high, low, close, volume, closeTime, ...].
func parseKlineRow(row []json.RawMessage) (Kline, error) {
	var k Kline
	if len(row) < 7 {
		return k, fmt.Errorf("expected at least 7 fields, got %d", len(row))
	}
	if err := json.Unmarshal(row[0], &k.OpenTimeMs); err != nil {
		return k, fmt.Errorf("open time: %w", err)
	}
	if err := json.Unmarshal(row[6], &k.CloseTimeMs); err != nil {
		return k, fmt.Errorf("close time: %w", err)
	}

	var fields [5]string
	for i := range fields {
		if err := json.Unmarshal(row[i+1], &fields[i]); err != nil {
			return k, fmt.Errorf("field %d: %w", i+1, err)
		}
	}
	if err := parseOHLCV(&k, fields[0], fields[1], fields[2], fields[3], fields[4]); err != nil {
		return k, err
	}
	return k, nil
}
