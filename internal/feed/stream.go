package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"corrdiv/internal/observability"
)

var errNotConnected = errors.New("not connected")

// StreamConfig configures websocket client behavior.
type StreamConfig struct {
	// ReconnectDelay is initial delay before reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectDelay is maximum delay between reconnect attempts.
	MaxReconnectDelay time.Duration
	// PingInterval is interval for sending ping frames.
	PingInterval time.Duration
	// ReadTimeout is timeout for reading messages.
	ReadTimeout time.Duration
	// WriteTimeout is timeout for writing messages.
	WriteTimeout time.Duration
	// SubscribeTimeout bounds the wait for a SUBSCRIBE acknowledgement.
	SubscribeTimeout time.Duration
}

// DefaultStreamConfig returns default websocket configuration.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		PingInterval:      30 * time.Second,
		ReadTimeout:       90 * time.Second,
		WriteTimeout:      10 * time.Second,
		SubscribeTimeout:  10 * time.Second,
	}
}

// StreamOption configures a StreamClient.
type StreamOption func(*StreamClient)

// WithStreamLogger sets the client logger.
func WithStreamLogger(logger zerolog.Logger) StreamOption {
	return func(c *StreamClient) {
		c.logger = logger.With().Str("component", "feed.stream").Logger()
	}
}

// WithStreamMetrics sets the metrics sink.
func WithStreamMetrics(m *observability.Metrics) StreamOption {
	return func(c *StreamClient) {
		c.metrics = m
	}
}

// StreamClient consumes exchange kline streams over a single websocket
// connection and emits closed klines.
type StreamClient struct {
	endpoint string
	config   StreamConfig
	logger   zerolog.Logger
	metrics  *observability.Metrics

	conn      *websocket.Conn
	connMu    sync.Mutex
	closed    atomic.Bool
	requestID atomic.Uint64

	// streams holds every subscribed stream name for resubscription
	streams   []string
	streamsMu sync.Mutex

	// pending maps request ID to the channel waiting for its acknowledgement
	pending   map[uint64]chan error
	pendingMu sync.Mutex

	out chan Kline

	done chan struct{}
	wg   sync.WaitGroup

	reconnecting atomic.Bool
}

// NewStreamClient creates a client and connects to endpoint.
func NewStreamClient(ctx context.Context, endpoint string, config *StreamConfig, opts ...StreamOption) (*StreamClient, error) {
	cfg := DefaultStreamConfig()
	if config != nil {
		cfg = *config
	}

	c := &StreamClient{
		endpoint: endpoint,
		config:   cfg,
		logger:   zerolog.Nop(),
		pending:  make(map[uint64]chan error),
		out:      make(chan Kline, 10000),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	if err := c.connect(ctx); err != nil {
		return nil, err
	}

	c.wg.Add(2)
	go c.readLoop()
	go c.pingLoop()

	return c, nil
}

// Klines returns the channel of closed klines. It is closed by Close.
func (c *StreamClient) Klines() <-chan Kline {
	return c.out
}

func (c *StreamClient) connect(ctx context.Context) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, c.endpoint, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}

	c.conn = conn
	return nil
}

// Subscribe subscribes to the kline stream of every symbol at interval
// (exchange code, e.g. "1m") and waits for the acknowledgement.
func (c *StreamClient) Subscribe(ctx context.Context, symbols []string, interval string) error {
	if len(symbols) == 0 {
		return nil
	}
	names := make([]string, len(symbols))
	for i, s := range symbols {
		names[i] = streamName(s, interval)
	}

	// Registered before the request so a reconnect racing the
	// acknowledgement still resubscribes.
	c.streamsMu.Lock()
	prev := len(c.streams)
	c.streams = append(c.streams, names...)
	c.streamsMu.Unlock()

	if err := c.subscribe(ctx, names); err != nil {
		c.streamsMu.Lock()
		c.streams = c.streams[:prev]
		c.streamsMu.Unlock()
		return err
	}
	return nil
}

func (c *StreamClient) subscribe(ctx context.Context, names []string) error {
	if c.closed.Load() {
		return fmt.Errorf("client closed")
	}

	reqID := c.requestID.Add(1)
	req := streamRequest{
		Method: "SUBSCRIBE",
		Params: names,
		ID:     reqID,
	}

	ackCh := make(chan error, 1)
	c.pendingMu.Lock()
	c.pending[reqID] = ackCh
	c.pendingMu.Unlock()

	c.connMu.Lock()
	if c.conn == nil {
		c.connMu.Unlock()
		c.dropPending(reqID)
		return errNotConnected
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	err := c.conn.WriteJSON(req)
	c.connMu.Unlock()

	if err != nil {
		c.dropPending(reqID)
		return fmt.Errorf("write subscribe: %w", err)
	}

	select {
	case err, ok := <-ackCh:
		if !ok {
			return fmt.Errorf("client closed")
		}
		return err
	case <-time.After(c.config.SubscribeTimeout):
		c.dropPending(reqID)
		return fmt.Errorf("subscription timeout after %s", c.config.SubscribeTimeout)
	case <-c.done:
		return fmt.Errorf("client closed")
	case <-ctx.Done():
		c.dropPending(reqID)
		return ctx.Err()
	}
}

func (c *StreamClient) dropPending(reqID uint64) {
	c.pendingMu.Lock()
	delete(c.pending, reqID)
	c.pendingMu.Unlock()
}

// Close closes the connection and the kline channel.
func (c *StreamClient) Close() error {
	if c.closed.Swap(true) {
		return nil
	}

	close(c.done)

	c.connMu.Lock()
	if c.conn != nil {
		_ = c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.conn.Close()
	}
	c.connMu.Unlock()

	c.pendingMu.Lock()
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	c.pendingMu.Unlock()

	c.wg.Wait()
	close(c.out)
	return nil
}

// readLoop reads messages and reconnects with exponential backoff on failure.
func (c *StreamClient) readLoop() {
	defer c.wg.Done()

	reconnectDelay := c.config.ReconnectDelay

	for !c.closed.Load() {
		c.connMu.Lock()
		conn := c.conn
		c.connMu.Unlock()

		var message []byte
		err := errNotConnected
		if conn != nil {
			_ = conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
			_, message, err = conn.ReadMessage()
		}
		if err != nil {
			if c.closed.Load() {
				return
			}

			if !c.reconnecting.Swap(true) {
				c.logger.Warn().Err(err).Dur("delay", reconnectDelay).Msg("stream read failed, reconnecting")
				c.wg.Add(1)
				go c.reconnect(conn, reconnectDelay)

				reconnectDelay *= 2
				if reconnectDelay > c.config.MaxReconnectDelay {
					reconnectDelay = c.config.MaxReconnectDelay
				}
			}

			select {
			case <-c.done:
				return
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		reconnectDelay = c.config.ReconnectDelay
		c.handleMessage(message)
	}
}

// reconnect replaces the failed connection and resubscribes every stream.
func (c *StreamClient) reconnect(failed *websocket.Conn, delay time.Duration) {
	defer c.wg.Done()
	defer c.reconnecting.Store(false)

	select {
	case <-c.done:
		return
	case <-time.After(delay):
	}

	c.connMu.Lock()
	if c.conn != nil && c.conn != failed {
		// Already replaced.
		c.connMu.Unlock()
		return
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.connMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := c.connect(ctx); err != nil {
		c.logger.Warn().Err(err).Msg("reconnect failed")
		return
	}
	c.metrics.RecordFeedReconnect()

	c.streamsMu.Lock()
	names := append([]string(nil), c.streams...)
	c.streamsMu.Unlock()

	if len(names) == 0 {
		return
	}
	if err := c.subscribe(ctx, names); err != nil {
		c.logger.Warn().Err(err).Strs("streams", names).Msg("resubscribe failed")
		return
	}
	c.logger.Info().Int("streams", len(names)).Msg("stream reconnected")
}

// handleMessage dispatches acknowledgements, errors and kline events.
func (c *StreamClient) handleMessage(message []byte) {
	var env streamEnvelope
	if err := json.Unmarshal(message, &env); err != nil {
		c.metrics.RecordFeedMessage("invalid")
		c.logger.Debug().Err(err).Msg("unparseable stream message")
		return
	}

	switch {
	case env.ID != nil:
		c.handleAck(*env.ID, env.Error)
	case env.Data != nil:
		c.handleEvent(env.Data)
	case env.Event != "":
		c.handleEvent(message)
	default:
		c.metrics.RecordFeedMessage("unknown")
	}
}

func (c *StreamClient) handleAck(id uint64, apiErr *streamError) {
	var err error
	if apiErr != nil {
		c.metrics.RecordFeedMessage("error")
		err = apiErr
	} else {
		c.metrics.RecordFeedMessage("ack")
	}

	// Sent under the lock so Close cannot close the channel mid-send.
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	ch, ok := c.pending[id]
	if !ok {
		return
	}
	delete(c.pending, id)
	select {
	case ch <- err:
	default:
	}
}

func (c *StreamClient) handleEvent(raw []byte) {
	var ev klineEvent
	if err := json.Unmarshal(raw, &ev); err != nil || ev.Event != "kline" {
		c.metrics.RecordFeedMessage("unknown")
		return
	}
	c.metrics.RecordFeedMessage("kline")

	if !ev.Kline.Closed {
		return
	}

	k := Kline{
		Symbol:      ev.Kline.Symbol,
		Interval:    ev.Kline.Interval,
		OpenTimeMs:  ev.Kline.OpenTime,
		CloseTimeMs: ev.Kline.CloseTime,
		Closed:      true,
	}
	if err := parseOHLCV(&k, ev.Kline.Open, ev.Kline.High, ev.Kline.Low, ev.Kline.Close, ev.Kline.Volume); err != nil {
		c.logger.Warn().Err(err).Str("asset", ev.Kline.Symbol).Msg("dropping malformed kline")
		return
	}

	select {
	case c.out <- k:
	case <-c.done:
	}
}

// pingLoop sends periodic ping frames to keep the connection alive.
func (c *StreamClient) pingLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.connMu.Lock()
			if c.conn != nil {
				_ = c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
				// Failures surface as read errors and trigger reconnect.
				_ = c.conn.WriteMessage(websocket.PingMessage, nil)
			}
			c.connMu.Unlock()
		}
	}
}

// Websocket message types

type streamRequest struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     uint64   `json:"id"`
}

type streamError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

func (e *streamError) Error() string {
	return fmt.Sprintf("stream error %d: %s", e.Code, e.Msg)
}

// streamEnvelope covers acknowledgements, raw events and combined-stream
// wrappers ({"stream": ..., "data": {...}}). encoding/json matches keys
// case-insensitively, so keys differing only in case are all declared.
type streamEnvelope struct {
	ID     *uint64         `json:"id"`
	Error  *streamError    `json:"error"`
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
	Event  string          `json:"e"`
	TimeMs int64           `json:"E"`
}

type klineEvent struct {
	Event  string       `json:"e"`
	TimeMs int64        `json:"E"`
	Symbol string       `json:"s"`
	Kline  klinePayload `json:"k"`
}

type klinePayload struct {
	OpenTime  int64  `json:"t"`
	CloseTime int64  `json:"T"`
	Symbol    string `json:"s"`
	Interval  string `json:"i"`
	Open      string `json:"o"`
	Close     string `json:"c"`
	High      string `json:"h"`
	Low       string `json:"l"`
	Volume    string `json:"v"`
	Closed    bool   `json:"x"`

	FirstTradeID   int64  `json:"f"`
	LastTradeID    int64  `json:"L"`
	Trades         int64  `json:"n"`
	QuoteVolume    string `json:"q"`
	TakerBuyVolume string `json:"V"`
	TakerBuyQuote  string `json:"Q"`
	Ignore         string `json:"B"`
}
