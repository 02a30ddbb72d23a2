// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the engine.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Engine metrics
	TicksProcessed prometheus.Counter
	TickLatency    prometheus.Histogram
	SignalsEmitted *prometheus.CounterVec
	SignalOutcomes *prometheus.CounterVec
	BreakerTrips   prometheus.Counter
	Inconsistency  prometheus.Counter

	// Correlation metrics
	DeviationRatio *prometheus.GaugeVec
	Regime         *prometheus.GaugeVec

	// Portfolio metrics
	OpenPositions prometheus.Gauge
	TradesClosed  *prometheus.CounterVec
	Balance       prometheus.Gauge
	RealizedPnL   prometheus.Gauge

	// Feed metrics
	FeedMessages   *prometheus.CounterVec
	FeedReconnects prometheus.Counter
	RESTLatency    *prometheus.HistogramVec

	// Collaborator metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec
	NotifyErrors    *prometheus.CounterVec
}

// NewMetrics creates a Metrics instance registered with the default registry.
func NewMetrics(namespace string) *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer, namespace)
}

// NewMetricsWith creates a Metrics instance registered with reg.
func NewMetricsWith(reg prometheus.Registerer, namespace string) *Metrics {
	if namespace == "" {
		namespace = "corrdiv"
	}
	f := promauto.With(reg)

	return &Metrics{
		TicksProcessed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "ticks_processed_total",
			Help:      "Total number of ticks processed",
		}),
		TickLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "tick_latency_seconds",
			Help:      "Time spent processing one tick",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}),
		SignalsEmitted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "signals_emitted_total",
			Help:      "Total number of divergence signals by direction policy",
		}, []string{"policy"}),
		SignalOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "signal_outcomes_total",
			Help:      "Total number of signal outcomes by kind and reason",
		}, []string{"outcome", "reason"}),
		BreakerTrips: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "risk",
			Name:      "breaker_trips_total",
			Help:      "Total number of daily drawdown breaker trips",
		}),
		Inconsistency: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lifecycle",
			Name:      "state_inconsistencies_total",
			Help:      "Total number of positions that could not be evaluated",
		}),

		DeviationRatio: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "correlation",
			Name:      "deviation_ratio",
			Help:      "Latest correlation deviation ratio per tracked asset",
		}, []string{"asset"}),
		Regime: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "correlation",
			Name:      "regime",
			Help:      "1 for the current correlation regime, 0 otherwise",
		}, []string{"regime"}),

		OpenPositions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "portfolio",
			Name:      "open_positions",
			Help:      "Current number of open positions",
		}),
		TradesClosed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "portfolio",
			Name:      "trades_closed_total",
			Help:      "Total number of closed trades by exit reason",
		}, []string{"exit_reason"}),
		Balance: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "portfolio",
			Name:      "balance",
			Help:      "Current account balance",
		}),
		RealizedPnL: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "portfolio",
			Name:      "realized_pnl",
			Help:      "Cumulative realized P&L",
		}),

		FeedMessages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "messages_total",
			Help:      "Total number of feed messages by type",
		}, []string{"type"}),
		FeedReconnects: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "reconnects_total",
			Help:      "Total number of websocket reconnects",
		}),
		RESTLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "rest_call_latency_seconds",
			Help:      "REST call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"endpoint"}),

		DBQueryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),
		NotifyErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "errors_total",
			Help:      "Total number of failed notifications by sink",
		}, []string{"sink"}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordTick records one processed tick.
func (m *Metrics) RecordTick(elapsed time.Duration) {
	if m == nil {
		return
	}
	m.TicksProcessed.Inc()
	m.TickLatency.Observe(elapsed.Seconds())
}

// RecordSignal records an emitted signal.
func (m *Metrics) RecordSignal(policy string) {
	if m == nil {
		return
	}
	m.SignalsEmitted.WithLabelValues(policy).Inc()
}

// RecordOutcome records the fate of a signal.
func (m *Metrics) RecordOutcome(outcome, reason string) {
	if m == nil {
		return
	}
	m.SignalOutcomes.WithLabelValues(outcome, reason).Inc()
}

// RecordClose records a closed trade.
func (m *Metrics) RecordClose(exitReason string) {
	if m == nil {
		return
	}
	m.TradesClosed.WithLabelValues(exitReason).Inc()
}

// RecordBreakerTrip records a daily drawdown breaker trip.
func (m *Metrics) RecordBreakerTrip() {
	if m == nil {
		return
	}
	m.BreakerTrips.Inc()
}

// RecordInconsistency records a position skipped for lack of data.
func (m *Metrics) RecordInconsistency() {
	if m == nil {
		return
	}
	m.Inconsistency.Inc()
}

// UpdateDeviation sets the latest deviation ratio for an asset.
func (m *Metrics) UpdateDeviation(asset string, ratio float64) {
	if m == nil {
		return
	}
	m.DeviationRatio.WithLabelValues(asset).Set(ratio)
}

// UpdateRegime marks regime as current.
func (m *Metrics) UpdateRegime(regime string, all []string) {
	if m == nil {
		return
	}
	for _, r := range all {
		v := 0.0
		if r == regime {
			v = 1
		}
		m.Regime.WithLabelValues(r).Set(v)
	}
}

// UpdatePortfolio sets the portfolio gauges.
func (m *Metrics) UpdatePortfolio(openPositions int, balance, realized float64) {
	if m == nil {
		return
	}
	m.OpenPositions.Set(float64(openPositions))
	m.Balance.Set(balance)
	m.RealizedPnL.Set(realized)
}

// RecordFeedMessage records a websocket message by type.
func (m *Metrics) RecordFeedMessage(msgType string) {
	if m == nil {
		return
	}
	m.FeedMessages.WithLabelValues(msgType).Inc()
}

// RecordFeedReconnect records a websocket reconnect.
func (m *Metrics) RecordFeedReconnect() {
	if m == nil {
		return
	}
	m.FeedReconnects.Inc()
}

// RecordRESTLatency records REST call latency.
func (m *Metrics) RecordRESTLatency(endpoint string, seconds float64) {
	if m == nil {
		return
	}
	m.RESTLatency.WithLabelValues(endpoint).Observe(seconds)
}

// RecordDBQuery records database query metrics.
func (m *Metrics) RecordDBQuery(database, operation string, seconds float64, err error) {
	if m == nil {
		return
	}
	m.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		m.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}

// RecordNotifyError records a failed notification.
func (m *Metrics) RecordNotifyError(sink string) {
	if m == nil {
		return
	}
	m.NotifyErrors.WithLabelValues(sink).Inc()
}
