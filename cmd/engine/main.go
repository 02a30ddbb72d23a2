// Package main runs the live paper-trading loop: exchange kline stream →
// tick assembler → engine → paper executor, with optional PostgreSQL
// persistence, ClickHouse bar capture, Redis notifications and /metrics.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"corrdiv/internal/config"
	"corrdiv/internal/domain"
	"corrdiv/internal/engine"
	"corrdiv/internal/execution"
	"corrdiv/internal/feed"
	"corrdiv/internal/logging"
	"corrdiv/internal/notify"
	"corrdiv/internal/observability"
	"corrdiv/internal/replay"
	"corrdiv/internal/storage"
	chstore "corrdiv/internal/storage/clickhouse"
	"corrdiv/internal/storage/migrations"
	pgstore "corrdiv/internal/storage/postgres"
)

const (
	defaultWSURL   = "wss://stream.binance.com:9443/ws"
	defaultRESTURL = "https://api.binance.com"
)

func main() {
	_ = godotenv.Load()

	configPath := flag.String("config", "config.yaml", "Engine configuration file")
	wsURL := flag.String("ws-url", envOr("FEED_WS_URL", defaultWSURL), "Kline websocket endpoint")
	restURL := flag.String("rest-url", envOr("FEED_REST_URL", defaultRESTURL), "Kline REST endpoint used for warmup")
	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string (trades, outcomes, snapshots)")
	clickhouseDSN := flag.String("clickhouse-dsn", os.Getenv("CLICKHOUSE_DSN"), "ClickHouse connection string (bars, correlation samples)")
	redisURL := flag.String("redis-url", os.Getenv("REDIS_ADDR"), "Redis address or redis:// URL for notifications")
	metricsAddr := flag.String("metrics-addr", ":9090", "Prometheus metrics HTTP address")
	reconcileInterval := flag.Duration("reconcile-interval", time.Minute, "Account reconciliation interval (0 disables)")
	warmup := flag.Bool("warmup", true, "Backfill history over REST before streaming")

	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		boot := logging.New("info", false)
		boot.Fatal().Err(err).Str("path", *configPath).Msg("load config")
	}
	logger := logging.New(cfg.Log.Level, cfg.Log.Pretty).With().Str("cmd", "engine").Logger()

	interval, err := feed.IntervalName(cfg.Interval)
	if err != nil {
		logger.Fatal().Err(err).Msg("interval")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info().Str("signal", sig.String()).Msg("initiating graceful shutdown")
		cancel()

		select {
		case sig := <-sigCh:
			logger.Warn().Str("signal", sig.String()).Msg("second signal, forcing exit")
			os.Exit(1)
		case <-time.After(30 * time.Second):
			logger.Warn().Msg("graceful shutdown timed out after 30s, forcing exit")
			os.Exit(1)
		case <-done:
		}
	}()

	m := observability.NewMetrics("corrdiv")
	srv := startHTTPServer(*metricsAddr, logger)
	defer func() {
		shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		defer stop()
		_ = srv.Shutdown(shutdownCtx)
	}()

	rec := &engine.StoreRecorder{Metrics: m}
	var bars storage.PriceSeriesStore
	if *postgresDSN != "" {
		pool, err := pgstore.NewPool(ctx, *postgresDSN, pgstore.WithApplicationName("corrdiv-engine"))
		if err != nil {
			logger.Fatal().Err(err).Msg("connect to postgres")
		}
		defer pool.Close()
		if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
			logger.Fatal().Err(err).Msg("postgres migrations")
		}
		rec.Trades = pgstore.NewClosedTradeStore(pool)
		rec.Outcomes = pgstore.NewOutcomeStore(pool)
		rec.Snapshots = pgstore.NewSnapshotStore(pool)
		rec.Database = "postgres"
	}
	if *clickhouseDSN != "" {
		conn, err := migrations.RunClickhouseMigrations(ctx, *clickhouseDSN)
		if err != nil {
			logger.Fatal().Err(err).Msg("connect to clickhouse")
		}
		defer conn.Close()
		rec.Samples = chstore.NewCorrelationSampleStore(conn)
		bars = chstore.NewPriceSeriesStore(conn)
		if rec.Database == "" {
			rec.Database = "clickhouse"
		}
	}

	notifiers := notify.Multi{notify.NewLogNotifier(logger)}
	if *redisURL != "" {
		client, err := notify.NewRedisClient(ctx, redisAddrURL(*redisURL))
		if err != nil {
			logger.Fatal().Err(err).Msg("connect to redis")
		}
		defer client.Close()
		notifiers = append(notifiers, notify.NewRedisNotifier(client))
	}

	eng, err := engine.New(cfg, engine.Options{
		Executor: execution.NewPaperExecutor(cfg.Execution),
		Recorder: rec,
		Notifier: notifiers,
		Metrics:  m,
		Logger:   &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	assets := append([]string{cfg.Reference}, cfg.Assets...)

	if *warmup {
		rest := feed.NewRESTClient(*restURL, feed.WithLogger(logger), feed.WithMetrics(m))
		if err := warm(ctx, eng, rest, bars, assets, interval, cfg.IntervalMs(), time.Now().UnixMilli(), logger); err != nil {
			logger.Fatal().Err(err).Msg("warmup")
		}
	}

	stream, err := feed.NewStreamClient(ctx, *wsURL, nil,
		feed.WithStreamLogger(logger), feed.WithStreamMetrics(m))
	if err != nil {
		logger.Fatal().Err(err).Msg("connect to kline stream")
	}
	if err := stream.Subscribe(ctx, assets, interval); err != nil {
		logger.Fatal().Err(err).Msg("subscribe")
	}
	logger.Info().Strs("assets", assets).Str("interval", interval).Msg("streaming klines")

	if *reconcileInterval > 0 {
		go reconcileLoop(ctx, eng, *reconcileInterval, logger)
	}

	handler := replay.TickHandlerFunc(func(ctx context.Context, tick domain.Tick) error {
		rep, err := eng.OnTick(ctx, tick)
		if err != nil {
			return err
		}
		captureBars(ctx, bars, tick, logger)
		logger.Debug().
			Int64("ts", rep.TimestampMs).
			Int("signals", len(rep.Signals)).
			Int("opened", len(rep.Opened)).
			Int("closed", len(rep.Closed)).
			Str("regime", string(rep.Regime)).
			Msg("tick")
		return nil
	})

	err = feed.Pump(ctx, stream.Klines(), feed.NewAssembler(assets), handler)
	_ = stream.Close()
	close(done)

	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("engine loop")
	}
	logger.Info().
		Int("open_positions", len(eng.State().OpenPositions)).
		Float64("balance", eng.State().Balance).
		Msg("shutdown complete")
}

func reconcileLoop(ctx context.Context, eng *engine.Engine, every time.Duration, logger zerolog.Logger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rep, err := eng.Reconcile(ctx, time.Now().UnixMilli())
			if err != nil {
				logger.Error().Err(err).Msg("reconcile")
				continue
			}
			if len(rep.Closed) > 0 || len(rep.Untracked) > 0 {
				logger.Warn().Int("closed", len(rep.Closed)).Int("untracked", len(rep.Untracked)).Msg("reconciled account drift")
			}
		}
	}
}

// captureBars stores the tick's bars for later replay and verification.
func captureBars(ctx context.Context, store storage.PriceSeriesStore, tick domain.Tick, logger zerolog.Logger) {
	if store == nil {
		return
	}
	for asset, p := range tick.Points {
		if err := store.InsertBulk(ctx, asset, []domain.PricePoint{p}); err != nil && !errors.Is(err, storage.ErrDuplicateKey) {
			logger.Warn().Err(err).Str("asset", asset).Msg("store bar")
		}
	}
}

func startHTTPServer(addr string, logger zerolog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		logger.Info().Str("addr", addr).Msg("metrics server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics server")
		}
	}()
	return srv
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// redisAddrURL accepts host:port or a full redis:// URL.
func redisAddrURL(addr string) string {
	if strings.HasPrefix(addr, "redis://") || strings.HasPrefix(addr, "rediss://") {
		return addr
	}
	return "redis://" + addr
}
