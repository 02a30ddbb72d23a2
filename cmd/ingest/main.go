// Package main backfills kline history from the exchange REST API into
// ClickHouse or a CSV file for the backtest and verify commands.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"corrdiv/internal/config"
	"corrdiv/internal/domain"
	"corrdiv/internal/feed"
	"corrdiv/internal/logging"
	"corrdiv/internal/replay"
	"corrdiv/internal/storage"
	chstore "corrdiv/internal/storage/clickhouse"
	"corrdiv/internal/storage/migrations"
)

func main() {
	_ = godotenv.Load()

	configPath := flag.String("config", "config.yaml", "Engine configuration file (reference, assets, interval)")
	assetsFlag := flag.String("assets", "", "Comma-separated assets overriding the configured reference and assets")
	from := flag.String("from", "", "Start: unix ms, RFC3339 or YYYY-MM-DD (required)")
	to := flag.String("to", "", "End, same formats (default: now)")
	restURL := flag.String("rest-url", envOr("FEED_REST_URL", "https://api.binance.com"), "Kline REST endpoint")
	clickhouseDSN := flag.String("clickhouse-dsn", os.Getenv("CLICKHOUSE_DSN"), "ClickHouse connection string")
	csvOut := flag.String("csv", "", "Write bars to this CSV file instead of ClickHouse")

	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		boot := logging.New("info", false)
		boot.Fatal().Err(err).Str("path", *configPath).Msg("load config")
	}
	logger := logging.New(cfg.Log.Level, cfg.Log.Pretty).With().Str("cmd", "ingest").Logger()

	fromMs, err := replay.ParseTime(*from)
	if err != nil || fromMs == 0 {
		logger.Fatal().Err(err).Msg("--from is required")
	}
	toMs, err := replay.ParseTime(*to)
	if err != nil {
		logger.Fatal().Err(err).Msg("--to")
	}
	if toMs == 0 {
		toMs = time.Now().UnixMilli()
	}

	interval, err := feed.IntervalName(cfg.Interval)
	if err != nil {
		logger.Fatal().Err(err).Msg("interval")
	}

	assets := append([]string{cfg.Reference}, cfg.Assets...)
	if *assetsFlag != "" {
		assets = splitList(*assetsFlag)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
		cancel()
	}()

	var store storage.PriceSeriesStore
	if *csvOut == "" {
		if *clickhouseDSN == "" {
			logger.Fatal().Msg("--clickhouse-dsn is required unless --csv is given")
		}
		conn, err := migrations.RunClickhouseMigrations(ctx, *clickhouseDSN)
		if err != nil {
			logger.Fatal().Err(err).Msg("connect to clickhouse")
		}
		defer conn.Close()
		store = chstore.NewPriceSeriesStore(conn)
	}

	rest := feed.NewRESTClient(*restURL, feed.WithLogger(logger))
	series := make(map[string][]domain.PricePoint, len(assets))

	for _, asset := range assets {
		klines, err := rest.History(ctx, asset, interval, fromMs, toMs)
		if err != nil {
			logger.Fatal().Err(err).Str("asset", asset).Msg("fetch klines")
		}
		points := make([]domain.PricePoint, len(klines))
		for i, k := range klines {
			points[i] = k.PricePoint()
		}

		if store == nil {
			series[asset] = points
			logger.Info().Str("asset", asset).Int("bars", len(points)).Msg("fetched")
			continue
		}

		inserted, err := storage.AppendNew(ctx, store, asset, points)
		if err != nil {
			logger.Fatal().Err(err).Str("asset", asset).Msg("insert bars")
		}
		logger.Info().
			Str("asset", asset).
			Int("fetched", len(points)).
			Int("inserted", inserted).
			Msg("ingested")
	}

	if store == nil {
		f, err := os.Create(*csvOut)
		if err != nil {
			logger.Fatal().Err(err).Msg("create csv")
		}
		if err := replay.WriteCSV(f, series); err != nil {
			f.Close()
			logger.Fatal().Err(err).Msg("write csv")
		}
		if err := f.Close(); err != nil {
			logger.Fatal().Err(err).Msg("close csv")
		}
		logger.Info().Str("path", *csvOut).Msg("csv written")
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, strings.ToUpper(part))
		}
	}
	return out
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
