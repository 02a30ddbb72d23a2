package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"corrdiv/internal/backtest"
	"corrdiv/internal/config"
	"corrdiv/internal/domain"
	"corrdiv/internal/engine"
	"corrdiv/internal/logging"
	"corrdiv/internal/replay"
	"corrdiv/internal/reporting"
	chstore "corrdiv/internal/storage/clickhouse"
	"corrdiv/internal/storage/migrations"
	pgstore "corrdiv/internal/storage/postgres"
)

func main() {
	_ = godotenv.Load()

	configPath := flag.String("config", "config.yaml", "Engine configuration file")
	csvPath := flag.String("csv", "", "Read price series from this CSV file instead of ClickHouse")
	clickhouseDSN := flag.String("clickhouse-dsn", os.Getenv("CLICKHOUSE_DSN"), "ClickHouse connection string (price history)")
	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string (used with --persist)")
	from := flag.String("from", "", "Replay start: unix ms, RFC3339 or YYYY-MM-DD (default: first stored bar)")
	to := flag.String("to", "", "Replay end, same formats (default: last stored bar)")
	outputDir := flag.String("output-dir", "", "Write REPORT.md, trades.csv, assets.csv and config.yaml here instead of stdout")
	title := flag.String("title", "Correlation Divergence Backtest", "Report title")
	persist := flag.Bool("persist", false, "Persist trades, outcomes and snapshots to PostgreSQL")

	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		boot := logging.New("info", false)
		boot.Fatal().Err(err).Str("path", *configPath).Msg("load config")
	}
	logger := logging.New(cfg.Log.Level, cfg.Log.Pretty).With().Str("cmd", "backtest").Logger()

	fromMs, err := replay.ParseTime(*from)
	if err != nil {
		logger.Fatal().Err(err).Msg("--from")
	}
	toMs, err := replay.ParseTime(*to)
	if err != nil {
		logger.Fatal().Err(err).Msg("--to")
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

	var chConn *chstore.Conn
	if *csvPath == "" {
		if *clickhouseDSN == "" {
			logger.Fatal().Msg("--clickhouse-dsn is required unless --csv is given")
		}
		chConn, err = migrations.RunClickhouseMigrations(ctx, *clickhouseDSN)
		if err != nil {
			logger.Fatal().Err(err).Msg("connect to clickhouse")
		}
		defer chConn.Close()
	}

	opts := backtest.Options{Logger: &logger}
	if *persist {
		if *postgresDSN == "" {
			logger.Fatal().Msg("--postgres-dsn is required with --persist")
		}
		pool, err := pgstore.NewPool(ctx, *postgresDSN, pgstore.WithApplicationName("corrdiv-backtest"))
		if err != nil {
			logger.Fatal().Err(err).Msg("connect to postgres")
		}
		defer pool.Close()
		if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
			logger.Fatal().Err(err).Msg("postgres migrations")
		}

		rec := &engine.StoreRecorder{
			Trades:    pgstore.NewClosedTradeStore(pool),
			Outcomes:  pgstore.NewOutcomeStore(pool),
			Snapshots: pgstore.NewSnapshotStore(pool),
		}
		if chConn != nil {
			rec.Samples = chstore.NewCorrelationSampleStore(chConn)
		}
		opts.Recorder = rec
	}

	driver := backtest.NewDriver(cfg, opts)

	var res *backtest.Result
	if *csvPath != "" {
		series, err := readSeries(*csvPath, fromMs, toMs)
		if err != nil {
			logger.Fatal().Err(err).Msg("read csv")
		}
		res, err = driver.Run(ctx, series)
		if err != nil {
			logger.Fatal().Err(err).Msg("backtest failed")
		}
	} else {
		runner := replay.NewRunner(chstore.NewPriceSeriesStore(chConn))
		if fromMs == 0 || toMs == 0 {
			first, last, err := runner.Bounds(ctx, driver.Assets())
			if err != nil {
				logger.Fatal().Err(err).Msg("no stored price history")
			}
			if fromMs == 0 {
				fromMs = first
			}
			if toMs == 0 {
				toMs = last
			}
		}
		res, err = driver.RunStored(ctx, runner, fromMs, toMs)
		if err != nil {
			logger.Fatal().Err(err).Msg("backtest failed")
		}
	}

	logResult(logger, res)

	report := reporting.NewGenerator().FromResult(cfg, res)
	report.Title = *title
	if err := writeReport(*outputDir, report, cfg); err != nil {
		logger.Fatal().Err(err).Msg("write report")
	}
}

// readSeries loads a CSV file and keeps bars within [fromMs, toMs]; zero bounds are open.
func readSeries(path string, fromMs, toMs int64) (map[string][]domain.PricePoint, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	series, err := replay.ReadCSV(f)
	if err != nil {
		return nil, err
	}
	for asset, points := range series {
		kept := points[:0]
		for _, p := range points {
			if (fromMs == 0 || p.TimestampMs >= fromMs) && (toMs == 0 || p.TimestampMs <= toMs) {
				kept = append(kept, p)
			}
		}
		series[asset] = kept
	}
	return series, nil
}

func logResult(logger zerolog.Logger, res *backtest.Result) {
	logger.Info().
		Int("ticks", res.Ticks).
		Int("data_errors", res.DataErrors).
		Int("signals", len(res.Signals)).
		Int("trades", res.Summary.TotalTrades).
		Float64("win_rate", res.Summary.WinRate).
		Float64("total_pnl", res.Summary.TotalPnL).
		Float64("max_drawdown_pct", res.Summary.MaxDrawdownPct).
		Msg("backtest complete")
}

// writeReport prints the markdown report, or writes it to dir with CSV
// companions and the effective config.yaml the run used.
func writeReport(dir string, report *reporting.Report, cfg *config.Config) error {
	md := reporting.RenderMarkdown(report)
	if dir == "" {
		fmt.Print(md)
		return nil
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	files := map[string]string{
		"REPORT.md":  md,
		"trades.csv": reporting.RenderTradesCSV(report.Trades),
		"assets.csv": reporting.RenderAssetsCSV(report),
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
	}
	return config.Save(filepath.Join(dir, "config.yaml"), cfg)
}
