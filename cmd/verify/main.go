// Package main re-runs persisted live trades through the backtest driver over
// the stored price history and reports parity divergences.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"corrdiv/internal/config"
	"corrdiv/internal/logging"
	"corrdiv/internal/replay"
	"corrdiv/internal/reporting"
	chstore "corrdiv/internal/storage/clickhouse"
	"corrdiv/internal/storage/migrations"
	pgstore "corrdiv/internal/storage/postgres"
	"corrdiv/internal/verification"
)

func main() {
	_ = godotenv.Load()

	configPath := flag.String("config", "config.yaml", "Engine configuration the live run used")
	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string (stored ledger)")
	clickhouseDSN := flag.String("clickhouse-dsn", os.Getenv("CLICKHOUSE_DSN"), "ClickHouse connection string (price history)")
	tradeID := flag.String("trade-id", "", "Verify a single trade instead of the whole ledger")
	tolerance := flag.Float64("tolerance", verification.FloatTolerance, "Relative tolerance for price, quantity and P&L fields")
	report := flag.Bool("report", false, "Print a ledger report after verification")
	from := flag.String("from", "", "Report start: unix ms, RFC3339 or YYYY-MM-DD")
	to := flag.String("to", "", "Report end, same formats (default: now)")

	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		boot := logging.New("info", false)
		boot.Fatal().Err(err).Str("path", *configPath).Msg("load config")
	}
	logger := logging.New(cfg.Log.Level, cfg.Log.Pretty).With().Str("cmd", "verify").Logger()

	if *postgresDSN == "" || *clickhouseDSN == "" {
		logger.Fatal().Msg("--postgres-dsn and --clickhouse-dsn are required")
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

	pool, err := pgstore.NewPool(ctx, *postgresDSN, pgstore.WithApplicationName("corrdiv-verify"))
	if err != nil {
		logger.Fatal().Err(err).Msg("connect to postgres")
	}
	defer pool.Close()
	if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
		logger.Fatal().Err(err).Msg("postgres migrations")
	}

	conn, err := migrations.RunClickhouseMigrations(ctx, *clickhouseDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect to clickhouse")
	}
	defer conn.Close()

	trades := pgstore.NewClosedTradeStore(pool)
	verifier := verification.NewReplayVerifier(verification.ReplayVerifierOptions{
		Config:     cfg,
		TradeStore: trades,
		PriceStore: chstore.NewPriceSeriesStore(conn),
		Tolerance:  *tolerance,
	})

	ok := true
	if *tradeID != "" {
		res, err := verifier.VerifyTrade(ctx, *tradeID)
		if err != nil {
			if errors.Is(err, verification.ErrTradeNotFound) {
				logger.Fatal().Str("trade_id", *tradeID).Msg("trade not found")
			}
			logger.Fatal().Err(err).Msg("verify trade")
		}
		printResult(*res)
		ok = res.Match
	} else {
		rep, err := verifier.VerifyAll(ctx)
		if err != nil {
			logger.Fatal().Err(err).Msg("verify ledger")
		}
		printReport(rep)
		ok = rep.OK()
	}

	if *report {
		fromMs, err := replay.ParseTime(*from)
		if err != nil {
			logger.Fatal().Err(err).Msg("--from")
		}
		toMs, err := replay.ParseTime(*to)
		if err != nil {
			logger.Fatal().Err(err).Msg("--to")
		}
		if toMs == 0 {
			toMs = time.Now().UnixMilli()
		}
		r, err := reporting.NewGenerator().FromStores(ctx, cfg, trades, pgstore.NewOutcomeStore(pool), fromMs, toMs)
		if err != nil {
			logger.Fatal().Err(err).Msg("build report")
		}
		fmt.Print(reporting.RenderMarkdown(r))
	}

	if !ok {
		logger.Error().Msg("verification found divergences")
		os.Exit(1)
	}
	logger.Info().Msg("verification passed")
}

func printReport(rep *verification.VerificationReport) {
	fmt.Println("=== Verification ===")
	fmt.Printf("Stored trades:    %d\n", rep.TotalTrades)
	fmt.Printf("Matched:          %d\n", rep.MatchedTrades)
	fmt.Printf("Divergent:        %d\n", rep.DivergentTrades)
	fmt.Printf("Missing:          %d\n", rep.MissingTrades)
	fmt.Printf("Extra (replayed): %d\n", len(rep.Extra))

	for _, res := range rep.Results {
		if !res.Match {
			fmt.Println()
			printResult(res)
		}
	}
	for _, t := range rep.Extra {
		fmt.Printf("\nextra %s %s %s opened=%d closed=%d pnl=%.4f\n",
			t.Asset, t.Side, t.ExitReason, t.OpenedAtMs, t.ClosedAtMs, t.RealizedPnL)
	}
}

func printResult(res verification.VerificationResult) {
	status := "MATCH"
	switch {
	case res.Missing:
		status = "MISSING"
	case !res.Match:
		status = "DIVERGENT"
	}
	fmt.Printf("%s trade=%s asset=%s\n", status, res.TradeID, res.Asset)
	if res.Missing {
		return
	}
	fmt.Printf("  pnl stored=%.6f replayed=%.6f delta=%.6f\n",
		res.StoredPnL, res.ReplayedPnL, math.Abs(res.StoredPnL-res.ReplayedPnL))
	for _, d := range res.Divergences {
		fmt.Printf("  %-12s stored=%v replayed=%v\n", d.Field, d.Expected, d.Actual)
	}
}
