package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/multierr"

	"kdjBot/config"
	"kdjBot/internal/adapters/clickhouse"
	"kdjBot/internal/adapters/logger"
	"kdjBot/internal/adapters/paper"
	"kdjBot/internal/adapters/sqlite"
	"kdjBot/internal/app"
	"kdjBot/internal/domain"
	"kdjBot/internal/ports"
	"kdjBot/internal/session"
	"kdjBot/internal/strategy"
	"kdjBot/internal/strategy/backtesting"
	"kdjBot/internal/utils"
)

type options struct {
	input         string
	clickhouseDSN string
	symbols       []string
	start, end    time.Time
	tradesOut     string
}

func main() {
	input := flag.String("input", "", "CSV file of bars (see fetch_klines)")
	dsn := flag.String("clickhouse-dsn", "", "load bars from ClickHouse instead of -input (defaults to CLICKHOUSE_DSN)")
	symbols := flag.String("symbol", "", "comma separated instruments (defaults to SYMBOL)")
	startFlag := flag.String("start", "", "first bar to replay, YYYY-MM-DD (inclusive)")
	endFlag := flag.String("end", "", "last bar to replay, YYYY-MM-DD (exclusive)")
	tradesOut := flag.String("trades-out", "data/backtest_trades.csv", "where to write the trade journal")
	flag.Parse()

	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}

	opts := options{input: *input, clickhouseDSN: *dsn, symbols: cfg.Symbols, tradesOut: *tradesOut}
	if opts.clickhouseDSN == "" && opts.input == "" {
		opts.clickhouseDSN = cfg.ClickHouseDSN
	}
	if *symbols != "" {
		opts.symbols = nil
		for _, s := range strings.Split(*symbols, ",") {
			if s = strings.ToUpper(strings.TrimSpace(s)); s != "" {
				opts.symbols = append(opts.symbols, s)
			}
		}
	}
	if opts.start, err = parseDate(*startFlag); err != nil {
		log.Fatalf("FATAL: invalid -start: %v", err)
	}
	if opts.end, err = parseDate(*endFlag); err != nil {
		log.Fatalf("FATAL: invalid -end: %v", err)
	}

	// 2. Initialize Logger
	appLogger, err := logger.NewZapLogger(cfg.LogLevel, cfg.LogEncoding)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize logger: %v", err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, opts, appLogger); err != nil {
		appLogger.Error(ctx, err, "Backtest failed")
		_ = appLogger.Sync()
		os.Exit(1)
	}
	_ = appLogger.Sync()
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse("2006-01-02", s)
}

// loadBars reads the replay bars plus a lookback starting at warmFrom.
func loadBars(ctx context.Context, cfg *config.Config, opts options, warmFrom time.Time, appLogger *logger.ZapLogger) ([]*domain.Kline, error) {
	if opts.input != "" {
		return utils.ReadKlinesFromCSV(opts.input)
	}
	if opts.clickhouseDSN == "" {
		return nil, fmt.Errorf("%w: either -input or a ClickHouse DSN is required", ports.ErrConfigurationError)
	}
	if opts.start.IsZero() || opts.end.IsZero() {
		return nil, fmt.Errorf("%w: -start and -end are required with ClickHouse", ports.ErrConfigurationError)
	}

	src, err := clickhouse.NewSource(ctx, clickhouse.Config{
		DSN:    opts.clickhouseDSN,
		Table:  cfg.ClickHouseTable,
		Logger: appLogger.Named("clickhouse"),
	})
	if err != nil {
		return nil, err
	}
	defer src.Close()

	var bars []*domain.Kline
	for _, symbol := range opts.symbols {
		klines, err := src.LoadKlines(ctx, symbol, cfg.BarInterval, warmFrom, opts.end)
		if err != nil {
			return nil, err
		}
		bars = append(bars, klines...)
	}
	return bars, nil
}

// replayStart is the first bar to trade: -start when given, otherwise the
// first session after a full lookback from the earliest bar.
func replayStart(opts options, bars []*domain.Kline, clock *session.Clock, sessions int) time.Time {
	if !opts.start.IsZero() || len(bars) == 0 {
		return opts.start
	}
	earliest := bars[0].EventTime()
	for _, k := range bars[1:] {
		if k.EventTime().Before(earliest) {
			earliest = k.EventTime()
		}
	}
	return clock.AddTradingDays(earliest, sessions)
}

func run(ctx context.Context, cfg *config.Config, opts options, appLogger *logger.ZapLogger) (err error) {
	// State and journal live only for the duration of the run
	repo, err := sqlite.NewRepository(sqlite.Config{DBPath: ":memory:", Logger: appLogger.Named("sqlite")})
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, repo.Close()) }()

	broker, err := paper.NewBroker(paper.Config{StartingCash: cfg.StartingCash, Logger: appLogger.Named("paper")})
	if err != nil {
		return err
	}
	clock, err := session.NewClock(cfg.SessionConfig())
	if err != nil {
		return err
	}

	engines := make([]ports.Strategy, 0, len(opts.symbols))
	for _, symbol := range opts.symbols {
		e, err := strategy.New(cfg.EngineConfig(symbol), broker, broker, clock, appLogger.Named("engine"))
		if err != nil {
			return err
		}
		engines = append(engines, e)
	}
	svc, err := app.NewTradingService(cfg.ServiceConfig(), app.Dependencies{
		Logger:    appLogger.Named("service"),
		Orders:    broker,
		Portfolio: broker,
		States:    repo,
		Trades:    repo,
		Clock:     clock,
	}, engines...)
	if err != nil {
		return err
	}

	var warmFrom time.Time
	if !opts.start.IsZero() {
		warmFrom = clock.AddTradingDays(opts.start, -svc.WarmupSessions())
	}
	bars, err := loadBars(ctx, cfg, opts, warmFrom, appLogger)
	if err != nil {
		return err
	}
	start := replayStart(opts, bars, clock, svc.WarmupSessions())

	result, err := backtesting.Backtest(ctx, svc, broker, bars, backtesting.BacktestConfig{
		StartTime: start,
		EndTime:   opts.end,
	})
	if err != nil {
		return err
	}

	var trades []*domain.Trade
	for _, symbol := range opts.symbols {
		found, err := repo.FindBySymbol(ctx, symbol, 0)
		if err != nil {
			return err
		}
		// Journal is newest first; the CSV reads oldest first
		for i := len(found) - 1; i >= 0; i-- {
			trades = append(trades, found[i])
		}
	}
	if err := utils.WriteTradesToCSV(trades, opts.tradesOut); err != nil {
		return err
	}

	pnl, err := repo.GetTotalProfit(ctx)
	if err != nil {
		return err
	}
	appLogger.Info(ctx, "Backtest complete", map[string]interface{}{
		"symbols":      strings.Join(opts.symbols, ","),
		"warmup_bars":  result.WarmupBars,
		"bars":         result.Bars,
		"bar_errors":   result.BarErrors,
		"first_bar":    result.FirstBar.Format(time.RFC3339),
		"last_bar":     result.LastBar.Format(time.RFC3339),
		"initial_cash": result.InitialCash,
		"final_cash":   result.FinalCash,
		"final_equity": result.FinalEquity,
		"trades":       len(trades),
		"journal_pnl":  pnl,
		"trades_out":   opts.tradesOut,
	})
	return nil
}
