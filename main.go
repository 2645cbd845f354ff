package main

import (
	"context"
	"log" // Use standard log only for initial fatal errors before logger is set up
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/multierr"

	"kdjBot/config"
	"kdjBot/internal/adapters/binanceclient"
	"kdjBot/internal/adapters/httpapi"
	"kdjBot/internal/adapters/logger"
	"kdjBot/internal/adapters/paper"
	"kdjBot/internal/adapters/sqlite"
	"kdjBot/internal/app"
	"kdjBot/internal/ports"
	"kdjBot/internal/session"
	"kdjBot/internal/strategy"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}

	// 2. Initialize Logger
	appLogger, err := logger.NewZapLogger(cfg.LogLevel, cfg.LogEncoding)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize logger: %v", err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	appLogger.Info(ctx, "Logger initialized", map[string]interface{}{"level": cfg.LogLevel.String()})

	if err := run(ctx, cfg, appLogger); err != nil {
		appLogger.Error(ctx, err, "Trading session exited with error")
		_ = appLogger.Sync()
		os.Exit(1)
	}
	appLogger.Info(ctx, "Application finished gracefully.")
	_ = appLogger.Sync()
}

func run(ctx context.Context, cfg *config.Config, appLogger *logger.ZapLogger) (err error) {
	// 3. Initialize Repository (Database Adapter)
	repo, err := sqlite.NewRepository(sqlite.Config{DBPath: cfg.DBPath, Logger: appLogger.Named("sqlite")})
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, repo.Close()) }()

	// 4. Initialize market data (Binance Adapter) and the paper broker
	binanceClient, err := binanceclient.New(binanceclient.Config{
		APIKey:               cfg.APIKey,
		SecretKey:            cfg.SecretKey,
		UseTestnet:           cfg.IsTestnet,
		Logger:               appLogger.Named("binance"),
		ReconnectDelay:       cfg.ReconnectDelay,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
	})
	if err != nil {
		return err
	}
	if err := binanceClient.Ping(ctx); err != nil {
		return err
	}
	broker, err := paper.NewBroker(paper.Config{StartingCash: cfg.StartingCash, Logger: appLogger.Named("paper")})
	if err != nil {
		return err
	}

	// 5. Initialize one engine per instrument
	clock, err := session.NewClock(cfg.SessionConfig())
	if err != nil {
		return err
	}
	engines := make([]ports.Strategy, 0, len(cfg.Symbols))
	for _, symbol := range cfg.Symbols {
		e, err := strategy.New(cfg.EngineConfig(symbol), broker, broker, clock, appLogger.Named("engine"))
		if err != nil {
			return err
		}
		engines = append(engines, e)
	}

	// 6. Initialize Application Service
	svc, err := app.NewTradingService(cfg.ServiceConfig(), app.Dependencies{
		Logger:    appLogger.Named("service"),
		Orders:    broker,
		Portfolio: broker,
		States:    repo,
		Trades:    repo,
		Clock:     clock,
		Feed:      binanceClient,
		History:   binanceClient,
	}, engines...)
	if err != nil {
		return err
	}

	// 7. Status server and the service loop
	server := httpapi.NewServer(cfg.HTTPAddr, svc, repo, appLogger.Named("http"))
	serverErr := make(chan error, 1)
	serverCtx, cancelServer := context.WithCancel(ctx)
	go func() { serverErr <- server.Run(serverCtx) }()

	err = svc.Start(ctx)
	cancelServer()
	err = multierr.Append(err, <-serverErr)

	if total, perr := repo.GetTotalProfit(context.Background()); perr == nil {
		appLogger.Info(ctx, "Session totals", map[string]interface{}{
			"journal_pnl": total,
			"equity":      broker.Equity(),
		})
	}
	return err
}
