package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"kdjBot/config"
	"kdjBot/internal/adapters/binanceclient"
	"kdjBot/internal/adapters/logger"
	"kdjBot/internal/utils"
)

func main() {
	symbol := flag.String("symbol", "", "instrument to fetch (defaults to the first configured SYMBOL)")
	interval := flag.String("interval", "", "bar interval (defaults to BAR_INTERVAL)")
	months := flag.Int("months", 3, "months of history to fetch")
	outDir := flag.String("out", "data", "output directory")
	flag.Parse()

	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}
	if *symbol == "" {
		*symbol = cfg.Symbols[0]
	}
	if *interval == "" {
		*interval = cfg.BarInterval
	}
	if *months <= 0 {
		log.Fatalf("FATAL: -months must be positive, got %d", *months)
	}

	// 2. Initialize Logger
	appLogger, err := logger.NewZapLogger(cfg.LogLevel, cfg.LogEncoding)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize logger: %v", err)
	}
	defer func() { _ = appLogger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Initialize Exchange Client (Binance Adapter)
	binanceClient, err := binanceclient.New(binanceclient.Config{
		APIKey:               cfg.APIKey,
		SecretKey:            cfg.SecretKey,
		UseTestnet:           cfg.IsTestnet,
		Logger:               appLogger.Named("binance"),
		ReconnectDelay:       cfg.ReconnectDelay,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize Binance client")
		os.Exit(1)
	}

	end := time.Now().UTC()
	start := end.AddDate(0, -*months, 0)
	fields := map[string]interface{}{
		"symbol":   *symbol,
		"interval": *interval,
		"start":    start.Format(time.RFC3339),
		"end":      end.Format(time.RFC3339),
	}
	appLogger.Info(ctx, "Fetching klines", fields)

	klines, err := binanceClient.GetKlinesRange(ctx, *symbol, *interval, start, end)
	if err != nil {
		appLogger.Error(ctx, err, "Error fetching klines", fields)
		os.Exit(1)
	}
	appLogger.Info(ctx, "Fetched klines", map[string]interface{}{"count": len(klines)})

	filename := filepath.Join(*outDir, fmt.Sprintf("%s_%s_%s_to_%s.csv",
		strings.ToUpper(*symbol), *interval, start.Format("20060102"), end.Format("20060102")))
	if err := utils.WriteKlinesToCSV(klines, filename); err != nil {
		appLogger.Error(ctx, err, "Error writing CSV", map[string]interface{}{"filename": filename})
		os.Exit(1)
	}
	appLogger.Info(ctx, "Saved to", map[string]interface{}{"filename": filename})
}
