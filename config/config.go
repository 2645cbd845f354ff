package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"kdjBot/internal/adapters/logger"
	"kdjBot/internal/app"
	"kdjBot/internal/session"
	"kdjBot/internal/strategy"
	"kdjBot/internal/strategy/indicators"
)

// Config holds all application configuration.
type Config struct {
	// Instruments and bars
	Symbols     []string // SYMBOL, comma separated
	BarInterval string

	// Oscillator
	KDJPeriod     int
	KDJKPeriod    int
	KDJDPeriod    int
	BuyThreshold  float64
	SellThreshold float64

	// Trailing stop
	ATRPeriod       int
	ATRSmoothing    indicators.MovingAverageType
	ATRMultiplier   float64
	FallbackStopPct float64

	// Regime and sizing
	RegimeWindow     int
	PerTradeNotional float64
	StartingCash     float64

	// Session
	SessionLocation  *time.Location
	SessionCloseHour int
	SessionCloseMin  int
	BlackoutBefore   time.Duration
	EODTriggerBefore time.Duration
	WeekdaysOnly     bool
	WarmupPadding    int
	EODCheckInterval time.Duration

	// Database
	DBPath string

	// Logging
	LogLevel    logger.LogLevel
	LogEncoding string // json or console

	// Status server
	HTTPAddr string

	// Binance market data
	APIKey               string
	SecretKey            string
	IsTestnet            bool
	ReconnectDelay       time.Duration
	MaxReconnectAttempts int

	// ClickHouse candle source for backtests
	ClickHouseDSN   string
	ClickHouseTable string
}

// LoadConfig loads configuration from environment variables (.env file).
func LoadConfig() (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	cfg := &Config{}
	var err error
	var errs []string // Collect validation errors

	for _, s := range strings.Split(getEnv("SYMBOL", "SOXL"), ",") {
		if s = strings.ToUpper(strings.TrimSpace(s)); s != "" {
			cfg.Symbols = append(cfg.Symbols, s)
		}
	}
	if len(cfg.Symbols) == 0 {
		errs = append(errs, "SYMBOL must be set")
	}
	cfg.BarInterval = getEnv("BAR_INTERVAL", "1h")

	// Oscillator
	cfg.KDJPeriod, err = getEnvAsIntRequired("KDJ_PERIOD", 14)
	errs = appendErr(errs, "KDJ_PERIOD", err)
	cfg.KDJKPeriod, err = getEnvAsIntRequired("KDJ_K_PERIOD", 2)
	errs = appendErr(errs, "KDJ_K_PERIOD", err)
	cfg.KDJDPeriod, err = getEnvAsIntRequired("KDJ_D_PERIOD", 2)
	errs = appendErr(errs, "KDJ_D_PERIOD", err)
	if cfg.KDJPeriod <= 0 || cfg.KDJKPeriod <= 0 || cfg.KDJDPeriod <= 0 {
		errs = append(errs, "KDJ periods must be positive")
	}

	cfg.BuyThreshold, err = getEnvAsFloatRequired("BUY_THRESHOLD", 22.2)
	errs = appendErr(errs, "BUY_THRESHOLD", err)
	cfg.SellThreshold, err = getEnvAsFloatRequired("SELL_THRESHOLD", 62.6)
	errs = appendErr(errs, "SELL_THRESHOLD", err)
	if cfg.BuyThreshold >= cfg.SellThreshold {
		errs = append(errs, "BUY_THRESHOLD must be less than SELL_THRESHOLD")
	}

	// Trailing stop
	cfg.ATRPeriod, err = getEnvAsIntRequired("ATR_PERIOD", 14)
	errs = appendErr(errs, "ATR_PERIOD", err)
	if cfg.ATRPeriod <= 0 {
		errs = append(errs, "ATR_PERIOD must be positive")
	}
	cfg.ATRSmoothing, err = indicators.ParseMovingAverageType(strings.ToLower(getEnv("ATR_SMOOTHING", "simple")))
	errs = appendErr(errs, "ATR_SMOOTHING", err)
	cfg.ATRMultiplier, err = getEnvAsFloatRequired("ATR_MULTIPLIER", 3.0)
	errs = appendErr(errs, "ATR_MULTIPLIER", err)
	if cfg.ATRMultiplier <= 0 {
		errs = append(errs, "ATR_MULTIPLIER must be positive")
	}
	cfg.FallbackStopPct, err = getEnvAsFloatRequired("FALLBACK_STOP_PCT", 0.10)
	errs = appendErr(errs, "FALLBACK_STOP_PCT", err)
	if cfg.FallbackStopPct <= 0 || cfg.FallbackStopPct >= 1.0 {
		errs = append(errs, "FALLBACK_STOP_PCT must be between 0.0 and 1.0 (exclusive)")
	}

	// Regime and sizing
	cfg.RegimeWindow, err = getEnvAsIntRequired("REGIME_WINDOW", 200)
	errs = appendErr(errs, "REGIME_WINDOW", err)
	if cfg.RegimeWindow <= 0 {
		errs = append(errs, "REGIME_WINDOW must be positive")
	}
	cfg.PerTradeNotional, err = getEnvAsFloatRequired("PER_TRADE_NOTIONAL", 20000)
	errs = appendErr(errs, "PER_TRADE_NOTIONAL", err)
	if cfg.PerTradeNotional <= 0 {
		errs = append(errs, "PER_TRADE_NOTIONAL must be positive")
	}
	cfg.StartingCash, err = getEnvAsFloatRequired("STARTING_CASH", 30000)
	errs = appendErr(errs, "STARTING_CASH", err)
	if cfg.StartingCash < 0 {
		errs = append(errs, "STARTING_CASH cannot be negative")
	}

	// Session
	cfg.SessionLocation, err = time.LoadLocation(getEnv("SESSION_TIMEZONE", "America/New_York"))
	errs = appendErr(errs, "SESSION_TIMEZONE", err)
	cfg.SessionCloseHour, cfg.SessionCloseMin, err = session.ParseClose(getEnv("SESSION_CLOSE", "16:00"))
	errs = appendErr(errs, "SESSION_CLOSE", err)

	blackout, err := getEnvAsIntRequired("BLACKOUT_MINUTES_BEFORE_CLOSE", 15)
	errs = appendErr(errs, "BLACKOUT_MINUTES_BEFORE_CLOSE", err)
	if blackout < 0 {
		errs = append(errs, "BLACKOUT_MINUTES_BEFORE_CLOSE cannot be negative")
	}
	cfg.BlackoutBefore = time.Duration(blackout) * time.Minute

	trigger, err := getEnvAsIntRequired("EOD_TRIGGER_MINUTES_BEFORE_CLOSE", 10)
	errs = appendErr(errs, "EOD_TRIGGER_MINUTES_BEFORE_CLOSE", err)
	if trigger <= 0 {
		errs = append(errs, "EOD_TRIGGER_MINUTES_BEFORE_CLOSE must be positive")
	}
	cfg.EODTriggerBefore = time.Duration(trigger) * time.Minute
	cfg.WeekdaysOnly = getEnvAsBool("SESSION_WEEKDAYS_ONLY", true)

	cfg.WarmupPadding = getEnvAsInt("WARMUP_PADDING_DAYS", 10)
	if cfg.WarmupPadding < 0 {
		errs = append(errs, "WARMUP_PADDING_DAYS cannot be negative")
	}
	cfg.EODCheckInterval = time.Duration(getEnvAsInt("EOD_CHECK_SECONDS", 30)) * time.Second

	// Database
	cfg.DBPath = getEnv("DB_PATH", "./data/kdjbot.db")

	// Logging
	cfg.LogLevel = logger.ParseLevel(getEnv("LOG_LEVEL", "INFO"))
	cfg.LogEncoding = getEnv("LOG_ENCODING", "json")

	cfg.HTTPAddr = getEnv("HTTP_ADDR", ":8080")

	// Binance market data; keys are optional for public endpoints
	cfg.APIKey = getEnv("BINANCE_API_KEY", "")
	cfg.SecretKey = getEnv("BINANCE_SECRET_KEY", "")
	cfg.IsTestnet = getEnvAsBool("USE_TESTNET", false)

	reconnectDelaySeconds := getEnvAsInt("RECONNECT_DELAY_SECONDS", 5)
	if reconnectDelaySeconds <= 0 {
		errs = append(errs, "RECONNECT_DELAY_SECONDS must be positive")
	}
	cfg.ReconnectDelay = time.Duration(reconnectDelaySeconds) * time.Second
	cfg.MaxReconnectAttempts = getEnvAsInt("MAX_RECONNECT_ATTEMPTS", 10)
	if cfg.MaxReconnectAttempts < 0 {
		errs = append(errs, "MAX_RECONNECT_ATTEMPTS cannot be negative")
	}

	cfg.ClickHouseDSN = getEnv("CLICKHOUSE_DSN", "")
	cfg.ClickHouseTable = getEnv("CLICKHOUSE_TABLE", "candles")

	// Combine validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return cfg, nil
}

// EngineConfig returns the signal engine parameters for symbol.
func (c *Config) EngineConfig(symbol string) strategy.Config {
	return strategy.Config{
		Symbol:        symbol,
		Oscillator:    strategy.OscillatorConfig{Period: c.KDJPeriod, KPeriod: c.KDJKPeriod, DPeriod: c.KDJDPeriod},
		BuyThreshold:  c.BuyThreshold,
		SellThreshold: c.SellThreshold,
		Volatility: strategy.VolatilityConfig{
			ATRPeriod:   c.ATRPeriod,
			Smoothing:   c.ATRSmoothing,
			Multiplier:  c.ATRMultiplier,
			FallbackPct: c.FallbackStopPct,
		},
		RegimeWindow:     c.RegimeWindow,
		PerTradeNotional: c.PerTradeNotional,
	}
}

// SessionConfig returns the session clock parameters.
func (c *Config) SessionConfig() session.Config {
	return session.Config{
		Location:              c.SessionLocation,
		CloseHour:             c.SessionCloseHour,
		CloseMinute:           c.SessionCloseMin,
		BlackoutBeforeClose:   c.BlackoutBefore,
		EODTriggerBeforeClose: c.EODTriggerBefore,
		WeekdaysOnly:          c.WeekdaysOnly,
	}
}

// ServiceConfig returns the trading service parameters.
func (c *Config) ServiceConfig() app.Config {
	return app.Config{
		Interval:         c.BarInterval,
		RegimeWindow:     c.RegimeWindow,
		WarmupPadding:    c.WarmupPadding,
		EODCheckInterval: c.EODCheckInterval,
	}
}

// --- Env Var Helpers ---

func appendErr(errs []string, key string, err error) []string {
	if err != nil {
		return append(errs, fmt.Sprintf("invalid %s: %v", key, err))
	}
	return errs
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsIntRequired(key string, defaultValue int) (int, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return 0, fmt.Errorf("invalid integer value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsFloatRequired(key string, defaultValue float64) (float64, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid float value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
