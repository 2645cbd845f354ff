// Package clickhouse reads historical candles from a ClickHouse table laid out
// as (symbol, interval, open_time_ms, open, high, low, close, volume, close_time_ms).
package clickhouse

import (
	"context"
	"fmt"
	"regexp"
	"time"

	ch "github.com/ClickHouse/clickhouse-go/v2"

	"kdjBot/internal/domain"
	"kdjBot/internal/ports"
)

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// Config holds the ClickHouse candle source settings.
type Config struct {
	DSN    string // e.g. clickhouse://default:@localhost:9000/backtest
	Table  string // Optionally database-qualified
	Logger ports.Logger
}

// Source loads klines for backtest replay.
type Source struct {
	conn   ch.Conn
	table  string
	logger ports.Logger
}

// NewSource opens and pings the ClickHouse connection.
func NewSource(ctx context.Context, cfg Config) (*Source, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("%w: logger is required for ClickHouse source", ports.ErrConfigurationError)
	}
	table := cfg.Table
	if table == "" {
		table = "candles"
	}
	if !identifier.MatchString(table) {
		return nil, fmt.Errorf("%w: invalid table name %q", ports.ErrConfigurationError, table)
	}
	opts, err := ch.ParseDSN(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("%w: parse DSN: %v", ports.ErrConfigurationError, err)
	}
	conn, err := ch.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: open clickhouse: %v", ports.ErrDBConnection, err)
	}
	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: clickhouse ping: %v", ports.ErrDBConnection, err)
	}
	cfg.Logger.Info(ctx, "ClickHouse candle source ready", map[string]interface{}{"table": table})
	return &Source{conn: conn, table: table, logger: cfg.Logger}, nil
}

// Close closes the connection.
func (s *Source) Close() error {
	return s.conn.Close()
}

func buildQuery(table string) string {
	return fmt.Sprintf(`
		SELECT open_time_ms, close_time_ms, open, high, low, close, volume
		FROM %s FINAL
		WHERE symbol = ? AND interval = ? AND open_time_ms >= ? AND open_time_ms < ?
		ORDER BY open_time_ms`, table)
}

type candleRow struct {
	openMs, closeMs                uint64
	open, high, low, close, volume float64
}

func (r candleRow) kline(symbol, interval string) *domain.Kline {
	return &domain.Kline{
		OpenTime:  time.UnixMilli(int64(r.openMs)).UTC(),
		CloseTime: time.UnixMilli(int64(r.closeMs)).UTC(),
		Symbol:    symbol,
		Interval:  interval,
		Open:      r.open,
		High:      r.high,
		Low:       r.low,
		Close:     r.close,
		Volume:    r.volume,
		IsFinal:   true,
	}
}

// LoadKlines returns the bars opened in [start, end), oldest first.
func (s *Source) LoadKlines(ctx context.Context, symbol, interval string, start, end time.Time) ([]*domain.Kline, error) {
	op := "LoadKlines"
	if !end.After(start) {
		return nil, fmt.Errorf("%w: end %s is not after start %s", ports.ErrInvalidRequest, end, start)
	}
	rows, err := s.conn.Query(ctx, buildQuery(s.table), symbol, interval, uint64(start.UnixMilli()), uint64(end.UnixMilli()))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ports.ErrQueryFailed, op, err)
	}
	defer rows.Close()

	var klines []*domain.Kline
	for rows.Next() {
		var r candleRow
		if err := rows.Scan(&r.openMs, &r.closeMs, &r.open, &r.high, &r.low, &r.close, &r.volume); err != nil {
			return nil, fmt.Errorf("%w: %s scan: %v", ports.ErrQueryFailed, op, err)
		}
		klines = append(klines, r.kline(symbol, interval))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %s rows: %v", ports.ErrQueryFailed, op, err)
	}
	s.logger.Info(ctx, op+": Candles loaded", map[string]interface{}{"symbol": symbol, "interval": interval, "count": len(klines)})
	return klines, nil
}
