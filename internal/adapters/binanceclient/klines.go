package binanceclient

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"kdjBot/internal/domain"

	"github.com/adshao/go-binance/v2/futures"
)

// maxKlinesPerRequest is the futures API page size limit.
const maxKlinesPerRequest = 1500

// GetKlines retrieves the most recent closed klines for symbol.
func (c *Client) GetKlines(ctx context.Context, symbol string, interval string, limit int) ([]*domain.Kline, error) {
	op := "GetKlines"
	if limit <= 0 || limit > maxKlinesPerRequest {
		limit = maxKlinesPerRequest
	}
	binanceKlines, err := c.futuresClient.NewKlinesService().Symbol(symbol).Interval(interval).Limit(limit).Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	klines := make([]*domain.Kline, 0, len(binanceKlines))
	for _, bk := range binanceKlines {
		dk, err := translateBinanceKline(bk, symbol, interval)
		if err != nil {
			return nil, c.handleError(ctx, fmt.Errorf("translate historical kline: %w", err), op)
		}
		klines = append(klines, dk)
	}
	c.logger.Debug(ctx, op+": Klines fetched", map[string]interface{}{"symbol": symbol, "interval": interval, "count": len(klines)})
	return klines, nil
}

// GetKlinesRange pages through every kline opened between start and end.
func (c *Client) GetKlinesRange(ctx context.Context, symbol, interval string, start, end time.Time) ([]*domain.Kline, error) {
	op := "GetKlinesRange"
	var all []*domain.Kline
	from := start

	for {
		page, err := c.futuresClient.NewKlinesService().
			Symbol(symbol).
			Interval(interval).
			StartTime(from.UnixMilli()).
			EndTime(end.UnixMilli()).
			Limit(maxKlinesPerRequest).
			Do(ctx)
		if err != nil {
			return nil, c.handleError(ctx, err, op)
		}
		if len(page) == 0 {
			break
		}
		for _, bk := range page {
			dk, err := translateBinanceKline(bk, symbol, interval)
			if err != nil {
				return nil, c.handleError(ctx, fmt.Errorf("translate kline range: %w", err), op)
			}
			all = append(all, dk)
		}
		// Next page starts one millisecond after the last close to avoid repeating it.
		from = time.UnixMilli(page[len(page)-1].CloseTime + 1)
		if from.After(end) || len(page) < maxKlinesPerRequest {
			break
		}
	}
	return all, nil
}

type ohlcv struct {
	open, high, low, close, volume string
}

func (s ohlcv) parse(k *domain.Kline) error {
	fields := []struct {
		name string
		raw  string
		dst  *float64
	}{
		{"open price", s.open, &k.Open},
		{"high price", s.high, &k.High},
		{"low price", s.low, &k.Low},
		{"close price", s.close, &k.Close},
		{"volume", s.volume, &k.Volume},
	}
	for _, f := range fields {
		v, err := strconv.ParseFloat(f.raw, 64)
		if err != nil {
			return fmt.Errorf("parsing %s '%s': %w", f.name, f.raw, err)
		}
		*f.dst = v
	}
	return nil
}

func translateWsKline(event *futures.WsKlineEvent) (*domain.Kline, error) {
	if event == nil {
		return nil, errors.New("received nil kline event")
	}
	k := event.Kline
	dk := &domain.Kline{
		OpenTime:  time.UnixMilli(k.StartTime),
		CloseTime: time.UnixMilli(k.EndTime),
		Symbol:    k.Symbol,
		Interval:  k.Interval,
		IsFinal:   k.IsFinal,
	}
	if err := (ohlcv{k.Open, k.High, k.Low, k.Close, k.Volume}).parse(dk); err != nil {
		return nil, err
	}
	return dk, nil
}

func translateBinanceKline(bk *futures.Kline, symbol, interval string) (*domain.Kline, error) {
	if bk == nil {
		return nil, errors.New("received nil historical kline")
	}
	dk := &domain.Kline{
		OpenTime:  time.UnixMilli(bk.OpenTime),
		CloseTime: time.UnixMilli(bk.CloseTime),
		Symbol:    symbol,
		Interval:  interval,
		IsFinal:   true,
	}
	if err := (ohlcv{bk.Open, bk.High, bk.Low, bk.Close, bk.Volume}).parse(dk); err != nil {
		return nil, err
	}
	return dk, nil
}
