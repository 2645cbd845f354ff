package utils

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"kdjBot/internal/domain"
)

var klineHeader = []string{"open_time", "close_time", "symbol", "interval", "open", "high", "low", "close", "volume"}

var tradeHeader = []string{"id", "symbol", "entry_time", "exit_time", "entry_price", "exit_price", "quantity", "pnl", "close_reason", "order_id"}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func createFile(filename string) (*os.File, error) {
	if dir := filepath.Dir(filename); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return os.Create(filename)
}

// WriteKlinesToCSV writes klines with a header row, times in RFC3339.
func WriteKlinesToCSV(klines []*domain.Kline, filename string) error {
	file, err := createFile(filename)
	if err != nil {
		return err
	}
	defer file.Close()
	return WriteKlines(file, klines)
}

// WriteKlines encodes klines as CSV to w.
func WriteKlines(w io.Writer, klines []*domain.Kline) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(klineHeader); err != nil {
		return err
	}
	for _, k := range klines {
		err := writer.Write([]string{
			k.OpenTime.UTC().Format(time.RFC3339),
			k.CloseTime.UTC().Format(time.RFC3339),
			k.Symbol,
			k.Interval,
			formatFloat(k.Open),
			formatFloat(k.High),
			formatFloat(k.Low),
			formatFloat(k.Close),
			formatFloat(k.Volume),
		})
		if err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// ReadKlinesFromCSV loads a file written by WriteKlinesToCSV.
func ReadKlinesFromCSV(filename string) ([]*domain.Kline, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return ReadKlines(file)
}

// ReadKlines decodes CSV klines. Columns are located by header name so
// extra columns are ignored; every returned kline is final.
func ReadKlines(r io.Reader) ([]*domain.Kline, error) {
	reader := csv.NewReader(r)
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[name] = i
	}
	for _, name := range klineHeader {
		if _, ok := col[name]; !ok {
			return nil, fmt.Errorf("missing column %q", name)
		}
	}

	var klines []*domain.Kline
	for line := 2; ; line++ {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		k := &domain.Kline{
			Symbol:   rec[col["symbol"]],
			Interval: rec[col["interval"]],
			IsFinal:  true,
		}
		if k.OpenTime, err = time.Parse(time.RFC3339, rec[col["open_time"]]); err != nil {
			return nil, fmt.Errorf("line %d: open_time: %w", line, err)
		}
		if k.CloseTime, err = time.Parse(time.RFC3339, rec[col["close_time"]]); err != nil {
			return nil, fmt.Errorf("line %d: close_time: %w", line, err)
		}
		for _, f := range []struct {
			name string
			dst  *float64
		}{
			{"open", &k.Open}, {"high", &k.High}, {"low", &k.Low}, {"close", &k.Close}, {"volume", &k.Volume},
		} {
			if *f.dst, err = strconv.ParseFloat(rec[col[f.name]], 64); err != nil {
				return nil, fmt.Errorf("line %d: %s: %w", line, f.name, err)
			}
		}
		klines = append(klines, k)
	}
	return klines, nil
}

// WriteTradesToCSV writes the trade journal with a header row.
func WriteTradesToCSV(trades []*domain.Trade, filename string) error {
	file, err := createFile(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write(tradeHeader); err != nil {
		return err
	}
	for _, t := range trades {
		err := writer.Write([]string{
			strconv.FormatInt(t.ID, 10),
			t.Symbol,
			t.EntryTime.UTC().Format(time.RFC3339),
			t.ExitTime.UTC().Format(time.RFC3339),
			formatFloat(t.EntryPrice),
			formatFloat(t.ExitPrice),
			formatFloat(t.Quantity),
			formatFloat(t.PNL),
			string(t.CloseReason),
			t.OrderID,
		})
		if err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}
