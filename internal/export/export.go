// Package export writes backtest artifacts as CSV for spreadsheet and
// notebook consumption.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/derivlab/backlab/internal/market"
	"github.com/derivlab/backlab/internal/sim"
)

// WriteCandles writes OHLCV rows, one per bar.
func WriteCandles(w io.Writer, f *market.Frame) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"time", "open", "high", "low", "close", "volume"}); err != nil {
		return fmt.Errorf("write candles header: %w", err)
	}
	for _, c := range f.Candles() {
		row := []string{
			c.Time.UTC().Format(time.RFC3339),
			formatFloat(c.Open),
			formatFloat(c.High),
			formatFloat(c.Low),
			formatFloat(c.Close),
			formatFloat(c.Volume),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write candle row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteTrades writes one row per closed trade with a fixed header. Times
// are RFC 3339 UTC.
func WriteTrades(w io.Writer, trades []sim.Trade) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"entry_time", "exit_time", "entry_price", "exit_price", "return_multiple"}); err != nil {
		return fmt.Errorf("write trades header: %w", err)
	}
	for i, tr := range trades {
		row := []string{
			tr.EntryTime.UTC().Format(time.RFC3339),
			tr.ExitTime.UTC().Format(time.RFC3339),
			formatFloat(tr.EntryPrice),
			formatFloat(tr.ExitPrice),
			formatFloat(tr.ReturnMultiple),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write trade %d: %w", i, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteEquity writes the equity curve, one row per bar.
func WriteEquity(w io.Writer, times []time.Time, equity []float64) error {
	if len(times) != len(equity) {
		return fmt.Errorf("times and equity length mismatch: %d != %d", len(times), len(equity))
	}
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"time", "equity"}); err != nil {
		return fmt.Errorf("write equity header: %w", err)
	}
	for i := range equity {
		row := []string{times[i].UTC().Format(time.RFC3339), formatFloat(equity[i])}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write equity row %d: %w", i, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
