package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/derivlab/backlab/internal/export"
	"github.com/derivlab/backlab/internal/market"
)

type rangeFlags struct {
	symbol   string
	interval string
	start    string
	end      string
}

func (rf *rangeFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&rf.symbol, "symbol", "BTCUSDT", "trading pair symbol")
	cmd.Flags().StringVar(&rf.interval, "interval", "1h", "kline interval (5m 15m 1h 4h 1d)")
	cmd.Flags().StringVar(&rf.start, "start", "", "range start, RFC 3339 (default 30 days before end)")
	cmd.Flags().StringVar(&rf.end, "end", "", "range end, RFC 3339 (default now)")
}

func (rf *rangeFlags) resolve() (start, end time.Time, err error) {
	end = time.Now().UTC()
	if rf.end != "" {
		if end, err = time.Parse(time.RFC3339, rf.end); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --end: %w", err)
		}
	}
	start = end.AddDate(0, 0, -30)
	if rf.start != "" {
		if start, err = time.Parse(time.RFC3339, rf.start); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --start: %w", err)
		}
	}
	if !start.Before(end) {
		return time.Time{}, time.Time{}, fmt.Errorf("start %s is not before end %s", start, end)
	}
	return start.UTC(), end.UTC(), nil
}

func newFetchCmd() *cobra.Command {
	var (
		rf  rangeFlags
		mkt string
		out string
	)
	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Fetch candles from Binance and store or export them",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if mkt != "futures" && mkt != "spot" {
				return fmt.Errorf("--market must be futures or spot, got %q", mkt)
			}
			start, end, err := rf.resolve()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			d, err := buildDeps(ctx, nil)
			if err != nil {
				return err
			}
			defer d.close()

			var f *market.Frame
			if mkt == "spot" {
				f, err = d.client.SpotKlines(ctx, rf.symbol, rf.interval, start, end)
			} else {
				f, err = d.client.FuturesKlines(ctx, rf.symbol, rf.interval, start, end)
			}
			if err != nil {
				return fmt.Errorf("fetch klines: %w", err)
			}
			log.Info().Str("symbol", rf.symbol).Int("bars", f.Len()).Msg("fetched candles")

			if d.store != nil {
				if err := d.store.SaveCandles(ctx, mkt, rf.symbol, rf.interval, f); err != nil {
					return fmt.Errorf("save candles: %w", err)
				}
				log.Info().Msg("candles persisted")
			}

			if out != "" {
				file, err := os.Create(out)
				if err != nil {
					return fmt.Errorf("create %s: %w", out, err)
				}
				defer file.Close()
				if err := export.WriteCandles(file, f); err != nil {
					return fmt.Errorf("write %s: %w", out, err)
				}
				log.Info().Str("path", out).Msg("candles exported")
			}
			return nil
		},
	}
	rf.register(cmd)
	cmd.Flags().StringVar(&mkt, "market", "futures", "market to fetch (futures or spot)")
	cmd.Flags().StringVar(&out, "out", "", "write candles to a CSV file")
	return cmd
}
