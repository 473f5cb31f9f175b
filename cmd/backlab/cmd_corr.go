package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/derivlab/backlab/internal/binance"
	"github.com/derivlab/backlab/internal/correl"
	"github.com/derivlab/backlab/internal/market"
	"github.com/derivlab/backlab/ui"
)

func newCorrCmd() *cobra.Command {
	var (
		rf           rangeFlags
		metric       string
		minLag       int
		maxLag       int
		returnPeriod int
		asJSON       bool
	)
	cmd := &cobra.Command{
		Use:   "corr",
		Short: "Measure lag correlation between a derivative metric and price returns",
		Long: `Computes Pearson and Spearman correlation between a futures metric
(funding rate, open interest, trader positioning or taker flow) and log
price returns across a range of lags. Positive lags mean the metric
leads returns.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if minLag > maxLag {
				return fmt.Errorf("--min-lag must be <= --max-lag")
			}
			if returnPeriod < 1 {
				return fmt.Errorf("--return-period must be >= 1")
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

			feature, err := fetchMetric(ctx, d, metric, rf.symbol, rf.interval, start, end)
			if err != nil {
				return err
			}
			f, err := d.client.FuturesKlines(ctx, rf.symbol, rf.interval, start, end)
			if err != nil {
				return fmt.Errorf("fetch klines: %w", err)
			}

			points := correl.FeatureReturnLagCorr(f, feature, returnPeriod, minLag, maxLag)
			if asJSON {
				out, err := json.MarshalIndent(map[string]any{
					"symbol":        rf.symbol,
					"interval":      rf.interval,
					"metric":        metric,
					"return_period": returnPeriod,
					"points":        points,
				}, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(out))
				return nil
			}
			ui.PrintLagTable(cmd.OutOrStdout(), metric, points)
			return nil
		},
	}
	rf.register(cmd)
	cmd.Flags().StringVar(&metric, "metric", "funding", "metric: funding, open_interest, top_accounts, top_positions or taker")
	cmd.Flags().IntVar(&minLag, "min-lag", -48, "minimum lag in bars")
	cmd.Flags().IntVar(&maxLag, "max-lag", 48, "maximum lag in bars")
	cmd.Flags().IntVar(&returnPeriod, "return-period", 1, "log-return horizon in bars")
	cmd.Flags().BoolVar(&asJSON, "json", false, "emit machine-readable JSON")
	return cmd
}

func fetchMetric(ctx context.Context, d *deps, metric, symbol, interval string, start, end time.Time) (market.Series, error) {
	switch metric {
	case "funding":
		return d.client.FundingRates(ctx, symbol, start, end)
	case "open_interest":
		return d.client.OpenInterestHistory(ctx, symbol, interval, start, end)
	case "top_accounts":
		return d.client.TopLongShortRatio(ctx, symbol, interval, start, end, binance.LongShortAccounts)
	case "top_positions":
		return d.client.TopLongShortRatio(ctx, symbol, interval, start, end, binance.LongShortPositions)
	case "taker":
		tv, err := d.client.TakerBuySellRatio(ctx, symbol, interval, start, end)
		if err != nil {
			return market.Series{}, err
		}
		return tv.Ratio, nil
	default:
		return market.Series{}, fmt.Errorf("unknown metric %q", metric)
	}
}
