package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/derivlab/backlab/internal/binance"
	"github.com/derivlab/backlab/internal/export"
	"github.com/derivlab/backlab/internal/perf"
	"github.com/derivlab/backlab/internal/rule"
	"github.com/derivlab/backlab/internal/sim"
	"github.com/derivlab/backlab/internal/store"
	"github.com/derivlab/backlab/ui"
)

const millisPerYear = 365 * 24 * 60 * 60 * 1000

func newBacktestCmd() *cobra.Command {
	var (
		rf        rangeFlags
		entryPath string
		exitPath  string
		fee       float64
		slippage  float64
		cooldown  int
		tradesOut string
		equityOut string
		asJSON    bool
	)
	cmd := &cobra.Command{
		Use:   "backtest",
		Short: "Run an entry/exit rule against historical futures candles",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if entryPath == "" {
				return fmt.Errorf("--entry is required")
			}
			intervalMS, err := binance.IntervalMS(rf.interval)
			if err != nil {
				return err
			}
			start, end, err := rf.resolve()
			if err != nil {
				return err
			}

			entryJSON, err := os.ReadFile(entryPath)
			if err != nil {
				return fmt.Errorf("read entry rule: %w", err)
			}
			var exitJSON []byte
			if exitPath != "" {
				if exitJSON, err = os.ReadFile(exitPath); err != nil {
					return fmt.Errorf("read exit rule: %w", err)
				}
			}

			ctx := cmd.Context()
			d, err := buildDeps(ctx, nil)
			if err != nil {
				return err
			}
			defer d.close()

			if !cmd.Flags().Changed("fee") {
				fee = d.cfg.Backtest.Fee
			}
			if !cmd.Flags().Changed("slippage") {
				slippage = d.cfg.Backtest.Slippage
			}
			if !cmd.Flags().Changed("cooldown") {
				cooldown = d.cfg.Backtest.Cooldown
			}

			f, err := d.client.FuturesKlines(ctx, rf.symbol, rf.interval, start, end)
			if err != nil {
				return fmt.Errorf("fetch klines: %w", err)
			}

			entry, err := rule.EvaluateJSON(entryJSON, f, nil)
			if err != nil {
				return fmt.Errorf("entry rule: %w", err)
			}
			var exit rule.Signal
			if len(exitJSON) > 0 {
				if exit, err = rule.EvaluateJSON(exitJSON, f, nil); err != nil {
					return fmt.Errorf("exit rule: %w", err)
				}
			}

			cfg := sim.Config{Fee: fee, Slippage: slippage, Cooldown: cooldown}
			res, err := sim.Run(f, entry, exit, cfg)
			if err != nil {
				return err
			}
			summary := perf.Summarize(res.Equity, res.Returns, int(millisPerYear/intervalMS))

			id := uuid.NewString()
			if d.store != nil {
				run := store.Run{
					ID:        id,
					Symbol:    rf.symbol,
					Interval:  rf.interval,
					Start:     start,
					End:       end,
					EntryRule: entryJSON,
					ExitRule:  exitJSON,
					Fee:       cfg.Fee,
					Slippage:  cfg.Slippage,
					Cooldown:  cfg.Cooldown,
					Summary:   summary,
				}
				if err := d.store.InsertRun(ctx, run, res.Trades); err != nil {
					return fmt.Errorf("persist run: %w", err)
				}
				log.Info().Str("run_id", id).Msg("run persisted")
			}

			if tradesOut != "" {
				if err := writeCSVFile(tradesOut, func(file *os.File) error {
					return export.WriteTrades(file, res.Trades)
				}); err != nil {
					return err
				}
			}
			if equityOut != "" {
				if err := writeCSVFile(equityOut, func(file *os.File) error {
					return export.WriteEquity(file, f.Times, res.Equity)
				}); err != nil {
					return err
				}
			}

			if asJSON {
				out, err := json.MarshalIndent(map[string]any{
					"id":      id,
					"symbol":  rf.symbol,
					"bars":    f.Len(),
					"summary": summary,
					"open":    res.Open,
				}, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(out))
				return nil
			}
			ui.PrintSummary(cmd.OutOrStdout(), rf.symbol, summary, res.Trades)
			if res.Open != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "\nOpen position since %s at %.4f\n",
					res.Open.EntryTime.Format("2006-01-02 15:04"), res.Open.EntryPrice)
			}
			return nil
		},
	}
	rf.register(cmd)
	cmd.Flags().StringVar(&entryPath, "entry", "", "path to entry rule JSON (required)")
	cmd.Flags().StringVar(&exitPath, "exit", "", "path to exit rule JSON")
	cmd.Flags().Float64Var(&fee, "fee", 0.001, "one-way fee ratio")
	cmd.Flags().Float64Var(&slippage, "slippage", 0.001, "one-way slippage ratio")
	cmd.Flags().IntVar(&cooldown, "cooldown", 0, "bars to wait after an exit before re-entering")
	cmd.Flags().StringVar(&tradesOut, "trades-out", "", "write closed trades to a CSV file")
	cmd.Flags().StringVar(&equityOut, "equity-out", "", "write the equity curve to a CSV file")
	cmd.Flags().BoolVar(&asJSON, "json", false, "emit machine-readable JSON")
	return cmd
}

func writeCSVFile(path string, write func(*os.File) error) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer file.Close()
	if err := write(file); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	log.Info().Str("path", path).Msg("artifact written")
	return nil
}
