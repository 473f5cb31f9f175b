// Package ui renders CLI result tables for humans; machine consumers use
// the --json output instead.
package ui

import (
	"fmt"
	"io"
	"math"

	"github.com/derivlab/backlab/internal/correl"
	"github.com/derivlab/backlab/internal/perf"
	"github.com/derivlab/backlab/internal/sim"
)

// PrintSummary renders a backtest summary block followed by the closed
// trades.
func PrintSummary(w io.Writer, symbol string, s perf.Summary, trades []sim.Trade) {
	fmt.Fprintf(w, "BACKTEST %s | Trades: %d | Win rate: %.1f%%\n", symbol, s.Trades, s.WinRate*100)
	fmt.Fprintln(w, "------------------------------------------------------------")
	fmt.Fprintf(w, "Total return: %+.2f%%   CAGR: %+.2f%%   Max drawdown: %.2f%%   Sharpe: %.2f\n",
		s.TotalReturn*100, s.CAGR*100, s.MaxDrawdown*100, s.Sharpe)

	if len(trades) == 0 {
		return
	}
	fmt.Fprintf(w, "\n%-4s %-20s %-20s %-12s %-12s %s\n", "#", "ENTRY", "EXIT", "ENTRY PX", "EXIT PX", "RETURN")
	for i, t := range trades {
		fmt.Fprintf(w, "%-4d %-20s %-20s %-12.4f %-12.4f %+.2f%%\n",
			i+1,
			t.EntryTime.Format("2006-01-02 15:04"),
			t.ExitTime.Format("2006-01-02 15:04"),
			t.EntryPrice, t.ExitPrice,
			(t.ReturnMultiple-1)*100)
	}
}

// PrintLagTable renders lag correlations, one row per lag. Undefined
// coefficients show as a dash.
func PrintLagTable(w io.Writer, metric string, points []correl.LagPoint) {
	fmt.Fprintf(w, "LAG CORRELATION (%s vs log returns, lag>0 = metric leads)\n", metric)
	fmt.Fprintf(w, "%-6s %-10s %-10s %s\n", "LAG", "PEARSON", "SPEARMAN", "N")
	for _, p := range points {
		fmt.Fprintf(w, "%-6d %-10s %-10s %d\n", p.Lag, fmtCoef(p.Pearson), fmtCoef(p.Spearman), p.N)
	}
}

func fmtCoef(v float64) string {
	if math.IsNaN(v) {
		return "-"
	}
	return fmt.Sprintf("%+.4f", v)
}
