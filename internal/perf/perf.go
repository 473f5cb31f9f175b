// Package perf computes aggregate performance statistics over a simulated
// equity curve and its per-trade returns.
package perf

import "math"

// Summary aggregates one backtest run for display and export.
type Summary struct {
	TotalReturn float64 `json:"total_return"`
	CAGR        float64 `json:"cagr"`
	MaxDrawdown float64 `json:"mdd"`
	Sharpe      float64 `json:"sharpe"`
	Trades      int     `json:"trades"`
	WinRate     float64 `json:"win_rate"`
}

// TotalReturn is the final equity multiple minus one.
func TotalReturn(equity []float64) float64 {
	if len(equity) == 0 || equity[0] == 0 {
		return 0
	}
	return equity[len(equity)-1]/equity[0] - 1.0
}

// CAGR annualizes the equity growth assuming evenly spaced bars.
func CAGR(equity []float64, periodsPerYear int) float64 {
	n := len(equity) - 1
	if n <= 0 || periodsPerYear <= 0 || equity[0] == 0 {
		return 0
	}
	years := float64(n) / float64(periodsPerYear)
	return math.Pow(equity[len(equity)-1]/equity[0], 1/years) - 1.0
}

// MaxDrawdown is the worst peak-to-trough equity ratio minus one (<= 0).
func MaxDrawdown(equity []float64) float64 {
	peak := math.Inf(-1)
	worst := 0.0
	for _, v := range equity {
		if v > peak {
			peak = v
		}
		if peak > 0 {
			if dd := v/peak - 1.0; dd < worst {
				worst = dd
			}
		}
	}
	return worst
}

// SharpeRatio annualizes mean excess per-bar return over its sample standard
// deviation. Zero variance yields 0.
func SharpeRatio(returns []float64, riskFree float64, periodsPerYear int) float64 {
	if len(returns) < 2 {
		return 0
	}
	mean := 0.0
	for _, r := range returns {
		mean += r - riskFree
	}
	mean /= float64(len(returns))
	ss := 0.0
	for _, r := range returns {
		d := (r - riskFree) - mean
		ss += d * d
	}
	sigma := math.Sqrt(ss / float64(len(returns)-1))
	if sigma == 0 || math.IsNaN(sigma) {
		return 0
	}
	return mean / sigma * math.Sqrt(float64(periodsPerYear))
}

// WinRate is the fraction of trades with positive return, 0..1.
func WinRate(tradeReturns []float64) float64 {
	if len(tradeReturns) == 0 {
		return 0
	}
	wins := 0
	for _, r := range tradeReturns {
		if r > 0 {
			wins++
		}
	}
	return float64(wins) / float64(len(tradeReturns))
}

// Summarize computes the full summary from an equity curve and trade returns.
func Summarize(equity []float64, tradeReturns []float64, periodsPerYear int) Summary {
	return Summary{
		TotalReturn: TotalReturn(equity),
		CAGR:        CAGR(equity, periodsPerYear),
		MaxDrawdown: MaxDrawdown(equity),
		Sharpe:      SharpeRatio(perBarReturns(equity), 0, periodsPerYear),
		Trades:      len(tradeReturns),
		WinRate:     WinRate(tradeReturns),
	}
}

func perBarReturns(equity []float64) []float64 {
	if len(equity) < 2 {
		return nil
	}
	out := make([]float64, 0, len(equity)-1)
	for i := 1; i < len(equity); i++ {
		if equity[i-1] == 0 {
			continue
		}
		out = append(out, equity[i]/equity[i-1]-1.0)
	}
	return out
}
