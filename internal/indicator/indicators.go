// Package indicator provides the derived-series functions consumed by the
// rule evaluator: moving averages, RSI, MACD and Bollinger bands. Every
// function is pure and returns a series aligned 1:1 with its input; bars
// inside a rolling warm-up window are NaN.
package indicator

import "math"

// SMA is the simple moving average over a fixed window. The first window-1
// values are NaN.
func SMA(src []float64, window int) []float64 {
	out := nanSlice(len(src))
	if window <= 0 || window > len(src) {
		return out
	}
	sum := 0.0
	for i, v := range src {
		sum += v
		if i >= window {
			sum -= src[i-window]
		}
		if i >= window-1 {
			out[i] = sum / float64(window)
		}
	}
	return out
}

// EMA is the exponential moving average with smoothing 2/(span+1), seeded at
// the first observation. By convention it has no warm-up gap.
func EMA(src []float64, span int) []float64 {
	out := nanSlice(len(src))
	if span <= 0 || len(src) == 0 {
		return out
	}
	alpha := 2.0 / (float64(span) + 1.0)
	out[0] = src[0]
	for i := 1; i < len(src); i++ {
		out[i] = alpha*src[i] + (1-alpha)*out[i-1]
	}
	return out
}

// RSI computes the Wilder relative strength index on a 0..100 scale. Average
// gain/loss use recursive smoothing with alpha=1/period; the first period-1
// values are NaN.
func RSI(src []float64, period int) []float64 {
	out := nanSlice(len(src))
	if period <= 0 || len(src) == 0 {
		return out
	}
	alpha := 1.0 / float64(period)
	var avgGain, avgLoss float64
	for i := range src {
		var gain, loss float64
		if i > 0 {
			d := src[i] - src[i-1]
			if d > 0 {
				gain = d
			} else {
				loss = -d
			}
		}
		if i == 0 {
			avgGain, avgLoss = gain, loss
		} else {
			avgGain = alpha*gain + (1-alpha)*avgGain
			avgLoss = alpha*loss + (1-alpha)*avgLoss
		}
		if i >= period-1 {
			// avgLoss == 0 drives rs to +Inf and the quotient to 100.
			rs := avgGain / avgLoss
			out[i] = 100 - 100/(1+rs)
		}
	}
	return out
}

// MACD returns the convergence/divergence line, its signal line and the
// histogram, keyed "macd", "signal" and "hist".
func MACD(src []float64, fast, slow, signal int) map[string][]float64 {
	fastEMA := EMA(src, fast)
	slowEMA := EMA(src, slow)
	line := make([]float64, len(src))
	for i := range src {
		line[i] = fastEMA[i] - slowEMA[i]
	}
	sig := EMA(line, signal)
	hist := make([]float64, len(src))
	for i := range src {
		hist[i] = line[i] - sig[i]
	}
	return map[string][]float64{"macd": line, "signal": sig, "hist": hist}
}

// BBands returns Bollinger bands keyed "bb_upper", "bb_mid" and "bb_lower".
// The middle band is an SMA and the width is k population standard
// deviations; all three share the SMA warm-up gap.
func BBands(src []float64, window int, k float64) map[string][]float64 {
	mid := SMA(src, window)
	upper := nanSlice(len(src))
	lower := nanSlice(len(src))
	for i := window - 1; i < len(src) && window > 0; i++ {
		if math.IsNaN(mid[i]) {
			continue
		}
		var ss float64
		for j := i - window + 1; j <= i; j++ {
			d := src[j] - mid[i]
			ss += d * d
		}
		std := math.Sqrt(ss / float64(window))
		upper[i] = mid[i] + k*std
		lower[i] = mid[i] - k*std
	}
	return map[string][]float64{"bb_upper": upper, "bb_mid": mid, "bb_lower": lower}
}

func nanSlice(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}
