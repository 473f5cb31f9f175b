// Package correl measures lag/lead correlation between a derivative metric
// and forward log returns of price.
package correl

import (
	"encoding/json"
	"math"
	"sort"

	"github.com/derivlab/backlab/internal/market"
)

// LagPoint is the correlation of feature(t) against returns(t+lag) for one
// lag. Positive lags test whether the feature leads returns. N counts the
// paired observations; fewer than 3 leaves both coefficients NaN.
type LagPoint struct {
	Lag      int     `json:"lag"`
	Pearson  float64 `json:"pearson"`
	Spearman float64 `json:"spearman"`
	N        int     `json:"n"`
}

// MarshalJSON emits undefined coefficients as null; encoding/json rejects
// NaN outright.
func (p LagPoint) MarshalJSON() ([]byte, error) {
	nullable := func(v float64) any {
		if math.IsNaN(v) {
			return nil
		}
		return v
	}
	return json.Marshal(map[string]any{
		"lag":      p.Lag,
		"pearson":  nullable(p.Pearson),
		"spearman": nullable(p.Spearman),
		"n":        p.N,
	})
}

// LogReturns computes r_t = log(close_t / close_{t-period}); the first
// `period` values are NaN.
func LogReturns(close []float64, period int) []float64 {
	out := make([]float64, len(close))
	for i := range out {
		if i < period || close[i-period] == 0 {
			out[i] = math.NaN()
		} else {
			out[i] = math.Log(close[i] / close[i-period])
		}
	}
	return out
}

// LagCorr computes Pearson and Spearman correlation of feature against
// returns for every lag in [minLag, maxLag]. NaN pairs are dropped per lag.
func LagCorr(feature, returns []float64, minLag, maxLag int) []LagPoint {
	out := make([]LagPoint, 0, maxLag-minLag+1)
	for lag := minLag; lag <= maxLag; lag++ {
		var xs, ys []float64
		for t := range feature {
			u := t + lag
			if u < 0 || u >= len(returns) {
				continue
			}
			if math.IsNaN(feature[t]) || math.IsNaN(returns[u]) {
				continue
			}
			xs = append(xs, feature[t])
			ys = append(ys, returns[u])
		}
		p := LagPoint{Lag: lag, N: len(xs), Pearson: math.NaN(), Spearman: math.NaN()}
		if len(xs) >= 3 {
			p.Pearson = pearson(xs, ys)
			p.Spearman = pearson(ranks(xs), ranks(ys))
		}
		out = append(out, p)
	}
	return out
}

// FeatureReturnLagCorr aligns a feature series with a price frame on time,
// derives log returns of close and returns the lag correlation table.
func FeatureReturnLagCorr(f *market.Frame, feature market.Series, returnPeriod, minLag, maxLag int) []LagPoint {
	price, feat, _, ok := market.AlignOnTime(f, "close", feature)
	if !ok {
		return nil
	}
	return LagCorr(feat, LogReturns(price, returnPeriod), minLag, maxLag)
}

func pearson(xs, ys []float64) float64 {
	n := float64(len(xs))
	var mx, my float64
	for i := range xs {
		mx += xs[i]
		my += ys[i]
	}
	mx /= n
	my /= n
	var sxy, sxx, syy float64
	for i := range xs {
		dx, dy := xs[i]-mx, ys[i]-my
		sxy += dx * dy
		sxx += dx * dx
		syy += dy * dy
	}
	if sxx == 0 || syy == 0 {
		return math.NaN()
	}
	return sxy / math.Sqrt(sxx*syy)
}

// ranks assigns average ranks, so ties do not bias the Spearman coefficient.
func ranks(xs []float64) []float64 {
	idx := make([]int, len(xs))
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool { return xs[idx[a]] < xs[idx[b]] })
	out := make([]float64, len(xs))
	for i := 0; i < len(idx); {
		j := i
		for j+1 < len(idx) && xs[idx[j+1]] == xs[idx[i]] {
			j++
		}
		avg := float64(i+j)/2 + 1
		for k := i; k <= j; k++ {
			out[idx[k]] = avg
		}
		i = j + 1
	}
	return out
}
