package indicator

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSMA_WarmupAndValues(t *testing.T) {
	src := []float64{1, 2, 3, 4, 5}
	out := SMA(src, 3)

	require.Len(t, out, 5)
	assert.True(t, math.IsNaN(out[0]))
	assert.True(t, math.IsNaN(out[1]))
	assert.InDelta(t, 2.0, out[2], 1e-12)
	assert.InDelta(t, 3.0, out[3], 1e-12)
	assert.InDelta(t, 4.0, out[4], 1e-12)
}

func TestSMA_WindowLargerThanSeries(t *testing.T) {
	out := SMA([]float64{1, 2}, 5)
	for _, v := range out {
		assert.True(t, math.IsNaN(v))
	}
}

func TestEMA_NoWarmupGap(t *testing.T) {
	src := []float64{10, 11, 12, 13}
	out := EMA(src, 3)

	require.Len(t, out, 4)
	// alpha = 2/(span+1) = 0.5, seeded at the first value
	assert.InDelta(t, 10.0, out[0], 1e-12)
	assert.InDelta(t, 10.5, out[1], 1e-12)
	assert.InDelta(t, 11.25, out[2], 1e-12)
	assert.InDelta(t, 12.125, out[3], 1e-12)
}

func TestRSI_RangeAndWarmup(t *testing.T) {
	src := make([]float64, 40)
	for i := range src {
		// alternating up/down walk keeps both gains and losses present
		src[i] = 100 + float64(i%5) + float64(i)/10
	}
	out := RSI(src, 14)

	for i := 0; i < 13; i++ {
		assert.True(t, math.IsNaN(out[i]), "bar %d inside warm-up", i)
	}
	for i := 13; i < len(out); i++ {
		require.False(t, math.IsNaN(out[i]), "bar %d", i)
		assert.GreaterOrEqual(t, out[i], 0.0)
		assert.LessOrEqual(t, out[i], 100.0)
	}
}

func TestRSI_AllGainsPinsAt100(t *testing.T) {
	src := []float64{1, 2, 3, 4, 5, 6, 7, 8}
	out := RSI(src, 3)
	assert.InDelta(t, 100.0, out[len(out)-1], 1e-9)
}

func TestMACD_FieldsAndIdentity(t *testing.T) {
	src := []float64{1, 3, 2, 5, 4, 7, 6, 9, 8, 11}
	out := MACD(src, 3, 6, 2)

	require.Contains(t, out, "macd")
	require.Contains(t, out, "signal")
	require.Contains(t, out, "hist")
	for i := range src {
		assert.InDelta(t, out["macd"][i]-out["signal"][i], out["hist"][i], 1e-12)
	}
}

func TestBBands_SymmetryAroundMid(t *testing.T) {
	src := []float64{2, 4, 6, 8, 10, 12}
	out := BBands(src, 3, 2.0)

	require.Contains(t, out, "bb_upper")
	require.Contains(t, out, "bb_mid")
	require.Contains(t, out, "bb_lower")
	assert.True(t, math.IsNaN(out["bb_mid"][1]))
	for i := 2; i < len(src); i++ {
		up := out["bb_upper"][i] - out["bb_mid"][i]
		dn := out["bb_mid"][i] - out["bb_lower"][i]
		assert.InDelta(t, up, dn, 1e-12, "bar %d", i)
		assert.Greater(t, up, 0.0)
	}
	// population std of any 3 consecutive terms of this series is constant
	std := math.Sqrt((4.0 + 0 + 4.0) / 3.0)
	assert.InDelta(t, out["bb_mid"][2]+2*std, out["bb_upper"][2], 1e-12)
}

func TestRegistry_UnknownName(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Compute("vwap", []float64{1, 2, 3}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknown)
}

func TestRegistry_DefaultsApplied(t *testing.T) {
	reg := NewRegistry()
	src := make([]float64, 30)
	for i := range src {
		src[i] = float64(i + 1)
	}
	val, err := reg.Compute("sma", src, nil)
	require.NoError(t, err)
	require.False(t, val.MultiOutput())
	// default window 20: first defined value is the mean of 1..20
	assert.True(t, math.IsNaN(val.Series[18]))
	assert.InDelta(t, 10.5, val.Series[19], 1e-12)
}

func TestRegistry_RejectsUnknownAndInvalidParams(t *testing.T) {
	reg := NewRegistry()
	src := []float64{1, 2, 3}

	_, err := reg.Compute("sma", src, map[string]float64{"widnow": 5})
	require.Error(t, err)

	_, err = reg.Compute("rsi", src, map[string]float64{"period": 0})
	require.Error(t, err)
}

func TestRegistry_MultiOutputSpecs(t *testing.T) {
	reg := NewRegistry()
	spec, ok := reg.Spec("macd")
	require.True(t, ok)
	assert.Equal(t, []string{"macd", "signal", "hist"}, spec.Fields)

	val, err := reg.Compute("bbands", []float64{1, 2, 3, 4, 5}, map[string]float64{"window": 2, "k": 1.5})
	require.NoError(t, err)
	assert.True(t, val.MultiOutput())
	assert.Len(t, val.Fields, 3)
}
