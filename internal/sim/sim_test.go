package sim

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/derivlab/backlab/internal/market"
)

func frameWithOpens(opens []float64) *market.Frame {
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	candles := make([]market.Candle, len(opens))
	for i, o := range opens {
		candles[i] = market.Candle{
			Time:  base.Add(time.Duration(i) * time.Hour),
			Open:  o,
			High:  o + 1,
			Low:   o - 1,
			Close: o,
		}
	}
	return market.NewFrame(candles)
}

func sig(n int, trueAt ...int) []bool {
	out := make([]bool, n)
	for _, i := range trueAt {
		out[i] = true
	}
	return out
}

func TestRun_EntryFillsAtNextOpen(t *testing.T) {
	// The only profitable move is open[5] -> open[6]; a signal at bar 5 must
	// fill at open[6], never open[5].
	opens := []float64{100, 100, 100, 100, 100, 100, 150, 150, 150, 150}
	f := frameWithOpens(opens)

	res, err := Run(f, sig(10, 5), sig(10, 7), Config{})
	require.NoError(t, err)
	require.Len(t, res.Trades, 1)

	tr := res.Trades[0]
	assert.Equal(t, f.Times[6], tr.EntryTime)
	assert.InDelta(t, 150.0, tr.EntryPrice, 1e-12, "fill must use open[6], not open[5]")
	assert.Equal(t, f.Times[8], tr.ExitTime)
	assert.InDelta(t, 1.0, tr.ReturnMultiple, 1e-12)
}

func TestRun_FirstBarSignalNeverActs(t *testing.T) {
	f := frameWithOpens([]float64{100, 200, 300})
	res, err := Run(f, sig(3, 0), nil, Config{})
	require.NoError(t, err)

	// The shifted signal acts at bar 1, so the entry is at open[1]=200.
	require.NotNil(t, res.Open)
	assert.InDelta(t, 200.0, res.Open.EntryPrice, 1e-12)

	// A signal only at the very first bar of a 1-bar frame can never act.
	f1 := frameWithOpens([]float64{100})
	res1, err := Run(f1, sig(1, 0), nil, Config{})
	require.NoError(t, err)
	assert.Nil(t, res1.Open)
	assert.Empty(t, res1.Trades)
}

func TestRun_NoExitScenarioHoldsFlatEquity(t *testing.T) {
	// spec scenario: entry at bar 1 only, no exit rule, zero costs. Entry
	// fills at open[2]=102 and never closes: zero trades, equity pinned at 1.
	f := frameWithOpens([]float64{100, 101, 102, 103, 104})
	res, err := Run(f, sig(5, 1), nil, Config{})
	require.NoError(t, err)

	assert.Empty(t, res.Trades)
	assert.Empty(t, res.Returns)
	require.NotNil(t, res.Open)
	assert.InDelta(t, 102.0, res.Open.EntryPrice, 1e-12)
	assert.Equal(t, f.Times[2], res.Open.EntryTime)
	require.Len(t, res.Equity, 5)
	for i, e := range res.Equity {
		assert.InDelta(t, 1.0, e, 1e-12, "bar %d", i)
	}
}

func TestRun_ExplicitExitWithCosts(t *testing.T) {
	// entry signal bar 1 -> fill open[2]=102 grossed up 0.2%;
	// exit signal bar 3 -> fill open[4]=104 discounted 0.2%.
	f := frameWithOpens([]float64{100, 101, 102, 103, 104})
	cfg := Config{Fee: 0.001, Slippage: 0.001}

	res, err := Run(f, sig(5, 1), sig(5, 3), cfg)
	require.NoError(t, err)
	require.Len(t, res.Trades, 1)

	tr := res.Trades[0]
	wantEntry := 102 * 1.002
	wantExit := 104 * 0.998
	assert.InDelta(t, wantEntry, tr.EntryPrice, 1e-9)
	assert.InDelta(t, wantExit, tr.ExitPrice, 1e-9)
	assert.InDelta(t, wantExit/wantEntry, tr.ReturnMultiple, 1e-12)
	require.Len(t, res.Returns, 1)
	assert.InDelta(t, wantExit/wantEntry-1.0, res.Returns[0], 1e-12)

	// equity reflects the exit at bar 4 and nothing before it
	assert.InDelta(t, 1.0, res.Equity[3], 1e-12)
	assert.InDelta(t, wantExit/wantEntry, res.Equity[4], 1e-12)
}

func TestRun_EntryRetriggerExitsOnlyWithoutExitRule(t *testing.T) {
	opens := []float64{100, 100, 110, 120, 130, 140}

	t.Run("implicit exit on re-trigger", func(t *testing.T) {
		f := frameWithOpens(opens)
		res, err := Run(f, sig(6, 1, 3), nil, Config{})
		require.NoError(t, err)
		require.Len(t, res.Trades, 1)
		// enter open[2]=110, re-trigger at bar 3 exits at open[4]=130
		assert.InDelta(t, 110.0, res.Trades[0].EntryPrice, 1e-12)
		assert.InDelta(t, 130.0, res.Trades[0].ExitPrice, 1e-12)
	})

	t.Run("explicit exit rule suppresses re-trigger", func(t *testing.T) {
		f := frameWithOpens(opens)
		res, err := Run(f, sig(6, 1, 3), sig(6), Config{})
		require.NoError(t, err)
		assert.Empty(t, res.Trades, "entry re-trigger must not exit when an exit rule exists")
		require.NotNil(t, res.Open)
	})
}

func TestRun_CooldownBlocksReentry(t *testing.T) {
	// exit lands at bar 4; with cooldown=3, bars 5,6,7 count down and the
	// earliest re-entry is bar 8 even though the entry signal stays true.
	opens := []float64{100, 100, 100, 100, 100, 100, 100, 100, 100, 100}
	f := frameWithOpens(opens)
	entry := []bool{false, true, false, true, true, true, true, true, true, true}
	exit := sig(10, 3)

	res, err := Run(f, entry, exit, Config{Cooldown: 3})
	require.NoError(t, err)
	require.Len(t, res.Trades, 1)
	assert.Equal(t, f.Times[4], res.Trades[0].ExitTime)

	require.NotNil(t, res.Open)
	assert.Equal(t, f.Times[8], res.Open.EntryTime, "re-entry must wait out the cooldown")
}

func TestRun_CooldownZeroAllowsImmediateReentry(t *testing.T) {
	opens := []float64{100, 100, 100, 100, 100, 100}
	f := frameWithOpens(opens)
	entry := []bool{false, true, false, false, true, false}
	exit := sig(6, 2)

	res, err := Run(f, entry, exit, Config{})
	require.NoError(t, err)
	require.Len(t, res.Trades, 1)
	require.NotNil(t, res.Open)
	assert.Equal(t, f.Times[5], res.Open.EntryTime)
}

func TestRun_FeeSlippageMonotonicity(t *testing.T) {
	f := frameWithOpens([]float64{100, 101, 102, 103, 104})
	entry := sig(5, 1)
	exit := sig(5, 3)

	prev := 2.0
	for _, fee := range []float64{0, 0.0005, 0.001, 0.002, 0.005} {
		res, err := Run(f, entry, exit, Config{Fee: fee})
		require.NoError(t, err)
		require.Len(t, res.Trades, 1)
		assert.Less(t, res.Trades[0].ReturnMultiple, prev,
			"raising fee must strictly lower the trade return")
		prev = res.Trades[0].ReturnMultiple
	}

	prev = 2.0
	for _, slip := range []float64{0, 0.0005, 0.001, 0.002, 0.005} {
		res, err := Run(f, entry, exit, Config{Slippage: slip})
		require.NoError(t, err)
		require.Len(t, res.Trades, 1)
		assert.Less(t, res.Trades[0].ReturnMultiple, prev)
		prev = res.Trades[0].ReturnMultiple
	}
}

func TestRun_EquityCurveLengthInvariant(t *testing.T) {
	for _, n := range []int{1, 2, 7, 50} {
		opens := make([]float64, n)
		for i := range opens {
			opens[i] = 100 + float64(i)
		}
		f := frameWithOpens(opens)

		res, err := Run(f, make([]bool, n), nil, Config{})
		require.NoError(t, err)
		require.Len(t, res.Equity, n)
		assert.Empty(t, res.Trades)
		for _, e := range res.Equity {
			assert.InDelta(t, 1.0, e, 1e-12)
		}
	}
}

func TestRun_TradeTimesOrderedAndReturnsMatch(t *testing.T) {
	opens := []float64{100, 105, 103, 108, 102, 107, 104, 109, 101, 106}
	f := frameWithOpens(opens)
	entry := []bool{true, false, true, false, true, false, true, false, true, false}
	exit := []bool{false, true, false, true, false, true, false, true, false, true}

	res, err := Run(f, entry, exit, Config{Fee: 0.001, Slippage: 0.0005})
	require.NoError(t, err)
	require.NotEmpty(t, res.Trades)
	require.Len(t, res.Returns, len(res.Trades))

	equity := 1.0
	for i, tr := range res.Trades {
		assert.True(t, tr.ExitTime.After(tr.EntryTime), "trade %d", i)
		assert.InDelta(t, tr.ReturnMultiple-1.0, res.Returns[i], 1e-12)
		equity *= tr.ReturnMultiple
	}
	assert.InDelta(t, equity, res.Equity[len(res.Equity)-1], 1e-12,
		"final equity is the product of trade returns")
}

func TestRun_InputValidation(t *testing.T) {
	f := frameWithOpens([]float64{100, 101, 102})

	_, err := Run(f, make([]bool, 2), nil, Config{})
	require.Error(t, err, "entry length mismatch")

	_, err = Run(f, make([]bool, 3), make([]bool, 4), Config{})
	require.Error(t, err, "exit length mismatch")

	_, err = Run(f, make([]bool, 3), nil, Config{Fee: 1.0})
	require.Error(t, err)

	_, err = Run(f, make([]bool, 3), nil, Config{Slippage: -0.1})
	require.Error(t, err)

	_, err = Run(f, make([]bool, 3), nil, Config{Cooldown: -1})
	require.Error(t, err)
}
