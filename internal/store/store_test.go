package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/derivlab/backlab/internal/market"
	"github.com/derivlab/backlab/internal/perf"
	"github.com/derivlab/backlab/internal/sim"
)

func mockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(sqlx.NewDb(db, "postgres")), mock
}

func TestSaveCandles_UpsertsEachBar(t *testing.T) {
	s, mock := mockStore(t)
	base := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	f := market.NewFrame([]market.Candle{
		{Time: base, Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 10},
		{Time: base.Add(time.Hour), Open: 1.5, High: 2.5, Low: 1, Close: 2, Volume: 11},
	})

	mock.ExpectBegin()
	prep := mock.ExpectPrepare(`INSERT INTO candles`)
	prep.ExpectExec().
		WithArgs("futures", "BTCUSDT", "1h", base, 1.0, 2.0, 0.5, 1.5, 10.0).
		WillReturnResult(sqlmock.NewResult(0, 1))
	prep.ExpectExec().
		WithArgs("futures", "BTCUSDT", "1h", base.Add(time.Hour), 1.5, 2.5, 1.0, 2.0, 11.0).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, s.SaveCandles(context.Background(), "futures", "BTCUSDT", "1h", f))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertRun_WritesRunAndTrades(t *testing.T) {
	s, mock := mockStore(t)
	base := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	run := Run{
		ID:        "0c6d3f6e-9cb4-4a52-b3a1-3f8b8f2f5c77",
		Symbol:    "BTCUSDT",
		Interval:  "1h",
		Start:     base,
		End:       base.Add(48 * time.Hour),
		EntryRule: json.RawMessage(`{"op":">","left":{"name":"close"},"right":{"type":"const","value":0}}`),
		Fee:       0.001,
		Slippage:  0.001,
		Cooldown:  2,
		Summary:   perf.Summary{TotalReturn: 0.1, Trades: 1, WinRate: 1},
	}
	trades := []sim.Trade{{
		EntryTime: base.Add(time.Hour), ExitTime: base.Add(3 * time.Hour),
		EntryPrice: 100.2, ExitPrice: 110.1, ReturnMultiple: 1.0988,
	}}

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO runs`).
		WithArgs(run.ID, run.Symbol, run.Interval, run.Start, run.End,
			[]byte(run.EntryRule), nil, run.Fee, run.Slippage, run.Cooldown, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO run_trades`).
		WithArgs(run.ID, 0, trades[0].EntryTime, trades[0].ExitTime,
			trades[0].EntryPrice, trades[0].ExitPrice, trades[0].ReturnMultiple).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, s.InsertRun(context.Background(), run, trades))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertRun_RollsBackOnTradeFailure(t *testing.T) {
	s, mock := mockStore(t)
	run := Run{
		ID:        "0c6d3f6e-9cb4-4a52-b3a1-3f8b8f2f5c77",
		EntryRule: json.RawMessage(`{}`),
	}
	trades := []sim.Trade{{EntryTime: time.Now(), ExitTime: time.Now().Add(time.Hour)}}

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO runs`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO run_trades`).WillReturnError(assert.AnError)
	mock.ExpectRollback()

	require.Error(t, s.InsertRun(context.Background(), run, trades))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListTrades_ReturnsSeqOrder(t *testing.T) {
	s, mock := mockStore(t)
	base := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{"entry_time", "exit_time", "entry_price", "exit_price", "return_multiple"}).
		AddRow(base, base.Add(time.Hour), 100.0, 101.0, 1.01).
		AddRow(base.Add(2*time.Hour), base.Add(3*time.Hour), 101.0, 100.0, 0.9901)
	mock.ExpectQuery(`SELECT entry_time, exit_time`).WithArgs("run-1").WillReturnRows(rows)

	trades, err := s.ListTrades(context.Background(), "run-1")
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.InDelta(t, 1.01, trades[0].ReturnMultiple, 1e-12)
	assert.True(t, trades[1].EntryTime.After(trades[0].ExitTime))
}

func TestLoadCandles_RebuildsFrame(t *testing.T) {
	s, mock := mockStore(t)
	base := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{"ts", "open", "high", "low", "close", "volume"}).
		AddRow(base, 1.0, 2.0, 0.5, 1.5, 10.0).
		AddRow(base.Add(time.Hour), 1.5, 2.5, 1.0, 2.0, 11.0)
	mock.ExpectQuery(`SELECT ts, open, high, low, close, volume FROM candles`).
		WithArgs("futures", "BTCUSDT", "1h", base, base.Add(2*time.Hour)).
		WillReturnRows(rows)

	f, err := s.LoadCandles(context.Background(), "futures", "BTCUSDT", "1h", base, base.Add(2*time.Hour))
	require.NoError(t, err)
	require.Equal(t, 2, f.Len())
	require.NoError(t, f.Validate())
}
