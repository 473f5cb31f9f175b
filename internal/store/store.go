// Package store persists fetched candles and completed backtest runs in
// PostgreSQL, so past runs can be reopened and exported without refetching
// or resimulating.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/derivlab/backlab/internal/market"
	"github.com/derivlab/backlab/internal/perf"
	"github.com/derivlab/backlab/internal/sim"
)

const schema = `
CREATE TABLE IF NOT EXISTS candles (
	mkt        TEXT             NOT NULL,
	symbol     TEXT             NOT NULL,
	interval   TEXT             NOT NULL,
	ts         TIMESTAMPTZ      NOT NULL,
	open       DOUBLE PRECISION NOT NULL,
	high       DOUBLE PRECISION NOT NULL,
	low        DOUBLE PRECISION NOT NULL,
	close      DOUBLE PRECISION NOT NULL,
	volume     DOUBLE PRECISION NOT NULL,
	PRIMARY KEY (mkt, symbol, interval, ts)
);

CREATE TABLE IF NOT EXISTS runs (
	id           UUID PRIMARY KEY,
	symbol       TEXT        NOT NULL,
	interval     TEXT        NOT NULL,
	range_start  TIMESTAMPTZ NOT NULL,
	range_end    TIMESTAMPTZ NOT NULL,
	entry_rule   JSONB       NOT NULL,
	exit_rule    JSONB,
	fee          DOUBLE PRECISION NOT NULL,
	slippage     DOUBLE PRECISION NOT NULL,
	cooldown     INTEGER          NOT NULL,
	summary      JSONB            NOT NULL,
	created_at   TIMESTAMPTZ      NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS run_trades (
	run_id          UUID             NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	seq             INTEGER          NOT NULL,
	entry_time      TIMESTAMPTZ      NOT NULL,
	exit_time       TIMESTAMPTZ      NOT NULL,
	entry_price     DOUBLE PRECISION NOT NULL,
	exit_price      DOUBLE PRECISION NOT NULL,
	return_multiple DOUBLE PRECISION NOT NULL,
	PRIMARY KEY (run_id, seq)
);
`

// Run is one persisted backtest run.
type Run struct {
	ID        string          `db:"id"`
	Symbol    string          `db:"symbol"`
	Interval  string          `db:"interval"`
	Start     time.Time       `db:"range_start"`
	End       time.Time       `db:"range_end"`
	EntryRule json.RawMessage `db:"entry_rule"`
	ExitRule  json.RawMessage `db:"exit_rule"`
	Fee       float64         `db:"fee"`
	Slippage  float64         `db:"slippage"`
	Cooldown  int             `db:"cooldown"`
	Summary   perf.Summary    `db:"-"`
	CreatedAt time.Time       `db:"created_at"`
}

// Store wraps the database handle.
type Store struct {
	db      *sqlx.DB
	timeout time.Duration
}

// Open connects to Postgres and pings it.
func Open(dsn string) (*Store, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return New(db), nil
}

// New builds a store on an existing handle.
func New(db *sqlx.DB) *Store {
	return &Store{db: db, timeout: 10 * time.Second}
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// EnsureSchema creates the tables when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// SaveCandles upserts a frame; refetched ranges overwrite in place.
func (s *Store) SaveCandles(ctx context.Context, mkt, symbol, interval string, f *market.Frame) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save candles: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO candles (mkt, symbol, interval, ts, open, high, low, close, volume)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (mkt, symbol, interval, ts) DO UPDATE SET
			open = EXCLUDED.open, high = EXCLUDED.high, low = EXCLUDED.low,
			close = EXCLUDED.close, volume = EXCLUDED.volume`)
	if err != nil {
		return fmt.Errorf("save candles: %w", err)
	}
	defer stmt.Close()

	for i := range f.Times {
		if _, err := stmt.ExecContext(ctx, mkt, symbol, interval,
			f.Times[i], f.Open[i], f.High[i], f.Low[i], f.Close[i], f.Volume[i]); err != nil {
			return fmt.Errorf("save candles: %w", err)
		}
	}
	return tx.Commit()
}

// LoadCandles reads a stored range back into a frame.
func (s *Store) LoadCandles(ctx context.Context, mkt, symbol, interval string, start, end time.Time) (*market.Frame, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	rows, err := s.db.QueryxContext(ctx, `
		SELECT ts, open, high, low, close, volume FROM candles
		WHERE mkt = $1 AND symbol = $2 AND interval = $3 AND ts >= $4 AND ts < $5
		ORDER BY ts`, mkt, symbol, interval, start, end)
	if err != nil {
		return nil, fmt.Errorf("load candles: %w", err)
	}
	defer rows.Close()

	var candles []market.Candle
	for rows.Next() {
		var c market.Candle
		if err := rows.Scan(&c.Time, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, fmt.Errorf("load candles: %w", err)
		}
		candles = append(candles, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load candles: %w", err)
	}
	return market.NewFrame(candles), nil
}

// InsertRun stores a completed run and its trade log atomically.
func (s *Store) InsertRun(ctx context.Context, run Run, trades []sim.Trade) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	summary, err := json.Marshal(run.Summary)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	defer tx.Rollback()

	exitRule := []byte(run.ExitRule)
	var exitArg any
	if len(exitRule) > 0 {
		exitArg = exitRule
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO runs (id, symbol, interval, range_start, range_end,
			entry_rule, exit_rule, fee, slippage, cooldown, summary)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		run.ID, run.Symbol, run.Interval, run.Start, run.End,
		[]byte(run.EntryRule), exitArg, run.Fee, run.Slippage, run.Cooldown, summary); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	for i, tr := range trades {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO run_trades (run_id, seq, entry_time, exit_time, entry_price, exit_price, return_multiple)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			run.ID, i, tr.EntryTime, tr.ExitTime, tr.EntryPrice, tr.ExitPrice, tr.ReturnMultiple); err != nil {
			return fmt.Errorf("insert run trade %d: %w", i, err)
		}
	}
	return tx.Commit()
}

// GetRun loads one run by id.
func (s *Store) GetRun(ctx context.Context, id string) (Run, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var run Run
	var summary []byte
	err := s.db.QueryRowxContext(ctx, `
		SELECT id, symbol, interval, range_start, range_end,
			entry_rule, COALESCE(exit_rule, 'null'::jsonb), fee, slippage, cooldown, summary, created_at
		FROM runs WHERE id = $1`, id).
		Scan(&run.ID, &run.Symbol, &run.Interval, &run.Start, &run.End,
			&run.EntryRule, &run.ExitRule, &run.Fee, &run.Slippage, &run.Cooldown,
			&summary, &run.CreatedAt)
	if err == sql.ErrNoRows {
		return Run{}, fmt.Errorf("run %s not found", id)
	}
	if err != nil {
		return Run{}, fmt.Errorf("get run: %w", err)
	}
	if err := json.Unmarshal(summary, &run.Summary); err != nil {
		return Run{}, fmt.Errorf("get run: decode summary: %w", err)
	}
	return run, nil
}

// ListTrades returns a run's trade log in execution order.
func (s *Store) ListTrades(ctx context.Context, runID string) ([]sim.Trade, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	rows, err := s.db.QueryxContext(ctx, `
		SELECT entry_time, exit_time, entry_price, exit_price, return_multiple
		FROM run_trades WHERE run_id = $1 ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("list trades: %w", err)
	}
	defer rows.Close()

	var trades []sim.Trade
	for rows.Next() {
		var tr sim.Trade
		if err := rows.Scan(&tr.EntryTime, &tr.ExitTime, &tr.EntryPrice, &tr.ExitPrice, &tr.ReturnMultiple); err != nil {
			return nil, fmt.Errorf("list trades: %w", err)
		}
		trades = append(trades, tr)
	}
	return trades, rows.Err()
}
