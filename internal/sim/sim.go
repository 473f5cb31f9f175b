// Package sim runs the single-position, long-only trade simulation over an
// OHLCV frame and a pair of boolean signal series.
//
// Signals are shifted forward one bar before they are consulted: a signal
// computed through bar t fills at bar t+1's open. Entries pay
// open*(1+fee+slippage), exits receive open*(1-fee-slippage), so the two legs
// compound against the trade return. After an exit, re-entry is blocked for
// the configured number of cooldown bars.
package sim

import (
	"fmt"
	"time"

	"github.com/derivlab/backlab/internal/market"
)

// Config holds the execution-cost and re-entry parameters of one run.
type Config struct {
	Fee      float64 `json:"fee"`       // one-way fee ratio, [0,1)
	Slippage float64 `json:"slippage"`  // one-way slippage ratio, [0,1)
	Cooldown int     `json:"cooldown"`  // bars to block re-entry after an exit
}

func (c Config) validate() error {
	if c.Fee < 0 || c.Fee >= 1 {
		return fmt.Errorf("fee must be in [0,1), got %v", c.Fee)
	}
	if c.Slippage < 0 || c.Slippage >= 1 {
		return fmt.Errorf("slippage must be in [0,1), got %v", c.Slippage)
	}
	if c.Cooldown < 0 {
		return fmt.Errorf("cooldown must be >= 0, got %d", c.Cooldown)
	}
	return nil
}

// Trade is one closed position. Field names and order are stable for CSV
// export.
type Trade struct {
	EntryTime      time.Time `json:"entry_time"`
	ExitTime       time.Time `json:"exit_time"`
	EntryPrice     float64   `json:"entry_price"`
	ExitPrice      float64   `json:"exit_price"`
	ReturnMultiple float64   `json:"return_multiple"`
}

// Position is a long position that was still open at the last bar. It is
// excluded from trade statistics.
type Position struct {
	EntryTime  time.Time `json:"entry_time"`
	EntryPrice float64   `json:"entry_price"`
}

// Result carries the outputs of one simulation pass.
type Result struct {
	// Equity has one end-of-bar multiplier per input bar, the cumulative
	// product of realized trade returns.
	Equity []float64 `json:"equity"`
	// Trades lists closed positions in order.
	Trades []Trade `json:"trades"`
	// Returns has one entry per closed trade, each ReturnMultiple-1.
	Returns []float64 `json:"returns"`
	// Open is the position left open at the final bar, if any.
	Open *Position `json:"open,omitempty"`
}

// Run simulates entry/exit signals against the frame. A nil exit series
// makes an entry re-trigger act as the exit; a non-nil exit series is the
// sole exit trigger. Signal lengths must match the frame exactly.
func Run(f *market.Frame, entry, exit []bool, cfg Config) (*Result, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("simulate: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("simulate: %w", err)
	}
	n := f.Len()
	if len(entry) != n {
		return nil, fmt.Errorf("simulate: entry signal length %d != %d bars", len(entry), n)
	}
	if exit != nil && len(exit) != n {
		return nil, fmt.Errorf("simulate: exit signal length %d != %d bars", len(exit), n)
	}

	res := &Result{Equity: make([]float64, n)}
	equity := 1.0
	cool := 0
	var open *Position

	for i := 0; i < n; i++ {
		// Shift-by-one: only the previous bar's signal may act here. Bar 0
		// has no prior signal.
		entrySig := i > 0 && entry[i-1]
		exitSig := false
		if exit != nil {
			exitSig = i > 0 && exit[i-1]
		} else {
			exitSig = entrySig
		}
		price := f.Open[i]

		if open == nil {
			if cool > 0 {
				// Counting down blocks entry for this whole bar.
				cool--
			} else if entrySig {
				open = &Position{
					EntryTime:  f.Times[i],
					EntryPrice: price * (1 + cfg.Fee + cfg.Slippage),
				}
			}
		} else if exitSig {
			exitPrice := price * (1 - cfg.Fee - cfg.Slippage)
			ret := exitPrice / open.EntryPrice
			equity *= ret
			res.Trades = append(res.Trades, Trade{
				EntryTime:      open.EntryTime,
				ExitTime:       f.Times[i],
				EntryPrice:     open.EntryPrice,
				ExitPrice:      exitPrice,
				ReturnMultiple: ret,
			})
			res.Returns = append(res.Returns, ret-1.0)
			open = nil
			cool = cfg.Cooldown
		}

		res.Equity[i] = equity
	}

	// A position reaching the end of data stays open rather than being
	// force-closed; callers decide how to display it.
	res.Open = open
	return res, nil
}
