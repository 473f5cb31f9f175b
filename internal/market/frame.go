package market

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// Candle is a single OHLCV bar keyed by its open time (UTC).
type Candle struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// Frame is a column-oriented OHLCV table. Times are strictly increasing and
// unique; gaps are allowed and never filled. A Frame is immutable once built.
type Frame struct {
	Times  []time.Time
	Open   []float64
	High   []float64
	Low    []float64
	Close  []float64
	Volume []float64
}

// NewFrame builds a Frame from candles, sorting by time and dropping
// duplicate timestamps (first occurrence wins), mirroring how raw exchange
// pages are normalized before use.
func NewFrame(candles []Candle) *Frame {
	cs := make([]Candle, len(candles))
	copy(cs, candles)
	sort.SliceStable(cs, func(i, j int) bool { return cs[i].Time.Before(cs[j].Time) })

	f := &Frame{}
	for _, c := range cs {
		if n := len(f.Times); n > 0 && !c.Time.After(f.Times[n-1]) {
			continue
		}
		f.Times = append(f.Times, c.Time.UTC())
		f.Open = append(f.Open, c.Open)
		f.High = append(f.High, c.High)
		f.Low = append(f.Low, c.Low)
		f.Close = append(f.Close, c.Close)
		f.Volume = append(f.Volume, c.Volume)
	}
	return f
}

// Len returns the number of bars.
func (f *Frame) Len() int { return len(f.Times) }

// Candles returns the row-oriented view, for serialization and export.
func (f *Frame) Candles() []Candle {
	out := make([]Candle, f.Len())
	for i := range f.Times {
		out[i] = Candle{
			Time:   f.Times[i],
			Open:   f.Open[i],
			High:   f.High[i],
			Low:    f.Low[i],
			Close:  f.Close[i],
			Volume: f.Volume[i],
		}
	}
	return out
}

// Column returns the named price/volume column, or false when the name is not
// a raw OHLCV column.
func (f *Frame) Column(name string) ([]float64, bool) {
	switch name {
	case "open":
		return f.Open, true
	case "high":
		return f.High, true
	case "low":
		return f.Low, true
	case "close":
		return f.Close, true
	case "volume":
		return f.Volume, true
	}
	return nil, false
}

// Validate checks the frame invariants: at least one bar, strictly increasing
// unique timestamps, and finite OHLC values.
func (f *Frame) Validate() error {
	if f.Len() == 0 {
		return fmt.Errorf("frame is empty")
	}
	for i := 1; i < f.Len(); i++ {
		if !f.Times[i].After(f.Times[i-1]) {
			return fmt.Errorf("frame times not strictly increasing at index %d (%s >= %s)",
				i, f.Times[i-1].Format(time.RFC3339), f.Times[i].Format(time.RFC3339))
		}
	}
	for i := range f.Times {
		for _, v := range [4]float64{f.Open[i], f.High[i], f.Low[i], f.Close[i]} {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("non-finite OHLC value at index %d (%s)",
					i, f.Times[i].Format(time.RFC3339))
			}
		}
	}
	return nil
}
