package binance

import (
	"context"
	"fmt"
	"time"

	"github.com/derivlab/backlab/internal/market"
)

// SpotKlines fetches spot candles for [start, end), paginating 1000 bars at
// a time and resuming from the last bar's close time.
func (c *Client) SpotKlines(ctx context.Context, symbol, interval string, start, end time.Time) (*market.Frame, error) {
	if _, err := IntervalMS(interval); err != nil {
		return nil, err
	}
	var candles []market.Candle
	cur := start.UnixMilli()
	endMS := end.UnixMilli()

	for {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		page, err := c.spot.NewKlinesService().
			Symbol(symbol).
			Interval(interval).
			StartTime(cur).
			EndTime(endMS).
			Limit(1000).
			Do(ctx)
		if err != nil {
			return nil, fmt.Errorf("spot klines %s %s: %w", symbol, interval, err)
		}
		if len(page) == 0 {
			break
		}
		for _, k := range page {
			candles = append(candles, market.Candle{
				Time:   time.UnixMilli(k.OpenTime).UTC(),
				Open:   parseFloat(k.Open),
				High:   parseFloat(k.High),
				Low:    parseFloat(k.Low),
				Close:  parseFloat(k.Close),
				Volume: parseFloat(k.Volume),
			})
		}
		next := page[len(page)-1].CloseTime + 1
		if next <= cur || next > endMS {
			break
		}
		cur = next
	}

	c.log.Debug().Str("symbol", symbol).Str("interval", interval).
		Int("bars", len(candles)).Msg("Fetched spot klines")
	return market.NewFrame(candles), nil
}

// FuturesKlines fetches USDⓈ-M futures candles with the same pagination
// scheme as SpotKlines.
func (c *Client) FuturesKlines(ctx context.Context, symbol, interval string, start, end time.Time) (*market.Frame, error) {
	if _, err := IntervalMS(interval); err != nil {
		return nil, err
	}
	var candles []market.Candle
	cur := start.UnixMilli()
	endMS := end.UnixMilli()

	for {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		page, err := c.fut.NewKlinesService().
			Symbol(symbol).
			Interval(interval).
			StartTime(cur).
			EndTime(endMS).
			Limit(1000).
			Do(ctx)
		if err != nil {
			return nil, fmt.Errorf("futures klines %s %s: %w", symbol, interval, err)
		}
		if len(page) == 0 {
			break
		}
		for _, k := range page {
			candles = append(candles, market.Candle{
				Time:   time.UnixMilli(k.OpenTime).UTC(),
				Open:   parseFloat(k.Open),
				High:   parseFloat(k.High),
				Low:    parseFloat(k.Low),
				Close:  parseFloat(k.Close),
				Volume: parseFloat(k.Volume),
			})
		}
		next := page[len(page)-1].CloseTime + 1
		if next <= cur || next > endMS {
			break
		}
		cur = next
	}

	c.log.Debug().Str("symbol", symbol).Str("interval", interval).
		Int("bars", len(candles)).Msg("Fetched futures klines")
	return market.NewFrame(candles), nil
}

// FundingRates fetches 8h funding-rate history for [start, end), paginating
// on the last funding time.
func (c *Client) FundingRates(ctx context.Context, symbol string, start, end time.Time) (market.Series, error) {
	var out market.Series
	cur := start.UnixMilli()
	endMS := end.UnixMilli()
	const pageLimit = 1000

	for cur < endMS {
		if err := c.limiter.Wait(ctx); err != nil {
			return market.Series{}, err
		}
		page, err := c.fut.NewFundingRateService().
			Symbol(symbol).
			StartTime(cur).
			EndTime(endMS).
			Limit(pageLimit).
			Do(ctx)
		if err != nil {
			return market.Series{}, fmt.Errorf("funding rates %s: %w", symbol, err)
		}
		if len(page) == 0 {
			break
		}
		for _, fr := range page {
			out.Times = append(out.Times, time.UnixMilli(fr.FundingTime).UTC())
			out.Values = append(out.Values, parseFloat(fr.FundingRate))
		}
		cur = page[len(page)-1].FundingTime + 1
		if len(page) < pageLimit {
			break
		}
	}

	c.log.Debug().Str("symbol", symbol).Int("points", out.Len()).Msg("Fetched funding history")
	return dedupSeries(out), nil
}

// dedupSeries drops repeated timestamps, keeping the first occurrence. Pages
// can overlap at their boundaries.
func dedupSeries(s market.Series) market.Series {
	var out market.Series
	for i := range s.Times {
		if n := out.Len(); n > 0 && !s.Times[i].After(out.Times[n-1]) {
			continue
		}
		out.Times = append(out.Times, s.Times[i])
		out.Values = append(out.Values, s.Values[i])
	}
	return out
}
