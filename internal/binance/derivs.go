package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/derivlab/backlab/internal/market"
)

// histWindowDays is the hard history horizon of the futures sentiment
// endpoints; Binance discards anything older than 30 days.
const histWindowDays = 30

// sentimentPageLimit is the per-request bucket cap on /futures/data routes.
const sentimentPageLimit = 500

// LongShortMetric selects which top-trader ratio series to fetch.
type LongShortMetric string

const (
	LongShortAccounts  LongShortMetric = "accounts"
	LongShortPositions LongShortMetric = "positions"
)

// TakerVolume bundles the three columns of the taker buy/sell endpoint.
type TakerVolume struct {
	Ratio   market.Series `json:"ratio"`
	BuyVol  market.Series `json:"buy_vol"`
	SellVol market.Series `json:"sell_vol"`
}

type oiRow struct {
	SumOpenInterest string `json:"sumOpenInterest"`
	OpenInterest    string `json:"openInterest"`
	Timestamp       int64  `json:"timestamp"`
}

type lsRow struct {
	LongShortRatio string `json:"longShortRatio"`
	Timestamp      int64  `json:"timestamp"`
}

type takerRow struct {
	BuySellRatio string `json:"buySellRatio"`
	BuyVol       string `json:"buyVol"`
	SellVol      string `json:"sellVol"`
	Timestamp    int64  `json:"timestamp"`
}

// OpenInterestHistory fetches the open-interest statistics series, clamped
// to the endpoint's 30-day horizon.
func (c *Client) OpenInterestHistory(ctx context.Context, symbol, interval string, start, end time.Time) (market.Series, error) {
	var rows []oiRow
	if err := c.sentimentWindows(ctx, "/futures/data/openInterestHist", symbol, interval, start, end, &rows); err != nil {
		return market.Series{}, err
	}
	var out market.Series
	for _, r := range rows {
		v := r.SumOpenInterest
		if v == "" {
			v = r.OpenInterest
		}
		out.Times = append(out.Times, time.UnixMilli(r.Timestamp).UTC())
		out.Values = append(out.Values, parseFloat(v))
	}
	return dedupSeries(out), nil
}

// TopLongShortRatio fetches the top-trader long/short ratio by accounts or
// by positions.
func (c *Client) TopLongShortRatio(ctx context.Context, symbol, interval string, start, end time.Time, metric LongShortMetric) (market.Series, error) {
	var path string
	switch metric {
	case LongShortAccounts:
		path = "/futures/data/topLongShortAccountRatio"
	case LongShortPositions:
		path = "/futures/data/topLongShortPositionRatio"
	default:
		return market.Series{}, fmt.Errorf("long/short metric must be accounts or positions, got %q", metric)
	}
	var rows []lsRow
	if err := c.sentimentWindows(ctx, path, symbol, interval, start, end, &rows); err != nil {
		return market.Series{}, err
	}
	var out market.Series
	for _, r := range rows {
		out.Times = append(out.Times, time.UnixMilli(r.Timestamp).UTC())
		out.Values = append(out.Values, parseFloat(r.LongShortRatio))
	}
	return dedupSeries(out), nil
}

// TakerBuySellRatio fetches taker buy/sell volume and their ratio.
func (c *Client) TakerBuySellRatio(ctx context.Context, symbol, interval string, start, end time.Time) (TakerVolume, error) {
	var rows []takerRow
	if err := c.sentimentWindows(ctx, "/futures/data/takerlongshortRatio", symbol, interval, start, end, &rows); err != nil {
		return TakerVolume{}, err
	}
	var tv TakerVolume
	for _, r := range rows {
		ts := time.UnixMilli(r.Timestamp).UTC()
		tv.Ratio.Times = append(tv.Ratio.Times, ts)
		tv.Ratio.Values = append(tv.Ratio.Values, parseFloat(r.BuySellRatio))
		tv.BuyVol.Times = append(tv.BuyVol.Times, ts)
		tv.BuyVol.Values = append(tv.BuyVol.Values, parseFloat(r.BuyVol))
		tv.SellVol.Times = append(tv.SellVol.Times, ts)
		tv.SellVol.Values = append(tv.SellVol.Values, parseFloat(r.SellVol))
	}
	tv.Ratio = dedupSeries(tv.Ratio)
	tv.BuyVol = dedupSeries(tv.BuyVol)
	tv.SellVol = dedupSeries(tv.SellVol)
	return tv, nil
}

// OpenInterestSnapshot returns the current open interest for a symbol.
func (c *Client) OpenInterestSnapshot(ctx context.Context, symbol string) (float64, error) {
	var row struct {
		OpenInterest string `json:"openInterest"`
	}
	q := url.Values{"symbol": {symbol}}
	if err := c.getJSON(ctx, "/fapi/v1/openInterest", q, &row); err != nil {
		return 0, err
	}
	return strconv.ParseFloat(row.OpenInterest, 64)
}

// FundingLive returns the latest funding rate and next funding time from the
// premium index.
func (c *Client) FundingLive(ctx context.Context, symbol string) (rate float64, next time.Time, err error) {
	if err = c.limiter.Wait(ctx); err != nil {
		return 0, time.Time{}, err
	}
	idx, err := c.fut.NewPremiumIndexService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("premium index %s: %w", symbol, err)
	}
	if len(idx) == 0 {
		return 0, time.Time{}, fmt.Errorf("premium index %s: empty response", symbol)
	}
	return parseFloat(idx[0].LastFundingRate), time.UnixMilli(idx[0].NextFundingTime).UTC(), nil
}

// clamp30d pins the effective start inside the sentiment endpoints' history
// horizon, with an hour of slack under the hard cutoff.
func clamp30d(start, end time.Time) time.Time {
	limit := end.Add(-(histWindowDays*24 - 1) * time.Hour)
	if start.Before(limit) {
		return limit
	}
	return start
}

// sentimentWindows pages a /futures/data endpoint in fixed 500-bucket
// windows, decoding each page into rows (a pointer to a slice).
func (c *Client) sentimentWindows(ctx context.Context, path, symbol, interval string, start, end time.Time, rows any) error {
	ms, err := IntervalMS(interval)
	if err != nil {
		return err
	}
	start = clamp30d(start, end)
	step := ms * sentimentPageLimit
	cur := start.UnixMilli()
	endMS := end.UnixMilli()

	// rows stays a typed slice pointer; pages are decoded separately and
	// merged via JSON to keep this generic over row types.
	var raw []json.RawMessage
	for cur <= endMS {
		wndEnd := cur + step - 1
		if wndEnd > endMS {
			wndEnd = endMS
		}
		q := url.Values{
			"symbol":    {symbol},
			"period":    {interval},
			"startTime": {strconv.FormatInt(cur, 10)},
			"endTime":   {strconv.FormatInt(wndEnd, 10)},
			"limit":     {strconv.Itoa(sentimentPageLimit)},
		}
		var page []json.RawMessage
		if err := c.getJSON(ctx, path, q, &page); err != nil {
			return err
		}
		raw = append(raw, page...)
		cur = wndEnd + 1
	}

	merged, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("merge %s pages: %w", path, err)
	}
	return json.Unmarshal(merged, rows)
}

// getJSON performs one rate-limited, circuit-broken GET against the futures
// base URL and decodes the JSON body. A 429 is retried once after a short
// pause before counting as a failure.
func (c *Client) getJSON(ctx context.Context, path string, q url.Values, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	_, err := c.breaker.Execute(func() (any, error) {
		body, err := c.doGet(ctx, path, q)
		if err != nil {
			return nil, err
		}
		return nil, json.Unmarshal(body, out)
	})
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	return nil
}

func (c *Client) doGet(ctx context.Context, path string, q url.Values) ([]byte, error) {
	u := c.futBase + path + "?" + q.Encode()
	for attempt := 0; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, err
		}
		if resp.StatusCode == http.StatusTooManyRequests && attempt == 0 {
			c.log.Warn().Str("path", path).Msg("Rate limited, backing off")
			select {
			case <-time.After(200 * time.Millisecond):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			continue
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("status %d: %s", resp.StatusCode, string(body))
		}
		return body, nil
	}
}
