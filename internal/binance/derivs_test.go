package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	cfg := DefaultConfig()
	cfg.FuturesBaseURL = srv.URL
	cfg.RequestsPerSecond = 10_000 // no throttling in tests
	cfg.Burst = 10_000
	return NewClient(cfg)
}

func TestIntervalMS(t *testing.T) {
	ms, err := IntervalMS("1h")
	require.NoError(t, err)
	assert.Equal(t, int64(3_600_000), ms)

	_, err = IntervalMS("3m")
	require.Error(t, err)
}

func TestClamp30d(t *testing.T) {
	end := time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC)

	recent := end.Add(-24 * time.Hour)
	assert.Equal(t, recent, clamp30d(recent, end))

	ancient := end.Add(-90 * 24 * time.Hour)
	clamped := clamp30d(ancient, end)
	assert.True(t, clamped.After(end.Add(-30*24*time.Hour)))
	assert.True(t, clamped.Before(end))
}

func TestOpenInterestHistory_PagesWindows(t *testing.T) {
	var calls []string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/futures/data/openInterestHist", r.URL.Path)
		require.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
		require.Equal(t, "500", r.URL.Query().Get("limit"))
		calls = append(calls, r.URL.Query().Get("startTime"))

		start, _ := strconv.ParseInt(r.URL.Query().Get("startTime"), 10, 64)
		rows := []map[string]any{
			{"sumOpenInterest": "123.5", "timestamp": start},
			{"sumOpenInterest": "124.5", "timestamp": start + 3_600_000},
		}
		json.NewEncoder(w).Encode(rows)
	})
	c := testClient(t, handler)

	end := time.Now().UTC().Truncate(time.Hour)
	start := end.Add(-1000 * time.Hour) // 2 windows of 500 1h buckets
	s, err := c.OpenInterestHistory(context.Background(), "BTCUSDT", "1h", start, end)
	require.NoError(t, err)

	// 1000 hours exceeds the 30-day clamp (719h), so the effective window is
	// clamped but still needs two 500-bucket pages.
	assert.Len(t, calls, 2)
	require.GreaterOrEqual(t, s.Len(), 3)
	assert.InDelta(t, 123.5, s.Values[0], 1e-12)
	for i := 1; i < s.Len(); i++ {
		assert.True(t, s.Times[i].After(s.Times[i-1]), "series must stay strictly ordered")
	}
}

func TestTopLongShortRatio_MetricRouting(t *testing.T) {
	var gotPath string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		json.NewEncoder(w).Encode([]map[string]any{
			{"longShortRatio": "1.85", "timestamp": time.Now().UnixMilli()},
		})
	})
	c := testClient(t, handler)
	ctx := context.Background()
	end := time.Now().UTC()
	start := end.Add(-2 * time.Hour)

	s, err := c.TopLongShortRatio(ctx, "ETHUSDT", "1h", start, end, LongShortAccounts)
	require.NoError(t, err)
	assert.Equal(t, "/futures/data/topLongShortAccountRatio", gotPath)
	require.Equal(t, 1, s.Len())
	assert.InDelta(t, 1.85, s.Values[0], 1e-12)

	_, err = c.TopLongShortRatio(ctx, "ETHUSDT", "1h", start, end, LongShortPositions)
	require.NoError(t, err)
	assert.Equal(t, "/futures/data/topLongShortPositionRatio", gotPath)

	_, err = c.TopLongShortRatio(ctx, "ETHUSDT", "1h", start, end, "whales")
	require.Error(t, err)
}

func TestTakerBuySellRatio_AllColumns(t *testing.T) {
	ts := time.Now().UnixMilli()
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]map[string]any{
			{"buySellRatio": "1.2", "buyVol": "600", "sellVol": "500", "timestamp": ts},
		})
	})
	c := testClient(t, handler)

	end := time.Now().UTC()
	tv, err := c.TakerBuySellRatio(context.Background(), "BTCUSDT", "1h", end.Add(-time.Hour), end)
	require.NoError(t, err)
	require.Equal(t, 1, tv.Ratio.Len())
	assert.InDelta(t, 1.2, tv.Ratio.Values[0], 1e-12)
	assert.InDelta(t, 600, tv.BuyVol.Values[0], 1e-12)
	assert.InDelta(t, 500, tv.SellVol.Values[0], 1e-12)
}

func TestGetJSON_RetriesOn429Once(t *testing.T) {
	attempts := 0
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		json.NewEncoder(w).Encode([]map[string]any{})
	})
	c := testClient(t, handler)

	end := time.Now().UTC()
	_, err := c.OpenInterestHistory(context.Background(), "BTCUSDT", "1h", end.Add(-time.Hour), end)
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
}

func TestGetJSON_SurfacesHTTPErrors(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"code":-1121,"msg":"Invalid symbol."}`, http.StatusBadRequest)
	})
	c := testClient(t, handler)

	end := time.Now().UTC()
	_, err := c.OpenInterestHistory(context.Background(), "NOPEUSDT", "1h", end.Add(-time.Hour), end)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 400")
}

func TestOpenInterestSnapshot(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/fapi/v1/openInterest", r.URL.Path)
		fmt.Fprintln(w, `{"openInterest":"10659.509","symbol":"BTCUSDT","time":1589437530011}`)
	})
	c := testClient(t, handler)

	oi, err := c.OpenInterestSnapshot(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.InDelta(t, 10659.509, oi, 1e-9)
}
