package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/derivlab/backlab/internal/binance"
	"github.com/derivlab/backlab/internal/cache"
	"github.com/derivlab/backlab/internal/correl"
	"github.com/derivlab/backlab/internal/export"
	"github.com/derivlab/backlab/internal/market"
	"github.com/derivlab/backlab/internal/perf"
	"github.com/derivlab/backlab/internal/rule"
	"github.com/derivlab/backlab/internal/sim"
	"github.com/derivlab/backlab/internal/store"
)

const millisPerYear = 365 * 24 * 60 * 60 * 1000

// parseTime accepts RFC 3339 or unix milliseconds.
func parseTime(v string) (time.Time, error) {
	if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q, want RFC 3339 or unix milliseconds", v)
	}
	return t.UTC(), nil
}

// rangeParams extracts symbol/interval/start/end. End defaults to now,
// start to 30 days before end.
func rangeParams(r *http.Request) (symbol, interval string, start, end time.Time, err error) {
	q := r.URL.Query()
	symbol = q.Get("symbol")
	if symbol == "" {
		return "", "", time.Time{}, time.Time{}, errors.New("symbol is required")
	}
	interval = q.Get("interval")
	if interval == "" {
		interval = "1h"
	}
	if _, err = binance.IntervalMS(interval); err != nil {
		return "", "", time.Time{}, time.Time{}, err
	}
	end = time.Now().UTC()
	if v := q.Get("end"); v != "" {
		if end, err = parseTime(v); err != nil {
			return "", "", time.Time{}, time.Time{}, err
		}
	}
	start = end.AddDate(0, 0, -30)
	if v := q.Get("start"); v != "" {
		if start, err = parseTime(v); err != nil {
			return "", "", time.Time{}, time.Time{}, err
		}
	}
	if !start.Before(end) {
		return "", "", time.Time{}, time.Time{}, errors.New("start must be before end")
	}
	return symbol, interval, start, end, nil
}

func (s *Server) handleCandles(w http.ResponseWriter, r *http.Request) {
	symbol, interval, start, end, err := rangeParams(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	mkt := r.URL.Query().Get("market")
	if mkt == "" {
		mkt = "futures"
	}
	if mkt != "futures" && mkt != "spot" {
		s.writeError(w, http.StatusBadRequest, "market must be futures or spot")
		return
	}

	f, err := s.loadFrame(r.Context(), mkt, symbol, interval, start, end)
	if err != nil {
		s.log.Error().Err(err).Str("symbol", symbol).Msg("load candles")
		s.writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"symbol":   symbol,
		"interval": interval,
		"market":   mkt,
		"candles":  f.Candles(),
	})
}

// backtestRequest is the POST /v1/backtest body. Cost parameters default
// to the server configuration when omitted.
type backtestRequest struct {
	Symbol   string          `json:"symbol"`
	Interval string          `json:"interval"`
	Start    string          `json:"start"`
	End      string          `json:"end"`
	Entry    json.RawMessage `json:"entry"`
	Exit     json.RawMessage `json:"exit,omitempty"`
	Fee      *float64        `json:"fee,omitempty"`
	Slippage *float64        `json:"slippage,omitempty"`
	Cooldown *int            `json:"cooldown,omitempty"`
}

type backtestResponse struct {
	ID      string        `json:"id"`
	Summary perf.Summary  `json:"summary"`
	Trades  []sim.Trade   `json:"trades"`
	Equity  []float64     `json:"equity"`
	Open    *sim.Position `json:"open,omitempty"`
}

func (s *Server) handleBacktest(w http.ResponseWriter, r *http.Request) {
	var req backtestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Symbol == "" || len(req.Entry) == 0 {
		s.writeError(w, http.StatusBadRequest, "symbol and entry rule are required")
		return
	}
	if req.Interval == "" {
		req.Interval = "1h"
	}
	intervalMS, err := binance.IntervalMS(req.Interval)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	end := time.Now().UTC()
	if req.End != "" {
		if end, err = parseTime(req.End); err != nil {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	start := end.AddDate(0, 0, -30)
	if req.Start != "" {
		if start, err = parseTime(req.Start); err != nil {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	cfg := sim.Config{
		Fee:      s.defaults.Fee,
		Slippage: s.defaults.Slippage,
		Cooldown: s.defaults.Cooldown,
	}
	if req.Fee != nil {
		cfg.Fee = *req.Fee
	}
	if req.Slippage != nil {
		cfg.Slippage = *req.Slippage
	}
	if req.Cooldown != nil {
		cfg.Cooldown = *req.Cooldown
	}

	f, err := s.loadFrame(r.Context(), "futures", req.Symbol, req.Interval, start, end)
	if err != nil {
		s.log.Error().Err(err).Str("symbol", req.Symbol).Msg("load candles")
		s.writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	entry, err := rule.EvaluateJSON(req.Entry, f, s.reg)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "entry rule: "+err.Error())
		return
	}
	var exit rule.Signal
	if len(req.Exit) > 0 {
		if exit, err = rule.EvaluateJSON(req.Exit, f, s.reg); err != nil {
			s.writeError(w, http.StatusBadRequest, "exit rule: "+err.Error())
			return
		}
	}

	res, err := sim.Run(f, entry, exit, cfg)
	if err != nil {
		s.writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	summary := perf.Summarize(res.Equity, res.Returns, int(millisPerYear/intervalMS))
	s.metrics.BacktestRuns.Inc()

	id := uuid.NewString()
	if s.runs != nil {
		run := store.Run{
			ID:        id,
			Symbol:    req.Symbol,
			Interval:  req.Interval,
			Start:     start,
			End:       end,
			EntryRule: req.Entry,
			ExitRule:  req.Exit,
			Fee:       cfg.Fee,
			Slippage:  cfg.Slippage,
			Cooldown:  cfg.Cooldown,
			Summary:   summary,
		}
		if err := s.runs.InsertRun(r.Context(), run, res.Trades); err != nil {
			s.log.Error().Err(err).Str("run_id", id).Msg("persist run")
		}
	}

	s.log.Info().
		Str("run_id", id).
		Str("symbol", req.Symbol).
		Int("trades", len(res.Trades)).
		Float64("total_return", summary.TotalReturn).
		Msg("backtest complete")

	s.writeJSON(w, http.StatusOK, backtestResponse{
		ID:      id,
		Summary: summary,
		Trades:  res.Trades,
		Equity:  res.Equity,
		Open:    res.Open,
	})
}

func (s *Server) handleCorrelation(w http.ResponseWriter, r *http.Request) {
	symbol, interval, start, end, err := rangeParams(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	q := r.URL.Query()
	metric := q.Get("metric")
	if metric == "" {
		metric = "funding"
	}
	minLag, maxLag := -48, 48
	if v := q.Get("min_lag"); v != "" {
		if minLag, err = strconv.Atoi(v); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid min_lag")
			return
		}
	}
	if v := q.Get("max_lag"); v != "" {
		if maxLag, err = strconv.Atoi(v); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid max_lag")
			return
		}
	}
	if minLag > maxLag {
		s.writeError(w, http.StatusBadRequest, "min_lag must be <= max_lag")
		return
	}
	returnPeriod := 1
	if v := q.Get("return_period"); v != "" {
		if returnPeriod, err = strconv.Atoi(v); err != nil || returnPeriod < 1 {
			s.writeError(w, http.StatusBadRequest, "invalid return_period")
			return
		}
	}

	ctx := r.Context()
	feature, err := s.loadFeature(ctx, metric, symbol, interval, start, end)
	if err != nil {
		if errors.Is(err, errUnknownMetric) {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.log.Error().Err(err).Str("metric", metric).Msg("load feature")
		s.writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	f, err := s.loadFrame(ctx, "futures", symbol, interval, start, end)
	if err != nil {
		s.writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	points := correl.FeatureReturnLagCorr(f, feature, returnPeriod, minLag, maxLag)
	s.writeJSON(w, http.StatusOK, map[string]any{
		"symbol":        symbol,
		"interval":      interval,
		"metric":        metric,
		"return_period": returnPeriod,
		"points":        points,
	})
}

var errUnknownMetric = errors.New("unknown metric, want funding, open_interest, top_accounts, top_positions or taker")

// loadFeature resolves a derivative metric to its time series, through the
// cache when one is configured.
func (s *Server) loadFeature(ctx context.Context, metric, symbol, interval string, start, end time.Time) (market.Series, error) {
	key := cache.SeriesKey(metric, symbol, interval, start, end)
	if s.cache != nil {
		if ser, ok := s.cache.GetSeries(ctx, key); ok {
			return ser, nil
		}
	}

	var (
		ser market.Series
		err error
	)
	switch metric {
	case "funding":
		ser, err = s.fetch.FundingRates(ctx, symbol, start, end)
	case "open_interest":
		ser, err = s.fetch.OpenInterestHistory(ctx, symbol, interval, start, end)
	case "top_accounts":
		ser, err = s.fetch.TopLongShortRatio(ctx, symbol, interval, start, end, binance.LongShortAccounts)
	case "top_positions":
		ser, err = s.fetch.TopLongShortRatio(ctx, symbol, interval, start, end, binance.LongShortPositions)
	case "taker":
		var tv binance.TakerVolume
		if tv, err = s.fetch.TakerBuySellRatio(ctx, symbol, interval, start, end); err == nil {
			ser = tv.Ratio
		}
	default:
		return market.Series{}, errUnknownMetric
	}
	if err != nil {
		s.metrics.FetchErrors.WithLabelValues(metric).Inc()
		return market.Series{}, err
	}
	if s.cache != nil {
		s.cache.SetSeries(ctx, key, ser)
	}
	return ser, nil
}

func (s *Server) handleTradesCSV(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		s.writeError(w, http.StatusServiceUnavailable, "run persistence is not configured")
		return
	}
	id := mux.Vars(r)["id"]
	if _, err := uuid.Parse(id); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid run id")
		return
	}
	if _, err := s.runs.GetRun(r.Context(), id); err != nil {
		s.writeError(w, http.StatusNotFound, "run not found")
		return
	}
	trades, err := s.runs.ListTrades(r.Context(), id)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", id+"-trades.csv"))
	if err := export.WriteTrades(w, trades); err != nil {
		s.log.Error().Err(err).Str("run_id", id).Msg("write trades csv")
	}
}
