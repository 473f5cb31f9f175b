// Package httpapi serves the REST surface: candle retrieval, backtest
// execution, lag correlation, and run artifacts.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/derivlab/backlab/internal/binance"
	"github.com/derivlab/backlab/internal/cache"
	"github.com/derivlab/backlab/internal/config"
	"github.com/derivlab/backlab/internal/indicator"
	"github.com/derivlab/backlab/internal/market"
	"github.com/derivlab/backlab/internal/sim"
	"github.com/derivlab/backlab/internal/store"
)

// Fetcher is the upstream market-data dependency. *binance.Client
// satisfies it; tests substitute a stub.
type Fetcher interface {
	SpotKlines(ctx context.Context, symbol, interval string, start, end time.Time) (*market.Frame, error)
	FuturesKlines(ctx context.Context, symbol, interval string, start, end time.Time) (*market.Frame, error)
	FundingRates(ctx context.Context, symbol string, start, end time.Time) (market.Series, error)
	OpenInterestHistory(ctx context.Context, symbol, interval string, start, end time.Time) (market.Series, error)
	TopLongShortRatio(ctx context.Context, symbol, interval string, start, end time.Time, metric binance.LongShortMetric) (market.Series, error)
	TakerBuySellRatio(ctx context.Context, symbol, interval string, start, end time.Time) (binance.TakerVolume, error)
}

// RunStore persists backtest runs. *store.Store satisfies it.
type RunStore interface {
	InsertRun(ctx context.Context, run store.Run, trades []sim.Trade) error
	GetRun(ctx context.Context, id string) (store.Run, error)
	ListTrades(ctx context.Context, runID string) ([]sim.Trade, error)
}

// Server wires the handlers to their dependencies. Cache and store are
// optional; a nil cache disables caching and a nil store disables run
// persistence and artifact downloads.
type Server struct {
	fetch    Fetcher
	cache    cache.Store
	runs     RunStore
	reg      *indicator.Registry
	defaults config.BacktestConfig
	metrics  *Metrics
	log      zerolog.Logger
	router   *mux.Router
}

// New builds a server and mounts its routes.
func New(fetch Fetcher, c cache.Store, runs RunStore, defaults config.BacktestConfig, metrics *Metrics, log zerolog.Logger) *Server {
	if metrics == nil {
		metrics = NewMetrics()
	}
	s := &Server{
		fetch:    fetch,
		cache:    c,
		runs:     runs,
		reg:      indicator.NewRegistry(),
		defaults: defaults,
		metrics:  metrics,
		log:      log.With().Str("component", "httpapi").Logger(),
		router:   mux.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.handle("/healthz", http.HandlerFunc(s.handleHealth)).Methods(http.MethodGet)
	s.router.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)

	v1 := s.router.PathPrefix("/v1").Subrouter()
	v1.Handle("/candles", s.metrics.instrument("/v1/candles", http.HandlerFunc(s.handleCandles))).Methods(http.MethodGet)
	v1.Handle("/backtest", s.metrics.instrument("/v1/backtest", http.HandlerFunc(s.handleBacktest))).Methods(http.MethodPost)
	v1.Handle("/correlation", s.metrics.instrument("/v1/correlation", http.HandlerFunc(s.handleCorrelation))).Methods(http.MethodGet)
	v1.Handle("/backtest/{id}/trades.csv", s.metrics.instrument("/v1/backtest/{id}/trades.csv", http.HandlerFunc(s.handleTradesCSV))).Methods(http.MethodGet)
}

func (s *Server) handle(path string, h http.Handler) *mux.Route {
	return s.router.Handle(path, s.metrics.instrument(path, h))
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type apiError struct {
	Error string `json:"error"`
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error().Err(err).Msg("encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, code int, msg string) {
	s.writeJSON(w, code, apiError{Error: msg})
}

// loadFrame fetches candles through the cache when one is configured.
func (s *Server) loadFrame(ctx context.Context, mkt, symbol, interval string, start, end time.Time) (*market.Frame, error) {
	key := cache.FrameKey(mkt, symbol, interval, start, end)
	if s.cache != nil {
		if f, ok := s.cache.GetFrame(ctx, key); ok {
			return f, nil
		}
	}
	var (
		f   *market.Frame
		err error
	)
	if mkt == "spot" {
		f, err = s.fetch.SpotKlines(ctx, symbol, interval, start, end)
	} else {
		f, err = s.fetch.FuturesKlines(ctx, symbol, interval, start, end)
	}
	if err != nil {
		s.metrics.FetchErrors.WithLabelValues("klines").Inc()
		return nil, err
	}
	if s.cache != nil {
		s.cache.SetFrame(ctx, key, f)
	}
	return f, nil
}
