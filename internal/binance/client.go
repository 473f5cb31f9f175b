// Package binance fetches OHLCV candles and derivative metrics from the
// Binance spot and USDⓈ-M futures APIs.
//
// Klines and funding-rate history go through the official client; the
// futures sentiment endpoints (open interest, long/short ratios, taker
// volume) are plain REST because the history API caps them at 30 days and
// 500 buckets per request, so they are fetched in clamped windows. All
// outbound calls share one rate limiter and circuit breaker.
package binance

import (
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	gobinance "github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

const defaultFuturesBase = "https://fapi.binance.com"

// intervalMS maps supported intervals to their bar width in milliseconds.
var intervalMS = map[string]int64{
	"5m":  5 * 60_000,
	"15m": 15 * 60_000,
	"30m": 30 * 60_000,
	"1h":  60 * 60_000,
	"2h":  2 * 60 * 60_000,
	"4h":  4 * 60 * 60_000,
	"6h":  6 * 60 * 60_000,
	"12h": 12 * 60 * 60_000,
	"1d":  24 * 60 * 60_000,
}

// IntervalMS returns the bar width for a supported interval.
func IntervalMS(interval string) (int64, error) {
	ms, ok := intervalMS[interval]
	if !ok {
		return 0, fmt.Errorf("unsupported interval: %q", interval)
	}
	return ms, nil
}

// Config controls endpoints and client-side throttling.
type Config struct {
	FuturesBaseURL    string  `yaml:"futures_base_url"`
	TimeoutSecs       int     `yaml:"timeout_secs"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// Timeout returns the HTTP timeout as a time.Duration.
func (c Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// DefaultConfig matches Binance's public-endpoint weight limits with some
// headroom.
func DefaultConfig() Config {
	return Config{
		FuturesBaseURL:    defaultFuturesBase,
		TimeoutSecs:       20,
		RequestsPerSecond: 15,
		Burst:             5,
	}
}

// Client is a rate-limited, circuit-broken Binance market-data client. Safe
// for concurrent use.
type Client struct {
	spot    *gobinance.Client
	fut     *futures.Client
	http    *http.Client
	futBase string
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	log     zerolog.Logger
}

// NewClient builds a client for public market data; no API keys are needed.
func NewClient(cfg Config) *Client {
	if cfg.FuturesBaseURL == "" {
		cfg.FuturesBaseURL = defaultFuturesBase
	}
	if cfg.TimeoutSecs <= 0 {
		cfg.TimeoutSecs = 20
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 15
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 5
	}
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "binance",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).
				Str("from", from.String()).Str("to", to.String()).
				Msg("Circuit breaker state change")
		},
	})
	return &Client{
		spot:    gobinance.NewClient("", ""),
		fut:     futures.NewClient("", ""),
		http:    &http.Client{Timeout: cfg.Timeout()},
		futBase: cfg.FuturesBaseURL,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		breaker: breaker,
		log:     log.With().Str("component", "binance").Logger(),
	}
}

// parseFloat mirrors a tolerant numeric cast: unparseable values come back as
// NaN instead of failing the whole page.
func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return math.NaN()
	}
	return v
}
