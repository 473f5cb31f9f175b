// Package cache is the hot layer in front of the exchange fetcher: frames
// and metric series are stored in Redis as JSON under range-scoped keys with
// a TTL, so repeated dashboard interactions do not re-page the exchange.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/derivlab/backlab/internal/market"
)

// Store is what the fetch paths see: a best-effort keyed cache for frames
// and metric series. Implemented by the Redis-backed Cache and the
// in-process Memory cache.
type Store interface {
	GetFrame(ctx context.Context, key string) (*market.Frame, bool)
	SetFrame(ctx context.Context, key string, f *market.Frame)
	GetSeries(ctx context.Context, key string) (market.Series, bool)
	SetSeries(ctx context.Context, key string, s market.Series)
}

// Cache wraps a Redis client with frame/series codecs and hit/miss counters.
type Cache struct {
	rdb    redis.Cmdable
	ttl    time.Duration
	hits   func()
	misses func()
}

// Option adjusts cache construction.
type Option func(*Cache)

// WithCounters registers hit/miss callbacks, used to feed metrics.
func WithCounters(hit, miss func()) Option {
	return func(c *Cache) {
		c.hits = hit
		c.misses = miss
	}
}

// New builds a cache on an existing Redis client. TTL <= 0 disables
// expiration.
func New(rdb redis.Cmdable, ttl time.Duration, opts ...Option) *Cache {
	c := &Cache{rdb: rdb, ttl: ttl, hits: func() {}, misses: func() {}}
	for _, o := range opts {
		o(c)
	}
	return c
}

// FrameKey names a candle range: one key per symbol/interval/market/range.
func FrameKey(mkt, symbol, interval string, start, end time.Time) string {
	return fmt.Sprintf("candles:%s:%s:%s:%d:%d", mkt, symbol, interval, start.UnixMilli(), end.UnixMilli())
}

// SeriesKey names a derivative-metric range.
func SeriesKey(metric, symbol, interval string, start, end time.Time) string {
	return fmt.Sprintf("metric:%s:%s:%s:%d:%d", metric, symbol, interval, start.UnixMilli(), end.UnixMilli())
}

// framePayload and seriesPayload use null for NaN observations;
// encoding/json rejects NaN floats.
type framePayload struct {
	Times  []time.Time `json:"times"`
	Open   []float64   `json:"open"`
	High   []float64   `json:"high"`
	Low    []float64   `json:"low"`
	Close  []float64   `json:"close"`
	Volume []*float64  `json:"volume"`
}

type seriesPayload struct {
	Times  []time.Time `json:"times"`
	Values []*float64  `json:"values"`
}

// GetFrame loads a cached frame; the second return is false on a miss.
// Decode failures are treated as misses so a poisoned key never wedges the
// dashboard.
func (c *Cache) GetFrame(ctx context.Context, key string) (*market.Frame, bool) {
	raw, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Warn().Err(err).Str("key", key).Msg("Cache read failed")
		}
		c.misses()
		return nil, false
	}
	var p framePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Cache payload corrupt, treating as miss")
		c.misses()
		return nil, false
	}
	c.hits()
	return &market.Frame{
		Times:  p.Times,
		Open:   p.Open,
		High:   p.High,
		Low:    p.Low,
		Close:  p.Close,
		Volume: fromNullable(p.Volume),
	}, true
}

// SetFrame stores a frame under key. Write failures are logged, not
// returned: the cache is best-effort.
func (c *Cache) SetFrame(ctx context.Context, key string, f *market.Frame) {
	payload, err := json.Marshal(framePayload{
		Times:  f.Times,
		Open:   f.Open,
		High:   f.High,
		Low:    f.Low,
		Close:  f.Close,
		Volume: toNullable(f.Volume),
	})
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Cache encode failed")
		return
	}
	if err := c.rdb.Set(ctx, key, payload, c.ttl).Err(); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Cache write failed")
	}
}

// GetSeries loads a cached metric series.
func (c *Cache) GetSeries(ctx context.Context, key string) (market.Series, bool) {
	raw, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Warn().Err(err).Str("key", key).Msg("Cache read failed")
		}
		c.misses()
		return market.Series{}, false
	}
	var p seriesPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Cache payload corrupt, treating as miss")
		c.misses()
		return market.Series{}, false
	}
	c.hits()
	return market.Series{Times: p.Times, Values: fromNullable(p.Values)}, true
}

// SetSeries stores a metric series under key.
func (c *Cache) SetSeries(ctx context.Context, key string, s market.Series) {
	payload, err := json.Marshal(seriesPayload{Times: s.Times, Values: toNullable(s.Values)})
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Cache encode failed")
		return
	}
	if err := c.rdb.Set(ctx, key, payload, c.ttl).Err(); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Cache write failed")
	}
}

func toNullable(vs []float64) []*float64 {
	out := make([]*float64, len(vs))
	for i := range vs {
		if !math.IsNaN(vs[i]) {
			v := vs[i]
			out[i] = &v
		}
	}
	return out
}

func fromNullable(vs []*float64) []float64 {
	out := make([]float64, len(vs))
	for i := range vs {
		if vs[i] == nil {
			out[i] = math.NaN()
		} else {
			out[i] = *vs[i]
		}
	}
	return out
}
