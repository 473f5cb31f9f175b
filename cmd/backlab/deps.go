package main

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/derivlab/backlab/internal/binance"
	"github.com/derivlab/backlab/internal/cache"
	"github.com/derivlab/backlab/internal/config"
	"github.com/derivlab/backlab/internal/httpapi"
	"github.com/derivlab/backlab/internal/store"
)

// deps bundles the wired dependencies shared by the subcommands.
type deps struct {
	cfg    config.Config
	client *binance.Client
	cache  cache.Store
	store  *store.Store
}

// buildDeps loads configuration and constructs the client plus whatever
// optional backends are enabled. Metrics may be nil outside serve mode.
func buildDeps(ctx context.Context, metrics *httpapi.Metrics) (*deps, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, err
	}

	d := &deps{
		cfg:    cfg,
		client: binance.NewClient(cfg.Binance),
	}

	if !cfg.Redis.Enabled {
		d.cache = cache.NewMemory(cfg.Redis.TTL(), 0)
	} else {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			log.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("redis unreachable, using in-process cache")
			d.cache = cache.NewMemory(cfg.Redis.TTL(), 0)
		} else {
			var opts []cache.Option
			if metrics != nil {
				opts = append(opts, cache.WithCounters(
					func() { metrics.CacheHits.WithLabelValues("redis").Inc() },
					func() { metrics.CacheMisses.WithLabelValues("redis").Inc() },
				))
			}
			d.cache = cache.New(rdb, cfg.Redis.TTL(), opts...)
			log.Info().Str("addr", cfg.Redis.Addr).Dur("ttl", cfg.Redis.TTL()).Msg("redis cache enabled")
		}
	}

	if cfg.Postgres.Enabled {
		st, err := store.Open(cfg.Postgres.DSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		if err := st.EnsureSchema(ctx); err != nil {
			st.Close()
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
		d.store = st
		log.Info().Msg("postgres persistence enabled")
	}

	return d, nil
}

func (d *deps) close() {
	if d.store != nil {
		if err := d.store.Close(); err != nil {
			log.Warn().Err(err).Msg("close postgres")
		}
	}
}
