// Package config loads service configuration from YAML with environment
// overrides for deployment-specific values.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/derivlab/backlab/internal/binance"
)

// Config is the full service configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Binance  binance.Config `yaml:"binance"`
	Redis    RedisConfig    `yaml:"redis"`
	Postgres PostgresConfig `yaml:"postgres"`
	Backtest BacktestConfig `yaml:"backtest"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	TTLSecs  int    `yaml:"ttl_secs"`
}

// TTL returns the cache TTL as a time.Duration.
func (c RedisConfig) TTL() time.Duration {
	return time.Duration(c.TTLSecs) * time.Second
}

type PostgresConfig struct {
	Enabled bool   `yaml:"enabled"`
	DSN     string `yaml:"dsn"`
}

// BacktestConfig carries the default simulation costs, overridable per
// request.
type BacktestConfig struct {
	Fee      float64 `yaml:"fee"`
	Slippage float64 `yaml:"slippage"`
	Cooldown int     `yaml:"cooldown"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Server:  ServerConfig{Addr: ":8084"},
		Binance: binance.DefaultConfig(),
		Redis: RedisConfig{
			Addr:    "localhost:6379",
			TTLSecs: 600,
		},
		Backtest: BacktestConfig{Fee: 0.001, Slippage: 0.001},
	}
}

// Load reads a YAML file over the defaults, then applies environment
// overrides. An empty path loads defaults plus environment only.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}
	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnv maps BACKLAB_* variables over the file values; .env files are
// loaded into the environment by main before this runs.
func (c *Config) applyEnv() {
	if v := os.Getenv("BACKLAB_SERVER_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("BACKLAB_REDIS_ADDR"); v != "" {
		c.Redis.Enabled = true
		c.Redis.Addr = v
	}
	if v := os.Getenv("BACKLAB_REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("BACKLAB_POSTGRES_DSN"); v != "" {
		c.Postgres.Enabled = true
		c.Postgres.DSN = v
	}
	if v := os.Getenv("BACKLAB_FUTURES_BASE_URL"); v != "" {
		c.Binance.FuturesBaseURL = v
	}
	if v := os.Getenv("BACKLAB_RATE_LIMIT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			c.Binance.RequestsPerSecond = f
		}
	}
}

func (c *Config) validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr must not be empty")
	}
	if c.Backtest.Fee < 0 || c.Backtest.Fee >= 1 {
		return fmt.Errorf("backtest.fee must be in [0,1), got %v", c.Backtest.Fee)
	}
	if c.Backtest.Slippage < 0 || c.Backtest.Slippage >= 1 {
		return fmt.Errorf("backtest.slippage must be in [0,1), got %v", c.Backtest.Slippage)
	}
	if c.Backtest.Cooldown < 0 {
		return fmt.Errorf("backtest.cooldown must be >= 0, got %d", c.Backtest.Cooldown)
	}
	if c.Postgres.Enabled && c.Postgres.DSN == "" {
		return fmt.Errorf("postgres.dsn must be set when postgres is enabled")
	}
	return nil
}
