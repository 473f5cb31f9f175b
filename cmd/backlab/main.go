package main

import (
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

const (
	appName = "backlab"
	version = "v0.3.0"
)

var (
	flagConfig  string
	flagVerbose bool
)

func main() {
	// .env is optional; real environments set variables directly
	_ = godotenv.Load()

	zerolog.TimeFieldFormat = time.RFC3339
	if term.IsTerminal(int(os.Stderr.Fd())) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Crypto futures backtesting and lag-correlation toolkit",
		Version: version,
		Long: `backlab fetches Binance spot and futures market data, evaluates
JSON-defined entry/exit rules against it, simulates long-only positions
with realistic costs, and measures how derivative metrics lead or lag
price returns.`,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			level := zerolog.InfoLevel
			if flagVerbose {
				level = zerolog.DebugLevel
			}
			zerolog.SetGlobalLevel(level)
		},
	}
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "path to YAML config file")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(newFetchCmd())
	rootCmd.AddCommand(newBacktestCmd())
	rootCmd.AddCommand(newCorrCmd())
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newWatchCmd())

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}
