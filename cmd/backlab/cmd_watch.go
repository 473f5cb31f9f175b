package main

import (
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/derivlab/backlab/internal/binance"
)

func newWatchCmd() *cobra.Command {
	var symbol string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream live mark price and funding for a symbol",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			stream := binance.NewMarkPriceStream(symbol)
			go func() {
				for ev := range stream.Events() {
					log.Info().
						Str("symbol", ev.Symbol).
						Float64("mark_price", ev.MarkPrice).
						Float64("funding_rate", ev.FundingRate).
						Time("next_funding", ev.NextFundingTime).
						Msg("tick")
				}
			}()
			return stream.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&symbol, "symbol", "BTCUSDT", "trading pair symbol")
	return cmd
}
