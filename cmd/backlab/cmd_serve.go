package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/derivlab/backlab/internal/httpapi"
)

func newServeCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			metrics := httpapi.NewMetrics()
			d, err := buildDeps(ctx, metrics)
			if err != nil {
				return err
			}
			defer d.close()

			if addr == "" {
				addr = d.cfg.Server.Addr
			}
			api := httpapi.New(d.client, d.cache, runStore(d), d.cfg.Backtest, metrics, log.Logger)

			srv := &http.Server{
				Addr:              addr,
				Handler:           api,
				ReadHeaderTimeout: 10 * time.Second,
			}
			errCh := make(chan error, 1)
			go func() {
				log.Info().Str("addr", addr).Msg("http server listening")
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
			case <-ctx.Done():
				log.Info().Msg("shutting down")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := srv.Shutdown(shutdownCtx); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides config)")
	return cmd
}

// runStore narrows the optional store to the API's interface; a typed nil
// pointer must not become a non-nil interface.
func runStore(d *deps) httpapi.RunStore {
	if d.store == nil {
		return nil
	}
	return d.store
}
