package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/osr-alliance/backend-lead-pipeline/config"
)

func newServeCmd(root *rootOptions) *cobra.Command {
	var memory bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the monetization workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(root.configPath)
			if err != nil {
				return err
			}
			if memory {
				// no database needed
				cfg.Database.DSN = "memory"
			}
			if err := cfg.ValidateServe(); err != nil {
				return err
			}
			return serve(cmd.Context(), cfg, memory)
		},
	}
	cmd.Flags().BoolVar(&memory, "memory", false, "keep everything in memory (development only)")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config, memory bool) error {
	d, err := openDeps(cfg, memory)
	if err != nil {
		return err
	}
	defer d.close()

	p, err := d.pipeline()
	if err != nil {
		return err
	}
	p.monetize.Start()

	srv := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      d.server(p).Handler(),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() {
		d.log.WithField("addr", cfg.HTTP.Addr).Info("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		if err != nil {
			_ = p.monetize.Stop()
			return err
		}
	case <-ctx.Done():
	}

	d.log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		d.log.WithError(err).Warn("http shutdown")
	}
	// handlers are done enqueueing; drain what is left
	return p.monetize.Stop()
}
