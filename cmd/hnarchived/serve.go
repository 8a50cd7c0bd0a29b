package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hnfoundry/hnarchive/internal/scheduler"
	"github.com/hnfoundry/hnarchive/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the archiver daemon: scheduler plus HTTP frontdoor",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := buildApp(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		srv := server.New(a.store, a.pipelines, a.vectors, a.embedder, a.cache, logger, server.Options{
			BindAddr:       cfg.BindAddr,
			TriggerSecret:  cfg.TriggerSecret,
			AllowedOrigins: cfg.AllowedOrigins,
			IPRateLimit:    cfg.IPRateLimit,
			IPRateWindow:   cfg.IPRateWindow,
		})
		sched := scheduler.New(a.pipelines, a.store, logger, scheduler.Options{
			DiscoveryInterval: cfg.DiscoveryInterval,
			UpdatesInterval:   cfg.UpdatesInterval,
			BackfillInterval:  cfg.BackfillInterval,
		})

		errCh := make(chan error, 1)
		go func() { errCh <- srv.Start() }()
		go sched.Run(ctx)

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
		}

		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	},
}
