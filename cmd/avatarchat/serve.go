package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/WachasWps/AI-Avatar-Chat/internal/chunker"
	"github.com/WachasWps/AI-Avatar-Chat/internal/server"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the speech engine with the HTTP API and renderer websocket",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides config)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	defer log.Close()
	if serveAddr != "" {
		cfg.Server.Addr = serveAddr
	}

	a, err := newApp(cfg, log)
	if err != nil {
		return err
	}
	logger := log.Zerolog()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Chunker.Watch && cfg.Chunker.DenylistFile != "" {
		if err := chunker.WatchDenylist(ctx, cfg.Chunker.DenylistFile, a.chunker, logger); err != nil {
			logger.Warn().Err(err).Msg("Denylist hot reload disabled")
		}
	}

	srv := server.New(cfg.Server, a.engine, a.bus, logger,
		server.WithMetrics(a.metrics),
		server.WithLogs(log),
		server.WithProfiles(a.profiles),
	)
	a.engine.OnFrame(srv.BroadcastFrame)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.engine.Run(ctx) })
	g.Go(func() error { return srv.ListenAndServe(ctx) })

	if err := g.Wait(); err != nil && err != context.Canceled {
		return err
	}
	return nil
}
