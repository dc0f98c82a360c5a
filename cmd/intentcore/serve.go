package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/neboloop/intentcore/internal/config"
	"github.com/neboloop/intentcore/internal/server"
)

// ServeCmd starts the HTTP API, the scheduler and the config watcher.
func ServeCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP and WebSocket API",
		Long: `Start the HTTP API with WebSocket stream fan-out, run scheduled intents
and reload routes and schedules when the config file changes.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			svcCtx, err := bootstrap(ctx)
			if err != nil {
				return err
			}
			defer shutdown(svcCtx)
			logger := svcCtx.Logger

			g, gctx := errgroup.WithContext(ctx)

			g.Go(func() error {
				return server.New(svcCtx).Run(gctx, server.Options{Addr: addr})
			})
			g.Go(func() error {
				return svcCtx.Scheduler.Run(gctx)
			})

			path := configPath(svcCtx.Config())
			if _, err := os.Stat(path); err == nil {
				g.Go(func() error {
					return config.Watch(gctx, path, logger.Named("config"), func(cfg *config.Config) {
						if err := svcCtx.Apply(cfg); err != nil {
							logger.Warn("config reload rejected", zap.Error(err))
							return
						}
						logger.Info("config reloaded", zap.String("path", path))
					})
				})
			} else {
				logger.Info("no config file, live reload disabled", zap.String("path", path))
			}

			if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	return cmd
}
