package commands

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/systmms/secretops/internal/metrics"
)

// NewServeCommand creates the 'serve' command
func NewServeCommand(app *App) *cobra.Command {
	var (
		addr    string
		workers int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Consume migration tasks and serve metrics",
		Long: `Run the migration workers and expose Prometheus metrics until interrupted.

The metrics endpoint also answers /health.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := app.Runtime(cmd.Context())
			if err != nil {
				return err
			}
			def := app.Config.Definition
			logger := app.logger()

			cfg := metrics.DefaultServerConfig()
			cfg.Addr = def.Metrics.Addr
			cfg.Path = def.Metrics.Path
			if addr != "" {
				cfg.Addr = addr
			}
			if workers <= 0 {
				workers = def.Queue.Workers
			}

			server := metrics.NewServer(cfg, logger)
			if err := server.Start(); err != nil {
				return err
			}
			defer func() {
				stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := server.Stop(stopCtx); err != nil {
					logger.Warn("Failed to stop metrics server: %v", err)
				}
			}()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			logger.Info("Running %d migration workers", workers)
			err = rt.Coordinator.Run(ctx, workers)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}

	cmd.Flags().StringVar(&addr, "metrics-addr", "", "Metrics listen address (overrides the config)")
	cmd.Flags().IntVar(&workers, "workers", 0, "Migration workers (overrides the config)")
	return cmd
}
