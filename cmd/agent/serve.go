package main

import (
	"github.com/benmeehan/debloat-agent/internal/app"
	"github.com/benmeehan/debloat-agent/internal/service_registry"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	var (
		flagListen  string
		flagMonitor bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the agent: HTTP API, WebSocket events and the enabled MQTT services",
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := loadConfig()
			if err != nil {
				return err
			}
			if flagListen != "" {
				config.API.Enabled = true
				config.API.Listen = flagListen
			}
			if cmd.Flags().Changed("monitor") {
				config.Health.Monitor = flagMonitor
			}
			logger := newLogger(config, cmd.ErrOrStderr())
			log.Logger = logger

			c, err := app.Build(cmd.Context(), config, app.Options{Serve: true}, logger)
			if err != nil {
				return err
			}

			if interrupted, err := c.States.Interrupted(); err != nil {
				logger.Warn().Err(err).Msg("Failed to read operation journal")
			} else {
				for _, op := range interrupted {
					logger.Warn().Str("execution_id", op.ExecutionID).Str("source", op.Source).
						Int("done", op.Done).Int("total", op.Total).Msg("Found interrupted restore")
				}
			}

			registry := service_registry.NewServiceRegistry(logger)
			if err := registry.RegisterServices(c); err != nil {
				_ = c.Close()
				return err
			}
			if err := registry.StartServices(); err != nil {
				_ = c.Close()
				return err
			}
			logger.Info().Strs("services", registry.Names()).Msg("All services started successfully")

			<-cmd.Context().Done()
			logger.Info().Msg("Shutting down gracefully...")
			return registry.StopServices()
		},
	}

	cmd.Flags().StringVar(&flagListen, "listen", "", "Serve the HTTP API on this address (enables the API)")
	cmd.Flags().BoolVar(&flagMonitor, "monitor", false, "Start health monitoring at startup")
	return cmd
}
