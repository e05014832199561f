package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/benmeehan/debloat-agent/internal/utils"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:           "debloat-agent",
	Short:         "Android package management over adb",
	Long:          `debloat-agent lists, removes and restores packages on an attached Android device, collects device health and serves the same operations over HTTP, WebSocket and MQTT.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var rootConfig string

func init() {
	output := zerolog.ConsoleWriter{Out: os.Stderr}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
	rootCmd.PersistentFlags().StringVarP(&rootConfig, "config", "c", "", "YAML configuration file; defaults apply when empty")
	rootCmd.AddCommand(
		newServeCmd(),
		newDevicesCmd(),
		newDeviceCmd(),
		newDoctorCmd(),
		newServerCmd(),
		newPackagesCmd(),
		newUninstallCmd(),
		newReinstallCmd(),
		newCatalogCmd(),
		newHealthCmd(),
		newBackupCmd(),
		newHistoryCmd(),
	)
	if path, err := utils.LoadDotEnv(); err != nil {
		log.Warn().Err(err).Msg("failed to load .env")
	} else if path != "" {
		log.Debug().Str("path", path).Msg("loaded .env")
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Fatal().Err(err).Msg("debloat-agent command failed")
	}
}
