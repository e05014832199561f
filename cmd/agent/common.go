package main

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"time"

	"github.com/benmeehan/debloat-agent/internal/app"
	"github.com/benmeehan/debloat-agent/internal/utils"
	"github.com/benmeehan/debloat-agent/pkg/file"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func loadConfig() (*utils.Config, error) {
	return utils.LoadConfig(rootConfig, file.NewFileService())
}

// newLogger builds the process logger from the log section.
func newLogger(config *utils.Config, out io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(config.Log.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	if config.Log.Format != "json" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}

// withComponents builds the components for a one-shot command and releases
// them afterwards.
func withComponents(cmd *cobra.Command, opts app.Options, fn func(ctx context.Context, c *app.Components) error) error {
	config, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(config, os.Stderr)
	log.Logger = logger

	ctx := cmd.Context()
	c, err := app.Build(ctx, config, opts, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := c.Close(); err != nil {
			logger.Warn().Err(err).Msg("failed to release components")
		}
	}()
	return fn(ctx, c)
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
