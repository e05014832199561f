package main

import (
	"context"
	"time"

	"github.com/benmeehan/debloat-agent/internal/app"
	"github.com/benmeehan/debloat-agent/internal/constants"
	"github.com/benmeehan/debloat-agent/internal/events"
	"github.com/benmeehan/debloat-agent/internal/models"
	"github.com/spf13/cobra"
)

func newHealthCmd() *cobra.Command {
	var flagWatch time.Duration
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Collect device health; --watch keeps polling",
		RunE: func(cmd *cobra.Command, args []string) error {
			if flagWatch <= 0 {
				return withComponents(cmd, app.Options{}, func(ctx context.Context, c *app.Components) error {
					snapshot, err := c.Health.Collect(ctx)
					if err != nil {
						return err
					}
					return printJSON(cmd, snapshot)
				})
			}

			sink := events.NewChannelSink(256)
			return withComponents(cmd, app.Options{Sinks: []events.Sink{sink}}, func(ctx context.Context, c *app.Components) error {
				c.Health.StartMonitor(flagWatch)
				defer c.Health.StopMonitor()
				for {
					select {
					case <-ctx.Done():
						return nil
					case ev := <-sink.Events():
						update, ok := ev.Payload.(models.HealthUpdate)
						if ev.Name != constants.EventSystemHealthUpdate || !ok || !update.IsComplete {
							continue
						}
						if err := printJSON(cmd, update.Health); err != nil {
							return err
						}
					}
				}
			})
		},
	}
	cmd.Flags().DurationVar(&flagWatch, "watch", 0, "Poll at this interval until interrupted (minimum 1s)")
	return cmd
}
