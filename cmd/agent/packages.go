package main

import (
	"context"
	"fmt"

	"github.com/benmeehan/debloat-agent/internal/app"
	"github.com/benmeehan/debloat-agent/internal/events"
	"github.com/benmeehan/debloat-agent/internal/models"
	"github.com/spf13/cobra"
)

func newPackagesCmd() *cobra.Command {
	var (
		flagStream bool
		flagForce  bool
	)
	cmd := &cobra.Command{
		Use:   "packages",
		Short: "List installed packages with their safety level",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !flagStream {
				return withComponents(cmd, app.Options{}, func(ctx context.Context, c *app.Components) error {
					records, err := c.Packages.ListPackages(ctx)
					if err != nil {
						return err
					}
					return printJSON(cmd, records)
				})
			}

			sink := events.NewChannelSink(1024)
			return withComponents(cmd, app.Options{Sinks: []events.Sink{sink}}, func(ctx context.Context, c *app.Components) error {
				if err := c.Packages.StartStream(ctx, flagForce); err != nil {
					return err
				}
				return printStream(ctx, cmd, sink)
			})
		},
	}
	cmd.Flags().BoolVar(&flagStream, "stream", false, "Print the listing batch by batch as it is read")
	cmd.Flags().BoolVar(&flagForce, "force", false, "Ignore the package cache")
	return cmd
}

// printStream prints each package chunk until the stream completes or fails.
func printStream(ctx context.Context, cmd *cobra.Command, sink *events.ChannelSink) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-sink.Events():
			switch payload := ev.Payload.(type) {
			case models.PackageChunk:
				if err := printJSON(cmd, payload); err != nil {
					return err
				}
			case models.StreamProgress:
				if payload.Error != "" {
					return fmt.Errorf("package stream failed: %s", payload.Error)
				}
			case models.StreamComplete:
				return nil
			}
		}
	}
}

func changePackages(cmd *cobra.Command, args []string, change func(c *app.Components) func(context.Context, string) (models.UninstallResult, error)) error {
	return withComponents(cmd, app.Options{}, func(ctx context.Context, c *app.Components) error {
		fn := change(c)
		failed := 0
		results := make(map[string]models.UninstallResult, len(args))
		for _, pkg := range args {
			res, err := fn(ctx, pkg)
			if err != nil {
				res = models.UninstallResult{Success: false, Error: err.Error()}
			}
			if !res.Success {
				failed++
			}
			results[pkg] = res
		}
		if err := printJSON(cmd, results); err != nil {
			return err
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d packages failed", failed, len(args))
		}
		return nil
	})
}

func newUninstallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall <package>...",
		Short: "Remove packages for the current user",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return changePackages(cmd, args, func(c *app.Components) func(context.Context, string) (models.UninstallResult, error) {
				return c.Packages.Uninstall
			})
		},
	}
}

func newReinstallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reinstall <package>...",
		Short: "Restore previously removed packages",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return changePackages(cmd, args, func(c *app.Components) func(context.Context, string) (models.UninstallResult, error) {
				return c.Packages.Reinstall
			})
		},
	}
}

func newCatalogCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "catalog [package]",
		Short: "Describe a package, or list the known packages",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withComponents(cmd, app.Options{}, func(ctx context.Context, c *app.Components) error {
				if len(args) == 0 {
					return printJSON(cmd, c.Catalog.All())
				}
				return printJSON(cmd, c.Catalog.Describe(args[0]))
			})
		},
	}
}
