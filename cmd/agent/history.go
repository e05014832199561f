package main

import (
	"context"
	"errors"

	"github.com/benmeehan/debloat-agent/internal/app"
	"github.com/benmeehan/debloat-agent/internal/storage"
	"github.com/spf13/cobra"
)

func newHistoryCmd() *cobra.Command {
	var filter storage.HistoryFilter
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recorded uninstall, reinstall, backup and restore actions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withComponents(cmd, app.Options{}, func(ctx context.Context, c *app.Components) error {
				if c.History == nil {
					return errors.New("history is disabled; set history.enabled in the config")
				}
				records, err := c.History.List(ctx, filter)
				if err != nil {
					return err
				}
				return printJSON(cmd, records)
			})
		},
	}
	cmd.Flags().StringVar(&filter.PackageName, "package", "", "Only this package")
	cmd.Flags().StringVar(&filter.DeviceSerial, "device", "", "Only this device serial")
	cmd.Flags().StringVar(&filter.Action, "action", "", "Only this action")
	cmd.Flags().IntVar(&filter.Limit, "limit", 50, "Maximum number of records")
	return cmd
}
