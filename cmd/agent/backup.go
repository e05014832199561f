package main

import (
	"context"
	"fmt"

	"github.com/benmeehan/debloat-agent/internal/app"
	"github.com/spf13/cobra"
)

func newBackupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Create, list, restore and delete package backups",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "create <package>...",
			Short: "Save a list of packages so they can be restored later",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withComponents(cmd, app.Options{}, func(ctx context.Context, c *app.Components) error {
					res, err := c.Backups.Create(ctx, args)
					if err != nil {
						return err
					}
					return printJSON(cmd, res)
				})
			},
		},
		&cobra.Command{
			Use:   "list",
			Short: "List backups, newest first",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withComponents(cmd, app.Options{}, func(ctx context.Context, c *app.Components) error {
					list, err := c.Backups.List()
					if err != nil {
						return err
					}
					return printJSON(cmd, list)
				})
			},
		},
		&cobra.Command{
			Use:   "show <file>",
			Short: "Print the contents of a backup",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withComponents(cmd, app.Options{}, func(ctx context.Context, c *app.Components) error {
					data, err := c.Backups.Load(args[0])
					if err != nil {
						return err
					}
					return printJSON(cmd, data)
				})
			},
		},
		&cobra.Command{
			Use:   "restore <file>",
			Short: "Reinstall every package in a backup",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withComponents(cmd, app.Options{}, func(ctx context.Context, c *app.Components) error {
					res, err := c.Backups.Restore(ctx, args[0])
					if err != nil {
						return err
					}
					if err := printJSON(cmd, res); err != nil {
						return err
					}
					if !res.Success {
						return fmt.Errorf("%d packages could not be restored", res.Failed)
					}
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "delete <file>",
			Short: "Delete a backup and its uploaded copy",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withComponents(cmd, app.Options{}, func(ctx context.Context, c *app.Components) error {
					return c.Backups.Delete(ctx, args[0])
				})
			},
		},
		&cobra.Command{
			Use:   "import <url>",
			Short: "Download a backup, e.g. from a presigned object URL",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withComponents(cmd, app.Options{}, func(ctx context.Context, c *app.Components) error {
					info, err := c.Backups.Import(ctx, args[0])
					if err != nil {
						return err
					}
					return printJSON(cmd, info)
				})
			},
		},
		&cobra.Command{
			Use:   "path",
			Short: "Print the backup directory",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withComponents(cmd, app.Options{}, func(ctx context.Context, c *app.Components) error {
					dir, err := c.Backups.Path()
					if err != nil {
						return err
					}
					_, err = fmt.Fprintln(cmd.OutOrStdout(), dir)
					return err
				})
			},
		},
	)
	return cmd
}
