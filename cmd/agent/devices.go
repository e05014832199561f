package main

import (
	"context"
	"fmt"

	"github.com/benmeehan/debloat-agent/internal/app"
	"github.com/benmeehan/debloat-agent/internal/bridge"
	"github.com/benmeehan/debloat-agent/internal/constants"
	"github.com/spf13/cobra"
)

func newDevicesCmd() *cobra.Command {
	var flagRefresh bool
	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List devices ready for commands",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withComponents(cmd, app.Options{}, func(ctx context.Context, c *app.Components) error {
				list, err := c.Devices.ListDevices(ctx, flagRefresh)
				if err != nil {
					return err
				}
				return printJSON(cmd, list)
			})
		},
	}
	cmd.Flags().BoolVar(&flagRefresh, "refresh", true, "Bypass the device cache")
	cmd.AddCommand(
		newTCPCmd("connect", "Attach a device over TCP/IP", (*bridge.ServerControl).Connect),
		newTCPCmd("disconnect", "Detach a TCP/IP device", (*bridge.ServerControl).Disconnect),
	)
	return cmd
}

func newTCPCmd(use, short string, op func(*bridge.ServerControl, context.Context, string, int) (string, error)) *cobra.Command {
	var flagPort int
	cmd := &cobra.Command{
		Use:   use + " <ip>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withComponents(cmd, app.Options{}, func(ctx context.Context, c *app.Components) error {
				out, err := op(c.Server, ctx, args[0], flagPort)
				if err != nil {
					return err
				}
				c.Devices.Invalidate()
				_, err = fmt.Fprintln(cmd.OutOrStdout(), out)
				return err
			})
		},
	}
	cmd.Flags().IntVarP(&flagPort, "port", "p", constants.DefaultTCPPort, "Device TCP port")
	return cmd
}

func newDeviceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "device",
		Short: "Show details of the default device",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withComponents(cmd, app.Options{}, func(ctx context.Context, c *app.Components) error {
				info, err := c.Devices.DeviceInfo(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd, info)
			})
		},
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "properties",
		Short: "Dump the system properties of the default device",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withComponents(cmd, app.Options{}, func(ctx context.Context, c *app.Components) error {
				serial, err := c.Devices.DefaultSerial(ctx)
				if err != nil {
					return err
				}
				props, err := c.Server.Properties(ctx, serial)
				if err != nil {
					return err
				}
				return printJSON(cmd, props)
			})
		},
	})
	return cmd
}

// newServerCmd controls the host-side adb server.
func newServerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "server",
		Short: "Start, kill or restart the adb server",
	}
	for _, sub := range []struct {
		use, short string
		op         func(*bridge.ServerControl, context.Context) error
	}{
		{"start", "Start the adb server", (*bridge.ServerControl).StartServer},
		{"kill", "Kill the adb server", (*bridge.ServerControl).KillServer},
		{"restart", "Kill the adb server and start it again", (*bridge.ServerControl).RestartServer},
	} {
		op := sub.op
		cmd.AddCommand(&cobra.Command{
			Use:   sub.use,
			Short: sub.short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withComponents(cmd, app.Options{}, func(ctx context.Context, c *app.Components) error {
					if err := op(c.Server, ctx); err != nil {
						return err
					}
					c.Devices.Invalidate()
					return nil
				})
			},
		})
	}
	return cmd
}

type doctorReport struct {
	Executable    string   `json:"executable,omitempty"`
	FromPath      bool     `json:"fromSearchPath"`
	Version       string   `json:"version,omitempty"`
	Supported     bool     `json:"supported"`
	DaemonRunning bool     `json:"daemonRunning"`
	Devices       int      `json:"devices"`
	Problems      []string `json:"problems,omitempty"`
}

// newDoctorCmd checks each layer in turn and reports every problem found
// rather than stopping at the first.
func newDoctorCmd() *cobra.Command {
	var flagRestart bool
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Diagnose the adb installation and server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withComponents(cmd, app.Options{}, func(ctx context.Context, c *app.Components) error {
				var report doctorReport

				exe, err := c.Locator.Resolve(ctx)
				if err != nil {
					report.Problems = append(report.Problems, err.Error())
					return printJSON(cmd, report)
				}
				report.Executable = exe.Path
				report.FromPath = exe.FromSearchPath

				if flagRestart {
					if err := c.Server.RestartServer(ctx); err != nil {
						report.Problems = append(report.Problems, "restart: "+err.Error())
					}
				}

				if info, ok, err := c.Server.CheckVersion(ctx); err != nil {
					report.Problems = append(report.Problems, "version: "+err.Error())
				} else {
					report.Version = info.Version.String()
					report.Supported = ok
					if !ok {
						report.Problems = append(report.Problems, "adb "+report.Version+" is older than supported")
					}
				}

				if running, err := c.Server.DaemonRunning(); err != nil {
					report.Problems = append(report.Problems, err.Error())
				} else {
					report.DaemonRunning = running
				}

				if list, err := c.Devices.ListDevices(ctx, true); err != nil {
					report.Problems = append(report.Problems, "devices: "+err.Error())
				} else {
					report.Devices = len(list)
				}
				return printJSON(cmd, report)
			})
		},
	}
	cmd.Flags().BoolVar(&flagRestart, "restart-server", false, "Restart the adb server before checking")
	return cmd
}
