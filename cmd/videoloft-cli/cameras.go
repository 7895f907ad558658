package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/vzahanych/videoloft-bridge/internal/videoloft"
)

func newCamerasCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cameras",
		Short: "List cameras and query their live status",
	}
	cmd.AddCommand(newCamerasListCmd(a), newCamerasStatusCmd(a))
	return cmd
}

func newCamerasListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all cameras on the account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := a.context()
			defer cancel()

			client, err := a.vendor(ctx)
			if err != nil {
				return err
			}
			devices, err := client.FetchDevices(ctx)
			if err != nil {
				return fmt.Errorf("failed to fetch devices: %w", err)
			}

			if a.jsonOutput {
				return writeJSON(os.Stdout, devices)
			}
			printCameras(devices)
			return nil
		},
	}
}

func printCameras(devices []videoloft.CameraDevice) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "UIDD\tNAME\tMODEL\tLIVE\tLOGGER")
	fmt.Fprintln(w, "----\t----\t-----\t----\t------")
	for _, d := range devices {
		fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\n",
			d.UIDD,
			d.Name,
			d.Specs.Model,
			d.Capabilities.MainstreamLive,
			d.LoggerServer,
		)
	}
	w.Flush()
}

func newCamerasStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "status <uidd>",
		Short:   "Show the live status reported by a camera's logger server",
		Args:    cobra.ExactArgs(1),
		Example: `  videoloft-cli cameras status owner1.dev2`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := a.context()
			defer cancel()

			client, err := a.vendor(ctx)
			if err != nil {
				return err
			}
			cam, err := a.camera(ctx, client, args[0])
			if err != nil {
				return err
			}
			status, err := client.CameraStatus(ctx, cam.UIDD, cam.LoggerServer, a.cfg.Stream.StatusTimeout)
			if err != nil {
				return fmt.Errorf("failed to fetch status: %w", err)
			}

			live := status.Live && status.Wowza != "" && status.Wowza != a.cfg.Stream.PlaceholderHost
			if a.jsonOutput {
				out := map[string]interface{}{
					"uidd":   cam.UIDD,
					"status": status,
					"live":   live,
				}
				if live {
					out["stream_url"] = client.StreamURL(status.Wowza, status.LiveStreamName)
				}
				return writeJSON(os.Stdout, out)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "Camera:\t%s (%s)\n", cam.Name, cam.UIDD)
			fmt.Fprintf(w, "Status:\t%s\n", status.Status)
			fmt.Fprintf(w, "Live:\t%t\n", live)
			fmt.Fprintf(w, "Wowza:\t%s\n", status.Wowza)
			if live {
				fmt.Fprintf(w, "Stream:\t%s\n", client.StreamURL(status.Wowza, status.LiveStreamName))
			}
			return w.Flush()
		},
	}
}
