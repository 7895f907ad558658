package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vzahanych/videoloft-bridge/internal/quota"
	"github.com/vzahanych/videoloft-bridge/internal/state"
	"github.com/vzahanych/videoloft-bridge/internal/thumbnail"
)

func newThumbnailCmd(a *app) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:     "thumbnail <uidd>",
		Short:   "Download the latest thumbnail of a camera",
		Args:    cobra.ExactArgs(1),
		Example: `  videoloft-cli thumbnail owner1.dev2 -o drive.jpg`,
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
			data, err := client.LatestThumbnail(ctx, cam.LoggerServer, cam.UIDD, a.cfg.Thumbnails.FetchTimeout)
			if err != nil {
				return fmt.Errorf("failed to fetch thumbnail: %w", err)
			}
			if !thumbnail.IsImage(data) {
				return fmt.Errorf("camera %s returned %d bytes that are not an image", cam.UIDD, len(data))
			}

			if output == "" {
				output = cam.UIDD + ".jpg"
			}
			if err := os.WriteFile(output, data, 0o644); err != nil {
				return fmt.Errorf("failed to write %s: %w", output, err)
			}
			fmt.Printf("Thumbnail saved to %s (%d bytes)\n", output, len(data))
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default <uidd>.jpg)")
	return cmd
}

func newEventsCmd(a *app) *cobra.Command {
	var since time.Duration

	cmd := &cobra.Command{
		Use:     "events <uidd>",
		Short:   "List recent detection events of a camera",
		Args:    cobra.ExactArgs(1),
		Example: `  videoloft-cli events owner1.dev2 --since 6h`,
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

			end := time.Now()
			events, err := client.EventsPaged(ctx, cam.LoggerServer, cam.UIDD, end.Add(-since), end, a.cfg.Analysis.EventSliceLength)
			if err != nil {
				return fmt.Errorf("failed to fetch events: %w", err)
			}

			if a.jsonOutput {
				return writeJSON(os.Stdout, events)
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "EVENT\tSTART\tDURATION")
			for _, ev := range events {
				duration := "-"
				if ev.EndTime > ev.StartTime {
					duration = (time.Duration(ev.EndTime-ev.StartTime) * time.Millisecond).String()
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", ev.ID, ev.Start().Local().Format(time.DateTime), duration)
			}
			fmt.Fprintf(w, "\n%d event(s) since %s\n", len(events), end.Add(-since).Local().Format(time.DateTime))
			return w.Flush()
		},
	}
	cmd.Flags().DurationVar(&since, "since", time.Hour, "how far back to look")
	return cmd
}

func newQuotaCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "quota",
		Short: "Show the persisted vision quota state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := a.context()
			defer cancel()

			store, err := state.NewManager(a.cfg.Bridge.DataDir, a.log)
			if err != nil {
				return fmt.Errorf("failed to open state database: %w", err)
			}
			defer store.Close()

			tracker := quota.NewTracker(a.cfg.Quota, store, a.log)
			if err := tracker.Load(ctx); err != nil {
				return err
			}
			st := tracker.Status()

			if a.jsonOutput {
				return writeJSON(os.Stdout, st)
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "Daily:\t%d/%d (%d remaining)\n", st.DailyRequests, st.DailyLimit, st.DailyRemaining)
			fmt.Fprintf(w, "Minute:\t%d/%d (%d remaining)\n", st.MinuteRequests, st.MinuteLimit, st.MinuteRemaining)
			if st.CircuitBreakerActive {
				fmt.Fprintf(w, "Circuit breaker:\tactive, %.0fs left\n", st.CircuitBreakerRemaining)
			} else {
				fmt.Fprintln(w, "Circuit breaker:\tclosed")
			}
			if st.DailyResetTime != nil {
				fmt.Fprintf(w, "Daily reset:\t%s\n", *st.DailyResetTime)
			}
			return w.Flush()
		},
	}
}
