package main

import (
	"context"

	"github.com/spf13/cobra"
)

func playbackCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "playback",
		Short: "Control playback",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "start",
		Short: "Start the idle loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fromContext(cmd)
			ctx, cancel := withTimeout(context.Background(), app.timeout)
			defer cancel()
			return app.service.PlaybackStart(ctx, app.server)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "pause",
		Short: "Toggle pause",
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fromContext(cmd)
			ctx, cancel := withTimeout(context.Background(), app.timeout)
			defer cancel()

			result, err := app.service.PlaybackPause(ctx, app.server)
			if err != nil {
				return err
			}
			return app.printer.Print(result)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "skip",
		Short: "Skip the current clip",
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fromContext(cmd)
			ctx, cancel := withTimeout(context.Background(), app.timeout)
			defer cancel()
			return app.service.PlaybackSkip(ctx, app.server)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "ensure-idle",
		Short: "Force the player back to the idle loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fromContext(cmd)
			ctx, cancel := withTimeout(context.Background(), app.timeout)
			defer cancel()
			return app.service.PlaybackEnsureIdle(ctx, app.server)
		},
	})

	return cmd
}
