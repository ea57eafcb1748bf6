package main

import (
	"context"

	"github.com/spf13/cobra"
)

func triggerCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trigger",
		Short: "Fire a trigger on the player",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "event",
		Short: "Fire an event trigger",
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fromContext(cmd)
			ctx, cancel := withTimeout(context.Background(), app.timeout)
			defer cancel()

			result, err := app.service.TriggerEvent(ctx, app.server)
			if err != nil {
				return err
			}
			return app.printer.Print(result)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "random",
		Short: "Force a random clip",
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fromContext(cmd)
			ctx, cancel := withTimeout(context.Background(), app.timeout)
			defer cancel()

			result, err := app.service.TriggerRandom(ctx, app.server)
			if err != nil {
				return err
			}
			return app.printer.Print(result)
		},
	})

	return cmd
}
