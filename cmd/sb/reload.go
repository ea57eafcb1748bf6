package main

import (
	"context"

	"github.com/spf13/cobra"
)

func reloadCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "reload",
		Short: "Reload the player configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fromContext(cmd)
			ctx, cancel := withTimeout(context.Background(), app.timeout)
			defer cancel()

			result, err := app.service.ConfigReload(ctx, app.server)
			if err != nil {
				return err
			}
			return app.printer.Print(result)
		},
	}
}
