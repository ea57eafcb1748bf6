package main

import (
	"context"

	"github.com/spf13/cobra"
)

func mediaCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "media",
		Short: "Inspect the media library",
	}

	var category string
	ls := &cobra.Command{
		Use:   "ls",
		Short: "List media files",
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fromContext(cmd)
			ctx, cancel := withTimeout(context.Background(), app.timeout)
			defer cancel()

			result, err := app.service.MediaList(ctx, app.server, category)
			if err != nil {
				return err
			}
			return app.printer.Print(result)
		},
	}
	ls.Flags().StringVar(&category, "category", "", "limit to one category")
	cmd.AddCommand(ls)

	return cmd
}

func mediaReloadCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "media-reload",
		Short: "Rescan the media library on the player",
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fromContext(cmd)
			ctx, cancel := withTimeout(context.Background(), app.timeout)
			defer cancel()
			return app.service.MediaReload(ctx, app.server)
		},
	}
}
