package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"
)

func feedsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "feeds",
		Short: "Manage feed synchronisation",
	}

	var url string
	sync := &cobra.Command{
		Use:   "sync",
		Short: "Sync configured feeds now",
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fromContext(cmd)
			// Feed syncs download media; give them more room than the
			// default command timeout.
			timeout := app.timeout
			if timeout < 30*time.Second {
				timeout = 30 * time.Second
			}
			ctx, cancel := withTimeout(context.Background(), timeout)
			defer cancel()

			result, err := app.service.FeedSync(ctx, app.server, url)
			if err != nil {
				return err
			}
			return app.printer.Print(result)
		},
	}
	sync.Flags().StringVar(&url, "url", "", "sync a single feed URL")
	cmd.AddCommand(sync)

	return cmd
}
