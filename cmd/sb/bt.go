package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mikey-austin/splice_box/internal/btaudio"
	"github.com/mikey-austin/splice_box/internal/core"
)

func btCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bt",
		Short: "Pair Bluetooth audio on this machine",
	}

	var seconds int
	scan := &cobra.Command{
		Use:         "scan",
		Short:       "Scan for nearby devices",
		Annotations: map[string]string{"local": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fromContext(cmd)
			ctx, cancel := withTimeout(context.Background(), time.Duration(seconds+10)*time.Second)
			defer cancel()

			devices := btaudio.New(zap.NewNop()).Scan(ctx, seconds)
			result := core.BtScanResult{}
			for _, dev := range devices {
				result.Devices = append(result.Devices, core.BtDevice{MAC: dev.MAC, Name: dev.Name})
			}
			return app.printer.Print(result)
		},
	}
	scan.Flags().IntVar(&seconds, "seconds", 8, "scan duration")
	cmd.AddCommand(scan)

	cmd.AddCommand(&cobra.Command{
		Use:         "connect <mac>",
		Short:       "Pair, trust, and connect a device",
		Args:        cobra.ExactArgs(1),
		Annotations: map[string]string{"local": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fromContext(cmd)
			ctx, cancel := withTimeout(context.Background(), 45*time.Second)
			defer cancel()

			mac := args[0]
			connected := btaudio.New(zap.NewNop()).PairTrustConnect(ctx, mac)
			result := core.BtConnectResult{MAC: mac, Connected: connected}
			if err := app.printer.Print(result); err != nil {
				return err
			}
			if !connected {
				return &core.CLIError{Code: core.ExitRuntime, Msg: "bluetooth connect failed"}
			}
			return nil
		},
	})

	return cmd
}
