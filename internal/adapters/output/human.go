package output

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pterm/pterm"

	"github.com/mikey-austin/splice_box/internal/core"
	"github.com/mikey-austin/splice_box/pkg/sbx"
)

// HumanPrinter prints human-readable output.
type HumanPrinter struct{}

// Print renders human output.
func (HumanPrinter) Print(v any) error {
	switch data := v.(type) {
	case core.NodesResult:
		return printNodes(data)
	case core.StatusResult:
		return printStatus(data)
	case core.TriggerResult:
		return printTrigger(data)
	case core.PauseResult:
		return printPause(data)
	case core.ReloadResult:
		return printReload(data)
	case core.MediaResult:
		return printMedia(data)
	case core.FeedSyncResult:
		return printFeedSync(data)
	case core.BtScanResult:
		return printBtScan(data)
	case core.BtConnectResult:
		return printBtConnect(data)
	case sbx.TriggerEvent:
		return printTriggerEvent(data)
	default:
		_, err := fmt.Fprintln(os.Stdout, "ok")
		return err
	}
}

func printNodes(result core.NodesResult) error {
	rows := pterm.TableData{{"NAME", "KIND", "NODE_ID"}}
	for _, node := range result.Nodes {
		rows = append(rows, []string{node.Name, node.Kind, node.NodeID})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(rows).Render()
}

func printStatus(result core.StatusResult) error {
	state := result.State

	mode := state.Mode
	if mode == "" {
		mode = "unknown"
	}
	current := state.CurrentBase
	if current == "" {
		current = "(nothing playing)"
	}
	pause := ""
	if state.Paused {
		pause = "paused"
	}

	line := strings.TrimSpace(fmt.Sprintf("%s  [%s]  %s  %s", result.Player.Name, mode, current, pause))
	if _, err := fmt.Fprintln(os.Stdout, line); err != nil {
		return err
	}

	detail := fmt.Sprintf("queue %d  idle-to-random %ds", len(state.Queue), state.IdleToRandomS)
	if state.LastEventTS > 0 {
		detail += fmt.Sprintf("  last event %s", time.Unix(state.LastEventTS, 0).Format(time.Kitchen))
	}
	if state.Engine != "" {
		detail += fmt.Sprintf("  engine %s", state.Engine)
	}
	_, err := fmt.Fprintln(os.Stdout, detail)
	return err
}

func printTrigger(result core.TriggerResult) error {
	if result.Fired {
		pterm.Success.Println("fired")
		return nil
	}
	pterm.Info.Println("suppressed (player busy)")
	return nil
}

func printPause(result core.PauseResult) error {
	if result.Paused {
		_, err := fmt.Fprintln(os.Stdout, "paused")
		return err
	}
	_, err := fmt.Fprintln(os.Stdout, "resumed")
	return err
}

func printReload(result core.ReloadResult) error {
	_, err := fmt.Fprintf(os.Stdout, "config reloaded: idle-to-random %ds\n", result.IdleToRandomS)
	return err
}

func printMedia(result core.MediaResult) error {
	if _, err := fmt.Fprintf(os.Stdout, "media root: %s\n", result.List.Root); err != nil {
		return err
	}
	rows := pterm.TableData{{"CATEGORY", "FILE", "SIZE"}}
	for _, category := range result.List.Categories {
		if len(category.Files) == 0 {
			rows = append(rows, []string{category.Name, "(empty)", ""})
			continue
		}
		for _, file := range category.Files {
			rows = append(rows, []string{category.Name, file.Name, formatSize(file.Size)})
		}
	}
	return pterm.DefaultTable.WithHasHeader().WithData(rows).Render()
}

func printFeedSync(result core.FeedSyncResult) error {
	status := result.Status
	_, err := fmt.Fprintf(os.Stdout, "feed sync: %d downloaded, %d skipped, %d failed\n",
		status.Downloaded, status.Skipped, status.Failed)
	return err
}

func printBtScan(result core.BtScanResult) error {
	if len(result.Devices) == 0 {
		_, err := fmt.Fprintln(os.Stdout, "no devices found")
		return err
	}
	rows := pterm.TableData{{"MAC", "NAME"}}
	for _, dev := range result.Devices {
		rows = append(rows, []string{dev.MAC, dev.Name})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(rows).Render()
}

func printBtConnect(result core.BtConnectResult) error {
	if result.Connected {
		pterm.Success.Printfln("connected %s", result.MAC)
		return nil
	}
	pterm.Error.Printfln("failed to connect %s", result.MAC)
	return nil
}

func printTriggerEvent(evt sbx.TriggerEvent) error {
	state := "fired"
	if !evt.Fired {
		state = "suppressed"
	}
	_, err := fmt.Fprintf(os.Stdout, "%s  trigger %s (%s)\n",
		time.Unix(evt.TS, 0).Format(time.Kitchen), state, evt.Source)
	return err
}

func formatSize(size int64) string {
	switch {
	case size >= 1<<30:
		return fmt.Sprintf("%.1f GB", float64(size)/(1<<30))
	case size >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(size)/(1<<20))
	case size >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(size)/(1<<10))
	default:
		return fmt.Sprintf("%d B", size)
	}
}
