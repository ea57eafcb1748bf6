//go:build linux

package triggers

import (
	"context"
	"fmt"
	"time"

	"github.com/warthog618/go-gpiocdev"
	"go.uber.org/zap"
)

func (d *Dispatcher) runGPIO(ctx context.Context, opts GPIOOptions) error {
	lineOpts := []gpiocdev.LineReqOption{
		gpiocdev.AsInput,
		gpiocdev.WithEventHandler(func(gpiocdev.LineEvent) {
			d.fire(SourceGPIO)
		}),
	}
	switch opts.Pull {
	case "down":
		lineOpts = append(lineOpts, gpiocdev.WithPullDown)
	case "none":
	default:
		lineOpts = append(lineOpts, gpiocdev.WithPullUp)
	}
	switch opts.Edge {
	case "rising":
		lineOpts = append(lineOpts, gpiocdev.WithRisingEdge)
	case "both":
		lineOpts = append(lineOpts, gpiocdev.WithBothEdges)
	default:
		lineOpts = append(lineOpts, gpiocdev.WithFallingEdge)
	}
	if opts.DebounceMS > 0 {
		lineOpts = append(lineOpts, gpiocdev.WithDebounce(time.Duration(opts.DebounceMS)*time.Millisecond))
	}
	chip := opts.Chip
	if chip == "" {
		chip = "gpiochip0"
	}

	line, err := gpiocdev.RequestLine(chip, opts.Pin, lineOpts...)
	if err != nil {
		return fmt.Errorf("request gpio line: %w", err)
	}
	defer line.Close()
	d.log.Info("gpio listener started",
		zap.String("chip", chip),
		zap.Int("pin", opts.Pin),
		zap.String("pull", opts.Pull),
		zap.String("edge", opts.Edge),
		zap.Int("debounce_ms", opts.DebounceMS))

	<-ctx.Done()
	return nil
}
