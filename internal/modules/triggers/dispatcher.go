package triggers

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Known trigger sources.
const (
	SourceGPIO   = "gpio"
	SourceArtNet = "artnet"
	SourceSACN   = "sacn"
)

// GPIOOptions configures the digital-input listener.
type GPIOOptions struct {
	Chip       string
	Pin        int
	Pull       string
	Edge       string
	DebounceMS int
}

// ArtNetOptions configures the Art-Net UDP listener.
type ArtNetOptions struct {
	ListenHost string
	Port       int
	Universe   int
	Channel    int
	Threshold  int
}

// SACNOptions configures the sACN/E1.31 multicast listener.
type SACNOptions struct {
	Universe  int
	Channel   int
	Threshold int
}

// Options configures a Dispatcher.
type Options struct {
	Sources []string
	GPIO    GPIOOptions
	ArtNet  ArtNetOptions
	SACN    SACNOptions

	// OnTrigger is invoked once per detected trigger with the source name.
	OnTrigger func(source string)
	Logger    *zap.Logger
}

// Dispatcher runs the configured trigger listeners and funnels their
// firings into a single callback. A listener that fails to start or dies
// mid-flight is dropped with a warning; the remaining sources keep running.
type Dispatcher struct {
	opts Options
	log  *zap.Logger
}

func New(opts Options) *Dispatcher {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{opts: opts, log: log}
}

// Run starts one goroutine per configured source and blocks until the
// context is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	started := 0
	for _, source := range d.opts.Sources {
		run, ok := d.listener(source)
		if !ok {
			d.log.Warn("unknown trigger source", zap.String("source", source))
			continue
		}
		started++
		wg.Add(1)
		go func(source string, run func(context.Context) error) {
			defer wg.Done()
			if err := run(ctx); err != nil {
				d.log.Warn("trigger source stopped",
					zap.String("source", source), zap.Error(err))
			}
		}(source, run)
	}
	if started == 0 {
		d.log.Warn("no trigger sources active")
	}
	<-ctx.Done()
	wg.Wait()
	return nil
}

func (d *Dispatcher) listener(source string) (func(context.Context) error, bool) {
	switch source {
	case SourceGPIO:
		return func(ctx context.Context) error { return d.runGPIO(ctx, d.opts.GPIO) }, true
	case SourceArtNet:
		return func(ctx context.Context) error { return d.runArtNet(ctx, d.opts.ArtNet) }, true
	case SourceSACN:
		return func(ctx context.Context) error { return d.runSACN(ctx, d.opts.SACN) }, true
	}
	return nil, false
}

// fire invokes the trigger callback, recovering panics so a bad handler
// never kills a listener.
func (d *Dispatcher) fire(source string) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("trigger handler panic",
				zap.String("source", source), zap.Any("panic", r))
		}
	}()
	if d.opts.OnTrigger != nil {
		d.opts.OnTrigger(source)
	}
}

// pump reads datagrams off conn until the context ends, firing whenever the
// decoded channel value crosses the threshold. The short read deadline is
// what lets shutdown interrupt a quiet socket.
func (d *Dispatcher) pump(ctx context.Context, conn net.PacketConn, source string, threshold int, decode func([]byte) (byte, bool)) error {
	latch := levelTrigger{threshold: clampLevel(threshold)}
	buf := make([]byte, 2048)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		if err := conn.SetReadDeadline(time.Now().Add(time.Second)); err != nil {
			return fmt.Errorf("set deadline: %w", err)
		}
		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read %s: %w", source, err)
		}
		value, ok := decode(buf[:n])
		if !ok {
			continue
		}
		if latch.update(value) {
			d.log.Debug("trigger level crossed",
				zap.String("source", source), zap.Uint8("value", value))
			d.fire(source)
		}
	}
}
