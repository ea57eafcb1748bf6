package playercore

import (
	"context"
	"time"
)

// IdleMonitor drives the orchestrator's Tick on a fixed cadence.
type IdleMonitor struct {
	Orch     *Orchestrator
	Interval time.Duration
}

// Run ticks until the context is cancelled. Never returns an error; a
// failed tick is logged by the orchestrator and retried on the next one.
func (m IdleMonitor) Run(ctx context.Context) error {
	interval := m.Interval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.Orch.Tick()
		}
	}
}
