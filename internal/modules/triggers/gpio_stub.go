//go:build !linux

package triggers

import (
	"context"
	"errors"
)

func (d *Dispatcher) runGPIO(ctx context.Context, opts GPIOOptions) error {
	return errors.New("gpio triggers require linux")
}
