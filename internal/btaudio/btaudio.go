// Package btaudio wraps bluetoothctl to pair and keep an audio sink
// connected. A D-Bus client would be more robust; the CLI is what ships on
// every image this runs on.
package btaudio

import (
	"context"
	"os/exec"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// Device is one entry from a bluetoothctl scan.
type Device struct {
	MAC  string `json:"mac"`
	Name string `json:"name"`
}

// Client shells out to bluetoothctl. Exit codes are ignored, matching the
// tool's habit of failing politely; connection state is decided by parsing
// its output.
type Client struct {
	log *zap.Logger
	run func(ctx context.Context, args ...string) string
}

func New(log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	c := &Client{log: log}
	c.run = c.runBluetoothctl
	return c
}

func (c *Client) runBluetoothctl(ctx context.Context, args ...string) string {
	cmd := exec.CommandContext(ctx, "bluetoothctl", args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		c.log.Debug("bluetoothctl", zap.Strings("args", args), zap.Error(err))
	}
	return string(out)
}

// Scan discovers nearby devices for timeoutSec seconds.
func (c *Client) Scan(ctx context.Context, timeoutSec int) []Device {
	if timeoutSec <= 0 {
		timeoutSec = 8
	}
	c.run(ctx, "--timeout", strconv.Itoa(timeoutSec), "scan", "on")
	out := c.run(ctx, "devices")
	var devices []Device
	for _, line := range strings.Split(out, "\n") {
		parts := strings.SplitN(strings.TrimSpace(line), " ", 3)
		if len(parts) == 3 && parts[0] == "Device" {
			devices = append(devices, Device{MAC: parts[1], Name: parts[2]})
		}
	}
	return devices
}

// PairTrustConnect pairs, trusts, and connects the device. Reports whether
// the device ended up connected.
func (c *Client) PairTrustConnect(ctx context.Context, mac string) bool {
	mac = strings.TrimSpace(mac)
	if mac == "" {
		return false
	}
	c.run(ctx, "power", "on")
	c.run(ctx, "agent", "on")
	c.run(ctx, "default-agent")
	c.run(ctx, "pair", mac)
	c.run(ctx, "trust", mac)
	out := c.run(ctx, "connect", mac)
	info := c.run(ctx, "info", mac)
	connected := strings.Contains(out, "Connection successful") ||
		strings.Contains(info, "Connected: yes")
	if connected {
		c.log.Info("bluetooth device connected", zap.String("mac", mac))
	} else {
		c.log.Warn("bluetooth connect failed", zap.String("mac", mac))
	}
	return connected
}

// EnsureConnected reconnects the device if it has dropped off.
func (c *Client) EnsureConnected(ctx context.Context, mac string) bool {
	mac = strings.TrimSpace(mac)
	if mac == "" {
		return false
	}
	if strings.Contains(c.run(ctx, "info", mac), "Connected: yes") {
		return true
	}
	out := c.run(ctx, "connect", mac)
	info := c.run(ctx, "info", mac)
	return strings.Contains(out, "Connection successful") ||
		strings.Contains(info, "Connected: yes")
}
