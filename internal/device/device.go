// Package device provides the agent's device-level probes: a stable
// identity for the tracked user's device and a best-effort battery
// readout attached to each sample.
package device

import (
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Device exposes identity and battery state.
type Device struct{}

func New() *Device {
	return &Device{}
}

// ResolveUserID returns the configured user ID when present, otherwise
// derives a stable identifier for this device: machine-id, then
// hostname, then a generated UUID as last resort.
func (d *Device) ResolveUserID(configured string) string {
	if configured != "" {
		return configured
	}

	for _, path := range []string{"/etc/machine-id", "/var/lib/dbus/machine-id"} {
		if data, err := os.ReadFile(path); err == nil {
			if id := strings.TrimSpace(string(data)); id != "" {
				return id
			}
		}
	}

	if hostname, err := os.Hostname(); err == nil && hostname != "" {
		return runtime.GOOS + "-" + hostname
	}

	return uuid.NewString()
}

// BatteryPercent reads the battery charge level. Returns nil when no
// battery is present or the platform exposes none; absence is a valid
// sample state, not an error.
func (d *Device) BatteryPercent() *int {
	supplies, err := filepath.Glob("/sys/class/power_supply/*/capacity")
	if err != nil {
		return nil
	}

	for _, path := range supplies {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		pct, err := strconv.Atoi(strings.TrimSpace(string(data)))
		if err != nil || pct < 0 || pct > 100 {
			continue
		}
		return &pct
	}
	return nil
}
