package resources

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// DefaultPowerSupplyRoot is the Linux sysfs power supply class directory
const DefaultPowerSupplyRoot = "/sys/class/power_supply"

// ErrPowerSourceUnavailable means the platform has no such information
// source; it is not a read failure.
var ErrPowerSourceUnavailable = errors.New("power source unavailable")

// PowerStatus is battery charge and mains state, each nil when unknown
type PowerStatus struct {
	BatteryPct *float64
	OnACPower  *bool
}

// PowerReader reports battery and AC state
type PowerReader interface {
	PowerStatus(ctx context.Context) (PowerStatus, error)
}

// SysfsPower scans a power_supply directory for "Battery" and
// "Mains"/"AC" entries
type SysfsPower struct {
	Root string
}

func (p SysfsPower) PowerStatus(ctx context.Context) (PowerStatus, error) {
	root := p.Root
	if root == "" {
		root = DefaultPowerSupplyRoot
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return PowerStatus{}, ErrPowerSourceUnavailable
		}
		return PowerStatus{}, err
	}

	var status PowerStatus
	for _, entry := range entries {
		dir := filepath.Join(root, entry.Name())
		switch readTrimmed(filepath.Join(dir, "type")) {
		case "Battery":
			if v, err := strconv.ParseFloat(readTrimmed(filepath.Join(dir, "capacity")), 64); err == nil {
				status.BatteryPct = &v
			}
		case "Mains", "AC":
			if v, err := strconv.ParseUint(readTrimmed(filepath.Join(dir, "online")), 10, 8); err == nil {
				online := v == 1
				status.OnACPower = &online
			}
		}
	}
	return status, nil
}

func readTrimmed(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// FallbackPower asks each reader in turn, skipping those that report
// ErrPowerSourceUnavailable. When none is available the status is empty.
type FallbackPower []PowerReader

func (f FallbackPower) PowerStatus(ctx context.Context) (PowerStatus, error) {
	for _, r := range f {
		status, err := r.PowerStatus(ctx)
		if errors.Is(err, ErrPowerSourceUnavailable) {
			continue
		}
		return status, err
	}
	return PowerStatus{}, nil
}

// DefaultPowerReader prefers sysfs and falls back to UPower where available
func DefaultPowerReader() PowerReader {
	return FallbackPower{SysfsPower{}, UPowerReader{}}
}
