//go:build linux

package resources

import (
	"context"
	"fmt"

	"github.com/godbus/dbus/v5"
)

const (
	upowerService       = "org.freedesktop.UPower"
	upowerPath          = "/org/freedesktop/UPower"
	upowerDisplayDevice = "/org/freedesktop/UPower/devices/DisplayDevice"
	upowerDeviceIface   = "org.freedesktop.UPower.Device"
	upowerDeviceBattery = uint32(2)
)

// UPowerReader reads power state from UPower over the D-Bus system bus
type UPowerReader struct{}

func (UPowerReader) PowerStatus(ctx context.Context) (PowerStatus, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		// No system bus, common in containers and headless hosts
		return PowerStatus{}, ErrPowerSourceUnavailable
	}

	var status PowerStatus

	onBattery, err := getProperty[bool](ctx, conn.Object(upowerService, upowerPath), upowerService, "OnBattery")
	if err != nil {
		return PowerStatus{}, ErrPowerSourceUnavailable
	}
	onAC := !onBattery
	status.OnACPower = &onAC

	display := conn.Object(upowerService, upowerDisplayDevice)
	present, err := getProperty[bool](ctx, display, upowerDeviceIface, "IsPresent")
	if err != nil || !present {
		return status, nil
	}
	kind, err := getProperty[uint32](ctx, display, upowerDeviceIface, "Type")
	if err != nil || kind != upowerDeviceBattery {
		return status, nil
	}
	pct, err := getProperty[float64](ctx, display, upowerDeviceIface, "Percentage")
	if err != nil {
		return status, fmt.Errorf("failed to read battery percentage: %w", err)
	}
	status.BatteryPct = &pct
	return status, nil
}

func getProperty[T any](ctx context.Context, obj dbus.BusObject, iface, name string) (T, error) {
	var zero T
	var v dbus.Variant
	if err := obj.CallWithContext(ctx, "org.freedesktop.DBus.Properties.Get", 0, iface, name).Store(&v); err != nil {
		return zero, err
	}
	value, ok := v.Value().(T)
	if !ok {
		return zero, fmt.Errorf("unexpected type %s for %s.%s", v.Signature(), iface, name)
	}
	return value, nil
}
