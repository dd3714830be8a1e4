// Package resources samples host CPU load, thermal sensors and power state,
// derives a throttling signal and persists it for downstream consumers.
package resources

import "time"

// Snapshot is one sampling cycle. It is built once and never mutated;
// absent sensors are nil rather than sentinel values.
type Snapshot struct {
	Timestamp   int64    `json:"timestamp"`
	CPUUsagePct float64  `json:"cpu_usage_pct"`
	CPUTempC    *float64 `json:"cpu_temp_c"`
	BatteryPct  *float64 `json:"battery_pct"`
	OnACPower   *bool    `json:"on_ac_power"`
	Throttled   bool     `json:"throttled"`
}

// Thresholds that trip the throttled flag
type Thresholds struct {
	CPU         float64 // usage percent, strictly above trips
	Temperature float64 // Celsius, strictly above trips
	Battery     float64 // percent, strictly below while on battery trips
}

// DefaultThresholds are 70% CPU, 85°C and 30% battery
func DefaultThresholds() Thresholds {
	return Thresholds{CPU: 70, Temperature: 85, Battery: 30}
}

// Throttled reports whether any one of the three conditions holds. The
// battery condition needs both a battery reading and a known AC state.
func (t Thresholds) Throttled(cpuPct float64, tempC, batteryPct *float64, onAC *bool) bool {
	if cpuPct > t.CPU {
		return true
	}
	if tempC != nil && *tempC > t.Temperature {
		return true
	}
	if batteryPct != nil && onAC != nil && *batteryPct < t.Battery && !*onAC {
		return true
	}
	return false
}

// NewSnapshot builds a snapshot and derives its throttled flag
func NewSnapshot(at time.Time, cpuPct float64, tempC *float64, power PowerStatus, t Thresholds) Snapshot {
	return Snapshot{
		Timestamp:   at.Unix(),
		CPUUsagePct: cpuPct,
		CPUTempC:    tempC,
		BatteryPct:  power.BatteryPct,
		OnACPower:   power.OnACPower,
		Throttled:   t.Throttled(cpuPct, tempC, power.BatteryPct, power.OnACPower),
	}
}
