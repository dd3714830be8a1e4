package resources

import (
	"context"
	"fmt"
	"strings"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
)

// CPUReader returns the global CPU utilisation in percent
type CPUReader interface {
	CPUPercent(ctx context.Context) (float64, error)
}

// TemperatureSensor is one thermal reading
type TemperatureSensor struct {
	Label   string
	Celsius float64
}

// TemperatureReader lists the host's thermal sensors
type TemperatureReader interface {
	Temperatures(ctx context.Context) ([]TemperatureSensor, error)
}

// GopsutilCPU reads utilisation since the previous call
type GopsutilCPU struct{}

func (GopsutilCPU) CPUPercent(ctx context.Context) (float64, error) {
	// interval 0 compares against the previous call, so sampling never sleeps
	pcts, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return 0, err
	}
	if len(pcts) == 0 {
		return 0, fmt.Errorf("no cpu usage reported")
	}
	return pcts[0], nil
}

// GopsutilTemperatures reads hwmon/thermal sensors
type GopsutilTemperatures struct{}

func (GopsutilTemperatures) Temperatures(ctx context.Context) ([]TemperatureSensor, error) {
	stats, err := host.SensorsTemperaturesWithContext(ctx)
	// Partial results come back alongside a warnings error; keep them
	if err != nil && len(stats) == 0 {
		return nil, err
	}
	sensors := make([]TemperatureSensor, 0, len(stats))
	for _, s := range stats {
		sensors = append(sensors, TemperatureSensor{Label: s.SensorKey, Celsius: s.Temperature})
	}
	return sensors, nil
}

// CPUTemperature returns the first sensor whose label mentions "cpu"
func CPUTemperature(sensors []TemperatureSensor) *float64 {
	for _, s := range sensors {
		if strings.Contains(strings.ToLower(s.Label), "cpu") {
			c := s.Celsius
			return &c
		}
	}
	return nil
}
