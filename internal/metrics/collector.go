// Package metrics exposes host and sidecar state as Prometheus metrics.
package metrics

import (
	"fmt"
	"math"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"go.olrik.dev/dawnhost/internal/resources"
)

// Collector owns a private registry so tests and multiple hosts never
// collide on the global one
type Collector struct {
	registry *prometheus.Registry

	cpuUsage       prometheus.Gauge
	cpuTemperature prometheus.Gauge
	batteryPct     prometheus.Gauge
	onACPower      prometheus.Gauge
	throttled      prometheus.Gauge

	sidecarRunning prometheus.Gauge
	sidecarHealthy prometheus.Gauge

	probeFailures     prometheus.Counter
	sidecarStarts     prometheus.Counter
	integrityFailures prometheus.Counter

	apiRequests *prometheus.CounterVec
}

// NewCollector creates and registers all dawnhost metrics
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		cpuUsage: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dawnhost_cpu_usage_percent",
			Help: "Global CPU usage percentage (0-100)",
		}),
		cpuTemperature: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dawnhost_cpu_temperature_celsius",
			Help: "CPU temperature in Celsius, NaN when no sensor is found",
		}),
		batteryPct: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dawnhost_battery_percent",
			Help: "Battery charge percentage, NaN when no battery is found",
		}),
		onACPower: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dawnhost_on_ac_power",
			Help: "1 on mains power, 0 on battery, NaN when unknown",
		}),
		throttled: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dawnhost_throttled",
			Help: "1 when host resources are constrained",
		}),
		sidecarRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dawnhost_sidecar_running",
			Help: "1 while a sidecar process is held by the host",
		}),
		sidecarHealthy: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dawnhost_sidecar_healthy",
			Help: "1 when the last health probe connected",
		}),
		probeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dawnhost_health_probe_failures_total",
			Help: "Health probes that failed to connect",
		}),
		sidecarStarts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dawnhost_sidecar_starts_total",
			Help: "Sidecar processes spawned",
		}),
		integrityFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dawnhost_integrity_failures_total",
			Help: "Start attempts rejected by the integrity check",
		}),
		apiRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dawnhost_api_requests_total",
			Help: "HTTP API requests by route and status code",
		}, []string{"route", "code"}),
	}

	c.registry.MustRegister(
		c.cpuUsage, c.cpuTemperature, c.batteryPct, c.onACPower, c.throttled,
		c.sidecarRunning, c.sidecarHealthy,
		c.probeFailures, c.sidecarStarts, c.integrityFailures,
		c.apiRequests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Registry returns the collector's registry
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// ObserveSnapshot updates the resource gauges
func (c *Collector) ObserveSnapshot(s resources.Snapshot) {
	c.cpuUsage.Set(s.CPUUsagePct)
	c.cpuTemperature.Set(optional(s.CPUTempC))
	c.batteryPct.Set(optional(s.BatteryPct))
	if s.OnACPower == nil {
		c.onACPower.Set(math.NaN())
	} else {
		c.onACPower.Set(boolValue(*s.OnACPower))
	}
	c.throttled.Set(boolValue(s.Throttled))
}

// ObserveHealth records a health probe result
func (c *Collector) ObserveHealth(port int, healthy bool) {
	c.sidecarHealthy.Set(boolValue(healthy))
	if !healthy {
		c.probeFailures.Inc()
	}
}

func (c *Collector) SidecarStarted() {
	c.sidecarStarts.Inc()
	c.sidecarRunning.Set(1)
}

func (c *Collector) SidecarStopped() {
	c.sidecarRunning.Set(0)
	c.sidecarHealthy.Set(0)
}

func (c *Collector) IntegrityFailed() {
	c.integrityFailures.Inc()
}

// ObserveRequest counts one API request
func (c *Collector) ObserveRequest(route string, code int) {
	c.apiRequests.WithLabelValues(route, fmt.Sprintf("%d", code)).Inc()
}

func optional(v *float64) float64 {
	if v == nil {
		return math.NaN()
	}
	return *v
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
