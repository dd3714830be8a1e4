package metrics

import (
	"io"
	"math"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"go.olrik.dev/dawnhost/internal/resources"
)

func TestCollector_ObserveSnapshot(t *testing.T) {
	c := NewCollector()

	temp, batt, ac := 91.0, 55.0, false
	c.ObserveSnapshot(resources.Snapshot{
		CPUUsagePct: 12,
		CPUTempC:    &temp,
		BatteryPct:  &batt,
		OnACPower:   &ac,
		Throttled:   true,
	})

	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"cpu", testutil.ToFloat64(c.cpuUsage), 12},
		{"temperature", testutil.ToFloat64(c.cpuTemperature), 91},
		{"battery", testutil.ToFloat64(c.batteryPct), 55},
		{"ac", testutil.ToFloat64(c.onACPower), 0},
		{"throttled", testutil.ToFloat64(c.throttled), 1},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}
}

func TestCollector_AbsentSensorsAreNaN(t *testing.T) {
	c := NewCollector()
	c.ObserveSnapshot(resources.Snapshot{CPUUsagePct: 5})

	for name, g := range map[string]float64{
		"temperature": testutil.ToFloat64(c.cpuTemperature),
		"battery":     testutil.ToFloat64(c.batteryPct),
		"ac":          testutil.ToFloat64(c.onACPower),
	} {
		if !math.IsNaN(g) {
			t.Errorf("%s = %v, want NaN", name, g)
		}
	}
}

func TestCollector_SidecarLifecycle(t *testing.T) {
	c := NewCollector()

	c.IntegrityFailed()
	c.SidecarStarted()
	c.ObserveHealth(8000, true)
	c.ObserveHealth(8000, false)
	c.ObserveHealth(8000, false)

	if v := testutil.ToFloat64(c.integrityFailures); v != 1 {
		t.Errorf("integrity failures = %v, want 1", v)
	}
	if v := testutil.ToFloat64(c.sidecarStarts); v != 1 {
		t.Errorf("starts = %v, want 1", v)
	}
	if v := testutil.ToFloat64(c.probeFailures); v != 2 {
		t.Errorf("probe failures = %v, want 2", v)
	}
	if v := testutil.ToFloat64(c.sidecarRunning); v != 1 {
		t.Errorf("running = %v, want 1", v)
	}

	c.SidecarStopped()
	if v := testutil.ToFloat64(c.sidecarRunning); v != 0 {
		t.Errorf("running after stop = %v, want 0", v)
	}
}

func TestCollector_Handler(t *testing.T) {
	c := NewCollector()
	c.ObserveRequest("/api/sidecar", 200)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	for _, name := range []string{
		"dawnhost_cpu_usage_percent",
		"dawnhost_sidecar_running",
		`dawnhost_api_requests_total{code="200",route="/api/sidecar"} 1`,
	} {
		if !strings.Contains(string(body), name) {
			t.Errorf("Expected %q in metrics output", name)
		}
	}
}
