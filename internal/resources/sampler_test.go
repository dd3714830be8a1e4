package resources

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.olrik.dev/dawnhost/internal/db"
	"go.olrik.dev/dawnhost/internal/events"
)

func quietLogger(t *testing.T) {
	t.Helper()
	old := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.Level(99)})))
	t.Cleanup(func() { slog.SetDefault(old) })
}

type stubCPU struct {
	mu  sync.Mutex
	pct float64
	err error
}

func (s *stubCPU) set(pct float64) {
	s.mu.Lock()
	s.pct = pct
	s.mu.Unlock()
}

func (s *stubCPU) CPUPercent(ctx context.Context) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pct, s.err
}

type stubTemps struct {
	sensors []TemperatureSensor
	err     error
}

func (s stubTemps) Temperatures(ctx context.Context) ([]TemperatureSensor, error) {
	return s.sensors, s.err
}

type recordingObserver struct {
	snapshots []Snapshot
}

func (r *recordingObserver) ObserveSnapshot(s Snapshot) {
	r.snapshots = append(r.snapshots, s)
}

type recordingThrottleLog struct {
	changes []db.ThrottleChange
}

func (r *recordingThrottleLog) LogThrottleChange(c db.ThrottleChange) error {
	r.changes = append(r.changes, c)
	return nil
}

func newTestSampler(t *testing.T, cpu CPUReader, opts ...Option) *Sampler {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mesh", "resource_state.json")
	base := []Option{
		WithCPUReader(cpu),
		WithTemperatureReader(stubTemps{}),
		WithPowerReader(&stubPower{err: ErrPowerSourceUnavailable}),
		withClock(func() time.Time { return time.Unix(1700000000, 0) }),
	}
	s, err := NewSampler(path, append(base, opts...)...)
	if err != nil {
		t.Fatalf("NewSampler failed: %v", err)
	}
	return s
}

func readState(t *testing.T, path string) Snapshot {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read state file: %v", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		t.Fatalf("State file is not valid JSON: %v\n%s", err, data)
	}
	return snap
}

func TestSampler_CycleWritesStateFile(t *testing.T) {
	quietLogger(t)

	s := newTestSampler(t, &stubCPU{pct: 12.5},
		WithTemperatureReader(stubTemps{sensors: []TemperatureSensor{{"cpu_thermal", 48}}}),
		WithPowerReader(&stubPower{status: PowerStatus{BatteryPct: f(90), OnACPower: b(true)}}),
	)

	got := s.Cycle(context.Background())
	onDisk := readState(t, s.Path())

	if onDisk.Timestamp != 1700000000 || onDisk.CPUUsagePct != 12.5 {
		t.Errorf("Unexpected snapshot on disk: %+v", onDisk)
	}
	if onDisk.CPUTempC == nil || *onDisk.CPUTempC != 48 {
		t.Errorf("Expected temp 48, got %v", onDisk.CPUTempC)
	}
	if onDisk.Throttled || got.Throttled {
		t.Error("Expected snapshot not to be throttled")
	}
	if _, err := os.Stat(s.Path() + ".tmp"); !os.IsNotExist(err) {
		t.Error("Temporary file left behind")
	}
}

func TestSampler_SensorFailuresAreNotFatal(t *testing.T) {
	quietLogger(t)

	s := newTestSampler(t, &stubCPU{err: errors.New("no /proc/stat")},
		WithTemperatureReader(stubTemps{err: errors.New("no hwmon")}),
		WithPowerReader(&stubPower{err: errors.New("permission denied")}),
	)

	snap := s.Cycle(context.Background())
	if snap.CPUUsagePct != 0 || snap.CPUTempC != nil || snap.BatteryPct != nil || snap.OnACPower != nil {
		t.Errorf("Expected zero/absent readings, got %+v", snap)
	}
	if snap.Throttled {
		t.Error("Expected not throttled with no readings")
	}
	readState(t, s.Path())
}

func TestSampler_WriteFailureIsSwallowed(t *testing.T) {
	quietLogger(t)

	// A regular file where the parent directory should be makes every write fail
	dir := t.TempDir()
	blocker := filepath.Join(dir, "mesh")
	if err := os.WriteFile(blocker, []byte("x"), 0644); err != nil {
		t.Fatalf("Failed to create blocker: %v", err)
	}

	bus := events.NewBus(10)
	s, err := NewSampler(filepath.Join(blocker, "resource_state.json"),
		WithCPUReader(&stubCPU{pct: 5}),
		WithTemperatureReader(stubTemps{}),
		WithPowerReader(&stubPower{}),
		WithPublisher(bus),
	)
	if err != nil {
		t.Fatalf("NewSampler failed: %v", err)
	}

	s.Cycle(context.Background())

	if _, ok := bus.Latest(events.TopicResourceState); !ok {
		t.Error("Expected snapshot to be published even though the write failed")
	}
}

func TestSampler_PublishesAndObserves(t *testing.T) {
	quietLogger(t)

	bus := events.NewBus(10)
	ch := bus.Subscribe(events.TopicResourceState)
	defer bus.Unsubscribe(events.TopicResourceState, ch)
	obs := &recordingObserver{}

	s := newTestSampler(t, &stubCPU{pct: 99}, WithPublisher(bus), WithObserver(obs))
	s.Cycle(context.Background())

	select {
	case ev := <-ch:
		var snap Snapshot
		if err := json.Unmarshal(ev.Payload, &snap); err != nil {
			t.Fatalf("Invalid payload: %v", err)
		}
		if !snap.Throttled || snap.CPUUsagePct != 99 {
			t.Errorf("Unexpected published snapshot: %+v", snap)
		}
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for resource_state event")
	}

	if len(obs.snapshots) != 1 {
		t.Errorf("Expected 1 observed snapshot, got %d", len(obs.snapshots))
	}
}

func TestSampler_RecordsThrottleTransitions(t *testing.T) {
	quietLogger(t)

	cpu := &stubCPU{pct: 10}
	log := &recordingThrottleLog{}
	s := newTestSampler(t, cpu, WithThrottleLog(log))
	ctx := context.Background()

	s.Cycle(ctx) // baseline, not throttled
	s.Cycle(ctx)
	cpu.set(90)
	s.Cycle(ctx) // throttled
	s.Cycle(ctx)
	cpu.set(20)
	s.Cycle(ctx) // recovered

	if len(log.changes) != 2 {
		t.Fatalf("Expected 2 transitions, got %d", len(log.changes))
	}
	if !log.changes[0].Throttled || log.changes[0].CPUUsagePct != 90 {
		t.Errorf("Unexpected first transition: %+v", log.changes[0])
	}
	if log.changes[1].Throttled {
		t.Errorf("Expected second transition to be recovery, got %+v", log.changes[1])
	}
}

func TestSampler_RunStopsOnCancel(t *testing.T) {
	quietLogger(t)

	s := newTestSampler(t, &stubCPU{pct: 1}, WithInterval(10*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, err := os.Stat(s.Path()); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("State file was never written")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
