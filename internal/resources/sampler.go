package resources

import (
	"context"
	"log/slog"
	"time"

	"go.olrik.dev/dawnhost/internal/db"
	"go.olrik.dev/dawnhost/internal/events"
	"go.olrik.dev/dawnhost/internal/statefile"
)

// DefaultInterval between sampling cycles
const DefaultInterval = 5 * time.Second

// Publisher receives every snapshot, typically the event bus
type Publisher interface {
	Publish(topic string, payload any) error
}

// Observer is told about every snapshot, typically the metrics collector
type Observer interface {
	ObserveSnapshot(Snapshot)
}

// ThrottleLog records transitions of the throttled flag
type ThrottleLog interface {
	LogThrottleChange(db.ThrottleChange) error
}

// Sampler periodically samples the host and persists the result
type Sampler struct {
	writer     *statefile.FileWriter
	interval   time.Duration
	thresholds Thresholds

	cpu   CPUReader
	temps TemperatureReader
	power PowerReader

	publisher Publisher
	observer  Observer
	history   ThrottleLog
	now       func() time.Time

	lastThrottled *bool // Only touched by the Run goroutine
}

// Option configures a Sampler
type Option func(*Sampler)

func WithInterval(d time.Duration) Option {
	return func(s *Sampler) {
		if d > 0 {
			s.interval = d
		}
	}
}

func WithThresholds(t Thresholds) Option {
	return func(s *Sampler) { s.thresholds = t }
}

func WithCPUReader(r CPUReader) Option {
	return func(s *Sampler) { s.cpu = r }
}

func WithTemperatureReader(r TemperatureReader) Option {
	return func(s *Sampler) { s.temps = r }
}

func WithPowerReader(r PowerReader) Option {
	return func(s *Sampler) { s.power = r }
}

func WithPublisher(p Publisher) Option {
	return func(s *Sampler) { s.publisher = p }
}

func WithObserver(o Observer) Option {
	return func(s *Sampler) { s.observer = o }
}

func WithThrottleLog(l ThrottleLog) Option {
	return func(s *Sampler) { s.history = l }
}

func withClock(now func() time.Time) Option {
	return func(s *Sampler) { s.now = now }
}

// NewSampler creates a sampler persisting snapshots to statePath
func NewSampler(statePath string, opts ...Option) (*Sampler, error) {
	writer, err := statefile.NewFileWriter(statePath)
	if err != nil {
		return nil, err
	}

	s := &Sampler{
		writer:     writer,
		interval:   DefaultInterval,
		thresholds: DefaultThresholds(),
		cpu:        GopsutilCPU{},
		temps:      GopsutilTemperatures{},
		power:      DefaultPowerReader(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Path returns the state file the sampler writes
func (s *Sampler) Path() string {
	return s.writer.Path()
}

// Sample reads all sensors once. Individual read failures are logged and
// leave the corresponding value zero or absent.
func (s *Sampler) Sample(ctx context.Context) Snapshot {
	cpuPct, err := s.cpu.CPUPercent(ctx)
	if err != nil {
		slog.Debug("Failed to read CPU usage", "error", err)
		cpuPct = 0
	}

	var temp *float64
	if sensors, err := s.temps.Temperatures(ctx); err != nil {
		slog.Debug("Failed to read temperature sensors", "error", err)
	} else {
		temp = CPUTemperature(sensors)
	}

	power, err := s.power.PowerStatus(ctx)
	if err != nil {
		slog.Debug("Failed to read power status", "error", err)
		power = PowerStatus{}
	}

	return NewSnapshot(s.now(), cpuPct, temp, power, s.thresholds)
}

// Cycle samples once, persists and publishes the snapshot. Write and
// publish failures are logged, never returned.
func (s *Sampler) Cycle(ctx context.Context) Snapshot {
	snap := s.Sample(ctx)

	if err := s.writer.WriteJSON(snap); err != nil {
		slog.Warn("Failed to write resource state", "path", s.writer.Path(), "error", err)
	}

	if s.publisher != nil {
		if err := s.publisher.Publish(events.TopicResourceState, snap); err != nil {
			slog.Warn("Failed to publish resource state", "error", err)
		}
	}

	if s.observer != nil {
		s.observer.ObserveSnapshot(snap)
	}

	s.recordTransition(snap)
	return snap
}

func (s *Sampler) recordTransition(snap Snapshot) {
	if s.lastThrottled != nil && *s.lastThrottled == snap.Throttled {
		return
	}
	first := s.lastThrottled == nil
	throttled := snap.Throttled
	s.lastThrottled = &throttled

	// The first cycle only establishes a baseline unless it is already throttled
	if first && !throttled {
		return
	}

	if throttled {
		slog.Warn("Host resources constrained, throttling",
			"cpu", snap.CPUUsagePct, "temp", snap.CPUTempC, "battery", snap.BatteryPct, "ac", snap.OnACPower)
	} else {
		slog.Info("Host resources recovered")
	}

	if s.history == nil {
		return
	}
	err := s.history.LogThrottleChange(db.ThrottleChange{
		Throttled:   snap.Throttled,
		CPUUsagePct: snap.CPUUsagePct,
		CPUTempC:    snap.CPUTempC,
		BatteryPct:  snap.BatteryPct,
		OnACPower:   snap.OnACPower,
	})
	if err != nil {
		slog.Warn("Failed to record throttle change", "error", err)
	}
}

// Run samples immediately and then every interval until ctx is cancelled
func (s *Sampler) Run(ctx context.Context) {
	slog.Debug("Resource sampler started", "interval", s.interval, "path", s.writer.Path())
	defer slog.Debug("Resource sampler stopped")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.Cycle(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
