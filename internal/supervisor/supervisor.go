// Package supervisor launches, tracks and stops the project-dawn-server
// sidecar and owns the background monitoring loops that accompany it.
package supervisor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"go.olrik.dev/dawnhost/internal/core"
	"go.olrik.dev/dawnhost/internal/events"
	"go.olrik.dev/dawnhost/internal/health"
	"go.olrik.dev/dawnhost/internal/integrity"
)

// ErrShutdown is returned by Start once the supervisor has been shut down
var ErrShutdown = errors.New("supervisor is shut down")

// Config describes the sidecar and how to run it
type Config struct {
	ExecutablePath string
	DigestPath     string // Defaults to the algorithm's sibling of ExecutablePath
	Algorithm      integrity.Algorithm
	DataRoot       string // Passed to the sidecar in PROJECT_DAWN_DATA_ROOT
	Port           int
	Args           []string
	Environment    map[string]string
	StopTimeout    time.Duration
	HealthInterval time.Duration
	HealthTimeout  time.Duration
}

// ConfigFrom builds a supervisor config from the host configuration
func ConfigFrom(cfg *core.Configuration) (Config, error) {
	algo, err := integrity.ParseAlgorithm(cfg.Sidecar.Algorithm)
	if err != nil {
		return Config{}, err
	}
	return Config{
		ExecutablePath: cfg.Sidecar.ExecutablePath(),
		Algorithm:      algo,
		DataRoot:       cfg.DataRoot,
		Port:           cfg.Sidecar.Port,
		Args:           cfg.Sidecar.Args,
		Environment:    cfg.Sidecar.Environment,
		StopTimeout:    cfg.Sidecar.StopTimeout,
		HealthInterval: cfg.Health.Interval,
		HealthTimeout:  cfg.Health.Timeout,
	}, nil
}

// Loop is a background task that runs until its context is cancelled
type Loop interface {
	Run(ctx context.Context)
}

// Publisher receives sidecar output lines and lifecycle events
type Publisher interface {
	Publish(topic string, payload any) error
}

// EventLog records sidecar lifecycle events
type EventLog interface {
	LogSidecarEvent(launchID, eventType, details string) error
}

// Observer is told about lifecycle transitions, typically for metrics
type Observer interface {
	SidecarStarted()
	SidecarStopped()
	IntegrityFailed()
}

// Supervisor owns at most one sidecar process and the two monitor loops
type Supervisor struct {
	cfg   Config
	state state

	// launchMu serializes verify+spawn so concurrent Starts spawn once;
	// the state lock is never held across a spawn
	launchMu sync.Mutex

	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	shutdownOnce sync.Once

	healthLoop     Loop
	resourceLoop   Loop
	healthObserver health.Observer
	publisher      Publisher
	eventLog       EventLog
	observer       Observer
}

// Option configures a Supervisor
type Option func(*Supervisor)

// WithResourceLoop sets the loop started by StartResourceMonitor
func WithResourceLoop(l Loop) Option {
	return func(s *Supervisor) { s.resourceLoop = l }
}

// WithHealthLoop replaces the default port prober
func WithHealthLoop(l Loop) Option {
	return func(s *Supervisor) { s.healthLoop = l }
}

// WithHealthObserver receives the default prober's results
func WithHealthObserver(o health.Observer) Option {
	return func(s *Supervisor) { s.healthObserver = o }
}

func WithPublisher(p Publisher) Option {
	return func(s *Supervisor) { s.publisher = p }
}

func WithEventLog(l EventLog) Option {
	return func(s *Supervisor) { s.eventLog = l }
}

func WithObserver(o Observer) Option {
	return func(s *Supervisor) { s.observer = o }
}

// New creates a supervisor. Nothing is started until Start is called.
func New(cfg Config, opts ...Option) *Supervisor {
	if cfg.Algorithm == "" {
		cfg.Algorithm = integrity.SHA256
	}
	if cfg.DigestPath == "" {
		cfg.DigestPath = integrity.DigestPathFor(cfg.ExecutablePath, cfg.Algorithm)
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 5 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Supervisor{cfg: cfg, ctx: ctx, cancel: cancel}
	for _, opt := range opts {
		opt(s)
	}

	if s.healthLoop == nil {
		p := health.NewProber(cfg.Port)
		if cfg.HealthInterval > 0 {
			p.Interval = cfg.HealthInterval
		}
		if cfg.HealthTimeout > 0 {
			p.Timeout = cfg.HealthTimeout
		}
		p.Observer = s.healthObserver
		s.healthLoop = p
	}
	return s
}

// Port returns the port the sidecar is expected to listen on
func (s *Supervisor) Port() int {
	return s.cfg.Port
}

// Start verifies and launches the sidecar unless one is already held.
// It reports whether the sidecar is running.
func (s *Supervisor) Start(ctx context.Context) (bool, error) {
	s.launchMu.Lock()
	defer s.launchMu.Unlock()

	if s.ctx.Err() != nil {
		return false, ErrShutdown
	}
	if s.state.present() {
		return true, nil
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	record, err := integrity.Verify(s.cfg.ExecutablePath, s.cfg.DigestPath, s.cfg.Algorithm)
	if err != nil {
		slog.Error("Sidecar integrity check failed", "path", s.cfg.ExecutablePath, "error", err)
		s.logEvent("", "integrity_failed", err.Error())
		if s.observer != nil {
			s.observer.IntegrityFailed()
		}
		return false, err
	}
	slog.Debug("Sidecar integrity verified", "path", record.Path, "algorithm", record.Algorithm)

	launchID := uuid.NewString()
	proc, stdout, stderr, err := spawn(s.cfg.ExecutablePath, s.cfg.Args, s.environment(), launchID)
	if err != nil {
		slog.Error("Failed to start sidecar", "path", s.cfg.ExecutablePath, "error", err)
		s.logEvent(launchID, "start_failed", err.Error())
		return false, err
	}
	s.state.store(proc)

	s.wg.Add(2)
	go s.drain(launchID, "stdout", stdout)
	go s.drain(launchID, "stderr", stderr)

	slog.Info("Sidecar started", "pid", proc.PID, "port", s.cfg.Port, "launch_id", launchID)
	s.logEvent(launchID, "started", fmt.Sprintf("PID: %d", proc.PID))
	s.publishLifecycle("started", proc)
	if s.observer != nil {
		s.observer.SidecarStarted()
	}

	go s.watchExit(proc)

	s.StartHealthMonitor(s.ctx)
	s.StartResourceMonitor(s.ctx)

	return true, nil
}

// Stop takes the sidecar out of state and terminates it. It reports false
// without error when nothing was running.
func (s *Supervisor) Stop() (bool, error) {
	proc := s.state.takeProcess()
	if proc == nil {
		return false, nil
	}
	return true, s.terminate(proc, "stopped")
}

// Status reports whether a sidecar handle is held
func (s *Supervisor) Status() bool {
	return s.state.present()
}

// StartHealthMonitor starts the port prober once for the supervisor's
// lifetime and reports whether this call started it
func (s *Supervisor) StartHealthMonitor(ctx context.Context) bool {
	if s.ctx.Err() != nil || !s.state.claimHealthTask() {
		return false
	}
	s.runLoop(ctx, "health", s.healthLoop)
	return true
}

// StartResourceMonitor starts the resource sampler once for the
// supervisor's lifetime and reports whether this call started it
func (s *Supervisor) StartResourceMonitor(ctx context.Context) bool {
	if s.resourceLoop == nil || s.ctx.Err() != nil {
		return false
	}
	if !s.state.claimResourceTask() {
		return false
	}
	s.runLoop(ctx, "resources", s.resourceLoop)
	return true
}

// Shutdown terminates the sidecar, taking it out of state first, and then
// cancels the monitor loops. Safe to call more than once.
func (s *Supervisor) Shutdown() {
	s.shutdownOnce.Do(func() {
		s.launchMu.Lock()
		proc := s.state.takeProcess()
		s.cancel()
		s.launchMu.Unlock()

		if proc != nil {
			if err := s.terminate(proc, "shutdown"); err != nil {
				slog.Error("Failed to terminate sidecar during shutdown", "error", err)
			}
		}
	})
}

// Wait blocks until every monitor loop and output drain has returned
func (s *Supervisor) Wait() {
	s.wg.Wait()
}

func (s *Supervisor) runLoop(ctx context.Context, name string, loop Loop) {
	loopCtx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(s.ctx, cancel)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		defer stop()
		slog.Debug("Monitor loop started", "loop", name)
		loop.Run(loopCtx)
		slog.Debug("Monitor loop finished", "loop", name)
	}()
}

func (s *Supervisor) terminate(proc *Process, event string) error {
	slog.Info("Stopping sidecar", "pid", proc.PID, "launch_id", proc.LaunchID)
	err := proc.terminate(s.cfg.StopTimeout)
	if err != nil {
		s.logEvent(proc.LaunchID, "stop_failed", err.Error())
		return fmt.Errorf("failed to stop sidecar: %w", err)
	}
	s.logEvent(proc.LaunchID, event, fmt.Sprintf("PID: %d", proc.PID))
	s.publishLifecycle(event, proc)
	if s.observer != nil {
		s.observer.SidecarStopped()
	}
	return nil
}

// watchExit reports a sidecar that exits while still held in state. The
// handle stays in place; nothing is restarted.
func (s *Supervisor) watchExit(proc *Process) {
	<-proc.Done()
	if s.state.current() != proc {
		return
	}
	details := "exited"
	if err := proc.ExitErr(); err != nil {
		details = err.Error()
	}
	slog.Warn("Sidecar exited unexpectedly", "pid", proc.PID, "launch_id", proc.LaunchID, "status", details)
	s.logEvent(proc.LaunchID, "exited", details)
	s.publishLifecycle("exited", proc)
}

func (s *Supervisor) environment() []string {
	env := append(os.Environ(), core.DataRootEnv+"="+s.cfg.DataRoot)

	keys := make([]string, 0, len(s.cfg.Environment))
	for k := range s.cfg.Environment {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+s.cfg.Environment[k])
	}
	return env
}

// sidecarLine is one line of sidecar output on the bus
type sidecarLine struct {
	LaunchID string `json:"launch_id"`
	Stream   string `json:"stream"`
	Line     string `json:"line"`
}

// drain forwards one output stream line by line until the sidecar and any
// children holding the pipe have exited
func (s *Supervisor) drain(launchID, stream string, r io.ReadCloser) {
	defer s.wg.Done()
	defer r.Close()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		slog.Info("sidecar", "stream", stream, "line", line)
		if s.publisher != nil {
			s.publisher.Publish(events.TopicSidecarLog, sidecarLine{LaunchID: launchID, Stream: stream, Line: line})
		}
	}
	if err := scanner.Err(); err != nil {
		slog.Debug("Sidecar output stream closed", "stream", stream, "error", err)
	}
}

// Lifecycle is published on the sidecar topic
type Lifecycle struct {
	Event    string    `json:"event"`
	LaunchID string    `json:"launch_id"`
	PID      int       `json:"pid"`
	Time     time.Time `json:"time"`
}

func (s *Supervisor) publishLifecycle(event string, proc *Process) {
	if s.publisher == nil {
		return
	}
	err := s.publisher.Publish(events.TopicSidecar, Lifecycle{
		Event:    event,
		LaunchID: proc.LaunchID,
		PID:      proc.PID,
		Time:     time.Now(),
	})
	if err != nil {
		slog.Debug("Failed to publish sidecar event", "error", err)
	}
}

func (s *Supervisor) logEvent(launchID, eventType, details string) {
	if s.eventLog == nil {
		return
	}
	if err := s.eventLog.LogSidecarEvent(launchID, eventType, details); err != nil {
		slog.Error("Failed to log sidecar event", "error", err)
	}
}
