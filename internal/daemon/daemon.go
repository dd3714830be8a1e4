// Package daemon is the long-running host process: it owns the sidecar
// supervisor, the resource sampler and the local control surfaces.
package daemon

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.olrik.dev/dawnhost/internal/api"
	"go.olrik.dev/dawnhost/internal/core"
	"go.olrik.dev/dawnhost/internal/datafiles"
	"go.olrik.dev/dawnhost/internal/db"
	"go.olrik.dev/dawnhost/internal/events"
	"go.olrik.dev/dawnhost/internal/health"
	"go.olrik.dev/dawnhost/internal/metrics"
	"go.olrik.dev/dawnhost/internal/resources"
	"go.olrik.dev/dawnhost/internal/supervisor"
)

// ErrAlreadyRunning is returned by Run when another daemon owns the socket
var ErrAlreadyRunning = errors.New("daemon is already running")

const eventHistorySize = 500

// Daemon wires the supervisor, sampler, bus, history and metrics together
type Daemon struct {
	cfg        *core.Configuration
	supervisor *supervisor.Supervisor
	sampler    *resources.Sampler
	bus        *events.Bus
	metrics    *metrics.Collector
	files      *datafiles.Reader
	database   *db.DB

	listener     net.Listener
	shutdownOnce sync.Once
	ctx          context.Context
	cancelFunc   context.CancelFunc
	apiDone      chan struct{}
}

// New builds a daemon from configuration without touching the filesystem
func New(cfg *core.Configuration) (*Daemon, error) {
	ctx, cancel := context.WithCancel(context.Background())
	d := &Daemon{
		cfg:        cfg,
		bus:        events.NewBus(eventHistorySize),
		metrics:    metrics.NewCollector(),
		files:      datafiles.NewReader(cfg.DataRoot),
		ctx:        ctx,
		cancelFunc: cancel,
	}

	sampler, err := resources.NewSampler(core.ResourceStatePath(cfg.DataRoot),
		resources.WithInterval(cfg.Resources.Interval),
		resources.WithThresholds(resources.Thresholds{
			CPU:         cfg.Resources.CPUThreshold,
			Temperature: cfg.Resources.TemperatureThreshold,
			Battery:     cfg.Resources.BatteryThreshold,
		}),
		resources.WithPublisher(d.bus),
		resources.WithObserver(d.metrics),
		resources.WithThrottleLog(d),
	)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create resource sampler: %w", err)
	}
	d.sampler = sampler

	supCfg, err := supervisor.ConfigFrom(cfg)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("invalid sidecar configuration: %w", err)
	}
	d.supervisor = supervisor.New(supCfg,
		supervisor.WithResourceLoop(sampler),
		supervisor.WithHealthObserver(d.metrics),
		supervisor.WithPublisher(d.bus),
		supervisor.WithEventLog(d),
		supervisor.WithObserver(d.metrics),
	)
	return d, nil
}

// LogSidecarEvent records a sidecar event when history is available
func (d *Daemon) LogSidecarEvent(launchID, eventType, details string) error {
	if d.database == nil {
		return nil
	}
	return d.database.LogSidecarEvent(launchID, eventType, details)
}

// LogThrottleChange records a throttle transition when history is available
func (d *Daemon) LogThrottleChange(c db.ThrottleChange) error {
	if d.database == nil {
		return nil
	}
	return d.database.LogThrottleChange(c)
}

// Run serves the control socket until shutdown
func (d *Daemon) Run() error {
	d.setupLogging()

	dbPath := core.GetDatabasePath()
	database, err := db.Open(dbPath)
	if err != nil {
		slog.Error("Failed to open database", "error", err, "path", dbPath)
	} else {
		// Closed explicitly in shutdown() once the final events are written
		d.database = database
		slog.Info("Database opened", "path", dbPath)

		version := core.FormatVersion(core.Version)
		if err := d.database.LogDaemonEvent("start", fmt.Sprintf("daemon started - version: %s, PID: %d", version, os.Getpid())); err != nil {
			slog.Error("Failed to log daemon start", "error", err)
		}
	}

	socketPath := core.GetSocketPath()
	pidFilePath := core.GetPIDFilePath()

	listener, err := listen(socketPath)
	if err != nil {
		d.shutdown()
		return err
	}
	d.listener = listener

	if err := os.WriteFile(pidFilePath, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		slog.Warn("Failed to write PID file", "path", pidFilePath, "error", err)
	}
	defer os.Remove(pidFilePath)
	defer os.Remove(socketPath)

	slog.Info(fmt.Sprintf("Daemon listening on %s", socketPath), "data_root", d.cfg.DataRoot)

	// The sampler runs for the host's whole life; Start will find it running
	d.supervisor.StartResourceMonitor(d.ctx)

	if err := d.startAPI(); err != nil {
		slog.Error("Failed to start API", "error", err)
	}

	shutdownChan := make(chan os.Signal, 1)
	signal.Notify(shutdownChan, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(shutdownChan)

	go func() {
		select {
		case <-shutdownChan:
			slog.Info("Shutdown signal received. Stopping sidecar.")
			d.shutdown()
			d.listener.Close()
		case <-d.ctx.Done():
		}
	}()

	for {
		conn, err := d.listener.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				slog.Info(fmt.Sprintf("Error accepting connection: %v", err))
			}
			break
		}
		go d.handleConnection(conn)
	}

	d.shutdown()
	return nil
}

// listen creates the control socket, replacing a stale one
func listen(socketPath string) (net.Listener, error) {
	listener, err := net.Listen("unix", socketPath)
	if err == nil {
		return listener, nil
	}
	if _, statErr := os.Stat(socketPath); statErr != nil {
		return nil, fmt.Errorf("could not create socket listener: %w", err)
	}

	// Socket file exists, see if a daemon is actually behind it
	if conn, dialErr := net.Dial("unix", socketPath); dialErr == nil {
		conn.Close()
		return nil, ErrAlreadyRunning
	}

	slog.Info(fmt.Sprintf("Removing stale socket file: %s", socketPath))
	if err := os.Remove(socketPath); err != nil {
		return nil, fmt.Errorf("could not remove stale socket: %w", err)
	}
	listener, err = net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("could not create socket listener: %w", err)
	}
	return listener, nil
}

func (d *Daemon) startAPI() error {
	if d.cfg.API.Listen == "" {
		return nil
	}

	metricsCollector := d.metrics
	if !d.cfg.API.Metrics {
		metricsCollector = nil
	}
	handler := api.NewHandler(d.supervisor, d.files, d.bus, metricsCollector)
	handler.SetHealthTimeout(d.cfg.Health.Timeout)

	srv, err := api.Listen(d.cfg.API.Listen, handler.Router())
	if err != nil {
		return err
	}

	d.apiDone = make(chan struct{})
	go func() {
		defer close(d.apiDone)
		if err := srv.Serve(d.ctx); err != nil {
			slog.Error("API server failed", "error", err)
		}
	}()
	return nil
}

func (d *Daemon) handleConnection(conn net.Conn) {
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	if !scanner.Scan() {
		return
	}

	parts := strings.Fields(scanner.Text())
	if len(parts) == 0 {
		return
	}
	command, args := parts[0], parts[1:]

	if command != "VERSION" && command != "STATUS" {
		slog.Debug(fmt.Sprintf("Executing command: %s %v", command, args))
	}

	var response Response
	switch command {
	case "STATUS":
		response = d.getStatus()
	case "START":
		response = d.startSidecar()
	case "STOP":
		response = d.stopSidecar()
	case "HEALTH":
		response = d.checkHealth(args)
	case "RESOURCES":
		response = d.getResources()
	case "HISTORY":
		response = d.getHistory(args)
	case "VERSION":
		response = d.getVersion()
	case "LOGS":
		lines := 20
		if len(args) > 0 {
			if n, err := strconv.Atoi(args[0]); err == nil && n >= 0 {
				lines = n
			}
		}
		d.handleLogs(conn, lines)
		return
	case "SHUTDOWN":
		response.AddMessage("Stopping daemon...", "INFO")
		conn.Write([]byte(response.ToJSON()))
		conn.Close()
		d.shutdown()
		if d.listener != nil {
			d.listener.Close()
		}
		return
	default:
		response.AddMessage(fmt.Sprintf("Unknown command: %s", command), "ERROR")
	}

	conn.Write([]byte(response.ToJSON()))
}

func (d *Daemon) getStatus() Response {
	response := Response{}
	status := d.supervisor.Details(d.ctx)
	switch {
	case status.Running && status.Exited:
		response.AddMessage("Sidecar has exited", "WARN")
	case status.Running:
		response.AddMessage("Sidecar running", "INFO")
	default:
		response.AddMessage("Sidecar not running", "WARN")
	}
	response.AddData(status)
	return response
}

func (d *Daemon) startSidecar() Response {
	response := Response{}
	wasRunning := d.supervisor.Status()

	running, err := d.supervisor.Start(d.ctx)
	if err != nil {
		response.AddMessage(fmt.Sprintf("Failed to start sidecar: %v", err), "ERROR")
		return response
	}
	if wasRunning {
		response.AddMessage("Sidecar is already running", "INFO")
	} else {
		response.AddMessage(fmt.Sprintf("Sidecar started on port %d", d.supervisor.Port()), "INFO")
	}
	response.AddData(running)
	return response
}

func (d *Daemon) stopSidecar() Response {
	response := Response{}
	stopped, err := d.supervisor.Stop()
	if err != nil {
		response.AddMessage(err.Error(), "ERROR")
		return response
	}
	if stopped {
		response.AddMessage("Sidecar stopped", "INFO")
	} else {
		response.AddMessage("Sidecar not running", "WARN")
	}
	response.AddData(stopped)
	return response
}

// HealthResult is the data of a HEALTH response
type HealthResult struct {
	Port    int  `json:"port" yaml:"port"`
	Healthy bool `json:"healthy" yaml:"healthy"`
}

func (d *Daemon) checkHealth(args []string) Response {
	response := Response{}
	port := d.supervisor.Port()
	if len(args) > 0 {
		p, err := strconv.Atoi(args[0])
		if err != nil || p < 1 || p > 65535 {
			response.AddMessage(fmt.Sprintf("Invalid port: %s", args[0]), "ERROR")
			return response
		}
		port = p
	}

	ctx, cancel := context.WithTimeout(d.ctx, d.cfg.Health.Timeout+time.Second)
	defer cancel()
	healthy := health.Check(ctx, port, d.cfg.Health.Timeout)
	if healthy {
		response.AddMessage(fmt.Sprintf("Port %d is healthy", port), "INFO")
	} else {
		response.AddMessage(fmt.Sprintf("Port %d is not responding", port), "WARN")
	}
	response.AddData(HealthResult{Port: port, Healthy: healthy})
	return response
}

func (d *Daemon) getResources() Response {
	response := Response{}
	if ev, ok := d.bus.Latest(events.TopicResourceState); ok {
		response.AddMessage("OK", "INFO")
		response.AddData(ev.Payload)
		return response
	}

	// Nothing sampled yet in this process; fall back to the last persisted state
	content, ok, err := d.files.ResourceState()
	switch {
	case err != nil:
		response.AddMessage(err.Error(), "ERROR")
	case !ok:
		response.AddMessage("No resource state recorded yet", "WARN")
	default:
		response.AddMessage("OK", "INFO")
		response.AddData(json.RawMessage(content))
	}
	return response
}

// History is the data of a HISTORY response
type History struct {
	Sidecar  []db.SidecarEvent   `json:"sidecar"`
	Throttle []db.ThrottleChange `json:"throttle"`
	Daemon   []db.DaemonEvent    `json:"daemon"`
}

func (d *Daemon) getHistory(args []string) Response {
	response := Response{}
	if d.database == nil {
		response.AddMessage("History is unavailable (database not open)", "ERROR")
		return response
	}

	limit := 20
	if len(args) > 0 {
		if n, err := strconv.Atoi(args[0]); err == nil && n > 0 {
			limit = n
		}
	}

	var history History
	var err error
	if history.Sidecar, err = d.database.GetRecentSidecarEvents(limit); err != nil {
		response.AddMessage(fmt.Sprintf("Failed to read sidecar events: %v", err), "ERROR")
		return response
	}
	if history.Throttle, err = d.database.GetRecentThrottleChanges(limit); err != nil {
		response.AddMessage(fmt.Sprintf("Failed to read throttle changes: %v", err), "ERROR")
		return response
	}
	if history.Daemon, err = d.database.GetRecentDaemonEvents(limit); err != nil {
		response.AddMessage(fmt.Sprintf("Failed to read daemon events: %v", err), "ERROR")
		return response
	}

	response.AddMessage("OK", "INFO")
	response.AddData(history)
	return response
}

func (d *Daemon) getVersion() Response {
	response := Response{}
	response.AddMessage("OK", "INFO")
	response.AddData(map[string]any{
		"version":   core.Version,
		"pid":       os.Getpid(),
		"data_root": d.cfg.DataRoot,
	})
	return response
}

// shutdown stops the sidecar, joins the background loops and closes the
// database. It runs once no matter how many paths trigger it.
func (d *Daemon) shutdown() {
	d.shutdownOnce.Do(func() {
		slog.Info("Executing shutdown sequence...")

		wasRunning := d.supervisor.Status()
		d.supervisor.Shutdown()
		d.cancelFunc()
		d.supervisor.Wait()
		if d.apiDone != nil {
			<-d.apiDone
		}

		if d.database != nil {
			version := core.FormatVersion(core.Version)
			details := fmt.Sprintf("daemon stopped - version: %s, PID: %d, sidecar running: %v", version, os.Getpid(), wasRunning)
			if err := d.database.LogDaemonEvent("stop", details); err != nil {
				slog.Error("Failed to log daemon stop event", "error", err)
			}
			if err := d.database.Flush(); err != nil {
				slog.Error("Failed to flush database during shutdown", "error", err)
			}
			if err := d.database.Close(); err != nil {
				slog.Error("Failed to close database during shutdown", "error", err)
			} else {
				slog.Info("Database closed successfully")
			}
		}
	})
}
