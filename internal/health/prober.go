// Package health probes the sidecar's loopback port.
package health

import (
	"context"
	"log/slog"
	"net"
	"strconv"
	"time"
)

const (
	DefaultInterval = 5 * time.Second
	DefaultTimeout  = 2 * time.Second
)

// Check attempts a single TCP connection to 127.0.0.1:port. Any error,
// including the timeout, counts as unhealthy.
func Check(ctx context.Context, port int, timeout time.Duration) bool {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	dialer := net.Dialer{Timeout: timeout}
	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		slog.Debug("Health probe failed", "addr", addr, "error", err)
		return false
	}
	conn.Close()
	return true
}

// Observer is told about every probe result
type Observer interface {
	ObserveHealth(port int, healthy bool)
}

// Prober periodically checks the sidecar port. It only reports; it never
// restarts anything.
type Prober struct {
	Port     int
	Interval time.Duration
	Timeout  time.Duration
	Observer Observer
}

// NewProber creates a prober with the default interval and timeout
func NewProber(port int) *Prober {
	return &Prober{Port: port, Interval: DefaultInterval, Timeout: DefaultTimeout}
}

// Run probes every interval until ctx is cancelled. The first probe happens
// after one interval so a freshly started sidecar has time to bind.
func (p *Prober) Run(ctx context.Context) {
	interval := p.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}

	slog.Debug("Health prober started", "port", p.Port, "interval", interval)
	defer slog.Debug("Health prober stopped", "port", p.Port)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	healthy := true
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		ok := Check(ctx, p.Port, p.Timeout)
		if ctx.Err() != nil {
			return
		}

		switch {
		case !ok:
			slog.Warn("Sidecar health check failed", "port", p.Port)
		case !healthy:
			slog.Info("Sidecar health check recovered", "port", p.Port)
		}
		healthy = ok

		if p.Observer != nil {
			p.Observer.ObserveHealth(p.Port, ok)
		}
	}
}
