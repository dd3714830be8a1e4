package supervisor

import (
	"context"
	"log/slog"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// Status is a point-in-time view of the supervisor
type Status struct {
	Running         bool      `json:"running" yaml:"running"`
	Exited          bool      `json:"exited" yaml:"exited"`
	Port            int       `json:"port" yaml:"port"`
	PID             int       `json:"pid,omitempty" yaml:"pid,omitempty"`
	LaunchID        string    `json:"launch_id,omitempty" yaml:"launch_id,omitempty"`
	StartedAt       time.Time `json:"started_at,omitzero" yaml:"started_at,omitempty"`
	Uptime          string    `json:"uptime,omitempty" yaml:"uptime,omitempty"`
	RSSBytes        uint64    `json:"rss_bytes,omitempty" yaml:"rss_bytes,omitempty"`
	CPUPercent      float64   `json:"cpu_percent,omitempty" yaml:"cpu_percent,omitempty"`
	HealthMonitor   bool      `json:"health_monitor" yaml:"health_monitor"`
	ResourceMonitor bool      `json:"resource_monitor" yaml:"resource_monitor"`
}

// Details reports the held sidecar, if any, with its resource usage
func (s *Supervisor) Details(ctx context.Context) Status {
	st := Status{Port: s.cfg.Port}
	st.HealthMonitor, st.ResourceMonitor = s.state.flags()

	proc := s.state.current()
	if proc == nil {
		return st
	}

	st.Running = true
	st.Exited = proc.Exited()
	st.PID = proc.PID
	st.LaunchID = proc.LaunchID
	st.StartedAt = proc.StartedAt
	st.Uptime = time.Since(proc.StartedAt).Round(time.Second).String()

	if st.Exited {
		return st
	}

	p, err := process.NewProcessWithContext(ctx, int32(proc.PID))
	if err != nil {
		slog.Debug("Failed to inspect sidecar process", "pid", proc.PID, "error", err)
		return st
	}
	if mem, err := p.MemoryInfoWithContext(ctx); err == nil {
		st.RSSBytes = mem.RSS
	}
	if cpu, err := p.CPUPercentWithContext(ctx); err == nil {
		st.CPUPercent = cpu
	}
	return st
}
