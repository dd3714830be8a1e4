package supervisor

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"time"
)

// killWait bounds how long we wait for the kernel to reap after SIGKILL
const killWait = 2 * time.Second

// Process is a spawned sidecar. It is owned by the supervisor state and
// leaves it only through takeProcess.
type Process struct {
	LaunchID  string
	PID       int
	StartedAt time.Time

	cmd  *exec.Cmd
	done chan struct{}
	err  error // Exit status, valid once done is closed
}

// Done is closed when the process has exited and been reaped
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Exited reports whether the process has exited
func (p *Process) Exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// ExitErr returns the result of waiting on the process, nil while running
func (p *Process) ExitErr() error {
	if !p.Exited() {
		return nil
	}
	return p.err
}

// spawn starts path with its stdout and stderr connected to fresh pipes and
// returns the read ends, which the caller must drain and close. The write
// ends are plain files so Wait never blocks on our readers.
func spawn(path string, args, env []string, launchID string) (*Process, io.ReadCloser, io.ReadCloser, error) {
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		stdoutR.Close()
		stdoutW.Close()
		return nil, nil, nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	cmd := exec.Command(path, args...)
	cmd.Env = env
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW
	cmd.SysProcAttr = sysProcAttr()

	if err := cmd.Start(); err != nil {
		stdoutR.Close()
		stdoutW.Close()
		stderrR.Close()
		stderrW.Close()
		return nil, nil, nil, fmt.Errorf("failed to start sidecar: %w", err)
	}

	// The child holds its own copies now
	stdoutW.Close()
	stderrW.Close()

	p := &Process{
		LaunchID:  launchID,
		PID:       cmd.Process.Pid,
		StartedAt: time.Now(),
		cmd:       cmd,
		done:      make(chan struct{}),
	}

	go func() {
		p.err = cmd.Wait()
		close(p.done)
	}()

	return p, stdoutR, stderrR, nil
}

// terminate asks the process group to exit with SIGTERM, waits up to
// timeout and then sends SIGKILL. A process that is already gone counts as
// terminated.
func (p *Process) terminate(timeout time.Duration) error {
	if p.Exited() {
		return nil
	}

	if err := p.interrupt(); err != nil {
		if isGone(err) {
			return nil
		}
		slog.Warn("Failed to send SIGTERM to sidecar, forcing kill", "pid", p.PID, "error", err)
		return p.forceKill()
	}

	select {
	case <-p.done:
		slog.Info("Sidecar terminated gracefully", "pid", p.PID)
		return nil
	case <-time.After(timeout):
	}

	slog.Warn("Sidecar did not exit in time, forcing kill", "pid", p.PID, "timeout", timeout)
	return p.forceKill()
}

func (p *Process) forceKill() error {
	if err := p.kill(); err != nil && !isGone(err) {
		return err
	}
	select {
	case <-p.done:
		return nil
	case <-time.After(killWait):
		slog.Error("Sidecar survived SIGKILL", "pid", p.PID)
		return fmt.Errorf("process %d survived SIGKILL", p.PID)
	}
}
