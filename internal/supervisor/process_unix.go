//go:build unix

package supervisor

import (
	"errors"
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// The sidecar leads its own process group so signals reach its children
func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}

func (p *Process) interrupt() error {
	return p.signal(unix.SIGTERM)
}

func (p *Process) kill() error {
	return p.signal(unix.SIGKILL)
}

// signal sends sig to the process group, falling back to the process alone
func (p *Process) signal(sig unix.Signal) error {
	if err := unix.Kill(-p.PID, sig); err == nil {
		return nil
	}
	return p.cmd.Process.Signal(sig)
}

func isGone(err error) bool {
	return errors.Is(err, os.ErrProcessDone) || errors.Is(err, unix.ESRCH)
}
