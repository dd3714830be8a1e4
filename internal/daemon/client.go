package daemon

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"syscall"
	"time"

	"go.olrik.dev/dawnhost/internal/core"
)

// ErrDaemonNotReady is returned when a launched daemon never opens its socket
var ErrDaemonNotReady = errors.New("daemon process was launched but socket was not created in time")

// SendCommand connects to the daemon, sends a command, and returns the response.
func SendCommand(command string) (Response, error) {
	response := Response{}

	conn, err := net.Dial("unix", core.GetSocketPath())
	if err != nil {
		return response, err
	}
	defer conn.Close()

	if _, err := conn.Write([]byte(command + "\n")); err != nil {
		return response, fmt.Errorf("failed to send command to daemon: %w", err)
	}
	bytes, err := io.ReadAll(conn)
	if err != nil {
		return response, fmt.Errorf("failed to read response from daemon: %w", err)
	}

	if err := json.Unmarshal(bytes, &response); err != nil {
		return response, fmt.Errorf("failed to parse response from daemon: %w", err)
	}

	return response, nil
}

// StreamCommand sends a streaming command and hands each line to fn until
// the daemon closes the connection or ctx is cancelled
func StreamCommand(ctx context.Context, command string, fn func(line string)) error {
	conn, err := net.Dial("unix", core.GetSocketPath())
	if err != nil {
		return err
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if _, err := conn.Write([]byte(command + "\n")); err != nil {
		return fmt.Errorf("failed to send command to daemon: %w", err)
	}

	reader := bufio.NewReader(conn)
	for {
		line, err := reader.ReadString('\n')
		if line != "" {
			fn(line)
		}
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
	}
}

// StartDaemon launches "<self> daemon" detached from the terminal
func StartDaemon(dataRoot string) error {
	cmd := exec.Command(os.Args[0], "--data-root", dataRoot, "daemon")
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("could not fork daemon process: %w", err)
	}
	slog.Debug(fmt.Sprintf("Daemon process launched with PID: %d", cmd.Process.Pid))

	// Reap the child if it dies early so it does not linger as a zombie
	go cmd.Wait()
	return nil
}

// WaitForDaemon polls the control socket until the daemon answers
func WaitForDaemon() error {
	for i := 0; i < 50; i++ {
		time.Sleep(100 * time.Millisecond)
		if _, err := SendCommand("VERSION"); err == nil {
			return nil
		}
	}
	return ErrDaemonNotReady
}

// EnsureDaemonIsRunning starts the daemon unless one already answers
func EnsureDaemonIsRunning(dataRoot string) error {
	if _, err := SendCommand("VERSION"); err == nil {
		return nil
	}

	slog.Info("Daemon not running. Starting it now...")
	if err := StartDaemon(dataRoot); err != nil {
		return err
	}
	return WaitForDaemon()
}
