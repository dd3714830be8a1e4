package cmd

import (
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"go.olrik.dev/dawnhost/internal/daemon"
)

func NewQuitCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "quit",
		Aliases: []string{"exit", "shutdown"},
		Short:   "Stop the sidecar and shut down the daemon",
		Args:    cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			if _, err := sendAndLog("SHUTDOWN"); err != nil {
				slog.Warn("Daemon is not running")
				return
			}

			// Poll for up to 10 seconds; the sidecar may take its full stop timeout
			maxWait := 10 * time.Second
			pollInterval := 100 * time.Millisecond
			for elapsed := time.Duration(0); elapsed < maxWait; elapsed += pollInterval {
				time.Sleep(pollInterval)
				if _, err := daemon.SendCommand("VERSION"); err != nil {
					slog.Debug("Daemon shutdown confirmed")
					return
				}
			}

			slog.Warn("Daemon did not shut down within timeout, but shutdown was requested")
		},
	}
}
