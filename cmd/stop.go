package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"
)

func NewStopCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the sidecar",
		Long: `Stop the project-dawn-server sidecar. It receives SIGTERM first and is
killed if it has not exited within the configured stop timeout.

The daemon keeps running; use 'dawnhost quit' to stop it too.`,
		Aliases: []string{"down"},
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := sendAndLog("STOP"); err != nil {
				if err == errCommandFailed {
					return err
				}
				slog.Warn("Daemon is not running")
			}
			return nil
		},
	}
}
