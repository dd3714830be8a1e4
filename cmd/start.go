package cmd

import (
	"errors"

	"github.com/spf13/cobra"

	"go.olrik.dev/dawnhost/internal/core"
	"go.olrik.dev/dawnhost/internal/daemon"
)

var errCommandFailed = errors.New("command failed")

// sendAndLog sends command to the daemon and logs its messages
func sendAndLog(command string) (daemon.Response, error) {
	response, err := daemon.SendCommand(command)
	if err != nil {
		return response, err
	}
	response.LogMessages()
	if response.HasError() {
		return response, errCommandFailed
	}
	return response, nil
}

func NewStartCommand() *cobra.Command {
	var hostOnly bool

	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start the host daemon and the sidecar",
		Long: `Start the host daemon in the background if it is not running, then
verify and launch the project-dawn-server sidecar.

If the sidecar is already running this is a no-op.`,
		Aliases: []string{"up"},
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := daemon.EnsureDaemonIsRunning(core.Config.DataRoot); err != nil {
				return err
			}
			if hostOnly {
				return nil
			}
			_, err := sendAndLog("START")
			return err
		},
	}
	startCmd.Flags().BoolVar(&hostOnly, "host-only", false, "Start the daemon without launching the sidecar")

	return startCmd
}
