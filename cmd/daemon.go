package cmd

import (
	"github.com/spf13/cobra"

	"go.olrik.dev/dawnhost/internal/core"
	"go.olrik.dev/dawnhost/internal/daemon"
)

func NewDaemonCommand() *cobra.Command {
	return &cobra.Command{
		Use:    "daemon",
		Short:  "Run the host in the foreground",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := daemon.New(core.Config)
			if err != nil {
				return err
			}
			return d.Run()
		},
	}
}
