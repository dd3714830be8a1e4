package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"go.olrik.dev/dawnhost/internal/core"
	"go.olrik.dev/dawnhost/internal/daemon"
)

func NewRootCommand() *cobra.Command {
	var dataRoot string
	var verbose int

	rootCmd := &cobra.Command{
		Use:   "dawnhost",
		Short: "Dawnhost - Project Dawn desktop host",
		Long: `Dawnhost - Project Dawn desktop host

Verifies and supervises the project-dawn-server sidecar, samples host
resources for throttling, and serves the local API used by the UI.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := core.LoadConfigFromDataRoot(dataRoot)
			if err != nil {
				return err
			}
			if verbose > 0 {
				cfg.Verbose = verbose
			}
			core.Config = cfg

			slog.SetDefault(slog.New(daemon.NewLogHandler(os.Stderr, daemon.LogLevel(cfg.Verbose))))
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVar(
		&dataRoot, "data-root", core.ResolveDataRoot(),
		fmt.Sprintf("data root (also %s)", core.DataRootEnv),
	)
	rootCmd.PersistentFlags().CountVarP(&verbose, "verbose", "v", "more output, repeat for even more")

	rootCmd.AddCommand(
		NewDaemonCommand(),
		NewStartCommand(),
		NewStopCommand(),
		NewQuitCommand(),
		NewStatusCommand(),
		NewHealthCommand(),
		NewVerifyCommand(),
		NewResourcesCommand(),
		NewManifestCommand(),
		NewPeersCommand(),
		NewFeedCommand(),
		NewHistoryCommand(),
		NewLogsCommand(),
		NewVersionCommand(),
	)

	return rootCmd
}
