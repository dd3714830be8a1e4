package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"go.olrik.dev/dawnhost/internal/core"
	"go.olrik.dev/dawnhost/internal/datafiles"
)

// newPassthroughCommand prints a JSON data file verbatim
func newPassthroughCommand(use, short string, read func(*datafiles.Reader) (string, bool, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			content, ok, err := read(datafiles.NewReader(core.Config.DataRoot))
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%s not found under %s", use, core.Config.DataRoot)
			}
			fmt.Fprintln(os.Stdout, content)
			return nil
		},
	}
}

func NewManifestCommand() *cobra.Command {
	return newPassthroughCommand("manifest", "Print the vault manifest", (*datafiles.Reader).Manifest)
}

func NewPeersCommand() *cobra.Command {
	return newPassthroughCommand("peers", "Print the mesh peer list", (*datafiles.Reader).Peers)
}

func NewFeedCommand() *cobra.Command {
	var limit int

	feedCmd := &cobra.Command{
		Use:   "feed",
		Short: "Print the most recent agent feed entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			lines, err := datafiles.NewReader(core.Config.DataRoot).Feed(limit)
			if err != nil {
				return err
			}
			for _, line := range lines {
				fmt.Fprintln(os.Stdout, line)
			}
			return nil
		},
	}
	feedCmd.Flags().IntVarP(&limit, "limit", "n", datafiles.DefaultFeedLimit, "Number of entries to show")

	return feedCmd
}
