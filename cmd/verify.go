package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"go.olrik.dev/dawnhost/internal/core"
	"go.olrik.dev/dawnhost/internal/integrity"
)

func NewVerifyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Verify the sidecar executable against its published digest",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			algo, err := integrity.ParseAlgorithm(core.Config.Sidecar.Algorithm)
			if err != nil {
				return err
			}
			exe := core.Config.Sidecar.ExecutablePath()
			rec, err := integrity.Verify(exe, integrity.DigestPathFor(exe, algo), algo)
			if err != nil {
				return err
			}
			slog.Info(fmt.Sprintf("Sidecar verified: %s", rec.Path), "algorithm", rec.Algorithm, "digest", fmt.Sprintf("%x", rec.Actual))
			return nil
		},
	}
}
