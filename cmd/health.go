package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/spf13/cobra"

	"go.olrik.dev/dawnhost/internal/core"
	"go.olrik.dev/dawnhost/internal/health"
)

func NewHealthCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "health [port]",
		Short: "Check whether a local port accepts connections",
		Long: `Check whether something accepts TCP connections on 127.0.0.1:<port>.
Defaults to the configured sidecar port. Exits non-zero when unhealthy.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			port := core.Config.Sidecar.Port
			if len(args) == 1 {
				p, err := strconv.Atoi(args[0])
				if err != nil || p < 1 || p > 65535 {
					return fmt.Errorf("invalid port %q", args[0])
				}
				port = p
			}

			if !health.Check(context.Background(), port, core.Config.Health.Timeout) {
				return fmt.Errorf("port %d is not responding", port)
			}
			slog.Info(fmt.Sprintf("Port %d is healthy", port))
			return nil
		},
	}
}
