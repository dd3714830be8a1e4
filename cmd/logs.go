package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"go.olrik.dev/dawnhost/internal/daemon"
)

func NewLogsCommand() *cobra.Command {
	var lines int
	var filter string
	var noColor bool

	logsCmd := &cobra.Command{
		Use:     "logs",
		Aliases: []string{"log"},
		Short:   "Stream daemon logs in real-time",
		Long: `Stream daemon logs in real-time, including sidecar output.

Press Ctrl+C to exit.

Examples:
  dawnhost logs              # Stream with the last 20 lines of history
  dawnhost logs -L 100       # Show 100 history lines on connect
  dawnhost logs -F sidecar   # Only lines mentioning "sidecar"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			err := daemon.StreamCommand(ctx, fmt.Sprintf("LOGS %d", lines), func(line string) {
				if filter != "" && !strings.Contains(strings.ToLower(stripANSI(line)), strings.ToLower(filter)) {
					return
				}
				if noColor {
					line = stripANSI(line)
				}
				fmt.Fprint(os.Stdout, line)
			})
			if err != nil {
				return fmt.Errorf("failed to stream logs: %w", err)
			}
			return nil
		},
	}

	logsCmd.Flags().IntVarP(&lines, "lines", "L", 20, "Number of history lines to show on connect")
	logsCmd.Flags().StringVarP(&filter, "filter", "F", "", "Only show lines containing this keyword")
	logsCmd.Flags().BoolVar(&noColor, "no-color", false, "Disable colored output")

	return logsCmd
}

// stripANSI removes ANSI escape codes from a string
func stripANSI(s string) string {
	var result strings.Builder
	inEscape := false

	for i := 0; i < len(s); i++ {
		if s[i] == '\033' {
			inEscape = true
			continue
		}
		if inEscape {
			if s[i] == 'm' {
				inEscape = false
			}
			continue
		}
		result.WriteByte(s[i])
	}

	return result.String()
}
