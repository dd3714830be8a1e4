package cmd

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"go.olrik.dev/dawnhost/internal/daemon"
)

func NewHistoryCommand() *cobra.Command {
	var limit int

	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent sidecar, throttle and daemon events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			response, err := daemon.SendCommand(fmt.Sprintf("HISTORY %d", limit))
			if err != nil {
				return fmt.Errorf("daemon is not running: %w", err)
			}
			if response.HasError() {
				response.LogMessages()
				return errCommandFailed
			}

			var history daemon.History
			if err := response.DecodeData(&history); err != nil {
				return fmt.Errorf("failed to decode history: %w", err)
			}

			format, _ := cmd.Flags().GetString("output")
			return render(os.Stdout, format, history, func(w io.Writer) error {
				return historyTables(w, history)
			})
		},
	}
	historyCmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of events per table")
	addOutputFlag(historyCmd)

	return historyCmd
}

func historyTables(w io.Writer, h daemon.History) error {
	fmt.Fprintln(w, "Sidecar events:")
	sidecar := tablewriter.NewWriter(w)
	sidecar.Header("When", "Launch", "Event", "Details")
	for _, e := range h.Sidecar {
		sidecar.Append([]string{humanize.Time(e.Timestamp), shortID(e.LaunchID), e.EventType, e.Details})
	}
	if err := sidecar.Render(); err != nil {
		return err
	}

	fmt.Fprintln(w, "\nThrottle changes:")
	throttle := tablewriter.NewWriter(w)
	throttle.Header("When", "Throttled", "CPU", "Temp", "Battery", "AC")
	for _, c := range h.Throttle {
		throttle.Append([]string{
			humanize.Time(c.Timestamp),
			strconv.FormatBool(c.Throttled),
			fmt.Sprintf("%.1f%%", c.CPUUsagePct),
			optional(c.CPUTempC, "%.1f°C"),
			optional(c.BatteryPct, "%.0f%%"),
			optional(c.OnACPower, "%t"),
		})
	}
	if err := throttle.Render(); err != nil {
		return err
	}

	fmt.Fprintln(w, "\nDaemon events:")
	daemonTable := tablewriter.NewWriter(w)
	daemonTable.Header("When", "Event", "Details")
	for _, e := range h.Daemon {
		daemonTable.Append([]string{humanize.Time(e.Timestamp), e.EventType, e.Details})
	}
	return daemonTable.Render()
}

// shortID trims a launch ID to its first block for table display
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
