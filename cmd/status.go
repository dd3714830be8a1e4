package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"go.olrik.dev/dawnhost/internal/daemon"
	"go.olrik.dev/dawnhost/internal/supervisor"
)

func NewStatusCommand() *cobra.Command {
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show whether the sidecar is running",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			response, err := daemon.SendCommand("STATUS")
			if err != nil {
				slog.Warn("Sidecar not running (daemon is not running).")
				return nil
			}

			var status supervisor.Status
			if err := response.DecodeData(&status); err != nil {
				return fmt.Errorf("failed to decode status: %w", err)
			}

			format, _ := cmd.Flags().GetString("output")
			return render(os.Stdout, format, status, func(w io.Writer) error {
				return statusTable(w, status)
			})
		},
	}
	addOutputFlag(statusCmd)

	return statusCmd
}

func statusTable(w io.Writer, s supervisor.Status) error {
	state := "stopped"
	switch {
	case s.Running && s.Exited:
		state = "exited"
	case s.Running:
		state = "running"
	}

	table := tablewriter.NewWriter(w)
	table.Header("Property", "Value")
	table.Append([]string{"Sidecar", state})
	table.Append([]string{"Port", strconv.Itoa(s.Port)})
	if s.Running {
		table.Append([]string{"PID", strconv.Itoa(s.PID)})
		table.Append([]string{"Launch ID", s.LaunchID})
		table.Append([]string{"Started", humanize.Time(s.StartedAt)})
		table.Append([]string{"Uptime", s.Uptime})
		table.Append([]string{"Memory", humanize.IBytes(s.RSSBytes)})
		table.Append([]string{"CPU", fmt.Sprintf("%.1f%%", s.CPUPercent)})
	}
	table.Append([]string{"Health monitor", onOff(s.HealthMonitor)})
	table.Append([]string{"Resource monitor", onOff(s.ResourceMonitor)})
	return table.Render()
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
