package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"go.olrik.dev/dawnhost/internal/core"
	"go.olrik.dev/dawnhost/internal/daemon"
	"go.olrik.dev/dawnhost/internal/datafiles"
	"go.olrik.dev/dawnhost/internal/resources"
)

func NewResourcesCommand() *cobra.Command {
	var watch bool

	resourcesCmd := &cobra.Command{
		Use:     "resources",
		Aliases: []string{"res"},
		Short:   "Show the latest host resource snapshot",
		Long: `Show the latest host resource snapshot and whether the sidecar should
throttle. Uses the running daemon when available and the persisted state
file otherwise. With --watch, prints every new snapshot as it is written.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, _ := cmd.Flags().GetString("output")
			show := func() error {
				snap, err := loadSnapshot()
				if err != nil {
					return err
				}
				return render(os.Stdout, format, snap, func(w io.Writer) error {
					return snapshotTable(w, snap)
				})
			}

			if !watch {
				return show()
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			if err := show(); err != nil {
				fmt.Fprintln(os.Stderr, err)
			}
			return datafiles.Watch(ctx, core.ResourceStatePath(core.Config.DataRoot), func() {
				if err := show(); err != nil {
					fmt.Fprintln(os.Stderr, err)
				}
			})
		},
	}
	resourcesCmd.Flags().BoolVarP(&watch, "watch", "w", false, "Print each new snapshot")
	addOutputFlag(resourcesCmd)

	return resourcesCmd
}

// loadSnapshot asks the daemon first and falls back to the state file
func loadSnapshot() (resources.Snapshot, error) {
	var snap resources.Snapshot
	if response, err := daemon.SendCommand("RESOURCES"); err == nil && !response.HasError() && response.Data != nil {
		return snap, response.DecodeData(&snap)
	}

	content, ok, err := datafiles.NewReader(core.Config.DataRoot).ResourceState()
	if err != nil {
		return snap, err
	}
	if !ok {
		return snap, fmt.Errorf("no resource state recorded yet")
	}
	if err := json.Unmarshal([]byte(content), &snap); err != nil {
		return snap, fmt.Errorf("failed to parse resource state: %w", err)
	}
	return snap, nil
}

func snapshotTable(w io.Writer, s resources.Snapshot) error {
	table := tablewriter.NewWriter(w)
	table.Header("Property", "Value")
	table.Append([]string{"Sampled", time.Unix(s.Timestamp, 0).Format(time.DateTime)})
	table.Append([]string{"CPU usage", fmt.Sprintf("%.1f%%", s.CPUUsagePct)})
	table.Append([]string{"CPU temperature", optional(s.CPUTempC, "%.1f°C")})
	table.Append([]string{"Battery", optional(s.BatteryPct, "%.0f%%")})
	table.Append([]string{"On AC power", optional(s.OnACPower, "%t")})
	table.Append([]string{"Throttled", fmt.Sprintf("%t", s.Throttled)})
	return table.Render()
}
