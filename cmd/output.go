package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// addOutputFlag registers -o/--output on commands that print structured data
func addOutputFlag(cmd *cobra.Command) {
	cmd.Flags().StringP("output", "o", "table", "Output format (table/json/yaml)")
}

// render writes v in the requested format, using table for the human view
func render(w io.Writer, format string, v any, table func(io.Writer) error) error {
	switch format {
	case "json":
		bytes, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(bytes))
		return err
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	case "table", "":
		return table(w)
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

// optional formats a nullable reading for display
func optional[T any](v *T, format string) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf(format, *v)
}
