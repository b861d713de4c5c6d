package app

import (
	"fmt"
	"strings"

	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"

	"github.com/Soberat/GLAD/cmd/glad/app/options"
	"github.com/Soberat/GLAD/internal/device"
	"github.com/Soberat/GLAD/internal/instrument"
)

func newDevicesCommand(opts *options.LabOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List the configured devices and the known instrument kinds",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), devicesTable(opts))
			fmt.Fprintf(cmd.OutOrStdout(), "\nKnown kinds: %s\n", strings.Join(instrument.Kinds(), ", "))
			return nil
		},
	}
}

func devicesTable(opts *options.LabOptions) *uitable.Table {
	table := uitable.New()
	table.MaxColWidth = 60
	table.AddRow("ID", "NAME", "KIND", "SIMULATED", "POLL INTERVAL", "BOUNDS")

	for _, d := range opts.Devices {
		interval := opts.WorkerOptions.PollInterval
		if d.PollInterval > 0 {
			interval = d.PollInterval
		}
		bounds := "default"
		if d.Bounds != nil {
			bounds = fmt.Sprintf("%g..%g", d.Bounds.Lower, d.Bounds.Upper)
		}
		id := d.ID
		if id == "" {
			id = "<generated>"
		}
		table.AddRow(id, device.ShortName(id), d.Kind, d.Simulated, interval, bounds)
	}
	return table
}
