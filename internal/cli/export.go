package cli

import (
	"github.com/spf13/cobra"

	"weather-oracle/internal/app"
)

var (
	exportFromEpoch uint32
	exportToEpoch   uint32
	exportPNGPath   string
	exportCSVPath   string
	exportMaxPoints int
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export reported epoch values as CSV and/or PNG chart",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.ExportOptions{
			PNGPath:   exportPNGPath,
			CSVPath:   exportCSVPath,
			MaxPoints: exportMaxPoints,
		}

		if cmd.Flags().Changed("from-epoch") {
			from := exportFromEpoch
			opts.FromEpoch = &from
		}

		if cmd.Flags().Changed("to-epoch") {
			to := exportToEpoch
			opts.ToEpoch = &to
		}

		return getApp().Export(cmd.Context(), opts)
	},
}

func init() {
	exportCmd.Flags().Uint32Var(&exportFromEpoch, "from-epoch", 0, "First epoch (inclusive)")
	exportCmd.Flags().Uint32Var(&exportToEpoch, "to-epoch", 0, "Last epoch (inclusive, defaults to the latest report)")
	exportCmd.Flags().StringVar(&exportPNGPath, "png", "", "Path to write PNG chart")
	exportCmd.Flags().StringVar(&exportCSVPath, "csv", "", "Path to write CSV data")
	exportCmd.Flags().IntVar(&exportMaxPoints, "max-points", 0, "Maximum data points to export (defaults to config)")
}
