package cli

import (
	"github.com/spf13/cobra"

	"weather-oracle/internal/app"
)

var (
	simulateDuration    uint32
	simulateRequirement uint32
	simulateThreshold   uint32
	simulateFund        uint64
	simulateValues      []uint
	simulateAlert       bool
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Replay reports against a fresh in-memory oracle",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.SimulateOptions{
			EpochDuration: simulateDuration,
			Requirement:   &simulateRequirement,
			Threshold:     &simulateThreshold,
			Fund:          &simulateFund,
			Alert:         simulateAlert,
		}
		for _, v := range simulateValues {
			opts.Values = append(opts.Values, uint32(v))
		}
		_, err := getApp().Simulate(cmd.Context(), opts)
		return err
	},
}

func init() {
	simulateCmd.Flags().Uint32Var(&simulateDuration, "epoch-duration", 86400, "Epoch length in seconds")
	simulateCmd.Flags().Uint32Var(&simulateRequirement, "requirement", 2, "Continuity requirement")
	simulateCmd.Flags().Uint32Var(&simulateThreshold, "threshold", 10, "Value threshold")
	simulateCmd.Flags().Uint64Var(&simulateFund, "fund", 1000, "Escrow minted before the first report")
	simulateCmd.Flags().UintSliceVar(&simulateValues, "values", []uint{50, 50}, "Values reported for epochs 1, 2, ...")
	simulateCmd.Flags().BoolVar(&simulateAlert, "alert", false, "Send the configured payout alert")
}
