package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	submitValue     uint32
	submitEpoch     uint32
	thresholdValue  uint32
	continuityValue uint32
	fundAmount      uint64
	fundHolder      string
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the oracle with the configured parameters (owner key)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Initialize(cmd.Context())
	},
}

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Report a value for a closed epoch (relayer key)",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !cmd.Flags().Changed("epoch") {
			return fmt.Errorf("--epoch must be provided")
		}
		if !cmd.Flags().Changed("value") {
			return fmt.Errorf("--value must be provided")
		}
		return getApp().Submit(cmd.Context(), submitValue, submitEpoch)
	},
}

var setThresholdCmd = &cobra.Command{
	Use:   "set-threshold",
	Short: "Replace the value threshold (owner key)",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !cmd.Flags().Changed("value") {
			return fmt.Errorf("--value must be provided")
		}
		return getApp().SetThreshold(cmd.Context(), thresholdValue)
	},
}

var setContinuityCmd = &cobra.Command{
	Use:   "set-continuity",
	Short: "Replace the continuity requirement (owner key)",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !cmd.Flags().Changed("value") {
			return fmt.Errorf("--value must be provided")
		}
		return getApp().SetContinuityRequirement(cmd.Context(), continuityValue)
	},
}

var fundCmd = &cobra.Command{
	Use:   "fund",
	Short: "Mint escrow asset to the contract or another holder",
	RunE: func(cmd *cobra.Command, args []string) error {
		if fundAmount == 0 {
			return fmt.Errorf("--amount must be greater than zero")
		}
		return getApp().Fund(cmd.Context(), fundAmount, fundHolder)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print oracle configuration, streak state and balances",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Status(cmd.Context())
	},
}

func init() {
	submitCmd.Flags().Uint32Var(&submitValue, "value", 0, "Measured value")
	submitCmd.Flags().Uint32Var(&submitEpoch, "epoch", 0, "Epoch index being reported")

	setThresholdCmd.Flags().Uint32Var(&thresholdValue, "value", 0, "New threshold")
	setContinuityCmd.Flags().Uint32Var(&continuityValue, "value", 0, "New continuity requirement")

	fundCmd.Flags().Uint64Var(&fundAmount, "amount", 0, "Amount to mint")
	fundCmd.Flags().StringVar(&fundHolder, "holder", "", "Holder address (defaults to the contract)")
}
