package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"pumpguard/internal/app"
)

var (
	backfillPair string
	backfillFrom uint64
	backfillTo   uint64
)

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Ingest an explicit block range for one pair",
	RunE: func(cmd *cobra.Command, args []string) error {
		if backfillPair == "" {
			return fmt.Errorf("--pair must be provided")
		}
		if !cmd.Flags().Changed("from") || !cmd.Flags().Changed("to") {
			return fmt.Errorf("--from and --to must be provided")
		}

		return getApp().Backfill(cmd.Context(), app.BackfillOptions{
			Pair: backfillPair,
			From: backfillFrom,
			To:   backfillTo,
		})
	},
}

func init() {
	backfillCmd.Flags().StringVar(&backfillPair, "pair", "", "Pair name or address")
	backfillCmd.Flags().Uint64Var(&backfillFrom, "from", 0, "First block (inclusive)")
	backfillCmd.Flags().Uint64Var(&backfillTo, "to", 0, "Last block (inclusive)")
}
