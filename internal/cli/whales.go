package cli

import (
	"github.com/spf13/cobra"

	"pumpguard/internal/app"
)

var (
	whalesToken     string
	whalesFrom      uint64
	whalesTo        uint64
	whalesThreshold float64
	whalesTop       int
	whalesJSON      string
)

var whalesCmd = &cobra.Command{
	Use:   "whales",
	Short: "List the largest holders of a token among addresses active in a block range",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Whales(cmd.Context(), app.WhaleOptions{
			Token:     whalesToken,
			From:      whalesFrom,
			To:        whalesTo,
			Threshold: whalesThreshold,
			Top:       whalesTop,
			JSONPath:  whalesJSON,
		})
	},
}

func init() {
	whalesCmd.Flags().StringVar(&whalesToken, "token", "", "ERC-20 token address (defaults to whales.token)")
	whalesCmd.Flags().Uint64Var(&whalesFrom, "from", 0, "First block (defaults to chain.backfill_window blocks behind --to)")
	whalesCmd.Flags().Uint64Var(&whalesTo, "to", 0, "Last block (defaults to the current height)")
	whalesCmd.Flags().Float64Var(&whalesThreshold, "threshold", 0, "Minimum share of total supply in percent (defaults to whales.threshold_percent)")
	whalesCmd.Flags().IntVar(&whalesTop, "top", 0, "Rows to print (defaults to whales.top)")
	whalesCmd.Flags().StringVar(&whalesJSON, "json", "", "Write the full report as JSON to this path")
}
