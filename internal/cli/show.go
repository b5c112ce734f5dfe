package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"pumpguard/internal/app"
)

var (
	showLimit int
)

var showCmd = &cobra.Command{
	Use:       "show [alerts|swaps|stats]",
	Short:     "Display recent alerts, swaps or pair statistics",
	Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"alerts", "swaps", "stats"},
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.ShowOptions{
			What:  "alerts",
			Limit: showLimit,
		}
		if len(args) == 1 {
			opts.What = args[0]
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of rows to display")
}
