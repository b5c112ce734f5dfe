package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"pumpguard/internal/app"
)

var (
	scorePair   string
	scoreGlobal bool
)

var scoreCmd = &cobra.Command{
	Use:   "score",
	Short: "Run one scoring pass and persist the resulting alerts",
	RunE: func(cmd *cobra.Command, args []string) error {
		if scorePair != "" && scoreGlobal {
			return errors.New("--pair and --global are mutually exclusive")
		}
		return getApp().Score(cmd.Context(), app.ScoreOptions{Pair: scorePair, Global: scoreGlobal})
	},
}

func init() {
	scoreCmd.Flags().StringVar(&scorePair, "pair", "", "Score a single pair (name or address)")
	scoreCmd.Flags().BoolVar(&scoreGlobal, "global", false, "Score all pairs as one window")
}
