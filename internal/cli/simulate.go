package cli

import (
	"github.com/spf13/cobra"

	"pumpguard/internal/app"
	"pumpguard/internal/storage"
)

var (
	simulatePair string
	simulateType string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "模拟一次异常窗口并推送告警（不写入数据库）",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().SimulateAlert(cmd.Context(), app.SimulateOptions{
			Pair: simulatePair,
			Type: storage.AlertType(simulateType),
		})
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulatePair, "pair", "", "交易对名称或地址，默认取第一个启用的交易对")
	simulateCmd.Flags().StringVar(&simulateType, "type", "", "PumpWarning、Manipulation 或 LiquidityWarning，留空则全部触发")
}
