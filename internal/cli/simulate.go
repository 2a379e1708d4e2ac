package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"price-alerts/internal/app"
)

var simulateOpts app.SimulateOptions

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "模拟规则触发并发送告警",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateOpts.RuleID == "" {
			return errors.New("--rule 必须指定")
		}
		if simulateOpts.Value < 0 {
			return errors.New("--value 不能为负数")
		}
		return getApp().SimulateAlert(cmd.Context(), simulateOpts)
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateOpts.RuleID, "rule", "", "规则 ID")
	simulateCmd.Flags().Float64Var(&simulateOpts.Value, "value", 0, "触发值 (默认取规则阈值)")
}
