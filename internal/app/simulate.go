package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"pumpguard/internal/config"
	"pumpguard/internal/scoring"
	"pumpguard/internal/storage"
)

// SimulateAlert 构造一个合成窗口，经评分引擎生成告警并推送到已配置的通道，不落库。
func (a *App) SimulateAlert(ctx context.Context, opts SimulateOptions) error {
	if !a.Config.Alerting.Enabled {
		return errors.New("alerting 未启用")
	}

	pair := a.Config.EnabledPairs()[0]
	if opts.Pair != "" {
		p, ok := a.Config.FindPair(opts.Pair)
		if !ok {
			return fmt.Errorf("unknown pair %q", opts.Pair)
		}
		pair = p
	}

	dispatcher, closeDispatcher := a.newDispatcher()
	defer closeDispatcher()
	if dispatcher == nil {
		return errors.New("未配置任何告警通道")
	}

	engine := scoring.NewEngine(scoring.RulesFromConfig(a.Config.Scoring))
	alerts, err := simulateAlerts(engine, pair, opts.Type, time.Now().UTC())
	if err != nil {
		return err
	}

	a.Logger.Info().Str("pair", pair.Name).Int("alerts", len(alerts)).Msg("dispatching simulated alerts")
	if err := dispatcher.Publish(ctx, alerts); err != nil {
		return err
	}
	writeAlerts(a.Out, alerts, time.RFC3339)
	return nil
}

// simulateAlerts synthesises the smallest window that trips the requested rule and evaluates it.
// An empty type trips every rule.
func simulateAlerts(engine *scoring.Engine, pair config.PairConfig, kind storage.AlertType, now time.Time) ([]storage.Alert, error) {
	rules := engine.Rules()
	window := scoring.Window{PairAddress: pair.Key(), PairName: pair.Name}

	add := func(count, traders int, amount decimal.Decimal) {
		for i := 0; i < count; i++ {
			window.Swaps = append(window.Swaps, storage.SwapRecord{
				TxHash:      fmt.Sprintf("0xsimulated%s%04d", kind, len(window.Swaps)),
				PairAddress: pair.Key(),
				PairName:    pair.Name,
				Sender:      fmt.Sprintf("0x%040x", i%traders+1),
				Amount0In:   amount,
				Amount1In:   decimal.Zero,
				Amount0Out:  decimal.Zero,
				Amount1Out:  decimal.Zero,
				CreatedAt:   now,
			})
		}
	}

	largeAmount := rules.LargeSwapAmount.Add(decimal.NewFromInt(1))
	switch kind {
	case storage.AlertPumpWarning:
		add(rules.PumpSwapThreshold+1, rules.PumpSwapThreshold+1, decimal.Zero)
	case storage.AlertManipulation:
		add(rules.ManipulationMinSwaps+1, 1, decimal.Zero)
	case storage.AlertLiquidityWarning:
		add(rules.LargeSwapCount+1, rules.LargeSwapCount+1, largeAmount)
	case "":
		n := max(rules.PumpSwapThreshold, rules.ManipulationMinSwaps, rules.LargeSwapCount) + 1
		add(n, 1, largeAmount)
	default:
		return nil, fmt.Errorf("unknown alert type %q", kind)
	}

	alerts, _ := engine.Evaluate(window, now)
	if kind == "" {
		return alerts, nil
	}
	filtered := alerts[:0]
	for _, alert := range alerts {
		if alert.Type == kind {
			filtered = append(filtered, alert)
		}
	}
	if len(filtered) == 0 {
		return nil, fmt.Errorf("rule %s did not fire for the synthetic window; check scoring thresholds", kind)
	}
	return filtered, nil
}
