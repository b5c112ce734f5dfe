package scoring

import (
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"pumpguard/internal/config"
	"pumpguard/internal/storage"
)

// Rules are the thresholds of the three anomaly rules.
type Rules struct {
	Window                 time.Duration
	PumpSwapThreshold      int
	PumpScoreDivisor       float64
	ManipulationMaxTraders int
	ManipulationMinSwaps   int
	LargeSwapAmount        decimal.Decimal
	LargeSwapCount         int
	LiquidityScore         float64
}

// DefaultRules returns the production thresholds.
func DefaultRules() Rules {
	return Rules{
		Window:                 10 * time.Minute,
		PumpSwapThreshold:      30,
		PumpScoreDivisor:       50,
		ManipulationMaxTraders: 5,
		ManipulationMinSwaps:   20,
		LargeSwapAmount:        decimal.NewFromInt(1000),
		LargeSwapCount:         5,
		LiquidityScore:         0.7,
	}
}

// RulesFromConfig maps the scoring section onto Rules.
func RulesFromConfig(cfg config.ScoringConfig) Rules {
	return Rules{
		Window:                 cfg.Window,
		PumpSwapThreshold:      cfg.PumpSwapThreshold,
		PumpScoreDivisor:       cfg.PumpScoreDivisor,
		ManipulationMaxTraders: cfg.ManipulationMaxTrader,
		ManipulationMinSwaps:   cfg.ManipulationMinSwaps,
		LargeSwapAmount:        decimal.NewFromFloat(cfg.LargeSwapAmount),
		LargeSwapCount:         cfg.LargeSwapCount,
		LiquidityScore:         cfg.LiquidityScore,
	}
}

// Window is the set of swaps evaluated together.
type Window struct {
	PairAddress string
	PairName    string
	Swaps       []storage.SwapRecord
}

// Measures are the aggregates the rules look at.
type Measures struct {
	SwapCount     int
	UniqueTraders int
	LargeSwaps    int
}

// Engine evaluates rules over a window. It has no side effects.
type Engine struct {
	rules Rules
}

// NewEngine builds an engine for the given rules.
func NewEngine(rules Rules) *Engine {
	return &Engine{rules: rules}
}

// Rules returns the engine thresholds.
func (e *Engine) Rules() Rules {
	return e.rules
}

// Measure aggregates a window.
func (e *Engine) Measure(swaps []storage.SwapRecord) Measures {
	traders := make(map[string]struct{}, len(swaps))
	large := 0
	for _, s := range swaps {
		traders[s.Sender] = struct{}{}
		if s.Amount0In.Add(s.Amount1Out).GreaterThan(e.rules.LargeSwapAmount) {
			large++
		}
	}
	return Measures{SwapCount: len(swaps), UniqueTraders: len(traders), LargeSwaps: large}
}

// Evaluate applies PumpWarning, Manipulation and LiquidityWarning in that order.
// Each rule fires independently; the returned alerts are stamped with now.
func (e *Engine) Evaluate(w Window, now time.Time) ([]storage.Alert, Measures) {
	m := e.Measure(w.Swaps)
	minutes := int(e.rules.Window / time.Minute)
	var alerts []storage.Alert

	newAlert := func(kind storage.AlertType, score float64, description string) storage.Alert {
		return storage.Alert{
			PairAddress: w.PairAddress,
			PairName:    w.PairName,
			Type:        kind,
			Description: description,
			Score:       score,
			CreatedAt:   now,
		}
	}

	if m.SwapCount > e.rules.PumpSwapThreshold {
		score := math.Min(1.0, float64(m.SwapCount)/e.rules.PumpScoreDivisor)
		alerts = append(alerts, newAlert(storage.AlertPumpWarning, score,
			fmt.Sprintf("%s: High swap activity detected (%d swaps in %d min)", w.PairName, m.SwapCount, minutes)))
	}

	// unclamped; the trader guard bounds it
	if m.UniqueTraders < e.rules.ManipulationMaxTraders && m.SwapCount > e.rules.ManipulationMinSwaps {
		score := 1.0 - float64(m.UniqueTraders)/10
		alerts = append(alerts, newAlert(storage.AlertManipulation, score,
			fmt.Sprintf("%s: Low trader diversity with high volume (%d traders, %d swaps)", w.PairName, m.UniqueTraders, m.SwapCount)))
	}

	if m.LargeSwaps > e.rules.LargeSwapCount {
		alerts = append(alerts, newAlert(storage.AlertLiquidityWarning, e.rules.LiquidityScore,
			fmt.Sprintf("%s: Multiple large swaps detected (%d large transactions)", w.PairName, m.LargeSwaps)))
	}

	return alerts, m
}
