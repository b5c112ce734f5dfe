package scoring

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"pumpguard/internal/config"
	"pumpguard/internal/storage"
)

var testNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

// window builds count swaps spread over traders senders; the first large swaps exceed the threshold.
func window(count, traders, large int) []storage.SwapRecord {
	swaps := make([]storage.SwapRecord, 0, count)
	for i := 0; i < count; i++ {
		amount := decimal.NewFromInt(10)
		if i < large {
			amount = decimal.NewFromInt(800)
		}
		swaps = append(swaps, storage.SwapRecord{
			TxHash:      fmt.Sprintf("0x%064x", i+1),
			BlockNumber: uint64(100 + i),
			PairAddress: "0xpair",
			PairName:    "USDC/WETH",
			Sender:      fmt.Sprintf("0x%040x", i%traders+1),
			Amount0In:   amount,
			Amount1Out:  amount,
			CreatedAt:   testNow.Add(-time.Duration(i) * time.Second),
		})
	}
	return swaps
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func evaluate(swaps []storage.SwapRecord) []storage.Alert {
	alerts, _ := NewEngine(DefaultRules()).Evaluate(Window{PairAddress: "0xpair", PairName: "USDC/WETH", Swaps: swaps}, testNow)
	return alerts
}

func TestEvaluateScenarios(t *testing.T) {
	cases := []struct {
		name   string
		swaps  []storage.SwapRecord
		types  []storage.AlertType
		scores []float64
	}{
		{"quiet window", window(10, 10, 0), nil, nil},
		{"pump", window(35, 12, 0), []storage.AlertType{storage.AlertPumpWarning}, []float64{0.7}},
		{"manipulation without pump", window(25, 3, 0), []storage.AlertType{storage.AlertManipulation}, []float64{0.7}},
		{"pump capped at one", window(80, 40, 0), []storage.AlertType{storage.AlertPumpWarning}, []float64{1}},
		{"pump and manipulation", window(31, 4, 0), []storage.AlertType{storage.AlertPumpWarning, storage.AlertManipulation}, []float64{0.62, 0.6}},
		{"liquidity", window(6, 6, 6), []storage.AlertType{storage.AlertLiquidityWarning}, []float64{0.7}},
		{"all three", window(40, 2, 7), []storage.AlertType{storage.AlertPumpWarning, storage.AlertManipulation, storage.AlertLiquidityWarning}, []float64{0.8, 0.8, 0.7}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			alerts := evaluate(tc.swaps)
			if len(alerts) != len(tc.types) {
				t.Fatalf("expected %d alerts, got %+v", len(tc.types), alerts)
			}
			for i, alert := range alerts {
				if alert.Type != tc.types[i] {
					t.Fatalf("alert %d: type %s, want %s", i, alert.Type, tc.types[i])
				}
				if !almostEqual(alert.Score, tc.scores[i]) {
					t.Fatalf("alert %d: score %v, want %v", i, alert.Score, tc.scores[i])
				}
				if !alert.CreatedAt.Equal(testNow) || alert.PairName != "USDC/WETH" {
					t.Fatalf("alert %d not stamped: %+v", i, alert)
				}
			}
		})
	}
}

func TestRuleBoundaries(t *testing.T) {
	if alerts := evaluate(window(30, 30, 0)); len(alerts) != 0 {
		t.Fatalf("30 swaps must not fire PumpWarning: %+v", alerts)
	}
	if alerts := evaluate(window(31, 31, 0)); len(alerts) != 1 || alerts[0].Type != storage.AlertPumpWarning {
		t.Fatalf("31 swaps must fire PumpWarning: %+v", alerts)
	}
	if alerts := evaluate(window(20, 1, 0)); len(alerts) != 0 {
		t.Fatalf("20 swaps must not fire Manipulation: %+v", alerts)
	}
	if alerts := evaluate(window(21, 5, 0)); len(alerts) != 0 {
		t.Fatalf("5 traders must not fire Manipulation: %+v", alerts)
	}
	if alerts := evaluate(window(5, 5, 5)); len(alerts) != 0 {
		t.Fatalf("5 large swaps must not fire LiquidityWarning: %+v", alerts)
	}
}

func TestLargeSwapThresholdIsStrict(t *testing.T) {
	swaps := window(6, 6, 0)
	for i := range swaps {
		swaps[i].Amount0In = decimal.NewFromInt(600)
		swaps[i].Amount1Out = decimal.NewFromInt(400)
	}
	if alerts := evaluate(swaps); len(alerts) != 0 {
		t.Fatalf("a sum of exactly 1000 is not large: %+v", alerts)
	}
	swaps[0].Amount1Out = decimal.RequireFromString("400.000000000000000001")
	m := NewEngine(DefaultRules()).Measure(swaps)
	if m.LargeSwaps != 1 {
		t.Fatalf("expected one large swap, got %d", m.LargeSwaps)
	}
}

func TestDescriptions(t *testing.T) {
	alerts := evaluate(window(40, 2, 7))
	want := []string{
		"USDC/WETH: High swap activity detected (40 swaps in 10 min)",
		"USDC/WETH: Low trader diversity with high volume (2 traders, 40 swaps)",
		"USDC/WETH: Multiple large swaps detected (7 large transactions)",
	}
	for i, alert := range alerts {
		if alert.Description != want[i] {
			t.Fatalf("description %d = %q", i, alert.Description)
		}
	}
}

func TestRulesFromConfigMatchesDefaults(t *testing.T) {
	rules := RulesFromConfig(config.ScoringConfig{
		Window:                10 * time.Minute,
		PumpSwapThreshold:     30,
		PumpScoreDivisor:      50,
		ManipulationMaxTrader: 5,
		ManipulationMinSwaps:  20,
		LargeSwapAmount:       1000,
		LargeSwapCount:        5,
		LiquidityScore:        0.7,
	})
	def := DefaultRules()
	if !rules.LargeSwapAmount.Equal(def.LargeSwapAmount) {
		t.Fatalf("large swap amount %s", rules.LargeSwapAmount)
	}
	rules.LargeSwapAmount, def.LargeSwapAmount = decimal.Zero, decimal.Zero
	if rules != def {
		t.Fatalf("rules %+v differ from defaults %+v", rules, def)
	}
}

type recordingPublisher struct {
	batches [][]storage.Alert
	err     error
}

func (r *recordingPublisher) Publish(_ context.Context, alerts []storage.Alert) error {
	r.batches = append(r.batches, alerts)
	return r.err
}

type countingSnapshot struct{ calls int }

func (c *countingSnapshot) WriteSnapshot(context.Context) error {
	c.calls++
	return nil
}

func seed(t *testing.T, store *storage.MemoryStore, pair config.PairConfig, swaps []storage.SwapRecord) {
	t.Helper()
	for _, s := range swaps {
		s.PairAddress = pair.Key()
		s.PairName = pair.Name
		s.TxHash = pair.Key() + s.TxHash
		if _, err := store.InsertSwap(context.Background(), s); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
}

func TestScorerPersistsAndPublishes(t *testing.T) {
	store := storage.NewMemoryStore()
	hot := config.PairConfig{Name: "USDC/WETH", Address: "0x853ee4b2a13f8a742d64c8f088be7ba2131f670d", Enabled: true}
	calm := config.PairConfig{Name: "QUICK/USDC", Address: "0x1f1e4c845183ef6d50e9609f16f6f9cae43bc9cb", Enabled: true}
	seed(t, store, hot, window(35, 12, 0))
	seed(t, store, calm, window(5, 5, 0))

	stale := window(1, 1, 0)[0]
	stale.TxHash = "0xstale"
	stale.PairAddress = hot.Key()
	stale.CreatedAt = testNow.Add(-11 * time.Minute)
	if _, err := store.InsertSwap(context.Background(), stale); err != nil {
		t.Fatalf("insert stale: %v", err)
	}

	pub := &recordingPublisher{err: errors.New("telegram down")}
	snap := &countingSnapshot{}
	scorer := NewScorer(NewEngine(DefaultRules()), store, zerolog.Nop(), WithPublisher(pub), WithSnapshot(snap))
	scorer.now = func() time.Time { return testNow }

	report := scorer.Score(context.Background(), []config.PairConfig{hot, calm})
	if report.Failed() != 0 {
		t.Fatalf("unexpected failures: %+v", report)
	}
	if report.Outcomes[0].Measures.SwapCount != 35 {
		t.Fatalf("stale swap must be outside the window, got %d", report.Outcomes[0].Measures.SwapCount)
	}

	alerts := report.Alerts()
	if len(alerts) != 1 || alerts[0].Type != storage.AlertPumpWarning || alerts[0].ID == 0 {
		t.Fatalf("expected one persisted PumpWarning, got %+v", alerts)
	}
	if alerts[0].PairAddress != hot.Key() {
		t.Fatalf("alert pair %s", alerts[0].PairAddress)
	}

	stored, _ := store.ListRecentAlerts(context.Background(), 10)
	if len(stored) != 1 {
		t.Fatalf("publisher failure must not undo persistence, got %d", len(stored))
	}
	if len(pub.batches) != 1 || snap.calls != 1 {
		t.Fatalf("publish %d snapshot %d", len(pub.batches), snap.calls)
	}

	// consecutive windows fire again
	again := scorer.Score(context.Background(), []config.PairConfig{hot})
	if len(again.Alerts()) != 1 {
		t.Fatalf("repeat firing expected, got %+v", again.Alerts())
	}
}

func TestScoreAllUsesGlobalWindow(t *testing.T) {
	store := storage.NewMemoryStore()
	a := config.PairConfig{Name: "A", Address: "0x000000000000000000000000000000000000000a", Enabled: true}
	b := config.PairConfig{Name: "B", Address: "0x000000000000000000000000000000000000000b", Enabled: true}
	seed(t, store, a, window(16, 16, 0))
	seed(t, store, b, window(16, 16, 0))

	scorer := NewScorer(NewEngine(DefaultRules()), store, zerolog.Nop())
	scorer.now = func() time.Time { return testNow }

	report := scorer.ScoreAll(context.Background())
	alerts := report.Alerts()
	if len(alerts) != 1 || alerts[0].Type != storage.AlertPumpWarning {
		t.Fatalf("expected a global PumpWarning, got %+v", alerts)
	}
	if !strings.HasPrefix(alerts[0].Description, GlobalPairName) {
		t.Fatalf("description %q", alerts[0].Description)
	}
}

type failingStore struct {
	*storage.MemoryStore
	failPair string
}

func (f failingStore) ListSwapsBetween(ctx context.Context, pair string, from, to time.Time) ([]storage.SwapRecord, error) {
	if pair == f.failPair {
		return nil, storage.ErrStore
	}
	return f.MemoryStore.ListSwapsBetween(ctx, pair, from, to)
}

func TestScoreIsolatesFailingPair(t *testing.T) {
	mem := storage.NewMemoryStore()
	bad := config.PairConfig{Name: "BAD", Address: "0x00000000000000000000000000000000000000ba", Enabled: true}
	good := config.PairConfig{Name: "GOOD", Address: "0x00000000000000000000000000000000000000aa", Enabled: true}
	seed(t, mem, good, window(25, 3, 0))

	scorer := NewScorer(NewEngine(DefaultRules()), failingStore{MemoryStore: mem, failPair: bad.Key()}, zerolog.Nop())
	scorer.now = func() time.Time { return testNow }

	report := scorer.Score(context.Background(), []config.PairConfig{bad, good})
	if report.Failed() != 1 || !errors.Is(report.Outcomes[0].Err, storage.ErrStore) {
		t.Fatalf("bad pair should fail with ErrStore: %+v", report.Outcomes[0])
	}
	if len(report.Outcomes[1].Alerts) != 1 || report.Outcomes[1].Alerts[0].Type != storage.AlertManipulation {
		t.Fatalf("good pair should still alert: %+v", report.Outcomes[1])
	}
}
