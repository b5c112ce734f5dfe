package app

import (
	"bytes"
	"context"
	"encoding/csv"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"pumpguard/internal/config"
	"pumpguard/internal/scoring"
	"pumpguard/internal/storage"
	"pumpguard/internal/whales"
)

var testPair = config.PairConfig{Name: "USDC/WETH", Address: "0x853ee4b2a13f8a742d64c8f088be7ba2131f670d", Enabled: true}

func newTestApp(out *bytes.Buffer) *App {
	a := NewApp(&config.Config{Pairs: []config.PairConfig{testPair}}, zerolog.Nop())
	a.Out = out
	return a
}

func swapAt(hash, sender string, at time.Time) storage.SwapRecord {
	return storage.SwapRecord{
		TxHash:      hash,
		BlockNumber: 100,
		PairAddress: testPair.Key(),
		PairName:    testPair.Name,
		Sender:      sender,
		Amount0In:   decimal.RequireFromString("1.5"),
		Amount1In:   decimal.Zero,
		Amount0Out:  decimal.Zero,
		Amount1Out:  decimal.NewFromInt(2),
		CreatedAt:   at,
	}
}

func TestBucketByMinuteFillsGaps(t *testing.T) {
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	swaps := []storage.SwapRecord{
		swapAt("0x1", "0xa", base.Add(10*time.Second)),
		swapAt("0x2", "0xa", base.Add(50*time.Second)),
		swapAt("0x3", "0xb", base.Add(3*time.Minute+5*time.Second)),
	}

	buckets := bucketByMinute(swaps)
	if len(buckets) != 4 {
		t.Fatalf("expected 4 buckets, got %d", len(buckets))
	}
	if buckets[0].Swaps != 2 || buckets[0].Traders != 1 {
		t.Fatalf("first bucket = %+v", buckets[0])
	}
	if buckets[1].Swaps != 0 || buckets[2].Swaps != 0 {
		t.Fatalf("gap minutes should be empty: %+v", buckets[1:3])
	}
	if !buckets[3].Start.Equal(base.Add(3*time.Minute)) || buckets[3].Swaps != 1 {
		t.Fatalf("last bucket = %+v", buckets[3])
	}
	if bucketByMinute(nil) != nil {
		t.Fatal("no swaps should yield no buckets")
	}
}

func TestDownsampleBuckets(t *testing.T) {
	buckets := make([]activityBucket, 10)
	for i := range buckets {
		buckets[i].Swaps = i
	}

	if got := downsampleBuckets(buckets, 20); len(got) != 10 {
		t.Fatalf("short input should be untouched, got %d", len(got))
	}
	got := downsampleBuckets(buckets, 4)
	if len(got) != 4 || got[0].Swaps != 0 || got[3].Swaps != 9 {
		t.Fatalf("downsample should keep both ends: %+v", got)
	}
	if got := downsampleBuckets(buckets, 1); len(got) != 1 || got[0].Swaps != 9 {
		t.Fatalf("single point should be the latest: %+v", got)
	}
}

func TestWriteSwapsCSV(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	var buf bytes.Buffer
	if err := writeSwapsCSV(&buf, []storage.SwapRecord{swapAt("0xabc", "0xdef", at)}); err != nil {
		t.Fatalf("write csv: %v", err)
	}

	rows, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected header and one row, got %d", len(rows))
	}
	want := []string{"2024-05-01T12:00:00Z", "100", "0xabc", testPair.Key(), "USDC/WETH", "0xdef", "1.5", "0", "0", "2"}
	if strings.Join(rows[1], ",") != strings.Join(want, ",") {
		t.Fatalf("unexpected row %v", rows[1])
	}
}

func TestShowViews(t *testing.T) {
	ctx := context.Background()
	var out bytes.Buffer
	a := newTestApp(&out)
	mem := storage.NewMemoryStore()

	if err := a.show(ctx, mem, ShowOptions{What: "alerts", Limit: 5}); err != nil {
		t.Fatalf("show alerts: %v", err)
	}
	if !strings.Contains(out.String(), "no alerts found") {
		t.Fatalf("empty store should say so, got %q", out.String())
	}

	now := time.Now().UTC()
	if _, err := mem.InsertSwap(ctx, swapAt("0x01", "0xa", now)); err != nil {
		t.Fatal(err)
	}
	if _, err := mem.RefreshPairStats(ctx, testPair.Key(), testPair.Name, now); err != nil {
		t.Fatal(err)
	}
	if _, err := mem.InsertAlert(ctx, storage.Alert{PairName: "USDC/WETH", Type: storage.AlertPumpWarning, Score: 0.7, Description: "line one\nline two", CreatedAt: now}); err != nil {
		t.Fatal(err)
	}

	out.Reset()
	if err := a.show(ctx, mem, ShowOptions{What: "alerts", Limit: 5}); err != nil {
		t.Fatalf("show alerts: %v", err)
	}
	if !strings.Contains(out.String(), "PumpWarning") || !strings.Contains(out.String(), "line one line two") {
		t.Fatalf("alert row missing or not sanitised: %q", out.String())
	}

	out.Reset()
	if err := a.show(ctx, mem, ShowOptions{What: "stats"}); err != nil {
		t.Fatalf("show stats: %v", err)
	}
	if !strings.Contains(out.String(), "USDC/WETH") || !strings.Contains(out.String(), "All pairs") {
		t.Fatalf("stats output incomplete: %q", out.String())
	}

	out.Reset()
	if err := a.show(ctx, mem, ShowOptions{What: "swaps", Limit: 5}); err != nil {
		t.Fatalf("show swaps: %v", err)
	}
	if !strings.Contains(out.String(), "1.5000") {
		t.Fatalf("swap amounts missing: %q", out.String())
	}

	if err := a.show(ctx, mem, ShowOptions{What: "prices"}); err == nil {
		t.Fatal("unknown view should fail")
	}
}

func TestSimulateAlertsTripsRequestedRule(t *testing.T) {
	engine := scoring.NewEngine(scoring.DefaultRules())
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	for _, kind := range []storage.AlertType{storage.AlertPumpWarning, storage.AlertManipulation, storage.AlertLiquidityWarning} {
		alerts, err := simulateAlerts(engine, testPair, kind, now)
		if err != nil {
			t.Fatalf("%s: %v", kind, err)
		}
		if len(alerts) != 1 || alerts[0].Type != kind {
			t.Fatalf("%s: unexpected alerts %+v", kind, alerts)
		}
		if alerts[0].PairAddress != testPair.Key() || !alerts[0].CreatedAt.Equal(now) {
			t.Fatalf("%s: alert not bound to pair/time: %+v", kind, alerts[0])
		}
	}

	all, err := simulateAlerts(engine, testPair, "", now)
	if err != nil {
		t.Fatalf("all rules: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("empty type should trip every rule, got %+v", all)
	}

	if _, err := simulateAlerts(engine, testPair, "Rugpull", now); err == nil {
		t.Fatal("unknown type should fail")
	}
}

func TestChannelSelected(t *testing.T) {
	if !channelSelected(nil, "kafka") {
		t.Fatal("empty list should select every channel")
	}
	if !channelSelected([]string{" Telegram "}, "telegram") {
		t.Fatal("match should ignore case and spaces")
	}
	if channelSelected([]string{"telegram"}, "kafka") {
		t.Fatal("unlisted channel should be off")
	}
}

func TestNewDispatcherKafkaOnlyWithDefaultChannels(t *testing.T) {
	a := newTestApp(&bytes.Buffer{})
	a.Config.Alerting = config.AlertingConfig{
		Enabled:       true,
		RetryAttempts: 1,
		Kafka:         config.KafkaConfig{Enabled: true, Brokers: []string{"localhost:9092"}, Topic: "pumpguard.alerts"},
	}

	d, closeDispatcher := a.newDispatcher()
	defer closeDispatcher()
	if d == nil || d.Len() != 1 {
		t.Fatalf("kafka-only setup should yield one notifier, got %v", d)
	}

	a.Config.Alerting.Channels = []string{"telegram"}
	d, closeAgain := a.newDispatcher()
	defer closeAgain()
	if d != nil {
		t.Fatal("kafka excluded by channels should leave no dispatcher")
	}
}

func TestWriteWhalesTable(t *testing.T) {
	report := whales.Report{
		Token:            "USDT",
		Contract:         "0xc2132d05d31c914a87c6611c10748aeb04b58e8f",
		TotalSupply:      decimal.NewFromInt(1_000_000),
		ThresholdPercent: decimal.RequireFromString("0.1"),
		ActiveAddresses:  4,
		TotalWhalesFound: 2,
		Whales: []whales.Whale{
			{Address: "0x01", Amount: decimal.NewFromInt(20_000), Percentage: decimal.NewFromInt(2), Type: whales.KindContract, Label: whales.LabelContract},
			{Address: "0x02", Amount: decimal.NewFromInt(5_000), Percentage: decimal.RequireFromString("0.5"), Type: whales.KindEOA, Label: whales.LabelWallet},
		},
	}

	var out bytes.Buffer
	writeWhales(&out, report, 1)
	text := out.String()
	if !strings.Contains(text, "Whales >= 0.1% of supply: 2") {
		t.Fatalf("header missing: %q", text)
	}
	if !strings.Contains(text, "20000.00") || !strings.Contains(text, "2.0000%") {
		t.Fatalf("top row missing: %q", text)
	}
	if strings.Contains(text, "0x02") {
		t.Fatalf("rows beyond top should be cut: %q", text)
	}

	var buf bytes.Buffer
	if err := writeWhalesJSON(&buf, report); err != nil {
		t.Fatalf("json: %v", err)
	}
	if !strings.Contains(buf.String(), `"total_whales_found": 2`) {
		t.Fatalf("json report incomplete: %s", buf.String())
	}
}

func TestWhaleHelpers(t *testing.T) {
	if got := backfillStart(500, 1000); got != 0 {
		t.Fatalf("short chain should start at 0, got %d", got)
	}
	if got := backfillStart(5000, 1000); got != 4000 {
		t.Fatalf("backfill start = %d", got)
	}
	if got := sanitizeFileToken("US/DT$"); got != "USDT" {
		t.Fatalf("sanitized = %q", got)
	}
	if got := sanitizeFileToken("??"); got != "token" {
		t.Fatalf("empty symbol fallback = %q", got)
	}
}
