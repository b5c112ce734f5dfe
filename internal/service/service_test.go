package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"pumpguard/internal/config"
	"pumpguard/internal/ingest"
	"pumpguard/internal/scoring"
)

type fakeIngester struct {
	calls atomic.Int32
	fail  bool
}

func (f *fakeIngester) Ingest(_ context.Context, pairs []config.PairConfig) ingest.Report {
	f.calls.Add(1)
	var report ingest.Report
	for _, p := range pairs {
		res := ingest.PairResult{Name: p.Name}
		if f.fail {
			res.Err = errors.New("rpc down")
		}
		report.Results = append(report.Results, res)
	}
	return report
}

type fakeScorer struct {
	perPair atomic.Int32
	global  atomic.Int32
}

func (f *fakeScorer) Score(context.Context, []config.PairConfig) scoring.Report {
	f.perPair.Add(1)
	return scoring.Report{}
}

func (f *fakeScorer) ScoreAll(context.Context) scoring.Report {
	f.global.Add(1)
	return scoring.Report{}
}

type fakeLocker struct {
	mu   sync.Mutex
	held map[int64]bool
	keys []int64
}

func (f *fakeLocker) TryAdvisoryLock(_ context.Context, key int64) (func(), bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = append(f.keys, key)
	if f.held[key] {
		return nil, false, nil
	}
	f.held[key] = true
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.held, key)
	}, true, nil
}

func testConfig() *config.Config {
	return &config.Config{
		Pairs: []config.PairConfig{
			{Name: "USDC/WETH", Address: "0x853ee4b2a13f8a742d64c8f088be7ba2131f670d", Enabled: true},
			{Name: "OFF", Address: "0x0000000000000000000000000000000000000001"},
		},
		Scheduler: config.SchedulerConfig{
			IngestInterval:  time.Hour,
			ScoreInterval:   time.Hour,
			AdvisoryLockKey: 100,
		},
	}
}

func TestCyclesUseSeparateLocks(t *testing.T) {
	locker := &fakeLocker{held: map[int64]bool{}}
	ing, sc := &fakeIngester{}, &fakeScorer{}
	svc, err := New(testConfig(), ing, sc, locker, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}

	if err := svc.IngestCycle(context.Background(), time.Now()); err != nil {
		t.Fatalf("ingest cycle: %v", err)
	}
	if err := svc.ScoreCycle(context.Background(), time.Now()); err != nil {
		t.Fatalf("score cycle: %v", err)
	}
	if len(locker.keys) != 2 || locker.keys[0] != 100 || locker.keys[1] != 101 {
		t.Fatalf("unexpected lock keys %v", locker.keys)
	}
	if len(locker.held) != 0 {
		t.Fatalf("locks should be released, still held %v", locker.held)
	}
	if ing.calls.Load() != 1 || sc.perPair.Load() != 1 {
		t.Fatalf("ingest %d score %d", ing.calls.Load(), sc.perPair.Load())
	}
}

func TestCycleSkipsWhenLockHeld(t *testing.T) {
	locker := &fakeLocker{held: map[int64]bool{100: true}}
	ing := &fakeIngester{}
	svc, _ := New(testConfig(), ing, &fakeScorer{}, locker, zerolog.Nop())

	if err := svc.IngestCycle(context.Background(), time.Now()); err != nil {
		t.Fatalf("held lock is not an error: %v", err)
	}
	if ing.calls.Load() != 0 {
		t.Fatal("ingest must not run without the lock")
	}
}

func TestIngestCycleReportsTotalFailure(t *testing.T) {
	svc, _ := New(testConfig(), &fakeIngester{fail: true}, &fakeScorer{}, nil, zerolog.Nop())
	if err := svc.IngestCycle(context.Background(), time.Now()); err == nil {
		t.Fatal("every pair failing should surface an error")
	}
}

func TestGlobalScoring(t *testing.T) {
	cfg := testConfig()
	cfg.Scoring.Global = true
	sc := &fakeScorer{}
	svc, _ := New(cfg, &fakeIngester{}, sc, nil, zerolog.Nop())

	if err := svc.ScoreCycle(context.Background(), time.Now()); err != nil {
		t.Fatal(err)
	}
	if sc.global.Load() != 1 || sc.perPair.Load() != 0 {
		t.Fatalf("global mode should score once across pairs: global=%d pair=%d", sc.global.Load(), sc.perPair.Load())
	}
}

type blockingRunner struct{ started chan struct{} }

func (b blockingRunner) Run(ctx context.Context) error {
	close(b.started)
	<-ctx.Done()
	return nil
}

func TestRunIngestsOnStartAndStops(t *testing.T) {
	ing := &fakeIngester{}
	runner := blockingRunner{started: make(chan struct{})}
	svc, _ := New(testConfig(), ing, &fakeScorer{}, nil, zerolog.Nop(), runner)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	<-runner.started
	deadline := time.After(2 * time.Second)
	for ing.calls.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("ingest did not run on start")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("cancelled run should return nil, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("service did not stop")
	}
}
