package storage

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"pumpguard/internal/config"
)

// These run against real backends and are skipped unless the matching variable is set:
//
//	PUMPGUARD_TEST_DSN=postgres://... go test ./internal/storage
//	PUMPGUARD_TEST_REDIS_ADDR=localhost:6379 go test ./internal/storage

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("PUMPGUARD_TEST_DSN")
	if dsn == "" {
		t.Skip("PUMPGUARD_TEST_DSN not set")
	}
	if err := Migrate(dsn); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	pool, err := NewPool(ctx, config.DatabaseConfig{DSN: dsn, MaxOpenConns: 4})
	if err != nil {
		t.Fatalf("open pool: %v", err)
	}
	store := NewStore(pool)
	t.Cleanup(store.Close)
	return store
}

// uniqueSuffix keeps rows from separate runs against the same database apart.
func uniqueSuffix() string {
	return fmt.Sprintf("%x", time.Now().UnixNano())
}

func TestStoreSwapsIntegration(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	suffix := uniqueSuffix()
	pair := "0xpair" + suffix
	now := time.Now().UTC().Truncate(time.Second)

	swaps := []SwapRecord{
		{TxHash: "0xa" + suffix, BlockNumber: 10, PairAddress: pair, PairName: "TEST/PAIR", Sender: "0x01", Amount0In: decimal.NewFromInt(1), CreatedAt: now},
		{TxHash: "0xb" + suffix, BlockNumber: 12, PairAddress: pair, PairName: "TEST/PAIR", Sender: "0x02", Amount1Out: decimal.RequireFromString("2.5"), CreatedAt: now},
		{TxHash: "0xc" + suffix, BlockNumber: 12, PairAddress: pair, PairName: "TEST/PAIR", Sender: "0x01", CreatedAt: now},
	}
	for _, swap := range swaps {
		inserted, err := store.InsertSwap(ctx, swap)
		if err != nil || !inserted {
			t.Fatalf("insert %s: inserted=%v err=%v", swap.TxHash, inserted, err)
		}
	}
	inserted, err := store.InsertSwap(ctx, swaps[0])
	if err != nil {
		t.Fatalf("duplicate insert must not error: %v", err)
	}
	if inserted {
		t.Fatal("duplicate tx hash should be ignored")
	}

	last, err := store.LastBlock(ctx, pair)
	if err != nil || last != 12 {
		t.Fatalf("last block: %d %v", last, err)
	}

	stats, err := store.RefreshPairStats(ctx, pair, "TEST/PAIR", now)
	if err != nil {
		t.Fatalf("refresh stats: %v", err)
	}
	if stats.TotalSwaps != 3 || stats.UniqueTraders != 2 {
		t.Fatalf("unexpected stats %+v", stats)
	}

	listed, err := store.ListSwapsBetween(ctx, pair, now.Add(-time.Minute), now.Add(time.Minute))
	if err != nil || len(listed) != 3 {
		t.Fatalf("list swaps: %d %v", len(listed), err)
	}
	for _, s := range listed {
		if s.TxHash == swaps[1].TxHash && !s.Amount1Out.Equal(swaps[1].Amount1Out) {
			t.Fatalf("amount round trip lost precision: %s", s.Amount1Out)
		}
	}
}

func TestStoreAlertsIntegration(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	pair := "0xpair" + uniqueSuffix()

	saved, err := store.InsertAlert(ctx, Alert{
		PairAddress: pair,
		PairName:    "TEST/PAIR",
		Type:        AlertPumpWarning,
		Description: "integration",
		Score:       0.9,
		CreatedAt:   time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("insert alert: %v", err)
	}
	if saved.ID == 0 {
		t.Fatal("alert id should be assigned")
	}

	alerts, err := store.ListRecentAlerts(ctx, 50)
	if err != nil {
		t.Fatalf("list alerts: %v", err)
	}
	for _, a := range alerts {
		if a.ID == saved.ID {
			if a.Type != AlertPumpWarning || a.PairAddress != pair {
				t.Fatalf("unexpected alert %+v", a)
			}
			return
		}
	}
	t.Fatalf("alert %d not listed", saved.ID)
}

func TestStoreNonceSingleUseIntegration(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	address := "0xaddr" + uniqueSuffix()
	now := time.Now().UTC()

	if err := store.InsertNonce(ctx, Nonce{Address: address, Value: "n1", CreatedAt: now}); err != nil {
		t.Fatalf("insert nonce: %v", err)
	}
	if _, ok, err := store.FindNonce(ctx, address, "n1", now.Add(-time.Minute)); err != nil || !ok {
		t.Fatalf("find nonce: ok=%v err=%v", ok, err)
	}
	if _, ok, err := store.FindNonce(ctx, address, "n1", now.Add(time.Minute)); err != nil || ok {
		t.Fatalf("nonce older than notBefore should be ignored: ok=%v err=%v", ok, err)
	}

	removed, err := store.DeleteNonce(ctx, address, "n1")
	if err != nil || !removed {
		t.Fatalf("first delete: removed=%v err=%v", removed, err)
	}
	removed, err = store.DeleteNonce(ctx, address, "n1")
	if err != nil || removed {
		t.Fatalf("second delete must report nothing removed: removed=%v err=%v", removed, err)
	}
}

func TestStoreAdvisoryLockIntegration(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	key := time.Now().UnixNano()

	unlock, ok, err := store.TryAdvisoryLock(ctx, key)
	if err != nil || !ok {
		t.Fatalf("first lock: ok=%v err=%v", ok, err)
	}

	// a second session cannot take the same key
	_, ok, err = store.TryAdvisoryLock(ctx, key)
	if err != nil || ok {
		t.Fatalf("second lock should be refused: ok=%v err=%v", ok, err)
	}

	unlock()
	unlock2, ok, err := store.TryAdvisoryLock(ctx, key)
	if err != nil || !ok {
		t.Fatalf("lock after release: ok=%v err=%v", ok, err)
	}
	unlock2()
}

func TestRedisNonceStoreIntegration(t *testing.T) {
	addr := os.Getenv("PUMPGUARD_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("PUMPGUARD_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	store := NewRedisNonceStore(addr, os.Getenv("PUMPGUARD_TEST_REDIS_PASSWORD"), 0, time.Minute)
	t.Cleanup(func() { _ = store.Close() })
	if err := store.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}

	address := "0xaddr" + uniqueSuffix()
	now := time.Now().UTC()
	if err := store.InsertNonce(ctx, Nonce{Address: address, Value: "n1", CreatedAt: now}); err != nil {
		t.Fatalf("insert nonce: %v", err)
	}
	if _, ok, err := store.FindNonce(ctx, address, "n1", now.Add(-time.Minute)); err != nil || !ok {
		t.Fatalf("find nonce: ok=%v err=%v", ok, err)
	}

	removed, err := store.DeleteNonce(ctx, address, "n1")
	if err != nil || !removed {
		t.Fatalf("first delete: removed=%v err=%v", removed, err)
	}
	removed, err = store.DeleteNonce(ctx, address, "n1")
	if err != nil || removed {
		t.Fatalf("second delete must report nothing removed: removed=%v err=%v", removed, err)
	}
}
