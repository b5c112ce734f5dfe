package storage

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is a process-local Repository used when no database is configured and in tests.
type MemoryStore struct {
	mu      sync.Mutex
	swaps   []SwapRecord
	txIndex map[string]struct{}
	stats   map[string]PairStats
	alerts  []Alert
	nonces  map[nonceKey]Nonce
	nextID  int64
}

type nonceKey struct {
	address string
	value   string
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		txIndex: make(map[string]struct{}),
		stats:   make(map[string]PairStats),
		nonces:  make(map[nonceKey]Nonce),
	}
}

func (m *MemoryStore) LastBlock(_ context.Context, pairAddress string) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var last uint64
	for _, s := range m.swaps {
		if s.PairAddress == pairAddress && s.BlockNumber > last {
			last = s.BlockNumber
		}
	}
	return last, nil
}

func (m *MemoryStore) InsertSwap(_ context.Context, swap SwapRecord) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.txIndex[swap.TxHash]; exists {
		return false, nil
	}
	m.txIndex[swap.TxHash] = struct{}{}
	m.swaps = append(m.swaps, swap)
	return true, nil
}

func (m *MemoryStore) RefreshPairStats(_ context.Context, pairAddress, pairName string, at time.Time) (PairStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	senders := make(map[string]struct{})
	var total int64
	for _, s := range m.swaps {
		if s.PairAddress != pairAddress {
			continue
		}
		total++
		senders[s.Sender] = struct{}{}
	}

	stats := PairStats{
		PairAddress:   pairAddress,
		PairName:      pairName,
		TotalSwaps:    total,
		UniqueTraders: int64(len(senders)),
		LastUpdated:   at,
	}
	m.stats[pairAddress] = stats
	return stats, nil
}

func (m *MemoryStore) ListSwapsBetween(_ context.Context, pairAddress string, from, to time.Time) ([]SwapRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	swaps := make([]SwapRecord, 0)
	for _, s := range m.swaps {
		if pairAddress != "" && s.PairAddress != pairAddress {
			continue
		}
		if s.CreatedAt.After(from) && !s.CreatedAt.After(to) {
			swaps = append(swaps, s)
		}
	}
	sort.SliceStable(swaps, func(i, j int) bool {
		if swaps[i].CreatedAt.Equal(swaps[j].CreatedAt) {
			return swaps[i].BlockNumber < swaps[j].BlockNumber
		}
		return swaps[i].CreatedAt.Before(swaps[j].CreatedAt)
	})
	return swaps, nil
}

func (m *MemoryStore) ListRecentSwaps(_ context.Context, limit int) ([]SwapRecord, error) {
	m.mu.Lock()
	swaps := append([]SwapRecord(nil), m.swaps...)
	m.mu.Unlock()

	sort.SliceStable(swaps, func(i, j int) bool { return swaps[i].BlockNumber > swaps[j].BlockNumber })
	if limit > 0 && len(swaps) > limit {
		swaps = swaps[:limit]
	}
	return swaps, nil
}

func (m *MemoryStore) ListPairStats(_ context.Context) ([]PairStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := make([]PairStats, 0, len(m.stats))
	for _, s := range m.stats {
		stats = append(stats, s)
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].PairName < stats[j].PairName })
	return stats, nil
}

func (m *MemoryStore) Summarize(_ context.Context) (Summary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	senders := make(map[string]struct{})
	var summary Summary
	for _, s := range m.swaps {
		summary.Swaps++
		senders[s.Sender] = struct{}{}
		if summary.LastIngest == nil || s.CreatedAt.After(*summary.LastIngest) {
			ts := s.CreatedAt
			summary.LastIngest = &ts
		}
	}
	summary.Traders = int64(len(senders))
	return summary, nil
}

func (m *MemoryStore) InsertAlert(_ context.Context, alert Alert) (Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	alert.ID = m.nextID
	m.alerts = append(m.alerts, alert)
	return alert, nil
}

func (m *MemoryStore) ListRecentAlerts(_ context.Context, limit int) ([]Alert, error) {
	m.mu.Lock()
	alerts := append([]Alert(nil), m.alerts...)
	m.mu.Unlock()

	sort.SliceStable(alerts, func(i, j int) bool {
		if alerts[i].CreatedAt.Equal(alerts[j].CreatedAt) {
			return alerts[i].ID > alerts[j].ID
		}
		return alerts[i].CreatedAt.After(alerts[j].CreatedAt)
	})
	if limit > 0 && len(alerts) > limit {
		alerts = alerts[:limit]
	}
	return alerts, nil
}

func (m *MemoryStore) InsertNonce(_ context.Context, nonce Nonce) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nonces[nonceKey{nonce.Address, nonce.Value}] = nonce
	return nil
}

func (m *MemoryStore) FindNonce(_ context.Context, address, value string, notBefore time.Time) (Nonce, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, ok := m.nonces[nonceKey{address, value}]
	if !ok || !n.CreatedAt.After(notBefore) {
		return Nonce{}, false, nil
	}
	return n, true, nil
}

func (m *MemoryStore) DeleteNonce(_ context.Context, address, value string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := nonceKey{address, value}
	if _, ok := m.nonces[key]; !ok {
		return false, nil
	}
	delete(m.nonces, key)
	return true, nil
}

func (m *MemoryStore) DeleteNoncesBefore(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var removed int64
	for key, n := range m.nonces {
		if n.CreatedAt.Before(cutoff) {
			delete(m.nonces, key)
			removed++
		}
	}
	return removed, nil
}

var _ Repository = (*MemoryStore)(nil)
