package alerting

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"pumpguard/internal/storage"
)

// AlertLister reads the newest alerts.
type AlertLister interface {
	ListRecentAlerts(ctx context.Context, limit int) ([]storage.Alert, error)
}

// Snapshot writes the newest alerts to a JSON file for static consumers.
type Snapshot struct {
	store AlertLister
	path  string
	size  int
}

// NewSnapshot builds a snapshot writer; size defaults to 50.
func NewSnapshot(store AlertLister, path string, size int) *Snapshot {
	if size <= 0 {
		size = 50
	}
	return &Snapshot{store: store, path: path, size: size}
}

// WriteSnapshot replaces the file atomically.
func (s *Snapshot) WriteSnapshot(ctx context.Context) error {
	alerts, err := s.store.ListRecentAlerts(ctx, s.size)
	if err != nil {
		return fmt.Errorf("load alerts for snapshot: %w", err)
	}
	if alerts == nil {
		alerts = []storage.Alert{}
	}

	body, err := json.MarshalIndent(alerts, "", "    ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".alerts-*.json")
	if err != nil {
		return fmt.Errorf("create snapshot temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod snapshot: %w", err)
	}
	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}
