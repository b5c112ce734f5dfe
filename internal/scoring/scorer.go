package scoring

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"pumpguard/internal/config"
	"pumpguard/internal/metrics"
	"pumpguard/internal/storage"
)

// GlobalPairName labels alerts produced in global mode.
const GlobalPairName = "All pairs"

// Store is the persistence the scorer needs.
type Store interface {
	ListSwapsBetween(ctx context.Context, pairAddress string, from, to time.Time) ([]storage.SwapRecord, error)
	InsertAlert(ctx context.Context, alert storage.Alert) (storage.Alert, error)
}

// Publisher delivers persisted alerts to external channels.
type Publisher interface {
	Publish(ctx context.Context, alerts []storage.Alert) error
}

// SnapshotWriter refreshes the public alert snapshot after a pass.
type SnapshotWriter interface {
	WriteSnapshot(ctx context.Context) error
}

// Outcome is the result of scoring one window.
type Outcome struct {
	Name     string
	Address  string
	Measures Measures
	Alerts   []storage.Alert
	Err      error
}

// Report groups the outcomes of one scoring pass.
type Report struct {
	Outcomes []Outcome
}

// Alerts flattens every persisted alert of the pass.
func (r Report) Alerts() []storage.Alert {
	var out []storage.Alert
	for _, o := range r.Outcomes {
		out = append(out, o.Alerts...)
	}
	return out
}

// Failed counts windows that could not be scored.
func (r Report) Failed() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Err != nil {
			n++
		}
	}
	return n
}

// Scorer loads windows, evaluates them and persists the resulting alerts.
type Scorer struct {
	engine    *Engine
	store     Store
	publisher Publisher
	snapshot  SnapshotWriter
	metrics   *metrics.Collectors
	logger    zerolog.Logger
	now       func() time.Time
}

// Option customises a Scorer.
type Option func(*Scorer)

// WithPublisher attaches an alert publisher.
func WithPublisher(p Publisher) Option {
	return func(s *Scorer) { s.publisher = p }
}

// WithSnapshot attaches a snapshot writer.
func WithSnapshot(w SnapshotWriter) Option {
	return func(s *Scorer) { s.snapshot = w }
}

// WithMetrics attaches collectors.
func WithMetrics(c *metrics.Collectors) Option {
	return func(s *Scorer) { s.metrics = c }
}

// NewScorer constructs a scorer.
func NewScorer(engine *Engine, store Store, logger zerolog.Logger, opts ...Option) *Scorer {
	s := &Scorer{
		engine:  engine,
		store:   store,
		metrics: metrics.New(),
		logger:  logger.With().Str("component", "scoring").Logger(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Score evaluates each enabled pair's trailing window. One failing pair does not stop the others.
func (s *Scorer) Score(ctx context.Context, pairs []config.PairConfig) Report {
	now := s.now().UTC()
	var report Report
	for _, pair := range pairs {
		if !pair.Enabled {
			s.logger.Info().Str("pair", pair.Name).Msg("skipping disabled pair")
			continue
		}
		if err := ctx.Err(); err != nil {
			report.Outcomes = append(report.Outcomes, Outcome{Name: pair.Name, Address: pair.Key(), Err: err})
			continue
		}
		report.Outcomes = append(report.Outcomes, s.scoreWindow(ctx, pair.Key(), pair.Name, now))
	}
	s.finish(ctx, report)
	return report
}

// ScoreAll evaluates a single window across every pair.
func (s *Scorer) ScoreAll(ctx context.Context) Report {
	report := Report{Outcomes: []Outcome{s.scoreWindow(ctx, "", GlobalPairName, s.now().UTC())}}
	s.finish(ctx, report)
	return report
}

func (s *Scorer) scoreWindow(ctx context.Context, address, name string, now time.Time) Outcome {
	out := Outcome{Name: name, Address: address}
	logger := s.logger.With().Str("pair", name).Logger()

	from := now.Add(-s.engine.Rules().Window)
	swaps, err := s.store.ListSwapsBetween(ctx, address, from, now)
	if err != nil {
		out.Err = fmt.Errorf("load window for %s: %w", name, err)
		s.metrics.ScoreFailures.WithLabelValues(name).Inc()
		logger.Error().Err(err).Msg("scoring failed")
		return out
	}

	alerts, measures := s.engine.Evaluate(Window{PairAddress: address, PairName: name, Swaps: swaps}, now)
	out.Measures = measures
	logger.Info().
		Int("swaps", measures.SwapCount).
		Int("unique_traders", measures.UniqueTraders).
		Int("large_swaps", measures.LargeSwaps).
		Msg("window measured")

	for _, alert := range alerts {
		stored, err := s.store.InsertAlert(ctx, alert)
		if err != nil {
			out.Err = fmt.Errorf("persist %s alert for %s: %w", alert.Type, name, err)
			s.metrics.ScoreFailures.WithLabelValues(name).Inc()
			logger.Error().Err(err).Str("alert_type", string(alert.Type)).Msg("persist alert failed")
			continue
		}
		out.Alerts = append(out.Alerts, stored)
		s.metrics.AlertsFired.WithLabelValues(name, string(stored.Type)).Inc()
		logger.Warn().
			Str("alert_type", string(stored.Type)).
			Float64("score", stored.Score).
			Msg(stored.Description)
	}
	return out
}

func (s *Scorer) finish(ctx context.Context, report Report) {
	alerts := report.Alerts()
	if s.publisher != nil && len(alerts) > 0 {
		if err := s.publisher.Publish(ctx, alerts); err != nil {
			s.logger.Error().Err(err).Int("alerts", len(alerts)).Msg("alert delivery failed")
		}
	}
	if s.snapshot != nil {
		if err := s.snapshot.WriteSnapshot(ctx); err != nil {
			s.logger.Error().Err(err).Msg("write alert snapshot failed")
		}
	}
	s.logger.Info().Int("windows", len(report.Outcomes)).Int("alerts", len(alerts)).Int("failed", report.Failed()).Msg("scoring pass complete")
}
