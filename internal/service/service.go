package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"pumpguard/internal/config"
	"pumpguard/internal/ingest"
	"pumpguard/internal/scheduler"
	"pumpguard/internal/scoring"
	"pumpguard/internal/storage"
)

// Ingester runs one ingestion pass.
type Ingester interface {
	Ingest(ctx context.Context, pairs []config.PairConfig) ingest.Report
}

// ScoreRunner runs one scoring pass.
type ScoreRunner interface {
	Score(ctx context.Context, pairs []config.PairConfig) scoring.Report
	ScoreAll(ctx context.Context) scoring.Report
}

// Runner is a long-lived component started alongside the cycles, such as the HTTP API.
type Runner interface {
	Run(ctx context.Context) error
}

// Service orchestrates scheduled ingestion and scoring.
type Service struct {
	pairs       []config.PairConfig
	global      bool
	ingester    Ingester
	scorer      ScoreRunner
	ingestSched *scheduler.Scheduler
	scoreSched  *scheduler.Scheduler
	locker      storage.AdvisoryLocker
	lockKey     int64
	runners     []Runner
	logger      zerolog.Logger
}

// New constructs the monitoring service. locker may be nil, in which case cycles run unguarded.
func New(cfg *config.Config, ingester Ingester, scorer ScoreRunner, locker storage.AdvisoryLocker, logger zerolog.Logger, runners ...Runner) (*Service, error) {
	ingestSched, err := scheduler.New(scheduler.Options{
		Name:         "ingest",
		Interval:     cfg.Scheduler.IngestInterval,
		AlignToStart: cfg.Scheduler.Align,
		StartupDelay: cfg.Scheduler.StartupDelay,
		RunOnStart:   true,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("ingest scheduler: %w", err)
	}
	scoreSched, err := scheduler.New(scheduler.Options{
		Name:         "score",
		Interval:     cfg.Scheduler.ScoreInterval,
		AlignToStart: cfg.Scheduler.Align,
		StartupDelay: cfg.Scheduler.StartupDelay,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("score scheduler: %w", err)
	}

	return &Service{
		pairs:       cfg.EnabledPairs(),
		global:      cfg.Scoring.Global,
		ingester:    ingester,
		scorer:      scorer,
		ingestSched: ingestSched,
		scoreSched:  scoreSched,
		locker:      locker,
		lockKey:     cfg.Scheduler.AdvisoryLockKey,
		runners:     runners,
		logger:      logger.With().Str("component", "service").Logger(),
	}, nil
}

// Run starts both cycles and every runner, returning when ctx is cancelled or a runner fails.
func (s *Service) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.ingestSched.Run(gctx, s.IngestCycle) })
	g.Go(func() error { return s.scoreSched.Run(gctx, s.ScoreCycle) })
	for _, r := range s.runners {
		g.Go(func() error { return r.Run(gctx) })
	}

	s.logger.Info().
		Int("pairs", len(s.pairs)).
		Dur("ingest_interval", s.ingestSched.Interval()).
		Dur("score_interval", s.scoreSched.Interval()).
		Msg("service started")

	err := g.Wait()
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

// IngestCycle runs one ingestion pass if this instance holds the ingest lock.
func (s *Service) IngestCycle(ctx context.Context, at time.Time) error {
	unlock, proceed, err := s.acquireLock(ctx, s.lockKey)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Time("at", at).Msg("skip ingest cycle because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	report := s.ingester.Ingest(ctx, s.pairs)
	if failed := report.Failed(); failed > 0 && failed == len(report.Results) {
		return fmt.Errorf("all %d pairs failed to ingest", failed)
	}
	return nil
}

// ScoreCycle runs one scoring pass if this instance holds the score lock.
func (s *Service) ScoreCycle(ctx context.Context, at time.Time) error {
	unlock, proceed, err := s.acquireLock(ctx, s.scoreLockKey())
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Time("at", at).Msg("skip score cycle because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	var report scoring.Report
	if s.global {
		report = s.scorer.ScoreAll(ctx)
	} else {
		report = s.scorer.Score(ctx, s.pairs)
	}
	if failed := report.Failed(); failed > 0 && failed == len(report.Outcomes) {
		return fmt.Errorf("all %d windows failed to score", failed)
	}
	return nil
}

func (s *Service) scoreLockKey() int64 {
	if s.lockKey == 0 {
		return 0
	}
	return s.lockKey + 1
}

func (s *Service) acquireLock(ctx context.Context, key int64) (func(), bool, error) {
	if key == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, key)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
