package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// CycleFunc is invoked once per cycle with the cycle's nominal start time.
type CycleFunc func(ctx context.Context, at time.Time) error

// Options tune scheduler behaviour.
type Options struct {
	Name         string
	Interval     time.Duration
	AlignToStart bool
	StartupDelay time.Duration
	// RunOnStart runs one cycle immediately instead of waiting a full interval.
	RunOnStart bool
}

// Scheduler runs short batch cycles on a fixed interval. A failed cycle is logged and the
// next one runs on schedule.
type Scheduler struct {
	opts   Options
	logger zerolog.Logger
	now    func() time.Time
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) (*Scheduler, error) {
	if opts.Interval <= 0 {
		return nil, errors.New("scheduler interval must be positive")
	}
	if opts.Name == "" {
		opts.Name = "cycle"
	}
	return &Scheduler{
		opts:   opts,
		logger: logger.With().Str("component", "scheduler").Str("cycle", opts.Name).Logger(),
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// Interval returns the configured period.
func (s *Scheduler) Interval() time.Duration {
	return s.opts.Interval
}

// Run blocks, invoking fn on every interval until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context, fn CycleFunc) error {
	if s.opts.StartupDelay > 0 {
		if err := sleep(ctx, s.opts.StartupDelay); err != nil {
			return err
		}
	}

	if s.opts.RunOnStart {
		s.execute(ctx, fn, s.now())
	}

	next := s.nextTick(s.now())
	for {
		delay := next.Sub(s.now())
		if delay < 0 {
			s.logger.Warn().Dur("behind", -delay).Msg("cycle overran its interval; skipping missed ticks")
			next = s.nextTick(s.now())
			delay = next.Sub(s.now())
		}

		s.logger.Debug().Time("next_run", next).Msg("waiting for next cycle")
		if err := sleep(ctx, delay); err != nil {
			return err
		}

		s.execute(ctx, fn, s.cycleStart(next))
		next = next.Add(s.opts.Interval)
	}
}

func (s *Scheduler) execute(ctx context.Context, fn CycleFunc, at time.Time) {
	started := s.now()
	s.logger.Debug().Time("at", at).Msg("executing scheduled cycle")
	if err := fn(ctx, at); err != nil {
		s.logger.Error().Err(err).Time("at", at).Msg("cycle failed")
		return
	}
	s.logger.Debug().Dur("took", s.now().Sub(started)).Msg("cycle finished")
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (s *Scheduler) nextTick(now time.Time) time.Time {
	if !s.opts.AlignToStart {
		return now.Add(s.opts.Interval)
	}
	tick := now.Truncate(s.opts.Interval)
	if !tick.After(now) {
		tick = tick.Add(s.opts.Interval)
	}
	return tick
}

func (s *Scheduler) cycleStart(t time.Time) time.Time {
	if !s.opts.AlignToStart {
		return t
	}
	return t.Truncate(s.opts.Interval)
}
