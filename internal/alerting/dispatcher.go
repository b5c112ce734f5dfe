package alerting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"pumpguard/internal/storage"
)

const defaultRetryInterval = 500 * time.Millisecond

// Dispatcher fans alerts out to every configured notifier with bounded retries.
// Delivery failures never affect persistence; they are returned for logging only.
type Dispatcher struct {
	notifiers []Notifier
	attempts  int
	interval  time.Duration
	logger    zerolog.Logger
}

// NewDispatcher builds a dispatcher. attempts below one means a single try.
func NewDispatcher(attempts int, logger zerolog.Logger, notifiers ...Notifier) *Dispatcher {
	if attempts < 1 {
		attempts = 1
	}
	return &Dispatcher{
		notifiers: notifiers,
		attempts:  attempts,
		interval:  defaultRetryInterval,
		logger:    logger.With().Str("component", "alert_dispatcher").Logger(),
	}
}

// Len reports how many notifiers are attached.
func (d *Dispatcher) Len() int { return len(d.notifiers) }

// Publish delivers each alert to each notifier.
func (d *Dispatcher) Publish(ctx context.Context, alerts []storage.Alert) error {
	var errs []error
	for _, alert := range alerts {
		for _, n := range d.notifiers {
			if err := d.deliver(ctx, n, alert); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", n.Name(), err))
			}
		}
	}
	return errors.Join(errs...)
}

func (d *Dispatcher) deliver(ctx context.Context, n Notifier, alert storage.Alert) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.interval
	b.MaxInterval = 10 * d.interval
	b.MaxElapsedTime = 0

	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(d.attempts-1)), ctx)

	attempt := 0
	operation := func() error {
		attempt++
		return n.Notify(ctx, alert)
	}
	notify := func(err error, wait time.Duration) {
		d.logger.Warn().Err(err).
			Str("notifier", n.Name()).
			Str("pair", alert.PairName).
			Int("attempt", attempt).
			Dur("next_retry_in", wait).
			Msg("alert delivery failed, retrying")
	}

	if err := backoff.RetryNotify(operation, policy, notify); err != nil {
		return fmt.Errorf("failed after %d attempts: %w", attempt, err)
	}
	return nil
}
