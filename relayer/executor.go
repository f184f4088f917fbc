package relayer

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/msalopek/swap_relayer/swaperr"
	"github.com/rs/zerolog"
)

// Executor retries coordinator calls that failed on a collaborator: an
// unconfirmed or reverted transaction, an unreachable chain. Classified
// settlement errors are returned at once since repeating the call with the
// same input cannot change the outcome.
type Executor struct {
	newBackOff func() backoff.BackOff
	metrics    *Metrics
	logger     *zerolog.Logger
}

func NewExecutor(cfg RetryEntry, metrics *Metrics, logger *zerolog.Logger) *Executor {
	initial := time.Duration(cfg.InitialIntervalMs) * time.Millisecond
	maxElapsed := time.Duration(cfg.MaxElapsedSeconds) * time.Second
	return &Executor{
		newBackOff: func() backoff.BackOff {
			// zero disables retries
			if maxElapsed <= 0 {
				return &backoff.StopBackOff{}
			}
			b := backoff.NewExponentialBackOff()
			if initial > 0 {
				b.InitialInterval = initial
			}
			b.MaxElapsedTime = maxElapsed
			return b
		},
		metrics: metrics,
		logger:  logger,
	}
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return swaperr.KindOf(err) == swaperr.KindUnknown
}

func (x *Executor) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	attempt := func() error {
		err := fn(ctx)
		if err != nil && !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, next time.Duration) {
		if x.metrics != nil {
			x.metrics.retries.WithLabelValues(op).Inc()
		}
		x.logger.Warn().Err(err).
			Str("op", op).
			Dur("retry_in", next).
			Msg("operation failed - retrying")
	}
	return backoff.RetryNotify(attempt, backoff.WithContext(x.newBackOff(), ctx), notify)
}
