package relayer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/msalopek/swap_relayer/settlement"
	"github.com/msalopek/swap_relayer/swaperr"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func newTestExecutor(maxElapsedSeconds int) *Executor {
	logger := zerolog.New(os.Stdout)
	return NewExecutor(RetryEntry{InitialIntervalMs: 1, MaxElapsedSeconds: maxElapsedSeconds}, NewMetrics(), &logger)
}

func TestExecutorRetriesCollaboratorErrors(t *testing.T) {
	x := newTestExecutor(5)

	calls := 0
	err := x.Do(context.Background(), "lock_funds", func(context.Context) error {
		calls++
		if calls < 3 {
			return fmt.Errorf("failed to lock funds: %w", settlement.ErrConfirmationTimeout)
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, float64(2), testutil.ToFloat64(x.metrics.retries.WithLabelValues("lock_funds")))
}

func TestExecutorStopsOnClassifiedErrors(t *testing.T) {
	x := newTestExecutor(5)

	for _, sentinel := range []error{swaperr.ErrHashMismatch, swaperr.ErrTooEarly, swaperr.ErrInvalidState} {
		calls := 0
		err := x.Do(context.Background(), "complete", func(context.Context) error {
			calls++
			return fmt.Errorf("%w: order", sentinel)
		})
		assert.ErrorIs(t, err, sentinel)
		assert.Equal(t, 1, calls, sentinel.Error())
	}
	assert.Zero(t, testutil.ToFloat64(x.metrics.retries.WithLabelValues("complete")))
}

func TestExecutorHonorsContext(t *testing.T) {
	x := newTestExecutor(5)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := x.Do(ctx, "cancel", func(context.Context) error {
		calls++
		return errors.New("rpc unavailable")
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)

	calls = 0
	err = x.Do(context.Background(), "cancel", func(context.Context) error {
		calls++
		return context.DeadlineExceeded
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, calls)
}

func TestExecutorWithoutRetries(t *testing.T) {
	x := newTestExecutor(0)

	calls := 0
	err := x.Do(context.Background(), "lock_funds", func(context.Context) error {
		calls++
		return settlement.ErrTxReverted
	})
	assert.ErrorIs(t, err, settlement.ErrTxReverted)
	assert.Equal(t, 1, calls)
}
