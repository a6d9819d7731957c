package resiliency

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-logr/logr"
	"github.com/stretchr/testify/require"
)

func fastBackoff() backoff.BackOff {
	return backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(time.Millisecond),
		backoff.WithMaxInterval(5*time.Millisecond),
		backoff.WithMaxElapsedTime(time.Second),
	)
}

func TestRetryGetEventuallySucceeds(t *testing.T) {
	t.Parallel()

	attempts := 0
	v, err := RetryGet(context.Background(), fastBackoff(), func() (string, error) {
		attempts++
		if attempts < 3 {
			return "", errors.New("not yet")
		}
		return "done", nil
	})

	require.NoError(t, err)
	require.Equal(t, "done", v)
	require.Equal(t, 3, attempts)
}

func TestRetryGetStopsOnPermanentError(t *testing.T) {
	t.Parallel()

	attempts := 0
	fatal := errors.New("fatal")
	_, err := RetryGet(context.Background(), fastBackoff(), func() (int, error) {
		attempts++
		return 0, Permanent(fatal)
	})

	require.ErrorIs(t, err, fatal)
	require.Equal(t, 1, attempts)
}

func TestRetryGetReportsLastErrorOnCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	attemptErr := errors.New("address in use")
	_, err := RetryGet(ctx, backoff.NewConstantBackOff(5*time.Millisecond), func() (int, error) {
		return 0, attemptErr
	})

	require.ErrorIs(t, err, attemptErr)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMakePanicError(t *testing.T) {
	t.Parallel()

	require.NoError(t, MakePanicError(nil, logr.Discard()))

	err := MakePanicError("boom", logr.Discard())
	require.ErrorContains(t, err, "panic: boom")
	var permanent *backoff.PermanentError
	require.ErrorAs(t, err, &permanent)
	var panicErr *PanicError
	require.ErrorAs(t, err, &panicErr)
	require.Equal(t, "boom", panicErr.Value)
	require.Contains(t, panicErr.Stack, "MakePanicError")

	cause := errors.New("nil map")
	require.ErrorIs(t, MakePanicError(cause, logr.Discard()), cause)
}
