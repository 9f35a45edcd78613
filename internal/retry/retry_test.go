package retry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/babelloop/babelloop/internal/errs"
	"github.com/babelloop/babelloop/internal/result"
)

func fastPolicy(maxAttempts int) Policy {
	p := NewPolicy()
	p.MaxAttempts = maxAttempts
	p.InitialDelay = time.Millisecond
	p.MaxDelay = 5 * time.Millisecond
	p.JitterRange = 0
	return p
}

func TestPolicyValidate(t *testing.T) {
	assert.NoError(t, NewPolicy().Validate())

	p := NewPolicy()
	p.MaxAttempts = 0
	assert.Error(t, p.Validate())

	p = NewPolicy()
	p.Multiplier = 0.5
	assert.Error(t, p.Validate())

	p = NewPolicy()
	p.InitialDelay = -time.Second
	assert.Error(t, p.Validate())
}

func TestDoSucceedsFirstAttempt(t *testing.T) {
	e, err := NewEngine(fastPolicy(4))
	require.NoError(t, err)

	calls := 0
	res := Do(context.Background(), e, "op", func() result.Result[string] {
		calls++
		return result.Success("done")
	}, nil)

	require.True(t, res.IsSuccess())
	assert.Equal(t, "done", res.MustValue())
	assert.Equal(t, 1, calls)
}

func TestDoRecoversAfterTransientFailure(t *testing.T) {
	e, err := NewEngine(fastPolicy(4))
	require.NoError(t, err)

	calls := 0
	res := Do(context.Background(), e, "op", func() result.Result[string] {
		calls++
		if calls < 3 {
			return result.Failure[string](errs.Connection("refused"))
		}
		return result.Success("done")
	}, nil)

	require.True(t, res.IsSuccess())
	assert.Equal(t, 3, calls)
}

func TestDoFailsFastOnNonRetryable(t *testing.T) {
	e, err := NewEngine(fastPolicy(4))
	require.NoError(t, err)

	calls := 0
	res := Do(context.Background(), e, "op", func() result.Result[string] {
		calls++
		return result.Failure[string](errs.User("empty text"))
	}, nil)

	require.True(t, res.IsFailure())
	assert.Equal(t, 1, calls, "non-retryable failures earn exactly one attempt")
	assert.Equal(t, errs.KindUser, errs.KindOf(res.Err()))
}

func TestDoExhaustsAttempts(t *testing.T) {
	e, err := NewEngine(fastPolicy(3))
	require.NoError(t, err)

	calls := 0
	retryMsgs := []string{}
	res := Do(context.Background(), e, "op", func() result.Result[string] {
		calls++
		return result.Failure[string](errs.Timeout("slow"))
	}, func(msg string) { retryMsgs = append(retryMsgs, msg) })

	require.True(t, res.IsFailure())
	assert.Equal(t, 3, calls)
	assert.Len(t, retryMsgs, 2)

	e2 := errs.AsError(res.Err())
	assert.Equal(t, errs.KindMaxRetries, e2.Kind)
	assert.Equal(t, 3, e2.Attempts)
	// Last cause stays reachable.
	assert.Equal(t, errs.KindTimeout, errs.KindOf(e2.Unwrap()))
}

func TestDoExhaustionBeatsRetryableCheck(t *testing.T) {
	// A single-attempt policy reports exhaustion even for errors that would
	// never be retried.
	e, err := NewEngine(fastPolicy(1))
	require.NoError(t, err)

	res := Do(context.Background(), e, "op", func() result.Result[int] {
		return result.Failure[int](errs.User("bad input"))
	}, nil)

	require.True(t, res.IsFailure())
	assert.Equal(t, errs.KindMaxRetries, errs.KindOf(res.Err()))
}

func TestDoCanceledWhileWaiting(t *testing.T) {
	p := fastPolicy(4)
	p.InitialDelay = time.Second
	p.MaxDelay = time.Second
	e, err := NewEngine(p)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	res := Do(ctx, e, "op", func() result.Result[int] {
		calls++
		return result.Failure[int](errs.Network("flaky"))
	}, nil)

	require.True(t, res.IsFailure())
	assert.Equal(t, 1, calls)
	assert.Equal(t, errs.KindCanceled, errs.KindOf(res.Err()))
}

func TestDoConcurrentOperationsShareEngine(t *testing.T) {
	// One engine serves every in-flight operation, and jitter draws from a
	// shared random source. Distinct operations retrying at the same time
	// must not trip the race detector.
	p := fastPolicy(3)
	p.JitterRange = time.Millisecond
	e, err := NewEngine(p)
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]result.Result[int], 4)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			calls := 0
			results[i] = Do(context.Background(), e, "op", func() result.Result[int] {
				calls++
				if calls < 2 {
					return result.Failure[int](errs.Timeout("slow"))
				}
				return result.Success(i)
			}, nil)
		}(i)
	}
	wg.Wait()

	for i, res := range results {
		require.True(t, res.IsSuccess())
		assert.Equal(t, i, res.MustValue())
	}
}

func TestDelayFloor(t *testing.T) {
	e, err := NewEngine(fastPolicy(2))
	require.NoError(t, err)

	start := time.Now()
	Do(context.Background(), e, "op", func() result.Result[int] {
		return result.Failure[int](errs.Network("flaky"))
	}, nil)
	// One retry delay, floored at 100ms despite the 1ms policy delay.
	assert.GreaterOrEqual(t, time.Since(start), minimumDelay)
}
