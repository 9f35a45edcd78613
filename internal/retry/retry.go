// Package retry executes Result-returning operations under a bounded
// exponential-backoff policy.
package retry

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/babelloop/babelloop/internal/errs"
	"github.com/babelloop/babelloop/internal/result"
)

// Delays never drop below this floor, jitter included.
const minimumDelay = 100 * time.Millisecond

// Policy bounds the retry behavior of one engine.
type Policy struct {
	MaxAttempts  int           `yaml:"max_attempts"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	Multiplier   float64       `yaml:"multiplier"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	JitterRange  time.Duration `yaml:"jitter_range"`

	// RetryableKinds gates which failures earn another attempt. Kinds
	// outside the set fail fast without burning a delay.
	RetryableKinds []errs.Kind `yaml:"retryable_kinds"`
}

// NewPolicy returns the default policy: 4 attempts, 0.5s initial delay
// doubling up to 30s, half a second of jitter, network-shaped errors only.
func NewPolicy() Policy {
	return Policy{
		MaxAttempts:  4,
		InitialDelay: 500 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     30 * time.Second,
		JitterRange:  500 * time.Millisecond,
		RetryableKinds: []errs.Kind{
			errs.KindTimeout,
			errs.KindConnection,
			errs.KindTLS,
			errs.KindNetwork,
			errs.KindRateLimited,
		},
	}
}

func (p Policy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("retry max_attempts must be at least 1, got %d", p.MaxAttempts)
	}
	if p.InitialDelay < 0 || p.MaxDelay < 0 || p.JitterRange < 0 {
		return fmt.Errorf("retry delays must be non-negative")
	}
	if p.Multiplier < 1 {
		return fmt.Errorf("retry multiplier must be >= 1, got %v", p.Multiplier)
	}
	return nil
}

func (p Policy) retryable(kind errs.Kind) bool {
	for _, k := range p.RetryableKinds {
		if k == kind {
			return true
		}
	}
	return false
}

// backoff builds the capped geometric delay sequence for one execution.
// Jitter is applied separately so it stays an absolute +/- range rather than
// a fraction of the current interval.
func (p Policy) backoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialDelay
	b.Multiplier = p.Multiplier
	b.MaxInterval = p.MaxDelay
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Engine runs operations under a Policy. One engine is shared by all
// in-flight operations, so it keeps no per-call state.
type Engine struct {
	policy Policy
	logger *logrus.Entry
}

func NewEngine(policy Policy) (e *Engine, err error) {
	if err = policy.Validate(); err != nil {
		return
	}
	e = &Engine{
		policy: policy,
		logger: logrus.WithField("component", "retry"),
	}
	return
}

func (e *Engine) Policy() Policy {
	return e.policy
}

// jitter draws from the top-level rand source, which is safe for
// concurrent use.
func (e *Engine) jitter() time.Duration {
	if e.policy.JitterRange <= 0 {
		return 0
	}
	span := int64(2 * e.policy.JitterRange)
	return time.Duration(rand.Int63n(span)) - e.policy.JitterRange
}

// sleep blocks for d or until ctx is canceled, whichever comes first.
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

// Do invokes op until it succeeds, a non-retryable failure occurs, the
// policy's attempt budget is exhausted, or ctx is canceled. Exhaustion is
// reported as a MaxRetriesExceeded error wrapping the last cause so callers
// can tell "gave up after N attempts" from "failed once, non-retryable".
// onRetry, when non-nil, receives a progress message before each delay.
func Do[T any](ctx context.Context, e *Engine, name string, op func() result.Result[T], onRetry func(string)) result.Result[T] {
	bo := e.policy.backoff()
	logger := e.logger.WithField("operation", name)

	for attempt := 1; ; attempt++ {
		res := op()
		if res.IsSuccess() {
			if attempt > 1 {
				logger.Infof("succeeded on attempt %d", attempt)
			}
			return res
		}

		cause := res.Err()
		if attempt >= e.policy.MaxAttempts {
			logger.Errorf("no more retries: %v", cause)
			return result.Failure[T](errs.MaxRetries(attempt, cause))
		}

		kind := errs.KindOf(cause)
		if !e.policy.retryable(kind) {
			logger.Debugf("%s is not retryable, failing fast", kind)
			return res
		}

		delay := bo.NextBackOff() + e.jitter()
		if delay < minimumDelay {
			delay = minimumDelay
		}

		logger.Warnf("%v. Retry attempt %d/%d in %s", cause, attempt+1, e.policy.MaxAttempts, delay.Round(time.Millisecond))
		if onRetry != nil {
			onRetry(fmt.Sprintf("Error in %s. Retrying in %.1fs (attempt %d/%d)",
				name, delay.Seconds(), attempt, e.policy.MaxAttempts))
		}

		if err := sleep(ctx, delay); err != nil {
			return result.Failure[T](errs.Wrap(errs.KindCanceled, "canceled while waiting to retry", err))
		}
	}
}
