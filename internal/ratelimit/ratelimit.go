// Package ratelimit provides the two rate disciplines used by providers: an
// adaptive backoff limiter driven by observed failures and server hints, and
// a steady-state token bucket for providers with a known request budget.
package ratelimit

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Config bounds the adaptive limiter.
type Config struct {
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	Factor       float64       `yaml:"factor"`
	Jitter       time.Duration `yaml:"jitter"`
	MaxRetries   int           `yaml:"max_retries"`
}

func NewConfig() Config {
	return Config{
		InitialDelay: time.Second,
		MaxDelay:     60 * time.Second,
		Factor:       2.0,
		Jitter:       500 * time.Millisecond,
		MaxRetries:   5,
	}
}

// AdaptiveLimiter grows its wait geometrically on failures and resets on
// success. A server-supplied Retry-After hint overrides exactly one
// subsequent Wait: the server knows better than our guess.
type AdaptiveLimiter struct {
	conf   Config
	logger *logrus.Entry

	mu            sync.Mutex
	delay         time.Duration
	failures      int
	adaptiveDelay time.Duration
	rand          *rand.Rand
}

func NewAdaptiveLimiter(conf Config) *AdaptiveLimiter {
	return &AdaptiveLimiter{
		conf:   conf,
		logger: logrus.WithField("component", "ratelimit"),
		delay:  conf.InitialDelay,
		rand:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Wait blocks for the current computed delay. It is a no-op until a failure
// has been recorded. Cancellation interrupts the wait.
func (l *AdaptiveLimiter) Wait(ctx context.Context) error {
	l.mu.Lock()
	if l.failures == 0 {
		l.mu.Unlock()
		return nil
	}
	var d time.Duration
	if l.adaptiveDelay > 0 {
		d = l.adaptiveDelay
		l.adaptiveDelay = 0
	} else {
		d = l.delay
		if l.conf.Jitter > 0 {
			d += time.Duration(l.rand.Int63n(int64(l.conf.Jitter)))
		}
	}
	l.mu.Unlock()

	l.logger.Infof("rate limit hit, waiting %s", d.Round(time.Millisecond))
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Success resets the delay to its floor and clears the failure counter.
func (l *AdaptiveLimiter) Success() {
	l.mu.Lock()
	l.delay = l.conf.InitialDelay
	l.failures = 0
	l.adaptiveDelay = 0
	l.mu.Unlock()
}

// Failure records a failed request. A positive retryAfter is adopted as a
// one-shot override for the next Wait; otherwise the guessed delay grows
// geometrically up to the cap.
func (l *AdaptiveLimiter) Failure(retryAfter time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if retryAfter > 0 {
		l.adaptiveDelay = retryAfter
	} else {
		next := time.Duration(float64(l.delay) * l.conf.Factor)
		if next > l.conf.MaxDelay {
			next = l.conf.MaxDelay
		}
		l.delay = next
	}
	l.failures++
}

// ShouldRetry reports whether the failure count is still within budget.
func (l *AdaptiveLimiter) ShouldRetry() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.failures < l.conf.MaxRetries
}

// Failures returns the consecutive failure count, for logs and tests.
func (l *AdaptiveLimiter) Failures() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.failures
}

// BucketConfig configures an optional steady-state token bucket applied
// before each provider call.
type BucketConfig struct {
	Enabled    bool    `yaml:"enabled"`
	RefillTPS  float64 `yaml:"refill_tps"`
	BucketSize int     `yaml:"bucket_size"`
}

// NewBucket returns a token-bucket limiter, or nil when disabled.
func NewBucket(conf BucketConfig) *rate.Limiter {
	if !conf.Enabled {
		return nil
	}
	return rate.NewLimiter(rate.Limit(conf.RefillTPS), conf.BucketSize)
}
