// Package provider holds the interchangeable translation backends. Provider
// kinds form a closed set resolved once at construction; there is no
// string-keyed runtime dispatch.
package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/babelloop/babelloop/internal/errs"
	"github.com/babelloop/babelloop/internal/localservice"
	"github.com/babelloop/babelloop/internal/metrics"
	"github.com/babelloop/babelloop/internal/ratelimit"
)

const (
	taskStatePending    = "pending"
	taskStateProcessing = "processing"
	taskStateSuccess    = "success"
	taskStateFailed     = "failed"
)

var allTaskStates = []string{
	taskStatePending,
	taskStateProcessing,
	taskStateSuccess,
	taskStateFailed,
}

// Request is one translation unit of work.
type Request struct {
	Text       string
	SourceLang string
	TargetLang string
}

// Provider translates a request or fails with a taxonomy error.
type Provider interface {
	Name() string
	Translate(ctx context.Context, req Request) (string, error)
}

// Kind selects a provider implementation. The set is closed.
type Kind string

const (
	KindRemote Kind = "remote"
	KindOpenAI Kind = "openai"
	KindLocal  Kind = "local"
)

// Config carries everything any one provider kind needs; unused fields are
// ignored by the other kinds.
type Config struct {
	Kind    Kind   `yaml:"kind"`
	Name    string `yaml:"name"`
	Timeout int64  `yaml:"timeout"`

	RateLimit ratelimit.BucketConfig `yaml:"rate_limit"`

	// Remote
	Endpoint string `yaml:"endpoint"`

	// OpenAI
	Token          string `yaml:"token"`
	Model          string `yaml:"model"`
	PromptTemplate string `yaml:"prompt_template"`
}

func NewConfig() Config {
	return Config{
		Kind:    KindRemote,
		Timeout: 10,
	}
}

func (c Config) name() string {
	if c.Name != "" {
		return c.Name
	}
	return string(c.Kind)
}

// New resolves the configured kind to a concrete provider, wrapped with the
// shared rate-limit and metrics plumbing. The local kind requires a
// supervisor client.
func New(conf Config, local *localservice.Client) (Provider, error) {
	var inner Provider
	var err error
	switch conf.Kind {
	case KindRemote:
		inner, err = newRemoteProvider(conf)
	case KindOpenAI:
		inner, err = newOpenAIProvider(conf)
	case KindLocal:
		if local == nil {
			return nil, fmt.Errorf("local provider requires a local service client")
		}
		inner = newLocalProvider(conf, local)
	default:
		return nil, fmt.Errorf("unrecognized provider kind: %s", conf.Kind)
	}
	if err != nil {
		return nil, err
	}
	return newBaseProvider(conf, inner), nil
}

// baseProvider carries the concerns common to all kinds: the steady-state
// token bucket, task-state metrics and per-provider logging.
type baseProvider struct {
	inner   Provider
	limiter *rate.Limiter
	timeout time.Duration
	logger  *logrus.Entry
}

func newBaseProvider(conf Config, inner Provider) *baseProvider {
	bp := &baseProvider{
		inner:   inner,
		limiter: ratelimit.NewBucket(conf.RateLimit),
		timeout: time.Duration(conf.Timeout) * time.Second,
		logger:  logrus.WithField("provider_name", inner.Name()),
	}
	// Initialize metrics so every label combination exists from the start.
	metrics.MetricProviderUp.WithLabelValues(inner.Name()).Set(1)
	for _, state := range allTaskStates {
		metrics.MetricTranslationTasks.WithLabelValues(state, inner.Name()).Add(0.0)
	}
	if bp.limiter != nil {
		bp.logger.Debugf("rate limiter refill: %.2f tokens/s, bucket size: %d",
			float64(bp.limiter.Limit()), bp.limiter.Burst())
	}
	return bp
}

func (bp *baseProvider) Name() string {
	return bp.inner.Name()
}

func (bp *baseProvider) wait(ctx context.Context) error {
	if bp.limiter == nil {
		return nil
	}
	return bp.limiter.Wait(ctx)
}

func (bp *baseProvider) Translate(ctx context.Context, req Request) (text string, err error) {
	if bp.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, bp.timeout)
		defer cancel()
	}

	name := bp.Name()
	bp.logger.Trace("waiting for limiter")
	metrics.MetricTranslationTasks.WithLabelValues(taskStatePending, name).Inc()
	err = bp.wait(ctx)
	metrics.MetricTranslationTasks.WithLabelValues(taskStatePending, name).Dec()
	if err != nil {
		return "", errs.Wrap(errs.KindCanceled, "rate limiter wait failed", err)
	}

	metrics.MetricTranslationTasks.WithLabelValues(taskStateProcessing, name).Inc()
	defer metrics.MetricTranslationTasks.WithLabelValues(taskStateProcessing, name).Dec()

	text, err = bp.inner.Translate(ctx, req)
	if err != nil {
		metrics.MetricTranslationTasks.WithLabelValues(taskStateFailed, name).Inc()
		return "", err
	}
	metrics.MetricTranslationTasks.WithLabelValues(taskStateSuccess, name).Inc()
	return text, nil
}
