// Package translate is the orchestration layer: cache-first lookup, request
// coalescing, retry with adaptive cooldown, and store-on-success.
package translate

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/pemistahl/lingua-go"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/babelloop/babelloop/internal/errs"
	"github.com/babelloop/babelloop/internal/localservice"
	"github.com/babelloop/babelloop/internal/memory"
	"github.com/babelloop/babelloop/internal/metrics"
	"github.com/babelloop/babelloop/internal/provider"
	"github.com/babelloop/babelloop/internal/ratelimit"
	"github.com/babelloop/babelloop/internal/result"
	"github.com/babelloop/babelloop/internal/retry"
)

// Config aggregates the orchestrator's moving parts.
type Config struct {
	Provider   provider.Config      `yaml:"provider"`
	Retry      retry.Policy         `yaml:"retry"`
	Cooldown   ratelimit.Config     `yaml:"cooldown"`
	Memory     memory.Config        `yaml:"memory"`
	SourceLang SourceLanguageConfig `yaml:"source_lang"`
}

// SourceLanguageConfig bounds language detection to the languages the
// pipeline actually handles.
type SourceLanguageConfig struct {
	DetectLangs         []string `yaml:"detect_langs"`
	ConfidenceThreshold float64  `yaml:"confidence_threshold"`
}

func NewConfig() Config {
	return Config{
		Provider: provider.NewConfig(),
		Retry:    retry.NewPolicy(),
		Cooldown: ratelimit.NewConfig(),
		Memory:   memory.NewConfig(),
		SourceLang: SourceLanguageConfig{
			DetectLangs:         []string{"EN", "JA"},
			ConfidenceThreshold: 0.5,
		},
	}
}

// Translation is a single orchestrated result.
type Translation struct {
	Text       string  `json:"text"`
	Provider   string  `json:"provider"`
	FromCache  bool    `json:"from_cache"`
	FuzzyScore float64 `json:"fuzzy_score,omitempty"`
}

// Backtranslation carries both legs of a round trip.
type Backtranslation struct {
	Intermediate Translation `json:"intermediate"`
	Final        Translation `json:"final"`
}

// Service wires the provider behind the cache, the retry engine and the
// adaptive cooldown. Concurrent identical requests are coalesced so the
// provider sees each unique text once.
type Service struct {
	conf     Config
	provider provider.Provider
	engine   *retry.Engine
	cooldown *ratelimit.AdaptiveLimiter
	mem      *memory.Memory
	detector lingua.LanguageDetector
	group    singleflight.Group
	logger   *logrus.Entry
}

// NewService validates the config and assembles the pipeline. The local
// service client may be nil unless the provider kind is local.
func NewService(conf Config, local *localservice.Client) (s *Service, err error) {
	s = &Service{
		conf:   conf,
		logger: logrus.WithField("component", "translate"),
	}

	s.provider, err = provider.New(conf.Provider, local)
	if err != nil {
		return nil, err
	}
	s.engine, err = retry.NewEngine(conf.Retry)
	if err != nil {
		return nil, err
	}
	s.cooldown = ratelimit.NewAdaptiveLimiter(conf.Cooldown)
	s.mem = memory.New(conf.Memory)

	if len(conf.SourceLang.DetectLangs) == 0 {
		return nil, fmt.Errorf("no detect languages configured")
	}
	if conf.SourceLang.ConfidenceThreshold <= 0 || conf.SourceLang.ConfidenceThreshold > 1 {
		return nil, fmt.Errorf("confidence threshold must in 0-1")
	}

	allLanguages := map[string]lingua.Language{}
	availableLangs := []lingua.Language{}
	for _, l := range lingua.AllLanguages() {
		allLanguages[l.IsoCode639_1().String()] = l
	}
	for _, code := range conf.SourceLang.DetectLangs {
		if l, ok := allLanguages[code]; ok {
			availableLangs = append(availableLangs, l)
		} else {
			return nil, fmt.Errorf("unsupported language: %s", code)
		}
	}
	s.detector = lingua.NewLanguageDetectorBuilder().
		FromLanguages(availableLangs...).
		Build()

	s.logger.Infof("initialized with provider: %s, cache size: %d",
		s.provider.Name(), conf.Memory.CacheSize)
	return s, nil
}

// DetectLang attempts to detect the language of the given text.
// It returns the detected language (ISO 639-1 code), the confidence score,
// and an error if the detected language is not supported or confidence is
// too low.
func (s *Service) DetectLang(text string) (lang string, confidence float64, err error) {
	for _, cv := range s.detector.ComputeLanguageConfidenceValues(text) {
		l := cv.Language().IsoCode639_1().String()
		c := cv.Value()
		if c > confidence {
			lang = l
			confidence = c
		}
	}

	if !slices.Contains(s.conf.SourceLang.DetectLangs, lang) ||
		confidence < s.conf.SourceLang.ConfidenceThreshold {
		err = fmt.Errorf("supported language not detected")
	}
	return
}

// Translate resolves a request cache-first, then through the provider with
// retry. Successful provider results are stored back into the cache.
func (s *Service) Translate(ctx context.Context, text, sourceLang, targetLang string) (Translation, error) {
	if text == "" {
		return Translation{Provider: s.provider.Name()}, nil
	}

	logger := s.logger.WithFields(logrus.Fields{
		"source_lang": sourceLang,
		"target_lang": targetLang,
		"text_len":    len(text),
	})

	if translation, ok := s.mem.Lookup(text, targetLang); ok {
		logger.Debug("cache hit")
		return Translation{Text: translation, Provider: s.provider.Name(), FromCache: true}, nil
	}
	if translation, score, ok := s.mem.FuzzyLookup(text, targetLang); ok {
		logger.Debugf("fuzzy cache hit, similarity: %.3f", score)
		return Translation{
			Text:       translation,
			Provider:   s.provider.Name(),
			FromCache:  true,
			FuzzyScore: score,
		}, nil
	}

	key := sourceLang + "\x00" + targetLang + "\x00" + text
	v, err, shared := s.group.Do(key, func() (any, error) {
		return s.translateFresh(ctx, logger, text, sourceLang, targetLang)
	})
	if err != nil {
		return Translation{}, err
	}
	if shared {
		logger.Debug("coalesced with an in-flight identical request")
	}
	return v.(Translation), nil
}

func (s *Service) translateFresh(ctx context.Context, logger *logrus.Entry, text, sourceLang, targetLang string) (Translation, error) {
	// Detection is advisory: a confident mismatch is worth a warning, but
	// the declared source language still drives the request.
	if lang, confidence, err := s.DetectLang(text); err == nil && !strings.EqualFold(lang, sourceLang) {
		logger.Warnf("text looks like %s (confidence %.2f), not the declared source %s",
			strings.ToLower(lang), confidence, sourceLang)
	}

	op := func() result.Result[string] {
		if err := s.cooldown.Wait(ctx); err != nil {
			return result.Failure[string](err)
		}

		translated, err := s.provider.Translate(ctx, provider.Request{
			Text:       text,
			SourceLang: sourceLang,
			TargetLang: targetLang,
		})
		if err != nil {
			if errs.KindOf(err) == errs.KindRateLimited {
				hint, _ := errs.RetryAfterHint(err)
				s.cooldown.Failure(hint)
			}
			return result.Failure[string](err)
		}
		s.cooldown.Success()
		return result.Success(translated)
	}

	onRetry := func(msg string) {
		metrics.MetricRetryAttempts.WithLabelValues(s.provider.Name()).Inc()
		logger.Warn(msg)
	}

	res := retry.Do(ctx, s.engine, "translate", op, onRetry)
	if res.IsFailure() {
		logger.WithError(res.Err()).Error("translation failed")
		return Translation{}, res.Err()
	}

	translated := res.MustValue()
	s.mem.Store(text, targetLang, translated)
	logger.Debug("translated and cached")
	return Translation{Text: translated, Provider: s.provider.Name()}, nil
}

// Backtranslate runs text through the intermediate language and back,
// reusing the cache for each leg independently.
func (s *Service) Backtranslate(ctx context.Context, text, sourceLang, intermediateLang string) (Backtranslation, error) {
	intermediate, err := s.Translate(ctx, text, sourceLang, intermediateLang)
	if err != nil {
		return Backtranslation{}, err
	}
	final, err := s.Translate(ctx, intermediate.Text, intermediateLang, sourceLang)
	if err != nil {
		return Backtranslation{}, err
	}
	return Backtranslation{Intermediate: intermediate, Final: final}, nil
}

// Stats exposes cache effectiveness counters.
func (s *Service) Stats() memory.Stats {
	return s.mem.Stats()
}

// ClearCache drops all cached translations and persists the empty state.
func (s *Service) ClearCache() {
	s.mem.Clear()
}

// ProviderName reports which backend the service was built around.
func (s *Service) ProviderName() string {
	return s.provider.Name()
}
