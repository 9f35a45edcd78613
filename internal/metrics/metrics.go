package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

const (
	namespace = "babelloop"
)

type MetricConfig struct {
	Listen string `yaml:"listen"`
}

var (
	// States: "pending" (waiting for rate limiter),
	//         "processing" (waiting for provider response),
	//         "success" (translation and parsing successful),
	//         "failed" (any step in translation failed).
	MetricTranslationTasks = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "translation_tasks_total",
			Help:      "Total number of translation tasks, by state.",
		},
		[]string{"state", "provider_name"},
	)

	// Results: "hit" (exact key match), "fuzzy_hit" (similarity match above
	// threshold), "miss" (no usable entry).
	MetricCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Translation memory lookups, by result.",
		},
		[]string{"result"},
	)

	MetricCacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cache_entries",
			Help:      "Current number of entries in the translation memory.",
		},
	)

	MetricRetryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retry_attempts_total",
			Help:      "Retried provider calls, by provider.",
		},
		[]string{"provider_name"},
	)

	// Gauge for provider up status.
	// Value is 1 if the provider is usable, 0 if its breaker is open.
	MetricProviderUp = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "provider_up",
			Help:      "Indicates if a provider is currently usable. 1 for up, 0 for tripped.",
		},
		[]string{"provider_name"},
	)
)

func InitMetricServer(conf MetricConfig) {
	if conf.Listen == "" {
		return
	}
	go func() {
		http.Handle("/metrics", promhttp.Handler())
		logrus.Infof("Metrics server listening on %s", conf.Listen)
		if err := http.ListenAndServe(conf.Listen, nil); err != nil {
			logrus.Fatalf("Failed to start metrics server: %v", err)
		}
	}()
}
