// Package memory implements the translation memory: a bounded LRU cache
// keyed by (source text, target language) with fuzzy fallback lookup and a
// JSON snapshot persisted after every mutation.
package memory

import (
	"container/list"
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/adrg/strutil"
	smetrics "github.com/adrg/strutil/metrics"
	"github.com/sirupsen/logrus"

	"github.com/babelloop/babelloop/internal/metrics"
)

type Config struct {
	CacheSize           int     `yaml:"cache_size"`
	PersistencePath     string  `yaml:"persistence_path"`
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
}

func NewConfig() Config {
	return Config{
		CacheSize:           1000,
		PersistencePath:     "tm_cache.json",
		SimilarityThreshold: 0.8,
	}
}

// Entry is one remembered translation. AccessTime orders entries when a
// snapshot is reloaded.
type Entry struct {
	Source      string    `json:"source"`
	Translation string    `json:"translation"`
	TargetLang  string    `json:"target_lang"`
	AccessTime  time.Time `json:"access_time"`
}

// Metrics counts lookup outcomes. TotalTime is cumulative lookup seconds.
type Metrics struct {
	Hits         int     `json:"hits"`
	Misses       int     `json:"misses"`
	FuzzyHits    int     `json:"fuzzy_hits"`
	TotalLookups int     `json:"total_lookups"`
	TotalTime    float64 `json:"total_time"`
}

// Stats is the derived snapshot returned to callers.
type Stats struct {
	Metrics
	HitRate       float64 `json:"hit_rate"`
	AvgLookupTime float64 `json:"avg_lookup_time"`
	CacheSize     int     `json:"cache_size"`
	MaxSize       int     `json:"max_size"`
}

type snapshot struct {
	Config struct {
		MaxSize   int     `json:"max_size"`
		Threshold float64 `json:"threshold"`
	} `json:"config"`
	Cache   []Entry `json:"cache"`
	Metrics Metrics `json:"metrics"`
}

// Memory is safe for concurrent use. The on-disk snapshot is single-writer
// from this process's perspective; a second process writing the same file
// concurrently is not defended against.
type Memory struct {
	conf   Config
	logger *logrus.Entry
	lev    *smetrics.Levenshtein

	mu      sync.Mutex
	entries map[string]*list.Element
	lru     *list.List // front = most recently used
	metrics Metrics
}

// New loads the persisted snapshot when present. A missing or corrupt file
// is an empty cache, never a fatal error.
func New(conf Config) *Memory {
	m := &Memory{
		conf:    conf,
		logger:  logrus.WithField("component", "memory"),
		lev:     smetrics.NewLevenshtein(),
		entries: make(map[string]*list.Element),
		lru:     list.New(),
	}
	m.load()
	return m
}

func key(source, targetLang string) string {
	return source + ":" + targetLang
}

// Lookup returns the translation for an exact (source, targetLang) key and
// marks the entry most recently used.
func (m *Memory) Lookup(source, targetLang string) (translation string, ok bool) {
	start := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	defer func() { m.finishLookup(start) }()

	elem, exists := m.entries[key(source, targetLang)]
	if !exists {
		m.metrics.Misses++
		metrics.MetricCacheLookups.WithLabelValues("miss").Inc()
		return "", false
	}
	m.lru.MoveToFront(elem)
	entry := elem.Value.(*Entry)
	entry.AccessTime = time.Now()
	m.metrics.Hits++
	metrics.MetricCacheLookups.WithLabelValues("hit").Inc()
	return entry.Translation, true
}

// FuzzyLookup scans entries sharing the target language and returns the
// highest-scoring translation whose normalized similarity meets the
// threshold. Ties break toward the entry reached first in cache order; the
// threshold is a quality gate, not an exactness guarantee.
func (m *Memory) FuzzyLookup(source, targetLang string) (translation string, score float64, ok bool) {
	start := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	defer func() { m.finishLookup(start) }()

	var best *Entry
	var bestScore float64
	for elem := m.lru.Front(); elem != nil; elem = elem.Next() {
		entry := elem.Value.(*Entry)
		if entry.TargetLang != targetLang {
			continue
		}
		s := strutil.Similarity(source, entry.Source, m.lev)
		if s > bestScore && s >= m.conf.SimilarityThreshold {
			bestScore = s
			best = entry
		}
	}
	if best == nil {
		m.metrics.Misses++
		metrics.MetricCacheLookups.WithLabelValues("miss").Inc()
		return "", 0, false
	}
	m.metrics.FuzzyHits++
	metrics.MetricCacheLookups.WithLabelValues("fuzzy_hit").Inc()
	return best.Translation, bestScore, true
}

// Store inserts or overwrites the entry, marks it most recently used, evicts
// the least-recently-used entry when capacity is exceeded, and persists.
func (m *Memory) Store(source, targetLang, translation string) {
	m.mu.Lock()
	k := key(source, targetLang)
	if elem, exists := m.entries[k]; exists {
		entry := elem.Value.(*Entry)
		entry.Translation = translation
		entry.AccessTime = time.Now()
		m.lru.MoveToFront(elem)
	} else {
		entry := &Entry{
			Source:      source,
			Translation: translation,
			TargetLang:  targetLang,
			AccessTime:  time.Now(),
		}
		m.entries[k] = m.lru.PushFront(entry)
	}
	for m.lru.Len() > m.conf.CacheSize {
		oldest := m.lru.Back()
		if oldest == nil {
			break
		}
		evicted := oldest.Value.(*Entry)
		m.lru.Remove(oldest)
		delete(m.entries, key(evicted.Source, evicted.TargetLang))
		m.logger.Debugf("evicted LRU entry for target %s", evicted.TargetLang)
	}
	metrics.MetricCacheEntries.Set(float64(m.lru.Len()))
	m.persistLocked()
	m.mu.Unlock()
}

// Len reports the current entry count.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lru.Len()
}

func (m *Memory) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := Stats{
		Metrics:   m.metrics,
		CacheSize: m.lru.Len(),
		MaxSize:   m.conf.CacheSize,
	}
	if m.metrics.TotalLookups > 0 {
		s.HitRate = float64(m.metrics.Hits+m.metrics.FuzzyHits) / float64(m.metrics.TotalLookups)
		s.AvgLookupTime = m.metrics.TotalTime / float64(m.metrics.TotalLookups)
	}
	return s
}

// Clear drops all entries and lookup counters, then persists the empty
// snapshot.
func (m *Memory) Clear() {
	m.mu.Lock()
	m.entries = make(map[string]*list.Element)
	m.lru.Init()
	m.metrics = Metrics{}
	metrics.MetricCacheEntries.Set(0)
	m.persistLocked()
	m.mu.Unlock()
}

func (m *Memory) finishLookup(start time.Time) {
	m.metrics.TotalLookups++
	m.metrics.TotalTime += time.Since(start).Seconds()
}

// persistLocked writes the full snapshot. Persistence is best effort: a
// write failure loses durability, not correctness.
func (m *Memory) persistLocked() {
	if m.conf.PersistencePath == "" {
		return
	}
	var snap snapshot
	snap.Config.MaxSize = m.conf.CacheSize
	snap.Config.Threshold = m.conf.SimilarityThreshold
	snap.Cache = make([]Entry, 0, m.lru.Len())
	for elem := m.lru.Front(); elem != nil; elem = elem.Next() {
		snap.Cache = append(snap.Cache, *elem.Value.(*Entry))
	}
	snap.Metrics = m.metrics

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		m.logger.Warnf("failed to encode cache snapshot: %v", err)
		return
	}
	if err := os.WriteFile(m.conf.PersistencePath, data, 0o644); err != nil {
		m.logger.Warnf("failed to persist cache: %v", err)
	}
}

func (m *Memory) load() {
	if m.conf.PersistencePath == "" {
		return
	}
	data, err := os.ReadFile(m.conf.PersistencePath)
	if err != nil {
		if !os.IsNotExist(err) {
			m.logger.Warnf("failed to read cache file: %v", err)
		}
		return
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		m.logger.Warnf("corrupt cache file, starting empty: %v", err)
		return
	}
	if snap.Config.MaxSize > 0 {
		m.conf.CacheSize = snap.Config.MaxSize
	}
	if snap.Config.Threshold > 0 {
		m.conf.SimilarityThreshold = snap.Config.Threshold
	}
	// Snapshot order is most-recent first; PushBack preserves it.
	for i := range snap.Cache {
		entry := snap.Cache[i]
		k := key(entry.Source, entry.TargetLang)
		if _, dup := m.entries[k]; dup {
			continue
		}
		if m.lru.Len() >= m.conf.CacheSize {
			break
		}
		m.entries[k] = m.lru.PushBack(&entry)
	}
	m.metrics = snap.Metrics
	metrics.MetricCacheEntries.Set(float64(m.lru.Len()))
	m.logger.Infof("loaded %d cached translations from %s", m.lru.Len(), m.conf.PersistencePath)
}
