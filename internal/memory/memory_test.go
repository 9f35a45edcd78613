package memory

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T, size int) Config {
	t.Helper()
	return Config{
		CacheSize:           size,
		PersistencePath:     filepath.Join(t.TempDir(), "tm_cache.json"),
		SimilarityThreshold: 0.8,
	}
}

func TestLookupExact(t *testing.T) {
	m := New(testConfig(t, 10))

	_, ok := m.Lookup("hello", "ja")
	assert.False(t, ok)

	m.Store("hello", "ja", "こんにちは")
	translation, ok := m.Lookup("hello", "ja")
	assert.True(t, ok)
	assert.Equal(t, "こんにちは", translation)

	// Same source, different target language is a distinct key.
	_, ok = m.Lookup("hello", "fr")
	assert.False(t, ok)
}

func TestStoreOverwrites(t *testing.T) {
	m := New(testConfig(t, 10))

	m.Store("hello", "ja", "old")
	m.Store("hello", "ja", "new")
	assert.Equal(t, 1, m.Len())

	translation, ok := m.Lookup("hello", "ja")
	assert.True(t, ok)
	assert.Equal(t, "new", translation)
}

func TestLRUEviction(t *testing.T) {
	m := New(testConfig(t, 2))

	m.Store("a", "ja", "A")
	m.Store("b", "ja", "B")

	// Touch "a" so "b" becomes the eviction candidate.
	_, ok := m.Lookup("a", "ja")
	require.True(t, ok)

	m.Store("c", "ja", "C")
	assert.Equal(t, 2, m.Len())

	_, ok = m.Lookup("b", "ja")
	assert.False(t, ok, "least recently used entry should be evicted")
	_, ok = m.Lookup("a", "ja")
	assert.True(t, ok)
	_, ok = m.Lookup("c", "ja")
	assert.True(t, ok)
}

func TestFuzzyLookup(t *testing.T) {
	m := New(testConfig(t, 10))
	m.Store("the quick brown fox jumps", "ja", "素早い茶色の狐")

	translation, score, ok := m.FuzzyLookup("the quick brown fox jumped", "ja")
	assert.True(t, ok)
	assert.Equal(t, "素早い茶色の狐", translation)
	assert.GreaterOrEqual(t, score, 0.8)

	// Entirely different text stays below the threshold.
	_, _, ok = m.FuzzyLookup("unrelated sentence about weather", "ja")
	assert.False(t, ok)

	// Similar text in another target language does not match.
	_, _, ok = m.FuzzyLookup("the quick brown fox jumped", "fr")
	assert.False(t, ok)
}

func TestPersistenceRoundTrip(t *testing.T) {
	conf := testConfig(t, 10)

	m := New(conf)
	m.Store("hello", "ja", "こんにちは")
	m.Store("bye", "ja", "さようなら")

	reloaded := New(conf)
	assert.Equal(t, 2, reloaded.Len())

	translation, ok := reloaded.Lookup("hello", "ja")
	assert.True(t, ok)
	assert.Equal(t, "こんにちは", translation)
}

func TestPersistedSnapshotShape(t *testing.T) {
	conf := testConfig(t, 10)
	m := New(conf)
	m.Store("hello", "ja", "こんにちは")

	data, err := os.ReadFile(conf.PersistencePath)
	require.NoError(t, err)

	var snap map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &snap))
	assert.Contains(t, snap, "config")
	assert.Contains(t, snap, "cache")
	assert.Contains(t, snap, "metrics")
}

func TestCorruptSnapshotStartsEmpty(t *testing.T) {
	conf := testConfig(t, 10)
	require.NoError(t, os.WriteFile(conf.PersistencePath, []byte("{nope"), 0o644))

	m := New(conf)
	assert.Equal(t, 0, m.Len())
}

func TestSnapshotConfigWins(t *testing.T) {
	conf := testConfig(t, 10)
	m := New(conf)
	m.Store("a", "ja", "A")
	m.Store("b", "ja", "B")
	m.Store("c", "ja", "C")

	// A snapshot written with a smaller max size bounds the reload.
	data, err := os.ReadFile(conf.PersistencePath)
	require.NoError(t, err)
	var snap snapshot
	require.NoError(t, json.Unmarshal(data, &snap))
	snap.Config.MaxSize = 2
	data, err = json.Marshal(snap)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(conf.PersistencePath, data, 0o644))

	reloaded := New(conf)
	assert.Equal(t, 2, reloaded.Len())
}

func TestStats(t *testing.T) {
	m := New(testConfig(t, 10))
	m.Store("hello", "ja", "こんにちは")

	m.Lookup("hello", "ja")
	m.Lookup("missing", "ja")

	s := m.Stats()
	assert.Equal(t, 1, s.Hits)
	assert.Equal(t, 1, s.Misses)
	assert.Equal(t, 2, s.TotalLookups)
	assert.InDelta(t, 0.5, s.HitRate, 0.001)
	assert.Equal(t, 1, s.CacheSize)
	assert.Equal(t, 10, s.MaxSize)
}

func TestClear(t *testing.T) {
	conf := testConfig(t, 10)
	m := New(conf)
	m.Store("hello", "ja", "こんにちは")
	m.Lookup("hello", "ja")

	m.Clear()
	assert.Equal(t, 0, m.Len())
	assert.Zero(t, m.Stats().TotalLookups)

	// The cleared state is what gets reloaded.
	reloaded := New(conf)
	assert.Equal(t, 0, reloaded.Len())
}
