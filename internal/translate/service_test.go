package translate

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/babelloop/babelloop/internal/errs"
	"github.com/babelloop/babelloop/internal/provider"
)

// remoteStub mimics the unofficial endpoint: echoes the text as the only
// translation segment, counting calls.
func remoteStub(t *testing.T, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(`[[["translated:` + r.URL.Query().Get("q") + `","orig",null,null,10]],null,"en"]`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T, endpoint string) Config {
	t.Helper()
	conf := NewConfig()
	conf.Provider.Kind = provider.KindRemote
	conf.Provider.Name = "stub"
	conf.Provider.Endpoint = endpoint
	conf.Retry.MaxAttempts = 3
	conf.Retry.InitialDelay = time.Millisecond
	conf.Retry.MaxDelay = 5 * time.Millisecond
	conf.Retry.JitterRange = 0
	conf.Cooldown.InitialDelay = time.Millisecond
	conf.Cooldown.MaxDelay = 5 * time.Millisecond
	conf.Cooldown.Jitter = 0
	conf.Memory.PersistencePath = filepath.Join(t.TempDir(), "tm_cache.json")
	return conf
}

func newTestService(t *testing.T, endpoint string) *Service {
	t.Helper()
	svc, err := NewService(testConfig(t, endpoint), nil)
	require.NoError(t, err)
	return svc
}

func TestTranslateStoresAndServesFromCache(t *testing.T) {
	var calls atomic.Int32
	srv := remoteStub(t, &calls)
	svc := newTestService(t, srv.URL)

	first, err := svc.Translate(context.Background(), "hello", "en", "ja")
	require.NoError(t, err)
	assert.Equal(t, "translated:hello", first.Text)
	assert.False(t, first.FromCache)
	assert.Equal(t, int32(1), calls.Load())

	second, err := svc.Translate(context.Background(), "hello", "en", "ja")
	require.NoError(t, err)
	assert.Equal(t, first.Text, second.Text)
	assert.True(t, second.FromCache)
	assert.Equal(t, int32(1), calls.Load(), "cache hit must not touch the provider")
}

func TestTranslateFuzzyCacheHit(t *testing.T) {
	var calls atomic.Int32
	srv := remoteStub(t, &calls)
	svc := newTestService(t, srv.URL)

	_, err := svc.Translate(context.Background(), "the quick brown fox jumps", "en", "ja")
	require.NoError(t, err)

	res, err := svc.Translate(context.Background(), "the quick brown fox jumped", "en", "ja")
	require.NoError(t, err)
	assert.True(t, res.FromCache)
	assert.GreaterOrEqual(t, res.FuzzyScore, 0.8)
	assert.Equal(t, int32(1), calls.Load())
}

func TestTranslateEmptyTextIsTrivial(t *testing.T) {
	var calls atomic.Int32
	srv := remoteStub(t, &calls)
	svc := newTestService(t, srv.URL)

	res, err := svc.Translate(context.Background(), "", "en", "ja")
	require.NoError(t, err)
	assert.Empty(t, res.Text)
	assert.Zero(t, calls.Load())
}

func TestTranslateRecoversFromTransientRateLimit(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`[[["ok","orig",null,null,10]],null,"en"]`))
	}))
	t.Cleanup(srv.Close)
	svc := newTestService(t, srv.URL)

	res, err := svc.Translate(context.Background(), "hello", "en", "ja")
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Text)
	assert.Equal(t, int32(2), calls.Load())
}

func TestTranslateExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	t.Cleanup(srv.Close)
	svc := newTestService(t, srv.URL)

	_, err := svc.Translate(context.Background(), "hello", "en", "ja")
	require.Error(t, err)
	assert.Equal(t, errs.KindMaxRetries, errs.KindOf(err))
	assert.Equal(t, int32(3), calls.Load())
}

func TestTranslateFailsFastOnBlocked(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	t.Cleanup(srv.Close)
	svc := newTestService(t, srv.URL)

	_, err := svc.Translate(context.Background(), "hello", "en", "ja")
	require.Error(t, err)
	assert.Equal(t, errs.KindBlocked, errs.KindOf(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestBacktranslate(t *testing.T) {
	var calls atomic.Int32
	srv := remoteStub(t, &calls)
	svc := newTestService(t, srv.URL)

	res, err := svc.Backtranslate(context.Background(), "hello", "en", "ja")
	require.NoError(t, err)
	assert.Equal(t, "translated:hello", res.Intermediate.Text)
	assert.Equal(t, "translated:translated:hello", res.Final.Text)
	assert.Equal(t, int32(2), calls.Load())

	// Both legs are now cached.
	again, err := svc.Backtranslate(context.Background(), "hello", "en", "ja")
	require.NoError(t, err)
	assert.True(t, again.Intermediate.FromCache)
	assert.True(t, again.Final.FromCache)
	assert.Equal(t, int32(2), calls.Load())
}

func TestDetectLang(t *testing.T) {
	var calls atomic.Int32
	srv := remoteStub(t, &calls)
	svc := newTestService(t, srv.URL)

	lang, confidence, err := svc.DetectLang("this is quite clearly an English sentence about nothing")
	require.NoError(t, err)
	assert.Equal(t, "EN", lang)
	assert.Greater(t, confidence, 0.5)

	lang, _, err = svc.DetectLang("これは日本語の文章です")
	require.NoError(t, err)
	assert.Equal(t, "JA", lang)
}

func TestNewServiceValidation(t *testing.T) {
	conf := testConfig(t, "http://127.0.0.1:1")
	conf.SourceLang.DetectLangs = nil
	_, err := NewService(conf, nil)
	assert.Error(t, err)

	conf = testConfig(t, "http://127.0.0.1:1")
	conf.SourceLang.ConfidenceThreshold = 2
	_, err = NewService(conf, nil)
	assert.Error(t, err)

	conf = testConfig(t, "http://127.0.0.1:1")
	conf.SourceLang.DetectLangs = []string{"XX"}
	_, err = NewService(conf, nil)
	assert.Error(t, err)

	conf = testConfig(t, "http://127.0.0.1:1")
	conf.Provider.Kind = provider.KindLocal
	_, err = NewService(conf, nil)
	assert.Error(t, err, "local provider requires a client")
}

func TestStats(t *testing.T) {
	var calls atomic.Int32
	srv := remoteStub(t, &calls)
	svc := newTestService(t, srv.URL)

	_, err := svc.Translate(context.Background(), "hello", "en", "ja")
	require.NoError(t, err)
	_, err = svc.Translate(context.Background(), "hello", "en", "ja")
	require.NoError(t, err)

	stats := svc.Stats()
	assert.Equal(t, 1, stats.Hits)
	assert.Equal(t, 1, stats.CacheSize)
}
