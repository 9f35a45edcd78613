package errs

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryable(t *testing.T) {
	retryable := []Kind{KindTimeout, KindConnection, KindTLS, KindNetwork, KindRateLimited}
	for _, k := range retryable {
		assert.True(t, k.Retryable(), "%s should be retryable", k)
	}

	terminal := []Kind{
		KindHTTP, KindBlocked, KindInvalidResponse, KindNoTranslation,
		KindModelUnavailable, KindUser, KindConfig, KindMaxRetries,
		KindCanceled, KindServer,
	}
	for _, k := range terminal {
		assert.False(t, k.Retryable(), "%s should not be retryable", k)
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		kind   Kind
		status int
	}{
		{KindUser, http.StatusBadRequest},
		{KindConfig, http.StatusBadRequest},
		{KindInvalidResponse, http.StatusBadGateway},
		{KindNetwork, http.StatusServiceUnavailable},
		{KindModelUnavailable, http.StatusServiceUnavailable},
		{KindTimeout, http.StatusInternalServerError},
		{KindServer, http.StatusInternalServerError},
		{KindNoTranslation, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			assert.Equal(t, tt.status, tt.kind.HTTPStatus())
		})
	}
}

func TestKindFromWire(t *testing.T) {
	assert.Equal(t, KindRateLimited, KindFromWire("rate_limited"))
	assert.Equal(t, KindUser, KindFromWire("user_error"))
	assert.Equal(t, KindServer, KindFromWire("surprise_code"))
	assert.Equal(t, KindServer, KindFromWire(""))
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindBlocked, KindOf(Blocked("nope")))
	assert.Equal(t, KindTimeout, KindOf(fmt.Errorf("outer: %w", Timeout("slow"))))
	assert.Equal(t, KindServer, KindOf(errors.New("plain")))
}

func TestAsError(t *testing.T) {
	orig := RateLimited(2 * time.Second)
	assert.Same(t, orig, AsError(fmt.Errorf("wrapped: %w", orig)))

	plain := AsError(errors.New("plain"))
	require.NotNil(t, plain)
	assert.Equal(t, KindServer, plain.Kind)
}

func TestHTTPTruncatesBody(t *testing.T) {
	err := HTTP(500, strings.Repeat("x", 5000))
	assert.Less(t, len(err.Message), 300)
	assert.Equal(t, 500, err.StatusCode)
}

func TestRetryAfterHint(t *testing.T) {
	hint, ok := RetryAfterHint(RateLimited(5 * time.Second))
	assert.True(t, ok)
	assert.Equal(t, 5*time.Second, hint)

	_, ok = RetryAfterHint(RateLimited(0))
	assert.False(t, ok)

	_, ok = RetryAfterHint(errors.New("plain"))
	assert.False(t, ok)
}

func TestMaxRetriesKeepsCause(t *testing.T) {
	cause := Timeout("upstream slow")
	err := MaxRetries(4, cause)
	assert.Equal(t, 4, err.Attempts)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "gave up after 4 attempts")
}

func TestUserMessageIsNonTechnical(t *testing.T) {
	msgs := map[Kind]error{
		KindTimeout:     Timeout("deadline"),
		KindRateLimited: RateLimited(time.Second),
		KindUser:        User("empty text"),
		KindServer:      errors.New("plain"),
	}
	for kind, err := range msgs {
		msg := UserMessage(err)
		assert.NotEmpty(t, msg, "kind %s", kind)
		assert.NotContains(t, msg, string(kind))
	}
}

type fakeTimeoutError struct{}

func (fakeTimeoutError) Error() string   { return "i/o timeout" }
func (fakeTimeoutError) Timeout() bool   { return true }
func (fakeTimeoutError) Temporary() bool { return false }

func TestFromTransport(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind Kind
	}{
		{"net timeout", fakeTimeoutError{}, KindTimeout},
		{"deadline", context.DeadlineExceeded, KindTimeout},
		{"canceled", context.Canceled, KindCanceled},
		{"url error", &url.Error{Op: "Get", URL: "http://x", Err: errors.New("refused")}, KindConnection},
		{"unknown", errors.New("mystery"), KindNetwork},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			classified := FromTransport(tt.err, "test peer")
			assert.Equal(t, tt.kind, classified.Kind)
			assert.ErrorIs(t, classified, tt.err)
		})
	}
}
