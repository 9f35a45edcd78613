package errs

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Kind classifies a translation failure. The values double as wire codes in
// the local daemon's error envelope.
type Kind string

const (
	KindTimeout          Kind = "timeout"
	KindConnection       Kind = "connection_error"
	KindTLS              Kind = "tls_error"
	KindNetwork          Kind = "network_error"
	KindHTTP             Kind = "http_error"
	KindRateLimited      Kind = "rate_limited"
	KindBlocked          Kind = "blocked"
	KindInvalidResponse  Kind = "invalid_response"
	KindNoTranslation    Kind = "no_translation_found"
	KindModelUnavailable Kind = "model_unavailable"
	KindUser             Kind = "user_error"
	KindConfig           Kind = "config_error"
	KindMaxRetries       Kind = "max_retries_exceeded"
	KindCanceled         Kind = "canceled"
	KindServer           Kind = "server_error"
)

// Error is the single error type used across the orchestration core.
// Exactly one Kind is set; optional fields carry kind-specific detail.
type Error struct {
	Kind    Kind
	Message string

	// StatusCode is set for KindHTTP and KindRateLimited.
	StatusCode int
	// RetryAfter carries a server-supplied wait hint, zero when absent.
	RetryAfter time.Duration
	// Attempts is set for KindMaxRetries.
	Attempts int

	cause error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

func Timeout(message string) *Error {
	return New(KindTimeout, message)
}

func Connection(message string) *Error {
	return New(KindConnection, message)
}

func TLS(message string) *Error {
	return New(KindTLS, message)
}

func Network(message string) *Error {
	return New(KindNetwork, message)
}

// HTTP builds a generic HTTP failure. The body is truncated so log lines stay
// bounded even when the server returns a full error page.
func HTTP(statusCode int, body string) *Error {
	const maxBody = 200
	if len(body) > maxBody {
		body = body[:maxBody]
	}
	return &Error{
		Kind:       KindHTTP,
		Message:    fmt.Sprintf("HTTP %d: %s", statusCode, body),
		StatusCode: statusCode,
	}
}

func RateLimited(retryAfter time.Duration) *Error {
	return &Error{
		Kind:       KindRateLimited,
		Message:    "provider rate limited",
		StatusCode: http.StatusTooManyRequests,
		RetryAfter: retryAfter,
	}
}

func Blocked(message string) *Error {
	return New(KindBlocked, message)
}

func InvalidResponse(message string) *Error {
	return New(KindInvalidResponse, message)
}

func NoTranslation(message string) *Error {
	return New(KindNoTranslation, message)
}

func ModelUnavailable(message string) *Error {
	return New(KindModelUnavailable, message)
}

func User(message string) *Error {
	return New(KindUser, message)
}

func Config(message string) *Error {
	return New(KindConfig, message)
}

// MaxRetries marks retry-budget exhaustion. The last cause stays reachable
// through Unwrap so callers can still inspect what kept failing.
func MaxRetries(attempts int, lastCause error) *Error {
	return &Error{
		Kind:     KindMaxRetries,
		Message:  fmt.Sprintf("gave up after %d attempts", attempts),
		Attempts: attempts,
		cause:    lastCause,
	}
}

// KindFromWire maps a daemon error-envelope code back into the taxonomy.
// Unknown codes collapse to KindServer.
func KindFromWire(code string) Kind {
	switch k := Kind(code); k {
	case KindTimeout, KindConnection, KindTLS, KindNetwork, KindHTTP,
		KindRateLimited, KindBlocked, KindInvalidResponse, KindNoTranslation,
		KindModelUnavailable, KindUser, KindConfig, KindMaxRetries, KindCanceled:
		return k
	}
	return KindServer
}

// KindOf extracts the Kind of any error. Errors outside this taxonomy report
// KindServer, the catch-all for unexpected failures.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindServer
}

// AsError returns the taxonomy error wrapped anywhere in err's chain, or
// wraps err as a server error so callers always get a classified value.
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(KindServer, "unexpected error", err)
}

// RetryAfterHint reports a server-supplied wait hint carried by err, if any.
func RetryAfterHint(err error) (time.Duration, bool) {
	var e *Error
	if errors.As(err, &e) && e.RetryAfter > 0 {
		return e.RetryAfter, true
	}
	return 0, false
}

// Retryable reports whether retrying the failed operation could plausibly
// change the outcome. Blocked and user errors deterministically fail again.
func (k Kind) Retryable() bool {
	switch k {
	case KindTimeout, KindConnection, KindTLS, KindNetwork, KindRateLimited:
		return true
	}
	return false
}

// HTTPStatus maps a kind to the daemon's wire status code.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindUser, KindConfig:
		return http.StatusBadRequest
	case KindInvalidResponse:
		return http.StatusBadGateway
	case KindNetwork, KindModelUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// UserMessage renders a short, non-technical message for UI surfaces.
// Technical detail stays in logs.
func UserMessage(err error) string {
	switch KindOf(err) {
	case KindTimeout:
		return "The translation service took too long to respond."
	case KindConnection, KindNetwork, KindTLS:
		return "Could not reach the translation service. Check your connection."
	case KindRateLimited:
		return "Too many requests. Please wait a moment and try again."
	case KindBlocked:
		return "The translation service refused the request."
	case KindInvalidResponse, KindNoTranslation:
		return "The translation service returned an unusable answer."
	case KindModelUnavailable:
		return "Offline models are not installed."
	case KindUser:
		return "The request is invalid."
	case KindConfig:
		return "The translator is misconfigured."
	case KindMaxRetries:
		return "Translation failed after several attempts."
	default:
		return "Translation failed unexpectedly."
	}
}
