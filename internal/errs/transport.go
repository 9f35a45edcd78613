package errs

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"net/url"
)

// FromTransport classifies a network-level failure from an HTTP round trip
// into the taxonomy. The label names the peer for log readability.
func FromTransport(err error, label string) *Error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Wrap(KindTimeout, label+" request timed out", err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Wrap(KindTimeout, label+" request timed out", err)
	}
	if errors.Is(err, context.Canceled) {
		return Wrap(KindCanceled, label+" request canceled", err)
	}
	var certErr *tls.CertificateVerificationError
	if errors.As(err, &certErr) {
		return Wrap(KindTLS, label+" TLS certificate error", err)
	}
	var recordErr tls.RecordHeaderError
	if errors.As(err, &recordErr) {
		return Wrap(KindTLS, label+" TLS failure", err)
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return Wrap(KindConnection, "failed to connect to "+label, err)
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return Wrap(KindConnection, "failed to connect to "+label, err)
	}
	return Wrap(KindNetwork, label+" network error", err)
}
