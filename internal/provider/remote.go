package provider

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	cb "github.com/sony/gobreaker"

	"github.com/babelloop/babelloop/internal/errs"
	"github.com/babelloop/babelloop/internal/metrics"
)

// DefaultRemoteEndpoint is the unofficial public translate endpoint. It
// requires no credentials but is rate limited and may answer with captcha
// interstitials under load.
const DefaultRemoteEndpoint = "https://translate.googleapis.com/translate_a/single"

const maxResponseBody = 1 << 20

type remoteProvider struct {
	name     string
	endpoint string
	client   *http.Client
	breaker  *cb.CircuitBreaker
}

func newRemoteProvider(conf Config) (*remoteProvider, error) {
	endpoint := conf.Endpoint
	if endpoint == "" {
		endpoint = DefaultRemoteEndpoint
	}
	if _, err := url.Parse(endpoint); err != nil {
		return nil, errs.Wrap(errs.KindConfig, "invalid remote endpoint", err)
	}
	rp := &remoteProvider{
		name:     conf.name(),
		endpoint: endpoint,
		client:   &http.Client{},
	}
	rp.breaker = cb.NewCircuitBreaker(cb.Settings{
		Name:        rp.name,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts cb.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to cb.State) {
			logrus.WithField("provider_name", name).Warnf("circuit breaker %s -> %s", from, to)
			up := 1.0
			if to == cb.StateOpen {
				up = 0.0
			}
			metrics.MetricProviderUp.WithLabelValues(name).Set(up)
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			// Only infrastructure-shaped failures count toward tripping;
			// taxonomy errors like NoTranslationFound are the caller's
			// problem, not the endpoint's.
			switch errs.KindOf(err) {
			case errs.KindTimeout, errs.KindConnection, errs.KindTLS,
				errs.KindNetwork, errs.KindServer:
				return false
			}
			return true
		},
	})
	return rp, nil
}

func (rp *remoteProvider) Name() string {
	return rp.name
}

func (rp *remoteProvider) Translate(ctx context.Context, req Request) (string, error) {
	out, err := rp.breaker.Execute(func() (interface{}, error) {
		return rp.translate(ctx, req)
	})
	if err != nil {
		if errors.Is(err, cb.ErrOpenState) || errors.Is(err, cb.ErrTooManyRequests) {
			return "", errs.Wrap(errs.KindNetwork, "provider circuit open", err)
		}
		return "", err
	}
	return out.(string), nil
}

func (rp *remoteProvider) translate(ctx context.Context, req Request) (string, error) {
	u, err := url.Parse(rp.endpoint)
	if err != nil {
		return "", errs.Wrap(errs.KindConfig, "invalid remote endpoint", err)
	}
	q := url.Values{}
	q.Set("client", "gtx")
	q.Set("sl", req.SourceLang)
	q.Set("tl", req.TargetLang)
	q.Set("dt", "t")
	q.Set("q", req.Text)
	u.RawQuery = q.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", errs.Wrap(errs.KindConfig, "building translation request", err)
	}

	resp, err := rp.client.Do(httpReq)
	if err != nil {
		return "", errs.FromTransport(err, "remote provider")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return "", errs.FromTransport(err, "remote provider")
	}

	if err := classifyStatus(resp, body); err != nil {
		return "", err
	}
	return parseTranslation(body)
}

// classifyStatus maps non-success responses onto the error taxonomy.
func classifyStatus(resp *http.Response, body []byte) error {
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return errs.RateLimited(parseRetryAfter(resp.Header.Get("Retry-After")))
	case resp.StatusCode == http.StatusForbidden:
		return errs.Blocked("request blocked by provider (HTTP 403)")
	case resp.StatusCode >= 400:
		return errs.HTTP(resp.StatusCode, string(body))
	}
	if len(body) == 0 {
		return errs.InvalidResponse("empty response body")
	}
	lowered := strings.ToLower(string(body))
	if strings.Contains(lowered, "<html") || strings.Contains(lowered, "captcha") {
		return errs.Blocked("provider returned an interstitial page instead of a translation")
	}
	return nil
}

// parseRetryAfter accepts the two Retry-After encodings: delta seconds or an
// HTTP date. Unknown encodings yield zero, letting the caller's own backoff
// decide.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

// parseTranslation unpacks the endpoint's nested-array payload:
// [[["segment", "original", ...], ...], ...]. Segments are concatenated in
// order.
func parseTranslation(body []byte) (string, error) {
	var payload []json.RawMessage
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", errs.Wrap(errs.KindInvalidResponse, "malformed translation payload", err)
	}
	if len(payload) == 0 {
		return "", errs.NoTranslation("empty translation payload")
	}
	var sentences [][]json.RawMessage
	if err := json.Unmarshal(payload[0], &sentences); err != nil {
		return "", errs.Wrap(errs.KindInvalidResponse, "malformed sentence list", err)
	}
	var b strings.Builder
	for _, sentence := range sentences {
		if len(sentence) == 0 {
			continue
		}
		var segment string
		if err := json.Unmarshal(sentence[0], &segment); err != nil {
			continue
		}
		b.WriteString(segment)
	}
	if b.Len() == 0 {
		return "", errs.NoTranslation("no translation segments in response")
	}
	return b.String(), nil
}
